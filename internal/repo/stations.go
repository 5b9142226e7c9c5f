package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/models"
)

type StationsRepo struct{ db *pgxpool.Pool }

func NewStationsRepo(db *pgxpool.Pool) *StationsRepo { return &StationsRepo{db: db} }

const stationColumns = `station_id, identity, owner_id, password_hash, is_active, vendor, model, serial_number,
	firmware_version, ocpp_version, created_at, updated_at, last_seen_at`

func (r *StationsRepo) Upsert(ctx context.Context, s models.Station) (string, error) {
	row := r.db.QueryRow(ctx, `
		insert into stations (identity, owner_id, password_hash, is_active, vendor, model)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (identity) do update set
		  owner_id=excluded.owner_id,
		  password_hash=excluded.password_hash,
		  is_active=excluded.is_active,
		  vendor=excluded.vendor,
		  model=excluded.model,
		  updated_at=now()
		returning station_id
	`, s.Identity, s.OwnerID, s.PasswordHash, s.IsActive, s.Vendor, s.Model)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *StationsRepo) GetByIdentity(ctx context.Context, identity string) (*models.Station, error) {
	return r.get(ctx, `select `+stationColumns+` from stations where identity=$1`, identity)
}

func (r *StationsRepo) GetByID(ctx context.Context, stationID string) (*models.Station, error) {
	return r.get(ctx, `select `+stationColumns+` from stations where station_id=$1`, stationID)
}

func (r *StationsRepo) get(ctx context.Context, q string, arg string) (*models.Station, error) {
	var s models.Station
	err := r.db.QueryRow(ctx, q, arg).Scan(&s.StationID, &s.Identity, &s.OwnerID, &s.PasswordHash, &s.IsActive,
		&s.Vendor, &s.Model, &s.SerialNumber, &s.FirmwareVersion, &s.OcppVersion, &s.CreatedAt, &s.UpdatedAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpdateBootInfo keeps previously reported values for fields the station left empty.
func (r *StationsRepo) UpdateBootInfo(ctx context.Context, stationID string, info models.BootInfo, ocppVersion string) error {
	_, err := r.db.Exec(ctx, `
		update stations set
		  vendor=coalesce(nullif($2,''), vendor),
		  model=coalesce(nullif($3,''), model),
		  serial_number=coalesce(nullif($4,''), serial_number),
		  firmware_version=coalesce(nullif($5,''), firmware_version),
		  ocpp_version=$6,
		  updated_at=now()
		where station_id=$1
	`, stationID, info.Vendor, info.Model, info.SerialNumber, info.FirmwareVersion, ocppVersion)
	return err
}

func (r *StationsRepo) TouchLastSeen(ctx context.Context, stationID string, t time.Time) error {
	_, err := r.db.Exec(ctx, `update stations set last_seen_at=$2 where station_id=$1`, stationID, t)
	return err
}
