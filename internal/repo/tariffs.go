package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/models"
)

type TariffsRepo struct{ db *pgxpool.Pool }

func NewTariffsRepo(db *pgxpool.Pool) *TariffsRepo { return &TariffsRepo{db: db} }

const tariffColumns = `tariff_id, station_id, price_per_kwh::text, price_per_minute::text, session_fee::text,
	currency, is_active, created_at, updated_at`

// UpsertActiveForStation deactivates the station's current tariff and makes t
// the active one.
func (r *TariffsRepo) UpsertActiveForStation(ctx context.Context, t models.Tariff) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `update tariffs set is_active=false, updated_at=now() where station_id=$1 and is_active=true`, t.StationID); err != nil {
		return "", err
	}
	var id string
	err = tx.QueryRow(ctx, `
		insert into tariffs (station_id, price_per_kwh, price_per_minute, session_fee, currency, is_active)
		values ($1,$2::numeric,$3::numeric,$4::numeric,$5,true)
		returning tariff_id
	`, t.StationID, t.PricePerKwh.String(), t.PricePerMinute.String(), t.SessionFee.String(), t.Currency).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, tx.Commit(ctx)
}

func (r *TariffsRepo) GetActiveForStation(ctx context.Context, stationID string) (*models.Tariff, error) {
	return r.get(ctx, `
		select `+tariffColumns+`
		from tariffs
		where station_id=$1 and is_active=true
		order by created_at desc
		limit 1
	`, stationID)
}

func (r *TariffsRepo) Get(ctx context.Context, tariffID string) (*models.Tariff, error) {
	return r.get(ctx, `select `+tariffColumns+` from tariffs where tariff_id=$1`, tariffID)
}

func (r *TariffsRepo) get(ctx context.Context, q, arg string) (*models.Tariff, error) {
	var t models.Tariff
	err := r.db.QueryRow(ctx, q, arg).Scan(&t.TariffID, &t.StationID, &t.PricePerKwh, &t.PricePerMinute, &t.SessionFee,
		&t.Currency, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
