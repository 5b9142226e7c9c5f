package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/models"
)

type ConnectorsRepo struct{ db *pgxpool.Pool }

func NewConnectorsRepo(db *pgxpool.Pool) *ConnectorsRepo { return &ConnectorsRepo{db: db} }

func (r *ConnectorsRepo) Upsert(ctx context.Context, c models.Connector) error {
	_, err := r.db.Exec(ctx, `
		insert into connectors (station_id, number, power_kw)
		values ($1,$2,$3::numeric)
		on conflict (station_id, number) do update set
		  power_kw=excluded.power_kw,
		  updated_at=now()
	`, c.StationID, c.Number, c.PowerKw.String())
	return err
}

func (r *ConnectorsRepo) GetByNumber(ctx context.Context, stationID string, number int) (*models.Connector, error) {
	row := r.db.QueryRow(ctx, `
		select connector_id, station_id, number, power_kw::text, status, error_code, updated_at
		from connectors where station_id=$1 and number=$2
	`, stationID, number)

	var c models.Connector
	if err := row.Scan(&c.ConnectorID, &c.StationID, &c.Number, &c.PowerKw, &c.Status, &c.ErrorCode, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// UpdateStatus records the latest status. Connectors a station reports but
// nobody provisioned are created on the fly.
func (r *ConnectorsRepo) UpdateStatus(ctx context.Context, stationID string, number int, status, errorCode string) error {
	_, err := r.db.Exec(ctx, `
		insert into connectors (station_id, number, status, error_code, updated_at)
		values ($1,$2,$3,$4, now())
		on conflict (station_id, number) do update set
		  status=excluded.status,
		  error_code=excluded.error_code,
		  updated_at=now()
	`, stationID, number, status, errorCode)
	return err
}

func (r *ConnectorsRepo) List(ctx context.Context, stationID string) ([]models.Connector, error) {
	rows, err := r.db.Query(ctx, `
		select connector_id, station_id, number, power_kw::text, status, error_code, updated_at
		from connectors where station_id=$1
		order by number asc
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Connector
	for rows.Next() {
		var c models.Connector
		if err := rows.Scan(&c.ConnectorID, &c.StationID, &c.Number, &c.PowerKw, &c.Status, &c.ErrorCode, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
