package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/evcpms?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &postgresStore{baseStore{
		db:       db,
		numbered: true,
		createTables: []string{
			`CREATE TABLE IF NOT EXISTS message_log (
				id BIGSERIAL PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				station_identity TEXT NOT NULL,
				direction TEXT NOT NULL,
				message_type INTEGER NOT NULL,
				message_id TEXT NOT NULL,
				action TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_message_log_identity ON message_log(station_identity, id)`,
			`CREATE TABLE IF NOT EXISTS station_alerts (
				id BIGSERIAL PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				alert_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				station_identity TEXT NOT NULL,
				station_id TEXT NOT NULL DEFAULT '',
				owner_id TEXT NOT NULL DEFAULT '',
				connector_number INTEGER NOT NULL DEFAULT 0,
				error_code TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_station_alerts_identity ON station_alerts(station_identity, ts)`,
		},
	}}, nil
}
