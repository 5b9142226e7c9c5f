package storage

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:evcpms-audit.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	return &sqliteStore{baseStore{
		db:        db,
		textTimes: true,
		createTables: []string{
			`CREATE TABLE IF NOT EXISTS message_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts TEXT NOT NULL,
				station_identity TEXT NOT NULL,
				direction TEXT NOT NULL,
				message_type INTEGER NOT NULL,
				message_id TEXT NOT NULL,
				action TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_message_log_identity ON message_log(station_identity, id)`,
			`CREATE TABLE IF NOT EXISTS station_alerts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts TEXT NOT NULL,
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
