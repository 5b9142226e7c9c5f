// Package storage keeps the protocol audit trail: raw station traffic and
// station alerts. Domain records live in the repo package.
package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/models"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveMessage(ctx context.Context, m models.MessageLog) error
	SaveAlert(ctx context.Context, alert models.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	ListMessages(ctx context.Context, identity string, limit int) ([]models.MessageLog, error)
}

const (
	DefaultListLimit = 100
	maxListLimit     = 1000
)

func NewStore(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, errors.Errorf("unsupported storage driver %q", driver)
	}
}

// baseStore holds the queries both drivers share. Statements are written with
// ? placeholders and rebound per driver.
type baseStore struct {
	db           *sql.DB
	numbered     bool
	textTimes    bool
	createTables []string
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.createTables {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init storage")
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) rebind(q string) string {
	if !b.numbered {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) timeArg(t time.Time) any {
	if b.textTimes {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func (b *baseStore) SaveMessage(ctx context.Context, m models.MessageLog) error {
	payload := string(m.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO message_log (ts, station_identity, direction, message_type, message_id, action, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		b.timeArg(m.CreatedAt),
		m.StationIdentity,
		string(m.Direction),
		m.MessageType,
		m.MessageID,
		m.Action,
		payload,
	)
	return errors.Wrap(err, "save message")
}

func (b *baseStore) SaveAlert(ctx context.Context, a models.Alert) error {
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO station_alerts (ts, alert_type, severity, station_identity, station_id, owner_id, connector_number, error_code, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.timeArg(a.CreatedAt),
		string(a.Type),
		string(a.Severity),
		a.StationIdentity,
		a.StationID,
		a.OwnerID,
		a.ConnectorNumber,
		a.ErrorCode,
		a.Message,
	)
	return errors.Wrap(err, "save alert")
}

// ListAlerts returns the newest alerts first.
func (b *baseStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT id, ts, alert_type, severity, station_identity, station_id, owner_id, connector_number, error_code, message
		FROM station_alerts ORDER BY id DESC LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			a  models.Alert
			ts any
		)
		if err := rows.Scan(&a.ID, &ts, &a.Type, &a.Severity, &a.StationIdentity, &a.StationID, &a.OwnerID, &a.ConnectorNumber, &a.ErrorCode, &a.Message); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		if a.CreatedAt, err = scanTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list alerts")
}

// ListMessages returns the newest messages of a station first.
func (b *baseStore) ListMessages(ctx context.Context, identity string, limit int) ([]models.MessageLog, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT id, ts, station_identity, direction, message_type, message_id, action, payload
		FROM message_log WHERE station_identity = ? ORDER BY id DESC LIMIT ?`), identity, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []models.MessageLog
	for rows.Next() {
		var (
			m       models.MessageLog
			ts      any
			payload string
		)
		if err := rows.Scan(&m.ID, &ts, &m.StationIdentity, &m.Direction, &m.MessageType, &m.MessageID, &m.Action, &payload); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if m.CreatedAt, err = scanTime(ts); err != nil {
			return nil, err
		}
		m.Payload = []byte(payload)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "list messages")
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, errors.Errorf("unexpected timestamp type %T", v)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse timestamp")
	}
	return t.UTC(), nil
}
