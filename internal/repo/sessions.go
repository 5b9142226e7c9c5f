package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
)

type SessionsRepo struct{ db *pgxpool.Pool }

func NewSessionsRepo(db *pgxpool.Pool) *SessionsRepo { return &SessionsRepo{db: db} }

const sessionColumns = `session_id, station_id, connector_id, connector_number, user_id, id_tag, tariff_id,
	transaction_ref, start_time, end_time, meter_start_wh, meter_end_wh, last_meter_wh,
	running_kwh::text, running_cost::text, kwh_consumed::text, energy_cost::text, time_cost::text,
	session_fee::text, total_cost::text, investor_share::text, platform_fee::text, currency, status, stop_reason,
	meter_start_pending`

func (r *SessionsRepo) Create(ctx context.Context, s models.Session) error {
	_, err := r.db.Exec(ctx, `
		insert into sessions (session_id, station_id, connector_id, connector_number, user_id, id_tag, tariff_id,
		  transaction_ref, start_time, meter_start_wh, last_meter_wh, currency, status, meter_start_pending)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, s.SessionID, s.StationID, s.ConnectorID, s.ConnectorNumber, s.UserID, s.IDTag, s.TariffID,
		s.TransactionRef, s.StartTime, s.MeterStartWh, s.LastMeterWh, s.Currency, string(s.Status), s.MeterStartPending)
	return err
}

func (r *SessionsRepo) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `select `+sessionColumns+` from sessions where session_id=$1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// UpdateRunning only touches sessions still in progress; a late meter sample
// never rewrites a settled session.
func (r *SessionsRepo) UpdateRunning(ctx context.Context, sessionID string, meterWh int64, kwh, cost decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		update sessions set last_meter_wh=$2, running_kwh=$3::numeric, running_cost=$4::numeric
		where session_id=$1 and status='IN_PROGRESS'
	`, sessionID, meterWh, kwh.String(), cost.String())
	return err
}

// SetMeterStart records the first reading of a session opened without one.
// It reports false when the start was already known or the session settled.
func (r *SessionsRepo) SetMeterStart(ctx context.Context, sessionID string, meterWh int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		update sessions set meter_start_wh=$2, last_meter_wh=greatest(last_meter_wh, $2), meter_start_pending=false
		where session_id=$1 and status='IN_PROGRESS' and meter_start_pending
	`, sessionID, meterWh)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionsRepo) Finalize(ctx context.Context, s models.Session) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		update sessions set
		  end_time=$2, meter_end_wh=$3, last_meter_wh=$4,
		  kwh_consumed=$5::numeric, energy_cost=$6::numeric, time_cost=$7::numeric, session_fee=$8::numeric,
		  total_cost=$9::numeric, investor_share=$10::numeric, platform_fee=$11::numeric,
		  currency=$12, status=$13, stop_reason=$14, meter_start_wh=$15, meter_start_pending=$16
		where session_id=$1 and status='IN_PROGRESS'
	`, s.SessionID, s.EndTime, s.MeterEndWh, s.LastMeterWh,
		s.KwhConsumed.String(), s.EnergyCost.String(), s.TimeCost.String(), s.SessionFee.String(),
		s.TotalCost.String(), s.InvestorShare.String(), s.PlatformFee.String(),
		s.Currency, string(s.Status), s.StopReason, s.MeterStartWh, s.MeterStartPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListInProgress returns open sessions of a station, oldest first.
func (r *SessionsRepo) ListInProgress(ctx context.Context, stationID string) ([]models.Session, error) {
	rows, err := r.db.Query(ctx, `
		select `+sessionColumns+`
		from sessions where station_id=$1 and status='IN_PROGRESS'
		order by start_time asc
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s      models.Session
		status string
	)
	err := row.Scan(&s.SessionID, &s.StationID, &s.ConnectorID, &s.ConnectorNumber, &s.UserID, &s.IDTag, &s.TariffID,
		&s.TransactionRef, &s.StartTime, &s.EndTime, &s.MeterStartWh, &s.MeterEndWh, &s.LastMeterWh,
		&s.RunningKwh, &s.RunningCost, &s.KwhConsumed, &s.EnergyCost, &s.TimeCost,
		&s.SessionFee, &s.TotalCost, &s.InvestorShare, &s.PlatformFee, &s.Currency, &status, &s.StopReason,
		&s.MeterStartPending)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}
