package ocpp

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/services"
)

// Dialect-neutral steps shared by the 1.6 and 2.0.1 handlers.

func (r *Router) boot(ctx context.Context, q *request, info models.BootInfo) (accepted bool, stationID string) {
	res, err := r.charging.Boot(ctx, q.identity(), info, q.conn.Version().String())
	if err != nil {
		q.logger.WithError(err).Error("boot: station lookup failed, accepting")
	}
	r.registry.UpdateBootInfo(q.identity(), info)

	if !res.Accepted {
		r.raise(ctx, q, models.AlertBootRejected, 0, "boot rejected: station unknown or inactive")
		return false, ""
	}
	if res.Station != nil {
		stationID = res.Station.StationID
	}
	q.logger.WithField("station", stationID).Info("boot: accepted")
	return true, stationID
}

func (r *Router) heartbeat(ctx context.Context, q *request) {
	if err := r.charging.Heartbeat(ctx, q.conn.StationID()); err != nil {
		q.logger.WithError(err).Warn("heartbeat: failed to touch last seen")
	}
}

func (r *Router) authorize(ctx context.Context, q *request, tag string) services.AuthResult {
	res, err := r.charging.Authorize(ctx, tag)
	if err != nil {
		q.logger.WithError(err).Error("authorize: lookup failed")
	}
	return res
}

func (r *Router) reportStatus(ctx context.Context, q *request, connector int, status, errorCode string) {
	if err := r.charging.StatusReported(ctx, q.conn.StationID(), connector, status, errorCode); err != nil {
		q.logger.WithError(err).Warn("status: failed to persist connector status")
	}
}

// startSession opens a session and returns its status for the station.
func (r *Router) startSession(ctx context.Context, q *request, req services.StartRequest) (services.AuthStatus, error) {
	req.StationID = q.conn.StationID()
	sess, err := r.charging.StartSession(ctx, req)
	if err != nil {
		q.logger.WithError(err).WithField("connector", req.ConnectorNumber).Warn("start: rejected")
		r.raise(ctx, q, models.AlertTransactionError, req.ConnectorNumber, fmt.Sprintf("start rejected: %v", err))
		if errors.Is(err, services.ErrUserBlocked) {
			return services.AuthBlocked, err
		}
		return services.AuthInvalid, err
	}
	q.logger.WithField("session", sess.SessionID).WithField("transaction", req.TransactionRef).Info("start: session opened")
	return services.AuthAccepted, nil
}

func (r *Router) meter(ctx context.Context, q *request, reading services.MeterReading) {
	upd, err := r.charging.Meter(ctx, reading)
	if err != nil {
		q.logger.WithError(err).WithField("session", reading.SessionID).Warn("meter: reading not applied")
		return
	}
	if upd.Depleted {
		q.logger.WithField("session", reading.SessionID).Warn("meter: wallet depleted")
	}
}

// stopSession settles a session and raises TRANSACTION_ERROR when the stop is
// rejected.
func (r *Router) stopSession(ctx context.Context, q *request, req services.StopRequest) (*models.Session, error) {
	sess, err := r.charging.StopSession(ctx, req)
	if err != nil {
		q.logger.WithError(err).WithField("session", req.SessionID).Warn("stop: rejected")
		r.raise(ctx, q, models.AlertTransactionError, 0, fmt.Sprintf("stop rejected for session %s: %v", req.SessionID, err))
		return nil, err
	}
	return sess, nil
}

// settledOrGone reports whether a failed stop leaves nothing to retry.
func settledOrGone(err error) bool {
	return errors.Is(err, services.ErrSessionCompleted) || errors.Is(err, services.ErrSessionNotFound)
}
