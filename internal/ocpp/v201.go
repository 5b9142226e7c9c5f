package ocpp

import (
	"context"

	"github.com/google/uuid"
	"github.com/michalkurzeja/go-clock"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/v201"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/services"
)

func (r *Router) v201Handlers() map[wire.Action]handler {
	return map[wire.Action]handler{
		v201.ActionBootNotification:   r.v201Boot,
		v201.ActionHeartbeat:          r.v201Heartbeat,
		v201.ActionStatusNotification: r.v201Status,
		v201.ActionAuthorize:          r.v201Authorize,
		v201.ActionTransactionEvent:   r.v201TransactionEvent,
		v201.ActionMeterValues:        r.v201Meter,
		v201.ActionDataTransfer:       r.v201DataTransfer,
	}
}

func (r *Router) v201Boot(ctx context.Context, q *request) (outcome, error) {
	var req v201.BootNotificationRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	accepted, stationID := r.boot(ctx, q, models.BootInfo{
		Vendor:          req.ChargingStation.VendorName,
		Model:           req.ChargingStation.Model,
		SerialNumber:    req.ChargingStation.SerialNumber,
		FirmwareVersion: req.ChargingStation.FirmwareVersion,
	})

	status := v201.RegistrationAccepted
	if !accepted {
		status = v201.RegistrationRejected
	}
	return outcome{
		stationID: stationID,
		payload: v201.BootNotificationResponse{
			CurrentTime: clock.Now().UTC(),
			Interval:    r.heartbeatSeconds(),
			Status:      status,
		},
	}, nil
}

func (r *Router) v201Heartbeat(ctx context.Context, q *request) (outcome, error) {
	r.heartbeat(ctx, q)
	return outcome{
		heartbeat: true,
		payload:   v201.HeartbeatResponse{CurrentTime: clock.Now().UTC()},
	}, nil
}

// v201Status numbers connectors by EVSE id. 2.0.1 has no error code on status
// reports, so Faulted itself is the alert signal.
func (r *Router) v201Status(ctx context.Context, q *request) (outcome, error) {
	var req v201.StatusNotificationRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	r.reportStatus(ctx, q, req.EvseID, req.ConnectorStatus, "")
	return outcome{
		payload: v201.StatusNotificationResponse{},
		status: &statusReport{
			connector: req.EvseID,
			status:    req.ConnectorStatus,
			fault:     req.ConnectorStatus == v201.ConnectorFaulted,
		},
	}, nil
}

func (r *Router) v201Authorize(ctx context.Context, q *request) (outcome, error) {
	var req v201.AuthorizeRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	res := r.authorize(ctx, q, req.IDToken.IDToken)
	return outcome{payload: v201.AuthorizeResponse{
		IDTokenInfo: v201.IDTokenInfo{Status: string(res.Status), CacheExpiryDateTime: res.ExpiresAt},
	}}, nil
}

func (r *Router) v201TransactionEvent(ctx context.Context, q *request) (outcome, error) {
	var req v201.TransactionEventRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}

	var resp v201.TransactionEventResponse
	switch req.EventType {
	case v201.EventStarted:
		resp = r.v201Started(ctx, q, req)
	case v201.EventUpdated:
		r.v201Updated(ctx, q, req)
	case v201.EventEnded:
		resp = r.v201Ended(ctx, q, req)
	}
	return outcome{payload: resp}, nil
}

func (r *Router) v201Started(ctx context.Context, q *request, req v201.TransactionEventRequest) v201.TransactionEventResponse {
	key := req.TransactionInfo.TransactionID
	if _, ok := r.corr.LookupKey(q.identity(), key); ok {
		// Retransmitted Started event: the session already exists.
		q.logger.WithField("transaction", key).Info("start: duplicate started event")
		return v201.TransactionEventResponse{IDTokenInfo: &v201.IDTokenInfo{Status: string(services.AuthAccepted)}}
	}

	sessionID := uuid.NewString()
	r.corr.Bind(q.identity(), key, sessionID)

	tag := ""
	if req.IDToken != nil {
		tag = req.IDToken.IDToken
	}
	// meterValue is optional on Started; the first later sample stands in.
	meterStart, _, known := v201.FirstEnergyWh(req.MeterValue)

	status, err := r.startSession(ctx, q, services.StartRequest{
		SessionID:         sessionID,
		ConnectorNumber:   req.ConnectorNumber(),
		IDTag:             tag,
		MeterStartWh:      meterStart,
		MeterStartUnknown: !known,
		Timestamp:         req.Timestamp,
		TransactionRef:    key,
	})
	if err != nil {
		r.corr.ReleaseKey(q.identity(), key)
	}
	return v201.TransactionEventResponse{IDTokenInfo: &v201.IDTokenInfo{Status: string(status)}}
}

func (r *Router) v201Updated(ctx context.Context, q *request, req v201.TransactionEventRequest) {
	key := req.TransactionInfo.TransactionID
	sessionID, ok := r.corr.LookupKey(q.identity(), key)
	if !ok {
		q.logger.WithField("transaction", key).Warn("meter: unknown transaction")
		return
	}
	if wh, ts, ok := v201.LastEnergyWh(req.MeterValue); ok {
		first, _, _ := v201.FirstEnergyWh(req.MeterValue)
		r.meter(ctx, q, services.MeterReading{SessionID: sessionID, MeterWh: wh, BaselineWh: &first, Timestamp: ts})
	}
}

func (r *Router) v201Ended(ctx context.Context, q *request, req v201.TransactionEventRequest) v201.TransactionEventResponse {
	key := req.TransactionInfo.TransactionID
	rejected := v201.TransactionEventResponse{IDTokenInfo: &v201.IDTokenInfo{Status: string(services.AuthInvalid)}}

	sessionID, ok := r.corr.LookupKey(q.identity(), key)
	if !ok {
		q.logger.WithField("transaction", key).Warn("stop: unknown transaction")
		r.raise(ctx, q, models.AlertTransactionError, req.ConnectorNumber(), "stop for unknown transaction "+key)
		return rejected
	}

	stop := services.StopRequest{
		SessionID: sessionID,
		Timestamp: req.Timestamp,
		Reason:    req.TransactionInfo.StoppedReason,
	}
	if wh, _, ok := v201.LastEnergyWh(req.MeterValue); ok {
		first, _, _ := v201.FirstEnergyWh(req.MeterValue)
		stop.MeterStopWh, stop.MeterBaselineWh = &wh, &first
	}

	sess, err := r.stopSession(ctx, q, stop)
	if err != nil {
		if settledOrGone(err) {
			r.corr.ReleaseKey(q.identity(), key)
		}
		return rejected
	}
	r.corr.ReleaseKey(q.identity(), key)

	total := sess.TotalCost
	resp := v201.TransactionEventResponse{TotalCost: &total}
	if req.IDToken != nil {
		resp.IDTokenInfo = &v201.IDTokenInfo{Status: string(services.AuthAccepted)}
	}
	return resp
}

// v201Meter acknowledges MeterValues. 2.0.1 carries transaction samples in
// TransactionEvent, so these are station-level readings and are only logged.
func (r *Router) v201Meter(_ context.Context, q *request) (outcome, error) {
	var req v201.MeterValuesRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	if wh, _, ok := v201.LastEnergyWh(req.MeterValue); ok {
		q.logger.WithField("evse", req.EvseID).WithField("wh", wh).Debug("meter: station reading")
	}
	return outcome{payload: v201.MeterValuesResponse{}}, nil
}

func (r *Router) v201DataTransfer(_ context.Context, q *request) (outcome, error) {
	var req v201.DataTransferRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	q.logger.WithField("vendor", req.VendorID).WithField("messageId", req.MessageID).Info("data transfer received")
	return outcome{payload: v201.DataTransferResponse{Status: "Accepted"}}, nil
}
