package ocpp

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/michalkurzeja/go-clock"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/v16"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/services"
)

func (r *Router) v16Handlers() map[wire.Action]handler {
	return map[wire.Action]handler{
		v16.ActionBootNotification:   r.v16Boot,
		v16.ActionHeartbeat:          r.v16Heartbeat,
		v16.ActionStatusNotification: r.v16Status,
		v16.ActionAuthorize:          r.v16Authorize,
		v16.ActionStartTransaction:   r.v16Start,
		v16.ActionStopTransaction:    r.v16Stop,
		v16.ActionMeterValues:        r.v16Meter,
		v16.ActionDataTransfer:       r.v16DataTransfer,
	}
}

func (r *Router) v16Boot(ctx context.Context, q *request) (outcome, error) {
	var req v16.BootNotificationRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	serial := req.ChargePointSerialNumber
	if serial == "" {
		serial = req.ChargeBoxSerialNumber
	}
	accepted, stationID := r.boot(ctx, q, models.BootInfo{
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    serial,
		FirmwareVersion: req.FirmwareVersion,
	})

	status := v16.RegistrationAccepted
	if !accepted {
		status = v16.RegistrationRejected
	}
	return outcome{
		stationID: stationID,
		payload: v16.BootNotificationResponse{
			Status:      status,
			CurrentTime: clock.Now().UTC(),
			Interval:    r.heartbeatSeconds(),
		},
	}, nil
}

func (r *Router) v16Heartbeat(ctx context.Context, q *request) (outcome, error) {
	r.heartbeat(ctx, q)
	return outcome{
		heartbeat: true,
		payload:   v16.HeartbeatResponse{CurrentTime: clock.Now().UTC()},
	}, nil
}

func (r *Router) v16Status(ctx context.Context, q *request) (outcome, error) {
	var req v16.StatusNotificationRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	r.reportStatus(ctx, q, req.ConnectorID, req.Status, req.ErrorCode)
	return outcome{
		payload: v16.StatusNotificationResponse{},
		status:  &statusReport{connector: req.ConnectorID, status: req.Status, errorCode: req.ErrorCode},
	}, nil
}

func (r *Router) v16Authorize(ctx context.Context, q *request) (outcome, error) {
	var req v16.AuthorizeRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	res := r.authorize(ctx, q, req.IDTag)
	return outcome{payload: v16.AuthorizeResponse{
		IDTagInfo: v16.IDTagInfo{Status: string(res.Status), ExpiryDate: res.ExpiresAt},
	}}, nil
}

func (r *Router) v16Start(ctx context.Context, q *request) (outcome, error) {
	var req v16.StartTransactionRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}

	sessionID := uuid.NewString()
	txID := r.corr.Issue(q.identity(), sessionID)

	status, err := r.startSession(ctx, q, services.StartRequest{
		SessionID:       sessionID,
		ConnectorNumber: req.ConnectorID,
		IDTag:           req.IDTag,
		MeterStartWh:    req.MeterStart,
		Timestamp:       req.Timestamp,
		TransactionRef:  strconv.Itoa(txID),
	})
	if err != nil {
		r.corr.Release(q.identity(), txID)
	}
	return outcome{payload: v16.StartTransactionResponse{
		IDTagInfo:     v16.IDTagInfo{Status: string(status)},
		TransactionID: txID,
	}}, nil
}

func (r *Router) v16Stop(ctx context.Context, q *request) (outcome, error) {
	var req v16.StopTransactionRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}

	rejected := outcome{payload: v16.StopTransactionResponse{
		IDTagInfo: &v16.IDTagInfo{Status: string(services.AuthInvalid)},
	}}

	sessionID, ok := r.corr.Lookup(q.identity(), req.TransactionID)
	if !ok {
		q.logger.WithField("transaction", req.TransactionID).Warn("stop: unknown transaction")
		r.raise(ctx, q, models.AlertTransactionError, 0, "stop for unknown transaction "+strconv.Itoa(req.TransactionID))
		return rejected, nil
	}

	meterStop := req.MeterStop
	_, err := r.stopSession(ctx, q, services.StopRequest{
		SessionID:   sessionID,
		MeterStopWh: &meterStop,
		Timestamp:   req.Timestamp,
		Reason:      req.Reason,
	})
	if err != nil {
		if settledOrGone(err) {
			r.corr.Release(q.identity(), req.TransactionID)
		}
		return rejected, nil
	}
	r.corr.Release(q.identity(), req.TransactionID)

	resp := v16.StopTransactionResponse{}
	if req.IDTag != "" {
		resp.IDTagInfo = &v16.IDTagInfo{Status: string(services.AuthAccepted)}
	}
	return outcome{payload: resp}, nil
}

func (r *Router) v16Meter(ctx context.Context, q *request) (outcome, error) {
	var req v16.MeterValuesRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	if req.TransactionID == nil {
		return outcome{payload: v16.MeterValuesResponse{}}, nil
	}

	sessionID, ok := r.corr.Lookup(q.identity(), *req.TransactionID)
	if !ok {
		q.logger.WithField("transaction", *req.TransactionID).Warn("meter: unknown transaction")
		return outcome{payload: v16.MeterValuesResponse{}}, nil
	}
	if wh, ts, ok := v16.LastEnergyWh(req.MeterValue); ok {
		r.meter(ctx, q, services.MeterReading{SessionID: sessionID, MeterWh: wh, Timestamp: ts})
	}
	return outcome{payload: v16.MeterValuesResponse{}}, nil
}

func (r *Router) v16DataTransfer(_ context.Context, q *request) (outcome, error) {
	var req v16.DataTransferRequest
	if err := wire.DecodePayload(q.frame.Payload, &req); err != nil {
		return outcome{}, err
	}
	q.logger.WithField("vendor", req.VendorID).WithField("messageId", req.MessageID).Info("data transfer received")
	return outcome{payload: v16.DataTransferResponse{Status: "Accepted"}}, nil
}
