// Package ocpp routes station frames to the charging engine for both protocol
// dialects and builds the commands the engine sends back.
package ocpp

import (
	"context"
	"time"

	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/alerts"
	"github.com/zdex/evcpms/internal/correlation"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/registry"
	"github.com/zdex/evcpms/internal/services"
)

// MessageStore persists the raw protocol traffic.
type MessageStore interface {
	SaveMessage(ctx context.Context, m models.MessageLog) error
}

type Config struct {
	// HeartbeatInterval is what boot responses ask stations to use.
	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

type Router struct {
	registry *registry.Registry
	corr     *correlation.Table
	charging *services.ChargingService
	alerts   *alerts.Service
	messages MessageStore
	cfg      Config

	dialects map[wire.Version]map[wire.Action]handler
	remoteID remoteStartIDs
}

// request is one inbound CALL being handled.
type request struct {
	conn   *registry.Connection
	frame  wire.Frame
	logger *log.Entry
}

func (q *request) identity() string { return q.conn.Identity() }

// outcome is what a handler wants the router to do besides replying.
type outcome struct {
	payload   any
	stationID string
	heartbeat bool
	status    *statusReport
}

type statusReport struct {
	connector int
	status    string
	errorCode string
	// fault marks a report whose status alone is the error signal.
	fault bool
}

type handler func(ctx context.Context, q *request) (outcome, error)

func NewRouter(
	reg *registry.Registry,
	corr *correlation.Table,
	charging *services.ChargingService,
	alertSvc *alerts.Service,
	messages MessageStore,
	cfg Config,
) *Router {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	r := &Router{
		registry: reg,
		corr:     corr,
		charging: charging,
		alerts:   alertSvc,
		messages: messages,
		cfg:      cfg,
	}
	r.dialects = map[wire.Version]map[wire.Action]handler{
		wire.V16:  r.v16Handlers(),
		wire.V201: r.v201Handlers(),
	}
	return r
}

// Handle processes one inbound frame and writes the reply, if any, before
// returning. Frames of one connection must be handled sequentially.
func (r *Router) Handle(ctx context.Context, conn *registry.Connection, data []byte) {
	logger := log.WithField("identity", conn.Identity()).WithField("version", conn.Version())

	f, err := wire.Decode(data)
	if err != nil {
		logger.WithError(err).Warn("router: dropping malformed frame")
		return
	}

	r.registry.UpdateLastMessageTime(conn.Identity())
	r.record(ctx, conn.Identity(), models.DirectionInbound, f.Type, f.MessageID, f.Action, data)

	switch f.Type {
	case wire.CallResult:
		logger.WithField("messageId", f.MessageID).Debug("router: command result received")
		return
	case wire.CallError:
		logger.WithField("messageId", f.MessageID).
			WithField("code", f.ErrorCode).
			Warnf("router: command failed: %s", f.ErrorDescription)
		return
	}

	q := &request{conn: conn, frame: f, logger: logger.WithField("action", f.Action)}
	out, err := r.dispatch(ctx, q)

	var (
		reply     []byte
		replyType = wire.CallResult
	)
	if err != nil {
		replyType = wire.CallError
		code := wire.ErrInternalError
		if errors.Is(err, wire.ErrInvalidPayload) {
			code = wire.ErrFormationViolation
		}
		q.logger.WithError(err).Warn("router: rejecting request")
		reply, err = wire.EncodeError(f.MessageID, code, err.Error())
	} else {
		r.apply(ctx, q, out)
		reply, err = wire.EncodeResult(f.MessageID, out.payload)
	}
	if err != nil {
		q.logger.WithError(err).Error("router: failed to encode reply")
		return
	}

	if err := conn.Send(reply); err != nil {
		q.logger.WithError(err).Warn("router: failed to send reply")
		return
	}
	r.record(ctx, conn.Identity(), models.DirectionOutbound, replyType, f.MessageID, f.Action, reply)
}

func (r *Router) dispatch(ctx context.Context, q *request) (outcome, error) {
	h, ok := r.dialects[q.conn.Version()][wire.Action(q.frame.Action)]
	if !ok {
		return r.unknownAction(q), nil
	}
	return h(ctx, q)
}

// unknownAction answers anything the dialect does not define with an empty
// success so vendor extensions keep working.
func (r *Router) unknownAction(q *request) outcome {
	q.logger.Info("router: unknown action, replying with empty result")
	return outcome{}
}

// apply performs the registry and alert side effects of a handled request.
func (r *Router) apply(ctx context.Context, q *request, out outcome) {
	identity := q.identity()
	if out.stationID != "" {
		r.registry.BindStation(identity, out.stationID)
	}
	if out.heartbeat {
		r.registry.UpdateHeartbeat(identity)
	}
	if st := out.status; st != nil {
		r.registry.UpdateConnectorStatus(identity, st.connector, st.status)
		if r.alerts == nil {
			return
		}
		if st.fault {
			r.alerts.Raise(ctx, alerts.Event{
				Identity:        identity,
				Type:            models.AlertFault,
				ConnectorNumber: st.connector,
				ConnectorStatus: st.status,
				Message:         "connector reported Faulted",
			})
			return
		}
		r.alerts.StatusReported(ctx, identity, st.connector, st.status, st.errorCode)
	}
}

func (r *Router) record(ctx context.Context, identity string, dir models.Direction, typ wire.MessageType, messageID, action string, data []byte) {
	if r.messages == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	err := r.messages.SaveMessage(ctx, models.MessageLog{
		StationIdentity: identity,
		Direction:       dir,
		MessageType:     int(typ),
		MessageID:       messageID,
		Action:          action,
		Payload:         append([]byte(nil), data...),
		CreatedAt:       clock.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).WithField("identity", identity).Error("router: failed to persist message log")
	}
}

func (r *Router) raise(ctx context.Context, q *request, t models.AlertType, connector int, msg string) {
	if r.alerts == nil {
		return
	}
	r.alerts.Raise(ctx, alerts.Event{
		Identity:        q.identity(),
		Type:            t,
		ConnectorNumber: connector,
		Message:         msg,
	})
}

func (r *Router) heartbeatSeconds() int {
	return int(r.cfg.HeartbeatInterval / time.Second)
}
