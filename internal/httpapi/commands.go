package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/repo"
)

type createCommandReq struct {
	Identity       string           `json:"identity" validate:"required"`
	Command        ocpp.CommandKind `json:"command" validate:"required,oneof=reset unlock_connector remote_start remote_stop change_availability get_configuration change_configuration trigger_message"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty" validate:"max=128"`
	Params         json.RawMessage  `json:"params,omitempty"`
}

// CreateAndSendCommand validates an operator command, records it and hands it
// to the station. Replays with a known idempotency key return the first
// attempt without sending again.
func (s *Server) CreateAndSendCommand(w http.ResponseWriter, r *http.Request) {
	var req createCommandReq
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := wire.Validator().Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := ocpp.ParseCommandParams(req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.Commands != nil && req.IdempotencyKey != "" {
		existing, err := s.Commands.GetByIdempotency(r.Context(), req.IdempotencyKey)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"commandId": existing.CommandID,
				"status":    existing.Status,
				"messageId": existing.MessageID,
				"error":     existing.Error,
			})
			return
		}
	}

	var cmdID string
	if s.Commands != nil {
		payload, _ := json.Marshal(params)
		cmdID, err = s.Commands.Create(r.Context(), models.Command{
			StationIdentity: req.Identity,
			Type:            string(req.Command),
			IdempotencyKey:  req.IdempotencyKey,
			PayloadJSON:     payload,
			Status:          repo.CommandPending,
		})
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
	}

	sent, err := s.Router.SendCommand(r.Context(), req.Identity, req.Command, params)
	if err != nil {
		if cmdID != "" {
			if mErr := s.Commands.MarkFailed(r.Context(), cmdID, err.Error()); mErr != nil {
				log.WithError(mErr).WithField("command", cmdID).Warn("httpapi: failed to mark command failed")
			}
		}
		http.Error(w, err.Error(), commandStatus(err))
		return
	}
	if cmdID != "" {
		if err := s.Commands.MarkSent(r.Context(), cmdID, sent.MessageID); err != nil {
			log.WithError(err).WithField("command", cmdID).Warn("httpapi: failed to mark command sent")
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"commandId": cmdID,
		"status":    repo.CommandSent,
		"messageId": sent.MessageID,
		"action":    sent.Action,
		"payload":   sent.Payload,
	})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, ocpp.ErrStationOffline):
		return http.StatusNotFound
	case errors.Is(err, ocpp.ErrUnknownCommand), errors.Is(err, wire.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ocpp.ErrTransactionUnknown):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
