package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/services"
)

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Charging.Session(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListSessions returns the open sessions of one station. Only IN_PROGRESS is
// listed; settled sessions are read one by one.
//
// GET /v1/sessions?stationId=...&status=IN_PROGRESS
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("stationId")
	if stationID == "" {
		http.Error(w, "stationId is required", http.StatusBadRequest)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" && status != string(models.SessionInProgress) {
		http.Error(w, "only status IN_PROGRESS can be listed", http.StatusBadRequest)
		return
	}

	items, err := s.Charging.OpenSessions(r.Context(), stationID)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Session{}
	}
	writeJSON(w, http.StatusOK, items)
}

type finalizeReq struct {
	MeterStopWh *int64 `json:"meterStopWh,omitempty" validate:"omitempty,gte=0"`
	Reason      string `json:"reason,omitempty" validate:"max=64"`
}

const reconciledReason = "Reconciled"

// FinalizeSession settles a session whose station never reported the stop,
// e.g. after the engine restarted mid-transaction. Without a meter reading
// the last metered value is billed.
//
// POST /v1/sessions/{sessionId}/finalize
func (s *Server) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	var req finalizeReq
	raw, err := readAll(r, maxBody)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if err := validate(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = reconciledReason
	}

	sess, err := s.Charging.StopSession(r.Context(), services.StopRequest{
		SessionID:   chi.URLParam(r, "sessionId"),
		MeterStopWh: req.MeterStopWh,
		Timestamp:   clock.Now().UTC(),
		Reason:      req.Reason,
	})
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		http.NotFound(w, r)
	case errors.Is(err, services.ErrSessionCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, sess)
	}
}
