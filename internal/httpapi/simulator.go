package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/services"
	"github.com/zdex/evcpms/internal/simulator"
)

func validate(v any) error { return wire.Validator().Struct(v) }

func (s *Server) StartSimulation(w http.ResponseWriter, r *http.Request) {
	var req simulator.StartRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Simulator.Start(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), simulationStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) GetSimulation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Simulator.Get(chi.URLParam(r, "userId"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) StopSimulation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Simulator.Stop(chi.URLParam(r, "userId"))
	if err != nil {
		http.Error(w, err.Error(), simulationStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func simulationStatus(err error) int {
	switch {
	case errors.Is(err, simulator.ErrNotDemoAccount):
		return http.StatusForbidden
	case errors.Is(err, simulator.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, simulator.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, simulator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, simulator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrStationUnknown),
		errors.Is(err, services.ErrConnectorNotFound),
		errors.Is(err, services.ErrNoActiveTariff):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
