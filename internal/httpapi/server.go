package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zdex/evcpms/internal/alerts"
	"github.com/zdex/evcpms/internal/config"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp"
	"github.com/zdex/evcpms/internal/registry"
	"github.com/zdex/evcpms/internal/services"
	"github.com/zdex/evcpms/internal/simulator"
)

type StationLookup interface {
	GetByIdentity(ctx context.Context, identity string) (*models.Station, error)
}

type AlertLister interface {
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// CommandAudit records operator commands. *repo.CommandsRepo implements it.
type CommandAudit interface {
	Create(ctx context.Context, c models.Command) (string, error)
	GetByIdempotency(ctx context.Context, idem string) (*models.Command, error)
	MarkSent(ctx context.Context, id, messageID string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type Server struct {
	Cfg       config.Config
	Registry  *registry.Registry
	Router    *ocpp.Router
	Charging  *services.ChargingService
	Alerts    *alerts.Service
	AlertLog  AlertLister
	Commands  CommandAudit
	Simulator *simulator.Simulator
	Stations  StationLookup
}

func NewServer(
	cfg config.Config,
	reg *registry.Registry,
	router *ocpp.Router,
	charging *services.ChargingService,
	alertSvc *alerts.Service,
	alertLog AlertLister,
	commands CommandAudit,
	sim *simulator.Simulator,
	stations StationLookup,
) *Server {
	return &Server{
		Cfg:       cfg,
		Registry:  reg,
		Router:    router,
		Charging:  charging,
		Alerts:    alertSvc,
		AlertLog:  alertLog,
		Commands:  commands,
		Simulator: sim,
		Stations:  stations,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/ocpp/{identity}", s.ServeOCPP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireBearer(s.Cfg.AdminToken))

		r.Get("/connections", s.ListConnections)
		r.Get("/connections/{identity}", s.GetConnection)

		r.Post("/commands", s.CreateAndSendCommand)

		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/{sessionId}", s.GetSession)
		r.Post("/sessions/{sessionId}/finalize", s.FinalizeSession)

		r.Get("/alerts", s.ListAlerts)

		r.Post("/simulator/sessions", s.StartSimulation)
		r.Get("/simulator/sessions/{userId}", s.GetSimulation)
		r.Post("/simulator/sessions/{userId}/stop", s.StopSimulation)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.ListAll())
}

func (s *Server) GetConnection(w http.ResponseWriter, r *http.Request) {
	info, ok := s.Registry.FindByIdentity(chi.URLParam(r, "identity"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	items, err := s.AlertLog.ListAlerts(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, items)
}
