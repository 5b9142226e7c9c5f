package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/alerts"
	"github.com/zdex/evcpms/internal/config"
	"github.com/zdex/evcpms/internal/correlation"
	"github.com/zdex/evcpms/internal/db"
	"github.com/zdex/evcpms/internal/httpapi"
	"github.com/zdex/evcpms/internal/logging"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/notify"
	"github.com/zdex/evcpms/internal/ocpp"
	"github.com/zdex/evcpms/internal/registry"
	"github.com/zdex/evcpms/internal/repo"
	"github.com/zdex/evcpms/internal/services"
	"github.com/zdex/evcpms/internal/simulator"
	"github.com/zdex/evcpms/internal/storage"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	d, err := db.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer d.Close()
	if err := d.Migrate(connectCtx); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}
	cancel()

	audit, err := storage.NewStore(cfg.StorageDriver, cfg.StorageDSN)
	if err != nil {
		log.WithError(err).Fatal("audit storage unavailable")
	}
	defer audit.Close()
	if err := audit.Init(ctx); err != nil {
		log.WithError(err).Fatal("audit storage init failed")
	}

	stations := repo.NewStationsRepo(d.Pool)
	connectors := repo.NewConnectorsRepo(d.Pool)
	users := repo.NewUsersRepo(d.Pool)
	wallets := repo.NewWalletsRepo(d.Pool)
	tariffs := repo.NewTariffsRepo(d.Pool)
	sessions := repo.NewSessionsRepo(d.Pool)
	earnings := repo.NewEarningsRepo(d.Pool)
	shares := repo.NewRevenueShareRepo(d.Pool)
	commands := repo.NewCommandsRepo(d.Pool)

	notifier, closers, err := buildNotifier(cfg)
	if err != nil {
		log.WithError(err).Fatal("notifier setup failed")
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	pricing := services.NewPricingService(tariffs, shares, cfg.InvestorPercent, cfg.CollaboratorTimeout)
	settlement := services.NewSettlementService(sessions, stations, connectors, earnings, wallets, notifier, pricing, cfg.CollaboratorTimeout)
	charging := services.NewChargingService(stations, connectors, users, wallets, sessions, notifier, pricing, settlement, services.ChargingConfig{
		AuthValidity:    cfg.AuthValidity,
		FallbackUserID:  cfg.FallbackUserID,
		LowBalanceRatio: cfg.LowBalanceRatio,
		Timeout:         cfg.CollaboratorTimeout,
	})
	alertSvc := alerts.NewService(alerts.NewDeduplicator(cfg.AlertCooldown), audit, notifier, stations, cfg.CollaboratorTimeout)

	reg := registry.New()
	router := ocpp.NewRouter(reg, correlation.New(), charging, alertSvc, audit, ocpp.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Timeout:           cfg.CallTimeout,
	})

	simCfg := simulator.DefaultConfig()
	simCfg.Tick = cfg.SimulatorTick
	simCfg.Acceleration = cfg.SimulatorAccel
	simCfg.Grace = cfg.SimulatorGrace
	simCfg.ConnectingDelay = cfg.SimulatorConnecting
	simCfg.PreparingDelay = cfg.SimulatorPreparing
	simCfg.DemoAccounts = cfg.DemoAccounts
	sim := simulator.New(charging, pricing, connectors, simCfg)

	go reg.Run(ctx, cfg.LivenessInterval)
	go forwardSimulatorEvents(ctx, sim.Events(), notifier, cfg.CollaboratorTimeout)

	srv := httpapi.NewServer(cfg, reg, router, charging, alertSvc, audit, commands, sim, stations)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("CPMS listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	sim.Close()
	reg.CloseAll()
	log.Info("CPMS shutdown complete")
}

// buildNotifier always logs and adds the push gateway and Kafka when configured.
func buildNotifier(cfg config.Config) (notify.Notifier, []io.Closer, error) {
	sinks := notify.Multi{notify.Log{}}
	var closers []io.Closer

	if cfg.PushBaseURL != "" {
		sinks = append(sinks, notify.NewPush(cfg.PushBaseURL, cfg.PushAPIKey))
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, k)
		closers = append(closers, k)
	}
	return sinks, closers, nil
}

func forwardSimulatorEvents(ctx context.Context, events <-chan simulator.Event, notifier notify.Notifier, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			n := models.Notification{
				UserID:    ev.UserID,
				Kind:      models.NotifySimulationPhase,
				Title:     "Simulated charge " + string(ev.Phase),
				Body:      fmt.Sprintf("session %s is %s", ev.SessionID, ev.Phase),
				Data:      map[string]any{"sessionId": ev.SessionID, "phase": ev.Phase},
				CreatedAt: ev.At,
			}
			nctx, cancel := context.WithTimeout(ctx, timeout)
			if err := notifier.Notify(nctx, n); err != nil {
				log.WithError(err).WithField("user", ev.UserID).Warn("simulator: phase notification failed")
			}
			cancel()
		}
	}
}
