package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/michalkurzeja/go-clock"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/models"
)

type Store interface {
	SaveAlert(ctx context.Context, alert models.Alert) error
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type StationLookup interface {
	GetByIdentity(ctx context.Context, identity string) (*models.Station, error)
}

// Event describes something a station did that may deserve an alert.
type Event struct {
	Identity        string
	Type            models.AlertType
	ConnectorNumber int
	ConnectorStatus string
	ErrorCode       string
	Message         string
}

// Service deduplicates, persists and delivers station alerts.
type Service struct {
	dedup    *Deduplicator
	store    Store
	notifier Notifier
	stations StationLookup
	timeout  time.Duration
}

func NewService(dedup *Deduplicator, store Store, notifier Notifier, stations StationLookup, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{dedup: dedup, store: store, notifier: notifier, stations: stations, timeout: timeout}
}

// StatusReported raises an ERROR alert for a connector status carrying a real
// error code. NoError and empty codes never alert.
func (s *Service) StatusReported(ctx context.Context, identity string, connector int, status, errorCode string) (models.Alert, bool) {
	if !IsError(errorCode) {
		return models.Alert{}, false
	}
	return s.Raise(ctx, Event{
		Identity:        identity,
		Type:            models.AlertError,
		ConnectorNumber: connector,
		ConnectorStatus: status,
		ErrorCode:       errorCode,
		Message:         fmt.Sprintf("connector %d reported %s (%s)", connector, errorCode, status),
	})
}

// Raise fires the alert unless the same station and type fired within the
// cooldown. It returns the alert and whether it fired.
func (s *Service) Raise(ctx context.Context, ev Event) (models.Alert, bool) {
	if !s.dedup.ShouldFire(ev.Identity, ev.Type) {
		log.WithField("identity", ev.Identity).
			WithField("type", ev.Type).
			Debug("alert suppressed by cooldown")
		return models.Alert{}, false
	}

	alert := models.Alert{
		Type:            ev.Type,
		Severity:        Classify(ev.Type, ev.ConnectorStatus),
		StationIdentity: ev.Identity,
		ConnectorNumber: ev.ConnectorNumber,
		ErrorCode:       ev.ErrorCode,
		Message:         ev.Message,
		CreatedAt:       clock.Now().UTC(),
	}
	if s.stations != nil {
		st, err := s.lookup(ctx, ev.Identity)
		if err != nil {
			log.WithError(err).WithField("identity", ev.Identity).Warn("alert: failed to resolve station")
		} else if st != nil {
			alert.StationID = st.StationID
			alert.OwnerID = st.OwnerID
		}
	}

	logger := log.WithField("identity", ev.Identity).
		WithField("type", alert.Type).
		WithField("severity", alert.Severity)
	logger.Warn(alert.Message)

	s.persist(ctx, alert, logger)
	if alert.Severity != models.SeverityInfo {
		s.deliver(ctx, alert, logger)
	}
	return alert, true
}

func (s *Service) lookup(ctx context.Context, identity string) (*models.Station, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.stations.GetByIdentity(ctx, identity)
}

func (s *Service) persist(ctx context.Context, alert models.Alert, logger *log.Entry) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		logger.WithError(err).Error("alert: failed to persist")
	}
}

func (s *Service) deliver(ctx context.Context, alert models.Alert, logger *log.Entry) {
	if s.notifier == nil || alert.OwnerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.notifier.Notify(ctx, models.Notification{
		UserID: alert.OwnerID,
		Kind:   models.NotifyStationAlert,
		Title:  fmt.Sprintf("%s alert on %s", alert.Severity, alert.StationIdentity),
		Body:   alert.Message,
		Data: map[string]any{
			"type":      string(alert.Type),
			"severity":  string(alert.Severity),
			"stationId": alert.StationID,
			"connector": alert.ConnectorNumber,
		},
		CreatedAt: alert.CreatedAt,
	})
	if err != nil {
		logger.WithError(err).Error("alert: failed to notify owner")
	}
}
