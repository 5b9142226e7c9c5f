package alerts_test

import (
	"context"
	"testing"
	"time"

	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/alerts"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/test/fakes"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		alertType models.AlertType
		status    string
		want      models.Severity
	}{
		{name: "disconnection", alertType: models.AlertDisconnection, want: models.SeverityWarning},
		{name: "error on available connector", alertType: models.AlertError, status: "Available", want: models.SeverityWarning},
		{name: "error on faulted connector", alertType: models.AlertError, status: "Faulted", want: models.SeverityCritical},
		{name: "fault", alertType: models.AlertFault, want: models.SeverityCritical},
		{name: "boot rejected", alertType: models.AlertBootRejected, want: models.SeverityWarning},
		{name: "transaction error", alertType: models.AlertTransactionError, want: models.SeverityWarning},
		{name: "unknown type", alertType: models.AlertType("OTHER"), want: models.SeverityInfo},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, alerts.Classify(tt.alertType, tt.status))
		})
	}
}

// Uses the global mock clock, so it must not run in parallel.
func TestDeduplicatorCooldown(t *testing.T) {
	start := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	clockMock := clock.Mock(start)
	defer clock.Restore()

	store := &fakes.AlertStore{}
	svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, nil, nil, time.Second)
	ctx := context.Background()
	ev := alerts.Event{Identity: "CP-1", Type: models.AlertDisconnection, Message: "station disconnected"}

	_, fired := svc.Raise(ctx, ev)
	assert.True(t, fired)

	clockMock.Add(time.Minute)
	_, fired = svc.Raise(ctx, ev)
	assert.False(t, fired)

	// Another station or another type is a different key.
	_, fired = svc.Raise(ctx, alerts.Event{Identity: "CP-2", Type: models.AlertDisconnection})
	assert.True(t, fired)
	_, fired = svc.Raise(ctx, alerts.Event{Identity: "CP-1", Type: models.AlertError})
	assert.True(t, fired)

	clockMock.Add(5 * time.Minute)
	_, fired = svc.Raise(ctx, ev)
	assert.True(t, fired)

	var disconnections int
	for _, a := range store.Alerts() {
		if a.StationIdentity == "CP-1" && a.Type == models.AlertDisconnection {
			disconnections++
		}
	}
	assert.Equal(t, 2, disconnections)
}

func TestStatusReported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       string
		errorCode    string
		wantFired    bool
		wantSeverity models.Severity
	}{
		{name: "no error never alerts", status: "Available", errorCode: "NoError"},
		{name: "empty code never alerts", status: "Faulted", errorCode: ""},
		{name: "error on charging connector", status: "Charging", errorCode: "GroundFailure", wantFired: true, wantSeverity: models.SeverityWarning},
		{name: "error on faulted connector", status: "Faulted", errorCode: "HighTemperature", wantFired: true, wantSeverity: models.SeverityCritical},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &fakes.AlertStore{}
			svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, nil, nil, time.Second)

			alert, fired := svc.StatusReported(context.Background(), "CP-9", 1, tt.status, tt.errorCode)
			assert.Equal(t, tt.wantFired, fired)
			if !tt.wantFired {
				assert.Empty(t, store.Alerts())
				return
			}
			assert.Equal(t, tt.wantSeverity, alert.Severity)
			assert.Equal(t, models.AlertError, alert.Type)
			require.Len(t, store.Alerts(), 1)
		})
	}
}

func TestRaiseDelivery(t *testing.T) {
	t.Parallel()

	stations := fakes.NewStations(models.Station{StationID: "st-1", Identity: "CP-1", OwnerID: "owner-1"})

	t.Run("notifies owner for warning", func(t *testing.T) {
		t.Parallel()

		store := &fakes.AlertStore{}
		notifier := &fakes.Notifier{}
		svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, notifier, stations, time.Second)

		alert, fired := svc.Raise(context.Background(), alerts.Event{Identity: "CP-1", Type: models.AlertDisconnection})
		require.True(t, fired)
		assert.Equal(t, "st-1", alert.StationID)
		assert.Equal(t, "owner-1", alert.OwnerID)

		sent := notifier.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "owner-1", sent[0].UserID)
		assert.Equal(t, models.NotifyStationAlert, sent[0].Kind)
	})

	t.Run("info is persisted but not pushed", func(t *testing.T) {
		t.Parallel()

		store := &fakes.AlertStore{}
		notifier := &fakes.Notifier{}
		svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, notifier, stations, time.Second)

		_, fired := svc.Raise(context.Background(), alerts.Event{Identity: "CP-1", Type: models.AlertType("NOTICE")})
		require.True(t, fired)
		assert.Len(t, store.Alerts(), 1)
		assert.Empty(t, notifier.Sent())
	})

	t.Run("persist failure does not block delivery", func(t *testing.T) {
		t.Parallel()

		store := &fakes.AlertStore{Err: errors.New("db down")}
		notifier := &fakes.Notifier{}
		svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, notifier, stations, time.Second)

		_, fired := svc.Raise(context.Background(), alerts.Event{Identity: "CP-1", Type: models.AlertFault})
		require.True(t, fired)
		assert.Len(t, notifier.Sent(), 1)
	})

	t.Run("delivery failure does not block persistence", func(t *testing.T) {
		t.Parallel()

		store := &fakes.AlertStore{}
		notifier := &fakes.Notifier{Err: errors.New("push down")}
		svc := alerts.NewService(alerts.NewDeduplicator(alerts.DefaultCooldown), store, notifier, stations, time.Second)

		_, fired := svc.Raise(context.Background(), alerts.Event{Identity: "CP-1", Type: models.AlertFault})
		require.True(t, fired)
		assert.Len(t, store.Alerts(), 1)
	})
}
