package storage_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/storage"
)

func newSQLite(t *testing.T) storage.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewStore("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := storage.NewStore("oracle", "")
	assert.Error(t, err)
}

func TestAlertsRoundTrip(t *testing.T) {
	t.Parallel()

	store := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := models.Alert{
		Type:            models.AlertDisconnection,
		Severity:        models.SeverityWarning,
		StationIdentity: "CP-1",
		StationID:       "st-1",
		OwnerID:         "owner-1",
		Message:         "station disconnected",
		CreatedAt:       base,
	}
	second := models.Alert{
		Type:            models.AlertError,
		Severity:        models.SeverityCritical,
		StationIdentity: "CP-1",
		ConnectorNumber: 2,
		ErrorCode:       "GroundFailure",
		Message:         "connector 2 reported GroundFailure (Faulted)",
		CreatedAt:       base.Add(time.Minute),
	}
	require.NoError(t, store.SaveAlert(ctx, first))
	require.NoError(t, store.SaveAlert(ctx, second))

	got, err := store.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	second.ID, first.ID = got[0].ID, got[1].ID
	if diff := cmp.Diff([]models.Alert{second, first}, got); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}

	limited, err := store.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, models.AlertError, limited[0].Type)
}

func TestMessagesRoundTrip(t *testing.T) {
	t.Parallel()

	store := newSQLite(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)

	in := models.MessageLog{
		StationIdentity: "CP-1",
		Direction:       models.DirectionInbound,
		MessageType:     2,
		MessageID:       "42",
		Action:          "Heartbeat",
		Payload:         json.RawMessage(`[2,"42","Heartbeat",{}]`),
		CreatedAt:       ts,
	}
	out := in
	out.Direction = models.DirectionOutbound
	out.MessageType = 3
	out.Payload = json.RawMessage(`[3,"42",{"currentTime":"2024-05-01T10:00:00Z"}]`)

	require.NoError(t, store.SaveMessage(ctx, in))
	require.NoError(t, store.SaveMessage(ctx, out))
	require.NoError(t, store.SaveMessage(ctx, models.MessageLog{StationIdentity: "CP-2", Direction: models.DirectionInbound, MessageID: "x", CreatedAt: ts}))

	got, err := store.ListMessages(ctx, "CP-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.DirectionOutbound, got[0].Direction)
	assert.Equal(t, 3, got[0].MessageType)
	assert.JSONEq(t, string(out.Payload), string(got[0].Payload))
	assert.Equal(t, "Heartbeat", got[1].Action)
	assert.True(t, ts.Equal(got[1].CreatedAt))

	other, err := store.ListMessages(ctx, "CP-2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "null", string(other[0].Payload))
}
