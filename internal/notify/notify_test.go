package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/models"
)

func sample() models.Notification {
	return models.Notification{
		UserID:    "u-1",
		Kind:      models.NotifyChargeCompleted,
		Title:     "Charge completed",
		Body:      "4 kWh delivered",
		Data:      map[string]any{"sessionId": "s-1"},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPush(t *testing.T) {
	t.Parallel()

	var (
		gotAuth string
		got     models.Notification
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewPush(srv.URL, "secret")
	require.NoError(t, p.Notify(context.Background(), sample()))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, models.NotifyChargeCompleted, got.Kind)
}

func TestPushGatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown user", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewPush(srv.URL, "").Notify(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "unknown user")
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublishesKeyedByUser(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	k := &Kafka{w: w}
	require.NoError(t, k.Notify(context.Background(), sample()))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "u-1", string(w.msgs[0].Key))
	assert.Equal(t, "charge_completed", string(w.msgs[0].Headers[0].Value))

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "Charge completed", decoded.Title)
}

func TestNewKafkaRequiresBrokersAndTopic(t *testing.T) {
	t.Parallel()

	_, err := NewKafka([]string{" ", ""}, "notifications")
	assert.Error(t, err)
	_, err = NewKafka([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	k, err := NewKafka([]string{"localhost:9092"}, "notifications")
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

type failing struct{ calls int }

func (f *failing) Notify(context.Context, models.Notification) error {
	f.calls++
	return errors.New("down")
}

type counting struct{ calls int }

func (c *counting) Notify(context.Context, models.Notification) error {
	c.calls++
	return nil
}

func TestMultiTriesEverySink(t *testing.T) {
	t.Parallel()

	bad, good := &failing{}, &counting{}
	err := Multi{bad, good, Log{}}.Notify(context.Background(), sample())

	require.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)

	assert.NoError(t, Multi{good}.Notify(context.Background(), sample()))
}
