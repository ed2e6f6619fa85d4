package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
	"github.com/couchcryptid/marker-aggregation-service/internal/registry"
)

type captureWriter struct {
	mu       sync.Mutex
	msgs     []kafkago.Message
	failures int
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) messages() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sensorDelta(id string, lat float64) domain.Delta {
	return domain.Delta{
		ID:       id,
		Kind:     string(domain.KindSensorTelemetry),
		Position: &domain.Position{Lat: lat, Lon: -122.4},
	}
}

func TestChangeMessage(t *testing.T) {
	label := "Sensor 3"
	ch := domain.Change{
		ID:       "marker-3",
		Revision: 4,
		Kind:     domain.KindSensorTelemetry,
		Op:       domain.OpUpdate,
		Fields:   domain.Fields{Label: &label},
		Seq:      17,
	}

	msg, err := changeMessage(ch)
	require.NoError(t, err)

	assert.Equal(t, []byte("marker-3"), msg.Key)
	assert.Equal(t, "change", header(msg, "event_type"))
	assert.Equal(t, "4", header(msg, "revision"))
	assert.Equal(t, "update", header(msg, "op"))

	var rec Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, fanout.EventChange, rec.Type)
	assert.Equal(t, uint64(17), rec.Seq)
	require.NotNil(t, rec.Change)
	assert.Equal(t, "Sensor 3", *rec.Change.Fields.Label)
	assert.Nil(t, rec.Marker)
}

func TestSnapshotMessages(t *testing.T) {
	markers := []domain.Marker{
		{ID: "a", Kind: domain.KindPhoneCall, Revision: 1},
		{ID: "b", Kind: domain.KindSensorTelemetry, Revision: 3},
	}

	msgs := snapshotMessages(markers, 9, true)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Key)
	assert.Equal(t, []byte("b"), msgs[1].Key)
	assert.Equal(t, "snapshot", header(msgs[1], "event_type"))
	assert.Equal(t, "3", header(msgs[1], "revision"))
	assert.Empty(t, header(msgs[1], "op"))

	var rec Record
	require.NoError(t, json.Unmarshal(msgs[1].Value, &rec))
	assert.True(t, rec.Resync)
	assert.Equal(t, uint64(9), rec.Seq)
	require.NotNil(t, rec.Marker)
	assert.Equal(t, "b", rec.Marker.ID)
}

func TestChangeLog_SnapshotThenChanges(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	reg := registry.New()
	_, _, _, err := reg.Apply(sensorDelta("s1", 37.8))
	require.NoError(t, err)

	hub := fanout.NewHub(reg, 16, logger, metrics)
	w := &captureWriter{failures: 1}
	cl := NewChangeLog(w, hub, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cl.Run(ctx) }()

	require.Eventually(t, func() bool { return len(w.messages()) == 1 }, 5*time.Second, 10*time.Millisecond,
		"initial snapshot is written after one failed attempt")

	_, ch, changed, err := reg.Apply(sensorDelta("s1", 37.9))
	require.NoError(t, err)
	require.True(t, changed)
	hub.Publish(ch)

	require.Eventually(t, func() bool { return len(w.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.Len())

	msgs := w.messages()
	assert.Equal(t, "snapshot", header(msgs[0], "event_type"))
	assert.Equal(t, "change", header(msgs[1], "event_type"))
	assert.Equal(t, "1", header(msgs[1], "revision"))
	assert.Equal(t, []byte("s1"), msgs[1].Key)
}
