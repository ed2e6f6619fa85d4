package fanout_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/fanout"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
	"github.com/couchcryptid/marker-aggregation-service/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sensor(id string, payload domain.Payload) domain.Delta {
	return domain.Delta{ID: id, Kind: "Sensor", Position: &domain.Position{Lat: 37.8, Lon: -122.4}, Payload: payload}
}

// apply plays the broker's role: write, then publish.
func apply(t *testing.T, reg *registry.Registry, hub *fanout.Hub, d domain.Delta) domain.Change {
	t.Helper()
	_, c, changed, err := reg.Apply(d)
	require.NoError(t, err)
	require.True(t, changed)
	hub.Publish(c)
	return c
}

func TestHub_SnapshotThenChangesInOrder(t *testing.T) {
	reg := registry.New()
	hub := fanout.NewHub(reg, 8, discardLogger(), observability.NewMetricsForTesting())
	apply(t, reg, hub, sensor("marker-1", nil))

	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	require.Len(t, sub.Snapshot, 1)
	assert.Equal(t, "marker-1", sub.Snapshot[0].ID)

	apply(t, reg, hub, sensor("marker-2", nil))
	apply(t, reg, hub, domain.Delta{ID: "marker-1", Payload: domain.Payload{"windSpeed": 15}})

	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, fanout.EventChange, first.Type)
	assert.Equal(t, "marker-2", first.Change.ID)
	assert.Equal(t, "marker-1", second.Change.ID)
	assert.Equal(t, uint64(1), second.Change.Revision)
	assert.Less(t, first.Seq, second.Seq)
}

func TestHub_ChangeAlreadyInSnapshotIsSkipped(t *testing.T) {
	reg := registry.New()
	hub := fanout.NewHub(reg, 8, discardLogger(), observability.NewMetricsForTesting())

	// Apply without publishing yet: a viewer subscribing in between must not
	// see the change twice.
	_, c, _, err := reg.Apply(sensor("marker-1", nil))
	require.NoError(t, err)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	hub.Publish(c)

	require.Len(t, sub.Snapshot, 1)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_SlowViewerIsResynced(t *testing.T) {
	reg := registry.New()
	metrics := observability.NewMetricsForTesting()
	hub := fanout.NewHub(reg, 4, discardLogger(), metrics)

	slow := hub.Subscribe()
	defer hub.Unsubscribe(slow)

	for i := range 10 {
		apply(t, reg, hub, sensor("m1", domain.Payload{"n": i}))
	}

	var events []fanout.Event
drain:
	for {
		select {
		case ev := <-slow.Events():
			events = append(events, ev)
		default:
			break drain
		}
	}

	require.NotEmpty(t, events)
	var resync *fanout.Event
	for i := range events {
		if events[i].Type == fanout.EventSnapshot {
			resync = &events[i]
		}
	}
	require.NotNil(t, resync, "overflow must produce a snapshot event")
	assert.True(t, resync.Resync)

	// Rebuild the viewer state: latest snapshot, then every later change.
	state := map[string]domain.Marker{}
	for _, ev := range events {
		switch ev.Type {
		case fanout.EventSnapshot:
			state = map[string]domain.Marker{}
			for _, m := range ev.Markers {
				state[m.ID] = m
			}
		case fanout.EventChange:
			state[ev.Change.ID] = ev.Change.Apply(state[ev.Change.ID])
		}
	}
	want, _ := reg.Get("m1")
	assert.Equal(t, want.Payload, state["m1"].Payload)
	assert.Equal(t, want.Revision, state["m1"].Revision)
}

func TestHub_SlowViewerDoesNotBlockOthers(t *testing.T) {
	reg := registry.New()
	hub := fanout.NewHub(reg, 2, discardLogger(), observability.NewMetricsForTesting())

	slow := hub.Subscribe()
	defer hub.Unsubscribe(slow)
	fast := hub.Subscribe()
	defer hub.Unsubscribe(fast)

	var last uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			switch ev.Type {
			case fanout.EventChange:
				last = ev.Change.Revision
			case fanout.EventSnapshot:
				for _, m := range ev.Markers {
					last = m.Revision
				}
			}
			if last == 49 {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		apply(t, reg, hub, sensor("m1", domain.Payload{"n": 0}))
		for i := 1; i < 50; i++ {
			apply(t, reg, hub, domain.Delta{ID: "m1", Payload: domain.Payload{"n": i}})
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing blocked on a slow viewer")
	}
	wg.Wait()
	assert.Equal(t, uint64(49), last)
}

func TestHub_Unsubscribe(t *testing.T) {
	reg := registry.New()
	hub := fanout.NewHub(reg, 0, discardLogger(), observability.NewMetricsForTesting())

	sub := hub.Subscribe()
	assert.Equal(t, 1, hub.Len())
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Len())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	apply(t, reg, hub, sensor("m1", nil))
}
