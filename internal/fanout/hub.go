// Package fanout distributes registry changes to live viewers.
//
// Every subscription starts from a full snapshot and then receives changes in
// the order the broker published them. Each subscription has its own bounded
// queue; a viewer that falls behind is never waited on. When its queue
// overflows the queue is emptied and replaced by a fresh snapshot, so the
// viewer either sees every change or a new starting point, never a gap.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 256

// SnapshotSource yields a consistent copy of the registry and the change
// sequence it reflects.
type SnapshotSource interface {
	Snapshot() ([]domain.Marker, uint64)
}

// EventType distinguishes the two things a viewer can receive.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventChange   EventType = "change"
)

// Event is one item in a subscription stream. Snapshot events replace the
// viewer's whole state; change events apply on top of it.
type Event struct {
	Type    EventType       `json:"type"`
	Seq     uint64          `json:"seq"`
	Markers []domain.Marker `json:"markers,omitempty"`
	Change  *domain.Change  `json:"change,omitempty"`
	Resync  bool            `json:"resync,omitempty"`
}

// Subscription is a viewer's handle.
type Subscription struct {
	ID       string
	Snapshot []domain.Marker
	Seq      uint64

	events chan Event
	seq    uint64 // last seq delivered or covered by a snapshot
}

// Events yields changes after Snapshot, and any resync snapshots. It is
// closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.events }

// Hub fans out published changes to subscriptions.
type Hub struct {
	source  SnapshotSource
	buffer  int
	logger  *slog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewHub creates a Hub. buffer <= 0 selects DefaultBuffer.
func NewHub(source SnapshotSource, buffer int, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		source:  source,
		buffer:  buffer,
		logger:  logger.With("component", "fanout"),
		metrics: metrics,
		subs:    make(map[string]*Subscription),
	}
}

// Subscribe registers a viewer and returns its initial snapshot. Changes
// already contained in the snapshot are never delivered on Events.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	markers, seq := h.source.Snapshot()
	sub := &Subscription{
		ID:       uuid.NewString(),
		Snapshot: markers,
		Seq:      seq,
		events:   make(chan Event, h.buffer),
		seq:      seq,
	}
	h.subs[sub.ID] = sub
	h.metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("viewer subscribed", "subscription_id", sub.ID, "markers", len(markers), "seq", seq)
	return sub
}

// Unsubscribe removes the subscription and closes its Events channel. It is
// safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.events)
	h.metrics.Subscribers.Set(float64(len(h.subs)))
	h.logger.Debug("viewer unsubscribed", "subscription_id", sub.ID)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers c to every subscription without blocking.
func (h *Hub) Publish(c domain.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if c.Seq != 0 && c.Seq <= sub.seq {
			continue
		}
		change := c
		select {
		case sub.events <- Event{Type: EventChange, Seq: c.Seq, Change: &change}:
			sub.seq = c.Seq
		default:
			h.resyncLocked(sub)
		}
	}
}

// resyncLocked empties a full queue and queues a fresh snapshot in its place.
func (h *Hub) resyncLocked(sub *Subscription) {
drain:
	for {
		select {
		case <-sub.events:
		default:
			break drain
		}
	}
	markers, seq := h.source.Snapshot()
	sub.events <- Event{Type: EventSnapshot, Seq: seq, Markers: markers, Resync: true}
	sub.seq = seq
	h.metrics.SubscriberResync.Inc()
	h.logger.Warn("viewer fell behind, resent snapshot", "subscription_id", sub.ID, "seq", seq)
}
