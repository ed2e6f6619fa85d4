// Package pipeline moves deltas from the feed adapters into the registry and
// hands the resulting changes to viewers.
//
// The Broker is the only writer. Pollers and the telemetry runner enqueue
// without blocking, and the Broker applies everything in one global arrival
// order.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// ErrBrokerStopped is returned for deltas submitted after the broker shut down.
var ErrBrokerStopped = errors.New("broker stopped")

// Registry is the state the broker writes to.
type Registry interface {
	Apply(d domain.Delta) (domain.Marker, domain.Change, bool, error)
	Len() int
}

// Publisher receives every accepted change in apply order. Publish must not block.
type Publisher interface {
	Publish(c domain.Change)
}

// Ingester is the enqueue side of the broker used by adapters.
type Ingester interface {
	Ingest(d domain.Delta) *Receipt
	IngestBatch(ds []domain.Delta) *Receipt
}

// Outcome reports what happened to one delta.
type Outcome struct {
	ID      string
	Marker  domain.Marker
	Change  domain.Change
	Changed bool
	Err     error
}

// Receipt completes once every delta of a submission has been applied.
type Receipt struct {
	done     chan struct{}
	outcomes []Outcome
	err      error
}

func newReceipt(n int) *Receipt {
	return &Receipt{done: make(chan struct{}), outcomes: make([]Outcome, 0, n)}
}

func (r *Receipt) finish(err error) {
	r.err = err
	close(r.done)
}

// Done is closed when the submission has been processed.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until the submission is processed or ctx ends.
func (r *Receipt) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-r.done:
		return r.outcomes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type submission struct {
	deltas  []domain.Delta
	receipt *Receipt
}

// Broker serializes all registry writes.
type Broker struct {
	registry  Registry
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	queue   []submission
	pending int
	stopped bool
	wake    chan struct{}

	running atomic.Bool
}

// NewBroker creates a Broker writing to registry and publishing to publisher.
func NewBroker(registry Registry, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Broker {
	return &Broker{
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
	}
}

// Ingest enqueues one delta. It never blocks.
func (b *Broker) Ingest(d domain.Delta) *Receipt {
	return b.IngestBatch([]domain.Delta{d})
}

// IngestBatch enqueues deltas to be applied back to back, in order.
// It never blocks.
func (b *Broker) IngestBatch(ds []domain.Delta) *Receipt {
	r := newReceipt(len(ds))

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		r.finish(ErrBrokerStopped)
		return r
	}
	b.queue = append(b.queue, submission{deltas: ds, receipt: r})
	b.pending += len(ds)
	depth := b.pending
	b.mu.Unlock()

	for _, d := range ds {
		b.metrics.DeltasIngested.WithLabelValues(sourceLabel(d.Source)).Inc()
	}
	b.metrics.QueueDepth.Set(float64(depth))

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return r
}

// CheckReadiness returns nil while the broker is applying deltas.
func (b *Broker) CheckReadiness(_ context.Context) error {
	if !b.running.Load() {
		return errors.New("broker is not running")
	}
	return nil
}

// Run applies queued deltas until ctx is cancelled. Submissions already
// queued at cancellation are still applied; later ones fail with
// ErrBrokerStopped.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("broker started")
	b.running.Store(true)
	b.metrics.BrokerRunning.Set(1)
	defer func() {
		b.running.Store(false)
		b.metrics.BrokerRunning.Set(0)
	}()

	for {
		for _, s := range b.take() {
			b.process(s)
		}
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.stopped = true
			b.mu.Unlock()
			for _, s := range b.take() {
				b.process(s)
			}
			b.logger.Info("broker stopping", "reason", ctx.Err())
			return nil
		case <-b.wake:
		}
	}
}

func (b *Broker) take() []submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

func (b *Broker) process(s submission) {
	for _, d := range s.deltas {
		start := time.Now()
		out := b.apply(d)
		s.receipt.outcomes = append(s.receipt.outcomes, out)
		b.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	}

	b.mu.Lock()
	b.pending -= len(s.deltas)
	depth := b.pending
	b.mu.Unlock()
	b.metrics.QueueDepth.Set(float64(depth))
	b.metrics.MarkersCurrent.Set(float64(b.registry.Len()))

	s.receipt.finish(nil)
}

func (b *Broker) apply(d domain.Delta) Outcome {
	m, c, changed, err := b.registry.Apply(d)
	out := Outcome{ID: d.ID, Marker: m, Change: c, Changed: changed, Err: err}

	switch {
	case err != nil:
		b.metrics.DeltasRejected.WithLabelValues(sourceLabel(d.Source), rejectReason(err)).Inc()
		b.logger.Warn("delta rejected",
			"marker_id", d.ID,
			"source", d.Source,
			"error", err,
		)
	case !changed:
		b.metrics.DeltasNoop.Inc()
	default:
		b.metrics.MarkerChanges.WithLabelValues(string(c.Op)).Inc()
		b.logger.Debug("marker changed",
			"marker_id", c.ID,
			"revision", c.Revision,
			"op", c.Op,
			"source", d.Source,
		)
		b.publisher.Publish(c)
	}
	return out
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidGeometry):
		return "invalid_geometry"
	case errors.Is(err, domain.ErrIncompleteCreate):
		return "incomplete_create"
	case errors.Is(err, domain.ErrNotOwner):
		return "not_owner"
	default:
		return "other"
	}
}

func sourceLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
