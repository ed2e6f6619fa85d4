package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
	"github.com/couchcryptid/marker-aggregation-service/internal/observability"
)

// SnapshotStore persists the current markers and tombstones. Only the
// latest checkpoint is kept.
type SnapshotStore interface {
	Save(ctx context.Context, cp domain.Checkpoint) error
	Load(ctx context.Context) (domain.Checkpoint, error)
}

// CheckpointSource yields a consistent copy of the registry state and the
// change sequence it reflects.
type CheckpointSource interface {
	Checkpoint() (domain.Checkpoint, uint64)
}

// Restorer accepts the checkpoint loaded at startup.
type Restorer interface {
	Restore(cp domain.Checkpoint)
}

// Checkpointer saves the registry to a SnapshotStore on an interval when it
// changed, and once more on shutdown.
type Checkpointer struct {
	store    SnapshotStore
	source   CheckpointSource
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	// lastSeq is the sequence of the last successful save. It starts at zero
	// so state applied before the checkpointer existed is saved too.
	lastSeq uint64
}

// NewCheckpointer creates a Checkpointer. clock may be nil.
func NewCheckpointer(store SnapshotStore, source CheckpointSource, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Checkpointer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checkpointer{
		store:    store,
		source:   source,
		interval: interval,
		timeout:  10 * time.Second,
		clock:    clock,
		logger:   logger.With("component", "checkpoint"),
		metrics:  metrics,
	}
}

// Restore loads the stored checkpoint into r and returns the number of
// markers restored. A missing checkpoint is not an error.
func Restore(ctx context.Context, store SnapshotStore, r Restorer, logger *slog.Logger) (int, error) {
	cp, err := store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if cp.Empty() {
		return 0, nil
	}
	r.Restore(cp)
	logger.Info("snapshot restored", "markers", len(cp.Markers), "tombstones", len(cp.Tombstones))
	return len(cp.Markers), nil
}

// Run saves on every tick until ctx is cancelled, then saves a final time.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if _, err := c.SaveIfChanged(saveCtx); err != nil {
				return fmt.Errorf("final checkpoint: %w", err)
			}
			return nil
		case <-ticker.Chan():
			if _, err := c.SaveIfChanged(ctx); err != nil {
				c.logger.Warn("checkpoint failed", "error", err)
			}
		}
	}
}

// SaveIfChanged writes a snapshot when the registry moved since the last
// successful save. It reports whether a save happened.
func (c *Checkpointer) SaveIfChanged(ctx context.Context) (bool, error) {
	cp, seq := c.source.Checkpoint()
	if seq == c.lastSeq {
		return false, nil
	}
	if err := c.store.Save(ctx, cp); err != nil {
		c.metrics.CheckpointErrors.Inc()
		return false, err
	}
	c.lastSeq = seq
	c.metrics.CheckpointSaves.Inc()
	c.logger.Debug("checkpoint saved", "markers", len(cp.Markers), "tombstones", len(cp.Tombstones), "seq", seq)
	return true, nil
}
