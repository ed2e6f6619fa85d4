// Package registry holds the canonical, identity-keyed set of markers.
//
// Writes go through Apply, which the pipeline broker calls from a single
// goroutine. Reads take a shared lock and return deep copies, so callers
// never observe a marker mid-merge and never hold a reference into the
// registry's state.
package registry

import (
	"sync"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

// Registry stores at most one marker per id, in first-insertion order.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]domain.Marker
	order      []string
	tombstones map[string]uint64
	seq        uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entries:    make(map[string]domain.Marker),
		tombstones: make(map[string]uint64),
	}
}

// Get returns a copy of the marker with the given id.
func (r *Registry) Get(id string) (domain.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[id]
	if !ok {
		return domain.Marker{}, false
	}
	return m.Clone(), true
}

// All returns copies of every marker in insertion order.
func (r *Registry) All() []domain.Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Snapshot returns All together with the change sequence it reflects.
func (r *Registry) Snapshot() ([]domain.Marker, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.seq
}

// Checkpoint returns the markers and tombstones to persist, with the change
// sequence they reflect.
func (r *Registry) Checkpoint() (domain.Checkpoint, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tombstones := make(map[string]uint64, len(r.tombstones))
	for id, rev := range r.tombstones {
		tombstones[id] = rev
	}
	return domain.Checkpoint{Markers: r.snapshotLocked(), Tombstones: tombstones}, r.seq
}

func (r *Registry) snapshotLocked() []domain.Marker {
	out := make([]domain.Marker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Clone())
	}
	return out
}

// At returns the marker at position index of All.
func (r *Registry) At(index int) (domain.Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.order) {
		return domain.Marker{}, false
	}
	return r.entries[r.order[index]].Clone(), true
}

// Len returns the number of markers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Seq counts accepted changes since the registry was created. It lets
// checkpointing skip saves when nothing happened.
func (r *Registry) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Apply folds a delta into the registry. On success it returns the resulting
// marker and, when changed is true, the change to publish. A rejected delta
// leaves the registry untouched.
func (r *Registry) Apply(d domain.Delta) (domain.Marker, domain.Change, bool, error) {
	now := domain.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[d.ID]

	if d.Remove {
		if !ok {
			return domain.Marker{}, domain.Change{}, false, nil
		}
		c, err := domain.Withdraw(existing, d.Source)
		if err != nil {
			return existing.Clone(), domain.Change{}, false, err
		}
		r.removeLocked(d.ID, c.Revision)
		c.Seq = r.seq
		return existing.Clone(), c, true, nil
	}

	if !ok {
		var start uint64
		if last, gone := r.tombstones[d.ID]; gone {
			start = last + 1
		}
		m, c, err := domain.Create(d, start, now)
		if err != nil {
			return domain.Marker{}, domain.Change{}, false, err
		}
		delete(r.tombstones, d.ID)
		r.entries[m.ID] = m
		r.order = append(r.order, m.ID)
		r.seq++
		c.Seq = r.seq
		return m.Clone(), c, true, nil
	}

	m, c, changed, err := domain.Merge(existing, d, now)
	if err != nil || !changed {
		return existing.Clone(), domain.Change{}, false, err
	}
	r.entries[m.ID] = m
	r.seq++
	c.Seq = r.seq
	return m.Clone(), c, true, nil
}

func (r *Registry) removeLocked(id string, revision uint64) {
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.tombstones[id] = revision
	r.seq++
}

// Restore loads a persisted checkpoint. It is meant for startup, before the
// broker starts, and replaces any existing content. Tombstones for ids that
// are live in the checkpoint are dropped.
func (r *Registry) Restore(cp domain.Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]domain.Marker, len(cp.Markers))
	r.order = r.order[:0]
	r.tombstones = make(map[string]uint64, len(cp.Tombstones))
	for _, m := range cp.Markers {
		if _, dup := r.entries[m.ID]; dup {
			continue
		}
		r.entries[m.ID] = m.Clone()
		r.order = append(r.order, m.ID)
	}
	for id, rev := range cp.Tombstones {
		if _, live := r.entries[id]; !live {
			r.tombstones[id] = rev
		}
	}
}
