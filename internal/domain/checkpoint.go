package domain

// Checkpoint is the persisted registry state: the live markers in registry
// order and the last revision of every withdrawn id, so a re-created id
// continues past it after a restart.
type Checkpoint struct {
	Markers    []Marker
	Tombstones map[string]uint64
}

// Empty reports whether there is nothing to restore.
func (c Checkpoint) Empty() bool {
	return len(c.Markers) == 0 && len(c.Tombstones) == 0
}
