package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGeometry rejects a delta whose position is NaN, infinite, or out of range.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrIncompleteCreate rejects a first-sight delta that lacks a kind or position.
	ErrIncompleteCreate = errors.New("incomplete create")

	// ErrNotOwner rejects a removal from a source that does not own the marker.
	ErrNotOwner = errors.New("not marker owner")

	// ErrSourceUnavailable marks a poll cycle whose upstream call failed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrTransportDisconnected marks a lost push-telemetry connection.
	ErrTransportDisconnected = errors.New("transport disconnected")
)

// GeometryError reports the offending coordinate. It unwraps to ErrInvalidGeometry.
type GeometryError struct {
	ID  string
	Lat float64
	Lon float64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("marker %q: invalid geometry lat=%v lon=%v", e.ID, e.Lat, e.Lon)
}

func (e *GeometryError) Unwrap() error { return ErrInvalidGeometry }

// IncompleteCreateError names the fields a first-sight delta was missing.
type IncompleteCreateError struct {
	ID      string
	Missing []string
}

func (e *IncompleteCreateError) Error() string {
	return fmt.Sprintf("marker %q: incomplete create, missing %s", e.ID, strings.Join(e.Missing, ", "))
}

func (e *IncompleteCreateError) Unwrap() error { return ErrIncompleteCreate }

// OwnershipError names the marker's owner and the source that tried to remove it.
type OwnershipError struct {
	ID     string
	Owner  string
	Source string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("marker %q: owned by %q, cannot be removed by %q", e.ID, e.Owner, e.Source)
}

func (e *OwnershipError) Unwrap() error { return ErrNotOwner }

// SourceError wraps an upstream failure with the adapter that hit it.
// errors.Is matches both ErrSourceUnavailable and the underlying cause.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: source unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }
