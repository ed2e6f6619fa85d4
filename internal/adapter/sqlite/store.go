// Package sqlite stores the current marker snapshot in an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS markers (
	position   INTEGER NOT NULL,
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	label      TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	revision   INTEGER NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	payload    BLOB
)`, `
CREATE TABLE IF NOT EXISTS tombstones (
	id       TEXT PRIMARY KEY,
	revision INTEGER NOT NULL
)`}

// Store implements pipeline.SnapshotStore. Each Save replaces both tables
// in one transaction.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: SQLite has one writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Save replaces the stored checkpoint.
func (s *Store) Save(ctx context.Context, cp domain.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"markers", "tombstones"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO markers
		(position, id, kind, lat, lon, label, color, revision, source, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range cp.Markers {
		payload, err := domain.EncodePayload(m.Payload)
		if err != nil {
			return fmt.Errorf("marker %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, m.ID, string(m.Kind), m.Position.Lat, m.Position.Lon,
			m.Label, m.Color, int64(m.Revision), m.Source, m.UpdatedAt.UTC().Format(time.RFC3339Nano), payload); err != nil {
			return fmt.Errorf("insert marker %s: %w", m.ID, err)
		}
	}

	for id, rev := range cp.Tombstones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tombstones (id, revision) VALUES (?, ?)`, id, int64(rev)); err != nil {
			return fmt.Errorf("insert tombstone %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, markers in registry order.
func (s *Store) Load(ctx context.Context) (domain.Checkpoint, error) {
	markers, err := s.loadMarkers(ctx)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	tombstones, err := s.loadTombstones(ctx)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return domain.Checkpoint{Markers: markers, Tombstones: tombstones}, nil
}

func (s *Store) loadMarkers(ctx context.Context) ([]domain.Marker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, lat, lon, label, color, revision, source, updated_at, payload
		FROM markers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var markers []domain.Marker
	for rows.Next() {
		var (
			m         domain.Marker
			kind      string
			revision  int64
			updatedAt string
			payload   []byte
		)
		if err := rows.Scan(&m.ID, &kind, &m.Position.Lat, &m.Position.Lon, &m.Label, &m.Color,
			&revision, &m.Source, &updatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.Kind = domain.Kind(kind)
		m.Revision = uint64(revision)
		if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("marker %s: updated_at: %w", m.ID, err)
		}
		if m.Payload, err = domain.DecodePayload(payload); err != nil {
			return nil, fmt.Errorf("marker %s: %w", m.ID, err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return markers, nil
}

func (s *Store) loadTombstones(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, revision FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	tombstones := make(map[string]uint64)
	for rows.Next() {
		var (
			id       string
			revision int64
		)
		if err := rows.Scan(&id, &revision); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		tombstones[id] = uint64(revision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tombstones: %w", err)
	}
	return tombstones, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
