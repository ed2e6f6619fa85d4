// Package postgres stores the current marker snapshot in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/marker-aggregation-service/internal/domain"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS marker_snapshot (
	position   INTEGER NOT NULL,
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	lat        DOUBLE PRECISION NOT NULL,
	lon        DOUBLE PRECISION NOT NULL,
	label      TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	revision   BIGINT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	payload    BYTEA
)`, `
CREATE TABLE IF NOT EXISTS marker_tombstones (
	id       TEXT PRIMARY KEY,
	revision BIGINT NOT NULL
)`}

var columns = []string{"position", "id", "kind", "lat", "lon", "label", "color", "revision", "source", "updated_at", "payload"}

// Store implements pipeline.SnapshotStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{pool: pool}, nil
}

// Save replaces the stored checkpoint, using COPY for the rows.
func (s *Store) Save(ctx context.Context, cp domain.Checkpoint) error {
	rows, err := snapshotRows(cp.Markers)
	if err != nil {
		return err
	}
	tombstones := tombstoneRows(cp.Tombstones)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM marker_snapshot`); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM marker_tombstones`); err != nil {
			return fmt.Errorf("clear tombstones: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"marker_snapshot"}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy snapshot: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"marker_tombstones"}, []string{"id", "revision"}, pgx.CopyFromRows(tombstones)); err != nil {
			return fmt.Errorf("copy tombstones: %w", err)
		}
		return nil
	})
}

// Load returns the stored checkpoint, markers in registry order.
func (s *Store) Load(ctx context.Context) (domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, kind, lat, lon, label, color, revision, source, updated_at, payload
		FROM marker_snapshot ORDER BY position`)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("query snapshot: %w", err)
	}
	markers, err := pgx.CollectRows(rows, scanMarker)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("read snapshot: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, revision FROM marker_tombstones`)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("query tombstones: %w", err)
	}
	tombstones := make(map[string]uint64)
	var (
		id       string
		revision int64
	)
	if _, err := pgx.ForEachRow(rows, []any{&id, &revision}, func() error {
		tombstones[id] = uint64(revision)
		return nil
	}); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("read tombstones: %w", err)
	}
	return domain.Checkpoint{Markers: markers, Tombstones: tombstones}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func snapshotRows(markers []domain.Marker) ([][]any, error) {
	rows := make([][]any, 0, len(markers))
	for i, m := range markers {
		payload, err := domain.EncodePayload(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("marker %s: %w", m.ID, err)
		}
		rows = append(rows, []any{
			int32(i), m.ID, string(m.Kind), m.Position.Lat, m.Position.Lon,
			m.Label, m.Color, int64(m.Revision), m.Source, m.UpdatedAt.UTC(), payload,
		})
	}
	return rows, nil
}

func tombstoneRows(tombstones map[string]uint64) [][]any {
	rows := make([][]any, 0, len(tombstones))
	for id, rev := range tombstones {
		rows = append(rows, []any{id, int64(rev)})
	}
	return rows
}

func scanMarker(row pgx.CollectableRow) (domain.Marker, error) {
	var (
		m         domain.Marker
		kind      string
		revision  int64
		updatedAt time.Time
		payload   []byte
	)
	if err := row.Scan(&m.ID, &kind, &m.Position.Lat, &m.Position.Lon, &m.Label, &m.Color,
		&revision, &m.Source, &updatedAt, &payload); err != nil {
		return domain.Marker{}, err
	}
	m.Kind = domain.Kind(kind)
	m.Revision = uint64(revision)
	m.UpdatedAt = updatedAt.UTC()

	var err error
	if m.Payload, err = domain.DecodePayload(payload); err != nil {
		return domain.Marker{}, fmt.Errorf("marker %s: %w", m.ID, err)
	}
	return m, nil
}
