package entrypack

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
	txcontext "entrypack/pkg/platform/tx"
)

// PostgresStore is the durable, authoritative side of the dual-store pair.
// The whole record lands in one row per pack key, so a write is atomic at
// the persistence boundary: it either replaces the row or leaves the prior
// value intact.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsurePackSchema creates the durable-store table. The snapshot and audit
// namespaces deliberately live in their own tables (see internal/snapshot);
// they must never share storage with the live packs.
func EnsurePackSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entry_packs (
			pack_key    TEXT PRIMARY KEY,
			traveler_id UUID NOT NULL,
			destination TEXT NOT NULL,
			trip_id     UUID NOT NULL,
			status      TEXT NOT NULL,
			revision    BIGINT NOT NULL,
			payload     JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS entry_packs_traveler_idx ON entry_packs (traveler_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure entry_packs schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, pack Pack) error {
	payload, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("marshal pack: %w", err)
	}

	// The WHERE clause on the update arm is the stale-write guard: a save
	// carrying an old revision updates zero rows and is rejected.
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO entry_packs (pack_key, traveler_id, destination, trip_id, status, revision, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pack_key) DO UPDATE
		SET status = EXCLUDED.status,
		    revision = EXCLUDED.revision,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
		WHERE entry_packs.revision < EXCLUDED.revision`,
		pack.Key.String(),
		pack.Key.Traveler.String(),
		pack.Key.Destination.String(),
		pack.Key.Trip.String(),
		string(pack.Status),
		pack.Revision,
		payload,
		pack.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pack: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save pack rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrStaleWrite
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key domain.PackKey) (Pack, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT payload FROM entry_packs WHERE pack_key = $1`, key.String())
	return scanPack(row)
}

func (s *PostgresStore) ListByTraveler(ctx context.Context, traveler domain.TravelerID) ([]Pack, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT payload FROM entry_packs WHERE traveler_id = $1 ORDER BY updated_at DESC`,
		traveler.String())
	if err != nil {
		return nil, fmt.Errorf("list packs by traveler: %w", err)
	}
	defer rows.Close()
	return collectPacks(rows)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Pack, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT payload FROM entry_packs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()
	return collectPacks(rows)
}

func scanPack(row *sql.Row) (Pack, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Pack{}, sentinel.ErrNotFound
		}
		return Pack{}, fmt.Errorf("find pack: %w", err)
	}
	var pack Pack
	if err := json.Unmarshal(payload, &pack); err != nil {
		return Pack{}, fmt.Errorf("unmarshal pack: %w", err)
	}
	return pack, nil
}

func collectPacks(rows *sql.Rows) ([]Pack, error) {
	var out []Pack
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan pack row: %w", err)
		}
		var pack Pack
		if err := json.Unmarshal(payload, &pack); err != nil {
			return nil, fmt.Errorf("unmarshal pack row: %w", err)
		}
		out = append(out, pack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pack rows: %w", err)
	}
	return out, nil
}
