package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore persists snapshots in their own tables. These tables never
// share schema or writers with entry_packs, which is what keeps the
// "snapshots are read-only" invariant enforceable with plain grants.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSnapshotSchema creates the snapshot and audit tables.
func EnsureSnapshotSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pack_snapshots (
			snapshot_id UUID PRIMARY KEY,
			source_pack TEXT NOT NULL,
			version     INT NOT NULL,
			reason      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL,
			UNIQUE (source_pack, version)
		);
		CREATE INDEX IF NOT EXISTS pack_snapshots_source_idx ON pack_snapshots (source_pack);

		CREATE TABLE IF NOT EXISTS snapshot_audit_events (
			id          BIGSERIAL PRIMARY KEY,
			snapshot_id UUID NOT NULL,
			event_type  TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			metadata    JSONB
		);
		CREATE INDEX IF NOT EXISTS snapshot_audit_events_snapshot_idx ON snapshot_audit_events (snapshot_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pack_snapshots (snapshot_id, source_pack, version, reason, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.SourcePack.String(), snap.Version, string(snap.Reason), snap.CreatedAt, payload,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM pack_snapshots WHERE snapshot_id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("find snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListBySource(ctx context.Context, key domain.PackKey) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM pack_snapshots WHERE source_pack = $1 ORDER BY version`, key.String())
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MaxVersion(ctx context.Context, key domain.PackKey) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM pack_snapshots WHERE source_pack = $1`,
		key.String()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("max snapshot version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pack_snapshots WHERE snapshot_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// PostgresAuditStore appends to the audit namespace. No update or delete
// statements exist in this type at all.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Append(ctx context.Context, event AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot_audit_events (snapshot_id, event_type, occurred_at, metadata)
		VALUES ($1, $2, $3, $4)`,
		event.SnapshotID, string(event.Type), event.Timestamp, metadata,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) ListBySnapshot(ctx context.Context, id uuid.UUID) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, event_type, occurred_at, metadata
		FROM snapshot_audit_events WHERE snapshot_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&event.SnapshotID, &kind, &event.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		event.Type = EventType(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
