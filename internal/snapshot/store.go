package snapshot

import (
	"context"

	"github.com/google/uuid"

	"entrypack/pkg/domain"
)

// Store persists snapshots in their own namespace, apart from the live pack
// stores. Insert-only plus explicit delete: there is no update operation,
// by construction.
type Store interface {
	// Insert stores a new snapshot. A duplicate ID is sentinel.ErrConflict.
	Insert(ctx context.Context, snap Snapshot) error

	// Find returns a deep copy, or sentinel.ErrNotFound.
	Find(ctx context.Context, id uuid.UUID) (Snapshot, error)

	// ListBySource returns copies of every snapshot of one pack, oldest
	// version first.
	ListBySource(ctx context.Context, key domain.PackKey) ([]Snapshot, error)

	// MaxVersion returns the highest version frozen for the pack, 0 when
	// none exists.
	MaxVersion(ctx context.Context, key domain.PackKey) (int, error)

	// Delete removes the snapshot record. The engine owns the surrounding
	// protocol (final audit event, asset removal).
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditStore is the append-only audit namespace keyed by snapshot ID.
// There is no delete: the trail outlives its snapshot.
type AuditStore interface {
	Append(ctx context.Context, event AuditEvent) error
	ListBySnapshot(ctx context.Context, id uuid.UUID) ([]AuditEvent, error)
}
