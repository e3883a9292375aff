package entrypack

import (
	"context"

	"entrypack/pkg/domain"
)

// Store persists whole packs atomically: a Save either lands the entire
// record or leaves the prior value in place. Both the durable store
// (Postgres) and the cache store (Redis) implement this same shape so the
// conflict resolver can read them interchangeably.
type Store interface {
	// Save writes the full record. Implementations backing the durable
	// store must reject writes whose Revision is not greater than the
	// persisted one with sentinel.ErrStaleWrite; the cache store is a
	// follower and accepts any revision.
	Save(ctx context.Context, pack Pack) error

	// Find returns a deep copy, or sentinel.ErrNotFound.
	Find(ctx context.Context, key domain.PackKey) (Pack, error)

	// ListByTraveler returns copies of every pack owned by the traveler.
	ListByTraveler(ctx context.Context, traveler domain.TravelerID) ([]Pack, error)

	// ListAll returns copies of every pack; the expiry sweep scans with it.
	ListAll(ctx context.Context) ([]Pack, error)
}
