package entrypack

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

func testKey() domain.PackKey {
	return domain.PackKey{
		Traveler:    domain.TravelerID(uuid.New()),
		Destination: "HK",
		Trip:        domain.TripID(uuid.New()),
	}
}

func TestInMemoryStore_RevisionGuard(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	key := testKey()

	require.NoError(t, store.Save(ctx, Pack{Key: key, Revision: 1}))
	require.NoError(t, store.Save(ctx, Pack{Key: key, Revision: 2}))

	t.Run("equal revision is stale", func(t *testing.T) {
		err := store.Save(ctx, Pack{Key: key, Revision: 2})
		assert.ErrorIs(t, err, sentinel.ErrStaleWrite)
	})

	t.Run("older revision is stale", func(t *testing.T) {
		err := store.Save(ctx, Pack{Key: key, Revision: 1})
		assert.ErrorIs(t, err, sentinel.ErrStaleWrite)
	})

	t.Run("rejected write leaves the stored value intact", func(t *testing.T) {
		got, err := store.Find(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Revision)
	})
}

func TestInMemoryFollowerStore_LastWriteWins(t *testing.T) {
	store := NewInMemoryFollowerStore()
	ctx := context.Background()
	key := testKey()

	require.NoError(t, store.Save(ctx, Pack{Key: key, Revision: 5}))
	require.NoError(t, store.Save(ctx, Pack{Key: key, Revision: 3}), "followers take any write")

	got, err := store.Find(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Revision)
}

func TestInMemoryStore_FindMissing(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Find(context.Background(), testKey())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ReturnsClones(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	key := testKey()

	require.NoError(t, store.Save(ctx, Pack{
		Key:      key,
		Revision: 1,
		Passport: map[string]string{"passport_number": "P1"},
	}))

	got, err := store.Find(ctx, key)
	require.NoError(t, err)
	got.Passport["passport_number"] = "CHANGED"

	again, err := store.Find(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "P1", again.Passport["passport_number"], "callers must not reach shared state")
}

func TestInMemoryStore_ListByTraveler(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	traveler := domain.TravelerID(uuid.New())
	mine := domain.PackKey{Traveler: traveler, Destination: "HK", Trip: domain.TripID(uuid.New())}
	alsoMine := domain.PackKey{Traveler: traveler, Destination: "TW", Trip: domain.TripID(uuid.New())}

	require.NoError(t, store.Save(ctx, Pack{Key: mine, Revision: 1}))
	require.NoError(t, store.Save(ctx, Pack{Key: alsoMine, Revision: 1}))
	require.NoError(t, store.Save(ctx, Pack{Key: testKey(), Revision: 1}))

	got, err := store.ListByTraveler(ctx, traveler)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInMemoryStore_ConcurrentSaves(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	key := testKey()

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 1; i <= writers; i++ {
		go func(rev int64) {
			defer wg.Done()
			// Stale rejections are expected; only data races would fail.
			_ = store.Save(ctx, Pack{Key: key, Revision: rev})
		}(int64(i))
	}
	wg.Wait()

	got, err := store.Find(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.Revision, "the highest revision always survives")
}
