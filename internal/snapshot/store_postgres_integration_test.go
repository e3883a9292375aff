//go:build integration

package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"entrypack/internal/entrypack"
	"entrypack/internal/snapshot"
	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
	"entrypack/pkg/testutil/containers"
)

type PostgresSnapshotStoreSuite struct {
	suite.Suite
	container *containers.PostgresContainer
	store     *snapshot.PostgresStore
	audit     *snapshot.PostgresAuditStore
	ctx       context.Context
}

func TestPostgresSnapshotStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSnapshotStoreSuite))
}

func (s *PostgresSnapshotStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.container = containers.NewPostgresContainer(s.T())
	require.NoError(s.T(), snapshot.EnsureSnapshotSchema(s.ctx, s.container.DB))
	s.store = snapshot.NewPostgresStore(s.container.DB)
	s.audit = snapshot.NewPostgresAuditStore(s.container.DB)
}

func (s *PostgresSnapshotStoreSuite) TearDownSuite() {
	_ = s.container.Container.Terminate(s.ctx)
}

func (s *PostgresSnapshotStoreSuite) SetupTest() {
	require.NoError(s.T(), s.container.TruncateAll(s.ctx, "pack_snapshots", "snapshot_audit_events"))
}

func (s *PostgresSnapshotStoreSuite) packKey(trip string) domain.PackKey {
	key, err := domain.ParsePackKey("11111111-1111-1111-1111-111111111111/NZ/" + trip)
	s.Require().NoError(err)
	return key
}

func (s *PostgresSnapshotStoreSuite) newSnapshot(key domain.PackKey, version int) snapshot.Snapshot {
	return snapshot.Snapshot{
		ID:         uuid.New(),
		SourcePack: key,
		Version:    version,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		Reason:     entrypack.FreezeCancelled,
		Passport: map[string]string{
			"number": "LA123456",
		},
		Funds: []entrypack.FundItem{
			{ID: "f1", Type: "cash", Amount: 300, Currency: "HKD"},
		},
	}
}

func (s *PostgresSnapshotStoreSuite) TestInsertFindRoundTrip() {
	key := s.packKey("2026-04")
	snap := s.newSnapshot(key, 1)
	s.Require().NoError(s.store.Insert(s.ctx, snap))

	found, err := s.store.Find(s.ctx, snap.ID)
	s.Require().NoError(err)
	s.Equal(snap.ID, found.ID)
	s.Equal(snap.Version, found.Version)
	s.Equal(snap.Passport, found.Passport)
	s.Equal(snap.Funds, found.Funds)
}

func (s *PostgresSnapshotStoreSuite) TestInsertIsCreateOnly() {
	key := s.packKey("2026-04")
	snap := s.newSnapshot(key, 1)
	s.Require().NoError(s.store.Insert(s.ctx, snap))

	// Same ID and same (source, version) both violate uniqueness.
	s.ErrorIs(s.store.Insert(s.ctx, snap), sentinel.ErrConflict)

	clash := s.newSnapshot(key, 1)
	s.ErrorIs(s.store.Insert(s.ctx, clash), sentinel.ErrConflict)
}

func (s *PostgresSnapshotStoreSuite) TestMaxVersionPerSourcePack() {
	key := s.packKey("2026-04")
	other := s.packKey("2026-09")

	max, err := s.store.MaxVersion(s.ctx, key)
	s.Require().NoError(err)
	s.Zero(max)

	s.Require().NoError(s.store.Insert(s.ctx, s.newSnapshot(key, 1)))
	s.Require().NoError(s.store.Insert(s.ctx, s.newSnapshot(key, 2)))
	s.Require().NoError(s.store.Insert(s.ctx, s.newSnapshot(other, 7)))

	max, err = s.store.MaxVersion(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(2, max)
}

func (s *PostgresSnapshotStoreSuite) TestListBySourceOrderedByVersion() {
	key := s.packKey("2026-04")
	s.Require().NoError(s.store.Insert(s.ctx, s.newSnapshot(key, 2)))
	s.Require().NoError(s.store.Insert(s.ctx, s.newSnapshot(key, 1)))

	snaps, err := s.store.ListBySource(s.ctx, key)
	s.Require().NoError(err)
	s.Require().Len(snaps, 2)
	s.Equal(1, snaps[0].Version)
	s.Equal(2, snaps[1].Version)
}

func (s *PostgresSnapshotStoreSuite) TestDeleteLeavesAuditTrail() {
	key := s.packKey("2026-04")
	snap := s.newSnapshot(key, 1)
	s.Require().NoError(s.store.Insert(s.ctx, snap))
	s.Require().NoError(s.audit.Append(s.ctx, snapshot.AuditEvent{
		SnapshotID: snap.ID,
		Timestamp:  time.Now().UTC(),
		Type:       snapshot.EventCreated,
	}))

	s.Require().NoError(s.store.Delete(s.ctx, snap.ID))
	_, err := s.store.Find(s.ctx, snap.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(s.ctx, snap.ID), sentinel.ErrNotFound)

	events, err := s.audit.ListBySnapshot(s.ctx, snap.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PostgresSnapshotStoreSuite) TestAuditAppendOnlyOrdering() {
	id := uuid.New()
	types := []snapshot.EventType{snapshot.EventCreated, snapshot.EventViewed, snapshot.EventExported, snapshot.EventDeleted}
	for _, eventType := range types {
		s.Require().NoError(s.audit.Append(s.ctx, snapshot.AuditEvent{
			SnapshotID: id,
			Timestamp:  time.Now().UTC(),
			Type:       eventType,
			Metadata:   map[string]string{"actor": "traveler"},
		}))
	}

	events, err := s.audit.ListBySnapshot(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(events, len(types))
	for i, event := range events {
		s.Equal(types[i], event.Type)
		s.Equal("traveler", event.Metadata["actor"])
	}
}
