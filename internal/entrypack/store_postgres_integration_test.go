//go:build integration

package entrypack_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"entrypack/internal/entrypack"
	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
	"entrypack/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *entrypack.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(entrypack.EnsurePackSchema(context.Background(), s.postgres.DB))
	s.store = entrypack.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.postgres != nil {
		_ = s.postgres.DB.Close()
		_ = s.postgres.Container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background(), "entry_packs"))
}

func (s *PostgresStoreSuite) newPack(revision int64) entrypack.Pack {
	return entrypack.Pack{
		Key: domain.PackKey{
			Traveler:    domain.TravelerID(uuid.New()),
			Destination: "HK",
			Trip:        domain.TripID(uuid.New()),
		},
		Passport:      map[string]string{"passport_number": "P1234567"},
		Personal:      map[string]string{},
		Travel:        map[string]string{},
		Status:        entrypack.StatusDraft,
		Revision:      revision,
		LastUpdatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestSaveAndFindRoundTrip() {
	ctx := context.Background()
	pack := s.newPack(1)
	pack.Funds = []entrypack.FundItem{{ID: "f1", Type: "cash", Amount: 250.50, Currency: "HKD"}}
	pack.SubmissionHistory = []entrypack.SubmissionAttempt{
		{ID: uuid.New(), Timestamp: time.Now().UTC().Truncate(time.Microsecond), Result: entrypack.AttemptFailure, ErrorDetail: "timeout"},
	}

	s.Require().NoError(s.store.Save(ctx, pack))

	got, err := s.store.Find(ctx, pack.Key)
	s.Require().NoError(err)
	s.Equal(pack.Passport, got.Passport)
	s.Equal(pack.Funds, got.Funds)
	s.Require().Len(got.SubmissionHistory, 1)
	s.Equal("timeout", got.SubmissionHistory[0].ErrorDetail)
	s.Equal(int64(1), got.Revision)
}

func (s *PostgresStoreSuite) TestRevisionGuard() {
	ctx := context.Background()
	pack := s.newPack(1)
	s.Require().NoError(s.store.Save(ctx, pack))

	pack.Revision = 2
	pack.Passport["passport_number"] = "P7654321"
	s.Require().NoError(s.store.Save(ctx, pack))

	s.Run("same revision rejected", func() {
		stale := pack
		stale.Passport = map[string]string{"passport_number": "STALE"}
		s.ErrorIs(s.store.Save(ctx, stale), sentinel.ErrStaleWrite)
	})

	s.Run("older revision rejected", func() {
		stale := pack
		stale.Revision = 1
		s.ErrorIs(s.store.Save(ctx, stale), sentinel.ErrStaleWrite)
	})

	s.Run("stored row kept the newest value", func() {
		got, err := s.store.Find(ctx, pack.Key)
		s.Require().NoError(err)
		s.Equal("P7654321", got.Passport["passport_number"])
		s.Equal(int64(2), got.Revision)
	})
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.Find(context.Background(), s.newPack(1).Key)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListByTraveler() {
	ctx := context.Background()
	traveler := domain.TravelerID(uuid.New())

	for _, dest := range []domain.DestinationID{"HK", "TW"} {
		pack := s.newPack(1)
		pack.Key.Traveler = traveler
		pack.Key.Destination = dest
		s.Require().NoError(s.store.Save(ctx, pack))
	}
	s.Require().NoError(s.store.Save(ctx, s.newPack(1)))

	mine, err := s.store.ListByTraveler(ctx, traveler)
	s.Require().NoError(err)
	s.Len(mine, 2)

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}
