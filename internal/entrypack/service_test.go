package entrypack_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"entrypack/internal/completion"
	"entrypack/internal/entrypack"
	"entrypack/internal/entrypack/mocks"
	"entrypack/internal/notify"
	"entrypack/internal/platform/logger"
	"entrypack/internal/window"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
	"entrypack/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	durable *entrypack.InMemoryStore
	cache   *entrypack.InMemoryStore
	freezer *mocks.MockFreezer
	events  *notify.InMemoryPublisher
	service *entrypack.Service

	now time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.durable = entrypack.NewInMemoryStore()
	s.cache = entrypack.NewInMemoryFollowerStore()
	s.freezer = mocks.NewMockFreezer(s.ctrl)
	s.events = notify.NewInMemoryPublisher()
	s.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	policies := entrypack.StaticPolicies(map[domain.DestinationID]window.Policy{
		"NZ": {Restricted: true, Length: 72 * time.Hour},
	})
	s.service = entrypack.NewService(
		s.durable,
		s.cache,
		s.freezer,
		s.events,
		entrypack.DefaultSchema(),
		policies,
		logger.New(),
		entrypack.WithClock(func() time.Time { return s.now }),
		entrypack.WithExpiryGrace(24*time.Hour),
	)
}

func (s *ServiceSuite) newKey(dest domain.DestinationID) domain.PackKey {
	return domain.PackKey{
		Traveler:    domain.TravelerID(uuid.New()),
		Destination: dest,
		Trip:        domain.TripID(uuid.New()),
	}
}

// fillComplete saves every schema field plus one fund item so the pack
// reaches ready. The arrival lands 48 hours out.
func (s *ServiceSuite) fillComplete(key domain.PackKey) entrypack.SaveResult {
	ctx := context.Background()
	arrival := s.now.Add(48 * time.Hour).Format(time.RFC3339)
	values := map[completion.Category]map[string]string{
		completion.CategoryPassport: {
			"passport_number": "P1234567",
			"full_name":       "Alex Chen",
			"nationality":     "SGP",
			"date_of_birth":   "1990-04-02",
			"expiry_date":     "2031-01-01",
		},
		completion.CategoryPersonal: {
			"sex":          "X",
			"occupation":   "engineer",
			"phone":        "+6591234567",
			"email":        "alex@example.com",
			"home_address": "1 Example Way",
		},
		completion.CategoryTravel: {
			entrypack.ArrivalField:  arrival,
			"flight_number":         "SQ123",
			"accommodation_name":    "Harbour Hotel",
			"accommodation_address": "2 Quay St",
			"purpose_of_visit":      "tourism",
		},
	}

	var last entrypack.SaveResult
	for category, fields := range values {
		for name, value := range fields {
			res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
				Category: category, Name: name, Value: value,
			})
			s.Require().NoError(err)
			last = res
		}
	}
	res, err := s.service.AddFundItem(ctx, key, entrypack.FundItem{
		Type: "bank_statement", Amount: 5000, Currency: "SGD",
	})
	s.Require().NoError(err)
	last = res
	return last
}

func (s *ServiceSuite) submitSuccess(key domain.PackKey, confirmation string) entrypack.SaveResult {
	res, err := s.service.RecordSubmission(context.Background(), key, entrypack.SubmissionOutcome{
		Result:         entrypack.AttemptSuccess,
		ConfirmationID: confirmation,
	})
	s.Require().NoError(err)
	return res
}

// =============================================================================
// Field editing and the draft/ready boundary
// =============================================================================

func (s *ServiceSuite) TestSaveField_CreatesDraftOnFirstEdit() {
	ctx := context.Background()
	key := s.newKey("JP")

	res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
		Category: completion.CategoryPassport, Name: "passport_number", Value: "P1234567",
	})
	s.Require().NoError(err)

	s.Equal(entrypack.StatusDraft, res.Pack.Status)
	s.Equal(int64(1), res.Pack.Revision)
	s.Positive(res.Pack.Metrics.Percent)
	s.Equal(window.StateNoDate, res.Window.State)

	stored, err := s.durable.Find(ctx, key)
	s.Require().NoError(err)
	s.Equal("P1234567", stored.Passport["passport_number"])
}

func (s *ServiceSuite) TestSaveField_ReadyBoundary() {
	ctx := context.Background()
	key := s.newKey("JP")

	res := s.fillComplete(key)
	s.Equal(entrypack.StatusReady, res.Pack.Status)
	s.Equal(100, res.Pack.Metrics.Percent)

	s.Run("clearing a required field demotes to draft", func() {
		res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryPersonal, Name: "email", Value: "",
		})
		s.Require().NoError(err)
		s.Equal(entrypack.StatusDraft, res.Pack.Status)
		s.Less(res.Pack.Metrics.Percent, 100)
	})

	s.Run("restoring it promotes back to ready", func() {
		res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryPersonal, Name: "email", Value: "alex@example.com",
		})
		s.Require().NoError(err)
		s.Equal(entrypack.StatusReady, res.Pack.Status)
	})
}

func (s *ServiceSuite) TestSaveField_ArrivalHandling() {
	ctx := context.Background()
	key := s.newKey("NZ")

	s.Run("valid arrival is parsed and classified", func() {
		arrival := s.now.Add(10 * time.Hour)
		res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryTravel, Name: entrypack.ArrivalField,
			Value: arrival.Format(time.RFC3339),
		})
		s.Require().NoError(err)
		s.Require().NotNil(res.Pack.ArrivalAt)
		s.True(res.Pack.ArrivalAt.Equal(arrival))
		s.Equal(window.StateUrgent, res.Window.State)
	})

	s.Run("malformed arrival is rejected", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryTravel, Name: entrypack.ArrivalField, Value: "next tuesday",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("clearing the arrival returns to no-date", func() {
		res, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryTravel, Name: entrypack.ArrivalField, Value: "",
		})
		s.Require().NoError(err)
		s.Nil(res.Pack.ArrivalAt)
		s.Equal(window.StateNoDate, res.Window.State)
	})
}

func (s *ServiceSuite) TestSaveField_Validation() {
	ctx := context.Background()
	key := s.newKey("JP")

	s.Run("unknown category", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{Category: "luggage", Name: "x", Value: "y"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("funds cannot be edited as a scalar", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryFunds, Name: "amount", Value: "100",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty field name", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryPassport, Name: "", Value: "y",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Fund items
// =============================================================================

func (s *ServiceSuite) TestFundItems() {
	ctx := context.Background()
	key := s.newKey("JP")

	res, err := s.service.AddFundItem(ctx, key, entrypack.FundItem{
		Type: "bank_statement", Amount: 2500, Currency: "SGD",
	})
	s.Require().NoError(err)
	s.Require().Len(res.Pack.Funds, 1)
	s.NotEmpty(res.Pack.Funds[0].ID, "fund items get an ID assigned")
	s.Equal(completion.StateComplete, res.Pack.Metrics.Categories[completion.CategoryFunds].State)

	s.Run("removing the last item empties the category", func() {
		res, err := s.service.RemoveFundItem(ctx, key, res.Pack.Funds[0].ID)
		s.Require().NoError(err)
		s.Empty(res.Pack.Funds)
		s.Equal(completion.StateMissing, res.Pack.Metrics.Categories[completion.CategoryFunds].State)
	})

	s.Run("removing an unknown item is not found", func() {
		_, err := s.service.RemoveFundItem(ctx, key, "no-such-item")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Submission recording
// =============================================================================

func (s *ServiceSuite) TestRecordSubmission_FailureKeepsPackRetryable() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	res, err := s.service.RecordSubmission(ctx, key, entrypack.SubmissionOutcome{
		Result:      entrypack.AttemptFailure,
		ErrorDetail: "upstream timeout",
	})
	s.Require().NoError(err)

	s.Equal(entrypack.StatusReady, res.Pack.Status, "a failed attempt never changes the status")
	s.Require().Len(res.Pack.SubmissionHistory, 1)
	s.Equal("upstream timeout", res.Pack.SubmissionHistory[0].ErrorDetail)
	s.Nil(res.Pack.LatestSuccessfulSubmission())

	s.Run("pack is still editable after the failure", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryPersonal, Name: "phone", Value: "+6598765432",
		})
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestRecordSubmission_SuccessLocksEditing() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	res := s.submitSuccess(key, "CONF-001")
	s.Equal(entrypack.StatusSubmitted, res.Pack.Status)
	s.Require().NotNil(res.Pack.LatestSuccessfulSubmission())
	s.Equal("CONF-001", res.Pack.LatestSuccessfulSubmission().ConfirmationID)

	_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
		Category: completion.CategoryPersonal, Name: "phone", Value: "+6598765432",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.False(errors.Is(err, sentinel.ErrIntegrity), "submitted is recoverable, not terminal")
}

func (s *ServiceSuite) TestRecordSubmission_InvalidResult() {
	_, err := s.service.RecordSubmission(context.Background(), s.newKey("JP"), entrypack.SubmissionOutcome{
		Result: "maybe",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// =============================================================================
// Two-phase supersede
// =============================================================================

func (s *ServiceSuite) TestProposeEdit_RequiresSubmittedPack() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	_, err := s.service.ProposeEdit(ctx, key, []entrypack.FieldEdit{
		{Category: completion.CategoryPersonal, Name: "phone", Value: "+6598765432"},
	}, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "drafts are edited directly")
}

func (s *ServiceSuite) TestSupersedeFlow() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)
	s.submitSuccess(key, "CONF-001")

	edits := []entrypack.FieldEdit{
		{Category: completion.CategoryPersonal, Name: "phone", Value: "+6598765432"},
	}
	proposal, err := s.service.ProposeEdit(ctx, key, edits, nil)
	s.Require().NoError(err)

	s.Run("staged edits are not applied", func() {
		stored, err := s.durable.Find(ctx, key)
		s.Require().NoError(err)
		s.Equal("+6591234567", stored.Personal["phone"])
		s.Equal(entrypack.StatusSubmitted, stored.Status)
		s.Require().NotNil(stored.PendingSupersede)
	})

	s.Run("confirming with the wrong id is rejected", func() {
		_, err := s.service.ConfirmSupersede(ctx, key, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("confirming applies the edits and supersedes", func() {
		res, err := s.service.ConfirmSupersede(ctx, key, proposal.ID)
		s.Require().NoError(err)
		s.Equal(entrypack.StatusSuperseded, res.Pack.Status)
		s.Equal("+6598765432", res.Pack.Personal["phone"])
		s.Nil(res.Pack.PendingSupersede)
		s.Len(res.Pack.SubmissionHistory, 1, "history is untouched by superseding")
	})

	s.Run("resubmission appends and becomes the latest success", func() {
		res := s.submitSuccess(key, "CONF-002")
		s.Equal(entrypack.StatusSubmitted, res.Pack.Status)
		s.Require().Len(res.Pack.SubmissionHistory, 2)
		s.Equal("CONF-002", res.Pack.LatestSuccessfulSubmission().ConfirmationID)
	})
}

func (s *ServiceSuite) TestCancelProposal() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)
	s.submitSuccess(key, "CONF-001")

	proposal, err := s.service.ProposeEdit(ctx, key, []entrypack.FieldEdit{
		{Category: completion.CategoryTravel, Name: "flight_number", Value: "SQ999"},
	}, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.service.CancelProposal(ctx, key, proposal.ID))

	stored, err := s.durable.Find(ctx, key)
	s.Require().NoError(err)
	s.Nil(stored.PendingSupersede)
	s.Equal(entrypack.StatusSubmitted, stored.Status)
	s.Equal("SQ123", stored.Travel["flight_number"])

	s.Error(s.service.CancelProposal(ctx, key, proposal.ID), "cancel is not idempotent")
}

// =============================================================================
// Terminal transitions
// =============================================================================

func (s *ServiceSuite) TestArchive_FreezesFirst() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	s.Run("freeze failure leaves the pack untouched", func() {
		s.freezer.EXPECT().
			Freeze(gomock.Any(), gomock.Any(), entrypack.FreezeCancelled).
			Return(errors.New("disk full"))

		_, err := s.service.Archive(ctx, key)
		s.Require().Error(err)

		stored, err := s.durable.Find(ctx, key)
		s.Require().NoError(err)
		s.Equal(entrypack.StatusReady, stored.Status)
	})

	s.Run("archive without a success freezes as cancelled", func() {
		s.freezer.EXPECT().
			Freeze(gomock.Any(), gomock.Any(), entrypack.FreezeCancelled).
			Return(nil)

		res, err := s.service.Archive(ctx, key)
		s.Require().NoError(err)
		s.Equal(entrypack.StatusArchived, res.Pack.Status)
	})

	s.Run("terminal packs reject every further transition", func() {
		_, err := s.service.SaveField(ctx, key, entrypack.FieldEdit{
			Category: completion.CategoryPassport, Name: "passport_number", Value: "X",
		})
		s.True(errors.Is(err, sentinel.ErrIntegrity))

		_, err = s.service.RecordSubmission(ctx, key, entrypack.SubmissionOutcome{Result: entrypack.AttemptSuccess})
		s.True(errors.Is(err, sentinel.ErrIntegrity))

		_, err = s.service.Archive(ctx, key)
		s.True(errors.Is(err, sentinel.ErrIntegrity))
	})
}

func (s *ServiceSuite) TestArchive_WithSuccessFreezesAsCompleted() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)
	s.submitSuccess(key, "CONF-001")

	s.freezer.EXPECT().
		Freeze(gomock.Any(), gomock.Any(), entrypack.FreezeCompleted).
		Return(nil)

	res, err := s.service.Archive(ctx, key)
	s.Require().NoError(err)
	s.Equal(entrypack.StatusArchived, res.Pack.Status)
}

func (s *ServiceSuite) TestSweepExpired() {
	ctx := context.Background()

	expired := s.newKey("JP")
	s.fillComplete(expired)

	done := s.newKey("NZ")
	s.fillComplete(done)
	s.submitSuccess(done, "CONF-OK")

	future := s.newKey("TW")
	s.fillComplete(future)

	// Arrival was 48h out and grace is 24h; jump past both.
	s.now = s.now.Add(73 * time.Hour)
	arrival := s.now.Add(48 * time.Hour).Format(time.RFC3339)
	_, err := s.service.SaveField(ctx, future, entrypack.FieldEdit{
		Category: completion.CategoryTravel, Name: entrypack.ArrivalField, Value: arrival,
	})
	s.Require().NoError(err)

	s.freezer.EXPECT().
		Freeze(gomock.Any(), gomock.Any(), entrypack.FreezeExpired).
		Return(nil)
	s.freezer.EXPECT().
		Freeze(gomock.Any(), gomock.Any(), entrypack.FreezeCompleted).
		Return(nil)

	changed, err := s.service.SweepExpired(ctx)
	s.Require().NoError(err)
	s.Equal(2, changed)

	expiredPack, err := s.durable.Find(ctx, expired)
	s.Require().NoError(err)
	s.Equal(entrypack.StatusExpired, expiredPack.Status)

	donePack, err := s.durable.Find(ctx, done)
	s.Require().NoError(err)
	s.Equal(entrypack.StatusArchived, donePack.Status)

	futurePack, err := s.durable.Find(ctx, future)
	s.Require().NoError(err)
	s.Equal(entrypack.StatusReady, futurePack.Status)

	s.Run("a second sweep is a no-op", func() {
		changed, err := s.service.SweepExpired(ctx)
		s.Require().NoError(err)
		s.Zero(changed)
	})
}

// =============================================================================
// Template copy
// =============================================================================

func (s *ServiceSuite) TestCopyAsTemplate() {
	ctx := context.Background()
	src := s.newKey("JP")
	s.fillComplete(src)
	s.submitSuccess(src, "CONF-001")

	dst := domain.PackKey{Traveler: src.Traveler, Destination: "JP", Trip: domain.TripID(uuid.New())}

	res, err := s.service.CopyAsTemplate(ctx, src, dst)
	s.Require().NoError(err)

	s.Equal(entrypack.StatusDraft, res.Pack.Status)
	s.Equal("P1234567", res.Pack.Passport["passport_number"])
	s.Empty(res.Pack.SubmissionHistory, "submission history never carries over")
	s.Nil(res.Pack.ArrivalAt)
	s.NotContains(res.Pack.Travel, entrypack.ArrivalField)
	s.NotContains(res.Pack.Travel, "flight_number")

	s.Run("copy never touches the source", func() {
		source, err := s.durable.Find(ctx, src)
		s.Require().NoError(err)
		s.Equal(entrypack.StatusSubmitted, source.Status)
	})

	s.Run("existing destination is rejected", func() {
		_, err := s.service.CopyAsTemplate(ctx, src, dst)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("copy onto itself is rejected", func() {
		_, err := s.service.CopyAsTemplate(ctx, src, src)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Dual-store behavior
// =============================================================================

func (s *ServiceSuite) TestCacheFollowsDurable() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	durable, err := s.durable.Find(ctx, key)
	s.Require().NoError(err)
	cached, err := s.cache.Find(ctx, key)
	s.Require().NoError(err)
	s.Equal(durable, cached)
}

func (s *ServiceSuite) TestFlushRewritesCache() {
	ctx := context.Background()
	key := s.newKey("JP")
	s.fillComplete(key)

	// Simulate a cache that lost the entry.
	s.cache.Drop(key)
	_, err := s.cache.Find(ctx, key)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.service.Flush(ctx, key))

	durable, err := s.durable.Find(ctx, key)
	s.Require().NoError(err)
	cached, err := s.cache.Find(ctx, key)
	s.Require().NoError(err)
	s.Equal(durable, cached)
}

// =============================================================================
// Change events
// =============================================================================

func (s *ServiceSuite) TestPublishesChangeEvents() {
	key := s.newKey("JP")
	s.fillComplete(key)
	s.submitSuccess(key, "CONF-001")

	events := s.events.Events()
	s.Require().NotEmpty(events)
	last := events[len(events)-1]
	s.Equal(key.String(), last.PackKey)
	s.Equal(string(entrypack.StatusSubmitted), last.Status)
	s.Equal(100, last.CompletionPercent)
}
