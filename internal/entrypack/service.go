package entrypack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"entrypack/internal/completion"
	"entrypack/internal/notify"
	"entrypack/internal/platform/metrics"
	"entrypack/internal/window"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
	"entrypack/pkg/platform/sentinel"
)

var tracer = otel.Tracer("entrypack/service")

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Freezer

// Freezer captures the snapshot engine surface the state machine needs:
// freeze the pack's current data before a terminal transition.
type Freezer interface {
	Freeze(ctx context.Context, pack Pack, reason FreezeReason) error
}

// PolicyProvider resolves the destination-specific submission window policy.
type PolicyProvider func(domain.DestinationID) window.Policy

// StaticPolicies builds a PolicyProvider from a fixed table; unknown
// destinations fall back to the unrestricted policy.
func StaticPolicies(table map[domain.DestinationID]window.Policy) PolicyProvider {
	return func(dest domain.DestinationID) window.Policy {
		if p, ok := table[dest]; ok {
			return p
		}
		return window.Unrestricted
	}
}

// SubmissionOutcome is the recorded result of one call the caller made to
// the document-issuing service. The engine never retries that call itself;
// it accepts whichever outcome arrived and appends it.
type SubmissionOutcome struct {
	Result          AttemptResult
	ConfirmationID  string
	DocumentHandles []string
	ErrorDetail     string
}

// SaveResult is what a mutation hands back for rendering: the updated pack
// plus the freshly classified submission window.
type SaveResult struct {
	Pack   Pack
	Window window.Classification
}

// Service is the entry pack state machine. All mutations of a pack go
// through here, serialized per pack key; stores, snapshotting, and event
// publishing are injected.
type Service struct {
	durable  Store
	cache    Store
	freezer  Freezer
	events   notify.Publisher
	schema   completion.Schema
	policies PolicyProvider
	windows  window.Calculator
	metrics  *metrics.Metrics
	logger   *slog.Logger

	clock       func() time.Time
	expiryGrace time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option tweaks Service construction.
type Option func(*Service)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithExpiryGrace overrides how long past arrival an unsubmitted pack
// survives before the sweep expires it.
func WithExpiryGrace(grace time.Duration) Option {
	return func(s *Service) { s.expiryGrace = grace }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	durable Store,
	cache Store,
	freezer Freezer,
	events notify.Publisher,
	schema completion.Schema,
	policies PolicyProvider,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		durable:     durable,
		cache:       cache,
		freezer:     freezer,
		events:      events,
		schema:      schema,
		policies:    policies,
		logger:      logger,
		clock:       time.Now,
		expiryGrace: 24 * time.Hour,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.windows = window.Calculator{Clock: s.clock}
	return s
}

// lockKey serializes all mutations of one pack. Cross-pack work never
// contends; same-pack writers queue so a record is only ever mid-write for
// one caller at a time.
func (s *Service) lockKey(key domain.PackKey) func() {
	s.mu.Lock()
	l, ok := s.locks[key.String()]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key.String()] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// SaveField applies one scalar edit. The pack is created on the first edit.
// Editing a submitted pack is rejected here: those edits must go through
// ProposeEdit / ConfirmSupersede because they invalidate issued documents.
func (s *Service) SaveField(ctx context.Context, key domain.PackKey, edit FieldEdit) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.SaveField")
	defer span.End()
	defer s.lockKey(key)()

	start := s.clock()
	pack, created, err := s.loadOrCreate(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if err := s.guardEditable(&pack); err != nil {
		return SaveResult{}, err
	}
	if err := s.applyEdit(&pack, edit); err != nil {
		return SaveResult{}, err
	}

	s.refreshDerived(&pack)
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveSave(s.clock().Sub(start))
		if created {
			s.metrics.PacksCreated.Inc()
		}
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// AddFundItem appends one funds entry.
func (s *Service) AddFundItem(ctx context.Context, key domain.PackKey, item FundItem) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.AddFundItem")
	defer span.End()
	defer s.lockKey(key)()

	pack, created, err := s.loadOrCreate(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if err := s.guardEditable(&pack); err != nil {
		return SaveResult{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	pack.Funds = append(pack.Funds, item)

	s.refreshDerived(&pack)
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	if s.metrics != nil && created {
		s.metrics.PacksCreated.Inc()
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// RemoveFundItem drops one funds entry by ID.
func (s *Service) RemoveFundItem(ctx context.Context, key domain.PackKey, itemID string) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.RemoveFundItem")
	defer span.End()
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if err := s.guardEditable(&pack); err != nil {
		return SaveResult{}, err
	}
	kept := pack.Funds[:0]
	removed := false
	for _, f := range pack.Funds {
		if f.ID == itemID {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	if !removed {
		return SaveResult{}, dErrors.New(dErrors.CodeNotFound, "fund item not found")
	}
	pack.Funds = kept

	s.refreshDerived(&pack)
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// ProposeEdit stages edits against a submitted pack. Nothing is applied
// until ConfirmSupersede: the staged edits invalidate the issued documents,
// so the traveler has to say so twice.
func (s *Service) ProposeEdit(ctx context.Context, key domain.PackKey, edits []FieldEdit, fundAdds []FundItem) (SupersedeProposal, error) {
	ctx, span := tracer.Start(ctx, "entrypack.ProposeEdit")
	defer span.End()
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return SupersedeProposal{}, err
	}
	if pack.Status.Terminal() {
		return SupersedeProposal{}, s.integrity(pack.Status, "propose edit")
	}
	if pack.Status != StatusSubmitted {
		return SupersedeProposal{}, dErrors.New(dErrors.CodeInvalidState,
			"pack has no successful submission; edit it directly")
	}
	if len(edits) == 0 && len(fundAdds) == 0 {
		return SupersedeProposal{}, dErrors.New(dErrors.CodeInvalidInput, "proposal carries no edits")
	}
	for _, e := range edits {
		if err := validateEdit(e); err != nil {
			return SupersedeProposal{}, err
		}
	}

	proposal := SupersedeProposal{
		ID:        uuid.New(),
		Edits:     edits,
		FundAdds:  fundAdds,
		CreatedAt: s.clock(),
	}
	pack.PendingSupersede = &proposal
	if err := s.persist(ctx, &pack); err != nil {
		return SupersedeProposal{}, err
	}
	return proposal, nil
}

// ConfirmSupersede applies the staged edits and moves the pack to
// superseded. The prior documents are invalid from here on; a new
// successful submission is required to return to submitted.
func (s *Service) ConfirmSupersede(ctx context.Context, key domain.PackKey, proposalID uuid.UUID) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.ConfirmSupersede")
	defer span.End()
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if pack.Status.Terminal() {
		return SaveResult{}, s.integrity(pack.Status, "confirm supersede")
	}
	if pack.PendingSupersede == nil {
		return SaveResult{}, dErrors.New(dErrors.CodeInvalidState, "no pending edit proposal")
	}
	if pack.PendingSupersede.ID != proposalID {
		return SaveResult{}, dErrors.New(dErrors.CodeInvalidInput, "proposal id does not match the pending proposal")
	}

	for _, edit := range pack.PendingSupersede.Edits {
		if err := s.applyEdit(&pack, edit); err != nil {
			return SaveResult{}, err
		}
	}
	for _, item := range pack.PendingSupersede.FundAdds {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		pack.Funds = append(pack.Funds, item)
	}
	pack.PendingSupersede = nil
	pack.Status = StatusSuperseded

	s.refreshMetricsOnly(&pack)
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// CancelProposal discards a staged edit proposal without applying it.
func (s *Service) CancelProposal(ctx context.Context, key domain.PackKey, proposalID uuid.UUID) error {
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return err
	}
	if pack.PendingSupersede == nil || pack.PendingSupersede.ID != proposalID {
		return dErrors.New(dErrors.CodeNotFound, "no matching pending proposal")
	}
	pack.PendingSupersede = nil
	return s.persist(ctx, &pack)
}

// RecordSubmission appends the outcome of one document-issuing call. A
// success moves draft/ready/superseded packs to submitted; a failure is
// recorded and changes nothing else, so the pack stays retryable. Recording
// against a terminal pack is a contract violation.
func (s *Service) RecordSubmission(ctx context.Context, key domain.PackKey, outcome SubmissionOutcome) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.RecordSubmission")
	defer span.End()
	defer s.lockKey(key)()

	if outcome.Result != AttemptSuccess && outcome.Result != AttemptFailure {
		return SaveResult{}, dErrors.New(dErrors.CodeInvalidInput, "submission result must be success or failure")
	}

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if pack.Status.Terminal() {
		return SaveResult{}, s.integrity(pack.Status, "record submission")
	}

	attempt := SubmissionAttempt{
		ID:              uuid.New(),
		Timestamp:       s.clock(),
		Result:          outcome.Result,
		ConfirmationID:  outcome.ConfirmationID,
		DocumentHandles: append([]string(nil), outcome.DocumentHandles...),
		ErrorDetail:     outcome.ErrorDetail,
	}
	pack.SubmissionHistory = append(pack.SubmissionHistory, attempt)
	if outcome.Result == AttemptSuccess {
		pack.Status = StatusSubmitted
	}

	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	if s.metrics != nil {
		s.metrics.SubmissionsRecorded.WithLabelValues(string(outcome.Result)).Inc()
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// Archive is the explicit user action ending a pack's life. The snapshot is
// frozen first; if freezing fails the pack stays untouched.
func (s *Service) Archive(ctx context.Context, key domain.PackKey) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.Archive")
	defer span.End()
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return SaveResult{}, err
	}
	if pack.Status.Terminal() {
		return SaveResult{}, s.integrity(pack.Status, "archive")
	}

	reason := FreezeCancelled
	if pack.LatestSuccessfulSubmission() != nil {
		reason = FreezeCompleted
	}
	if err := s.freezer.Freeze(ctx, pack.Clone(), reason); err != nil {
		return SaveResult{}, fmt.Errorf("freeze before archive: %w", err)
	}

	pack.Status = StatusArchived
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// CopyAsTemplate starts a new draft pack for a new trip from a frozen or
// live pack's data. This is the only way terminal data flows forward: a new
// pack, never a revived one. Submission history does not carry over.
func (s *Service) CopyAsTemplate(ctx context.Context, src domain.PackKey, dst domain.PackKey) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, "entrypack.CopyAsTemplate")
	defer span.End()

	if src == dst {
		return SaveResult{}, dErrors.New(dErrors.CodeInvalidInput, "template copy needs a new destination or trip")
	}
	source, err := s.durable.Find(ctx, src)
	if err != nil {
		return SaveResult{}, err
	}

	defer s.lockKey(dst)()
	if _, err := s.durable.Find(ctx, dst); err == nil {
		return SaveResult{}, dErrors.New(dErrors.CodeInvalidState, "a pack already exists for that trip")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return SaveResult{}, err
	}

	clone := source.Clone()
	pack := Pack{
		Key:      dst,
		Passport: clone.Passport,
		Personal: clone.Personal,
		Funds:    clone.Funds,
		Travel:   clone.Travel,
		Status:   StatusDraft,
	}
	// Trip-specific travel data never carries over.
	delete(pack.Travel, ArrivalField)
	delete(pack.Travel, "flight_number")

	s.refreshDerived(&pack)
	if err := s.persist(ctx, &pack); err != nil {
		return SaveResult{}, err
	}
	if s.metrics != nil {
		s.metrics.PacksCreated.Inc()
	}
	s.publishChange(ctx, &pack)
	return SaveResult{Pack: pack, Window: s.classify(&pack)}, nil
}

// Flush is the mandatory coherence point before navigating away from an
// editing context: it re-reads the durable record and rewrites the cache
// entry so the next reader cannot observe a lagging cache.
func (s *Service) Flush(ctx context.Context, key domain.PackKey) error {
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return err
	}
	if err := s.cache.Save(ctx, pack); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	return nil
}

// SweepExpired walks every pack and applies the time-based terminal
// transitions: past arrival plus grace with no successful submission means
// expired; with one it means archived. Each transition freezes a snapshot
// first. Returns how many packs changed state.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "entrypack.SweepExpired")
	defer span.End()

	packs, err := s.durable.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}

	now := s.clock()
	var mu sync.Mutex
	changed := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, pack := range packs {
		g.Go(func() error {
			if !s.sweepOne(ctx, pack.Key, now) {
				return nil
			}
			mu.Lock()
			changed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return changed, err
	}
	return changed, nil
}

// sweepOne re-reads under the key lock so the sweep never races a
// foreground edit; reports whether the pack transitioned.
func (s *Service) sweepOne(ctx context.Context, key domain.PackKey, now time.Time) bool {
	defer s.lockKey(key)()

	pack, err := s.durable.Find(ctx, key)
	if err != nil {
		return false
	}
	if pack.Status.Terminal() || pack.ArrivalAt == nil {
		return false
	}
	if now.Before(pack.ArrivalAt.Add(s.expiryGrace)) {
		return false
	}

	reason := FreezeExpired
	next := StatusExpired
	if pack.LatestSuccessfulSubmission() != nil {
		reason = FreezeCompleted
		next = StatusArchived
	}
	if err := s.freezer.Freeze(ctx, pack.Clone(), reason); err != nil {
		s.logger.WarnContext(ctx, "sweep freeze failed; pack left untouched",
			"pack", key.String(), "error", err)
		return false
	}
	pack.Status = next
	if err := s.persist(ctx, &pack); err != nil {
		s.logger.WarnContext(ctx, "sweep persist failed",
			"pack", key.String(), "error", err)
		return false
	}
	if s.metrics != nil && next == StatusExpired {
		s.metrics.PacksExpired.Inc()
	}
	s.publishChange(ctx, &pack)
	return true
}

// ---- internals ----

func (s *Service) loadOrCreate(ctx context.Context, key domain.PackKey) (Pack, bool, error) {
	pack, err := s.durable.Find(ctx, key)
	if err == nil {
		return pack, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Pack{}, false, err
	}
	return Pack{
		Key:      key,
		Passport: map[string]string{},
		Personal: map[string]string{},
		Travel:   map[string]string{},
		Status:   StatusDraft,
	}, true, nil
}

// guardEditable enforces the edit-side transition rules: terminal packs are
// frozen outright, and submitted packs only change through the two-phase
// supersede flow.
func (s *Service) guardEditable(pack *Pack) error {
	if pack.Status.Terminal() {
		return s.integrity(pack.Status, "edit")
	}
	if pack.Status == StatusSubmitted {
		return dErrors.New(dErrors.CodeInvalidState,
			"pack was already submitted; editing requires a supersede proposal and confirmation")
	}
	return nil
}

func (s *Service) integrity(status Status, op string) error {
	return dErrors.Wrap(sentinel.ErrIntegrity, dErrors.CodeInvalidState,
		fmt.Sprintf("cannot %s a %s pack", op, status))
}

func validateEdit(edit FieldEdit) error {
	if !edit.Category.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown category")
	}
	if edit.Category == completion.CategoryFunds {
		return dErrors.New(dErrors.CodeInvalidInput, "funds change through the fund item operations")
	}
	if edit.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "field name cannot be empty")
	}
	return nil
}

func (s *Service) applyEdit(pack *Pack, edit FieldEdit) error {
	if err := validateEdit(edit); err != nil {
		return err
	}

	var target map[string]string
	switch edit.Category {
	case completion.CategoryPassport:
		target = pack.Passport
	case completion.CategoryPersonal:
		target = pack.Personal
	case completion.CategoryTravel:
		target = pack.Travel
	case completion.CategoryFunds:
		// unreachable; validateEdit rejects funds
		return dErrors.New(dErrors.CodeInvalidInput, "funds change through the fund item operations")
	}

	if edit.Category == completion.CategoryTravel && edit.Name == ArrivalField {
		if edit.Value == "" {
			pack.ArrivalAt = nil
		} else {
			arrival, err := time.Parse(time.RFC3339, edit.Value)
			if err != nil {
				return dErrors.New(dErrors.CodeInvalidInput, "arrival must be an RFC 3339 timestamp")
			}
			pack.ArrivalAt = &arrival
		}
	}

	if edit.Value == "" {
		delete(target, edit.Name)
	} else {
		target[edit.Name] = edit.Value
	}
	return nil
}

// refreshDerived recomputes the cached completion metrics and settles the
// draft/ready boundary. It never touches submitted or later statuses; those
// move only through their dedicated transitions.
func (s *Service) refreshDerived(pack *Pack) {
	s.refreshMetricsOnly(pack)
	switch pack.Status {
	case StatusDraft:
		if pack.Metrics.AllComplete() {
			pack.Status = StatusReady
		}
	case StatusReady:
		if !pack.Metrics.AllComplete() {
			pack.Status = StatusDraft
		}
	}
}

func (s *Service) refreshMetricsOnly(pack *Pack) {
	pack.Metrics = completion.Compute(s.schema, pack.ScalarPayloads(), len(pack.Funds))
}

// persist is the single write path: revision bump, durable write (the
// authority, with the stale guard), then cache write. A durable failure
// surfaces to the caller, who still holds the in-memory value; a cache
// failure only logs, because the resolver heals the cache from the durable
// side.
func (s *Service) persist(ctx context.Context, pack *Pack) error {
	pack.Revision++
	pack.LastUpdatedAt = s.clock()

	if err := s.durable.Save(ctx, *pack); err != nil {
		if errors.Is(err, sentinel.ErrStaleWrite) && s.metrics != nil {
			s.metrics.StaleSavesRejected.Inc()
		}
		return fmt.Errorf("durable save: %w", err)
	}
	if err := s.cache.Save(ctx, *pack); err != nil {
		s.logger.WarnContext(ctx, "cache save failed; cache will lag until reconcile",
			"pack", pack.Key.String(), "error", err)
	}
	return nil
}

func (s *Service) classify(pack *Pack) window.Classification {
	return s.windows.Classify(pack.ArrivalAt, s.policies(pack.Key.Destination))
}

func (s *Service) publishChange(ctx context.Context, pack *Pack) {
	if s.events == nil {
		return
	}
	event := notify.PackEvent{
		PackKey:           pack.Key.String(),
		Status:            string(pack.Status),
		WindowState:       string(s.classify(pack).State),
		CompletionPercent: pack.Metrics.Percent,
		OccurredAt:        s.clock(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "pack event publish failed",
			"pack", pack.Key.String(), "error", err)
	}
}
