package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"entrypack/internal/completion"
	"entrypack/internal/entrypack"
	"entrypack/internal/platform/metrics"
	"entrypack/pkg/domain"
)

var tracer = otel.Tracer("entrypack/snapshot")

// Engine owns every snapshot and its audit trail. Freeze is the only way a
// snapshot comes to exist; Delete is the only way one goes away, and even
// then its audit trail stays.
type Engine struct {
	store   Store
	audit   AuditStore
	assets  AssetCopier
	schema  completion.Schema
	metrics *metrics.Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// EngineOption tweaks Engine construction.
type EngineOption func(*Engine)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, audit AuditStore, assets AssetCopier, schema completion.Schema, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		audit:  audit,
		assets: assets,
		schema: schema,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Freeze deep-copies the pack's data into a new immutable snapshot:
// payloads copied by value, latest successful submission resolved from the
// history, completeness recomputed at freeze time, photos copied into the
// snapshot's own asset namespace, version one past the pack's previous
// snapshot. Exactly one created audit event is appended.
func (e *Engine) Freeze(ctx context.Context, pack entrypack.Pack, reason entrypack.FreezeReason) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Freeze")
	defer span.End()
	start := e.clock()

	version, err := e.store.MaxVersion(ctx, pack.Key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve snapshot version: %w", err)
	}

	frozen := pack.Clone()
	snap := Snapshot{
		ID:         uuid.New(),
		SourcePack: pack.Key,
		Version:    version + 1,
		CreatedAt:  e.clock(),
		Reason:     reason,
		Passport:   frozen.Passport,
		Personal:   frozen.Personal,
		Funds:      frozen.Funds,
		Travel:     frozen.Travel,
		Completeness: completion.Compute(
			e.schema, frozen.ScalarPayloads(), len(frozen.Funds),
		).States(),
	}
	if snap.Passport == nil {
		snap.Passport = map[string]string{}
	}
	if snap.Personal == nil {
		snap.Personal = map[string]string{}
	}
	if snap.Travel == nil {
		snap.Travel = map[string]string{}
	}
	if latest := frozen.LatestSuccessfulSubmission(); latest != nil {
		snap.LatestSubmission = latest
	}

	snap.PhotoManifest = e.copyAssets(ctx, snap.ID, frozen.Funds)

	if err := e.store.Insert(ctx, snap); err != nil {
		// Roll the asset copies back; the freeze did not happen.
		if rmErr := e.assets.RemoveAll(ctx, snap.ID); rmErr != nil {
			e.logger.WarnContext(ctx, "orphaned snapshot assets after failed insert",
				"snapshot", snap.ID.String(), "error", rmErr)
		}
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	// Every snapshot carries a created event; an unlogged freeze would be
	// undetectable by the trail, so a failed append undoes the insert.
	if err := e.audit.Append(ctx, AuditEvent{
		SnapshotID: snap.ID,
		Timestamp:  e.clock(),
		Type:       EventCreated,
		Metadata: map[string]string{
			"reason":  string(reason),
			"version": fmt.Sprintf("%d", snap.Version),
			"pack":    pack.Key.String(),
		},
	}); err != nil {
		if delErr := e.store.Delete(ctx, snap.ID); delErr != nil {
			e.logger.ErrorContext(ctx, "snapshot rollback after failed created event",
				"snapshot", snap.ID.String(), "error", delErr)
		}
		if rmErr := e.assets.RemoveAll(ctx, snap.ID); rmErr != nil {
			e.logger.WarnContext(ctx, "orphaned snapshot assets after failed created event",
				"snapshot", snap.ID.String(), "error", rmErr)
		}
		return Snapshot{}, fmt.Errorf("append created event: %w", err)
	}

	// Earlier snapshots of the same pack get a statusChanged event: their
	// source has moved on and a newer freeze exists.
	if snap.Version > 1 {
		priors, err := e.store.ListBySource(ctx, pack.Key)
		if err != nil {
			e.logger.WarnContext(ctx, "listing prior snapshots for status events",
				"pack", pack.Key.String(), "error", err)
		} else {
			for _, prior := range priors {
				if prior.ID == snap.ID {
					continue
				}
				e.appendEvent(ctx, prior.ID, EventStatusChanged, map[string]string{
					"reason":        string(reason),
					"latestVersion": fmt.Sprintf("%d", snap.Version),
				})
			}
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveFreeze(string(reason), e.clock().Sub(start))
	}
	return snap.Clone(), nil
}

// copyAssets walks the funds photos. A vanished source becomes a
// missing-asset marker in the manifest rather than failing the freeze.
func (e *Engine) copyAssets(ctx context.Context, snapshotID uuid.UUID, funds []entrypack.FundItem) []AssetRef {
	manifest := make([]AssetRef, 0, len(funds))
	for _, item := range funds {
		if item.PhotoPath == "" {
			continue
		}
		ref := AssetRef{FundItemID: item.ID, CopiedAt: e.clock()}
		path, err := e.assets.Copy(ctx, snapshotID, item.ID, item.PhotoPath)
		switch {
		case errors.Is(err, ErrAssetMissing):
			ref.Missing = true
			e.logger.WarnContext(ctx, "source photo missing at freeze time",
				"snapshot", snapshotID.String(), "fundItem", item.ID)
		case err != nil:
			// Treat copy failures like missing sources: the snapshot's data
			// still freezes, the manifest records the gap.
			ref.Missing = true
			e.logger.WarnContext(ctx, "photo copy failed",
				"snapshot", snapshotID.String(), "fundItem", item.ID, "error", err)
		default:
			ref.Path = path
		}
		manifest = append(manifest, ref)
	}
	return manifest
}

// Describe returns the snapshot without recording a view. The transport
// layer uses it to check ownership before the audited accessors run.
func (e *Engine) Describe(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	return e.store.Find(ctx, id)
}

// View returns a copy of the frozen record and appends a viewed audit event.
func (e *Engine) View(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	snap, err := e.store.Find(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	e.appendEvent(ctx, id, EventViewed, nil)
	return snap, nil
}

// ListBySource returns copies of every snapshot of one pack. Listing is not
// a view of any single snapshot, so no audit events are appended.
func (e *Engine) ListBySource(ctx context.Context, key domain.PackKey) ([]Snapshot, error) {
	return e.store.ListBySource(ctx, key)
}

// Export hands the frozen payloads and the audit trail (including this
// export) to the caller, appending an exported event.
func (e *Engine) Export(ctx context.Context, id uuid.UUID) (Export, error) {
	snap, err := e.store.Find(ctx, id)
	if err != nil {
		return Export{}, err
	}
	e.appendEvent(ctx, id, EventExported, nil)
	events, err := e.audit.ListBySnapshot(ctx, id)
	if err != nil {
		return Export{}, fmt.Errorf("load audit trail: %w", err)
	}
	return Export{Snapshot: snap, Events: events}, nil
}

// AuditTrail returns the full append-only trail for a snapshot ID. Works
// for deleted snapshots too; the trail is never removed.
func (e *Engine) AuditTrail(ctx context.Context, id uuid.UUID) ([]AuditEvent, error) {
	return e.audit.ListBySnapshot(ctx, id)
}

// Delete is the explicit removal operation: final deleted audit event
// first, then the record and its asset copies. It never happens implicitly.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "snapshot.Delete")
	defer span.End()

	if _, err := e.store.Find(ctx, id); err != nil {
		return err
	}

	// The deleted event lands before physical removal so the trail can
	// never show a removal that was not logged.
	if err := e.audit.Append(ctx, AuditEvent{
		SnapshotID: id,
		Timestamp:  e.clock(),
		Type:       EventDeleted,
	}); err != nil {
		return fmt.Errorf("append deleted event: %w", err)
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if err := e.assets.RemoveAll(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "snapshot asset cleanup failed",
			"snapshot", id.String(), "error", err)
	}
	if e.metrics != nil {
		e.metrics.SnapshotsDeleted.Inc()
	}
	return nil
}

func (e *Engine) appendEvent(ctx context.Context, id uuid.UUID, kind EventType, metadata map[string]string) {
	err := e.audit.Append(ctx, AuditEvent{
		SnapshotID: id,
		Timestamp:  e.clock(),
		Type:       kind,
		Metadata:   metadata,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "audit append failed",
			"snapshot", id.String(), "event", string(kind), "error", err)
	}
}
