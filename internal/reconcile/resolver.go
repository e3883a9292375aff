// Package reconcile keeps the cache store coherent with the durable store.
// The two stores persist the same record shape; after a crash mid-write the
// cache may hold an older (or missing) copy. Reconciliation is explicit and
// deterministic: the durable store wins, always, because it is the write
// target for every schema-validated mutation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"entrypack/internal/completion"
	"entrypack/internal/entrypack"
	"entrypack/internal/platform/metrics"
	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

// Verdict is the three-valued conflict outcome. Unknown means the durable
// read failed and the cache value was served as a best effort; nothing was
// fabricated and nothing was overwritten.
type Verdict string

const (
	VerdictNone     Verdict = "none"
	VerdictResolved Verdict = "resolved"
	VerdictUnknown  Verdict = "unknown"
)

// FieldDiff is one divergent field, cache value versus the durable value
// that replaced it.
type FieldDiff struct {
	Field   string `json:"field"`
	Cache   string `json:"cache"`
	Durable string `json:"durable"`
}

// Result reports one reconciliation.
type Result struct {
	Pack    entrypack.Pack `json:"pack"`
	Verdict Verdict        `json:"verdict"`
	Diffs   []FieldDiff    `json:"diffs,omitempty"`
}

// Resolver reconciles one pack key at a time. Idempotent: with no
// intervening writes, a second call finds both stores equal and does
// nothing.
type Resolver struct {
	durable entrypack.Store
	cache   entrypack.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewResolver(durable, cache entrypack.Store, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{durable: durable, cache: cache, metrics: m, logger: logger}
}

// Reconcile reads both stores and settles any divergence durable-wins.
//
// Outcomes:
//   - both equal: VerdictNone, no writes.
//   - cache missing: cold cache, not a conflict; the cache is warmed.
//   - divergent: cache overwritten with the durable value, VerdictResolved,
//     and every differing field reported as an old/new pair.
//   - durable read failed: the cache value is returned with VerdictUnknown
//     and the failure logged. Never an invented record.
//   - both missing: sentinel.ErrNotFound.
func (r *Resolver) Reconcile(ctx context.Context, key domain.PackKey) (Result, error) {
	cached, cacheErr := r.cache.Find(ctx, key)
	haveCache := cacheErr == nil
	if cacheErr != nil && !errors.Is(cacheErr, sentinel.ErrNotFound) {
		return Result{}, fmt.Errorf("cache read: %w", cacheErr)
	}

	durable, durableErr := r.durable.Find(ctx, key)
	if durableErr != nil {
		if errors.Is(durableErr, sentinel.ErrNotFound) {
			if haveCache {
				// The durable row is authoritative even by its absence, but a
				// record only ever reaches the cache through a durable write,
				// so this is a durable-side loss; keep serving the cache copy
				// and flag it.
				r.unknown(ctx, key, durableErr)
				return Result{Pack: cached, Verdict: VerdictUnknown}, nil
			}
			return Result{}, sentinel.ErrNotFound
		}
		if haveCache {
			r.unknown(ctx, key, durableErr)
			return Result{Pack: cached, Verdict: VerdictUnknown}, nil
		}
		return Result{}, fmt.Errorf("durable read: %w", durableErr)
	}

	if !haveCache {
		// Cold cache: warm it, report no conflict.
		if err := r.cache.Save(ctx, durable); err != nil {
			r.logger.WarnContext(ctx, "cache warm failed", "pack", key.String(), "error", err)
		}
		return Result{Pack: durable, Verdict: VerdictNone}, nil
	}

	diffs := diffPacks(cached, durable)
	if len(diffs) == 0 {
		return Result{Pack: durable, Verdict: VerdictNone}, nil
	}

	if err := r.cache.Save(ctx, durable); err != nil {
		return Result{}, fmt.Errorf("overwrite divergent cache entry: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ConflictsResolved.Inc()
	}
	r.logger.InfoContext(ctx, "cache conflict resolved durable-wins",
		"pack", key.String(), "fields", len(diffs))
	return Result{Pack: durable, Verdict: VerdictResolved, Diffs: diffs}, nil
}

func (r *Resolver) unknown(ctx context.Context, key domain.PackKey, cause error) {
	if r.metrics != nil {
		r.metrics.ReconcileUnknown.Inc()
	}
	r.logger.WarnContext(ctx, "durable read failed; serving cache value unverified",
		"pack", key.String(), "error", cause)
}

// diffPacks lists every field-level divergence between the cache and
// durable copies of a record. Field names are namespaced by category so a
// report line reads like "passport.expiry_date".
func diffPacks(cache, durable entrypack.Pack) []FieldDiff {
	var diffs []FieldDiff

	for _, c := range []completion.Category{completion.CategoryPassport, completion.CategoryPersonal, completion.CategoryTravel} {
		diffs = append(diffs, diffMaps(string(c), scalarPayload(cache, c), scalarPayload(durable, c))...)
	}
	diffs = append(diffs, diffFunds(cache.Funds, durable.Funds)...)

	if cache.Status != durable.Status {
		diffs = append(diffs, FieldDiff{Field: "status", Cache: string(cache.Status), Durable: string(durable.Status)})
	}
	if cache.Revision != durable.Revision {
		diffs = append(diffs, FieldDiff{
			Field:   "revision",
			Cache:   strconv.FormatInt(cache.Revision, 10),
			Durable: strconv.FormatInt(durable.Revision, 10),
		})
	}
	if len(cache.SubmissionHistory) != len(durable.SubmissionHistory) {
		diffs = append(diffs, FieldDiff{
			Field:   "submissionHistory",
			Cache:   strconv.Itoa(len(cache.SubmissionHistory)) + " attempts",
			Durable: strconv.Itoa(len(durable.SubmissionHistory)) + " attempts",
		})
	}
	return diffs
}

func scalarPayload(p entrypack.Pack, c completion.Category) map[string]string {
	return p.ScalarPayloads()[c]
}

func diffMaps(prefix string, cache, durable map[string]string) []FieldDiff {
	seen := make(map[string]bool, len(cache)+len(durable))
	for k := range cache {
		seen[k] = true
	}
	for k := range durable {
		seen[k] = true
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)

	var diffs []FieldDiff
	for _, name := range names {
		if cache[name] != durable[name] {
			diffs = append(diffs, FieldDiff{
				Field:   prefix + "." + name,
				Cache:   cache[name],
				Durable: durable[name],
			})
		}
	}
	return diffs
}

func diffFunds(cache, durable []entrypack.FundItem) []FieldDiff {
	if len(cache) != len(durable) {
		return []FieldDiff{{
			Field:   "funds",
			Cache:   strconv.Itoa(len(cache)) + " items",
			Durable: strconv.Itoa(len(durable)) + " items",
		}}
	}
	var diffs []FieldDiff
	for i := range durable {
		if cache[i] != durable[i] {
			diffs = append(diffs, FieldDiff{
				Field:   "funds." + durable[i].ID,
				Cache:   fmt.Sprintf("%s %s %.2f", cache[i].Type, cache[i].Currency, cache[i].Amount),
				Durable: fmt.Sprintf("%s %s %.2f", durable[i].Type, durable[i].Currency, durable[i].Amount),
			})
		}
	}
	return diffs
}
