package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	PacksCreated         prometheus.Counter
	FieldSaves           prometheus.Counter
	StaleSavesRejected   prometheus.Counter
	SubmissionsRecorded  *prometheus.CounterVec
	ConflictsResolved    prometheus.Counter
	ReconcileUnknown     prometheus.Counter
	SnapshotsFrozen      *prometheus.CounterVec
	SnapshotsDeleted     prometheus.Counter
	PacksExpired         prometheus.Counter
	SaveLatencySeconds   prometheus.Histogram
	FreezeLatencySeconds prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		PacksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_packs_created_total",
			Help: "Total number of entry packs created on first field edit",
		}),
		FieldSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_field_saves_total",
			Help: "Total number of field save operations applied",
		}),
		StaleSavesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_stale_saves_rejected_total",
			Help: "Saves rejected because a newer revision was already persisted",
		}),
		SubmissionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "entrypack_submissions_recorded_total",
			Help: "Submission attempts recorded, by result",
		}, []string{"result"}),
		ConflictsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_conflicts_resolved_total",
			Help: "Cache/durable divergences resolved durable-wins",
		}),
		ReconcileUnknown: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_reconcile_unknown_total",
			Help: "Reconciliations that fell back to the cache value after a durable read failure",
		}),
		SnapshotsFrozen: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "entrypack_snapshots_frozen_total",
			Help: "Snapshots created, by reason",
		}, []string{"reason"}),
		SnapshotsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_snapshots_deleted_total",
			Help: "Snapshots explicitly deleted",
		}),
		PacksExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "entrypack_packs_expired_total",
			Help: "Packs moved to expired by the sweep",
		}),
		SaveLatencySeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "entrypack_save_latency_seconds",
			Help:    "Latency of dual-store field saves",
			Buckets: prometheus.DefBuckets,
		}),
		FreezeLatencySeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "entrypack_freeze_latency_seconds",
			Help:    "Latency of snapshot freeze operations including asset copies",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveSave records one save with its latency.
func (m *Metrics) ObserveSave(d time.Duration) {
	m.FieldSaves.Inc()
	m.SaveLatencySeconds.Observe(d.Seconds())
}

// ObserveFreeze records one snapshot freeze with its latency.
func (m *Metrics) ObserveFreeze(reason string, d time.Duration) {
	m.SnapshotsFrozen.WithLabelValues(reason).Inc()
	m.FreezeLatencySeconds.Observe(d.Seconds())
}
