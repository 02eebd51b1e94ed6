// Package observability provides Prometheus metrics for the cache and sync paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the dispatcher, the sync
// engine, and the snapshot persistence path. A nil *Metrics is valid and
// disables collection, so components never need to guard call sites.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	persistSkipped  prometheus.Counter
	generationsSwep prometheus.Counter
}

// New registers the collectors on the given registerer.
// Pass prometheus.DefaultRegisterer for normal operation.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evknews_cache_lookups_total",
			Help: "Cache lookups by strategy and result (hit or miss).",
		}, []string{"strategy", "result"}),
		syncOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evknews_sync_outcomes_total",
			Help: "Feed synchronization outcomes (updated, not_modified, failed).",
		}, []string{"outcome"}),
		persistSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "evknews_snapshot_persist_skipped_total",
			Help: "Snapshot writes skipped because the payload exceeded the byte ceiling or storage failed.",
		}),
		generationsSwep: factory.NewCounter(prometheus.CounterOpts{
			Name: "evknews_generations_swept_total",
			Help: "Stale cache generations deleted during activation.",
		}),
	}
}

// CacheLookup records a cache hit or miss for the given strategy.
func (m *Metrics) CacheLookup(strategy string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(strategy, result).Inc()
}

// SyncOutcome records the terminal outcome of one sync attempt.
func (m *Metrics) SyncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(outcome).Inc()
}

// SnapshotPersistSkipped records one silently skipped snapshot write.
func (m *Metrics) SnapshotPersistSkipped() {
	if m == nil {
		return
	}
	m.persistSkipped.Inc()
}

// GenerationsSwept records stale generations removed by activation.
func (m *Metrics) GenerationsSwept(n int) {
	if m == nil {
		return
	}
	m.generationsSwep.Add(float64(n))
}
