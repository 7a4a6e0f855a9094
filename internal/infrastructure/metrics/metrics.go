// Package metrics collects and exposes Prometheus metrics for progress
// computation and role synchronisation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the application layer reports to.
type Recorder interface {
	RecordComputation(duration time.Duration, cached bool)
	RecordSessionRecorded()
	RecordRoleChange(family, action string)
	RecordRoleSyncFailure(reason string)
}

// Role families and actions used as label values.
const (
	FamilyTier   = "tier"
	FamilyStreak = "streak"

	ActionGrant  = "grant"
	ActionRevoke = "revoke"
)

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	computations     *prometheus.CounterVec
	computeLatency   prometheus.Histogram
	sessionsRecorded prometheus.Counter
	roleChanges      *prometheus.CounterVec
	syncFailures     *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_progress_computations_total",
			Help: "Progress computations served, by cache outcome.",
		}, []string{"source"}),
		computeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloom_progress_compute_seconds",
			Help:    "Time spent loading sessions and computing progress.",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bloom_sessions_recorded_total",
			Help: "Meditation sessions appended to the store.",
		}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_role_changes_total",
			Help: "Roles granted or revoked on the community platform.",
		}, []string{"family", "action"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloom_role_sync_failures_total",
			Help: "Role synchronisations that did not complete.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.computations,
		c.computeLatency,
		c.sessionsRecorded,
		c.roleChanges,
		c.syncFailures,
	)

	return c
}

// RecordComputation records one progress read.
func (c *Collector) RecordComputation(duration time.Duration, cached bool) {
	source := "store"
	if cached {
		source = "cache"
	}
	c.computations.WithLabelValues(source).Inc()
	if !cached {
		c.computeLatency.Observe(duration.Seconds())
	}
}

// RecordSessionRecorded records an appended session.
func (c *Collector) RecordSessionRecorded() {
	c.sessionsRecorded.Inc()
}

// RecordRoleChange records a role grant or revoke.
func (c *Collector) RecordRoleChange(family, action string) {
	c.roleChanges.WithLabelValues(family, action).Inc()
}

// RecordRoleSyncFailure records a failed role sync.
func (c *Collector) RecordRoleSyncFailure(reason string) {
	c.syncFailures.WithLabelValues(reason).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordComputation(time.Duration, bool) {}
func (Nop) RecordSessionRecorded()                {}
func (Nop) RecordRoleChange(string, string)       {}
func (Nop) RecordRoleSyncFailure(string)          {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
