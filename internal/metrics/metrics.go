// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dupeguard.ai/internal/engine/finding"
)

var (
	// Detection
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_findings_total",
			Help: "Exploits detected and neutralized, by category",
		},
		[]string{"category"},
	)

	IdentityFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_identity_findings_total",
			Help: "Per-identity finding counters mirrored from the violation registry",
		},
		[]string{"identity", "category"},
	)

	// Enforcement
	KicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_kicks_total",
			Help: "Kicks issued, by decision path",
		},
		[]string{"path"},
	)

	KickFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupeguard_kick_failures_total",
			Help: "Kick attempts the host rejected",
		},
	)

	TagsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupeguard_tags_applied_total",
			Help: "Punishment tags applied to actors",
		},
	)

	// Scanner
	ScanOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_scan_ops_total",
			Help: "Scanner budget units spent, by kind",
		},
		[]string{"kind"}, // "visit", "skip", "recovered"
	)

	ScanPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupeguard_scan_passes_total",
			Help: "Completed scanner passes over all actors",
		},
	)

	ScanTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dupeguard_scan_tick_duration_seconds",
			Help:    "Wall time spent in the scanner per tick",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	OnlineActors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dupeguard_online_actors",
			Help: "Actors seen at the start of the current pass",
		},
	)

	// Persistence
	StoreFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_store_flushes_total",
			Help: "Bounded store write attempts, by key and serialization outcome",
		},
		[]string{"key", "outcome"},
	)

	StoreFlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_store_flush_errors_total",
			Help: "Bounded store writes the backend rejected",
		},
		[]string{"key"},
	)

	StoreBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dupeguard_store_bytes",
			Help: "Size of the last serialized value per key",
		},
		[]string{"key"},
	)

	KVBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dupeguard_kv_breaker_state",
			Help: "KV circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	IncidentsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_incidents_archived_total",
			Help: "Incidents written to the compressed archive",
		},
		[]string{"status"}, // "ok", "error"
	)

	// Alerts and transport
	AlertsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupeguard_alerts_throttled_total",
			Help: "Public broadcasts dropped by the rate limiter",
		},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dupeguard_ws_clients",
			Help: "Connected alert stream clients",
		},
	)

	WSDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupeguard_ws_dropped_total",
			Help: "Alert frames dropped for slow clients",
		},
	)

	AdminRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupeguard_admin_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	AdminRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dupeguard_admin_request_duration_seconds",
			Help:    "Admin API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordFinding counts one finding.
func RecordFinding(c finding.Category) {
	FindingsTotal.WithLabelValues(string(c)).Inc()
}

// RecordScanTick accounts one scanner tick.
func RecordScanTick(visits, skips, recovered int, passComplete bool, d time.Duration) {
	if visits > 0 {
		ScanOps.WithLabelValues("visit").Add(float64(visits))
	}
	if skips > 0 {
		ScanOps.WithLabelValues("skip").Add(float64(skips))
	}
	if recovered > 0 {
		ScanOps.WithLabelValues("recovered").Add(float64(recovered))
	}
	if passComplete {
		ScanPasses.Inc()
	}
	ScanTickDuration.Observe(d.Seconds())
}

// RecordFlush accounts one bounded store write.
func RecordFlush(key, outcome string, bytes int, err error) {
	StoreFlushes.WithLabelValues(key, outcome).Inc()
	if err != nil {
		StoreFlushErrors.WithLabelValues(key).Inc()
		return
	}
	StoreBytes.WithLabelValues(key).Set(float64(bytes))
}

func RecordAdminRequest(method, route, status string, d time.Duration) {
	AdminRequests.WithLabelValues(method, route, status).Inc()
	AdminRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IdentityCounters mirrors registry counters into prometheus.
type IdentityCounters struct{}

func (IdentityCounters) Add(identity string, c finding.Category, delta int) {
	IdentityFindings.WithLabelValues(identity, string(c)).Add(float64(delta))
}
