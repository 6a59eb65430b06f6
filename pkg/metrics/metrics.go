// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "protocol_engine"

// Outcome labels shared by the domain counters.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeNotFound  = "not_found"
	OutcomeForbidden = "forbidden"
	OutcomeInvalid   = "invalid"
	OutcomeConflict  = "conflict"
)

// Metrics bundles the HTTP and domain collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	protocolOperations *prometheus.CounterVec
	historyEntries     prometheus.Counter

	siteMatchRuns     *prometheus.CounterVec
	siteMatchDuration prometheus.Histogram
	sitesScored       prometheus.Counter
	sitesSkipped      prometheus.Counter
	compatibility     prometheus.Histogram

	complianceScores prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		protocolOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_operations_total",
			Help:      "Protocol service calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		historyEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_history_entries_total",
			Help:      "History entries appended by successful updates",
		}),

		siteMatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_match_runs_total",
			Help:      "Site matching runs by outcome",
		}, []string{"outcome"}),
		siteMatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "site_match_duration_seconds",
			Help:      "Time taken to score and persist a candidate pool",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		sitesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_match_sites_scored_total",
			Help:      "Candidate sites scored and persisted",
		}),
		sitesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_match_sites_skipped_total",
			Help:      "Candidate sites skipped because their record could not be persisted",
		}),
		compatibility: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "site_compatibility_score",
			Help:      "Distribution of computed compatibility scores",
			Buckets:   prometheus.LinearBuckets(1, 0.5, 9), // 1.0 to 5.0
		}),

		complianceScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compliance_score",
			Help:      "Distribution of simulated compliance scores",
			Buckets:   prometheus.LinearBuckets(70, 5, 7), // 70 to 100
		}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequestsTotal, m.httpRequestDuration,
		m.protocolOperations, m.historyEntries,
		m.siteMatchRuns, m.siteMatchDuration, m.sitesScored, m.sitesSkipped, m.compatibility,
		m.complianceScores,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveHTTPRequest records one served request. route is the ServeMux pattern.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ProtocolOperation counts one protocol service call.
func (m *Metrics) ProtocolOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.protocolOperations.WithLabelValues(operation, outcome).Inc()
}

// HistoryAppended counts a history entry written by an update.
func (m *Metrics) HistoryAppended() {
	if m == nil {
		return
	}
	m.historyEntries.Inc()
}

// SiteMatchRun records a completed or failed matching run.
func (m *Metrics) SiteMatchRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.siteMatchRuns.WithLabelValues(outcome).Inc()
	m.siteMatchDuration.Observe(elapsed.Seconds())
}

// SiteScored records a persisted compatibility score.
func (m *Metrics) SiteScored(score float64) {
	if m == nil {
		return
	}
	m.sitesScored.Inc()
	m.compatibility.Observe(score)
}

// SiteSkipped counts a candidate dropped from a run.
func (m *Metrics) SiteSkipped() {
	if m == nil {
		return
	}
	m.sitesSkipped.Inc()
}

// ComplianceEvaluated records a simulated compliance score.
func (m *Metrics) ComplianceEvaluated(score int) {
	if m == nil {
		return
	}
	m.complianceScores.Observe(float64(score))
}
