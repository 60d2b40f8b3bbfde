// Package metrics exposes the gateway's Prometheus collectors.
//
// Metrics:
//   - gateway_admission_stage_total: stage outcomes by stage and code
//   - gateway_admission_stage_duration_seconds: stage latency
//   - gateway_admission_cache_lookups_total: identity/plan cache hits and misses
//   - gateway_admission_soft_overage_total: requests admitted past a soft quota
//   - gateway_http_requests_total, gateway_http_request_duration_seconds
//   - gateway_circuit_breaker_state: 0 closed, 1 open, 2 half-open
package metrics

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Metrics holds every collector. It implements admission.Observer.
type Metrics struct {
	stageOutcomes *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	softOverages  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	breakerState *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		stageOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "stage_total",
				Help:      "Admission stage outcomes",
			},
			[]string{"stage", "outcome"},
		),

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "stage_duration_seconds",
				Help:      "Duration of admission stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~800ms
			},
			[]string{"stage"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "cache_lookups_total",
				Help:      "Identity and plan cache lookups",
			},
			[]string{"cache", "result"},
		),

		softOverages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "soft_overage_total",
				Help:      "Requests admitted past a soft monthly quota",
			},
			[]string{"plan"},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"breaker"},
		),
	}
}

func (m *Metrics) StageCompleted(stage, outcome string, elapsed time.Duration) {
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) SoftOverage(plan string) {
	m.softOverages.WithLabelValues(plan).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// BreakerStateChanged matches circuitbreaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}
