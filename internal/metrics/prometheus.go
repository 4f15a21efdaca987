package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_report_duration_seconds",
			Help:    "Health report generation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	SubtaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_subtask_duration_seconds",
			Help:    "Duration of individual sub-score and detector runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"task"},
	)

	SubtaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_subtask_failures_total",
			Help: "Sub-scores that fell back to their default and detectors that failed",
		},
		[]string{"task"},
	)

	HealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockpulse_health_score",
			Help: "Latest overall inventory health score per tenant",
		},
		[]string{"tenant_id"},
	)

	AlertsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_alerts_detected_total",
			Help: "Candidate alerts emitted by detectors",
		},
		[]string{"type", "severity"},
	)

	AlertsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_alerts_persisted_total",
			Help: "Alerts written after deduplication",
		},
		[]string{"type"},
	)

	AlertsDismissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_alerts_dismissed_total",
			Help: "Alerts dismissed by users",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"key_kind"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockpulse_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(ReportDuration)
	prometheus.MustRegister(SubtaskDuration)
	prometheus.MustRegister(SubtaskFailures)
	prometheus.MustRegister(HealthScore)
	prometheus.MustRegister(AlertsDetected)
	prometheus.MustRegister(AlertsPersisted)
	prometheus.MustRegister(AlertsDismissed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(BreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
