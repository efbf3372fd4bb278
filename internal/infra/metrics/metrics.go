// Package metrics exposes Prometheus collectors for the resilience shell,
// agents, coordinator, and HTTP gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provider metrics
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_provider_calls_total",
			Help: "Total provider calls made through the resilience shell",
		},
		[]string{"provider", "status"}, // status: success|error|cache_hit|degraded
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplyintel_provider_latency_seconds",
			Help:    "Provider call latency in seconds, including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	ProviderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_provider_retries_total",
			Help: "Retry attempts after transient provider errors",
		},
		[]string{"provider"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supplyintel_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	DegradedFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_degraded_fallbacks_total",
			Help: "Fallback responses served instead of a provider result",
		},
		[]string{"provider", "reason"}, // reason: circuit_open|retries_exhausted|quality_rejected|parse_failed
	)

	CacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supplyintel_cache_entries",
			Help: "Entries held in the response cache",
		},
		[]string{"cache"},
	)

	// Agent metrics
	AgentRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_agent_runs_total",
			Help: "Agent invocations",
		},
		[]string{"role", "status"}, // status: success|failed|degraded
	)

	AgentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplyintel_agent_duration_seconds",
			Help:    "Agent processing time in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"role"},
	)

	// Coordinator metrics
	CoordinatorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_coordinator_requests_total",
			Help: "Coordinator requests by resolved intent",
		},
		[]string{"intent", "status"},
	)

	// HTTP metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	WatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyintel_watch_runs_total",
			Help: "Scheduled watchlist task executions",
		},
		[]string{"task", "status"},
	)
)

func init() {
	prometheus.MustRegister(ProviderCalls)
	prometheus.MustRegister(ProviderLatency)
	prometheus.MustRegister(ProviderRetries)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(DegradedFallbacks)
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(AgentRuns)
	prometheus.MustRegister(AgentDuration)
	prometheus.MustRegister(CoordinatorRequests)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(WatchRuns)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProviderCall records one shell call against a provider.
func RecordProviderCall(provider, status string, latency time.Duration) {
	ProviderCalls.WithLabelValues(provider, status).Inc()
	if status != "cache_hit" {
		ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

// RecordRetry counts a retry attempt.
func RecordRetry(provider string) {
	ProviderRetries.WithLabelValues(provider).Inc()
}

// RecordDegraded counts a fallback served for provider.
func RecordDegraded(provider, reason string) {
	DegradedFallbacks.WithLabelValues(provider, reason).Inc()
}

// SetBreakerState publishes breaker state as 0 closed, 1 half-open, 2 open.
func SetBreakerState(provider string, state float64) {
	BreakerState.WithLabelValues(provider).Set(state)
}

// SetCacheSize publishes the current cache size.
func SetCacheSize(cache string, n int) {
	CacheSize.WithLabelValues(cache).Set(float64(n))
}

// RecordAgentRun records an agent invocation outcome.
func RecordAgentRun(role string, success, degraded bool, d time.Duration) {
	status := "success"
	switch {
	case !success:
		status = "failed"
	case degraded:
		status = "degraded"
	}
	AgentRuns.WithLabelValues(role, status).Inc()
	AgentDuration.WithLabelValues(role).Observe(d.Seconds())
}

// RecordCoordinatorRequest records a completed coordinator request.
func RecordCoordinatorRequest(intent string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	CoordinatorRequests.WithLabelValues(intent, status).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route, code string) {
	HTTPRequests.WithLabelValues(route, code).Inc()
}

// RecordWatchRun records a watchlist task execution.
func RecordWatchRun(task string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	WatchRuns.WithLabelValues(task, status).Inc()
}
