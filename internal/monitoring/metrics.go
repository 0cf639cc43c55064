package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ag2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ag2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag2api_upstream_requests_total",
			Help: "Total number of Cloud Code upstream requests",
		},
		[]string{"base", "method", "status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ag2api_upstream_request_duration_seconds",
			Help:    "Cloud Code upstream latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"base", "method", "status_class"},
	)

	AccountRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag2api_account_refreshes_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"status"},
	)

	AccountRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ag2api_account_rotations_total",
			Help: "Total number of round-robin account rotations",
		},
	)

	RateLimitedAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ag2api_rate_limited_accounts",
			Help: "Number of accounts currently in cooldown",
		},
	)

	RateLimitEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag2api_rate_limit_events_total",
			Help: "Total number of recorded rate-limit events",
		},
		[]string{"reason"},
	)

	SessionBindings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ag2api_session_bindings",
			Help: "Number of live session bindings",
		},
	)

	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag2api_dispatch_attempts_total",
			Help: "Dispatcher attempts by outcome",
		},
		[]string{"protocol", "outcome"},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ag2api_store_op_duration_seconds",
			Help:    "Persistent store operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "op", "status"},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ag2api_edge_limiter_keys",
			Help: "Number of live per-key edge limiters",
		},
	)
)

// StatusClass buckets an HTTP status for metric labels.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	switch code / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "error"
	}
}
