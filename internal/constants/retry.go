package constants

import "time"

// Dispatcher attempt loop.
const (
	// MaxRetryAttempts caps attempts per request; the effective count is
	// min(MaxRetryAttempts, max(1, poolSize)).
	MaxRetryAttempts = 3

	// BackoffBaseMs and BackoffMaxMs bound the exponential backoff between
	// retryable attempts: min(base*2^n*(1±BackoffJitter), max).
	BackoffBaseMs = 1000
	BackoffMaxMs  = 60000
	BackoffJitter = 0.1
)

// Cooldown durations applied by the rate-limit registry when the upstream
// response carries no usable hint.
const (
	CooldownForbidden      = 3600 * time.Second
	CooldownQuotaExhausted = 3600 * time.Second
	CooldownRateLimited    = 60 * time.Second
	CooldownServerError    = 30 * time.Second
)

// Rate-limit event log bounds.
const (
	RateLimitEventCap     = 1000
	RateLimitBodyTruncate = 500
)

// Pool scheduling.
const (
	// HotAccountWindow keeps the most recently used account preferred for
	// consecutive requests, which raises upstream cache hits.
	HotAccountWindow = 60 * time.Second

	// RefreshAheadWindow triggers a proactive token refresh when less than
	// this much lifetime remains.
	RefreshAheadWindow = 5 * time.Minute

	// DefaultMaxWaitSeconds bounds the CacheFirst cooldown sleep.
	DefaultMaxWaitSeconds = 60
)

// DefaultSessionTTL evicts idle session bindings.
const DefaultSessionTTL = 1 * time.Hour
