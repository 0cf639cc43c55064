package constants

import "time"

const (
	// RequestDeadline spans one inbound request end to end: every upstream
	// attempt, backoff sleep, and CacheFirst wait counts against it.
	RequestDeadline = 300 * time.Second

	// OAuthRequestTimeout bounds a single token refresh or userinfo call.
	OAuthRequestTimeout = 30 * time.Second

	// ProjectFetchTimeout bounds one loadCodeAssist call.
	ProjectFetchTimeout = 30 * time.Second

	// MonitorWriteTimeout bounds the fire-and-forget monitor-log insert.
	MonitorWriteTimeout = 5 * time.Second

	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second
)

// Background maintenance cadence.
const (
	// SessionSweepInterval evicts expired session bindings.
	SessionSweepInterval = 1 * time.Minute

	// TokenRefreshSweepInterval runs the proactive pool refresh pass.
	TokenRefreshSweepInterval = 10 * time.Minute

	// DNSRefreshInterval re-resolves cached upstream hosts.
	DNSRefreshInterval = 5 * time.Minute

	// ConfigReloadInterval re-reads the persisted runtime config so changes
	// written by another process are picked up without a restart.
	ConfigReloadInterval = 5 * time.Minute

	// MonitorLogRetention is how long monitor rows survive the daily prune.
	MonitorLogRetention = 7 * 24 * time.Hour
)
