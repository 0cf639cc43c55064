package config

import (
	"time"

	"ag2api-go/internal/constants"
)

// DefaultSettings returns the bootstrap defaults before env and file
// overrides apply.
func DefaultSettings() *Settings {
	return &Settings{
		Host:         "127.0.0.1",
		Port:         8094,
		LogLevel:     "info",
		StoreBackend: "sqlite",
		DBPath:       "ag2api.db",
		MongoDB:      "ag2api",
	}
}

// DefaultProxyConfig returns the runtime config used until the store has a
// persisted row.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		SchedulingMode:    Balanced,
		SessionStickiness: true,
		MaxWaitSeconds:    constants.DefaultMaxWaitSeconds,
		SessionTTLSeconds: int(constants.DefaultSessionTTL / time.Second),
		Anthropic: AnthropicProvider{
			DispatchMode: DispatchOff,
		},
	}
}
