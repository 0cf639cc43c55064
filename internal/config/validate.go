package config

import (
	"fmt"
	"os"
	"time"
)

// Validate rejects configurations the dispatcher cannot run with.
func Validate(p *ProxyConfig) error {
	switch p.SchedulingMode {
	case CacheFirst, Balanced, PerformanceFirst:
	default:
		return fmt.Errorf("invalid scheduling mode %q", p.SchedulingMode)
	}
	if p.MaxWaitSeconds < 0 {
		return fmt.Errorf("maxWaitSeconds must be >= 0, got %d", p.MaxWaitSeconds)
	}
	if p.SessionTTLSeconds < 0 {
		return fmt.Errorf("sessionTtlSeconds must be >= 0, got %d", p.SessionTTLSeconds)
	}
	switch p.Anthropic.DispatchMode {
	case "", DispatchOff, DispatchAlways, DispatchFallback:
	default:
		return fmt.Errorf("invalid anthropic dispatch mode %q", p.Anthropic.DispatchMode)
	}
	if p.Anthropic.Enabled && p.Anthropic.DispatchMode != DispatchOff && p.Anthropic.BaseURL == "" {
		return fmt.Errorf("anthropic provider enabled without a base URL")
	}
	return nil
}

// ValidateSettings rejects unusable bootstrap settings.
func ValidateSettings(s *Settings) error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	switch s.StoreBackend {
	case "sqlite", "redis", "mongo", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", s.StoreBackend)
	}
	return nil
}

func statFile(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
