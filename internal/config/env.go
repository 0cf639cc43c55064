package config

import (
	"os"
	"strconv"
	"strings"
)

// LoadSettings resolves the bootstrap configuration: defaults, then the YAML
// file named by CONFIG_FILE (when present), then environment variables.
func LoadSettings() (*Settings, error) {
	s := DefaultSettings()

	if path := getenv("CONFIG_FILE", ""); path != "" {
		if err := loadSettingsFile(s, path); err != nil {
			return nil, err
		}
	}

	s.Host = getenv("HOST", s.Host)
	setIntFromEnv("PORT", func(n int) { s.Port = n })
	s.LogLevel = getenv("LOG_LEVEL", s.LogLevel)
	s.LogFile = getenv("LOG_FILE", s.LogFile)

	s.StoreBackend = getenv("STORE_BACKEND", s.StoreBackend)
	s.DBPath = getenv("DB_PATH", s.DBPath)
	s.RedisURL = getenv("REDIS_URL", s.RedisURL)
	s.MongoURI = getenv("MONGO_URI", s.MongoURI)
	s.MongoDB = getenv("MONGO_DB", s.MongoDB)
	s.PostgresDSN = getenv("POSTGRES_DSN", s.PostgresDSN)

	setFloatFromEnv("RATE_LIMIT_RPS", func(f float64) { s.RateLimitRPS = f })
	setIntFromEnv("RATE_LIMIT_BURST", func(n int) { s.RateLimitBurst = n })
	s.OTLPEndpoint = getenv("OTLP_ENDPOINT", s.OTLPEndpoint)

	s.UpstreamProxy = getenv("UPSTREAM_PROXY", s.UpstreamProxy)
	setIntFromEnv("UPSTREAM_TIMEOUT_SECONDS", func(n int) { s.UpstreamTimeoutSeconds = n })

	return s, nil
}

// ApplyEnvOverrides folds runtime-config environment overrides into a
// ProxyConfig. Env wins over the persisted row so that container deployments
// can pin behavior without touching the store.
func ApplyEnvOverrides(p *ProxyConfig) {
	if v := getenv("API_KEY", ""); v != "" {
		p.APIKey = v
	}
	if v := getenv("SCHEDULING_MODE", ""); v != "" {
		p.SchedulingMode = ParseSchedulingMode(v)
	}
	setToggleFromEnv("SESSION_STICKINESS", func(b bool) { p.SessionStickiness = b })
	setIntFromEnv("MAX_WAIT_SECONDS", func(n int) { p.MaxWaitSeconds = n })
	setIntFromEnv("SESSION_TTL_SECONDS", func(n int) { p.SessionTTLSeconds = n })

	if v := getenv("ANTHROPIC_BASE_URL", ""); v != "" {
		p.Anthropic.BaseURL = v
		p.Anthropic.Enabled = true
	}
	if v := getenv("ANTHROPIC_API_KEY", ""); v != "" {
		p.Anthropic.APIKey = v
	}
	if v := getenv("ANTHROPIC_DISPATCH_MODE", ""); v != "" {
		p.Anthropic.DispatchMode = v
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setIntFromEnv(key string, setter func(int)) {
	if v := getenv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			setter(n)
		}
	}
}

func setFloatFromEnv(key string, setter func(float64)) {
	if v := getenv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			setter(f)
		}
	}
}

func setToggleFromEnv(key string, setter func(bool)) {
	v := strings.ToLower(strings.TrimSpace(getenv(key, "")))
	if v == "" {
		return
	}
	switch v {
	case "1", "true", "yes", "on":
		setter(true)
	case "0", "false", "no", "off":
		setter(false)
	}
}
