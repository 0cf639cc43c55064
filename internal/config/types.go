package config

import "time"

// SchedulingMode selects how the token pool balances session affinity against
// rotation.
type SchedulingMode string

const (
	// CacheFirst keeps a session pinned to its account, sleeping through
	// short cooldowns rather than switching.
	CacheFirst SchedulingMode = "cache-first"
	// Balanced keeps session affinity but switches immediately when the
	// bound account is cooled down.
	Balanced SchedulingMode = "balanced"
	// PerformanceFirst ignores affinity and rotates round-robin.
	PerformanceFirst SchedulingMode = "performance-first"
)

// ParseSchedulingMode normalizes a config string; unknown values map to
// Balanced.
func ParseSchedulingMode(s string) SchedulingMode {
	switch SchedulingMode(s) {
	case CacheFirst, Balanced, PerformanceFirst:
		return SchedulingMode(s)
	default:
		return Balanced
	}
}

// Settings is the static bootstrap configuration resolved once at startup
// from environment variables and the optional YAML file. Everything that can
// change at runtime lives in ProxyConfig instead.
type Settings struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	// Store selection. DBPath backs the default sqlite store; the other
	// backends activate when their connection string is set.
	StoreBackend string `yaml:"store_backend" json:"store_backend"`
	DBPath       string `yaml:"db_path" json:"db_path"`
	RedisURL     string `yaml:"redis_url" json:"redis_url"`
	MongoURI     string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDB      string `yaml:"mongo_db" json:"mongo_db"`
	PostgresDSN  string `yaml:"postgres_dsn" json:"postgres_dsn"`

	// Edge limiter (requests per second per API key or client IP);
	// zero disables it.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	// Outbound proxy for upstream calls; empty falls back to the
	// standard proxy environment variables.
	UpstreamProxy string `yaml:"upstream_proxy" json:"upstream_proxy"`
	// UpstreamTimeoutSeconds caps one upstream call across all base URLs.
	UpstreamTimeoutSeconds int `yaml:"upstream_timeout_seconds" json:"upstream_timeout_seconds"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// ModelMappings holds the three resolution layers the router consults, most
// specific first.
type ModelMappings struct {
	Custom    map[string]string `yaml:"custom" json:"custom"`
	OpenAI    map[string]string `yaml:"openai" json:"openai"`
	Anthropic map[string]string `yaml:"anthropic" json:"anthropic"`
}

// AnthropicProvider configures the optional passthrough to an
// Anthropic-compatible endpoint for claude-* models.
type AnthropicProvider struct {
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	BaseURL      string            `yaml:"base_url" json:"baseUrl"`
	APIKey       string            `yaml:"api_key" json:"apiKey"`
	DispatchMode string            `yaml:"dispatch_mode" json:"dispatchMode"`
	ModelMapping map[string]string `yaml:"model_mapping" json:"modelMapping"`
}

// Anthropic dispatch modes.
const (
	DispatchOff      = "off"
	DispatchAlways   = "always"
	DispatchFallback = "fallback"
)

// ProxyConfig is the runtime-mutable configuration singleton. It is persisted
// in the store, cached in-process, and observed by the dispatcher and router
// through Manager snapshots.
type ProxyConfig struct {
	APIKey            string            `yaml:"api_key" json:"apiKey"`
	SchedulingMode    SchedulingMode    `yaml:"scheduling_mode" json:"schedulingMode"`
	SessionStickiness bool              `yaml:"session_stickiness" json:"sessionStickiness"`
	MaxWaitSeconds    int               `yaml:"max_wait_seconds" json:"maxWaitSeconds"`
	SessionTTLSeconds int               `yaml:"session_ttl_seconds" json:"sessionTtlSeconds"`
	AllowedModels     []string          `yaml:"allowed_models" json:"allowedModels"`
	ModelMappings     ModelMappings     `yaml:"model_mappings" json:"modelMappings"`
	Anthropic         AnthropicProvider `yaml:"anthropic" json:"anthropic"`
}

// SessionTTL returns the binding idle TTL as a duration.
func (p *ProxyConfig) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLSeconds) * time.Second
}

// Clone returns a deep copy so snapshot readers never share maps with
// writers.
func (p *ProxyConfig) Clone() *ProxyConfig {
	out := *p
	out.AllowedModels = append([]string(nil), p.AllowedModels...)
	out.ModelMappings.Custom = cloneMap(p.ModelMappings.Custom)
	out.ModelMappings.OpenAI = cloneMap(p.ModelMappings.OpenAI)
	out.ModelMappings.Anthropic = cloneMap(p.ModelMappings.Anthropic)
	out.Anthropic.ModelMapping = cloneMap(p.Anthropic.ModelMapping)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
