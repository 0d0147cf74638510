// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	API       APIConfig       `mapstructure:"api"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	KEV       KEVConfig       `mapstructure:"kev"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Internal  InternalConfig  `mapstructure:"internal"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	// Backend selects the cache implementation: memory or redis.
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// RedisConfig holds Redis configuration for the redis cache backend.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// UpstreamConfig holds settings shared by the NVD, EPSS and OSV clients.
type UpstreamConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	UserAgent    string        `mapstructure:"user_agent"`
	NVDBaseURL   string        `mapstructure:"nvd_base_url"`
	EPSSBaseURL  string        `mapstructure:"epss_base_url"`
	OSVBaseURL   string        `mapstructure:"osv_base_url"`
	NVDAPIKey    string        `mapstructure:"nvd_api_key"`
}

// KEVConfig holds KEV catalog manager configuration.
type KEVConfig struct {
	FeedURL      string        `mapstructure:"feed_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	CachePath    string        `mapstructure:"cache_path"`
	// RefreshHours is kept as a string so a malformed value degrades to
	// the default instead of failing the config load.
	RefreshHours      string `mapstructure:"refresh_hours"`
	SchedulerDisabled bool   `mapstructure:"scheduler_disabled"`
}

// RefreshInterval returns the scheduler interval. A non-numeric,
// non-positive, or non-finite value falls back to 6h silently.
func (c *KEVConfig) RefreshInterval() time.Duration {
	h, err := strconv.ParseFloat(strings.TrimSpace(c.RefreshHours), 64)
	if err != nil || h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) || h > 24*365 {
		h = 6
	}
	return time.Duration(h * float64(time.Hour))
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Window          time.Duration `mapstructure:"window"`
	MaxRequests     int           `mapstructure:"max_requests"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CaptchaConfig holds Cloudflare Turnstile configuration.
type CaptchaConfig struct {
	SiteKey   string `mapstructure:"site_key"`
	SecretKey string `mapstructure:"secret_key"`
	VerifyURL string `mapstructure:"verify_url"`
}

// Enabled reports whether CAPTCHA verification is active.
func (c *CaptchaConfig) Enabled() bool {
	return c.SecretKey != ""
}

// InternalConfig holds settings for internal endpoints.
type InternalConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set prefix for environment variables
	v.SetEnvPrefix("SECSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Bind environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validateProduction(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// validateProduction ensures critical configuration is set for non-development environments.
func (c *Config) validateProduction() error {
	if c.Env == "development" || c.Env == "dev" || c.Env == "test" {
		return nil
	}

	var missing []string

	if c.Internal.CronSecret == "" {
		missing = append(missing, "SECSCORE_INTERNAL_CRON_SECRET")
	}

	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		missing = append(missing, "SECSCORE_REDIS_ADDR")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration for %s environment: %s",
			c.Env, strings.Join(missing, ", "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Application
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	// API
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "10s")

	// Response cache
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_entries", 2000)

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)

	// Upstream clients
	v.SetDefault("upstream.timeout", "5s")
	v.SetDefault("upstream.retry_max", 2)
	v.SetDefault("upstream.retry_wait_min", "200ms")
	v.SetDefault("upstream.retry_wait_max", "400ms")
	v.SetDefault("upstream.user_agent", "secscore/1.0 (+https://secscore.dev)")
	v.SetDefault("upstream.nvd_base_url", "https://services.nvd.nist.gov/rest/json/cves/2.0")
	v.SetDefault("upstream.epss_base_url", "https://api.first.org/data/v1/epss")
	v.SetDefault("upstream.osv_base_url", "https://api.osv.dev/v1/vulns")

	// KEV
	v.SetDefault("kev.feed_url", "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json")
	v.SetDefault("kev.fetch_timeout", "10s")
	v.SetDefault("kev.cache_path", "data/kev_cache.json")
	v.SetDefault("kev.refresh_hours", "6")
	v.SetDefault("kev.scheduler_disabled", false)

	// Rate limiting
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.max_requests", 120)
	v.SetDefault("rate_limit.cleanup_interval", "5m")

	// Captcha
	v.SetDefault("captcha.site_key", "")
	v.SetDefault("captcha.secret_key", "")
	v.SetDefault("captcha.verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing
	v.SetDefault("tracing.enabled", false)
}

func bindEnvVars(v *viper.Viper) error {
	envVars := []string{
		"env",
		"log_level",
		"api.host",
		"api.port",
		"api.read_timeout",
		"api.write_timeout",
		"api.shutdown_timeout",
		"cache.backend",
		"cache.ttl",
		"cache.max_entries",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.max_retries",
		"upstream.timeout",
		"upstream.retry_max",
		"upstream.retry_wait_min",
		"upstream.retry_wait_max",
		"upstream.user_agent",
		"upstream.nvd_base_url",
		"upstream.epss_base_url",
		"upstream.osv_base_url",
		"upstream.nvd_api_key",
		"kev.feed_url",
		"kev.fetch_timeout",
		"kev.cache_path",
		"kev.refresh_hours",
		"kev.scheduler_disabled",
		"rate_limit.enabled",
		"rate_limit.window",
		"rate_limit.max_requests",
		"rate_limit.cleanup_interval",
		"captcha.site_key",
		"captcha.secret_key",
		"captcha.verify_url",
		"internal.cron_secret",
		"metrics.enabled",
		"metrics.path",
		"tracing.enabled",
	}

	for _, key := range envVars {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	return nil
}

// Address returns the API server address.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
