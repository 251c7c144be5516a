package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	TFConnect TFConnectConfig
	Cache     CacheConfig
	Account   AccountConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string
}

// TFConnectConfig holds the identity provider and login policy settings.
type TFConnectConfig struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	AppID          string   `yaml:"app_id"`
	WebsocketURL   string   `yaml:"websocket_url"`
	RedirectURI    string   `yaml:"redirect_uri"`
	ServerName     string   `yaml:"server_name"`
	Scope          string   `yaml:"scope"`
	DevMode        bool     `yaml:"dev_mode"`
	DevAPIBase     string   `yaml:"dev_api_base_url"`
	DevWebsocket   string   `yaml:"dev_websocket_url"`
	AllowedDomains []string `yaml:"allowed_domains"`

	MaxLoginAttempts int `yaml:"max_login_attempts"`

	// Second-granularity fields as they appear in the YAML file; the
	// derived durations below are what the rest of the code uses.
	SessionTimeoutSec  int `yaml:"session_timeout"`
	RateLimitWindowSec int `yaml:"rate_limit_window"`
	UserCacheTTLSec    int `yaml:"user_cache_ttl"`
	TokenCacheTTLSec   int `yaml:"token_cache_ttl"`

	SessionTimeout  time.Duration `yaml:"-"`
	RateLimitWindow time.Duration `yaml:"-"`
	UserCacheTTL    time.Duration `yaml:"-"`
	TokenCacheTTL   time.Duration `yaml:"-"`
}

// CacheConfig holds the tiered cache settings.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// MemoryCacheSize bounds the in-process fallback tier (entries).
	MemoryCacheSize int
}

// AccountConfig selects the account store backend.
type AccountConfig struct {
	// PostgresURL, when set, points at the homeserver user database.
	// Empty selects the in-memory store (dev/test only).
	PostgresURL string
}

// TelemetryConfig holds logging and tracing settings.
type TelemetryConfig struct {
	LogLevel           string
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// yamlFile mirrors the on-disk layout: everything under a tf_connect root.
type yamlFile struct {
	TFConnect TFConnectConfig `yaml:"tf_connect"`
}

// Load reads the YAML file at path (skipped when path is empty or the
// file is absent), applies env overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			var f yamlFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			cfg.TFConnect = f.TFConnect
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	tf := &c.TFConnect
	tf.APIBaseURL = getEnv("TFCONNECT_API_BASE_URL", tf.APIBaseURL)
	tf.AppID = getEnv("TFCONNECT_APP_ID", tf.AppID)
	tf.WebsocketURL = getEnv("TFCONNECT_WEBSOCKET_URL", tf.WebsocketURL)
	tf.RedirectURI = getEnv("TFCONNECT_REDIRECT_URI", tf.RedirectURI)
	tf.ServerName = getEnv("TFCONNECT_SERVER_NAME", tf.ServerName)
	tf.Scope = getEnv("TFCONNECT_SCOPE", tf.Scope)
	tf.DevMode = getEnvBool("TFCONNECT_DEV_MODE", tf.DevMode)
	tf.DevAPIBase = getEnv("TFCONNECT_DEV_API_BASE_URL", tf.DevAPIBase)
	tf.DevWebsocket = getEnv("TFCONNECT_DEV_WEBSOCKET_URL", tf.DevWebsocket)
	if domains := getEnv("TFCONNECT_ALLOWED_DOMAINS", ""); domains != "" {
		tf.AllowedDomains = splitAndTrim(domains)
	}
	tf.SessionTimeoutSec = getEnvInt("TFCONNECT_SESSION_TIMEOUT", tf.SessionTimeoutSec)
	tf.RateLimitWindowSec = getEnvInt("TFCONNECT_RATE_LIMIT_WINDOW", tf.RateLimitWindowSec)
	tf.MaxLoginAttempts = getEnvInt("TFCONNECT_MAX_LOGIN_ATTEMPTS", tf.MaxLoginAttempts)
	tf.UserCacheTTLSec = getEnvInt("TFCONNECT_USER_CACHE_TTL", tf.UserCacheTTLSec)
	tf.TokenCacheTTLSec = getEnvInt("TFCONNECT_TOKEN_CACHE_TTL", tf.TokenCacheTTLSec)

	c.Server.Host = getEnv("TFCONNECT_HOST", c.Server.Host)
	c.Server.Port = getEnv("TFCONNECT_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("TFCONNECT_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("TFCONNECT_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TFCONNECT_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("TFCONNECT_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TFCONNECT_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Cache.RedisAddr = getEnv("TFCONNECT_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("TFCONNECT_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("TFCONNECT_REDIS_DB", c.Cache.RedisDB)
	c.Cache.MemoryCacheSize = getEnvInt("TFCONNECT_MEMORY_CACHE_SIZE", c.Cache.MemoryCacheSize)

	c.Account.PostgresURL = getEnv("TFCONNECT_POSTGRES_URL", c.Account.PostgresURL)

	c.Telemetry.LogLevel = getEnv("TFCONNECT_LOG_LEVEL", c.Telemetry.LogLevel)
	c.Telemetry.OTelEnabled = getEnvBool("TFCONNECT_OTEL_ENABLED", c.Telemetry.OTelEnabled)
	c.Telemetry.OTelEndpoint = getEnv("TFCONNECT_OTEL_ENDPOINT", c.Telemetry.OTelEndpoint)
	c.Telemetry.OTelServiceName = getEnv("TFCONNECT_OTEL_SERVICE_NAME", c.Telemetry.OTelServiceName)
	c.Telemetry.OTelServiceVersion = getEnv("TFCONNECT_OTEL_SERVICE_VERSION", c.Telemetry.OTelServiceVersion)
	c.Telemetry.OTelInsecure = getEnvBool("TFCONNECT_OTEL_INSECURE", c.Telemetry.OTelInsecure)
}

func (c *Config) applyDefaults() {
	tf := &c.TFConnect
	if tf.APIBaseURL == "" {
		tf.APIBaseURL = "https://login.threefold.me"
	}
	if tf.AppID == "" {
		tf.AppID = "mycelium-chat"
	}
	if tf.WebsocketURL == "" {
		tf.WebsocketURL = "wss://login.threefold.me/websocket"
	}
	if tf.Scope == "" {
		tf.Scope = "user:email:verified"
	}
	if tf.ServerName == "" {
		tf.ServerName = "matrix.localhost"
	}

	// Dev overrides swap the IdP endpoints only.
	if tf.DevMode {
		if tf.DevAPIBase != "" {
			tf.APIBaseURL = tf.DevAPIBase
		}
		if tf.DevWebsocket != "" {
			tf.WebsocketURL = tf.DevWebsocket
		}
	}

	tf.SessionTimeout = secondsOrDefault(tf.SessionTimeoutSec, 3600*time.Second)
	tf.RateLimitWindow = secondsOrDefault(tf.RateLimitWindowSec, 300*time.Second)
	tf.UserCacheTTL = secondsOrDefault(tf.UserCacheTTLSec, 1800*time.Second)
	tf.TokenCacheTTL = secondsOrDefault(tf.TokenCacheTTLSec, 3600*time.Second)
	if tf.MaxLoginAttempts <= 0 {
		tf.MaxLoginAttempts = 5
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8008"
	}
	if c.Server.HealthPort == "" {
		c.Server.HealthPort = "9090"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.MemoryCacheSize <= 0 {
		c.Cache.MemoryCacheSize = 10240
	}

	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
	if c.Telemetry.OTelServiceName == "" {
		c.Telemetry.OTelServiceName = "tfconnect-authd"
	}
	if c.Telemetry.OTelServiceVersion == "" {
		c.Telemetry.OTelServiceVersion = "dev"
	}
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	tf := &c.TFConnect
	if !strings.HasPrefix(tf.APIBaseURL, "http://") && !strings.HasPrefix(tf.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", tf.APIBaseURL)
	}
	if tf.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if strings.ContainsAny(tf.ServerName, "@:") {
		return fmt.Errorf("server_name must be a bare domain, got %q", tf.ServerName)
	}
	if tf.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if tf.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	if c.Telemetry.OTelEnabled && c.Telemetry.OTelEndpoint == "" {
		return fmt.Errorf("otel endpoint is required when tracing is enabled")
	}
	return nil
}

func secondsOrDefault(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
