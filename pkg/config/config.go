package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Defaults for the token engine
const (
	DefaultUserTokenTTLSeconds    = 300
	DefaultServiceTokenTTLSeconds = 7 * 24 * 60 * 60
	DefaultRenewThresholdSeconds  = 30
	DefaultMaxConnections         = 5
	DefaultReapIntervalSeconds    = 60
	DefaultSecret                 = "local_secret"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Tokens        TokenConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	HealthPort      string        `yaml:"health_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the backing store configuration
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// TokenConfig holds the token engine configuration
type TokenConfig struct {
	UserTTLSeconds        int64  `yaml:"user_ttl_seconds"`
	ServiceTTLSeconds     int64  `yaml:"service_ttl_seconds"`
	RenewThresholdSeconds int64  `yaml:"renew_threshold_seconds"`
	Secret                string `yaml:"secret"`
	ReapIntervalSeconds   int64  `yaml:"reap_interval_seconds"`
}

// CORSConfig holds the cross-origin configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
	OTelEnabled    bool                   `yaml:"otel_enabled"`
	OTelEndpoint   string                 `yaml:"otel_endpoint"`
	OTelService    string                 `yaml:"otel_service"`
	OTelInsecure   bool                   `yaml:"otel_insecure"`
}

// fileConfig mirrors Config for the optional YAML file
type fileConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Tokens        TokenConfig         `yaml:"tokens"`
	CORS          CORSConfig          `yaml:"cors"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LoadConfig loads configuration: defaults, then the optional YAML file
// named by WARDEN_CONFIG_FILE, then environment variables on top.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("WARDEN_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConnections: DefaultMaxConnections,
			ConnectTimeout: 10 * time.Second,
		},
		Tokens: TokenConfig{
			UserTTLSeconds:        DefaultUserTokenTTLSeconds,
			ServiceTTLSeconds:     DefaultServiceTokenTTLSeconds,
			RenewThresholdSeconds: DefaultRenewThresholdSeconds,
			Secret:                DefaultSecret,
			ReapIntervalSeconds:   DefaultReapIntervalSeconds,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
			OTelEndpoint:   "localhost:4317",
			OTelService:    "warden",
			OTelInsecure:   true,
		},
	}
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	fc.Server = cfg.Server
	fc.Database = cfg.Database
	fc.Tokens = cfg.Tokens
	fc.CORS = cfg.CORS
	fc.Observability = cfg.Observability

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	cfg.Server = fc.Server
	cfg.Database = fc.Database
	cfg.Tokens = fc.Tokens
	cfg.CORS = fc.CORS
	cfg.Observability = fc.Observability
	if fc.Observability.LogLevelName != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(fc.Observability.LogLevelName)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_URL", cfg.Server.Host)
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.HealthPort = getEnv("HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("MAX_CONNECTIONS", cfg.Database.MaxConnections)

	cfg.Tokens.UserTTLSeconds = getEnvInt64("USER_TOKEN_TTL_SECONDS", cfg.Tokens.UserTTLSeconds)
	cfg.Tokens.ServiceTTLSeconds = getEnvInt64("SERVICE_TOKEN_TTL_SECONDS", cfg.Tokens.ServiceTTLSeconds)
	cfg.Tokens.RenewThresholdSeconds = getEnvInt64("TOKEN_RENEW_THRESHOLD_SECONDS", cfg.Tokens.RenewThresholdSeconds)
	cfg.Tokens.Secret = getEnv("JWT_SECRET", cfg.Tokens.Secret)
	cfg.Tokens.ReapIntervalSeconds = getEnvInt64("REAP_INTERVAL_SECONDS", cfg.Tokens.ReapIntervalSeconds)

	if origins := getEnv("CORS", ""); origins != "" {
		cfg.CORS.AllowedOrigins = splitAndTrim(origins)
	}
	if headers := getEnv("CORS_HEADERS", ""); headers != "" {
		cfg.CORS.AllowedHeaders = splitAndTrim(headers)
	}

	cfg.Observability.LogLevel = observability.ParseLogLevel(getEnv("LOG_LEVEL", cfg.Observability.LogLevel.String()))
	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelService = getEnv("OTEL_SERVICE_NAME", cfg.Observability.OTelService)
	cfg.Observability.OTelInsecure = getEnvBool("OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Tokens.UserTTLSeconds <= 0 {
		return fmt.Errorf("USER_TOKEN_TTL_SECONDS must be positive")
	}
	if c.Tokens.ServiceTTLSeconds <= 0 {
		return fmt.Errorf("SERVICE_TOKEN_TTL_SECONDS must be positive")
	}
	if c.Tokens.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("REAP_INTERVAL_SECONDS must be positive")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OTEL_ENDPOINT is required when OTel is enabled")
	}
	return nil
}

// AllowHeaders returns the CORS allow-headers list; the token headers
// are always present regardless of overrides.
func (c *CORSConfig) AllowHeaders() []string {
	required := []string{"Content-Type", "token", "user-token", "service-token"}
	seen := make(map[string]bool, len(required)+len(c.AllowedHeaders))
	var headers []string
	for _, h := range append(required, c.AllowedHeaders...) {
		key := strings.ToLower(h)
		if !seen[key] {
			seen[key] = true
			headers = append(headers, h)
		}
	}
	return headers
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
