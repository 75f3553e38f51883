package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Cache         CacheConfig
	Seeder        SeederConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds the static token table for the authentication boundary.
// AUTHZ_STATIC_TOKENS is a comma-separated list of token=userID entries;
// AUTHZ_TOKENS_FILE points at a YAML token table that is hot-reloaded on
// change and takes precedence over the env list.
type AuthConfig struct {
	StaticTokens map[string]auth.Principal
	TokensFile   string
	Optional     bool
}

// CacheConfig holds resolver snapshot cache settings. When RedisURL is set
// the snapshot cache is shared through Redis instead of held in process.
type CacheConfig struct {
	Size     int
	TTL      time.Duration
	RedisURL string
}

// SeederConfig holds default-role reconciliation settings
type SeederConfig struct {
	RunOnStartup bool
	CronSpec     string // empty disables the schedule
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Enabled  bool
	BasePath string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUTHZ_HOST", "0.0.0.0"),
			Port:            getEnv("AUTHZ_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AUTHZ_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHZ_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHZ_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHZ_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AUTHZ_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("AUTHZ_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("AUTHZ_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("AUTHZ_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("AUTHZ_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			StaticTokens: parseStaticTokens(getEnv("AUTHZ_STATIC_TOKENS", "")),
			TokensFile:   getEnv("AUTHZ_TOKENS_FILE", ""),
			Optional:     getEnvBool("AUTHZ_AUTH_OPTIONAL", false),
		},
		Cache: CacheConfig{
			Size:     getEnvInt("AUTHZ_CACHE_SIZE", 4096),
			TTL:      getEnvDuration("AUTHZ_CACHE_TTL", 30*time.Second),
			RedisURL: getEnv("AUTHZ_REDIS_URL", ""),
		},
		Seeder: SeederConfig{
			RunOnStartup: getEnvBool("AUTHZ_SEED_ON_STARTUP", true),
			CronSpec:     getEnv("AUTHZ_SEED_CRON", "@hourly"),
		},
		Audit: AuditConfig{
			Enabled:  getEnvBool("AUTHZ_AUDIT_ENABLED", true),
			BasePath: getEnv("AUTHZ_AUDIT_PATH", "/var/log/authz/audit"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("AUTHZ_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("AUTHZ_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Audit.Enabled && c.Audit.BasePath == "" {
		return fmt.Errorf("audit path is required when audit is enabled")
	}
	return nil
}

// parseStaticTokens parses "token=userID,token2=userID2" entries.
func parseStaticTokens(raw string) map[string]auth.Principal {
	tokens := make(map[string]auth.Principal)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		tokens[parts[0]] = auth.Principal{UserID: parts[1]}
	}
	return tokens
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
