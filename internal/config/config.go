// Package config loads and validates gateway configuration from the
// environment. Validate is strict about the settings that guard tenant
// data: the process refuses to start with a weak admin key, a malformed
// encryption key, or wildcard CORS in production.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Config holds all configuration for the support gateway.
type Config struct {
	Port        int
	Environment models.Environment

	Database  DatabaseConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Sync      SyncConfig
	Telemetry TelemetryConfig
	LLM       LLMConfig

	// UseConsolidatedTools selects the v2 NL-query tool catalog.
	UseConsolidatedTools bool

	EnablePrometheus bool
	JSONLogs         bool
	LogLevel         string
}

type DatabaseConfig struct {
	URL string
}

type CacheConfig struct {
	RedisURL   string
	Enabled    bool
	DefaultTTL int // seconds
}

type RateLimitConfig struct {
	PerMinute int
	PerHour   int
}

type SecurityConfig struct {
	// EncryptionKey is base64 of 32 random bytes; decoded at validation.
	EncryptionKey string
	AdminKey      string

	// AllowedOrigins is the CORS allow-list. "*" is refused in production.
	AllowedOrigins []string
}

type SyncConfig struct {
	EnableSalesSync bool
	SalesSyncHour   int
	SyncOnStartup   bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type LLMConfig struct {
	AnthropicAPIKey string
	PhoneLookupURL  string
}

// weakAdminKeys are common passwords rejected outright.
var weakAdminKeys = map[string]bool{
	"password":         true,
	"password123":      true,
	"admin":            true,
	"administrator":    true,
	"changeme":         true,
	"secret":           true,
	"letmein":          true,
	"qwertyuiopasdfgh": true,
	"1234567890123456": true,
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        envInt("PORT", 8080),
		Environment: models.Environment(envStr("ENVIRONMENT", string(models.EnvProduction))),
		Database: DatabaseConfig{
			URL: envStr("DATABASE_URL", ""),
		},
		Cache: CacheConfig{
			RedisURL:   envStr("REDIS_URL", ""),
			Enabled:    envBool("ENABLE_CACHE", true),
			DefaultTTL: envInt("CACHE_TTL", 600),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_MINUTE", 100),
			PerHour:   envInt("RATE_LIMIT_HOUR", 1000),
		},
		Security: SecurityConfig{
			EncryptionKey:  envStr("ENCRYPTION_KEY", ""),
			AdminKey:       envStr("ADMIN_KEY", ""),
			AllowedOrigins: splitCSV(envStr("ALLOWED_ORIGINS", "")),
		},
		Sync: SyncConfig{
			EnableSalesSync: envBool("ENABLE_SALES_SYNC", false),
			SalesSyncHour:   envInt("SALES_SYNC_HOUR", 3),
			SyncOnStartup:   envBool("SYNC_ON_STARTUP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "quimbi-support-gateway"),
		},
		LLM: LLMConfig{
			AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
			PhoneLookupURL:  envStr("PHONE_LOOKUP_URL", ""),
		},
		UseConsolidatedTools: envBool("USE_CONSOLIDATED_MCP_TOOLS", true),
		EnablePrometheus:     envBool("ENABLE_PROMETHEUS_METRICS", true),
		JSONLogs:             envBool("JSON_LOGS", false),
		LogLevel:             envStr("LOG_LEVEL", "info"),
	}
}

// Validate enforces the startup contract. Any error here must abort boot.
func (c *Config) Validate() error {
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}

	if len(c.Security.AdminKey) < 16 {
		return fmt.Errorf("ADMIN_KEY must be at least 16 characters")
	}
	if weakAdminKeys[strings.ToLower(c.Security.AdminKey)] {
		return fmt.Errorf("ADMIN_KEY is a commonly used password; choose a random value")
	}

	if c.Environment == models.EnvProduction {
		for _, origin := range c.Security.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("ALLOWED_ORIGINS must not contain a wildcard in production")
			}
		}
	}

	if c.Sync.SalesSyncHour < 0 || c.Sync.SalesSyncHour > 23 {
		return fmt.Errorf("SALES_SYNC_HOUR must be 0-23, got %d", c.Sync.SalesSyncHour)
	}

	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY and checks it is exactly
// 32 bytes (AES-256).
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.Security.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required (base64 of 32 random bytes)")
	}
	key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
