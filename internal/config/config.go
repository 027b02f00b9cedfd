package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort string

	// Database configuration
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Redis configuration
	RedisURL string

	// Daraja API credentials
	DarajaConsumerKey    string
	DarajaConsumerSecret string
	DarajaPasskey        string
	DarajaShortCode      string
	DarajaAuthURL        string
	DarajaSTKPushURL     string
	DarajaCallbackURL    string

	// Security settings
	InternalSecret string
	GatewayIPs     []string

	// Request limits
	MaxRequestSize int64

	// Worker settings
	WorkerConcurrency int

	// Reconciliation policy
	PendingTimeout    time.Duration
	SweepInterval     time.Duration
	CallbackStrictAck bool

	// Paid session cookie window
	SessionWindow time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Server
		ServerPort: getEnv("PAYMENTS_SERVER_PORT", "8080"),

		// Database
		DatabaseURL: getEnv("PAYMENTS_DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("PAYMENTS_DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("PAYMENTS_DB_MIN_CONNS", 5),

		// Redis
		RedisURL: getEnv("PAYMENTS_REDIS_URL", ""),

		// Daraja
		DarajaConsumerKey:    getEnv("PAYMENTS_DARAJA_CONSUMER_KEY", ""),
		DarajaConsumerSecret: getEnv("PAYMENTS_DARAJA_CONSUMER_SECRET", ""),
		DarajaPasskey:        getEnv("PAYMENTS_DARAJA_PASSKEY", ""),
		DarajaShortCode:      getEnv("PAYMENTS_DARAJA_SHORT_CODE", ""),
		DarajaAuthURL:        getEnv("PAYMENTS_DARAJA_AUTH_URL", "https://sandbox.safaricom.co.ke/oauth/v1/generate?grant_type=client_credentials"),
		DarajaSTKPushURL:     getEnv("PAYMENTS_DARAJA_STK_PUSH_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest"),
		DarajaCallbackURL:    getEnv("PAYMENTS_DARAJA_CALLBACK_URL", ""),

		// Security
		InternalSecret: getEnv("PAYMENTS_INTERNAL_SECRET", ""),
		MaxRequestSize: getEnvInt64("PAYMENTS_MAX_REQUEST_SIZE", 1<<20), // 1MB

		// Worker
		WorkerConcurrency: getEnvInt("PAYMENTS_WORKER_CONCURRENCY", 10),

		// Reconciliation
		PendingTimeout:    getEnvDuration("PAYMENTS_PENDING_TIMEOUT", 30*time.Minute),
		SweepInterval:     getEnvDuration("PAYMENTS_SWEEP_INTERVAL", 5*time.Minute),
		CallbackStrictAck: getEnvBool("PAYMENTS_CALLBACK_STRICT_ACK", false),

		// Sessions
		SessionWindow: getEnvDuration("PAYMENTS_SESSION_WINDOW", 3*time.Hour),
	}

	// Parse IP allowlist
	ipList := getEnv("PAYMENTS_GATEWAY_IPS", "")
	if ipList != "" {
		cfg.GatewayIPs = strings.Split(ipList, ",")
		for i := range cfg.GatewayIPs {
			cfg.GatewayIPs[i] = strings.TrimSpace(cfg.GatewayIPs[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present. Gateway
// credentials are checked here so a misconfigured deployment fails at
// startup rather than at payment time.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("PAYMENTS_DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("PAYMENTS_REDIS_URL is required")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("PAYMENTS_INTERNAL_SECRET is required")
	}
	if c.DarajaConsumerKey == "" {
		return fmt.Errorf("PAYMENTS_DARAJA_CONSUMER_KEY is required")
	}
	if c.DarajaConsumerSecret == "" {
		return fmt.Errorf("PAYMENTS_DARAJA_CONSUMER_SECRET is required")
	}
	if c.DarajaPasskey == "" {
		return fmt.Errorf("PAYMENTS_DARAJA_PASSKEY is required")
	}
	if c.DarajaShortCode == "" {
		return fmt.Errorf("PAYMENTS_DARAJA_SHORT_CODE is required")
	}
	if c.DarajaCallbackURL == "" {
		return fmt.Errorf("PAYMENTS_DARAJA_CALLBACK_URL is required (public URL for callbacks)")
	}
	if c.PendingTimeout <= 0 {
		return fmt.Errorf("PAYMENTS_PENDING_TIMEOUT must be positive")
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("PAYMENTS_SESSION_WINDOW must be positive")
	}

	return nil
}

// SafeSummary returns loggable key/value pairs without secrets.
func (c *Config) SafeSummary() map[string]interface{} {
	return map[string]interface{}{
		"server_port":         c.ServerPort,
		"database_url":        maskConnectionString(c.DatabaseURL),
		"redis_url":           maskConnectionString(c.RedisURL),
		"db_pool_min":         c.DBMinConns,
		"db_pool_max":         c.DBMaxConns,
		"worker_concurrency":  c.WorkerConcurrency,
		"daraja_short_code":   c.DarajaShortCode,
		"gateway_ips":         c.GatewayIPs,
		"max_request_size":    c.MaxRequestSize,
		"pending_timeout":     c.PendingTimeout.String(),
		"sweep_interval":      c.SweepInterval.String(),
		"callback_strict_ack": c.CallbackStrictAck,
		"session_window":      c.SessionWindow.String(),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "@") {
		parts := strings.Split(connStr, "@")
		if len(parts) == 2 {
			return "***@" + parts[1]
		}
	}
	return "***"
}
