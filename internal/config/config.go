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

	// Safaricom API credentials
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaPasskey        string
	MpesaShortCode      string
	MpesaAuthURL        string
	MpesaSTKPushURL     string
	MpesaQueryURL       string
	MpesaCallbackURL    string

	// Security settings
	InternalSecret string
	SafaricomIPs   []string

	// Request limits
	MaxRequestSize int64

	// Worker settings
	WorkerConcurrency int

	// Reconciliation sweep settings
	ReconcileInterval   string
	ReconcileStaleAfter time.Duration
}

// Load reads configuration from the environment, with an optional .env
// file for local development.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		// Server
		ServerPort: getEnv("WAFUNGI_SERVER_PORT", "8080"),

		// Database
		DatabaseURL: getEnv("WAFUNGI_DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("WAFUNGI_DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("WAFUNGI_DB_MIN_CONNS", 5),

		// Redis
		RedisURL: getEnv("WAFUNGI_REDIS_URL", ""),

		// Safaricom
		MpesaConsumerKey:    getEnv("WAFUNGI_MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("WAFUNGI_MPESA_CONSUMER_SECRET", ""),
		MpesaPasskey:        getEnv("WAFUNGI_MPESA_PASSKEY", ""),
		MpesaShortCode:      getEnv("WAFUNGI_MPESA_SHORT_CODE", "174379"),
		MpesaAuthURL:        getEnv("WAFUNGI_MPESA_AUTH_URL", "https://sandbox.safaricom.co.ke/oauth/v1/generate?grant_type=client_credentials"),
		MpesaSTKPushURL:     getEnv("WAFUNGI_MPESA_STK_PUSH_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest"),
		MpesaQueryURL:       getEnv("WAFUNGI_MPESA_QUERY_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpushquery/v1/query"),
		MpesaCallbackURL:    getEnv("WAFUNGI_MPESA_CALLBACK_URL", ""),

		// Security
		InternalSecret: getEnv("WAFUNGI_INTERNAL_SECRET", ""),
		MaxRequestSize: getEnvInt64("WAFUNGI_MAX_REQUEST_SIZE", 1<<20), // 1MB

		// Worker
		WorkerConcurrency: getEnvInt("WAFUNGI_WORKER_CONCURRENCY", 10),

		// Reconciliation
		ReconcileInterval:   getEnv("WAFUNGI_RECONCILE_INTERVAL", "@every 5m"),
		ReconcileStaleAfter: getEnvDuration("WAFUNGI_RECONCILE_STALE_AFTER", 3*time.Minute),
	}

	// Parse IP allowlist
	ipList := getEnv("WAFUNGI_SAFARICOM_IPS", "")
	if ipList != "" {
		cfg.SafaricomIPs = strings.Split(ipList, ",")
		for i := range cfg.SafaricomIPs {
			cfg.SafaricomIPs[i] = strings.TrimSpace(cfg.SafaricomIPs[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("WAFUNGI_DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("WAFUNGI_REDIS_URL is required")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("WAFUNGI_INTERNAL_SECRET is required")
	}
	if c.MpesaConsumerKey == "" {
		return fmt.Errorf("WAFUNGI_MPESA_CONSUMER_KEY is required")
	}
	if c.MpesaConsumerSecret == "" {
		return fmt.Errorf("WAFUNGI_MPESA_CONSUMER_SECRET is required")
	}
	if c.MpesaPasskey == "" {
		return fmt.Errorf("WAFUNGI_MPESA_PASSKEY is required")
	}
	if c.MpesaShortCode == "" {
		return fmt.Errorf("WAFUNGI_MPESA_SHORT_CODE is required")
	}
	if c.MpesaCallbackURL == "" {
		return fmt.Errorf("WAFUNGI_MPESA_CALLBACK_URL is required (public URL for callbacks)")
	}

	return nil
}

// LogSafeConfig logs configuration without secrets
func (c *Config) LogSafeConfig() {
	fmt.Printf("Configuration loaded:\n")
	fmt.Printf("  Server Port: %s\n", c.ServerPort)
	fmt.Printf("  Database URL: %s\n", maskConnectionString(c.DatabaseURL))
	fmt.Printf("  Redis URL: %s\n", maskConnectionString(c.RedisURL))
	fmt.Printf("  DB Pool: %d min, %d max\n", c.DBMinConns, c.DBMaxConns)
	fmt.Printf("  Worker Concurrency: %d\n", c.WorkerConcurrency)
	fmt.Printf("  M-Pesa Short Code: %s\n", c.MpesaShortCode)
	fmt.Printf("  M-Pesa Callback URL: %s\n", c.MpesaCallbackURL)
	fmt.Printf("  Safaricom IP Allowlist: %v\n", c.SafaricomIPs)
	fmt.Printf("  Max Request Size: %d bytes\n", c.MaxRequestSize)
	fmt.Printf("  Reconcile: %s, stale after %s\n", c.ReconcileInterval, c.ReconcileStaleAfter)
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

func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "@") {
		parts := strings.Split(connStr, "@")
		if len(parts) == 2 {
			return "***@" + parts[1]
		}
	}
	return "***"
}
