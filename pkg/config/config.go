// Copyright 2025 Certen Protocol
//
// Config loads all tunables for the attestation chain worker from
// environment variables, with an optional YAML overlay for local
// development. Env vars always win over the overlay file.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the attestation chain worker.
type Config struct {
	// Chain identity
	ChainKey string // default "head"

	// Server configuration
	ListenAddr  string
	AdminSecret string // bearer token for admin routes; empty disables auth

	// Queue / chain-head Postgres store
	DatabaseURL      string
	DatabaseMaxConns int
	DatabaseMinConns int

	// Lookup index / tracked bundles embedded KV store (cometbft-db)
	KVDataDir  string
	KVBackend  string // "goleveldb" or "memdb"

	// Manifest source (Firestore)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Wallet / gateway
	WalletJWKPath string
	GatewayURL    string
	WalletAddress string

	// Record signing key (separate from the RSA wallet JWK: records are
	// ed25519-signed, the wallet only pays for storage)
	SigningKeyPath string

	// Admin HTTP surface
	AllowHeadReset bool

	// Batch thresholds (section 4.5)
	BatchSizeThreshold int64 // bytes
	BatchTimeThreshold time.Duration
	MaxBundleSize      int64 // bytes
	DirectMode         bool  // true = direct upload, false = bundle mode

	// Upload (section 4.5/4.6)
	Concurrency    int
	MaxRetries     int
	UploadTimeout  time.Duration

	// Seeding verification (section 4.8)
	SeedGracePeriod  time.Duration
	SeedTimeout      time.Duration
	RetentionWindow  time.Duration

	// Balance gating (section 4.11), in AR
	CriticalBalanceAR float64
	WarningBalanceAR  float64

	// Scheduler (section 4.9)
	TickInterval    time.Duration
	DailyInterval   time.Duration
	MaxProcessTime  time.Duration
	StuckThreshold  time.Duration
	FetchBatchLimit int
	ManifestWorkers int

	// Alerting
	AlertWebhookURL string

	// Overlay file (local dev only)
	ConfigFile string
}

// Load reads configuration from environment variables, applying an
// optional YAML overlay named by ATTEST_CONFIG_FILE first so that env
// vars always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	if file := os.Getenv("ATTEST_CONFIG_FILE"); file != "" {
		if err := cfg.loadYAML(file); err != nil {
			return nil, fmt.Errorf("loading config overlay %s: %w", file, err)
		}
		cfg.ConfigFile = file
	}

	cfg.ChainKey = getEnv("CHAIN_KEY", firstNonEmpty(cfg.ChainKey, "head"))
	cfg.ListenAddr = getEnv("LISTEN_ADDR", firstNonEmpty(cfg.ListenAddr, "0.0.0.0:8080"))
	cfg.AdminSecret = getEnv("ADMIN_SECRET", cfg.AdminSecret)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseMaxConns = getEnvInt("DATABASE_MAX_CONNS", firstNonZero(cfg.DatabaseMaxConns, 25))
	cfg.DatabaseMinConns = getEnvInt("DATABASE_MIN_CONNS", firstNonZero(cfg.DatabaseMinConns, 5))

	cfg.KVDataDir = getEnv("KV_DATA_DIR", firstNonEmpty(cfg.KVDataDir, "./data/kv"))
	cfg.KVBackend = getEnv("KV_BACKEND", firstNonEmpty(cfg.KVBackend, "goleveldb"))

	cfg.FirestoreEnabled = getEnvBool("FIRESTORE_ENABLED", cfg.FirestoreEnabled)
	cfg.FirebaseProjectID = getEnv("FIREBASE_PROJECT_ID", cfg.FirebaseProjectID)
	cfg.FirebaseCredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.FirebaseCredentialsFile)

	cfg.WalletJWKPath = getEnv("WALLET_JWK_PATH", cfg.WalletJWKPath)
	cfg.GatewayURL = getEnv("ARWEAVE_GATEWAY_URL", firstNonEmpty(cfg.GatewayURL, "https://arweave.net"))
	cfg.WalletAddress = getEnv("WALLET_ADDRESS", cfg.WalletAddress)
	cfg.SigningKeyPath = getEnv("SIGNING_KEY_PATH", firstNonEmpty(cfg.SigningKeyPath, "./data/signing_key.hex"))
	cfg.AllowHeadReset = getEnvBool("ALLOW_HEAD_RESET", cfg.AllowHeadReset)

	cfg.BatchSizeThreshold = getEnvInt64("BUNDLE_SIZE_THRESHOLD", firstNonZero64(cfg.BatchSizeThreshold, 300*1024))
	cfg.BatchTimeThreshold = getEnvDuration("BUNDLE_TIME_THRESHOLD", firstNonZeroDur(cfg.BatchTimeThreshold, 10*time.Minute))
	cfg.MaxBundleSize = getEnvInt64("MAX_BUNDLE_SIZE", firstNonZero64(cfg.MaxBundleSize, 10*1024*1024))
	cfg.DirectMode = getEnvBool("DIRECT_MODE", cfg.DirectMode)

	cfg.Concurrency = getEnvInt("CONCURRENCY", firstNonZero(cfg.Concurrency, 50))
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", firstNonZero(cfg.MaxRetries, 5))
	cfg.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", firstNonZeroDur(cfg.UploadTimeout, 30*time.Second))

	cfg.SeedGracePeriod = getEnvDuration("SEED_GRACE_PERIOD", firstNonZeroDur(cfg.SeedGracePeriod, 10*time.Minute))
	cfg.SeedTimeout = getEnvDuration("SEED_TIMEOUT", firstNonZeroDur(cfg.SeedTimeout, 30*time.Minute))
	cfg.RetentionWindow = getEnvDuration("RETENTION_WINDOW", firstNonZeroDur(cfg.RetentionWindow, 24*time.Hour))

	cfg.CriticalBalanceAR = getEnvFloat("CRITICAL_BALANCE_AR", firstNonZeroFloat(cfg.CriticalBalanceAR, 0.05))
	cfg.WarningBalanceAR = getEnvFloat("WARNING_BALANCE_AR", firstNonZeroFloat(cfg.WarningBalanceAR, 2.0))

	cfg.TickInterval = getEnvDuration("TICK_INTERVAL", firstNonZeroDur(cfg.TickInterval, time.Minute))
	cfg.DailyInterval = getEnvDuration("DAILY_INTERVAL", firstNonZeroDur(cfg.DailyInterval, 24*time.Hour))
	cfg.MaxProcessTime = getEnvDuration("MAX_PROCESS_TIME", firstNonZeroDur(cfg.MaxProcessTime, 55*time.Second))
	cfg.StuckThreshold = getEnvDuration("STUCK_THRESHOLD", firstNonZeroDur(cfg.StuckThreshold, 10*time.Minute))
	cfg.FetchBatchLimit = getEnvInt("FETCH_BATCH_LIMIT", firstNonZero(cfg.FetchBatchLimit, 200))
	cfg.ManifestWorkers = getEnvInt("MANIFEST_WORKERS", firstNonZero(cfg.ManifestWorkers, 10))

	cfg.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", cfg.AlertWebhookURL)

	return cfg, nil
}

// Validate checks required configuration is present before startup.
func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.WalletJWKPath == "" {
		errs = append(errs, "WALLET_JWK_PATH is required but not set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func firstNonZero(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonZero64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonZeroFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonZeroDur(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}
