package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Blob      BlobConfig
	Quota     QuotaConfig
	Sweep     SweepConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	SSLMode     string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings. Redis is optional: with
// Enabled false the service runs single-replica with a process-local
// snapshot cache, no usage stream, and an unguarded sweep.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// BlobConfig holds blob store settings
type BlobConfig struct {
	Driver    string // "memory" for development, "s3" for production
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// QuotaConfig holds per-tier quota defaults
type QuotaConfig struct {
	FreeStorageBytes int64
	PaidStorageBytes int64
	FreeFeatureLimit int64
	PaidFeatureLimit int64
	CacheTTL         time.Duration
	RetentionFree    time.Duration // expiry applied to free-tier assets; 0 = never
	RetentionPaid    time.Duration
}

// SweepConfig holds expiry sweeper settings
type SweepConfig struct {
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration // processing assets older than this are failed
	LockTTL    time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "ledger"),
			User:        getEnv("POSTGRES_USER", "ledger"),
			Password:    getEnv("POSTGRES_PASSWORD", "ledger"),
			SSLMode:     getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Blob: BlobConfig{
			Driver:    getEnv("BLOB_DRIVER", "memory"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Bucket:    getEnv("S3_BUCKET", "ledger-assets"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Quota: QuotaConfig{
			FreeStorageBytes: getEnvInt64("QUOTA_FREE_STORAGE_BYTES", 1*1024*1024*1024),  // 1 GiB
			PaidStorageBytes: getEnvInt64("QUOTA_PAID_STORAGE_BYTES", 50*1024*1024*1024), // 50 GiB
			FreeFeatureLimit: getEnvInt64("QUOTA_FREE_FEATURE_LIMIT", 25),
			PaidFeatureLimit: getEnvInt64("QUOTA_PAID_FEATURE_LIMIT", 2500),
			CacheTTL:         getEnvDuration("QUOTA_CACHE_TTL", 30*time.Second),
			RetentionFree:    getEnvDuration("RETENTION_FREE", 168*time.Hour),
			RetentionPaid:    getEnvDuration("RETENTION_PAID", 0),
		},
		Sweep: SweepConfig{
			Interval:   getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			BatchSize:  getEnvInt("SWEEP_BATCH_SIZE", 100),
			StaleAfter: getEnvDuration("SWEEP_STALE_AFTER", 30*time.Minute),
			LockTTL:    getEnvDuration("SWEEP_LOCK_TTL", 2*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
			return fmt.Errorf("s3 blob driver requires S3_ACCESS_KEY and S3_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unknown blob driver: %s", c.Blob.Driver)
	}

	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Sweep.BatchSize < 1 {
		return fmt.Errorf("sweep batch size must be at least 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// StorageLimitForTier returns the default storage limit for a plan tier.
// Negative means unlimited.
func (c *Config) StorageLimitForTier(tier string) int64 {
	switch tier {
	case "admin":
		return -1
	case "paid":
		return c.Quota.PaidStorageBytes
	default:
		return c.Quota.FreeStorageBytes
	}
}

// FeatureLimitForTier returns the default per-feature usage limit for a
// plan tier. Negative means unlimited.
func (c *Config) FeatureLimitForTier(tier string) int64 {
	switch tier {
	case "admin":
		return -1
	case "paid":
		return c.Quota.PaidFeatureLimit
	default:
		return c.Quota.FreeFeatureLimit
	}
}

// RetentionForTier returns how long new assets live before expiry.
// Zero means assets never expire.
func (c *Config) RetentionForTier(tier string) time.Duration {
	switch tier {
	case "free":
		return c.Quota.RetentionFree
	default:
		return c.Quota.RetentionPaid
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
