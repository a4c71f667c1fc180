// Package config centralizes how ShieldVault reads environment variables and
// exposes them as typed values.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the server, worker and CLI.
type Config struct {
	Address     string
	Environment string

	// DatabaseURL selects the PostgreSQL store; empty means in-memory.
	DatabaseURL string

	// RedisAddr selects asynq dispatch; empty means the in-process pool.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool
	ContentBucket string
	ArchiveBucket string

	MaxFileSize  int64
	AllowedTypes []string

	SigningSecret []byte
	SignatureTTL  time.Duration
	PollInterval  time.Duration
	WorkerCount   int

	CatalogPath string

	ActivityMaxEntries int
	CompactionInterval time.Duration
	AutoLockOnSign     bool
}

const (
	defaultAddress       = ":8080"
	defaultEnvironment   = "development"
	defaultRedisAddr     = ""
	defaultS3Region      = "us-east-1"
	defaultContentBucket = "shieldvault-documents"
	defaultArchiveBucket = "shieldvault-activity"
	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultAllowedTypes  = "application/pdf,image/png,image/jpeg,text/plain"
	defaultSignatureTTL  = 7 * 24 * time.Hour
	defaultPollInterval  = 2 * time.Second
	defaultWorkerCount   = 2
	defaultActivityMax   = 500
	defaultCompaction    = 10 * time.Minute
)

// Load reads configuration from environment variables falling back to
// defaults. A dotenv file (SHIELDVAULT_ENV_FILE, default ".env") fills in
// variables that are not already set.
func Load() (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	cfg := &Config{
		Address:            readEnv("SHIELDVAULT_ADDRESS", defaultAddress),
		Environment:        readEnv("SHIELDVAULT_ENV", defaultEnvironment),
		DatabaseURL:        readEnv("SHIELDVAULT_DATABASE_URL", ""),
		RedisAddr:          readEnv("SHIELDVAULT_REDIS_ADDR", defaultRedisAddr),
		RedisPassword:      readEnv("SHIELDVAULT_REDIS_PASSWORD", ""),
		RedisDB:            parseInt("SHIELDVAULT_REDIS_DB", 0),
		S3Endpoint:         readEnv("SHIELDVAULT_S3_ENDPOINT", ""),
		S3AccessKey:        readEnv("SHIELDVAULT_S3_ACCESS_KEY", ""),
		S3SecretKey:        readEnv("SHIELDVAULT_S3_SECRET_KEY", ""),
		S3Region:           readEnv("SHIELDVAULT_S3_REGION", defaultS3Region),
		S3UseSSL:           parseBool("SHIELDVAULT_S3_USE_SSL", false),
		ContentBucket:      readEnv("SHIELDVAULT_CONTENT_BUCKET", defaultContentBucket),
		ArchiveBucket:      readEnv("SHIELDVAULT_ARCHIVE_BUCKET", defaultArchiveBucket),
		MaxFileSize:        parseInt64("SHIELDVAULT_MAX_FILE_BYTES", defaultMaxFileSize),
		AllowedTypes:       parseList("SHIELDVAULT_ALLOWED_TYPES", defaultAllowedTypes),
		SigningSecret:      parseSecret("SHIELDVAULT_SIGNING_SECRET"),
		SignatureTTL:       parseDuration("SHIELDVAULT_SIGNATURE_TTL", defaultSignatureTTL),
		PollInterval:       parseDuration("SHIELDVAULT_POLL_INTERVAL", defaultPollInterval),
		WorkerCount:        parseInt("SHIELDVAULT_WORKERS", defaultWorkerCount),
		CatalogPath:        readEnv("SHIELDVAULT_CATALOG_PATH", ""),
		ActivityMaxEntries: parseInt("SHIELDVAULT_ACTIVITY_MAX_ENTRIES", defaultActivityMax),
		CompactionInterval: parseDuration("SHIELDVAULT_COMPACTION_INTERVAL", defaultCompaction),
		AutoLockOnSign:     parseBool("SHIELDVAULT_AUTO_LOCK_ON_EXECUTION", false),
	}
	if cfg.SigningSecret == nil {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SigningSecret = secret
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignatureTTL <= 0 {
		cfg.SignatureTTL = defaultSignatureTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ActivityMaxEntries < 0 {
		return nil, fmt.Errorf("SHIELDVAULT_ACTIVITY_MAX_ENTRIES must not be negative")
	}
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("SHIELDVAULT_S3_ACCESS_KEY and SHIELDVAULT_S3_SECRET_KEY must be set together")
	}
	return cfg, nil
}

// Allowed reports whether contentType is in the upload allow-list.
func (c *Config) Allowed(contentType string) bool {
	base := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, t := range c.AllowedTypes {
		if strings.EqualFold(t, base) {
			return true
		}
	}
	return false
}

func loadDotenv() error {
	path := readEnv("SHIELDVAULT_ENV_FILE", ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	parts := strings.Split(val, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	return buf, nil
}
