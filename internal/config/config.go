// Package config centralizes how DupeGuard reads its settings and exposes
// them as strongly typed Go values.
//
// Values are resolved in three layers: built-in defaults, an optional TOML
// file named by DUPEGUARD_CONFIG, then DUPEGUARD_* environment variables.
// A .env file in the working directory is loaded into the environment first
// when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Store backends understood by the commands.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Object storage backends.
const (
	ObjectsMemory = "memory"
	ObjectsS3     = "s3"
)

// Config represents runtime configuration for the service, the worker and
// the CLI.
type Config struct {
	Address        string `toml:"address"`
	MaxFileSize    int64  `toml:"max_file_bytes"`
	ProcessingPool int    `toml:"workers"`

	StoreBackend string `toml:"store"`
	DatabaseURL  string `toml:"database_url"`
	SQLitePath   string `toml:"sqlite_path"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	ObjectBackend string `toml:"objects"`
	S3Endpoint    string `toml:"s3_endpoint"`
	S3AccessKey   string `toml:"s3_access_key"`
	S3SecretKey   string `toml:"s3_secret_key"`
	S3Region      string `toml:"s3_region"`
	S3UseSSL      bool   `toml:"s3_use_ssl"`
	RawBucket     string `toml:"raw_bucket"`

	Detection DetectionConfig `toml:"detection"`

	// SyncHash hashes uploads while they stream and scans them inline
	// instead of enqueueing a fingerprint task.
	SyncHash     bool          `toml:"sync_hash"`
	OwnerLock    bool          `toml:"owner_lock"`
	OwnerLockTTL time.Duration `toml:"-"`
	EventSinks   []string      `toml:"event_sinks"`
}

// DetectionConfig tunes the duplicate detector.
type DetectionConfig struct {
	FingerprintMode     string `toml:"fingerprint_mode"`
	CandidateLimit      int    `toml:"candidate_limit"`
	SimilarityThreshold int    `toml:"similarity_threshold"`
	SimilarLimit        int    `toml:"similar_limit"`
}

const (
	defaultAddress        = ":8080"
	defaultMaxFileSize    = 25 << 20 // 25 MiB
	defaultWorkerCount    = 2
	defaultBackend        = BackendMemory
	defaultSQLitePath     = "dupeguard.db"
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultS3Endpoint     = "127.0.0.1:9000"
	defaultS3Region       = "us-east-1"
	defaultRawBucket      = "dupeguard-raw"
	defaultMode           = "raw"
	defaultCandidateLimit = 100
	defaultThreshold      = 70
	defaultSimilarLimit   = 5
	defaultLockTTL        = 30 * time.Second
	defaultEventSinks     = "log"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Address:        defaultAddress,
		MaxFileSize:    defaultMaxFileSize,
		ProcessingPool: defaultWorkerCount,
		StoreBackend:   defaultBackend,
		SQLitePath:     defaultSQLitePath,
		RedisAddr:      defaultRedisAddr,
		ObjectBackend:  ObjectsMemory,
		S3Endpoint:     defaultS3Endpoint,
		S3Region:       defaultS3Region,
		RawBucket:      defaultRawBucket,
		Detection: DetectionConfig{
			FingerprintMode:     defaultMode,
			CandidateLimit:      defaultCandidateLimit,
			SimilarityThreshold: defaultThreshold,
			SimilarLimit:        defaultSimilarLimit,
		},
		OwnerLockTTL: defaultLockTTL,
		EventSinks:   splitList(defaultEventSinks),
	}
}

// Load reads configuration from .env, the optional TOML file and the
// environment, falling back to defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := readEnv("DUPEGUARD_CONFIG", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	// Durations are written as strings such as "45s".
	var extra struct {
		OwnerLockTTL string `toml:"owner_lock_ttl"`
	}
	if err := toml.Unmarshal(data, &extra); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	if extra.OwnerLockTTL != "" {
		ttl, err := time.ParseDuration(extra.OwnerLockTTL)
		if err != nil {
			return fmt.Errorf("config file %q: owner_lock_ttl: %w", path, err)
		}
		c.OwnerLockTTL = ttl
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Address = readEnv("DUPEGUARD_ADDRESS", c.Address)
	c.MaxFileSize = parseInt64("DUPEGUARD_MAX_FILE_BYTES", c.MaxFileSize)
	c.ProcessingPool = parseInt("DUPEGUARD_WORKERS", c.ProcessingPool)

	c.StoreBackend = strings.ToLower(readEnv("DUPEGUARD_STORE", c.StoreBackend))
	c.DatabaseURL = readEnv("DUPEGUARD_DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = readEnv("DUPEGUARD_SQLITE_PATH", c.SQLitePath)

	c.RedisAddr = readEnv("DUPEGUARD_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readEnv("DUPEGUARD_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = parseInt("DUPEGUARD_REDIS_DB", c.RedisDB)

	c.ObjectBackend = strings.ToLower(readEnv("DUPEGUARD_OBJECTS", c.ObjectBackend))
	c.S3Endpoint = readEnv("DUPEGUARD_S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = readEnv("DUPEGUARD_S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = readEnv("DUPEGUARD_S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = readEnv("DUPEGUARD_S3_REGION", c.S3Region)
	c.S3UseSSL = parseBool("DUPEGUARD_S3_USE_SSL", c.S3UseSSL)
	c.RawBucket = readEnv("DUPEGUARD_RAW_BUCKET", c.RawBucket)

	d := &c.Detection
	d.FingerprintMode = readEnv("DUPEGUARD_FINGERPRINT_MODE", d.FingerprintMode)
	d.CandidateLimit = parseInt("DUPEGUARD_CANDIDATE_LIMIT", d.CandidateLimit)
	d.SimilarityThreshold = parseInt("DUPEGUARD_SIMILARITY_THRESHOLD", d.SimilarityThreshold)
	d.SimilarLimit = parseInt("DUPEGUARD_SIMILAR_LIMIT", d.SimilarLimit)

	c.SyncHash = parseBool("DUPEGUARD_SYNC_HASH", c.SyncHash)
	c.OwnerLock = parseBool("DUPEGUARD_OWNER_LOCK", c.OwnerLock)
	c.OwnerLockTTL = parseDuration("DUPEGUARD_OWNER_LOCK_TTL", c.OwnerLockTTL)
	if v, ok := os.LookupEnv("DUPEGUARD_EVENT_SINKS"); ok {
		c.EventSinks = splitList(v)
	}
}

// Validate rejects settings the commands cannot run with and fills
// non-positive numeric values with their defaults.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DUPEGUARD_DATABASE_URL is required for the %s store", BackendPostgres)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	switch c.ObjectBackend {
	case ObjectsMemory, ObjectsS3:
	default:
		return fmt.Errorf("config: unknown object backend %q", c.ObjectBackend)
	}
	if c.ProcessingPool <= 0 {
		c.ProcessingPool = defaultWorkerCount
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.OwnerLockTTL <= 0 {
		c.OwnerLockTTL = defaultLockTTL
	}
	d := &c.Detection
	if d.CandidateLimit <= 0 {
		d.CandidateLimit = defaultCandidateLimit
	}
	if d.SimilarLimit <= 0 {
		d.SimilarLimit = defaultSimilarLimit
	}
	if d.SimilarityThreshold < 0 || d.SimilarityThreshold > 100 {
		return fmt.Errorf("config: similarity threshold %d outside 0..100", d.SimilarityThreshold)
	}
	return nil
}

// UsesQueue reports whether fingerprint work goes through the Redis task
// queue. The PostgreSQL service deployment runs a separate worker; the
// memory and SQLite backends fingerprint in-process.
func (c *Config) UsesQueue() bool {
	return c.StoreBackend == BackendPostgres
}

// UsesRedis reports whether any configured component needs Redis.
func (c *Config) UsesRedis() bool {
	return c.UsesQueue() || c.OwnerLock || c.HasSink("queue")
}

// HasSink reports whether name is among the configured event sinks.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.EventSinks {
		if s == name {
			return true
		}
	}
	return false
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Invalid input is ignored and the default kept.
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
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
