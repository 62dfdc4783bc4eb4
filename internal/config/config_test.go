package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "raw", cfg.Detection.FingerprintMode)
	assert.Equal(t, 100, cfg.Detection.CandidateLimit)
	assert.Equal(t, 70, cfg.Detection.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Detection.SimilarLimit)
	assert.False(t, cfg.SyncHash)
	assert.False(t, cfg.OwnerLock)
	assert.Equal(t, 30*time.Second, cfg.OwnerLockTTL)
	assert.Equal(t, []string{"log"}, cfg.EventSinks)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DUPEGUARD_ADDRESS", ":9090")
	t.Setenv("DUPEGUARD_STORE", "SQLite")
	t.Setenv("DUPEGUARD_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("DUPEGUARD_SIMILARITY_THRESHOLD", "80")
	t.Setenv("DUPEGUARD_SYNC_HASH", "true")
	t.Setenv("DUPEGUARD_OWNER_LOCK_TTL", "1m")
	t.Setenv("DUPEGUARD_EVENT_SINKS", "log, Store ,queue")
	t.Setenv("DUPEGUARD_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 80, cfg.Detection.SimilarityThreshold)
	assert.True(t, cfg.SyncHash)
	assert.Equal(t, time.Minute, cfg.OwnerLockTTL)
	assert.Equal(t, []string{"log", "store", "queue"}, cfg.EventSinks)
	assert.True(t, cfg.HasSink("store"))
	assert.False(t, cfg.HasSink("webhook"))
	assert.Equal(t, 2, cfg.ProcessingPool, "invalid values keep the default")
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupeguard.toml")
	content := `
address = ":7000"
store = "postgres"
database_url = "postgres://localhost/dupeguard"
owner_lock = true
owner_lock_ttl = "45s"

[detection]
candidate_limit = 250
similar_limit = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DUPEGUARD_CONFIG", path)
	t.Setenv("DUPEGUARD_ADDRESS", ":7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Address, "environment wins over the file")
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://localhost/dupeguard", cfg.DatabaseURL)
	assert.True(t, cfg.OwnerLock)
	assert.Equal(t, 45*time.Second, cfg.OwnerLockTTL)
	assert.Equal(t, 250, cfg.Detection.CandidateLimit)
	assert.Equal(t, 3, cfg.Detection.SimilarLimit)
	assert.Equal(t, 70, cfg.Detection.SimilarityThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("DUPEGUARD_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.StoreBackend = BackendPostgres
	assert.Error(t, cfg.Validate(), "postgres needs a database url")

	cfg = Default()
	cfg.StoreBackend = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Detection.SimilarityThreshold = 101
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Detection.CandidateLimit = 0
	cfg.MaxFileSize = -1
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Detection.CandidateLimit)
	assert.Equal(t, int64(25<<20), cfg.MaxFileSize)
}

func TestUsesRedis(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.UsesQueue())
	assert.False(t, cfg.UsesRedis())

	cfg.OwnerLock = true
	assert.True(t, cfg.UsesRedis())

	cfg = Default()
	cfg.EventSinks = []string{"log", "queue"}
	assert.True(t, cfg.UsesRedis())

	cfg = Default()
	cfg.StoreBackend = BackendPostgres
	assert.True(t, cfg.UsesQueue())
	assert.True(t, cfg.UsesRedis())
}

func TestValidate_ObjectBackend(t *testing.T) {
	cfg := Default()
	cfg.ObjectBackend = "gcs"
	assert.Error(t, cfg.Validate())
}
