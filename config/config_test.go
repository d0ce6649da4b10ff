package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("APP_ENV", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.Enrollment.LazyCreateProfile)
	assert.Equal(t, 10*time.Second, cfg.Enrollment.LockTTL)
	assert.Equal(t, 10, cfg.Recommend.Limit)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.ReconcileSpec)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, time.UTC, cfg.App.Location)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "skillx")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("ENROLLMENT_LAZY_PROFILE", "true")
	t.Setenv("RECOMMEND_CACHE_TTL", "90s")
	t.Setenv("SCHEDULER_MAX_FAILURE_RATIO", "0.2")
	t.Setenv("SCHEDULER_BATCH_SIZE", "not-a-number")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://skillx:pw@db:5432/skillx?sslmode=disable", cfg.Database.URL)
	assert.True(t, cfg.Enrollment.LazyCreateProfile)
	assert.Equal(t, 90*time.Second, cfg.Recommend.CacheTTL)
	assert.Equal(t, 0.2, cfg.Scheduler.MaxFailureRatio)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI is required")

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")
	assert.Contains(t, err.Error(), "LOG_FORMAT")

	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "STORE_DRIVER must be")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RECOMMEND_LIMIT=7\nHTTP_ADDR=:9999\n"), 0o600))

	t.Setenv("APP_ENV_FILE", path)
	t.Setenv("HTTP_ADDR", ":7000")
	// godotenv never overrides a variable that is already present, even if empty.
	require.NoError(t, os.Unsetenv("RECOMMEND_LIMIT"))
	t.Cleanup(func() { os.Unsetenv("RECOMMEND_LIMIT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Recommend.Limit)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	t.Setenv("APP_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	_, err := Load()
	assert.NoError(t, err)
}
