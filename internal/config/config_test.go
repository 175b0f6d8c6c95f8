package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryStoreDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.ReminderLeadTime)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	assert.EqualError(t, err, "POSTGRES_DSN is required")
}

func TestLoad_ProdRequiresSecret(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RedisURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_URL", "redis://svc:pw@cache.internal:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "svc", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
}

func TestGetDuration(t *testing.T) {
	t.Setenv("X_SECONDS", "30")
	t.Setenv("X_GO", "90m")
	t.Setenv("X_BAD", "soon")

	assert.Equal(t, 30*time.Second, getDuration("X_SECONDS", time.Minute))
	assert.Equal(t, 90*time.Minute, getDuration("X_GO", time.Minute))
	assert.Equal(t, time.Minute, getDuration("X_BAD", time.Minute))
	assert.Equal(t, time.Minute, getDuration("X_MISSING", time.Minute))
}
