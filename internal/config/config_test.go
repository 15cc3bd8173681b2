package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"APP_ADMIN_USER", "APP_DATABASE_URL", "APP_LISTEN_ADDR", "APP_RETENTION_DAYS",
		"APP_SECRET", "APP_TRACK_RATE", "APP_TRACK_BURST", "APP_ROLLUP_INTERVAL", "APP_REDIS_URL",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "admin", cfg.AdminUser)
	assert.Equal(t, "sqlite://sitepulse.db", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.InDelta(t, 20.0, cfg.TrackRatePerSecond, 0.001)
	assert.Equal(t, 40, cfg.TrackBurst)
	assert.Equal(t, time.Hour, cfg.RollupInterval)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "http://localhost:8080", cfg.PublicURL())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("APP_RETENTION_DAYS", "0")
	t.Setenv("APP_TRACK_RATE", "2.5")
	t.Setenv("APP_TRACK_BURST", "not-a-number")
	t.Setenv("APP_ROLLUP_INTERVAL", "5m")
	t.Setenv("APP_LOG_DEVELOPMENT", "true")

	cfg := config.Load()

	assert.Equal(t, 0, cfg.RetentionDays)
	assert.InDelta(t, 2.5, cfg.TrackRatePerSecond, 0.001)
	assert.Equal(t, 40, cfg.TrackBurst)
	assert.Equal(t, 5*time.Minute, cfg.RollupInterval)
	assert.True(t, cfg.LogDevelopment)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.PublicURL())
}

func TestValidate(t *testing.T) {
	valid := config.Config{DatabaseURL: "sqlite://x.db", Secret: "0123456789abcdef", ListenAddr: ":1"}
	require.NoError(t, valid.Validate())

	short := valid
	short.Secret = "short"
	err := short.Validate()
	require.Error(t, err)

	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "APP_SECRET", verr.Field)

	noDB := valid
	noDB.DatabaseURL = "  "
	require.Error(t, noDB.Validate())
}
