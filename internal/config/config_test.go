package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "HTTP_PORT", "MONGO_DB", "TOKEN_TTL",
		"ATTENDANCE_EDIT_WINDOW", "BROADCAST_BACKEND", "RATE_LIMIT_PER_MIN",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "rollcall", cfg.MongoDatabase)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.EditWindow)
	assert.Equal(t, "redis", cfg.BroadcastBackend)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ATTENDANCE_EDIT_WINDOW", "48h")
	t.Setenv("BROADCAST_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")

	cfg := Load()
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 48*time.Hour, cfg.EditWindow)
	assert.Equal(t, "memory", cfg.BroadcastBackend)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("ATTENDANCE_EDIT_WINDOW", "two days")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")

	cfg := Load()
	assert.Equal(t, 24*time.Hour, cfg.EditWindow)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}
