package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "http://localhost:5000", cfg.Remote.BaseURL)
	assert.Equal(t, "ws://localhost:5000/ws", cfg.Remote.PushURL)
	assert.Equal(t, TransportWebsocket, cfg.Push.Transport)
	assert.False(t, cfg.Push.Relay)
	assert.Equal(t, 500*time.Millisecond, cfg.Dashboard.ReconcileDelay)
	assert.Equal(t, 1000, cfg.Dashboard.ExportLimit)
	assert.False(t, cfg.Dashboard.AutoCorrectChannel)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REMOTE_BASE_URL", "https://mod.example.com/")
	t.Setenv("RECONCILE_DELAY", "2s")
	t.Setenv("AUTO_CORRECT_LOG_CHANNEL", "true")
	t.Setenv("PUSH_TRANSPORT", "Redis")
	t.Setenv("PUSH_REDIS_RELAY", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://mod.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "wss://mod.example.com/ws", cfg.Remote.PushURL)
	assert.Equal(t, 2*time.Second, cfg.Dashboard.ReconcileDelay)
	assert.True(t, cfg.Dashboard.AutoCorrectChannel)
	assert.Equal(t, TransportRedis, cfg.Push.Transport)
	assert.True(t, cfg.Push.Relay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_ReconcileDelayHasFloor(t *testing.T) {
	t.Setenv("RECONCILE_DELAY", "10ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MinReconcileDelay, cfg.Dashboard.ReconcileDelay)
}

func TestLoad_NoneTransport(t *testing.T) {
	t.Setenv("PUSH_TRANSPORT", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TransportNone, cfg.Push.Transport)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("default secret in production", func(t *testing.T) {
		t.Setenv("ENV", "production")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("unknown transport", func(t *testing.T) {
		t.Setenv("PUSH_TRANSPORT", "carrier-pigeon")
		_, err := Load()
		assert.Error(t, err)
	})
}
