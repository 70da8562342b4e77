package config_test

import (
	"context"
	"testing"
	"time"

	config "github.com/chatbridge/chatbridge/server/config"
	envconfig "github.com/sethvargo/go-envconfig"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadWithLookuper(context.Background(), nil, envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.AgentURL)
	assert.Equal(t, "http://localhost:3000", cfg.ExternalURL)
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, "memory", cfg.Notifications.Provider)
	assert.Equal(t, "filesystem", cfg.Attachments.Provider)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.True(t, cfg.Streaming.Enabled)
	assert.Empty(t, cfg.Webhook.Secret)
	assert.Equal(t, "http://localhost:3000/webhook/push-notification", cfg.WebhookURL())
}

func TestLoadFromEnvironment(t *testing.T) {
	lookuper := envconfig.MapLookuper(map[string]string{
		"AGENT_URL":         "http://agent:8080",
		"EXTERNAL_URL":      "https://bridge.example.com",
		"SETTLE_DELAY":      "250ms",
		"RETRY_MAX_ATTEMPTS": "5",
		"WEBHOOK_SECRET":    "wh_test",
		"STREAMING_ENABLED": "false",
		"NOTIFICATIONS_PROVIDER": "redis",
		"NOTIFICATIONS_URL":      "redis://localhost:6379/0",
	})

	cfg, err := config.LoadWithLookuper(context.Background(), nil, lookuper)
	require.NoError(t, err)

	assert.Equal(t, "http://agent:8080", cfg.AgentURL)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "wh_test", cfg.Webhook.Secret)
	assert.False(t, cfg.Streaming.Enabled)
	assert.Equal(t, "https://bridge.example.com/webhook/push-notification", cfg.WebhookURL())
	assert.Equal(t, "https://bridge.example.com", cfg.Attachments.BaseURL)
}

func TestValidate(t *testing.T) {
	t.Run("corrects out-of-range values", func(t *testing.T) {
		cfg := &config.Config{
			AgentURL:    "http://agent:8080",
			ExternalURL: "http://localhost:3000",
		}
		cfg.Retry.MaxAttempts = 0
		cfg.Retry.Delay = -time.Second
		cfg.SettleDelay = -time.Second
		cfg.Notifications.Provider = "memory"

		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.Retry.MaxAttempts)
		assert.Equal(t, time.Duration(0), cfg.Retry.Delay)
		assert.Equal(t, time.Duration(0), cfg.SettleDelay)
	})

	t.Run("rejects empty agent URL", func(t *testing.T) {
		cfg := &config.Config{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects redis provider without URL", func(t *testing.T) {
		cfg := &config.Config{AgentURL: "http://agent:8080"}
		cfg.Notifications.Provider = "redis"
		assert.Error(t, cfg.Validate())
	})
}
