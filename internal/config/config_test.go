package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DEFAULT_LLM", "EVENTS_ENABLED", "CHAT_API_URL", "CHAT_REQUEST_TIMEOUT", "CHAT_STREAM_IDLE_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "echo", cfg.DefaultLLM)
	assert.False(t, cfg.EventsEnabled)
	assert.Equal(t, "http://localhost:8080", cfg.Client.APIURL)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Client.StreamIdleTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EVENTS_ENABLED", "true")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("CHAT_API_URL", "https://chat.example.com")
	t.Setenv("CHAT_DEFAULT_MODEL", "gpt-4")
	t.Setenv("CHAT_STREAM_IDLE_TIMEOUT", "2s")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, "https://chat.example.com", cfg.Client.APIURL)
	assert.Equal(t, "gpt-4", cfg.Client.DefaultModel)
	assert.Equal(t, 2*time.Second, cfg.Client.StreamIdleTimeout)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("TRACING_ENABLED", "maybe")
	t.Setenv("CHAT_REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Client.RequestTimeout = 0
	cfg.Client.StreamIdleTimeout = -time.Second
	cfg.Client.APIURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAT_REQUEST_TIMEOUT")
	assert.Contains(t, err.Error(), "CHAT_STREAM_IDLE_TIMEOUT")
	assert.Contains(t, err.Error(), "CHAT_API_URL")

	cfg = Load()
	cfg.Client.StreamIdleTimeout = 0
	assert.NoError(t, cfg.Validate())
}
