package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 20, cfg.Chat.TopK)
	assert.Equal(t, 5, cfg.Chat.TopN)
	assert.Equal(t, 15, cfg.Chat.MaxCarried)
	assert.False(t, cfg.Chat.Hybrid)
	assert.Equal(t, 5, cfg.Chat.Lookahead)
	assert.Equal(t, 100, cfg.Chat.PreambleLimit)
	assert.Equal(t, 5*time.Minute, cfg.Chat.GenerationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Chat.NoDataTimeout)
	assert.Equal(t, time.Hour, cfg.Chat.IdleTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RETRIEVAL_HYBRID", "true")
	t.Setenv("RETRIEVAL_TOP_N", "8")
	t.Setenv("CONVERSATION_IDLE_TIMEOUT", "90s")
	t.Setenv("GO_ENV", "production")
	t.Setenv("STREAM_LOOKAHEAD", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.Chat.Hybrid)
	assert.Equal(t, 8, cfg.Chat.TopN)
	assert.Equal(t, 90*time.Second, cfg.Chat.IdleTimeout)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5, cfg.Chat.Lookahead)
}
