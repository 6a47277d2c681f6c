package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JOURNEY_SESSION_COOKIE", "cookie")
}

func TestFromEnv_RequiredVariables(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JOURNEY_SESSION_COOKIE", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOURNEY_SESSION_COOKIE")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxDBConnections)
	assert.Equal(t, 32, cfg.EmbedBatchSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.DevMode)
	assert.False(t, cfg.ForceEmbeddingRegen)
	assert.Empty(t, cfg.DisabledJobs)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_DB_CONNECTIONS", "10")
	t.Setenv("DEV_MODE", "TRUE")
	t.Setenv("FORCE_EMBEDDING_REGEN", "1")
	t.Setenv("REEMBED_TARGET", "Comments")
	t.Setenv("DISABLE_JOBS", "prune, trace")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxDBConnections)
	assert.True(t, cfg.DevMode)
	assert.True(t, cfg.ForceEmbeddingRegen)
	assert.Equal(t, "comments", cfg.ReembedTarget)
	assert.Equal(t, map[string]bool{"prune": true, "trace": true}, cfg.DisabledJobs)
}

func TestFromEnv_MalformedIntFallsBackToDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_DB_CONNECTIONS", "lots")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxDBConnections)
}
