package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "SESSION_SECRET", "PORT", "RATE_LIMIT_MAX"} {
		os.Unsetenv(k)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	os.Setenv("SESSION_SECRET", "s")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://x")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaultsMatchConstants(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://x")
	os.Setenv("SESSION_SECRET", "s")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3001", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Quiz.QuestionTimeLimit)
}
