package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl, err := NewRateLimiter(nil, 10, time.Second, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.NoError(t, rl.Allow(context.Background(), "conn:1"))
	}
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	rl, err := NewRateLimiter(nil, 3, time.Second, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow(context.Background(), "conn:2"))
	}
	assert.ErrorIs(t, rl.Allow(context.Background(), "conn:2"), ErrRateLimited)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl, err := NewRateLimiter(nil, 1, time.Second, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, rl.Allow(context.Background(), "conn:a"))
	assert.ErrorIs(t, rl.Allow(context.Background(), "conn:a"), ErrRateLimited)
	assert.NoError(t, rl.Allow(context.Background(), "conn:b"))
}
