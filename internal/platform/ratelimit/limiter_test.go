package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"linkcore.local/internal/testutil"
)

func TestLimiterSlidingWindow(t *testing.T) {
	client := testutil.StartRedis(t)
	limiter := NewLimiter(client)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	rule := Rule{Name: "test", Limit: 3, Window: 2 * time.Second}
	key := "rl:test:203.0.113.10"
	ctx := context.Background()

	// 前 limit 次放行
	for i := 0; i < rule.Limit; i++ {
		allowed, _, err := limiter.Allow(ctx, key, rule)
		require.NoError(t, err)
		require.True(t, allowed, "attempt %d", i+1)
		now = now.Add(100 * time.Millisecond)
	}

	// 第 limit+1 次拒绝，retryAfter 指向最早那次滑出窗口的时间
	allowed, retryAfter, err := limiter.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 1700*time.Millisecond, retryAfter)

	// 被拒的请求不占名额：窗口滑过最早一次后恰好再放行一次
	now = now.Add(retryAfter + time.Millisecond)
	allowed, _, err = limiter.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = limiter.Allow(ctx, key, rule)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	client := testutil.StartRedis(t)
	limiter := NewLimiter(client)
	rule := Rule{Name: "test", Limit: 1, Window: time.Minute}
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "rl:test:a", rule)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "rl:test:b", rule)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "rl:test:a", rule)
	require.NoError(t, err)
	assert.False(t, allowed)
}
