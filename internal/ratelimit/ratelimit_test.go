package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client), mr
}

func TestRedisLimiterAllowsUpToLimit(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, 42, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within the limit", i+1)
	}

	allowed, err := limiter.Allow(ctx, 42, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different user has their own window.
	allowed, err = limiter.Allow(ctx, 43, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(ctx, 42, 3, time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(61 * time.Second)

	allowed, err := limiter.Allow(ctx, 42, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "window expired, counter restarts")
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, 42, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, 42, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, 99, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFailoverWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewFailoverLimiter(NewRedisLimiter(client), NewMemoryLimiter(), zerolog.Nop())
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, 42, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	// Kill redis mid-flight; the in-memory fallback keeps limiting.
	mr.Close()

	for i := 0; i < 2; i++ {
		allowed, err = limiter.Allow(ctx, 42, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err = limiter.Allow(ctx, 42, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fallback enforces the limit on its own counts")
}
