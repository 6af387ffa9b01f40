// Package ratelimit throttles per-user command traffic. The primary limiter
// counts in Redis so limits survive restarts and span replicas; an in-memory
// fallback takes over when Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter answers whether a user may run one more command inside the window.
type Limiter interface {
	Allow(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

// RedisLimiter counts commands per user in a fixed window using INCR with a
// window-long TTL set on the first hit.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:user:%d", userID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

// MemoryLimiter is the single-process fallback. Windows are tracked per user
// and reset lazily on the first hit after expiry.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[int64]*userWindow
}

type userWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[int64]*userWindow)}
}

func (l *MemoryLimiter) Allow(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[userID]
	if !ok || now.After(w.resetAt) {
		w = &userWindow{resetAt: now.Add(window)}
		l.windows[userID] = w
	}
	w.count++
	return w.count <= limit, nil
}

// FailoverLimiter tries the primary limiter and falls back when it errors.
// A failed primary call is retried on the next request; there is no circuit
// state to manage.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   zerolog.Logger
}

func NewFailoverLimiter(primary, fallback Limiter, logger zerolog.Logger) *FailoverLimiter {
	return &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}
}

func (l *FailoverLimiter) Allow(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	allowed, err := l.primary.Allow(ctx, userID, limit, window)
	if err == nil {
		return allowed, nil
	}

	l.logger.Warn().Err(err).Msg("primary rate limiter failed, using fallback")
	return l.fallback.Allow(ctx, userID, limit, window)
}
