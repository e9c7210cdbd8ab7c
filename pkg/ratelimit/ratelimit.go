// Package ratelimit 入口限流：配置了 Redis 时多实例共享配额，否则退化为进程内令牌桶
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	// Allow checks if the request is allowed for the given key and limit
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit defines the rate limit rule
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter implements RateLimiter using Redis
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter creates a new RedisRateLimiter
func NewRedisRateLimiter(rdb redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
	}
}

// Allow checks if the request is allowed
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// LocalRateLimiter 进程内令牌桶，每个 key 一个 rate.Limiter
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow checks if the request is allowed
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return &Result{Allowed: true, Remaining: limit.Burst}, nil
	}
	every := rate.Every(limit.Period / time.Duration(limit.Rate))

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(every, limit.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &Result{Allowed: false, RetryAfter: limit.Period}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay, ResetAfter: delay}, nil
	}
	return &Result{Allowed: true, Remaining: int(lim.TokensAt(now))}, nil
}
