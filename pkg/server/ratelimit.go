/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window request budget keyed by client.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
)

// RedisLimiter counts requests per window in Redis, so the budget holds
// across process restarts and replicas sharing one instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter connects a fixed-window limiter to Redis. Zero limit and
// window select the defaults.
func NewRedisLimiter(addr, password string, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		limit:  int64(limit),
		window: window,
	}
}

// Allow increments the caller's window counter and compares it to the
// budget. The first hit in a window sets the key's expiry.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return count.Val() <= l.limit, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// MemoryLimiter is the in-process fallback used when no Redis address is
// configured. Windows reset lazily on access.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	counts      map[string]int
	windowStart time.Time
}

// NewMemoryLimiter builds the fallback limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &MemoryLimiter{
		limit:       limit,
		window:      window,
		counts:      make(map[string]int),
		windowStart: time.Now(),
	}
}

// Allow counts the caller in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.counts = make(map[string]int)
		l.windowStart = now
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}
