// Package ratelimit gates external API consumption with tiered token
// buckets in a shared store. Buckets are created lazily, refilled to full
// capacity on each wall-clock minute boundary (lazy refill on read, no
// background timer), and decremented atomically so concurrent workers can
// never over-consume a tier.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrExhausted is returned when neither the primary nor the fallback tier
// has tokens left in the current minute window.
var ErrExhausted = errors.New("rate limit exhausted on all tiers")

// bucketTTL keeps stale buckets from outliving their usefulness; an
// expired bucket is simply recreated full on next use.
const bucketTTL = 3 * time.Minute

// Backend performs the atomic check-and-decrement for one bucket in one
// minute period. Implementations must be race-free across processes.
type Backend interface {
	TryConsume(ctx context.Context, key, period string, capacity int64) (bool, error)
}

// consumeScript refills the bucket when the minute period rolled over and
// decrements in the same server-side transaction, so concurrent workers
// cannot read-then-write around each other.
var consumeScript = redis.NewScript(`
local tokens = redis.call('HGET', KEYS[1], 'tokens')
local period = redis.call('HGET', KEYS[1], 'period')
if period ~= ARGV[1] then
  tokens = tonumber(ARGV[2])
  redis.call('HSET', KEYS[1], 'period', ARGV[1])
else
  tokens = tonumber(tokens)
end
if tokens <= 0 then
  redis.call('HSET', KEYS[1], 'tokens', 0)
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  return 0
end
redis.call('HSET', KEYS[1], 'tokens', tokens - 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisBackend runs the consume script against a shared Redis instance.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client with a key prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) TryConsume(ctx context.Context, key, period string, capacity int64) (bool, error) {
	fullKey := fmt.Sprintf("%s:bucket:%s", b.prefix, key)
	res, err := consumeScript.Run(ctx, b.client,
		[]string{fullKey}, period, capacity, int(bucketTTL.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

type memoryBucket struct {
	tokens int64
	period string
}

// MemoryBackend is an in-process backend for tests and single-worker
// runs. The mutex gives the same all-or-nothing semantics as the script.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]*memoryBucket)}
}

func (b *MemoryBackend) TryConsume(_ context.Context, key, period string, capacity int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok || bucket.period != period {
		bucket = &memoryBucket{tokens: capacity, period: period}
		b.buckets[key] = bucket
	}
	if bucket.tokens <= 0 {
		return false, nil
	}
	bucket.tokens--
	return true, nil
}

// Limiter consumes from configured tiers with fallback.
type Limiter struct {
	logger     *zap.Logger
	backend    Backend
	capacities map[string]int64
	now        func() time.Time
}

// DefaultTiers is the production tier layout.
func DefaultTiers() map[string]int64 {
	return map[string]int64{
		"A":       60,
		"B":       30,
		"reserve": 10,
	}
}

// NewLimiter creates a limiter over the given backend and tier
// capacities.
func NewLimiter(logger *zap.Logger, backend Backend, capacities map[string]int64) *Limiter {
	if len(capacities) == 0 {
		capacities = DefaultTiers()
	}
	return &Limiter{
		logger:     logger.Named("ratelimit"),
		backend:    backend,
		capacities: capacities,
		now:        time.Now,
	}
}

// Consume attempts to take one token from the tier in the current minute
// window. Unknown tiers never serve.
func (l *Limiter) Consume(ctx context.Context, tier string) (bool, error) {
	capacity, ok := l.capacities[tier]
	if !ok {
		return false, fmt.Errorf("unknown rate limit tier %q", tier)
	}
	period := l.now().UTC().Truncate(time.Minute).Format("200601021504")
	return l.backend.TryConsume(ctx, tier, period, capacity)
}

// ConsumeWithFallback tries the primary tier, then the fallback, and
// reports which tier actually served the request. ErrExhausted means
// both were empty.
func (l *Limiter) ConsumeWithFallback(ctx context.Context, primary, fallback string) (string, error) {
	ok, err := l.Consume(ctx, primary)
	if err != nil {
		return "", err
	}
	if ok {
		return primary, nil
	}
	ok, err = l.Consume(ctx, fallback)
	if err != nil {
		return "", err
	}
	if ok {
		l.logger.Debug("rate limit fallback used",
			zap.String("primary", primary), zap.String("fallback", fallback))
		return fallback, nil
	}
	return "", ErrExhausted
}
