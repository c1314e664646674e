// Package store provides the shared key-value state crossing worker
// process boundaries: position entry timestamps, day-start equity,
// adaptive thresholds. Mutation goes through atomic primitives; plain
// read-modify-write is never safe here because multiple workers may race
// on the same key.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// KV is the minimal shared-state contract used by the pipeline.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// RedisKV implements KV on a shared Redis instance, the backing store for
// multi-worker deployments.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV wraps an existing client with a key prefix.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	return fmt.Sprintf("%s:%s", r.prefix, k)
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	wrapped := make([]string, len(keys))
	for i, k := range keys {
		wrapped[i] = r.key(k)
	}
	return r.client.Del(ctx, wrapped...).Err()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KV used in tests and single-worker runs.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memoryEntry)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		delete(m.data, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok && (e.expiresAt.IsZero() || time.Now().Before(e.expiresAt)) {
		return false, nil
	}
	m.data[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
