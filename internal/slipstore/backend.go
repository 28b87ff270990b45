package slipstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

var errNotFound = errors.New("slipstore: key not found")

// backend is the minimal key/value surface the store needs. Redis is the
// production implementation; the in-memory one doubles as the outage
// fallback cache and as the test double.
type backend interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Rename(ctx context.Context, oldKey, newKey string) error
}

type redisBackend struct {
	client *redis.Client
}

func (b *redisBackend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNotFound
	}
	return v, err
}

func (b *redisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *redisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *redisBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	return b.client.Rename(ctx, oldKey, newKey).Err()
}

type memoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]string)}
}

func (b *memoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *memoryBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (b *memoryBackend) Del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}

// Keys supports the patterns the store uses: a trailing-wildcard prefix
// ("trade:*") or an exact key, matching Redis semantics for both.
func (b *memoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	if prefix, isGlob := strings.CutSuffix(pattern, "*"); isGlob {
		for k := range b.data {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		return keys, nil
	}
	if _, ok := b.data[pattern]; ok {
		keys = append(keys, pattern)
	}
	return keys, nil
}

func (b *memoryBackend) Rename(_ context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[oldKey]
	if !ok {
		return errNotFound
	}
	b.data[newKey] = v
	delete(b.data, oldKey)
	return nil
}

// drain removes and returns everything held in the backend.
func (b *memoryBackend) drain() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = make(map[string]string)
	return out
}

func (b *memoryBackend) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
