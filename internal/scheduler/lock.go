package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockKey is the Redis key providing global mutual exclusion for the
// autotrade cycle across every process and instance.
const LockKey = "autotrade:lock"

// releaseScript deletes the lock only when the caller still owns it, so a
// slow cycle whose lock expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// CycleLock is the distributed lock guarding cycle execution. The TTL is
// the crash guarantee: a process that dies mid-cycle leaves a lock that
// expires on its own.
type CycleLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewCycleLock(client *redis.Client, ttl time.Duration) *CycleLock {
	return &CycleLock{client: client, key: LockKey, ttl: ttl}
}

// Acquire attempts to take the lock. ok is false when another holder has
// it; that is contention, not an error.
func (l *CycleLock) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("scheduler: lock acquire: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still owns it.
func (l *CycleLock) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("scheduler: lock release: %w", err)
	}
	return nil
}
