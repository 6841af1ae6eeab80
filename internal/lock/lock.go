// Package lock provides per-memory mutual exclusion for the
// backup_create/memory_ingest serialization ordering guarantee of spec §5,
// grounded on the teacher's RedisDedupeStore construction style
// (orchestrator/dedupe.go: redis.NewClient + Ping at startup), generalized
// from a value cache to a SET NX / DEL lock.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"graphmemory/internal/apperr"
)

const keyPrefix = "graphmemory:lock:memory:"

// Manager acquires and releases per-memory locks backed by Redis.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr string, db int) (*Manager, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("lock: redis ping failed: %w", err)
	}
	return &Manager{client: c, ttl: 10 * time.Minute}, nil
}

// Handle identifies one acquired lock so only its owner can release it.
type Handle struct {
	key   string
	token string
}

// Acquire blocks, retrying with backoff, until it holds memoryID's lock or
// ctx is cancelled.
func (m *Manager) Acquire(ctx context.Context, memoryID string) (Handle, error) {
	key := keyPrefix + memoryID
	token := uuid.NewString()
	backoff := 50 * time.Millisecond
	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return Handle{}, apperr.DependencyFailuref("redis", err, "acquire lock for memory %s", memoryID)
		}
		if ok {
			return Handle{key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return Handle{}, apperr.DependencyFailuref("redis", ctx.Err(), "acquire lock for memory %s timed out", memoryID)
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// releaseScript deletes the key only if it still holds this handle's token,
// so a lock that expired and was reacquired by someone else is never
// released out from under its new owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Release frees the lock identified by h, a no-op if it was already lost to TTL expiry.
func (m *Manager) Release(ctx context.Context, h Handle) error {
	if err := releaseScript.Run(ctx, m.client, []string{h.key}, h.token).Err(); err != nil {
		return apperr.DependencyFailuref("redis", err, "release lock %s", h.key)
	}
	return nil
}

// WithLock runs fn while holding memoryID's lock, always releasing it
// afterward, per spec §5's ordering guarantee for backup_create and
// memory_ingest.
func (m *Manager) WithLock(ctx context.Context, memoryID string, fn func(ctx context.Context) error) error {
	h, err := m.Acquire(ctx, memoryID)
	if err != nil {
		return err
	}
	defer m.Release(context.Background(), h)
	return fn(ctx)
}

func (m *Manager) Close() error {
	return m.client.Close()
}
