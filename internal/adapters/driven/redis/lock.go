package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// DefaultLockPrefix namespaces lock keys.
const DefaultLockPrefix = "social:lock:"

// Lock implements DistributedLock using SET NX with a TTL.
// The value is this instance's owner ID, so a lock can only be released or
// extended by the instance that took it.
type Lock struct {
	client  *redis.Client
	prefix  string
	ownerID string
}

// LockConfig holds configuration for the Redis lock.
type LockConfig struct {
	Prefix  string // Key prefix (default: DefaultLockPrefix)
	OwnerID string // Defaults to hostname:pid:uuid
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client *redis.Client, cfg LockConfig) *Lock {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultLockPrefix
	}
	ownerID := cfg.OwnerID
	if ownerID == "" {
		hostname, _ := os.Hostname()
		ownerID = fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
	}
	return &Lock{client: client, prefix: prefix, ownerID: ownerID}
}

// ownedDelete and ownedExpire only act when KEYS[1] still holds ARGV[1].
var (
	ownedDelete = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)

	ownedExpire = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Acquire takes the named lock for ttl. Returns false without error when
// another owner holds it, including this instance on a second call.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release drops the lock if this instance still owns it.
// Releasing an expired or foreign lock is a no-op.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := ownedDelete.Run(ctx, l.client, []string{l.prefix + name}, l.ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend resets the TTL of a lock this instance owns.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := ownedExpire.Run(ctx, l.client, []string{l.prefix + name}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID identifies this instance as a lock holder.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
