package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewLock_Defaults(t *testing.T) {
	_, client := setupTestRedis(t)

	lock1 := NewLock(client, LockConfig{})
	lock2 := NewLock(client, LockConfig{})

	if lock1.prefix != DefaultLockPrefix {
		t.Errorf("expected default prefix, got %q", lock1.prefix)
	}
	if lock1.OwnerID() == "" {
		t.Error("expected non-empty owner ID")
	}
	if lock1.OwnerID() == lock2.OwnerID() {
		t.Errorf("expected unique owner IDs, got same: %s", lock1.OwnerID())
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewLock(client, LockConfig{OwnerID: "scheduler-a"})

	acquired, err := lock.Acquire(ctx, "social-sync:scheduler", 2*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire lock")
	}

	got, err := mr.Get(DefaultLockPrefix + "social-sync:scheduler")
	if err != nil {
		t.Fatalf("lock key missing: %v", err)
	}
	if got != "scheduler-a" {
		t.Errorf("expected owner scheduler-a, got %q", got)
	}
	if ttl := mr.TTL(DefaultLockPrefix + "social-sync:scheduler"); ttl != 2*time.Minute {
		t.Errorf("expected ttl 2m, got %v", ttl)
	}

	// Not reentrant
	again, err := lock.Acquire(ctx, "social-sync:scheduler", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again {
		t.Error("second acquire should fail while held")
	}

	if err := lock.Release(ctx, "social-sync:scheduler"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists(DefaultLockPrefix + "social-sync:scheduler") {
		t.Error("expected lock key to be deleted")
	}
}

func TestLock_OtherOwnerCannotRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client, LockConfig{OwnerID: "a"})
	b := NewLock(client, LockConfig{OwnerID: "b"})

	if ok, _ := a.Acquire(ctx, "tick", time.Minute); !ok {
		t.Fatal("a should acquire")
	}
	if ok, _ := b.Acquire(ctx, "tick", time.Minute); ok {
		t.Fatal("b should not acquire a held lock")
	}

	if err := b.Release(ctx, "tick"); err != nil {
		t.Fatalf("foreign release should be a no-op, got %v", err)
	}
	if !mr.Exists(DefaultLockPrefix + "tick") {
		t.Error("foreign release must not delete the lock")
	}

	if err := b.Extend(ctx, "tick", time.Minute); err == nil {
		t.Error("foreign extend should fail")
	}
}

func TestLock_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewLock(client, LockConfig{OwnerID: "a"})
	b := NewLock(client, LockConfig{OwnerID: "b"})

	if ok, _ := a.Acquire(ctx, "tick", time.Second); !ok {
		t.Fatal("a should acquire")
	}
	mr.FastForward(2 * time.Second)

	ok, err := b.Acquire(ctx, "tick", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("b should acquire after expiry")
	}
}

func TestLock_Extend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	lock := NewLock(client, LockConfig{Prefix: "test:", OwnerID: "a"})

	if ok, _ := lock.Acquire(ctx, "tick", 10*time.Second); !ok {
		t.Fatal("should acquire")
	}
	if err := lock.Extend(ctx, "tick", time.Minute); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if ttl := mr.TTL("test:tick"); ttl != time.Minute {
		t.Errorf("expected ttl 1m after extend, got %v", ttl)
	}

	err := lock.Extend(ctx, "missing", time.Minute)
	if err == nil || !strings.Contains(err.Error(), "not held") {
		t.Errorf("expected not held error, got %v", err)
	}
}

func TestLock_Ping(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewLock(client, LockConfig{})

	if err := lock.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}

	mr.Close()
	if err := lock.Ping(context.Background()); err == nil {
		t.Error("expected ping error after redis closed")
	}
}
