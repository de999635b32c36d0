package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates scheduler ticks across instances so that only
// one of them scans and enqueues per interval.
type DistributedLock interface {
	// Acquire tries to take the named lock for ttl.
	// Returns false, nil when another instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the named lock if this instance holds it. Best-effort.
	Release(ctx context.Context, name string) error

	// Extend pushes out the expiry of a lock this instance holds.
	// Advisory-lock backends without expiry treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
