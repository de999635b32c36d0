package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps lock expiries in memory.
// Set the Fn fields to inject failures.
type MockDistributedLock struct {
	mu       sync.Mutex
	expiries map[string]time.Time
	acquires int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(ctx context.Context, name string) error
	PingFn    func() error
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{expiries: make(map[string]time.Time)}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	m.acquires++
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.expiries[name]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.expiries[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expiries, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiries[name]
	if !ok || time.Now().After(exp) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.expiries[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Hold marks name as held by another instance for ttl.
func (m *MockDistributedLock) Hold(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiries[name] = time.Now().Add(ttl)
}

// IsHeld reports whether name is currently held.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiries[name]
	return ok && time.Now().Before(exp)
}

// AcquireCount returns how many times Acquire was called.
func (m *MockDistributedLock) AcquireCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires
}
