package domain

import "sync"

// RuntimeConfig tracks backends chosen at startup and the feature flags that
// can be flipped at runtime through the ops API.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend string // "redis" or "postgres"
	LockBackend  string // "redis" or "postgres"

	// Dynamic flags
	syncEnabled        bool
	feedRoutingEnabled bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend, lockBackend string, syncEnabled, feedRoutingEnabled bool) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend:       queueBackend,
		LockBackend:        lockBackend,
		syncEnabled:        syncEnabled,
		feedRoutingEnabled: feedRoutingEnabled,
	}
}

// SyncEnabled is the master switch. When off, the scheduler and worker are no-ops.
func (c *RuntimeConfig) SyncEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncEnabled
}

// FeedRoutingEnabled reports whether fetched items are routed into linked feeds.
func (c *RuntimeConfig) FeedRoutingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedRoutingEnabled
}

// SetSyncEnabled updates the master switch
func (c *RuntimeConfig) SetSyncEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncEnabled = enabled
}

// SetFeedRoutingEnabled updates the feed routing flag
func (c *RuntimeConfig) SetFeedRoutingEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedRoutingEnabled = enabled
}

// SyncFlags is the JSON view of the dynamic flags.
type SyncFlags struct {
	SyncEnabled        *bool `json:"sync_enabled,omitempty"`
	FeedRoutingEnabled *bool `json:"feed_routing_enabled,omitempty"`
}

// Flags returns the current flag values.
func (c *RuntimeConfig) Flags() SyncFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sync, routing := c.syncEnabled, c.feedRoutingEnabled
	return SyncFlags{SyncEnabled: &sync, FeedRoutingEnabled: &routing}
}

// ApplyFlags sets whichever flags are present in f.
func (c *RuntimeConfig) ApplyFlags(f SyncFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.SyncEnabled != nil {
		c.syncEnabled = *f.SyncEnabled
	}
	if f.FeedRoutingEnabled != nil {
		c.feedRoutingEnabled = *f.FeedRoutingEnabled
	}
}
