package runtime

import (
	"sync"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Services holds the process-wide pieces that can change while running:
// feature flags, sync budgets and the sync operation itself.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	// Config tracks the feature flags
	config *domain.RuntimeConfig

	settings domain.SyncSettings
	syncOp   driven.SyncOperation
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig, settings domain.SyncSettings) *Services {
	return &Services{
		config:   config,
		settings: settings,
	}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// SyncEnabled reports the master flag. A nil registry counts as enabled.
func (s *Services) SyncEnabled() bool {
	if s == nil || s.config == nil {
		return true
	}
	return s.config.SyncEnabled()
}

// FeedRoutingEnabled reports the routing flag.
func (s *Services) FeedRoutingEnabled() bool {
	if s == nil || s.config == nil {
		return false
	}
	return s.config.FeedRoutingEnabled()
}

// Settings returns the current sync budgets.
func (s *Services) Settings() domain.SyncSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings validates and swaps the sync budgets.
func (s *Services) SetSettings(settings domain.SyncSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// SyncOperation returns the current sync operation (may be nil)
func (s *Services) SyncOperation() driven.SyncOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncOp
}

// SetSyncOperation updates the sync operation.
func (s *Services) SetSyncOperation(op driven.SyncOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOp = op
}
