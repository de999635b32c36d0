package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/runtime"
)

// Ensure settingsService implements SettingsService
var _ driving.SettingsService = (*settingsService)(nil)

// settingsService applies runtime flag and budget changes in memory.
// Changes last until the process restarts; env vars provide the boot values.
type settingsService struct {
	services *runtime.Services
	logger   *slog.Logger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(services *runtime.Services, logger *slog.Logger) driving.SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsService{services: services, logger: logger}
}

// Get returns the current flags and budgets
func (s *settingsService) Get(ctx context.Context) *driving.SyncSettingsView {
	cfg := s.services.Config()
	settings := s.services.Settings()
	return &driving.SyncSettingsView{
		SyncEnabled:               cfg.SyncEnabled(),
		FeedRoutingEnabled:        cfg.FeedRoutingEnabled(),
		Settings:                  settings,
		IncrementalOverlapMinutes: int(settings.IncrementalOverlap / time.Minute),
	}
}

// Update validates the new budgets before touching anything, then applies
// budgets and flags.
func (s *settingsService) Update(ctx context.Context, updaterID string, req driving.UpdateSyncSettingsRequest) (*driving.SyncSettingsView, error) {
	settings := s.services.Settings()

	if req.BackfillMaxPagesPerInvocation != nil {
		settings.BackfillMaxPagesPerInvocation = *req.BackfillMaxPagesPerInvocation
	}
	if req.IncrementalMaxPagesPerInvocation != nil {
		settings.IncrementalMaxPagesPerInvocation = *req.IncrementalMaxPagesPerInvocation
	}
	if req.BackfillMaxTotalPages != nil {
		settings.BackfillMaxTotalPages = *req.BackfillMaxTotalPages
	}
	if req.IncrementalOverlapMinutes != nil {
		settings.IncrementalOverlap = time.Duration(*req.IncrementalOverlapMinutes) * time.Minute
	}
	if req.PageItemLimit != nil {
		settings.PageItemLimit = *req.PageItemLimit
	}
	if req.ReviewThreshold != nil {
		settings.ReviewThreshold = *req.ReviewThreshold
	}

	if err := s.services.SetSettings(settings); err != nil {
		return nil, err
	}

	s.services.Config().ApplyFlags(domain.SyncFlags{
		SyncEnabled:        req.SyncEnabled,
		FeedRoutingEnabled: req.FeedRoutingEnabled,
	})

	view := s.Get(ctx)
	s.logger.Info("sync settings updated",
		"updated_by", updaterID,
		"sync_enabled", view.SyncEnabled,
		"feed_routing_enabled", view.FeedRoutingEnabled,
	)
	return view, nil
}
