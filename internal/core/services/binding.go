package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
)

// Ensure bindingService implements BindingService
var _ driving.BindingService = (*bindingService)(nil)

type bindingService struct {
	store  driven.BindingStore
	logger *slog.Logger
}

// NewBindingService creates a new BindingService
func NewBindingService(store driven.BindingStore, logger *slog.Logger) driving.BindingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &bindingService{store: store, logger: logger}
}

// GetSyncStatus returns the sync view of a binding
func (s *bindingService) GetSyncStatus(ctx context.Context, bindingID string) (*domain.BindingSyncStatus, error) {
	if !domain.IsValidID(bindingID) {
		return nil, fmt.Errorf("%w: malformed binding id", domain.ErrInvalidInput)
	}
	binding, err := s.store.GetBinding(ctx, bindingID)
	if err != nil {
		return nil, err
	}
	return domain.NewBindingSyncStatus(binding), nil
}

// ResetBudget zeroes the lifetime backfill counter and returns the binding
// to pending_backfill so the next tick starts a fresh backfill.
func (s *bindingService) ResetBudget(ctx context.Context, bindingID, requestID string) (*domain.BindingSyncStatus, error) {
	if !domain.IsValidID(bindingID) {
		return nil, fmt.Errorf("%w: malformed binding id", domain.ErrInvalidInput)
	}
	if requestID == "" {
		requestID = domain.GenerateID()
	}
	if err := s.store.ResetBackfillBudget(ctx, bindingID, requestID); err != nil {
		return nil, err
	}
	s.logger.Info("backfill budget reset", "binding_id", bindingID, "request_id", requestID)
	return s.GetSyncStatus(ctx, bindingID)
}
