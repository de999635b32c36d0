package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven/mocks"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/runtime"
)

func newTestServices(op *mocks.MockSyncOperation) *runtime.Services {
	svc := runtime.NewServices(
		domain.NewRuntimeConfig("redis", "redis", true, false),
		domain.DefaultSyncSettings(),
	)
	if op != nil {
		svc.SetSyncOperation(op)
	}
	return svc
}

func newBinding(t *testing.T, status domain.BindingStatus, state domain.SyncState) *domain.AlertBinding {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.AlertBinding{
		ID:              uuid.NewString(),
		ExternalAlertID: "alert-1",
		ProfileID:       "profile-1",
		Status:          status,
		SyncState:       state,
		Metadata:        domain.BindingMetadata{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func strPtr(s string) *string { return &s }
