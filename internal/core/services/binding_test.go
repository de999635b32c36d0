package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven/mocks"
)

func TestBindingService_GetSyncStatus(t *testing.T) {
	store := mocks.NewMockBindingStore()
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.BackfillCursor = strPtr("page:3")
	b.Metadata[domain.MetaBackfillPagesTotal] = 40
	b.Metadata[domain.MetaLastError] = "boom"
	store.Put(b)

	svc := NewBindingService(store, nil)
	status, err := svc.GetSyncStatus(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.NextMode != domain.SyncModeHistorical {
		t.Errorf("expected historical next mode, got %s", status.NextMode)
	}
	if status.BackfillPagesProcessed != 40 || *status.BackfillCursor != "page:3" || status.LastError != "boom" {
		t.Errorf("unexpected status: %+v", status)
	}

	if _, err := svc.GetSyncStatus(context.Background(), "nope"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetSyncStatus(context.Background(), "00000000-0000-0000-0000-000000000009"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBindingService_ResetBudget(t *testing.T) {
	store := mocks.NewMockBindingStore()
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateError)
	b.BackfillCursor = strPtr("page:99")
	b.Metadata[domain.MetaBackfillPagesTotal] = 500
	store.Put(b)

	status, err := NewBindingService(store, nil).ResetBudget(context.Background(), b.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.SyncState != domain.SyncStatePendingBackfill || status.BackfillPagesProcessed != 0 || status.BackfillCursor != nil {
		t.Errorf("unexpected status after reset: %+v", status)
	}
	calls := store.CallsTo("ResetBackfillBudget")
	if len(calls) != 1 || calls[0].RequestID == "" {
		t.Errorf("expected one reset with a generated request id, got %+v", calls)
	}
}
