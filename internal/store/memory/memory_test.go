package memory

import (
	"context"
	"errors"
	"testing"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

func TestSnapshotRoundTripIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()

	data := domain.NewImportedData()
	data.Stores = domain.StoreList{{ID: "1"}}
	data.Sales.Set("1", 1, domain.SalesDayEntry{Sales: 100})

	meta, err := s.SaveSnapshot(ctx, 2026, 2, data)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data.Sales.Set("1", 2, domain.SalesDayEntry{Sales: 999})

	loaded, err := s.LoadSnapshot(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := loaded.Sales["1"][2]; ok {
		t.Fatalf("expected stored snapshot to be isolated from caller mutation")
	}

	last, err := s.LastSession(ctx)
	if err != nil || last.Year != 2026 || last.Month != 2 || !last.SavedAt.Equal(meta.SavedAt) {
		t.Fatalf("unexpected last session %+v %v", last, err)
	}

	slice, err := s.LoadSlices(ctx, 2026, 2, domain.DataSales)
	if err != nil || slice.Sales["1"][1].Sales != 100 || len(slice.Stores) != 0 {
		t.Fatalf("unexpected slice %+v %v", slice, err)
	}

	if err := s.DeleteSnapshot(ctx, 2026, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadSnapshot(ctx, 2026, 2); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.LastSession(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected last session cleared, got %v", err)
	}
}

func TestSaveSnapshotRejectsInvalidMonth(t *testing.T) {
	if _, err := New().SaveSnapshot(context.Background(), 2026, 0, domain.NewImportedData()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSeededUsers(t *testing.T) {
	users, err := NewSeeded().ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "admin" || users[1].Role != domain.RoleAnalyst {
		t.Fatalf("unexpected seeded users %+v", users)
	}
}
