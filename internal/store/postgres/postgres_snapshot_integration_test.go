package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

func TestSnapshotRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("STORELEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STORELEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	const year, month = 1999, 7
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM monthly_snapshots WHERE year = $1 AND month = $2`, year, month)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_meta WHERE year = $1 AND month = $2`, year, month)
	})

	data := domain.NewImportedData()
	data.Stores = domain.StoreList{{ID: "1", Code: "001", Name: "Main"}}
	data.Sales.Set("1", 3, domain.SalesDayEntry{Sales: 120000, Customers: 40})
	data.Purchase.Set("1", 3, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: 70000, Price: 100000}})

	if _, err := s.SaveSnapshot(ctx, year, month, data); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot(ctx, year, month)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got := loaded.Sales["1"][3].Sales; got != 120000 {
		t.Fatalf("expected sales 120000, got %v", got)
	}
	if got := loaded.Purchase["1"][3].Total.Cost; got != 70000 {
		t.Fatalf("expected purchase cost 70000, got %v", got)
	}
	if !loaded.Stores.Has("1") {
		t.Fatalf("expected store 1 to round trip, got %+v", loaded.Stores)
	}

	slice, err := s.LoadSlices(ctx, year, month, domain.DataSales)
	if err != nil {
		t.Fatalf("load slices: %v", err)
	}
	if len(slice.Purchase) != 0 || slice.Sales["1"][3].Customers != 40 {
		t.Fatalf("unexpected slice %+v", slice)
	}

	last, err := s.LastSession(ctx)
	if err != nil || last.Year != year || last.Month != month {
		t.Fatalf("unexpected last session %+v %v", last, err)
	}

	if err := s.DeleteSnapshot(ctx, year, month); err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	if _, err := s.LoadSnapshot(ctx, year, month); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
