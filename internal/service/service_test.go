package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/lock"
	"storeledger/backend/internal/report"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{}), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func salesMonth(days map[int]float64) *domain.ImportedData {
	data := domain.NewImportedData()
	data.Stores = domain.StoreList{{ID: "1", Code: "001", Name: "Main"}}
	for day, v := range days {
		data.Sales.Set("1", day, domain.SalesDayEntry{Sales: v, Customers: 10})
		data.Purchase.Set("1", day, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: v * 0.7, Price: v}})
	}
	return data
}

func TestImportIntoEmptyMonthIsApplied(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	summary, err := svc.Import(ctx, domain.ImportRequest{
		Year:          2026,
		Month:         2,
		ImportedTypes: []domain.DataType{domain.DataSales, domain.DataPurchase},
		Data:          salesMonth(map[int]float64{1: 50000, 2: 40000}),
	})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !summary.Applied || summary.PendingID != "" {
		t.Fatalf("expected import into empty month to apply directly, got %+v", summary)
	}
	if summary.StoreCount != 1 || summary.SavedAt == nil {
		t.Fatalf("unexpected summary %+v", summary)
	}

	first, err := svc.MonthlyResults(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("monthly results: %v", err)
	}
	res, ok := first.Get("1")
	if !ok || res.TotalSales != 90000 {
		t.Fatalf("expected total sales 90000, got %+v", res)
	}

	second, err := svc.MonthlyResults(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("monthly results: %v", err)
	}
	if first != second {
		t.Fatalf("expected memoized results on unchanged inputs")
	}
}

func TestImportConflictWaitsForDecision(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 50000}),
	}); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	incoming := func() domain.ImportRequest {
		return domain.ImportRequest{
			Year: 2026, Month: 2,
			ImportedTypes: []domain.DataType{domain.DataSales},
			Data:          salesMonth(map[int]float64{1: 55000, 2: 60000}),
		}
	}

	summary, err := svc.Import(ctx, incoming())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if summary.Applied || summary.PendingID == "" {
		t.Fatalf("expected pending import, got %+v", summary)
	}
	if summary.DiffSummary == nil || summary.DiffSummary.TotalModifications != 1 || summary.DiffSummary.TotalInserts != 1 {
		t.Fatalf("unexpected diff summary %+v", summary.DiffSummary)
	}

	resolved, err := svc.ResolveImport(ctx, summary.PendingID, domain.ActionKeepExisting)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !resolved.Applied {
		t.Fatalf("expected resolved import to be applied")
	}

	res, err := svc.StoreResult(ctx, 2026, 2, "1")
	if err != nil {
		t.Fatalf("store result: %v", err)
	}
	if res.Daily[1].Sales != 50000 || res.Daily[2].Sales != 60000 {
		t.Fatalf("expected keep-existing to retain 50000 and add 60000, got %v / %v", res.Daily[1].Sales, res.Daily[2].Sales)
	}

	if _, err := svc.ResolveImport(ctx, summary.PendingID, domain.ActionOverwrite); !errors.Is(err, ErrPendingImportNotFound) {
		t.Fatalf("expected pending import to be consumed, got %v", err)
	}

	again, err := svc.Import(ctx, incoming())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if again.Applied {
		t.Fatalf("expected second conflicting import to wait")
	}
	if _, err := svc.ResolveImport(ctx, again.PendingID, domain.ActionOverwrite); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	res, err = svc.StoreResult(ctx, 2026, 2, "1")
	if err != nil {
		t.Fatalf("store result: %v", err)
	}
	if res.Daily[1].Sales != 55000 {
		t.Fatalf("expected overwrite to take incoming value, got %v", res.Daily[1].Sales)
	}
}

func TestImportRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "analyst", Role: domain.RoleAnalyst})

	_, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 1}),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestImportRejectsUnknownDataType(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Import(adminCtx(), domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{"receipts"},
		Data:          domain.NewImportedData(),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentImportIsRejected(t *testing.T) {
	latch := lock.NewLocalLatch()
	svc := New(memory.NewSeeded(), Options{Latch: latch})
	ctx := adminCtx()

	release, err := latch.TryAcquire(ctx, monthLockKey(2026, 2))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() {
		_ = release(ctx)
	}()

	summary, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 1}),
	})
	if !errors.Is(err, ErrImportInProgress) {
		t.Fatalf("expected ErrImportInProgress, got %v", err)
	}
	if summary.Applied || summary.PendingID != "" || summary.Year != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}

	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 3,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 1}),
	}); err != nil {
		t.Fatalf("expected other month to import, got %v", err)
	}
}

func TestAggregateResultWithoutStores(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	data := domain.NewImportedData()
	data.Sales.Set("1", 1, domain.SalesDayEntry{Sales: 100})
	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          data,
	}); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if _, err := svc.AggregateResult(ctx, 2026, 2); !errors.Is(err, ErrNoStores) {
		t.Fatalf("expected ErrNoStores, got %v", err)
	}
}

func TestAggregateResultSumsStores(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	data := salesMonth(map[int]float64{1: 1000})
	data.Stores = append(data.Stores, domain.Store{ID: "2", Name: "Annex"})
	data.Sales.Set("2", 1, domain.SalesDayEntry{Sales: 500, Customers: 5})
	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales, domain.DataPurchase},
		Data:          data,
	}); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	agg, err := svc.AggregateResult(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.StoreID != domain.AggregateStoreID || agg.TotalSales != 1500 || agg.TotalCustomers != 15 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestPrevYearComparisonAutoLoadsPriorSnapshot(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	offset := 0.0
	settings := domain.DefaultAppSettings(svc.now())
	settings.PrevYearDowOffset = &offset
	if err := repo.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	if _, err := repo.SaveSnapshot(ctx, 2025, 2, salesMonth(map[int]float64{1: 100, 2: 200, 3: 300})); err != nil {
		t.Fatalf("save prior year: %v", err)
	}

	cmp, err := svc.PrevYearComparison(ctx, 2026, 2, nil)
	if err != nil {
		t.Fatalf("comparison: %v", err)
	}
	if !cmp.HasPrevYear || cmp.SourceYear != 2025 || cmp.SourceMonth != 2 {
		t.Fatalf("expected auto-loaded prior year, got %+v", cmp)
	}
	if cmp.TotalSales != 600 || cmp.Daily[2].Sales != 200 {
		t.Fatalf("unexpected comparison totals %+v", cmp)
	}

	explicit := salesMonth(map[int]float64{1: 10})
	explicit.PrevYearSales.Set("1", 1, domain.SalesDayEntry{Sales: 999})
	if _, err := repo.SaveSnapshot(ctx, 2026, 2, explicit); err != nil {
		t.Fatalf("save target month: %v", err)
	}
	cmp, err = svc.PrevYearComparison(ctx, 2026, 2, []string{"1"})
	if err != nil {
		t.Fatalf("comparison: %v", err)
	}
	if cmp.TotalSales != 999 {
		t.Fatalf("expected explicit prior-year import to win, got %v", cmp.TotalSales)
	}
}

func TestUpdateSettingsValidatesRates(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	settings := domain.DefaultAppSettings(svc.now())
	settings.TargetGrossProfitRate = 1.5
	if _, err := svc.UpdateSettings(ctx, settings); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	settings.TargetGrossProfitRate = 0.3
	if _, err := svc.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	got, err := svc.Settings(ctx)
	if err != nil || got.TargetGrossProfitRate != 0.3 {
		t.Fatalf("expected persisted settings, got %+v %v", got, err)
	}
}

func TestSettingsChangeMissesMemo(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 100}),
	}); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	first, err := svc.MonthlyResults(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("monthly results: %v", err)
	}

	settings, _ := svc.Settings(ctx)
	settings.DefaultMarkupRate = 0.4
	if _, err := svc.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	second, err := svc.MonthlyResults(ctx, 2026, 2)
	if err != nil {
		t.Fatalf("monthly results: %v", err)
	}
	if first == second {
		t.Fatalf("expected recomputation after settings change")
	}
}

func TestExportStoreAndClearMonth(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 2,
		ImportedTypes: []domain.DataType{domain.DataSales},
		Data:          salesMonth(map[int]float64{1: 100, 2: 200}),
	}); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	out, err := svc.ExportStore(ctx, 2026, 2, "1", report.FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(out)), "\n"); len(lines) != 3 {
		t.Fatalf("expected header + 2 days, got %q", out)
	}
	if _, err := svc.ExportStore(ctx, 2026, 2, "missing", report.FormatCSV); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown store, got %v", err)
	}
	if _, err := svc.ExportStore(ctx, 2026, 2, domain.AggregateStoreID, report.FormatXLSX); err != nil {
		t.Fatalf("aggregate export: %v", err)
	}

	if err := svc.ClearMonth(ctx, 2026, 2); err != nil {
		t.Fatalf("clear month: %v", err)
	}
	if _, err := svc.MonthlyResults(ctx, 2026, 2); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	if _, err := svc.LastSession(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no last session after clear, got %v", err)
	}
}

func TestImportOfNewLedgerTypeRefreshesResults(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 3,
		ImportedTypes: []domain.DataType{domain.DataSales, domain.DataPurchase},
		Data:          salesMonth(map[int]float64{1: 50000, 2: 40000}),
	}); err != nil {
		t.Fatalf("seed import: %v", err)
	}
	before, err := svc.StoreResult(ctx, 2026, 3, "1")
	if err != nil {
		t.Fatalf("store result: %v", err)
	}
	if _, err := svc.MonthlyResults(ctx, 2026, 3); err != nil {
		t.Fatalf("monthly results: %v", err)
	}

	extra := domain.NewImportedData()
	extra.Flowers.Set("1", 1, domain.SpecialSalesDayEntry{Price: 10000, Cost: 8000})
	extra.InterStoreIn.Set("1", 2, domain.TransferDayEntry{
		InterStoreIn: []domain.TransferRecord{{Day: 2, Cost: 5000, Price: 6000, FromStoreID: "2", ToStoreID: "1"}},
	})
	summary, err := svc.Import(ctx, domain.ImportRequest{
		Year: 2026, Month: 3,
		ImportedTypes: []domain.DataType{domain.DataFlowers, domain.DataInterStoreIn},
		Data:          extra,
	})
	if err != nil || !summary.Applied {
		t.Fatalf("expected flowers import to apply, got %+v err=%v", summary, err)
	}

	after, err := svc.MonthlyResults(ctx, 2026, 3)
	if err != nil {
		t.Fatalf("monthly results: %v", err)
	}
	res, ok := after.Get("1")
	if !ok {
		t.Fatalf("expected store 1 in results")
	}
	if res.TotalCost <= before.TotalCost {
		t.Fatalf("expected total cost to grow after flowers and transfers, before %v after %v", before.TotalCost, res.TotalCost)
	}
	single, err := svc.StoreResult(ctx, 2026, 3, "1")
	if err != nil {
		t.Fatalf("store result: %v", err)
	}
	if single.TotalCost != res.TotalCost {
		t.Fatalf("store result %v disagrees with monthly results %v", single.TotalCost, res.TotalCost)
	}
}
