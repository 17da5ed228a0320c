package cache

import (
	"strings"
	"testing"
	"time"

	"storeledger/backend/internal/domain"
)

func cacheSettings() domain.AppSettings {
	return domain.DefaultAppSettings(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func cacheData() *domain.ImportedData {
	data := domain.NewImportedData()
	data.Stores = domain.StoreList{{ID: "1", Name: "North"}, {ID: "2", Name: "South"}}
	data.Sales.Set("1", 1, domain.SalesDayEntry{Sales: 100})
	data.Sales.Set("1", 2, domain.SalesDayEntry{Sales: 200})
	data.Purchase.Set("1", 2, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: 70, Price: 100}})
	data.Sales.Set("2", 1, domain.SalesDayEntry{Sales: 50})
	return data
}

func TestStoreFingerprintStable(t *testing.T) {
	data := cacheData()
	settings := cacheSettings()
	a := StoreFingerprint("1", data, settings, 31, ModeSummary)
	b := StoreFingerprint("1", data, settings, 31, ModeSummary)
	if a != b {
		t.Fatalf("expected identical fingerprints, got %q and %q", a, b)
	}

	if StoreFingerprint("1", data, settings, 30, ModeSummary) == a {
		t.Fatalf("expected days in month to change the fingerprint")
	}

	changed := settings
	changed.DefaultMarkupRate = 0.31
	if StoreFingerprint("1", data, changed, 31, ModeSummary) == a {
		t.Fatalf("expected markup rate to change the fingerprint")
	}
	changed = settings
	changed.DefaultBudget = 1
	if StoreFingerprint("1", data, changed, 31, ModeSummary) == a {
		t.Fatalf("expected budget to change the fingerprint")
	}
	end := 10
	changed = settings
	changed.DataEndDay = &end
	if StoreFingerprint("1", data, changed, 31, ModeSummary) == a {
		t.Fatalf("expected data end day to change the fingerprint")
	}
}

func TestSummaryFingerprintTracksTailButFullTracksEverything(t *testing.T) {
	settings := cacheSettings()
	base := cacheData()
	edited := cacheData()
	edited.Sales.Set("1", 1, domain.SalesDayEntry{Sales: 999})

	if StoreFingerprint("1", base, settings, 31, ModeSummary) != StoreFingerprint("1", edited, settings, 31, ModeSummary) {
		t.Fatalf("summary mode only folds in the last day")
	}
	if StoreFingerprint("1", base, settings, 31, ModeFull) == StoreFingerprint("1", edited, settings, 31, ModeFull) {
		t.Fatalf("expected full mode to detect a non-terminal edit")
	}

	tail := cacheData()
	tail.Sales.Set("1", 2, domain.SalesDayEntry{Sales: 201})
	if StoreFingerprint("1", base, settings, 31, ModeSummary) == StoreFingerprint("1", tail, settings, 31, ModeSummary) {
		t.Fatalf("expected summary mode to detect a tail edit")
	}
}

func TestGlobalFingerprintTracksStoreSet(t *testing.T) {
	settings := cacheSettings()
	data := cacheData()
	before := GlobalFingerprint(data, settings, 31, ModeSummary)
	data.Stores = append(data.Stores, domain.Store{ID: "3"})
	if GlobalFingerprint(data, settings, 31, ModeSummary) == before {
		t.Fatalf("expected a new store to change the global fingerprint")
	}
	settings.CustomCategories = []string{"seasonal"}
	if !strings.Contains(GlobalFingerprint(data, settings, 31, ModeSummary), "cats:1") {
		t.Fatalf("expected custom category count in the global fingerprint")
	}
}

func TestStoreResultReferenceEqualityAndMiss(t *testing.T) {
	c := NewResultCache(10, ModeSummary)
	data := cacheData()
	settings := cacheSettings()
	result := &domain.StoreResult{StoreID: "1", TotalSales: 300}

	if _, ok := c.GetStoreResult("1", data, settings, 31); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.SetStoreResult("1", data, settings, 31, result)
	got, ok := c.GetStoreResult("1", data, settings, 31)
	if !ok || got != result {
		t.Fatalf("expected the same pointer back, got %p want %p", got, result)
	}

	settings.TargetGrossProfitRate = 0.3
	if _, ok := c.GetStoreResult("1", data, settings, 31); ok {
		t.Fatalf("expected miss after settings change")
	}
}

func TestSetGlobalBackfillsStores(t *testing.T) {
	c := NewResultCache(10, ModeSummary)
	data := cacheData()
	settings := cacheSettings()
	results := domain.NewStoreResults(2)
	r1 := &domain.StoreResult{StoreID: "1"}
	r2 := &domain.StoreResult{StoreID: "2"}
	results.Put(r1)
	results.Put(r2)

	c.SetGlobalResult(data, settings, 31, results)
	if got, ok := c.GetGlobalResult(data, settings, 31); !ok || got != results {
		t.Fatalf("expected global hit")
	}
	if got, ok := c.GetStoreResult("2", data, settings, 31); !ok || got != r2 {
		t.Fatalf("expected back-filled store entry")
	}

	data.Sales.Set("2", 3, domain.SalesDayEntry{Sales: 10})
	if _, ok := c.GetGlobalResult(data, settings, 31); ok {
		t.Fatalf("expected global miss after data change")
	}
	if _, ok := c.GetStoreResult("1", data, settings, 31); !ok {
		t.Fatalf("expected untouched store to stay cached")
	}
}

func TestEvictsSingleOldestEntry(t *testing.T) {
	c := NewResultCache(2, ModeSummary)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	data := cacheData()
	data.Stores = append(data.Stores, domain.Store{ID: "3"})
	settings := cacheSettings()

	for _, id := range []string{"1", "2", "3"} {
		c.SetStoreResult(id, data, settings, 31, &domain.StoreResult{StoreID: id})
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.GetStoreResult("1", data, settings, 31); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := c.GetStoreResult("3", data, settings, 31); !ok {
		t.Fatalf("expected newest entry to remain")
	}

	c.Clear()
	if c.Len() != 0 || c.HasGlobal() {
		t.Fatalf("expected empty cache after Clear")
	}
}

func TestDigestIsStable(t *testing.T) {
	if Digest("abc") != Digest("abc") || len(Digest("abc")) != 16 {
		t.Fatalf("unexpected digest %q", Digest("abc"))
	}
	if !strings.HasPrefix(RedisKey("abc"), "storeledger:results:") {
		t.Fatalf("unexpected redis key %q", RedisKey("abc"))
	}
}

func TestSummaryFingerprintTracksEveryLedgerType(t *testing.T) {
	settings := cacheSettings()
	base := StoreFingerprint("1", cacheData(), settings, 31, ModeSummary)

	additions := map[string]func(*domain.ImportedData){
		"flowers": func(d *domain.ImportedData) {
			d.Flowers.Set("1", 1, domain.SpecialSalesDayEntry{Price: 10, Cost: 8})
		},
		"directProduce": func(d *domain.ImportedData) {
			d.DirectProduce.Set("1", 1, domain.SpecialSalesDayEntry{Price: 10, Cost: 8})
		},
		"interStoreIn": func(d *domain.ImportedData) {
			d.InterStoreIn.Set("1", 1, domain.TransferDayEntry{})
		},
		"interStoreOut": func(d *domain.ImportedData) {
			d.InterStoreOut.Set("1", 1, domain.TransferDayEntry{})
		},
		"consumables": func(d *domain.ImportedData) {
			d.Consumables.Set("1", 1, domain.ConsumableDailyRecord{Cost: 5})
		},
	}
	for name, add := range additions {
		data := cacheData()
		add(data)
		if StoreFingerprint("1", data, settings, 31, ModeSummary) == base {
			t.Fatalf("expected %s data to change the summary fingerprint", name)
		}
	}
}
