package reconcile

import (
	"fmt"
	"testing"

	"storeledger/backend/internal/domain"
)

func salesSnapshot(days map[int]float64) *domain.ImportedData {
	d := domain.NewImportedData()
	d.Stores = domain.StoreList{{ID: "1", Name: "North"}}
	for day, v := range days {
		d.Sales.Set("1", day, domain.SalesDayEntry{Sales: v})
	}
	return d
}

func TestMergeInsertsOnlyKeepsExisting(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 50000})
	incoming := salesSnapshot(map[int]float64{1: 99999, 2: 60000})

	merged := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet(domain.DataSales))
	if got := merged.Sales["1"][1].Sales; got != 50000 {
		t.Fatalf("expected existing day 1 to be kept at 50000, got %v", got)
	}
	if got := merged.Sales["1"][2].Sales; got != 60000 {
		t.Fatalf("expected day 2 to be inserted at 60000, got %v", got)
	}
	if _, ok := existing.Sales["1"][2]; ok {
		t.Fatalf("expected existing input to stay untouched")
	}
	if incoming.Sales["1"][1].Sales != 99999 {
		t.Fatalf("expected incoming input to stay untouched")
	}
}

func TestMergeInsertsOnlyNeverOverwritesAnyKey(t *testing.T) {
	existing := domain.NewImportedData()
	incoming := domain.NewImportedData()
	for store := 1; store <= 3; store++ {
		id := fmt.Sprint(store)
		for day := 1; day <= 10; day++ {
			if (store+day)%2 == 0 {
				existing.Purchase.Set(id, day, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: float64(day), Price: float64(day * 2)}})
			}
			if (store*day)%3 != 0 {
				incoming.Purchase.Set(id, day, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: -1, Price: -1}})
			}
		}
	}

	merged := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet(domain.DataPurchase))
	for storeID, days := range existing.Purchase {
		for day, want := range days {
			if got := merged.Purchase[storeID][day]; got.Total != want.Total {
				t.Fatalf("store %s day %d overwritten: %+v", storeID, day, got)
			}
		}
	}
	for storeID, days := range incoming.Purchase {
		for day := range days {
			if _, ok := merged.Purchase[storeID][day]; !ok {
				t.Fatalf("store %s day %d not inserted", storeID, day)
			}
		}
	}
}

func TestMergeSkipsTypesNotImported(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100})
	incoming := salesSnapshot(map[int]float64{2: 200})
	incoming.Purchase.Set("1", 1, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: 1}})

	merged := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet(domain.DataPurchase))
	if _, ok := merged.Sales["1"][2]; ok {
		t.Fatalf("expected sales to pass through from existing")
	}
	if _, ok := merged.Purchase["1"][1]; !ok {
		t.Fatalf("expected purchase to be merged")
	}
}

func TestMergeReferenceAndCategoryCollections(t *testing.T) {
	existing := domain.NewImportedData()
	existing.Stores = domain.StoreList{{ID: "1", Name: "North"}}
	existing.Suppliers["S1"] = domain.SupplierRef{Code: "S1", Name: "Old"}
	existing.CategoryTimeSales.Records = []domain.CategoryTimeSalesRecord{{Day: 1, StoreID: "1", Department: domain.CodeName{Code: "01"}, TotalAmount: 10}}

	incoming := domain.NewImportedData()
	incoming.Stores = domain.StoreList{{ID: "1", Name: "Renamed"}, {ID: "2", Name: "South"}}
	incoming.Suppliers["S1"] = domain.SupplierRef{Code: "S1", Name: "New"}
	incoming.Suppliers["S2"] = domain.SupplierRef{Code: "S2", Name: "Second"}
	incoming.CategoryTimeSales.Records = []domain.CategoryTimeSalesRecord{
		{Day: 1, StoreID: "1", Department: domain.CodeName{Code: "01"}, TotalAmount: 99},
		{Day: 2, StoreID: "1", Department: domain.CodeName{Code: "01"}, TotalAmount: 20},
	}

	merged := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet(domain.DataStores, domain.DataSuppliers, domain.DataCategoryTimeSales))
	if len(merged.Stores) != 2 || merged.Stores[0].Name != "North" || merged.Stores[1].ID != "2" {
		t.Fatalf("unexpected stores %+v", merged.Stores)
	}
	if merged.Suppliers["S1"].Name != "Old" || merged.Suppliers["S2"].Name != "Second" {
		t.Fatalf("unexpected suppliers %+v", merged.Suppliers)
	}
	if len(merged.CategoryTimeSales.Records) != 2 || merged.CategoryTimeSales.Records[0].TotalAmount != 10 {
		t.Fatalf("unexpected category records %+v", merged.CategoryTimeSales.Records)
	}
}

func TestComputeDiffClassifiesEveryKey(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100, 2: 200, 3: 300})
	incoming := salesSnapshot(map[int]float64{2: 200.0005, 3: 333, 4: 400})

	result := ComputeDiff(existing, incoming, domain.NewDataTypeSet(domain.DataSales))
	if len(result.Diffs) != 1 {
		t.Fatalf("expected one data type diff, got %d", len(result.Diffs))
	}
	d := result.Diffs[0]
	if len(d.Inserts) != 1 || d.Inserts[0].Day != 4 || *d.Inserts[0].NewValue != 400 || d.Inserts[0].OldValue != nil {
		t.Fatalf("unexpected inserts %+v", d.Inserts)
	}
	if len(d.Modifications) != 1 || d.Modifications[0].Day != 3 || *d.Modifications[0].OldValue != 300 {
		t.Fatalf("unexpected modifications %+v", d.Modifications)
	}
	if len(d.Removals) != 1 || d.Removals[0].Day != 1 || d.Removals[0].StoreName != "North" {
		t.Fatalf("unexpected removals %+v", d.Removals)
	}
	if !result.NeedsConfirmation {
		t.Fatalf("expected confirmation for modifications and removals")
	}

	seen := map[int]int{}
	for _, list := range [][]domain.FieldChange{d.Inserts, d.Modifications, d.Removals} {
		for _, c := range list {
			seen[c.Day]++
		}
	}
	for day, n := range seen {
		if n != 1 {
			t.Fatalf("day %d reported %d times", day, n)
		}
	}
	if _, ok := seen[2]; ok {
		t.Fatalf("expected equal day 2 to be unreported")
	}

	summary := Summarize(result)
	if summary.TotalInserts != 1 || summary.TotalModifications != 1 || summary.TotalRemovals != 1 || summary.DataTypesChanged != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestComputeDiffPureInsertsNeedNoConfirmation(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100})
	incoming := salesSnapshot(map[int]float64{1: 100, 2: 200})
	result := ComputeDiff(existing, incoming, domain.NewDataTypeSet(domain.DataSales))
	if result.NeedsConfirmation {
		t.Fatalf("pure inserts should not need confirmation")
	}
}

func TestComputeDiffAutoApprovesEmptyExistingAndSkipsUnimported(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100})
	incoming := salesSnapshot(map[int]float64{1: 999})
	incoming.Purchase.Set("1", 1, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: 5}})

	result := ComputeDiff(existing, incoming, domain.NewDataTypeSet(domain.DataPurchase))
	if result.NeedsConfirmation || len(result.Diffs) != 1 || result.Diffs[0].DataType != domain.DataPurchase {
		t.Fatalf("expected sales to be skipped and purchase auto-approved, got %+v", result)
	}
	if len(result.AutoApproved) != 1 || result.AutoApproved[0] != domain.DataPurchase {
		t.Fatalf("unexpected auto-approved list %v", result.AutoApproved)
	}
	if summary := Summarize(result); summary.TotalInserts != 1 || summary.TotalModifications != 0 {
		t.Fatalf("expected the first purchase import to count as one insert, got %+v", summary)
	}
}

func TestApplyDecision(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100})
	existing.Purchase.Set("1", 1, domain.PurchaseDayEntry{Total: domain.CostPricePair{Cost: 7}})
	incoming := salesSnapshot(map[int]float64{1: 999})
	types := domain.NewDataTypeSet(domain.DataSales)

	over, err := ApplyDecision(domain.ActionOverwrite, existing, incoming, types)
	if err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if over.Sales["1"][1].Sales != 999 {
		t.Fatalf("expected incoming sales after overwrite")
	}
	if over.Purchase["1"][1].Total.Cost != 7 {
		t.Fatalf("expected unimported purchase to survive overwrite")
	}

	keep, err := ApplyDecision(domain.ActionKeepExisting, existing, incoming, types)
	if err != nil || keep.Sales["1"][1].Sales != 100 {
		t.Fatalf("expected keep-existing to keep 100, got %v %v", keep, err)
	}

	if _, err := ApplyDecision("discard", existing, incoming, types); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestMergeAddsNewStoreWithLedgerImport(t *testing.T) {
	existing := salesSnapshot(map[int]float64{1: 100})
	incoming := domain.NewImportedData()
	incoming.Stores = domain.StoreList{{ID: "1", Name: "Renamed"}, {ID: "2", Name: "South"}}
	incoming.Suppliers["S9"] = domain.SupplierRef{Code: "S9", Name: "Fresh"}
	incoming.Sales.Set("2", 1, domain.SalesDayEntry{Sales: 300})

	merged := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet(domain.DataSales))
	if len(merged.Stores) != 2 || merged.Stores[0].Name != "North" || merged.Stores[1].ID != "2" {
		t.Fatalf("expected store 2 appended and store 1 kept, got %+v", merged.Stores)
	}
	if merged.Suppliers["S9"].Name != "Fresh" {
		t.Fatalf("expected new supplier to be merged, got %+v", merged.Suppliers)
	}
	if merged.Sales["2"][1].Sales != 300 {
		t.Fatalf("expected store 2 sales inserted")
	}

	untouched := MergeInsertsOnly(existing, incoming, domain.NewDataTypeSet())
	if len(untouched.Stores) != 1 {
		t.Fatalf("expected an empty import set to leave stores alone, got %+v", untouched.Stores)
	}
}
