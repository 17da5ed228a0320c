// Package reconcile compares a fresh import with the persisted snapshot and
// combines the two.
package reconcile

import (
	"math"
	"sort"

	"storeledger/backend/internal/domain"
)

// Tolerance is the largest difference two amounts may have and still be
// considered equal.
const Tolerance = 0.001

type ledger[T any] struct {
	// values is the comparison vector of a record.
	values func(T) []float64
	// display is the single amount shown to the user.
	display func(T) float64
}

var (
	purchaseLedger = ledger[domain.PurchaseDayEntry]{
		values:  func(e domain.PurchaseDayEntry) []float64 { return []float64{e.Total.Cost, e.Total.Price} },
		display: func(e domain.PurchaseDayEntry) float64 { return e.Total.Cost },
	}
	salesLedger = ledger[domain.SalesDayEntry]{
		values:  func(e domain.SalesDayEntry) []float64 { return []float64{e.Sales, float64(e.Customers)} },
		display: func(e domain.SalesDayEntry) float64 { return e.Sales },
	}
	discountLedger = ledger[domain.DiscountDayEntry]{
		values:  func(e domain.DiscountDayEntry) []float64 { return []float64{e.Sales, e.Discount, float64(e.Customers)} },
		display: func(e domain.DiscountDayEntry) float64 { return e.Discount },
	}
	transferLedger = ledger[domain.TransferDayEntry]{
		values: func(e domain.TransferDayEntry) []float64 {
			net := transferNet(e)
			return []float64{net.Cost, net.Price}
		},
		display: func(e domain.TransferDayEntry) float64 { return transferNet(e).Cost },
	}
	specialLedger = ledger[domain.SpecialSalesDayEntry]{
		values:  func(e domain.SpecialSalesDayEntry) []float64 { return []float64{e.Price, e.Cost} },
		display: func(e domain.SpecialSalesDayEntry) float64 { return e.Price },
	}
	consumableLedger = ledger[domain.ConsumableDailyRecord]{
		values:  func(e domain.ConsumableDailyRecord) []float64 { return []float64{e.Cost, float64(len(e.Items))} },
		display: func(e domain.ConsumableDailyRecord) float64 { return e.Cost },
	}
)

func transferNet(e domain.TransferDayEntry) domain.CostPricePair {
	var net domain.CostPricePair
	for _, list := range [][]domain.TransferRecord{e.InterStoreIn, e.InterStoreOut, e.InterDepartmentIn, e.InterDepartmentOut} {
		for _, r := range list {
			net = net.Add(domain.CostPricePair{Cost: r.Cost, Price: r.Price})
		}
	}
	return net
}

func equalValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > Tolerance {
			return false
		}
	}
	return true
}

func ptr(v float64) *float64 {
	return &v
}

type nameLookup func(storeID string) string

func storeNames(existing, incoming *domain.ImportedData) nameLookup {
	return func(storeID string) string {
		if s, ok := incoming.Stores.Get(storeID); ok && s.Name != "" {
			return s.Name
		}
		return existing.Stores.Name(storeID)
	}
}

func diffLedger[T any](dt domain.DataType, l ledger[T], existing, incoming domain.StoreDayRecord[T], name nameLookup) domain.DataTypeDiff {
	out := domain.DataTypeDiff{DataType: dt}

	storeSet := map[string]bool{}
	for id := range existing {
		storeSet[id] = true
	}
	for id := range incoming {
		storeSet[id] = true
	}
	storeIDs := make([]string, 0, len(storeSet))
	for id := range storeSet {
		storeIDs = append(storeIDs, id)
	}
	sort.Strings(storeIDs)

	for _, storeID := range storeIDs {
		daySet := map[int]bool{}
		for d := range existing[storeID] {
			daySet[d] = true
		}
		for d := range incoming[storeID] {
			daySet[d] = true
		}
		days := make([]int, 0, len(daySet))
		for d := range daySet {
			days = append(days, d)
		}
		sort.Ints(days)

		for _, day := range days {
			oldRec, hadOld := existing.Day(storeID, day)
			newRec, hasNew := incoming.Day(storeID, day)
			change := domain.FieldChange{StoreID: storeID, StoreName: name(storeID), Day: day}
			switch {
			case hasNew && !hadOld:
				change.NewValue = ptr(l.display(newRec))
				out.Inserts = append(out.Inserts, change)
			case hadOld && !hasNew:
				change.OldValue = ptr(l.display(oldRec))
				out.Removals = append(out.Removals, change)
			case !equalValues(l.values(oldRec), l.values(newRec)):
				change.OldValue = ptr(l.display(oldRec))
				change.NewValue = ptr(l.display(newRec))
				out.Modifications = append(out.Modifications, change)
			}
		}
	}
	return out
}

func diffCategory(dt domain.DataType, existing, incoming []domain.CategoryTimeSalesRecord, name nameLookup) domain.DataTypeDiff {
	out := domain.DataTypeDiff{DataType: dt}
	oldByKey := indexCategory(existing)
	newByKey := indexCategory(incoming)

	keys := make([]string, 0, len(oldByKey)+len(newByKey))
	for k := range oldByKey {
		keys = append(keys, k)
	}
	for k := range newByKey {
		if _, dup := oldByKey[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		oldRec, hadOld := oldByKey[k]
		newRec, hasNew := newByKey[k]
		ref := newRec
		if !hasNew {
			ref = oldRec
		}
		change := domain.FieldChange{StoreID: ref.StoreID, StoreName: name(ref.StoreID), Day: ref.Day, Key: k}
		switch {
		case hasNew && !hadOld:
			change.NewValue = ptr(newRec.TotalAmount)
			out.Inserts = append(out.Inserts, change)
		case hadOld && !hasNew:
			change.OldValue = ptr(oldRec.TotalAmount)
			out.Removals = append(out.Removals, change)
		case !equalValues([]float64{oldRec.TotalAmount, oldRec.TotalQuantity}, []float64{newRec.TotalAmount, newRec.TotalQuantity}):
			change.OldValue = ptr(oldRec.TotalAmount)
			change.NewValue = ptr(newRec.TotalAmount)
			out.Modifications = append(out.Modifications, change)
		}
	}
	return out
}

// indexCategory keys records by identity. A later duplicate replaces an
// earlier one.
func indexCategory(records []domain.CategoryTimeSalesRecord) map[string]domain.CategoryTimeSalesRecord {
	out := make(map[string]domain.CategoryTimeSalesRecord, len(records))
	for _, r := range records {
		out[r.Key()] = r
	}
	return out
}

func ledgerEmpty[T any](r domain.StoreDayRecord[T]) bool {
	for _, days := range r {
		if len(days) > 0 {
			return false
		}
	}
	return true
}

// diffType computes the diff of one data type and whether the existing side
// holds no data for it.
func diffType(dt domain.DataType, existing, incoming *domain.ImportedData, name nameLookup) (domain.DataTypeDiff, bool) {
	switch dt {
	case domain.DataPurchase:
		return diffLedger(dt, purchaseLedger, existing.Purchase, incoming.Purchase, name), ledgerEmpty(existing.Purchase)
	case domain.DataSales:
		return diffLedger(dt, salesLedger, existing.Sales, incoming.Sales, name), ledgerEmpty(existing.Sales)
	case domain.DataDiscount:
		return diffLedger(dt, discountLedger, existing.Discount, incoming.Discount, name), ledgerEmpty(existing.Discount)
	case domain.DataPrevYearSales:
		return diffLedger(dt, salesLedger, existing.PrevYearSales, incoming.PrevYearSales, name), ledgerEmpty(existing.PrevYearSales)
	case domain.DataPrevYearDiscount:
		return diffLedger(dt, discountLedger, existing.PrevYearDiscount, incoming.PrevYearDiscount, name), ledgerEmpty(existing.PrevYearDiscount)
	case domain.DataInterStoreIn:
		return diffLedger(dt, transferLedger, existing.InterStoreIn, incoming.InterStoreIn, name), ledgerEmpty(existing.InterStoreIn)
	case domain.DataInterStoreOut:
		return diffLedger(dt, transferLedger, existing.InterStoreOut, incoming.InterStoreOut, name), ledgerEmpty(existing.InterStoreOut)
	case domain.DataFlowers:
		return diffLedger(dt, specialLedger, existing.Flowers, incoming.Flowers, name), ledgerEmpty(existing.Flowers)
	case domain.DataDirectProduce:
		return diffLedger(dt, specialLedger, existing.DirectProduce, incoming.DirectProduce, name), ledgerEmpty(existing.DirectProduce)
	case domain.DataConsumables:
		return diffLedger(dt, consumableLedger, existing.Consumables, incoming.Consumables, name), ledgerEmpty(existing.Consumables)
	case domain.DataCategoryTimeSales:
		return diffCategory(dt, existing.CategoryTimeSales.Records, incoming.CategoryTimeSales.Records, name), len(existing.CategoryTimeSales.Records) == 0
	case domain.DataPrevYearCategoryTimeSales:
		return diffCategory(dt, existing.PrevYearCategoryTimeSales.Records, incoming.PrevYearCategoryTimeSales.Records, name), len(existing.PrevYearCategoryTimeSales.Records) == 0
	}
	return domain.DataTypeDiff{DataType: dt}, true
}

// DiffableTypes are the data types ComputeDiff reports on, in order.
var DiffableTypes = append(append([]domain.DataType{}, domain.LedgerDataTypes...),
	domain.DataCategoryTimeSales,
	domain.DataPrevYearCategoryTimeSales,
)

// ComputeDiff classifies every (store, day) point of the imported types as an
// insert, a modification or a removal. Types with no existing data are also
// listed as auto-approved; their points can only be inserts.
func ComputeDiff(existing, incoming *domain.ImportedData, importedTypes domain.DataTypeSet) domain.DiffResult {
	if existing == nil {
		existing = domain.NewImportedData()
	}
	if incoming == nil {
		incoming = domain.NewImportedData()
	}
	name := storeNames(existing, incoming)

	result := domain.DiffResult{}
	for _, dt := range DiffableTypes {
		if !importedTypes.Has(dt) {
			continue
		}
		d, existingEmpty := diffType(dt, existing, incoming, name)
		if existingEmpty {
			result.AutoApproved = append(result.AutoApproved, dt)
		}
		if d.Empty() {
			continue
		}
		result.Diffs = append(result.Diffs, d)
		if len(d.Modifications) > 0 || len(d.Removals) > 0 {
			result.NeedsConfirmation = true
		}
	}
	return result
}

// Summarize counts the changes of a diff.
func Summarize(result domain.DiffResult) domain.DiffSummary {
	var s domain.DiffSummary
	for _, d := range result.Diffs {
		s.TotalInserts += len(d.Inserts)
		s.TotalModifications += len(d.Modifications)
		s.TotalRemovals += len(d.Removals)
		if !d.Empty() {
			s.DataTypesChanged++
		}
	}
	return s
}
