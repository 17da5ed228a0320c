package reconcile

import (
	"fmt"

	"storeledger/backend/internal/domain"
)

func insertOnly[T any](existing, incoming domain.StoreDayRecord[T]) domain.StoreDayRecord[T] {
	out := existing.Clone()
	if out == nil {
		out = domain.StoreDayRecord[T]{}
	}
	for storeID, days := range incoming {
		for day, v := range days {
			if _, present := out.Day(storeID, day); present {
				continue
			}
			out.Set(storeID, day, v)
		}
	}
	return out
}

func insertOnlyCategory(existing, incoming []domain.CategoryTimeSalesRecord) []domain.CategoryTimeSalesRecord {
	out := append([]domain.CategoryTimeSalesRecord(nil), existing...)
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Key()] = true
	}
	for _, r := range incoming {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

func insertOnlyMap[V any](existing, incoming map[string]V) map[string]V {
	out := make(map[string]V, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if _, present := out[k]; !present {
			out[k] = v
		}
	}
	return out
}

func insertOnlyStores(existing, incoming domain.StoreList) domain.StoreList {
	out := append(domain.StoreList{}, existing...)
	for _, s := range incoming {
		if !out.Has(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

// MergeInsertsOnly adds what incoming has and existing lacks, for the
// imported types only. Stores and suppliers are reference data and merge in
// whenever any type is imported. A key already present in existing keeps its
// value at every level. Types not imported this round come from existing
// unchanged. Neither input is modified.
func MergeInsertsOnly(existing, incoming *domain.ImportedData, importedTypes domain.DataTypeSet) *domain.ImportedData {
	out := existing.Clone()
	if incoming == nil {
		return out
	}
	in := incoming.Clone()
	if len(importedTypes) > 0 {
		out.Stores = insertOnlyStores(out.Stores, in.Stores)
		out.Suppliers = insertOnlyMap(out.Suppliers, in.Suppliers)
	}

	for dt := range importedTypes {
		switch dt {
		case domain.DataPurchase:
			out.Purchase = insertOnly(out.Purchase, in.Purchase)
		case domain.DataSales:
			out.Sales = insertOnly(out.Sales, in.Sales)
		case domain.DataDiscount:
			out.Discount = insertOnly(out.Discount, in.Discount)
		case domain.DataPrevYearSales:
			out.PrevYearSales = insertOnly(out.PrevYearSales, in.PrevYearSales)
		case domain.DataPrevYearDiscount:
			out.PrevYearDiscount = insertOnly(out.PrevYearDiscount, in.PrevYearDiscount)
		case domain.DataInterStoreIn:
			out.InterStoreIn = insertOnly(out.InterStoreIn, in.InterStoreIn)
		case domain.DataInterStoreOut:
			out.InterStoreOut = insertOnly(out.InterStoreOut, in.InterStoreOut)
		case domain.DataFlowers:
			out.Flowers = insertOnly(out.Flowers, in.Flowers)
		case domain.DataDirectProduce:
			out.DirectProduce = insertOnly(out.DirectProduce, in.DirectProduce)
		case domain.DataConsumables:
			out.Consumables = insertOnly(out.Consumables, in.Consumables)
		case domain.DataCategoryTimeSales:
			out.CategoryTimeSales.Records = insertOnlyCategory(out.CategoryTimeSales.Records, in.CategoryTimeSales.Records)
		case domain.DataPrevYearCategoryTimeSales:
			out.PrevYearCategoryTimeSales.Records = insertOnlyCategory(out.PrevYearCategoryTimeSales.Records, in.PrevYearCategoryTimeSales.Records)
		case domain.DataSettings:
			out.Settings = insertOnlyMap(out.Settings, in.Settings)
		case domain.DataBudget:
			out.Budget = insertOnlyMap(out.Budget, in.Budget)
		}
	}

	return out
}

// Overwrite takes the imported types from incoming wholesale. Types not
// imported this round come from existing. An empty set replaces everything.
func Overwrite(existing, incoming *domain.ImportedData, importedTypes domain.DataTypeSet) *domain.ImportedData {
	if incoming == nil {
		return existing.Clone()
	}
	in := incoming.Clone()
	if len(importedTypes) == 0 {
		return in
	}
	out := existing.Clone()
	for dt := range importedTypes {
		switch dt {
		case domain.DataStores:
			out.Stores = in.Stores
		case domain.DataSuppliers:
			out.Suppliers = in.Suppliers
		case domain.DataPurchase:
			out.Purchase = in.Purchase
		case domain.DataSales:
			out.Sales = in.Sales
		case domain.DataDiscount:
			out.Discount = in.Discount
		case domain.DataPrevYearSales:
			out.PrevYearSales = in.PrevYearSales
		case domain.DataPrevYearDiscount:
			out.PrevYearDiscount = in.PrevYearDiscount
		case domain.DataInterStoreIn:
			out.InterStoreIn = in.InterStoreIn
		case domain.DataInterStoreOut:
			out.InterStoreOut = in.InterStoreOut
		case domain.DataFlowers:
			out.Flowers = in.Flowers
		case domain.DataDirectProduce:
			out.DirectProduce = in.DirectProduce
		case domain.DataConsumables:
			out.Consumables = in.Consumables
		case domain.DataCategoryTimeSales:
			out.CategoryTimeSales = in.CategoryTimeSales
		case domain.DataPrevYearCategoryTimeSales:
			out.PrevYearCategoryTimeSales = in.PrevYearCategoryTimeSales
		case domain.DataSettings:
			out.Settings = in.Settings
		case domain.DataBudget:
			out.Budget = in.Budget
		}
	}
	return out
}

// ApplyDecision resolves a pending import with the user's choice.
func ApplyDecision(action domain.ImportAction, existing, incoming *domain.ImportedData, importedTypes domain.DataTypeSet) (*domain.ImportedData, error) {
	switch action {
	case domain.ActionOverwrite:
		return Overwrite(existing, incoming, importedTypes), nil
	case domain.ActionKeepExisting:
		return MergeInsertsOnly(existing, incoming, importedTypes), nil
	default:
		return nil, fmt.Errorf("unknown import action %q", action)
	}
}
