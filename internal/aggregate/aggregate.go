// Package aggregate turns a month of imported ledgers into per-store and
// all-store results.
package aggregate

import (
	"errors"

	"storeledger/backend/internal/costing"
	"storeledger/backend/internal/domain"
)

var ErrNoResults = errors.New("cannot aggregate 0 results")

// AggregateStore builds one store's month result. Missing ledger entries
// count as zero.
func AggregateStore(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) *domain.StoreResult {
	if data == nil {
		data = domain.NewImportedData()
	}
	t := buildDays(storeID, data, settings, daysInMonth)
	inv := data.Settings[storeID]

	deliverySalesCost := t.flowers.Cost + t.directProduce.Cost
	inventoryCost := t.totalCost - deliverySalesCost

	netTransfer := costing.AddPairs(t.interStoreIn, t.interStoreOut, t.interDepartmentIn, t.interDepartmentOut)
	averageMarkup := costing.MarkupRate(costing.AddPairs(t.purchase, t.flowers, t.directProduce, netTransfer))
	coreMarkup := settings.DefaultMarkupRate
	if corePair := t.purchase.Add(netTransfer); corePair.Price != 0 {
		coreMarkup = costing.MarkupRate(corePair)
	}

	core := costing.CoreSales(t.sales, t.flowers.Price, t.directProduce.Price)
	discountRate := costing.DiscountRate(t.sales, t.discount)

	invRes := costing.InvMethod(costing.InvMethodInput{
		OpeningInventory:  inv.OpeningInventory,
		ClosingInventory:  inv.ClosingInventory,
		TotalPurchaseCost: t.totalCost,
		TotalSales:        t.sales,
	})
	estRes := costing.EstMethod(costing.EstMethodInput{
		CoreSales:             core.CoreSales,
		DiscountRate:          discountRate,
		MarkupRate:            coreMarkup,
		ConsumableCost:        t.consumable,
		OpeningInventory:      inv.OpeningInventory,
		InventoryPurchaseCost: inventoryCost,
	})

	// A store's budget record wins even when its total is zero; without one
	// the default budget applies with no daily plan.
	budget := settings.DefaultBudget
	budgetDaily := map[int]float64{}
	if b, ok := data.Budget[storeID]; ok {
		budget = b.Total
		for d, v := range b.Daily {
			budgetDaily[d] = v
		}
	}
	gpBudget := 0.0
	if inv.GrossProfitBudget.Valid {
		gpBudget = inv.GrossProfitBudget.Value
	}

	br := costing.BudgetAnalysis(costing.BudgetInput{
		TotalSales:  t.sales,
		Budget:      budget,
		BudgetDaily: budgetDaily,
		SalesDaily:  t.salesDaily,
		ElapsedDays: t.elapsedDays,
		SalesDays:   t.salesDays,
		DaysInMonth: daysInMonth,
	})

	for code, s := range t.suppliers {
		s.MarkupRate = costing.MarkupRate(domain.CostPricePair{Cost: s.Cost, Price: s.Price})
		t.suppliers[code] = s
	}

	res := &domain.StoreResult{
		StoreID:          storeID,
		OpeningInventory: inv.OpeningInventory,
		ClosingInventory: inv.ClosingInventory,

		TotalSales:              t.sales,
		TotalCoreSales:          core.CoreSales,
		DeliverySalesPrice:      t.flowers.Price + t.directProduce.Price,
		FlowerSalesPrice:        t.flowers.Price,
		DirectProduceSalesPrice: t.directProduce.Price,
		GrossSales:              t.sales + t.discount,
		OverDelivery:            core.OverDelivery,
		OverDeliveryAmount:      core.OverDeliveryAmount,

		TotalCost:         t.totalCost,
		InventoryCost:     inventoryCost,
		DeliverySalesCost: deliverySalesCost,

		InvMethodCogs:            invRes.Cogs,
		InvMethodGrossProfit:     invRes.GrossProfit,
		InvMethodGrossProfitRate: invRes.GrossProfitRate,

		EstMethodCogs:             estRes.Cogs,
		EstMethodMargin:           estRes.Margin,
		EstMethodMarginRate:       estRes.MarginRate,
		EstMethodClosingInventory: estRes.EstimatedClosingInventory,

		TotalCustomers:         t.customers,
		AverageCustomersPerDay: costing.SafeDivide(float64(t.customers), float64(t.salesDays), 0),

		TotalDiscount:    t.discount,
		DiscountRate:     discountRate,
		DiscountLossCost: costing.DiscountImpact(core.CoreSales, coreMarkup, discountRate),

		AverageMarkupRate: averageMarkup,
		CoreMarkupRate:    coreMarkup,

		TotalConsumable: t.consumable,
		ConsumableRate:  costing.SafeDivide(t.consumable, t.sales, 0),

		Budget:                budget,
		GrossProfitBudget:     gpBudget,
		GrossProfitRateBudget: costing.SafeDivide(gpBudget, budget, 0),
		BudgetDaily:           budgetDaily,

		Daily:          t.daily,
		CategoryTotals: t.categories,
		SupplierTotals: t.suppliers,
		TransferDetails: domain.TransferDetails{
			InterStoreIn:       t.interStoreIn,
			InterStoreOut:      t.interStoreOut,
			InterDepartmentIn:  t.interDepartmentIn,
			InterDepartmentOut: t.interDepartmentOut,
			NetTransfer:        netTransfer,
		},

		ElapsedDays: t.elapsedDays,
		SalesDays:   t.salesDays,
	}
	applyBudget(res, br)
	return res
}

func applyBudget(res *domain.StoreResult, br costing.BudgetResult) {
	res.AverageDailySales = br.AverageDailySales
	res.ProjectedSales = br.ProjectedSales
	res.ProjectedAchievement = br.ProjectedAchievement
	res.BudgetAchievementRate = br.BudgetAchievementRate
	res.BudgetProgressRate = br.BudgetProgressRate
	res.BudgetElapsedRate = br.BudgetElapsedRate
	res.RemainingBudget = br.RemainingBudget
	res.DailyCumulative = br.DailyCumulative
}

// AggregateAllStores runs AggregateStore for every store, in the order of
// data.Stores.
func AggregateAllStores(data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) *domain.StoreResults {
	if data == nil {
		return domain.NewStoreResults(0)
	}
	out := domain.NewStoreResults(len(data.Stores))
	for _, s := range data.Stores {
		out.Put(AggregateStore(s.ID, data, settings, daysInMonth))
	}
	return out
}

// AggregateMany sums already computed store results into the all-store
// rollup. Raw ledgers are never re-read.
func AggregateMany(results []*domain.StoreResult, daysInMonth int) (*domain.StoreResult, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	agg := &domain.StoreResult{
		StoreID:        domain.AggregateStoreID,
		BudgetDaily:    map[int]float64{},
		Daily:          map[int]domain.DailyRecord{},
		CategoryTotals: map[domain.CategoryType]domain.CostPricePair{},
		SupplierTotals: map[string]domain.SupplierTotal{},
	}

	var opening, closing, estClosing domain.NullAmount
	var gpBudget float64
	var coreMarkupSum float64

	for _, r := range results {
		agg.TotalSales += r.TotalSales
		agg.TotalCoreSales += r.TotalCoreSales
		agg.DeliverySalesPrice += r.DeliverySalesPrice
		agg.FlowerSalesPrice += r.FlowerSalesPrice
		agg.DirectProduceSalesPrice += r.DirectProduceSalesPrice
		agg.GrossSales += r.GrossSales
		agg.TotalCost += r.TotalCost
		agg.InventoryCost += r.InventoryCost
		agg.DeliverySalesCost += r.DeliverySalesCost
		agg.EstMethodCogs += r.EstMethodCogs
		agg.EstMethodMargin += r.EstMethodMargin
		agg.TotalCustomers += r.TotalCustomers
		agg.TotalDiscount += r.TotalDiscount
		agg.DiscountLossCost += r.DiscountLossCost
		agg.TotalConsumable += r.TotalConsumable
		agg.Budget += r.Budget
		gpBudget += r.GrossProfitBudget
		coreMarkupSum += r.CoreMarkupRate

		opening = addNull(opening, r.OpeningInventory)
		closing = addNull(closing, r.ClosingInventory)
		estClosing = addNull(estClosing, r.EstMethodClosingInventory)

		if r.ElapsedDays > agg.ElapsedDays {
			agg.ElapsedDays = r.ElapsedDays
		}
		if r.SalesDays > agg.SalesDays {
			agg.SalesDays = r.SalesDays
		}

		for d, v := range r.BudgetDaily {
			agg.BudgetDaily[d] += v
		}
		for d, rec := range r.Daily {
			if cur, ok := agg.Daily[d]; ok {
				agg.Daily[d] = mergeDaily(cur, rec)
			} else {
				agg.Daily[d] = mergeDaily(domain.DailyRecord{Day: d}, rec)
			}
		}
		for c, pair := range r.CategoryTotals {
			agg.CategoryTotals[c] = agg.CategoryTotals[c].Add(pair)
		}
		for code, s := range r.SupplierTotals {
			cur, ok := agg.SupplierTotals[code]
			if !ok {
				cur = domain.SupplierTotal{SupplierCode: s.SupplierCode, SupplierName: s.SupplierName, Category: s.Category}
			}
			cur.Cost += s.Cost
			cur.Price += s.Price
			agg.SupplierTotals[code] = cur
		}

		agg.TransferDetails.InterStoreIn = agg.TransferDetails.InterStoreIn.Add(r.TransferDetails.InterStoreIn)
		agg.TransferDetails.InterStoreOut = agg.TransferDetails.InterStoreOut.Add(r.TransferDetails.InterStoreOut)
		agg.TransferDetails.InterDepartmentIn = agg.TransferDetails.InterDepartmentIn.Add(r.TransferDetails.InterDepartmentIn)
		agg.TransferDetails.InterDepartmentOut = agg.TransferDetails.InterDepartmentOut.Add(r.TransferDetails.InterDepartmentOut)
		agg.TransferDetails.NetTransfer = agg.TransferDetails.NetTransfer.Add(r.TransferDetails.NetTransfer)
	}

	for code, s := range agg.SupplierTotals {
		s.MarkupRate = costing.MarkupRate(domain.CostPricePair{Cost: s.Cost, Price: s.Price})
		agg.SupplierTotals[code] = s
	}

	agg.OpeningInventory = opening
	agg.ClosingInventory = closing
	inv := costing.InvMethod(costing.InvMethodInput{
		OpeningInventory:  opening,
		ClosingInventory:  closing,
		TotalPurchaseCost: agg.TotalCost,
		TotalSales:        agg.TotalSales,
	})
	agg.InvMethodCogs = inv.Cogs
	agg.InvMethodGrossProfit = inv.GrossProfit
	agg.InvMethodGrossProfitRate = inv.GrossProfitRate

	agg.EstMethodMarginRate = costing.SafeDivide(agg.EstMethodMargin, agg.TotalCoreSales, 0)
	agg.EstMethodClosingInventory = estClosing
	agg.OverDelivery = agg.TotalCoreSales < 0
	if agg.OverDelivery {
		agg.OverDeliveryAmount = -agg.TotalCoreSales
	}

	var purchase, delivery domain.CostPricePair
	for _, rec := range agg.Daily {
		purchase = purchase.Add(rec.Purchase)
		delivery = delivery.Add(rec.DeliverySales)
	}
	net := agg.TransferDetails.NetTransfer
	agg.AverageMarkupRate = costing.MarkupRate(costing.AddPairs(purchase, delivery, net))
	agg.CoreMarkupRate = coreMarkupSum / float64(len(results))
	if corePair := purchase.Add(net); corePair.Price != 0 {
		agg.CoreMarkupRate = costing.MarkupRate(corePair)
	}

	agg.DiscountRate = costing.DiscountRate(agg.TotalSales, agg.TotalDiscount)
	agg.AverageCustomersPerDay = costing.SafeDivide(float64(agg.TotalCustomers), float64(agg.SalesDays), 0)
	agg.ConsumableRate = costing.SafeDivide(agg.TotalConsumable, agg.TotalSales, 0)
	agg.GrossProfitBudget = gpBudget
	agg.GrossProfitRateBudget = costing.SafeDivide(gpBudget, agg.Budget, 0)

	salesDaily := make(map[int]float64, len(agg.Daily))
	for d, rec := range agg.Daily {
		salesDaily[d] = rec.Sales
	}
	applyBudget(agg, costing.BudgetAnalysis(costing.BudgetInput{
		TotalSales:  agg.TotalSales,
		Budget:      agg.Budget,
		BudgetDaily: agg.BudgetDaily,
		SalesDaily:  salesDaily,
		ElapsedDays: agg.ElapsedDays,
		SalesDays:   agg.SalesDays,
		DaysInMonth: daysInMonth,
	}))
	return agg, nil
}

func addNull(acc, v domain.NullAmount) domain.NullAmount {
	if !v.Valid {
		return acc
	}
	return domain.Some(acc.Value + v.Value)
}

// mergeDaily adds b into a and returns a fresh record. Neither input's maps
// or slices are shared with the result.
func mergeDaily(a, b domain.DailyRecord) domain.DailyRecord {
	out := domain.DailyRecord{
		Day:                a.Day,
		Sales:              a.Sales + b.Sales,
		CoreSales:          a.CoreSales + b.CoreSales,
		GrossSales:         a.GrossSales + b.GrossSales,
		Customers:          a.Customers + b.Customers,
		Purchase:           a.Purchase.Add(b.Purchase),
		DeliverySales:      a.DeliverySales.Add(b.DeliverySales),
		InterStoreIn:       a.InterStoreIn.Add(b.InterStoreIn),
		InterStoreOut:      a.InterStoreOut.Add(b.InterStoreOut),
		InterDepartmentIn:  a.InterDepartmentIn.Add(b.InterDepartmentIn),
		InterDepartmentOut: a.InterDepartmentOut.Add(b.InterDepartmentOut),
		Flowers:            a.Flowers.Add(b.Flowers),
		DirectProduce:      a.DirectProduce.Add(b.DirectProduce),
		DiscountAmount:     a.DiscountAmount + b.DiscountAmount,
		DiscountAbsolute:   a.DiscountAbsolute + b.DiscountAbsolute,
		SupplierBreakdown:  make(map[string]domain.CostPricePair, len(a.SupplierBreakdown)+len(b.SupplierBreakdown)),
	}
	out.Consumable.Cost = a.Consumable.Cost + b.Consumable.Cost
	out.Consumable.Items = append(append([]domain.ConsumableItem(nil), a.Consumable.Items...), b.Consumable.Items...)
	for code, p := range a.SupplierBreakdown {
		out.SupplierBreakdown[code] = p
	}
	for code, p := range b.SupplierBreakdown {
		out.SupplierBreakdown[code] = out.SupplierBreakdown[code].Add(p)
	}
	out.TransferBreakdown = domain.TransferBreakdown{
		InterStoreIn:       concatTransfers(a.TransferBreakdown.InterStoreIn, b.TransferBreakdown.InterStoreIn),
		InterStoreOut:      concatTransfers(a.TransferBreakdown.InterStoreOut, b.TransferBreakdown.InterStoreOut),
		InterDepartmentIn:  concatTransfers(a.TransferBreakdown.InterDepartmentIn, b.TransferBreakdown.InterDepartmentIn),
		InterDepartmentOut: concatTransfers(a.TransferBreakdown.InterDepartmentOut, b.TransferBreakdown.InterDepartmentOut),
	}
	return out
}

func concatTransfers(a, b []domain.TransferBreakdownEntry) []domain.TransferBreakdownEntry {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	return append(append([]domain.TransferBreakdownEntry(nil), a...), b...)
}
