package aggregate

import (
	"math"

	"storeledger/backend/internal/costing"
	"storeledger/backend/internal/domain"
)

// monthTotals accumulates one store's figures while walking the month.
type monthTotals struct {
	sales              float64
	customers          int
	discount           float64
	purchase           domain.CostPricePair
	flowers            domain.CostPricePair
	directProduce      domain.CostPricePair
	interStoreIn       domain.CostPricePair
	interStoreOut      domain.CostPricePair
	interDepartmentIn  domain.CostPricePair
	interDepartmentOut domain.CostPricePair
	consumable         float64
	totalCost          float64
	suppliers          map[string]domain.SupplierTotal
	categories         map[domain.CategoryType]domain.CostPricePair
	daily              map[int]domain.DailyRecord
	salesDaily         map[int]float64
	elapsedDays        int
	salesDays          int
}

// EffectiveDays caps the day walk at the configured data end day.
func EffectiveDays(settings domain.AppSettings, daysInMonth int) int {
	if settings.DataEndDay != nil && *settings.DataEndDay >= 1 && *settings.DataEndDay < daysInMonth {
		return *settings.DataEndDay
	}
	return daysInMonth
}

func buildDays(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) *monthTotals {
	t := &monthTotals{
		suppliers:  map[string]domain.SupplierTotal{},
		categories: map[domain.CategoryType]domain.CostPricePair{},
		daily:      map[int]domain.DailyRecord{},
		salesDaily: map[int]float64{},
	}

	days := EffectiveDays(settings, daysInMonth)
	for day := 1; day <= days; day++ {
		rec := buildDay(storeID, day, data, settings, t)

		t.sales += rec.Sales
		t.customers += rec.Customers
		t.discount += rec.DiscountAbsolute
		t.purchase = t.purchase.Add(rec.Purchase)
		t.flowers = t.flowers.Add(rec.Flowers)
		t.directProduce = t.directProduce.Add(rec.DirectProduce)
		t.interStoreIn = t.interStoreIn.Add(rec.InterStoreIn)
		t.interStoreOut = t.interStoreOut.Add(rec.InterStoreOut)
		t.interDepartmentIn = t.interDepartmentIn.Add(rec.InterDepartmentIn)
		t.interDepartmentOut = t.interDepartmentOut.Add(rec.InterDepartmentOut)
		t.consumable += rec.Consumable.Cost
		t.totalCost += rec.TotalCost()

		if !hasData(rec) {
			continue
		}
		t.elapsedDays = day
		if rec.Sales > 0 {
			t.salesDays++
		}
		t.daily[day] = rec
		t.salesDaily[day] = rec.Sales
	}
	return t
}

func buildDay(storeID string, day int, data *domain.ImportedData, settings domain.AppSettings, t *monthTotals) domain.DailyRecord {
	rec := domain.DailyRecord{
		Day:               day,
		SupplierBreakdown: map[string]domain.CostPricePair{},
	}

	if p, ok := data.Purchase.Day(storeID, day); ok {
		rec.Purchase = p.Total
		for code, line := range p.Suppliers {
			pair := domain.CostPricePair{Cost: line.Cost, Price: line.Price}
			rec.SupplierBreakdown[code] = rec.SupplierBreakdown[code].Add(pair)
			accumulateSupplier(t, code, line, data, settings)
		}
		if rec.Purchase.IsZero() && len(p.Suppliers) > 0 {
			for _, pair := range rec.SupplierBreakdown {
				rec.Purchase = rec.Purchase.Add(pair)
			}
		}
	}

	if s, ok := data.Sales.Day(storeID, day); ok {
		rec.Sales = s.Sales
		rec.Customers = s.Customers
	}
	if d, ok := data.Discount.Day(storeID, day); ok {
		rec.DiscountAmount = d.Discount
		rec.DiscountAbsolute = math.Abs(d.Discount)
		if rec.Customers == 0 {
			rec.Customers = d.Customers
		}
	}

	if f, ok := data.Flowers.Day(storeID, day); ok {
		rec.Flowers = specialPair(f, settings.FlowerCostRate)
	}
	if dp, ok := data.DirectProduce.Day(storeID, day); ok {
		rec.DirectProduce = specialPair(dp, settings.DirectProduceCostRate)
	}
	rec.DeliverySales = rec.Flowers.Add(rec.DirectProduce)
	t.categories[domain.CategoryFlowers] = t.categories[domain.CategoryFlowers].Add(rec.Flowers)
	t.categories[domain.CategoryDirectProduce] = t.categories[domain.CategoryDirectProduce].Add(rec.DirectProduce)

	if in, ok := data.InterStoreIn.Day(storeID, day); ok {
		rec.InterStoreIn, rec.TransferBreakdown.InterStoreIn = sumTransfers(in.InterStoreIn)
		rec.InterDepartmentIn, rec.TransferBreakdown.InterDepartmentIn = sumTransfers(in.InterDepartmentIn)
	}
	if out, ok := data.InterStoreOut.Day(storeID, day); ok {
		rec.InterStoreOut, rec.TransferBreakdown.InterStoreOut = sumTransfers(out.InterStoreOut)
		rec.InterDepartmentOut, rec.TransferBreakdown.InterDepartmentOut = sumTransfers(out.InterDepartmentOut)
	}
	t.categories[domain.CategoryInterStore] = t.categories[domain.CategoryInterStore].Add(rec.InterStoreIn).Add(rec.InterStoreOut)
	t.categories[domain.CategoryInterDepartment] = t.categories[domain.CategoryInterDepartment].Add(rec.InterDepartmentIn).Add(rec.InterDepartmentOut)

	if c, ok := data.Consumables.Day(storeID, day); ok {
		rec.Consumable = domain.ConsumableDailyRecord{
			Cost:  c.Cost,
			Items: append([]domain.ConsumableItem(nil), c.Items...),
		}
		t.categories[domain.CategoryConsumables] = t.categories[domain.CategoryConsumables].Add(domain.CostPricePair{Cost: c.Cost})
	}

	rec.GrossSales = rec.Sales + rec.DiscountAbsolute
	rec.CoreSales = costing.CoreSales(rec.Sales, rec.Flowers.Price, rec.DirectProduce.Price).CoreSales
	return rec
}

// specialPair fills a missing delivery-channel cost from the configured
// cost rate.
func specialPair(e domain.SpecialSalesDayEntry, costRate float64) domain.CostPricePair {
	pair := domain.CostPricePair{Cost: e.Cost, Price: e.Price}
	if pair.Cost == 0 && pair.Price != 0 && costRate > 0 {
		pair.Cost = pair.Price * costRate
	}
	return pair
}

func sumTransfers(records []domain.TransferRecord) (domain.CostPricePair, []domain.TransferBreakdownEntry) {
	var total domain.CostPricePair
	var breakdown []domain.TransferBreakdownEntry
	for _, r := range records {
		total = total.Add(domain.CostPricePair{Cost: r.Cost, Price: r.Price})
		breakdown = append(breakdown, domain.TransferBreakdownEntry{
			FromStoreID: r.FromStoreID,
			ToStoreID:   r.ToStoreID,
			Cost:        r.Cost,
			Price:       r.Price,
		})
	}
	return total, breakdown
}

func accumulateSupplier(t *monthTotals, code string, line domain.SupplierLine, data *domain.ImportedData, settings domain.AppSettings) {
	total, ok := t.suppliers[code]
	if !ok {
		name := line.Name
		if ref, found := data.Suppliers[code]; found && name == "" {
			name = ref.Name
		}
		category, mapped := settings.SupplierCategoryMap[code]
		if !mapped {
			category = domain.CategoryOther
		}
		total = domain.SupplierTotal{SupplierCode: code, SupplierName: name, Category: category}
	}
	total.Cost += line.Cost
	total.Price += line.Price
	t.suppliers[code] = total
	t.categories[total.Category] = t.categories[total.Category].Add(domain.CostPricePair{Cost: line.Cost, Price: line.Price})
}

func hasData(rec domain.DailyRecord) bool {
	return rec.Sales > 0 ||
		rec.Purchase.Cost != 0 ||
		rec.DeliverySales.Cost != 0 ||
		rec.InterStoreIn.Cost != 0 ||
		rec.InterStoreOut.Cost != 0 ||
		rec.InterDepartmentIn.Cost != 0 ||
		rec.InterDepartmentOut.Cost != 0 ||
		rec.DiscountAbsolute != 0 ||
		rec.Consumable.Cost != 0
}
