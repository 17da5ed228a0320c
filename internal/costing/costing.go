// Package costing holds the numeric primitives and the two gross-profit
// methods used to close a store-month.
package costing

import (
	"math"

	"storeledger/backend/internal/domain"
)

// SafeDivide returns fallback when the denominator is zero or NaN, or when
// the quotient would not be finite.
func SafeDivide(numerator, denominator, fallback float64) float64 {
	if denominator == 0 || math.IsNaN(denominator) {
		return fallback
	}
	q := numerator / denominator
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return fallback
	}
	return q
}

var ZeroPair = domain.CostPricePair{}

func AddPairs(pairs ...domain.CostPricePair) domain.CostPricePair {
	var out domain.CostPricePair
	for _, p := range pairs {
		out = out.Add(p)
	}
	return out
}

// MarkupRate is (price - cost) / price.
func MarkupRate(p domain.CostPricePair) float64 {
	return SafeDivide(p.Price-p.Cost, p.Price, 0)
}

type CoreSalesResult struct {
	CoreSales          float64
	OverDelivery       bool
	OverDeliveryAmount float64
}

// CoreSales removes delivery-channel revenue from sales. A negative result is
// kept as is and flagged.
func CoreSales(totalSales, flowerPrice, directProducePrice float64) CoreSalesResult {
	core := totalSales - flowerPrice - directProducePrice
	if core < 0 {
		return CoreSalesResult{CoreSales: core, OverDelivery: true, OverDeliveryAmount: -core}
	}
	return CoreSalesResult{CoreSales: core}
}

type InvMethodInput struct {
	OpeningInventory  domain.NullAmount
	ClosingInventory  domain.NullAmount
	TotalPurchaseCost float64
	TotalSales        float64
}

type InvMethodResult struct {
	Cogs            domain.NullAmount
	GrossProfit     domain.NullAmount
	GrossProfitRate domain.NullAmount
}

func InvMethod(in InvMethodInput) InvMethodResult {
	if !in.OpeningInventory.Valid || !in.ClosingInventory.Valid {
		return InvMethodResult{}
	}
	cogs := in.OpeningInventory.Value + in.TotalPurchaseCost - in.ClosingInventory.Value
	gp := in.TotalSales - cogs
	return InvMethodResult{
		Cogs:            domain.Some(cogs),
		GrossProfit:     domain.Some(gp),
		GrossProfitRate: domain.Some(SafeDivide(gp, in.TotalSales, 0)),
	}
}

type EstMethodInput struct {
	CoreSales             float64
	DiscountRate          float64
	MarkupRate            float64
	ConsumableCost        float64
	OpeningInventory      domain.NullAmount
	InventoryPurchaseCost float64
}

type EstMethodResult struct {
	GrossSales                float64
	Cogs                      float64
	Margin                    float64
	MarginRate                float64
	EstimatedClosingInventory domain.NullAmount
}

// EstMethod infers cost of goods from markup and discount rates: core sales
// are grossed up by the discount rate, then costed at (1 - markup).
func EstMethod(in EstMethodInput) EstMethodResult {
	divisor := 1 - in.DiscountRate
	gross := in.CoreSales
	if divisor > 0 {
		gross = in.CoreSales / divisor
	}
	cogs := gross*(1-in.MarkupRate) + in.ConsumableCost
	margin := in.CoreSales - cogs

	res := EstMethodResult{
		GrossSales: gross,
		Cogs:       cogs,
		Margin:     margin,
		MarginRate: SafeDivide(margin, in.CoreSales, 0),
	}
	if in.OpeningInventory.Valid {
		res.EstimatedClosingInventory = domain.Some(in.OpeningInventory.Value + in.InventoryPurchaseCost - cogs)
	}
	return res
}

// DiscountRate is the share of list value given away as discount.
func DiscountRate(salesAmount, discountAmount float64) float64 {
	return SafeDivide(discountAmount, salesAmount+discountAmount, 0)
}

// DiscountImpact approximates the cost value lost to markdowns.
func DiscountImpact(coreSales, markupRate, discountRate float64) float64 {
	divisor := 1 - discountRate
	if divisor <= 0 {
		divisor = 1
	}
	return (1 - markupRate) * coreSales * discountRate / divisor
}

type BudgetInput struct {
	TotalSales  float64
	Budget      float64
	BudgetDaily map[int]float64
	SalesDaily  map[int]float64
	ElapsedDays int
	SalesDays   int
	DaysInMonth int
}

type BudgetResult struct {
	BudgetToDate          float64
	BudgetAchievementRate float64
	BudgetProgressRate    float64
	BudgetElapsedRate     float64
	AverageDailySales     float64
	ProjectedSales        float64
	ProjectedAchievement  float64
	RemainingBudget       float64
	DailyCumulative       map[int]domain.CumulativeEntry
}

func BudgetAnalysis(in BudgetInput) BudgetResult {
	toDate := 0.0
	for d := 1; d <= in.ElapsedDays; d++ {
		toDate += in.BudgetDaily[d]
	}

	avg := SafeDivide(in.TotalSales, float64(in.SalesDays), 0)
	remainingDays := in.DaysInMonth - in.ElapsedDays
	if remainingDays < 0 {
		remainingDays = 0
	}
	projected := in.TotalSales + avg*float64(remainingDays)

	cumulative := make(map[int]domain.CumulativeEntry, in.DaysInMonth)
	var runSales, runBudget float64
	for d := 1; d <= in.DaysInMonth; d++ {
		runSales += in.SalesDaily[d]
		runBudget += in.BudgetDaily[d]
		cumulative[d] = domain.CumulativeEntry{Sales: runSales, Budget: runBudget}
	}

	return BudgetResult{
		BudgetToDate:          toDate,
		BudgetAchievementRate: SafeDivide(in.TotalSales, in.Budget, 0),
		BudgetProgressRate:    SafeDivide(in.TotalSales, toDate, 0),
		BudgetElapsedRate:     SafeDivide(toDate, in.Budget, 0),
		AverageDailySales:     avg,
		ProjectedSales:        projected,
		ProjectedAchievement:  SafeDivide(projected, in.Budget, 0),
		RemainingBudget:       in.Budget - in.TotalSales,
		DailyCumulative:       cumulative,
	}
}
