// Package prevyear aligns a comparison month onto the target month so that
// weekdays line up.
package prevyear

import (
	"math"
	"sort"
	"time"

	"storeledger/backend/internal/domain"
)

// OverflowDays is how many leading days of the source's following month are
// folded in as extended day numbers before alignment.
const OverflowDays = 6

func validMonth(year, month int) bool {
	return year > 0 && month >= 1 && month <= 12
}

// DaysInMonth returns 0 for an invalid year or month.
func DaysInMonth(year, month int) int {
	if !validMonth(year, month) {
		return 0
	}
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func firstWeekday(year, month int) int {
	return int(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Weekday())
}

// CalcSameDowOffset compares against the same month one year earlier.
func CalcSameDowOffset(year, month int) int {
	return CalcSameDowOffsetFrom(year, month, year-1, month)
}

// CalcSameDowOffsetFrom returns the shift in [0, 6] such that target day d
// falls on the same weekday as source day d+offset. Invalid input yields 0.
func CalcSameDowOffsetFrom(year, month, sourceYear, sourceMonth int) int {
	if !validMonth(year, month) || !validMonth(sourceYear, sourceMonth) {
		return 0
	}
	diff := firstWeekday(year, month) - firstWeekday(sourceYear, sourceMonth)
	return ((diff % 7) + 7) % 7
}

// NormalizeOffset rounds a manually supplied offset and clamps it to [0, 6].
func NormalizeOffset(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, -1) {
		return 0
	}
	if math.IsInf(v, 1) {
		return 6
	}
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 6 {
		return 6
	}
	return r
}

// Source is the comparison period resolved from settings.
type Source struct {
	Year   int
	Month  int
	Offset int
}

// ResolveOffset applies the manual source and offset overrides in settings,
// defaulting to the same month of the previous year.
func ResolveOffset(settings domain.AppSettings) Source {
	src := Source{Year: settings.TargetYear - 1, Month: settings.TargetMonth}
	if settings.PrevYearSourceYear != nil {
		src.Year = *settings.PrevYearSourceYear
	}
	if settings.PrevYearSourceMonth != nil {
		src.Month = *settings.PrevYearSourceMonth
	}
	if settings.PrevYearDowOffset != nil {
		src.Offset = NormalizeOffset(*settings.PrevYearDowOffset)
		return src
	}
	src.Offset = NormalizeOffset(float64(CalcSameDowOffsetFrom(settings.TargetYear, settings.TargetMonth, src.Year, src.Month)))
	return src
}

// FollowingMonth returns the calendar month after year/month.
func FollowingMonth(year, month int) (int, int) {
	if month >= 12 {
		return year + 1, 1
	}
	return year, month + 1
}

// AlignDays moves source day d to target day d-offset and drops days that
// land outside [1, daysInTarget].
func AlignDays[T any](days map[int]T, offset, daysInTarget int) map[int]T {
	out := make(map[int]T, len(days))
	for day, v := range days {
		mapped := day - offset
		if mapped < 1 || mapped > daysInTarget {
			continue
		}
		out[mapped] = v
	}
	return out
}

func AlignStoreDays[T any](r domain.StoreDayRecord[T], offset, daysInTarget int) domain.StoreDayRecord[T] {
	out := make(domain.StoreDayRecord[T], len(r))
	for storeID, days := range r {
		out[storeID] = AlignDays(days, offset, daysInTarget)
	}
	return out
}

// AlignCategoryRecords rewrites the day of each record. Other fields are
// copied unchanged.
func AlignCategoryRecords(records []domain.CategoryTimeSalesRecord, offset, daysInTarget int) []domain.CategoryTimeSalesRecord {
	out := make([]domain.CategoryTimeSalesRecord, 0, len(records))
	for _, rec := range records {
		mapped := rec.Day - offset
		if mapped < 1 || mapped > daysInTarget {
			continue
		}
		rec.Day = mapped
		out = append(out, rec)
	}
	return out
}

// MergeOverflow returns base plus the first OverflowDays days of next,
// renumbered as daysInSourceMonth+day. Inputs are not modified.
func MergeOverflow[T any](base, next domain.StoreDayRecord[T], daysInSourceMonth int) domain.StoreDayRecord[T] {
	out := base.Clone()
	if out == nil {
		out = domain.StoreDayRecord[T]{}
	}
	for storeID, days := range next {
		for day, v := range days {
			if day >= 1 && day <= OverflowDays {
				out.Set(storeID, daysInSourceMonth+day, v)
			}
		}
	}
	return out
}

func MergeOverflowCategory(base, next []domain.CategoryTimeSalesRecord, daysInSourceMonth int) []domain.CategoryTimeSalesRecord {
	out := append([]domain.CategoryTimeSalesRecord(nil), base...)
	for _, rec := range next {
		if rec.Day >= 1 && rec.Day <= OverflowDays {
			rec.Day = daysInSourceMonth + rec.Day
			out = append(out, rec)
		}
	}
	return out
}

// FromSnapshots turns the stored source month, plus the head of its
// following month, into prior-year mirror data for the target month.
func FromSnapshots(source, following *domain.ImportedData, sourceYear, sourceMonth int) *domain.ImportedData {
	out := domain.NewImportedData()
	if source == nil {
		return out
	}
	days := DaysInMonth(sourceYear, sourceMonth)

	var nextDiscount domain.StoreDayRecord[domain.DiscountDayEntry]
	var nextSales domain.StoreDayRecord[domain.SalesDayEntry]
	var nextCategory []domain.CategoryTimeSalesRecord
	if following != nil {
		nextDiscount = following.Discount
		nextSales = following.Sales
		nextCategory = following.CategoryTimeSales.Records
	}

	out.Stores = append(domain.StoreList(nil), source.Stores...)
	out.PrevYearDiscount = MergeOverflow(source.Discount, nextDiscount, days)
	out.PrevYearSales = MergeOverflow(source.Sales, nextSales, days)
	if len(out.PrevYearSales) == 0 {
		out.PrevYearSales = discountToSales(out.PrevYearDiscount)
	}
	out.PrevYearCategoryTimeSales.Records = MergeOverflowCategory(source.CategoryTimeSales.Records, nextCategory, days)
	return out
}

func discountToSales(r domain.StoreDayRecord[domain.DiscountDayEntry]) domain.StoreDayRecord[domain.SalesDayEntry] {
	out := domain.StoreDayRecord[domain.SalesDayEntry]{}
	for storeID, days := range r {
		for day, e := range days {
			out.Set(storeID, day, domain.SalesDayEntry{Sales: e.Sales, Customers: e.Customers})
		}
	}
	return out
}

// HasPrevYear reports whether data carries an explicit prior-year import.
func HasPrevYear(data *domain.ImportedData) bool {
	return data != nil && (len(data.PrevYearDiscount) > 0 || len(data.PrevYearSales) > 0)
}

// BuildComparison aligns the prior-year mirrors in data and sums them per
// target day over the selected stores. An empty selection means all stores.
func BuildComparison(data *domain.ImportedData, storeIDs []string, src Source, daysInTarget int) domain.PrevYearComparison {
	out := domain.PrevYearComparison{
		Offset:      src.Offset,
		SourceYear:  src.Year,
		SourceMonth: src.Month,
		Daily:       map[int]domain.PrevYearDailyEntry{},
	}
	if !HasPrevYear(data) {
		return out
	}

	selected := selection(data, storeIDs)
	if len(selected) == 0 {
		return out
	}
	out.HasPrevYear = true

	discount := AlignStoreDays(data.PrevYearDiscount, src.Offset, daysInTarget)
	sales := AlignStoreDays(data.PrevYearSales, src.Offset, daysInTarget)

	for _, storeID := range selected {
		if days, ok := discount[storeID]; ok && len(days) > 0 {
			for day, e := range days {
				cur := out.Daily[day]
				cur.Sales += e.Sales
				cur.Discount += e.Discount
				cur.Customers += e.Customers
				out.Daily[day] = cur
			}
			continue
		}
		for day, e := range sales[storeID] {
			cur := out.Daily[day]
			cur.Sales += e.Sales
			cur.Customers += e.Customers
			out.Daily[day] = cur
		}
	}
	for _, e := range out.Daily {
		out.TotalSales += e.Sales
		out.TotalDiscount += e.Discount
		out.TotalCustomers += e.Customers
	}

	wanted := make(map[string]bool, len(selected))
	for _, id := range selected {
		wanted[id] = true
	}
	for _, rec := range AlignCategoryRecords(data.PrevYearCategoryTimeSales.Records, src.Offset, daysInTarget) {
		if wanted[rec.StoreID] {
			out.CategoryRecords = append(out.CategoryRecords, rec)
		}
	}
	return out
}

func selection(data *domain.ImportedData, storeIDs []string) []string {
	present := map[string]bool{}
	for id := range data.PrevYearDiscount {
		present[id] = true
	}
	for id := range data.PrevYearSales {
		present[id] = true
	}
	var out []string
	if len(storeIDs) == 0 {
		for id := range present {
			out = append(out, id)
		}
	} else {
		for _, id := range storeIDs {
			if present[id] {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}
