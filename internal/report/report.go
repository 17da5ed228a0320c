// Package report renders a computed StoreResult as a downloadable
// spreadsheet or CSV file.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"storeledger/backend/internal/domain"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var ErrUnknownFormat = errors.New("unknown export format")

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (f Format) FileName(year int, month int, storeID string) string {
	return fmt.Sprintf("storeledger-%d-%02d-%s.%s", year, month, storeID, f)
}

const (
	sheetSummary   = "Summary"
	sheetDaily     = "Daily"
	sheetSuppliers = "Suppliers"
)

var dailyHeadings = []string{
	"Day", "Sales", "CoreSales", "GrossSales", "Customers",
	"PurchaseCost", "PurchasePrice", "DeliveryCost", "DeliveryPrice",
	"NetTransferCost", "NetTransferPrice", "Discount", "Consumables",
	"CumulativeSales", "CumulativeBudget",
}

func Write(w io.Writer, format Format, result *domain.StoreResult, storeName string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, result)
	case FormatXLSX:
		return WriteWorkbook(w, result, storeName)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteWorkbook emits three sheets: headline figures, the day table and the
// supplier totals.
func WriteWorkbook(w io.Writer, result *domain.StoreResult, storeName string) error {
	if result == nil {
		return errors.New("nil store result")
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetDaily); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetSuppliers); err != nil {
		return err
	}

	rows := append([][]any{{"Store", storeName}, {"StoreID", result.StoreID}}, summaryRows(result)...)
	for i, row := range rows {
		if err := setRow(f, sheetSummary, i+1, row); err != nil {
			return err
		}
	}

	headings := make([]any, 0, len(dailyHeadings))
	for _, h := range dailyHeadings {
		headings = append(headings, h)
	}
	if err := setRow(f, sheetDaily, 1, headings); err != nil {
		return err
	}
	for i, row := range dailyRows(result) {
		values := make([]any, 0, len(row))
		for j, v := range row {
			if j == 0 || j == 4 {
				values = append(values, int(v))
				continue
			}
			values = append(values, v)
		}
		if err := setRow(f, sheetDaily, i+2, values); err != nil {
			return err
		}
	}

	if err := setRow(f, sheetSuppliers, 1, []any{"Code", "Name", "Category", "Cost", "Price", "MarkupRate"}); err != nil {
		return err
	}
	for i, s := range supplierRows(result) {
		row := []any{s.SupplierCode, s.SupplierName, string(s.Category), money(s.Cost), money(s.Price), rate(s.MarkupRate)}
		if err := setRow(f, sheetSuppliers, i+2, row); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

// WriteCSV emits the day table only.
func WriteCSV(w io.Writer, result *domain.StoreResult) error {
	if result == nil {
		return errors.New("nil store result")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(dailyHeadings); err != nil {
		return err
	}
	for _, row := range dailyRows(result) {
		record := make([]string, 0, len(row))
		for j, v := range row {
			if j == 0 || j == 4 {
				record = append(record, strconv.Itoa(int(v)))
				continue
			}
			record = append(record, decimal.NewFromFloat(v).StringFixed(0))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func setRow(f *excelize.File, sheet string, rowNo int, values []any) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNo)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}

func summaryRows(r *domain.StoreResult) [][]any {
	return [][]any{
		{"TotalSales", money(r.TotalSales)},
		{"TotalCoreSales", money(r.TotalCoreSales)},
		{"GrossSales", money(r.GrossSales)},
		{"DeliverySalesPrice", money(r.DeliverySalesPrice)},
		{"TotalCost", money(r.TotalCost)},
		{"InventoryCost", money(r.InventoryCost)},
		{"DeliverySalesCost", money(r.DeliverySalesCost)},
		{"OpeningInventory", nullMoney(r.OpeningInventory)},
		{"ClosingInventory", nullMoney(r.ClosingInventory)},
		{"InvMethodCogs", nullMoney(r.InvMethodCogs)},
		{"InvMethodGrossProfit", nullMoney(r.InvMethodGrossProfit)},
		{"InvMethodGrossProfitRate", nullRate(r.InvMethodGrossProfitRate)},
		{"EstMethodCogs", money(r.EstMethodCogs)},
		{"EstMethodMargin", money(r.EstMethodMargin)},
		{"EstMethodMarginRate", rate(r.EstMethodMarginRate)},
		{"EstMethodClosingInventory", nullMoney(r.EstMethodClosingInventory)},
		{"TotalDiscount", money(r.TotalDiscount)},
		{"DiscountRate", rate(r.DiscountRate)},
		{"DiscountLossCost", money(r.DiscountLossCost)},
		{"AverageMarkupRate", rate(r.AverageMarkupRate)},
		{"CoreMarkupRate", rate(r.CoreMarkupRate)},
		{"TotalConsumable", money(r.TotalConsumable)},
		{"ConsumableRate", rate(r.ConsumableRate)},
		{"TotalCustomers", r.TotalCustomers},
		{"Budget", money(r.Budget)},
		{"BudgetAchievementRate", rate(r.BudgetAchievementRate)},
		{"BudgetProgressRate", rate(r.BudgetProgressRate)},
		{"ProjectedSales", money(r.ProjectedSales)},
		{"RemainingBudget", money(r.RemainingBudget)},
		{"ElapsedDays", r.ElapsedDays},
		{"SalesDays", r.SalesDays},
	}
}

func dailyRows(r *domain.StoreResult) [][]float64 {
	days := make([]int, 0, len(r.Daily))
	for day := range r.Daily {
		days = append(days, day)
	}
	slices.Sort(days)

	rows := make([][]float64, 0, len(days))
	for _, day := range days {
		rec := r.Daily[day]
		net := rec.NetTransfer()
		cum := r.DailyCumulative[day]
		rows = append(rows, []float64{
			float64(day), rec.Sales, rec.CoreSales, rec.GrossSales, float64(rec.Customers),
			rec.Purchase.Cost, rec.Purchase.Price, rec.DeliverySales.Cost, rec.DeliverySales.Price,
			net.Cost, net.Price, rec.DiscountAbsolute, rec.Consumable.Cost,
			cum.Sales, cum.Budget,
		})
	}
	return rows
}

func supplierRows(r *domain.StoreResult) []domain.SupplierTotal {
	out := make([]domain.SupplierTotal, 0, len(r.SupplierTotals))
	for _, s := range r.SupplierTotals {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.SupplierTotal) int {
		return strings.Compare(a.SupplierCode, b.SupplierCode)
	})
	return out
}

func money(v float64) float64 {
	return decimal.NewFromFloat(v).Round(0).InexactFloat64()
}

func rate(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}

func nullMoney(v domain.NullAmount) any {
	if !v.Valid {
		return ""
	}
	return money(v.Value)
}

func nullRate(v domain.NullAmount) any {
	if !v.Valid {
		return ""
	}
	return rate(v.Value)
}
