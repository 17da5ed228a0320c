package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"storeledger/backend/internal/domain"
)

// Mode selects how much of a store's data goes into its fingerprint.
type Mode string

const (
	// ModeSummary folds in per-type day counts and the last recorded day of
	// purchase and sales only. An edit to an earlier day alone is not detected.
	ModeSummary Mode = "summary"
	// ModeFull hashes every record of the store.
	ModeFull Mode = "full"
)

func ParseMode(v string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(v))) == ModeFull {
		return ModeFull
	}
	return ModeSummary
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNull(v domain.NullAmount) string {
	if !v.Valid {
		return "n"
	}
	return formatFloat(v.Value)
}

func settingsParts(settings domain.AppSettings, daysInMonth int) []string {
	dataEnd := "null"
	if settings.DataEndDay != nil {
		dataEnd = strconv.Itoa(*settings.DataEndDay)
	}
	codes := make([]string, 0, len(settings.SupplierCategoryMap))
	for code := range settings.SupplierCategoryMap {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	catMap := make([]string, 0, len(codes))
	for _, code := range codes {
		catMap = append(catMap, code+"="+string(settings.SupplierCategoryMap[code]))
	}
	return []string{
		strconv.Itoa(settings.TargetYear),
		strconv.Itoa(settings.TargetMonth),
		formatFloat(settings.DefaultMarkupRate),
		formatFloat(settings.DefaultBudget),
		dataEnd,
		strconv.Itoa(daysInMonth),
		"fr:" + formatFloat(settings.FlowerCostRate),
		"dr:" + formatFloat(settings.DirectProduceCostRate),
		"cm:" + strings.Join(catMap, ","),
		"tg:" + formatFloat(settings.TargetGrossProfitRate),
		"wt:" + formatFloat(settings.WarningThreshold),
		"cc:" + strings.Join(settings.CustomCategories, ","),
		"py:" + optInt(settings.PrevYearSourceYear) + ":" + optInt(settings.PrevYearSourceMonth) + ":" + optFloat(settings.PrevYearDowOffset),
	}
}

func optInt(v *int) string {
	if v == nil {
		return "n"
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "n"
	}
	return formatFloat(*v)
}

// StoreFingerprint digests one store's inputs. Every settings field is part
// of it, so any settings change is a miss.
func StoreFingerprint(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int, mode Mode) string {
	if data == nil {
		data = domain.NewImportedData()
	}
	parts := append([]string{storeID}, settingsParts(settings, daysInMonth)...)
	if mode == ModeFull {
		parts = append(parts, "h:"+fullDigest(storeID, data))
		return strings.Join(parts, "|")
	}

	parts = append(parts,
		"p:"+strconv.Itoa(data.Purchase.DayCount(storeID)),
		"s:"+strconv.Itoa(data.Sales.DayCount(storeID)),
		"d:"+strconv.Itoa(data.Discount.DayCount(storeID)),
		"ti:"+strconv.Itoa(data.InterStoreIn.DayCount(storeID)),
		"to:"+strconv.Itoa(data.InterStoreOut.DayCount(storeID)),
		"f:"+strconv.Itoa(data.Flowers.DayCount(storeID)),
		"dp:"+strconv.Itoa(data.DirectProduce.DayCount(storeID)),
		"c:"+strconv.Itoa(data.Consumables.DayCount(storeID)),
	)
	if last, ok := data.Purchase.LastDay(storeID); ok {
		p, _ := data.Purchase.Day(storeID, last)
		parts = append(parts, "pl:"+formatFloat(p.Total.Cost)+":"+formatFloat(p.Total.Price))
	}
	if last, ok := data.Sales.LastDay(storeID); ok {
		s, _ := data.Sales.Day(storeID, last)
		parts = append(parts, "sl:"+formatFloat(s.Sales))
	}
	if inv, ok := data.Settings[storeID]; ok {
		parts = append(parts, "inv:"+formatNull(inv.OpeningInventory)+":"+formatNull(inv.ClosingInventory))
	}
	if b, ok := data.Budget[storeID]; ok {
		parts = append(parts, "bud:"+formatFloat(b.Total))
	}
	return strings.Join(parts, "|")
}

// GlobalFingerprint folds every store's fingerprint together with the store
// set and the custom category count.
func GlobalFingerprint(data *domain.ImportedData, settings domain.AppSettings, daysInMonth int, mode Mode) string {
	if data == nil {
		data = domain.NewImportedData()
	}
	ids := data.Stores.IDs()
	sort.Strings(ids)

	parts := make([]string, 0, len(ids)+4)
	for _, id := range ids {
		parts = append(parts, StoreFingerprint(id, data, settings, daysInMonth, mode))
	}
	parts = append(parts,
		"stores:"+strconv.Itoa(len(ids))+":"+strings.Join(data.Stores.IDs(), ","),
		"cats:"+strconv.Itoa(len(settings.CustomCategories)),
	)
	parts = append(parts, settingsParts(settings, daysInMonth)...)
	return strings.Join(parts, "||")
}

// Digest shortens a fingerprint for use as an external key.
func Digest(fingerprint string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fingerprint))
}

type storeSlice struct {
	Store         domain.Store                         `json:"store"`
	Purchase      map[int]domain.PurchaseDayEntry      `json:"purchase"`
	Sales         map[int]domain.SalesDayEntry         `json:"sales"`
	Discount      map[int]domain.DiscountDayEntry      `json:"discount"`
	InterStoreIn  map[int]domain.TransferDayEntry      `json:"interStoreIn"`
	InterStoreOut map[int]domain.TransferDayEntry      `json:"interStoreOut"`
	Flowers       map[int]domain.SpecialSalesDayEntry  `json:"flowers"`
	DirectProduce map[int]domain.SpecialSalesDayEntry  `json:"directProduce"`
	Consumables   map[int]domain.ConsumableDailyRecord `json:"consumables"`
	Settings      *domain.InventoryConfig              `json:"settings"`
	Budget        *domain.BudgetData                   `json:"budget"`
	Suppliers     map[string]domain.SupplierRef        `json:"suppliers"`
}

func fullDigest(storeID string, data *domain.ImportedData) string {
	slice := storeSlice{
		Purchase:      data.Purchase[storeID],
		Sales:         data.Sales[storeID],
		Discount:      data.Discount[storeID],
		InterStoreIn:  data.InterStoreIn[storeID],
		InterStoreOut: data.InterStoreOut[storeID],
		Flowers:       data.Flowers[storeID],
		DirectProduce: data.DirectProduce[storeID],
		Consumables:   data.Consumables[storeID],
		Suppliers:     data.Suppliers,
	}
	slice.Store, _ = data.Stores.Get(storeID)
	if inv, ok := data.Settings[storeID]; ok {
		slice.Settings = &inv
	}
	if b, ok := data.Budget[storeID]; ok {
		slice.Budget = &b
	}

	payload, err := json.Marshal(slice)
	if err != nil {
		// NaN amounts cannot be JSON encoded; fmt prints maps in key order.
		payload = []byte(fmt.Sprintf("%v", slice))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}
