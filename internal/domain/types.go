package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// NullAmount is a number that may be absent. An absent value means the
// figure does not apply, which is different from a computed zero.
type NullAmount struct {
	Value float64
	Valid bool
}

func Some(v float64) NullAmount {
	return NullAmount{Value: v, Valid: true}
}

func None() NullAmount {
	return NullAmount{}
}

func (n NullAmount) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func (n NullAmount) MarshalJSON() ([]byte, error) {
	if !n.Valid || math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *NullAmount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = NullAmount{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

// StoreDayRecord maps store id to day of month to a ledger record.
type StoreDayRecord[T any] map[string]map[int]T

func (r StoreDayRecord[T]) Day(storeID string, day int) (T, bool) {
	days, ok := r[storeID]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := days[day]
	return v, ok
}

func (r StoreDayRecord[T]) Set(storeID string, day int, v T) {
	days, ok := r[storeID]
	if !ok {
		days = map[int]T{}
		r[storeID] = days
	}
	days[day] = v
}

// DayCount returns how many days carry a record for the store.
func (r StoreDayRecord[T]) DayCount(storeID string) int {
	return len(r[storeID])
}

// LastDay returns the highest day number recorded for the store.
func (r StoreDayRecord[T]) LastDay(storeID string) (int, bool) {
	last := 0
	for day := range r[storeID] {
		if day > last {
			last = day
		}
	}
	return last, last > 0
}

func (r StoreDayRecord[T]) SortedDays(storeID string) []int {
	days := make([]int, 0, len(r[storeID]))
	for day := range r[storeID] {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

func (r StoreDayRecord[T]) StoreIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone copies the store and day maps. Records are copied by value.
func (r StoreDayRecord[T]) Clone() StoreDayRecord[T] {
	if r == nil {
		return nil
	}
	out := make(StoreDayRecord[T], len(r))
	for storeID, days := range r {
		copied := make(map[int]T, len(days))
		for day, v := range days {
			copied[day] = v
		}
		out[storeID] = copied
	}
	return out
}

// UnmarshalJSON skips day keys that are not positive integers instead of
// failing the whole payload.
func (r *StoreDayRecord[T]) UnmarshalJSON(b []byte) error {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(StoreDayRecord[T], len(raw))
	for storeID, days := range raw {
		parsed := make(map[int]T, len(days))
		for key, payload := range days {
			day, err := strconv.Atoi(key)
			if err != nil || day < 1 {
				continue
			}
			var v T
			if err := json.Unmarshal(payload, &v); err != nil {
				return err
			}
			parsed[day] = v
		}
		out[storeID] = parsed
	}
	*r = out
	return nil
}

// StoreList is the ordered set of stores in a month. Order is the order the
// stores were first seen in the import.
type StoreList []Store

func (l StoreList) Get(id string) (Store, bool) {
	for _, s := range l {
		if s.ID == id {
			return s, true
		}
	}
	return Store{}, false
}

func (l StoreList) Has(id string) bool {
	_, ok := l.Get(id)
	return ok
}

func (l StoreList) IDs() []string {
	ids := make([]string, 0, len(l))
	for _, s := range l {
		ids = append(ids, s.ID)
	}
	return ids
}

// Name returns the display name of a store, falling back to its id.
func (l StoreList) Name(id string) string {
	if s, ok := l.Get(id); ok && s.Name != "" {
		return s.Name
	}
	return id
}

// UnmarshalJSON accepts either a JSON array or an object keyed by store id.
// Objects carry no order, so their entries are sorted by id.
func (l *StoreList) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var byID map[string]Store
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return err
		}
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := make(StoreList, 0, len(ids))
		for _, id := range ids {
			s := byID[id]
			if s.ID == "" {
				s.ID = id
			}
			out = append(out, s)
		}
		*l = out
		return nil
	}
	var list []Store
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return err
	}
	*l = StoreList(list)
	return nil
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// Clone copies every collection of the snapshot. Leaf records are shared by
// value and must be treated as immutable.
func (d *ImportedData) Clone() *ImportedData {
	if d == nil {
		return NewImportedData()
	}
	out := &ImportedData{
		Stores:                    append(StoreList{}, d.Stores...),
		Suppliers:                 make(map[string]SupplierRef, len(d.Suppliers)),
		Purchase:                  nonNil(d.Purchase.Clone()),
		Sales:                     nonNil(d.Sales.Clone()),
		Discount:                  nonNil(d.Discount.Clone()),
		PrevYearSales:             nonNil(d.PrevYearSales.Clone()),
		PrevYearDiscount:          nonNil(d.PrevYearDiscount.Clone()),
		InterStoreIn:              nonNil(d.InterStoreIn.Clone()),
		InterStoreOut:             nonNil(d.InterStoreOut.Clone()),
		Flowers:                   nonNil(d.Flowers.Clone()),
		DirectProduce:             nonNil(d.DirectProduce.Clone()),
		Consumables:               nonNil(d.Consumables.Clone()),
		CategoryTimeSales:         CategoryTimeSalesData{Records: append([]CategoryTimeSalesRecord(nil), d.CategoryTimeSales.Records...)},
		PrevYearCategoryTimeSales: CategoryTimeSalesData{Records: append([]CategoryTimeSalesRecord(nil), d.PrevYearCategoryTimeSales.Records...)},
		Settings:                  make(map[string]InventoryConfig, len(d.Settings)),
		Budget:                    make(map[string]BudgetData, len(d.Budget)),
	}
	for k, v := range d.Suppliers {
		out.Suppliers[k] = v
	}
	for k, v := range d.Settings {
		out.Settings[k] = v
	}
	for k, v := range d.Budget {
		daily := make(map[int]float64, len(v.Daily))
		for day, amount := range v.Daily {
			daily[day] = amount
		}
		v.Daily = daily
		out.Budget[k] = v
	}
	return out
}

func nonNil[T any](r StoreDayRecord[T]) StoreDayRecord[T] {
	if r == nil {
		return StoreDayRecord[T]{}
	}
	return r
}

// Normalize replaces nil collections with empty ones.
func (d *ImportedData) Normalize() {
	if d.Stores == nil {
		d.Stores = StoreList{}
	}
	if d.Suppliers == nil {
		d.Suppliers = map[string]SupplierRef{}
	}
	d.Purchase = nonNil(d.Purchase)
	d.Sales = nonNil(d.Sales)
	d.Discount = nonNil(d.Discount)
	d.PrevYearSales = nonNil(d.PrevYearSales)
	d.PrevYearDiscount = nonNil(d.PrevYearDiscount)
	d.InterStoreIn = nonNil(d.InterStoreIn)
	d.InterStoreOut = nonNil(d.InterStoreOut)
	d.Flowers = nonNil(d.Flowers)
	d.DirectProduce = nonNil(d.DirectProduce)
	d.Consumables = nonNil(d.Consumables)
	if d.Settings == nil {
		d.Settings = map[string]InventoryConfig{}
	}
	if d.Budget == nil {
		d.Budget = map[string]BudgetData{}
	}
}
