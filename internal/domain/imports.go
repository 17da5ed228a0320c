package domain

import "time"

type DataType string

const (
	DataStores                    DataType = "stores"
	DataSuppliers                 DataType = "suppliers"
	DataPurchase                  DataType = "purchase"
	DataSales                     DataType = "sales"
	DataDiscount                  DataType = "discount"
	DataPrevYearSales             DataType = "prevYearSales"
	DataPrevYearDiscount          DataType = "prevYearDiscount"
	DataInterStoreIn              DataType = "interStoreIn"
	DataInterStoreOut             DataType = "interStoreOut"
	DataFlowers                   DataType = "flowers"
	DataDirectProduce             DataType = "directProduce"
	DataConsumables               DataType = "consumables"
	DataCategoryTimeSales         DataType = "categoryTimeSales"
	DataPrevYearCategoryTimeSales DataType = "prevYearCategoryTimeSales"
	DataSettings                  DataType = "settings"
	DataBudget                    DataType = "budget"
)

// LedgerDataTypes are the store/day keyed types, in diff report order.
var LedgerDataTypes = []DataType{
	DataPurchase,
	DataSales,
	DataDiscount,
	DataPrevYearSales,
	DataPrevYearDiscount,
	DataInterStoreIn,
	DataInterStoreOut,
	DataFlowers,
	DataDirectProduce,
	DataConsumables,
}

// AllDataTypes lists every field of ImportedData.
var AllDataTypes = append(append([]DataType{DataStores, DataSuppliers}, LedgerDataTypes...),
	DataCategoryTimeSales,
	DataPrevYearCategoryTimeSales,
	DataSettings,
	DataBudget,
)

func (t DataType) Valid() bool {
	for _, known := range AllDataTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DataTypeSet is the set of data types touched by one import round.
type DataTypeSet map[DataType]bool

func NewDataTypeSet(types ...DataType) DataTypeSet {
	set := make(DataTypeSet, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func (s DataTypeSet) Has(t DataType) bool {
	return s[t]
}

// FieldChange is one data point that differs between two snapshots. Nil
// values mean the point is absent on that side.
type FieldChange struct {
	StoreID   string   `json:"storeId"`
	StoreName string   `json:"storeName"`
	Day       int      `json:"day"`
	Key       string   `json:"key,omitempty"`
	OldValue  *float64 `json:"oldValue"`
	NewValue  *float64 `json:"newValue"`
}

type DataTypeDiff struct {
	DataType      DataType      `json:"dataType"`
	Inserts       []FieldChange `json:"inserts"`
	Modifications []FieldChange `json:"modifications"`
	Removals      []FieldChange `json:"removals"`
}

func (d DataTypeDiff) Empty() bool {
	return len(d.Inserts) == 0 && len(d.Modifications) == 0 && len(d.Removals) == 0
}

type DiffResult struct {
	Diffs             []DataTypeDiff `json:"diffs"`
	AutoApproved      []DataType     `json:"autoApproved"`
	NeedsConfirmation bool           `json:"needsConfirmation"`
}

type DiffSummary struct {
	TotalInserts       int `json:"totalInserts"`
	TotalModifications int `json:"totalModifications"`
	TotalRemovals      int `json:"totalRemovals"`
	DataTypesChanged   int `json:"dataTypesChanged"`
}

type ImportAction string

const (
	ActionOverwrite    ImportAction = "overwrite"
	ActionKeepExisting ImportAction = "keep-existing"
)

func (a ImportAction) Valid() bool {
	return a == ActionOverwrite || a == ActionKeepExisting
}

type ImportRequest struct {
	Year          int           `json:"year"`
	Month         int           `json:"month"`
	ImportedTypes []DataType    `json:"importedTypes"`
	Data          *ImportedData `json:"data"`
}

// ImportSummary describes the outcome of an import. A zero summary is
// returned when the import was rejected by the in-flight guard.
type ImportSummary struct {
	Year          int          `json:"year"`
	Month         int          `json:"month"`
	Applied       bool         `json:"applied"`
	PendingID     string       `json:"pendingId,omitempty"`
	Diff          *DiffResult  `json:"diff,omitempty"`
	DiffSummary   *DiffSummary `json:"diffSummary,omitempty"`
	ImportedTypes []DataType   `json:"importedTypes,omitempty"`
	StoreCount    int          `json:"storeCount"`
	SavedAt       *time.Time   `json:"savedAt,omitempty"`
}

type PendingImport struct {
	ID            string
	Year          int
	Month         int
	Existing      *ImportedData
	Incoming      *ImportedData
	ImportedTypes DataTypeSet
	Diff          DiffResult
	CreatedAt     time.Time
	CreatedBy     string
}

type ResolveImportRequest struct {
	Action ImportAction `json:"action"`
}

type SnapshotInfo struct {
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	DataTypes []DataType `json:"dataTypes"`
	SavedAt   time.Time  `json:"savedAt"`
}
