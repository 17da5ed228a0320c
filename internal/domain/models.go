package domain

import "time"

// AggregateStoreID identifies the synthetic all-stores rollup.
const AggregateStoreID = "aggregate"

type CostPricePair struct {
	Cost  float64 `json:"cost"`
	Price float64 `json:"price"`
}

func (p CostPricePair) Add(other CostPricePair) CostPricePair {
	return CostPricePair{Cost: p.Cost + other.Cost, Price: p.Price + other.Price}
}

func (p CostPricePair) IsZero() bool {
	return p.Cost == 0 && p.Price == 0
}

type Store struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type SupplierRef struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type CategoryType string

const (
	CategoryMarket          CategoryType = "market"
	CategoryLFC             CategoryType = "lfc"
	CategorySaladClub       CategoryType = "saladClub"
	CategoryProcessed       CategoryType = "processed"
	CategoryDirectDelivery  CategoryType = "directDelivery"
	CategoryFlowers         CategoryType = "flowers"
	CategoryDirectProduce   CategoryType = "directProduce"
	CategoryConsumables     CategoryType = "consumables"
	CategoryInterStore      CategoryType = "interStore"
	CategoryInterDepartment CategoryType = "interDepartment"
	CategoryOther           CategoryType = "other"
)

type SupplierLine struct {
	Name  string  `json:"name"`
	Cost  float64 `json:"cost"`
	Price float64 `json:"price"`
}

type PurchaseDayEntry struct {
	Suppliers map[string]SupplierLine `json:"suppliers"`
	Total     CostPricePair           `json:"total"`
}

type SalesDayEntry struct {
	Sales     float64 `json:"sales"`
	Customers int     `json:"customers,omitempty"`
}

type DiscountDayEntry struct {
	Sales     float64 `json:"sales"`
	Discount  float64 `json:"discount"`
	Customers int     `json:"customers,omitempty"`
}

type TransferRecord struct {
	Day                  int     `json:"day"`
	Cost                 float64 `json:"cost"`
	Price                float64 `json:"price"`
	FromStoreID          string  `json:"fromStoreId"`
	ToStoreID            string  `json:"toStoreId"`
	IsDepartmentTransfer bool    `json:"isDepartmentTransfer"`
}

type TransferDayEntry struct {
	InterStoreIn       []TransferRecord `json:"interStoreIn"`
	InterStoreOut      []TransferRecord `json:"interStoreOut"`
	InterDepartmentIn  []TransferRecord `json:"interDepartmentIn"`
	InterDepartmentOut []TransferRecord `json:"interDepartmentOut"`
}

type SpecialSalesDayEntry struct {
	Price float64 `json:"price"`
	Cost  float64 `json:"cost"`
}

type ConsumableItem struct {
	AccountCode string  `json:"accountCode"`
	ItemCode    string  `json:"itemCode"`
	ItemName    string  `json:"itemName"`
	Quantity    float64 `json:"quantity"`
	Cost        float64 `json:"cost"`
}

type ConsumableDailyRecord struct {
	Cost  float64          `json:"cost"`
	Items []ConsumableItem `json:"items"`
}

type CodeName struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type TimeSlotEntry struct {
	Hour     int     `json:"hour"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`
}

type CategoryTimeSalesRecord struct {
	Day           int             `json:"day"`
	StoreID       string          `json:"storeId"`
	Department    CodeName        `json:"department"`
	Line          CodeName        `json:"line"`
	Klass         CodeName        `json:"klass"`
	TimeSlots     []TimeSlotEntry `json:"timeSlots"`
	TotalQuantity float64         `json:"totalQuantity"`
	TotalAmount   float64         `json:"totalAmount"`
}

// Key identifies a record independently of its position in the list.
func (r CategoryTimeSalesRecord) Key() string {
	return itoa(r.Day) + "\t" + r.StoreID + "\t" + r.Department.Code + "\t" + r.Line.Code + "\t" + r.Klass.Code
}

type CategoryTimeSalesData struct {
	Records []CategoryTimeSalesRecord `json:"records"`
}

type InventoryConfig struct {
	StoreID           string     `json:"storeId"`
	OpeningInventory  NullAmount `json:"openingInventory"`
	ClosingInventory  NullAmount `json:"closingInventory"`
	GrossProfitBudget NullAmount `json:"grossProfitBudget"`
}

type BudgetData struct {
	StoreID string          `json:"storeId"`
	Daily   map[int]float64 `json:"daily"`
	Total   float64         `json:"total"`
}

// ImportedData is one trading month of raw input. Each ledger field has the
// same store → day → record shape.
type ImportedData struct {
	Stores                    StoreList                              `json:"stores"`
	Suppliers                 map[string]SupplierRef                 `json:"suppliers"`
	Purchase                  StoreDayRecord[PurchaseDayEntry]       `json:"purchase"`
	Sales                     StoreDayRecord[SalesDayEntry]          `json:"sales"`
	Discount                  StoreDayRecord[DiscountDayEntry]       `json:"discount"`
	PrevYearSales             StoreDayRecord[SalesDayEntry]          `json:"prevYearSales"`
	PrevYearDiscount          StoreDayRecord[DiscountDayEntry]       `json:"prevYearDiscount"`
	InterStoreIn              StoreDayRecord[TransferDayEntry]       `json:"interStoreIn"`
	InterStoreOut             StoreDayRecord[TransferDayEntry]       `json:"interStoreOut"`
	Flowers                   StoreDayRecord[SpecialSalesDayEntry]   `json:"flowers"`
	DirectProduce             StoreDayRecord[SpecialSalesDayEntry]   `json:"directProduce"`
	Consumables               StoreDayRecord[ConsumableDailyRecord]  `json:"consumables"`
	CategoryTimeSales         CategoryTimeSalesData                  `json:"categoryTimeSales"`
	PrevYearCategoryTimeSales CategoryTimeSalesData                  `json:"prevYearCategoryTimeSales"`
	Settings                  map[string]InventoryConfig             `json:"settings"`
	Budget                    map[string]BudgetData                  `json:"budget"`
}

func NewImportedData() *ImportedData {
	return &ImportedData{
		Stores:           StoreList{},
		Suppliers:        map[string]SupplierRef{},
		Purchase:         StoreDayRecord[PurchaseDayEntry]{},
		Sales:            StoreDayRecord[SalesDayEntry]{},
		Discount:         StoreDayRecord[DiscountDayEntry]{},
		PrevYearSales:    StoreDayRecord[SalesDayEntry]{},
		PrevYearDiscount: StoreDayRecord[DiscountDayEntry]{},
		InterStoreIn:     StoreDayRecord[TransferDayEntry]{},
		InterStoreOut:    StoreDayRecord[TransferDayEntry]{},
		Flowers:          StoreDayRecord[SpecialSalesDayEntry]{},
		DirectProduce:    StoreDayRecord[SpecialSalesDayEntry]{},
		Consumables:      StoreDayRecord[ConsumableDailyRecord]{},
		Settings:         map[string]InventoryConfig{},
		Budget:           map[string]BudgetData{},
	}
}

type AppSettings struct {
	TargetYear            int                     `json:"targetYear"`
	TargetMonth           int                     `json:"targetMonth"`
	TargetGrossProfitRate float64                 `json:"targetGrossProfitRate"`
	WarningThreshold      float64                 `json:"warningThreshold"`
	FlowerCostRate        float64                 `json:"flowerCostRate"`
	DirectProduceCostRate float64                 `json:"directProduceCostRate"`
	DefaultMarkupRate     float64                 `json:"defaultMarkupRate"`
	DefaultBudget         float64                 `json:"defaultBudget"`
	DataEndDay            *int                    `json:"dataEndDay,omitempty"`
	SupplierCategoryMap   map[string]CategoryType `json:"supplierCategoryMap,omitempty"`
	CustomCategories      []string                `json:"customCategories,omitempty"`
	PrevYearSourceYear    *int                    `json:"prevYearSourceYear,omitempty"`
	PrevYearSourceMonth   *int                    `json:"prevYearSourceMonth,omitempty"`
	PrevYearDowOffset     *float64                `json:"prevYearDowOffset,omitempty"`
}

func DefaultAppSettings(now time.Time) AppSettings {
	return AppSettings{
		TargetYear:            now.Year(),
		TargetMonth:           int(now.Month()),
		TargetGrossProfitRate: 0.25,
		WarningThreshold:      0.23,
		FlowerCostRate:        0.80,
		DirectProduceCostRate: 0.85,
		DefaultMarkupRate:     0.26,
		DefaultBudget:         6_450_000,
		SupplierCategoryMap:   map[string]CategoryType{},
	}
}

type TransferBreakdownEntry struct {
	FromStoreID string  `json:"fromStoreId"`
	ToStoreID   string  `json:"toStoreId"`
	Cost        float64 `json:"cost"`
	Price       float64 `json:"price"`
}

type TransferBreakdown struct {
	InterStoreIn       []TransferBreakdownEntry `json:"interStoreIn"`
	InterStoreOut      []TransferBreakdownEntry `json:"interStoreOut"`
	InterDepartmentIn  []TransferBreakdownEntry `json:"interDepartmentIn"`
	InterDepartmentOut []TransferBreakdownEntry `json:"interDepartmentOut"`
}

// DailyRecord is one store-day's resolved figures. It is built once during
// aggregation and never mutated afterwards.
type DailyRecord struct {
	Day                int                      `json:"day"`
	Sales              float64                  `json:"sales"`
	CoreSales          float64                  `json:"coreSales"`
	GrossSales         float64                  `json:"grossSales"`
	Customers          int                      `json:"customers"`
	Purchase           CostPricePair            `json:"purchase"`
	DeliverySales      CostPricePair            `json:"deliverySales"`
	InterStoreIn       CostPricePair            `json:"interStoreIn"`
	InterStoreOut      CostPricePair            `json:"interStoreOut"`
	InterDepartmentIn  CostPricePair            `json:"interDepartmentIn"`
	InterDepartmentOut CostPricePair            `json:"interDepartmentOut"`
	Flowers            CostPricePair            `json:"flowers"`
	DirectProduce      CostPricePair            `json:"directProduce"`
	Consumable         ConsumableDailyRecord    `json:"consumable"`
	DiscountAmount     float64                  `json:"discountAmount"`
	DiscountAbsolute   float64                  `json:"discountAbsolute"`
	SupplierBreakdown  map[string]CostPricePair `json:"supplierBreakdown"`
	TransferBreakdown  TransferBreakdown        `json:"transferBreakdown"`
}

// NetTransfer sums every transfer direction. Outbound figures are carried
// with their own sign.
func (d DailyRecord) NetTransfer() CostPricePair {
	return d.InterStoreIn.Add(d.InterStoreOut).Add(d.InterDepartmentIn).Add(d.InterDepartmentOut)
}

// TotalCost is purchase plus net transfers plus delivery-channel cost.
func (d DailyRecord) TotalCost() float64 {
	return d.Purchase.Cost + d.NetTransfer().Cost + d.DeliverySales.Cost
}

type SupplierTotal struct {
	SupplierCode string       `json:"supplierCode"`
	SupplierName string       `json:"supplierName"`
	Category     CategoryType `json:"category"`
	Cost         float64      `json:"cost"`
	Price        float64      `json:"price"`
	MarkupRate   float64      `json:"markupRate"`
}

type TransferDetails struct {
	InterStoreIn       CostPricePair `json:"interStoreIn"`
	InterStoreOut      CostPricePair `json:"interStoreOut"`
	InterDepartmentIn  CostPricePair `json:"interDepartmentIn"`
	InterDepartmentOut CostPricePair `json:"interDepartmentOut"`
	NetTransfer        CostPricePair `json:"netTransfer"`
}

type CumulativeEntry struct {
	Sales  float64 `json:"sales"`
	Budget float64 `json:"budget"`
}

// StoreResult is one store's month summary, or the aggregate rollup when
// StoreID is AggregateStoreID. A recomputation always yields a new value.
type StoreResult struct {
	StoreID string `json:"storeId"`

	OpeningInventory NullAmount `json:"openingInventory"`
	ClosingInventory NullAmount `json:"closingInventory"`

	TotalSales              float64 `json:"totalSales"`
	TotalCoreSales          float64 `json:"totalCoreSales"`
	DeliverySalesPrice      float64 `json:"deliverySalesPrice"`
	FlowerSalesPrice        float64 `json:"flowerSalesPrice"`
	DirectProduceSalesPrice float64 `json:"directProduceSalesPrice"`
	GrossSales              float64 `json:"grossSales"`
	OverDelivery            bool    `json:"overDelivery"`
	OverDeliveryAmount      float64 `json:"overDeliveryAmount"`

	TotalCost         float64 `json:"totalCost"`
	InventoryCost     float64 `json:"inventoryCost"`
	DeliverySalesCost float64 `json:"deliverySalesCost"`

	InvMethodCogs            NullAmount `json:"invMethodCogs"`
	InvMethodGrossProfit     NullAmount `json:"invMethodGrossProfit"`
	InvMethodGrossProfitRate NullAmount `json:"invMethodGrossProfitRate"`

	EstMethodCogs             float64    `json:"estMethodCogs"`
	EstMethodMargin           float64    `json:"estMethodMargin"`
	EstMethodMarginRate       float64    `json:"estMethodMarginRate"`
	EstMethodClosingInventory NullAmount `json:"estMethodClosingInventory"`

	TotalCustomers         int     `json:"totalCustomers"`
	AverageCustomersPerDay float64 `json:"averageCustomersPerDay"`

	TotalDiscount    float64 `json:"totalDiscount"`
	DiscountRate     float64 `json:"discountRate"`
	DiscountLossCost float64 `json:"discountLossCost"`

	AverageMarkupRate float64 `json:"averageMarkupRate"`
	CoreMarkupRate    float64 `json:"coreMarkupRate"`

	TotalConsumable float64 `json:"totalConsumable"`
	ConsumableRate  float64 `json:"consumableRate"`

	Budget                float64         `json:"budget"`
	GrossProfitBudget     float64         `json:"grossProfitBudget"`
	GrossProfitRateBudget float64         `json:"grossProfitRateBudget"`
	BudgetDaily           map[int]float64 `json:"budgetDaily"`

	Daily           map[int]DailyRecord            `json:"daily"`
	CategoryTotals  map[CategoryType]CostPricePair `json:"categoryTotals"`
	SupplierTotals  map[string]SupplierTotal       `json:"supplierTotals"`
	TransferDetails TransferDetails                `json:"transferDetails"`

	ElapsedDays           int                     `json:"elapsedDays"`
	SalesDays             int                     `json:"salesDays"`
	AverageDailySales     float64                 `json:"averageDailySales"`
	ProjectedSales        float64                 `json:"projectedSales"`
	ProjectedAchievement  float64                 `json:"projectedAchievement"`
	BudgetAchievementRate float64                 `json:"budgetAchievementRate"`
	BudgetProgressRate    float64                 `json:"budgetProgressRate"`
	BudgetElapsedRate     float64                 `json:"budgetElapsedRate"`
	RemainingBudget       float64                 `json:"remainingBudget"`
	DailyCumulative       map[int]CumulativeEntry `json:"dailyCumulative"`
}

// StoreResults keeps per-store results in the order of ImportedData.Stores.
type StoreResults struct {
	Order   []string                `json:"order"`
	ByStore map[string]*StoreResult `json:"stores"`
}

func NewStoreResults(capacity int) *StoreResults {
	return &StoreResults{
		Order:   make([]string, 0, capacity),
		ByStore: make(map[string]*StoreResult, capacity),
	}
}

func (r *StoreResults) Put(result *StoreResult) {
	if _, exists := r.ByStore[result.StoreID]; !exists {
		r.Order = append(r.Order, result.StoreID)
	}
	r.ByStore[result.StoreID] = result
}

func (r *StoreResults) Get(storeID string) (*StoreResult, bool) {
	if r == nil {
		return nil, false
	}
	res, ok := r.ByStore[storeID]
	return res, ok
}

func (r *StoreResults) List() []*StoreResult {
	if r == nil {
		return nil
	}
	out := make([]*StoreResult, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.ByStore[id])
	}
	return out
}

func (r *StoreResults) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Order)
}

type PrevYearDailyEntry struct {
	Sales     float64 `json:"sales"`
	Discount  float64 `json:"discount"`
	Customers int     `json:"customers"`
}

type PrevYearComparison struct {
	HasPrevYear     bool                       `json:"hasPrevYear"`
	Offset          int                        `json:"offset"`
	SourceYear      int                        `json:"sourceYear"`
	SourceMonth     int                        `json:"sourceMonth"`
	Daily           map[int]PrevYearDailyEntry `json:"daily"`
	TotalSales      float64                    `json:"totalSales"`
	TotalDiscount   float64                    `json:"totalDiscount"`
	TotalCustomers  int                        `json:"totalCustomers"`
	CategoryRecords []CategoryTimeSalesRecord  `json:"categoryRecords"`
}

type PersistedMeta struct {
	Year    int       `json:"year"`
	Month   int       `json:"month"`
	SavedAt time.Time `json:"savedAt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AnalystCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AnalystUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)
