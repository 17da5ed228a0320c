package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storeledger/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository persists one ImportedData snapshot per (year, month), the last
// session marker, application settings and user accounts.
type Repository interface {
	SaveSnapshot(ctx context.Context, year int, month int, data *domain.ImportedData) (domain.PersistedMeta, error)
	LoadSnapshot(ctx context.Context, year int, month int) (*domain.ImportedData, error)
	LoadSlices(ctx context.Context, year int, month int, types ...domain.DataType) (*domain.ImportedData, error)
	ListSnapshots(ctx context.Context) ([]domain.SnapshotInfo, error)
	DeleteSnapshot(ctx context.Context, year int, month int) error
	DeleteAllSnapshots(ctx context.Context) error
	LastSession(ctx context.Context) (*domain.PersistedMeta, error)
	GetSettings(ctx context.Context) (*domain.AppSettings, error)
	SaveSettings(ctx context.Context, settings domain.AppSettings) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

func ValidMonth(year int, month int) error {
	if year < 1 || month < 1 || month > 12 {
		return fmt.Errorf("%w: year=%d month=%d", ErrInvalidInput, year, month)
	}
	return nil
}

// SplitSnapshot encodes each data type of a snapshot separately.
func SplitSnapshot(data *domain.ImportedData) (map[domain.DataType][]byte, error) {
	if data == nil {
		return nil, ErrInvalidInput
	}
	parts := map[domain.DataType]any{
		domain.DataStores:                    data.Stores,
		domain.DataSuppliers:                 data.Suppliers,
		domain.DataPurchase:                  data.Purchase,
		domain.DataSales:                     data.Sales,
		domain.DataDiscount:                  data.Discount,
		domain.DataPrevYearSales:             data.PrevYearSales,
		domain.DataPrevYearDiscount:          data.PrevYearDiscount,
		domain.DataInterStoreIn:              data.InterStoreIn,
		domain.DataInterStoreOut:             data.InterStoreOut,
		domain.DataFlowers:                   data.Flowers,
		domain.DataDirectProduce:             data.DirectProduce,
		domain.DataConsumables:               data.Consumables,
		domain.DataCategoryTimeSales:         data.CategoryTimeSales,
		domain.DataPrevYearCategoryTimeSales: data.PrevYearCategoryTimeSales,
		domain.DataSettings:                  data.Settings,
		domain.DataBudget:                    data.Budget,
	}
	out := make(map[domain.DataType][]byte, len(parts))
	for dt, v := range parts {
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", dt, err)
		}
		out[dt] = payload
	}
	return out, nil
}

// JoinSnapshot decodes the parts written by SplitSnapshot. Unknown data
// types are ignored and missing ones stay empty.
func JoinSnapshot(parts map[domain.DataType][]byte) (*domain.ImportedData, error) {
	data := domain.NewImportedData()
	for dt, payload := range parts {
		var target any
		switch dt {
		case domain.DataStores:
			target = &data.Stores
		case domain.DataSuppliers:
			target = &data.Suppliers
		case domain.DataPurchase:
			target = &data.Purchase
		case domain.DataSales:
			target = &data.Sales
		case domain.DataDiscount:
			target = &data.Discount
		case domain.DataPrevYearSales:
			target = &data.PrevYearSales
		case domain.DataPrevYearDiscount:
			target = &data.PrevYearDiscount
		case domain.DataInterStoreIn:
			target = &data.InterStoreIn
		case domain.DataInterStoreOut:
			target = &data.InterStoreOut
		case domain.DataFlowers:
			target = &data.Flowers
		case domain.DataDirectProduce:
			target = &data.DirectProduce
		case domain.DataConsumables:
			target = &data.Consumables
		case domain.DataCategoryTimeSales:
			target = &data.CategoryTimeSales
		case domain.DataPrevYearCategoryTimeSales:
			target = &data.PrevYearCategoryTimeSales
		case domain.DataSettings:
			target = &data.Settings
		case domain.DataBudget:
			target = &data.Budget
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", dt, err)
		}
	}
	data.Normalize()
	return data, nil
}
