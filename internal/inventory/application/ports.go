package application

import (
	"context"

	"github.com/eleganza/commerce-core/internal/inventory/domain"
)

type StockRepository interface {
	Ensure(ctx context.Context, sku string, threshold int) error
	Get(ctx context.Context, sku string) (domain.Inventory, error)
	Adjust(ctx context.Context, sku string, newQuantity int, reason string) (domain.Inventory, error)
	AdjustBatch(ctx context.Context, deltas map[string]int, reason string) (succeeded, failed int, err error)
	LowStockItems(ctx context.Context, threshold int) ([]domain.Inventory, error)
	History(ctx context.Context, sku string, limit int) ([]domain.History, error)
}
