package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/eleganza/commerce-core/internal/inventory/domain"
)

// BulkResult counts the outcome of a bulk adjustment. Failed rows are
// skipped, never corrupting the rest of their batch.
type BulkResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Service struct {
	log       *slog.Logger
	repo      StockRepository
	threshold int
	batchSize int
}

func NewService(log *slog.Logger, repo StockRepository, lowStockThreshold, bulkBatchSize int) *Service {
	if bulkBatchSize <= 0 {
		bulkBatchSize = 100
	}
	return &Service{log: log, repo: repo, threshold: lowStockThreshold, batchSize: bulkBatchSize}
}

func (s *Service) Ensure(ctx context.Context, sku string) error {
	return s.repo.Ensure(ctx, sku, s.threshold)
}

func (s *Service) Get(ctx context.Context, sku string) (domain.Inventory, error) {
	return s.repo.Get(ctx, sku)
}

// Adjust performs one manual stock correction with an audit reason.
func (s *Service) Adjust(ctx context.Context, sku string, newQuantity int, reason string) (domain.Inventory, error) {
	inv, err := s.repo.Adjust(ctx, sku, newQuantity, reason)
	if err != nil {
		return domain.Inventory{}, err
	}
	s.log.Info("stock adjusted", "sku", sku, "new_quantity", newQuantity, "reason", reason)
	return inv, nil
}

// BulkAdjust applies stock deltas in batches to bound lock hold time. Each
// batch commits as one atomic unit; failed rows inside a batch are skipped
// and counted.
func (s *Service) BulkAdjust(ctx context.Context, deltas map[string]int, reason string) (BulkResult, error) {
	if len(deltas) == 0 {
		return BulkResult{}, errors.New("no adjustments provided")
	}

	skus := make([]string, 0, len(deltas))
	for sku := range deltas {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var result BulkResult
	for start := 0; start < len(skus); start += s.batchSize {
		end := start + s.batchSize
		if end > len(skus) {
			end = len(skus)
		}
		batch := make(map[string]int, end-start)
		for _, sku := range skus[start:end] {
			batch[sku] = deltas[sku]
		}
		ok, failed, err := s.repo.AdjustBatch(ctx, batch, reason)
		if err != nil {
			return result, err
		}
		result.Succeeded += ok
		result.Failed += failed
	}
	s.log.Info("bulk adjustment done", "succeeded", result.Succeeded, "failed", result.Failed, "reason", reason)
	return result, nil
}

// LowStock lists items at or below the default threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.Inventory, error) {
	return s.repo.LowStockItems(ctx, s.threshold)
}

func (s *Service) History(ctx context.Context, sku string, limit int) ([]domain.History, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.History(ctx, sku, limit)
}
