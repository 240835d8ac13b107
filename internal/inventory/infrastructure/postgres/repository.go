// Package postgres persists inventory rows. The exported Tx functions run
// against the caller's transaction so order units of work can lock and
// mutate stock atomically with their own writes; the Repository wraps them
// for standalone inventory operations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eleganza/commerce-core/internal/inventory/domain"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
	"github.com/eleganza/commerce-core/pkg/tracing"
)

var ErrSKUNotFound = errors.New("sku not found in inventory")

// LockRow reads one inventory row under FOR UPDATE. Concurrent mutations of
// the same SKU serialize here.
func LockRow(ctx context.Context, tx pgx.Tx, sku string) (domain.Inventory, error) {
	var inv domain.Inventory
	err := tx.QueryRow(ctx, `
		SELECT sku, stock_quantity, reserved_stock, low_stock_threshold, last_restock, updated_at
		FROM inventory WHERE sku=$1 FOR UPDATE`, sku).
		Scan(&inv.SKU, &inv.StockQuantity, &inv.ReservedStock, &inv.LowStockThreshold, &inv.LastRestock, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, fmt.Errorf("%w: %s", ErrSKUNotFound, sku)
	}
	if err != nil {
		return domain.Inventory{}, err
	}
	return inv, nil
}

// ReserveTx locks the row and places a soft hold.
func ReserveTx(ctx context.Context, tx pgx.Tx, sku string, qty int) (domain.Inventory, error) {
	return mutate(ctx, tx, sku, func(inv domain.Inventory) (domain.Inventory, domain.History, error) {
		return inv.Reserve(qty)
	})
}

// ReleaseTx locks the row and returns reserved units to the pool.
func ReleaseTx(ctx context.Context, tx pgx.Tx, sku string, qty int) (domain.Inventory, error) {
	return mutate(ctx, tx, sku, func(inv domain.Inventory) (domain.Inventory, domain.History, error) {
		return inv.Release(qty)
	})
}

// DeductTx locks the row and converts reserved units into an on-hand
// reduction.
func DeductTx(ctx context.Context, tx pgx.Tx, sku string, qty int) (domain.Inventory, error) {
	return mutate(ctx, tx, sku, func(inv domain.Inventory) (domain.Inventory, domain.History, error) {
		return inv.Deduct(qty)
	})
}

// AdjustTx locks the row and sets an absolute on-hand count.
func AdjustTx(ctx context.Context, tx pgx.Tx, sku string, newQuantity int, reason string) (domain.Inventory, error) {
	return mutate(ctx, tx, sku, func(inv domain.Inventory) (domain.Inventory, domain.History, error) {
		return inv.Adjust(newQuantity, reason)
	})
}

func mutate(ctx context.Context, tx pgx.Tx, sku string, op func(domain.Inventory) (domain.Inventory, domain.History, error)) (domain.Inventory, error) {
	inv, err := LockRow(ctx, tx, sku)
	if err != nil {
		return domain.Inventory{}, err
	}
	next, hist, err := op(inv)
	if err != nil {
		return domain.Inventory{}, err
	}
	if err := save(ctx, tx, inv, next, hist); err != nil {
		return domain.Inventory{}, err
	}
	return next, nil
}

// save writes the mutated row, its history entry, and a StockLow outbox row
// when the mutation crosses the threshold.
func save(ctx context.Context, tx pgx.Tx, prev, next domain.Inventory, hist domain.History) error {
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		UPDATE inventory SET stock_quantity=$2, reserved_stock=$3, updated_at=$4
		WHERE sku=$1`,
		next.SKU, next.StockQuantity, next.ReservedStock, now)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_history (sku, old_stock, new_stock, old_reserved, new_reserved, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		hist.SKU, hist.OldStock, hist.NewStock, hist.OldReserved, hist.NewReserved, hist.Reason)
	if err != nil {
		return err
	}

	if next.LowStock() && !prev.LowStock() {
		payload, err := json.Marshal(domain.StockLow{
			SKU:       next.SKU,
			Available: next.Available(),
			Threshold: next.LowStockThreshold,
		})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "inventory", next.SKU, "StockLow", payload, tracing.Traceparent(ctx))
	}
	return nil
}

type Repository struct {
	log *slog.Logger
	db  *platform.DB
}

func NewRepository(log *slog.Logger, db *platform.DB) *Repository {
	return &Repository{log: log, db: db}
}

// Ensure creates an inventory row for the SKU if none exists.
func (r *Repository) Ensure(ctx context.Context, sku string, threshold int) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO inventory (sku, stock_quantity, reserved_stock, low_stock_threshold)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (sku) DO NOTHING`, sku, threshold)
	return err
}

func (r *Repository) Get(ctx context.Context, sku string) (domain.Inventory, error) {
	var inv domain.Inventory
	err := r.db.Pool.QueryRow(ctx, `
		SELECT sku, stock_quantity, reserved_stock, low_stock_threshold, last_restock, updated_at
		FROM inventory WHERE sku=$1`, sku).
		Scan(&inv.SKU, &inv.StockQuantity, &inv.ReservedStock, &inv.LowStockThreshold, &inv.LastRestock, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, fmt.Errorf("%w: %s", ErrSKUNotFound, sku)
	}
	if err != nil {
		return domain.Inventory{}, err
	}
	return inv, nil
}

// Adjust runs one manual correction in its own transaction and publishes
// StockAdjusted.
func (r *Repository) Adjust(ctx context.Context, sku string, newQuantity int, reason string) (domain.Inventory, error) {
	var next domain.Inventory
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		inv, err := LockRow(ctx, tx, sku)
		if err != nil {
			return err
		}
		adjusted, hist, err := inv.Adjust(newQuantity, reason)
		if err != nil {
			return err
		}
		if err := save(ctx, tx, inv, adjusted, hist); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE inventory SET last_restock=now() WHERE sku=$1`, sku); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.StockAdjusted{
			SKU: sku, OldStock: inv.StockQuantity, NewStock: adjusted.StockQuantity, Reason: reason,
		})
		if err != nil {
			return err
		}
		next = adjusted
		return platform.InsertOutbox(ctx, tx, "inventory", sku, "StockAdjusted", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Inventory{}, err
	}
	return next, nil
}

// AdjustBatch applies deltas to one batch of SKUs in a single transaction.
// Rows are locked in sorted SKU order; rows that would go invalid are
// skipped and counted, never aborting the batch.
func (r *Repository) AdjustBatch(ctx context.Context, deltas map[string]int, reason string) (succeeded, failed int, err error) {
	skus := make([]string, 0, len(deltas))
	for sku := range deltas {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	err = r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, sku := range skus {
			inv, err := LockRow(ctx, tx, sku)
			if err != nil {
				if errors.Is(err, ErrSKUNotFound) {
					failed++
					continue
				}
				return err
			}
			adjusted, hist, err := inv.Adjust(inv.StockQuantity+deltas[sku], reason)
			if err != nil {
				failed++
				continue
			}
			if err := save(ctx, tx, inv, adjusted, hist); err != nil {
				return err
			}
			succeeded++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return succeeded, failed, nil
}

// LowStockItems lists rows at or below the given threshold, most depleted
// first.
func (r *Repository) LowStockItems(ctx context.Context, threshold int) ([]domain.Inventory, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT sku, stock_quantity, reserved_stock, low_stock_threshold, last_restock, updated_at
		FROM inventory
		WHERE stock_quantity - reserved_stock <= $1
		ORDER BY stock_quantity - reserved_stock, sku`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Inventory
	for rows.Next() {
		var inv domain.Inventory
		if err := rows.Scan(&inv.SKU, &inv.StockQuantity, &inv.ReservedStock, &inv.LowStockThreshold, &inv.LastRestock, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// History returns the audit trail for a SKU, newest first.
func (r *Repository) History(ctx context.Context, sku string, limit int) ([]domain.History, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, sku, old_stock, new_stock, old_reserved, new_reserved, reason, created_at
		FROM inventory_history
		WHERE sku=$1 ORDER BY id DESC LIMIT $2`, sku, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.History
	for rows.Next() {
		var h domain.History
		if err := rows.Scan(&h.ID, &h.SKU, &h.OldStock, &h.NewStock, &h.OldReserved, &h.NewReserved, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
