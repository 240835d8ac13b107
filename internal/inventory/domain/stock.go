// Package domain holds per-SKU stock state and the reserved-counter model:
// a reservation is a soft hold that reduces available stock without touching
// the on-hand count; only fulfillment deducts on-hand stock.
package domain

import (
	"fmt"
	"time"
)

type Inventory struct {
	SKU               string
	StockQuantity     int
	ReservedStock     int
	LowStockThreshold int
	LastRestock       time.Time
	UpdatedAt         time.Time
}

// History is one append-only audit row, written on every stock mutation.
type History struct {
	ID          int64
	SKU         string
	OldStock    int
	NewStock    int
	OldReserved int
	NewReserved int
	Reason      string
	CreatedAt   time.Time
}

// InsufficientStockError reports a reservation or deduction shortfall. It is
// a normal business rejection.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Available is on-hand minus reserved, floored at zero.
func (inv Inventory) Available() int {
	if a := inv.StockQuantity - inv.ReservedStock; a > 0 {
		return a
	}
	return 0
}

// LowStock reports whether available stock has reached the threshold.
func (inv Inventory) LowStock() bool {
	return inv.Available() <= inv.LowStockThreshold
}

// Reserve places a soft hold on qty units.
func (inv Inventory) Reserve(qty int) (Inventory, History, error) {
	if qty <= 0 {
		return Inventory{}, History{}, fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}
	if inv.Available() < qty {
		return Inventory{}, History{}, &InsufficientStockError{SKU: inv.SKU, Requested: qty, Available: inv.Available()}
	}
	next := inv
	next.ReservedStock += qty
	return next, inv.diff(next, fmt.Sprintf("reserve %d", qty)), nil
}

// Release returns qty previously reserved units to the available pool.
func (inv Inventory) Release(qty int) (Inventory, History, error) {
	if qty <= 0 {
		return Inventory{}, History{}, fmt.Errorf("release quantity must be positive, got %d", qty)
	}
	if qty > inv.ReservedStock {
		return Inventory{}, History{}, fmt.Errorf("release %d exceeds reserved %d for %s", qty, inv.ReservedStock, inv.SKU)
	}
	next := inv
	next.ReservedStock -= qty
	return next, inv.diff(next, fmt.Sprintf("release %d", qty)), nil
}

// Deduct converts qty reserved units into a real on-hand reduction at
// fulfillment time.
func (inv Inventory) Deduct(qty int) (Inventory, History, error) {
	if qty <= 0 {
		return Inventory{}, History{}, fmt.Errorf("deduct quantity must be positive, got %d", qty)
	}
	if inv.StockQuantity < qty {
		return Inventory{}, History{}, &InsufficientStockError{SKU: inv.SKU, Requested: qty, Available: inv.StockQuantity}
	}
	next := inv
	next.StockQuantity -= qty
	if next.ReservedStock > qty {
		next.ReservedStock -= qty
	} else {
		next.ReservedStock = 0
	}
	return next, inv.diff(next, fmt.Sprintf("deduct %d", qty)), nil
}

// Adjust sets the on-hand count to an absolute value (manual correction or
// restock). Reserved stock above the new count is invalid.
func (inv Inventory) Adjust(newQuantity int, reason string) (Inventory, History, error) {
	if newQuantity < 0 {
		return Inventory{}, History{}, fmt.Errorf("stock quantity cannot be negative, got %d", newQuantity)
	}
	if newQuantity < inv.ReservedStock {
		return Inventory{}, History{}, fmt.Errorf("adjust to %d would undercut reserved %d for %s", newQuantity, inv.ReservedStock, inv.SKU)
	}
	next := inv
	next.StockQuantity = newQuantity
	if reason == "" {
		reason = "manual adjustment"
	}
	return next, inv.diff(next, reason), nil
}

func (inv Inventory) diff(next Inventory, reason string) History {
	return History{
		SKU:         inv.SKU,
		OldStock:    inv.StockQuantity,
		NewStock:    next.StockQuantity,
		OldReserved: inv.ReservedStock,
		NewReserved: next.ReservedStock,
		Reason:      reason,
	}
}
