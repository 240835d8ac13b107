package domain

import (
	"errors"
	"testing"
)

func TestAvailableFloorsAtZero(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 3, ReservedStock: 3}
	if inv.Available() != 0 {
		t.Fatalf("available = %d", inv.Available())
	}
}

func TestReserve(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 10}

	next, h, err := inv.Reserve(6)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if next.ReservedStock != 6 || next.StockQuantity != 10 {
		t.Fatalf("reserve must not touch on-hand: %+v", next)
	}
	if next.Available() != 4 {
		t.Fatalf("available = %d", next.Available())
	}
	if h.OldReserved != 0 || h.NewReserved != 6 || h.NewStock != 10 {
		t.Fatalf("history: %+v", h)
	}

	// Requesting more than available names the SKU in the failure.
	_, _, err = next.Reserve(5)
	var shortfall *InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
	if shortfall.SKU != "X" || shortfall.Requested != 5 || shortfall.Available != 4 {
		t.Fatalf("shortfall: %+v", shortfall)
	}
}

func TestReleaseRestoresReserved(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 10, ReservedStock: 6}
	next, _, err := inv.Release(6)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if next.ReservedStock != 0 || next.StockQuantity != 10 {
		t.Fatalf("after release: %+v", next)
	}
	if _, _, err := next.Release(1); err == nil {
		t.Fatal("releasing more than reserved must fail")
	}
}

func TestDeductReducesOnHandAndReserved(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 10, ReservedStock: 6}
	next, h, err := inv.Deduct(6)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if next.StockQuantity != 4 || next.ReservedStock != 0 {
		t.Fatalf("after deduct: %+v", next)
	}
	if h.OldStock != 10 || h.NewStock != 4 {
		t.Fatalf("history: %+v", h)
	}
}

func TestDeductShortfall(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 2}
	_, _, err := inv.Deduct(3)
	var shortfall *InsufficientStockError
	if !errors.As(err, &shortfall) {
		t.Fatalf("want InsufficientStockError, got %v", err)
	}
}

func TestAdjust(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 10, ReservedStock: 4}

	next, h, err := inv.Adjust(20, "restock")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if next.StockQuantity != 20 || next.ReservedStock != 4 {
		t.Fatalf("after adjust: %+v", next)
	}
	if h.Reason != "restock" {
		t.Fatalf("history reason: %q", h.Reason)
	}

	if _, _, err := inv.Adjust(-1, ""); err == nil {
		t.Fatal("negative quantity must fail")
	}
	if _, _, err := inv.Adjust(3, ""); err == nil {
		t.Fatal("adjust below reserved must fail")
	}
}

func TestLowStock(t *testing.T) {
	inv := Inventory{SKU: "X", StockQuantity: 10, ReservedStock: 5, LowStockThreshold: 5}
	if !inv.LowStock() {
		t.Fatal("available 5 at threshold 5 is low")
	}
	inv.ReservedStock = 4
	if inv.LowStock() {
		t.Fatal("available 6 above threshold 5 is not low")
	}
}
