package money

import (
	"errors"
	"testing"
)

func TestAddSameCurrency(t *testing.T) {
	got, err := New(1050, "LYD").Add(New(450, "LYD"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cents != 1500 || got.Currency != "LYD" {
		t.Fatalf("got %+v", got)
	}
}

func TestAddCurrencyMismatch(t *testing.T) {
	_, err := New(100, "LYD").Add(New(100, "USD"))
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("want ErrCurrencyMismatch, got %v", err)
	}
}

func TestNegAbs(t *testing.T) {
	m := New(-4000, "LYD")
	if m.Neg().Cents != 4000 {
		t.Fatalf("neg: %+v", m.Neg())
	}
	if m.Abs().Cents != 4000 {
		t.Fatalf("abs: %+v", m.Abs())
	}
	if !m.IsNegative() {
		t.Fatal("IsNegative")
	}
}

func TestMul(t *testing.T) {
	if got := New(250, "LYD").Mul(3); got.Cents != 750 {
		t.Fatalf("got %+v", got)
	}
}

func TestString(t *testing.T) {
	if s := New(-4005, "LYD").String(); s != "-40.05 LYD" {
		t.Fatalf("got %q", s)
	}
	if s := New(10000, "LYD").String(); s != "100.00 LYD" {
		t.Fatalf("got %q", s)
	}
}
