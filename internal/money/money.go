// Package money represents monetary amounts as integer cents plus an ISO
// currency code. All arithmetic across two amounts requires matching
// currencies.
package money

import (
	"errors"
	"fmt"
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

type Money struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

func New(cents int64, currency string) Money {
	return Money{Cents: cents, Currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }

// Neg flips the sign of the amount.
func (m Money) Neg() Money {
	return Money{Cents: -m.Cents, Currency: m.Currency}
}

// Abs returns the magnitude of the amount.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.SameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents + other.Cents, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	return m.Add(other.Neg())
}

// Mul scales the amount by an integer quantity.
func (m Money) Mul(qty int) Money {
	return Money{Cents: m.Cents * int64(qty), Currency: m.Currency}
}

// SameCurrency reports ErrCurrencyMismatch when the currencies differ.
func (m Money) SameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func (m Money) String() string {
	sign := ""
	cents := m.Cents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, m.Currency)
}
