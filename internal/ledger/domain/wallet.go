package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/eleganza/commerce-core/internal/money"
)

// ErrInsufficientFunds is a normal business outcome of a wallet charge, not
// a defect.
var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// Wallet is a per-user balance cache derived from the ledger. Balance never
// goes negative; the check happens before any write.
type Wallet struct {
	UserID    string
	Balance   money.Money
	UpdatedAt time.Time
}

// Apply returns the balance after the entry. Insufficient funds are reported
// with ErrInsufficientFunds; a resulting negative balance from any other
// cause is an invariant violation.
func (w Wallet) Apply(t Transaction) (money.Money, error) {
	if err := w.Balance.SameCurrency(t.Amount); err != nil {
		return money.Money{}, err
	}
	next, err := w.Balance.Add(t.Amount)
	if err != nil {
		return money.Money{}, err
	}
	if next.IsNegative() {
		if t.Type == TypePayment {
			return money.Money{}, fmt.Errorf("%w: balance %s, charge %s", ErrInsufficientFunds, w.Balance, t.Amount.Abs())
		}
		return money.Money{}, fmt.Errorf("%w: %s entry would drive balance of %s negative", ErrInvariantViolation, t.Type, w.UserID)
	}
	return next, nil
}
