// Package domain defines the append-only ledger entry and its sign policy.
// The ledger is the sole source of truth for wallet balances; a balance may
// only change together with a matching entry.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/money"
)

// ErrInvariantViolation marks defects, not business rejections: wrong entry
// signs, balance drift, negative balances. It must never be retried.
var ErrInvariantViolation = errors.New("invariant violation")

type EntryType string

const (
	TypeDeposit    EntryType = "deposit"
	TypePayment    EntryType = "payment"
	TypeRefund     EntryType = "refund"
	TypeCommission EntryType = "commission"
	TypeAdjustment EntryType = "adjustment"
)

// Transaction is an immutable signed monetary movement. Refund entries link
// back to the payment entry they reverse via RelatedReference.
type Transaction struct {
	ID               int64
	Reference        uuid.UUID
	Type             EntryType
	UserID           string
	Amount           money.Money
	OrderID          *uuid.UUID
	PaymentID        *uuid.UUID
	RelatedReference *uuid.UUID
	CreatedAt        time.Time
}

// NewPayment records a charge. The charge must be a positive amount; the
// stored entry carries it negated per the sign policy.
func NewPayment(userID string, charge money.Money, orderID, paymentID uuid.UUID) (Transaction, error) {
	if !charge.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: payment charge must be positive, got %s", ErrInvariantViolation, charge)
	}
	return Transaction{
		Reference: uuid.New(),
		Type:      TypePayment,
		UserID:    userID,
		Amount:    charge.Neg(),
		OrderID:   &orderID,
		PaymentID: &paymentID,
	}, nil
}

// NewRefund reverses a payment entry: same magnitude, positive sign, linked
// to the original.
func NewRefund(original Transaction) (Transaction, error) {
	if original.Type != TypePayment {
		return Transaction{}, fmt.Errorf("%w: refund must reverse a payment entry, got %s", ErrInvariantViolation, original.Type)
	}
	ref := original.Reference
	return Transaction{
		Reference:        uuid.New(),
		Type:             TypeRefund,
		UserID:           original.UserID,
		Amount:           original.Amount.Abs(),
		OrderID:          original.OrderID,
		PaymentID:        original.PaymentID,
		RelatedReference: &ref,
	}, nil
}

func NewDeposit(userID string, amount money.Money) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: deposit must be positive, got %s", ErrInvariantViolation, amount)
	}
	return Transaction{
		Reference: uuid.New(),
		Type:      TypeDeposit,
		UserID:    userID,
		Amount:    amount,
	}, nil
}

// Validate enforces the sign policy. Wrong signs are rejected, never
// silently corrected.
func (t Transaction) Validate() error {
	switch t.Type {
	case TypePayment:
		if !t.Amount.IsNegative() {
			return fmt.Errorf("%w: %s entry must be negative, got %s", ErrInvariantViolation, t.Type, t.Amount)
		}
	case TypeDeposit, TypeRefund, TypeCommission:
		if !t.Amount.IsPositive() {
			return fmt.Errorf("%w: %s entry must be positive, got %s", ErrInvariantViolation, t.Type, t.Amount)
		}
	case TypeAdjustment:
		if t.Amount.IsZero() {
			return fmt.Errorf("%w: adjustment entry must be non-zero", ErrInvariantViolation)
		}
	default:
		return fmt.Errorf("%w: unknown entry type %q", ErrInvariantViolation, t.Type)
	}
	if t.Type == TypeRefund && t.RelatedReference == nil {
		return fmt.Errorf("%w: refund entry must link its original payment", ErrInvariantViolation)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: ledger entry without user", ErrInvariantViolation)
	}
	return nil
}
