// Package domain defines payments and payment methods. A payment failure is
// a recorded business outcome, not an exception: the payment row is saved
// with status failed and the order stays where it was.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/money"
)

// ErrPaymentFailed is the caller-facing outcome of an unsuccessful payment,
// typically insufficient wallet funds.
var ErrPaymentFailed = errors.New("payment failed")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type MethodType string

const (
	MethodWallet MethodType = "wallet"
	MethodCash   MethodType = "cash"
)

// PaymentMethod belongs to one user. Wallet methods settle against the
// user's wallet; cash methods only record money collected out-of-band and
// carry a generated identifier plus an optional handling staff reference.
type PaymentMethod struct {
	ID             uuid.UUID
	UserID         string
	Type           MethodType
	CashIdentifier string
	HandledBy      string
	CreatedAt      time.Time
}

func NewWalletMethod(userID string) PaymentMethod {
	return PaymentMethod{ID: uuid.New(), UserID: userID, Type: MethodWallet, CreatedAt: time.Now().UTC()}
}

func NewCashMethod(userID, handledBy string) PaymentMethod {
	id := uuid.New()
	return PaymentMethod{
		ID:             id,
		UserID:         userID,
		Type:           MethodCash,
		CashIdentifier: fmt.Sprintf("CASH-%s", id.String()[:8]),
		HandledBy:      handledBy,
		CreatedAt:      time.Now().UTC(),
	}
}

type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	MethodID      uuid.UUID
	Amount        money.Money
	Status        Status
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPayment builds a pending payment for an order. The amount must be
// positive; sign handling belongs to the ledger.
func NewPayment(orderID uuid.UUID, method PaymentMethod, amount money.Money) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, fmt.Errorf("payment amount must be positive, got %s", amount)
	}
	now := time.Now().UTC()
	return Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		MethodID:  method.ID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
