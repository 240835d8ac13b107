package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/money"
	"github.com/eleganza/commerce-core/internal/order/domain"
	paymentdomain "github.com/eleganza/commerce-core/internal/payment/domain"
)

// OrderRepository executes each order unit of work as one transaction:
// status flip, stock mutation, audit row and outbox event commit or roll
// back together.
type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	// Reserve locks all inventory rows for the order (sorted by SKU),
	// places the holds and flips the status to reserved.
	Reserve(ctx context.Context, o domain.Order, actor string) (domain.Order, error)
	// Release returns the holds and flips reserved to cancelled.
	Release(ctx context.Context, o domain.Order, actor string) (domain.Order, error)
	// Fulfill deducts on-hand stock and flips confirmed to fulfillment.
	Fulfill(ctx context.Context, o domain.Order, actor string) (domain.Order, error)
	// Transition performs a stock-neutral status flip.
	Transition(ctx context.Context, o domain.Order, to domain.Status, actor string) (domain.Order, error)
	// Ship records the tracking number and flips fulfillment to shipped.
	Ship(ctx context.Context, o domain.Order, trackingNumber, actor string) (domain.Order, error)
	// PaidAmount sums the order's completed payments.
	PaidAmount(ctx context.Context, id uuid.UUID, currency string) (money.Money, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error)
	// SoftDelete stamps deleted_at; the row and its history stay in place.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// Catalog is the read-only product collaborator.
type Catalog interface {
	Price(ctx context.Context, sku string) (money.Money, error)
	Active(ctx context.Context, sku string) (bool, error)
}

// PaymentProcessor settles an order's total against a payment method. On
// success it also flips the order to confirmed inside its own transaction.
type PaymentProcessor interface {
	Process(ctx context.Context, o domain.Order, methodID uuid.UUID, actor string) (paymentdomain.Payment, error)
}
