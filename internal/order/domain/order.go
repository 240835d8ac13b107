// Package domain defines the order aggregate and its status state machine.
// The transition table is fixed and exhaustive; anything not listed is
// rejected before any write.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/money"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusPending     Status = "pending"
	StatusReserved    Status = "reserved"
	StatusConfirmed   Status = "confirmed"
	StatusFulfillment Status = "fulfillment"
	StatusShipped     Status = "shipped"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError names the rejected edge. It unwraps to
// ErrInvalidTransition.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// validNext is the complete transition table. Cancellation is reachable from
// draft, pending, reserved and fulfillment; a cancelled order can be
// reopened to draft; refunded is terminal and only follows confirmed.
var validNext = map[Status]map[Status]bool{
	StatusDraft:       {StatusPending: true, StatusReserved: true, StatusCancelled: true},
	StatusPending:     {StatusReserved: true, StatusCancelled: true},
	StatusReserved:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:   {StatusFulfillment: true, StatusRefunded: true},
	StatusFulfillment: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:     {StatusCompleted: true},
	StatusCompleted:   {},
	StatusCancelled:   {StatusDraft: true},
	StatusRefunded:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition returns a typed rejection for edges outside the table.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

type Order struct {
	ID              uuid.UUID
	Customer        string
	Status          Status
	Currency        string
	Total           money.Money
	Tax             money.Money
	Shipping        money.Money
	Items           []OrderItem
	ShippingAddress string
	BillingAddress  string
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// OrderItem snapshots the unit price at creation time; it never tracks the
// live catalog price afterwards.
type OrderItem struct {
	SKU      string
	Quantity int
	Price    money.Money
}

func (i OrderItem) Subtotal() money.Money {
	return i.Price.Mul(i.Quantity)
}

// StatusChange is one append-only audit trail row.
type StatusChange struct {
	ID        int64
	OrderID   uuid.UUID
	From      Status
	To        Status
	Actor     string
	CreatedAt time.Time
}

// NewOrder builds a draft order. Every monetary field must share one
// currency and every item quantity must be at least one.
func NewOrder(customer string, items []OrderItem, tax, shipping money.Money) (Order, error) {
	if customer == "" {
		return Order{}, errors.New("order requires a customer")
	}
	if len(items) == 0 {
		return Order{}, errors.New("order requires at least one item")
	}
	if err := tax.SameCurrency(shipping); err != nil {
		return Order{}, err
	}

	total := money.Zero(tax.Currency)
	for _, item := range items {
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("item %s: quantity must be at least 1, got %d", item.SKU, item.Quantity)
		}
		var err error
		total, err = total.Add(item.Subtotal())
		if err != nil {
			return Order{}, fmt.Errorf("item %s: %w", item.SKU, err)
		}
	}
	total, err := total.Add(tax)
	if err != nil {
		return Order{}, err
	}
	total, err = total.Add(shipping)
	if err != nil {
		return Order{}, err
	}

	now := time.Now().UTC()
	return Order{
		ID:        uuid.New(),
		Customer:  customer,
		Status:    StatusDraft,
		Currency:  total.Currency,
		Total:     total,
		Tax:       tax,
		Shipping:  shipping,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition validates the edge and returns the order in its new status.
func (o Order) Transition(to Status) (Order, error) {
	if err := CheckTransition(o.Status, to); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = to
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
