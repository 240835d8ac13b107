// Package application orchestrates the order lifecycle. Every state change
// goes through the transition table; stock and payment side effects are
// explicit calls into the inventory and payment components, not implicit
// save hooks.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eleganza/commerce-core/internal/money"
	"github.com/eleganza/commerce-core/internal/order/domain"
	paymentdomain "github.com/eleganza/commerce-core/internal/payment/domain"
)

var ErrInactiveProduct = errors.New("product is not active")

// ItemRequest is one order line as submitted by the caller. The unit price
// is snapshotted from the catalog at creation time.
type ItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type Service struct {
	log      *slog.Logger
	repo     OrderRepository
	catalog  Catalog
	payments PaymentProcessor
	currency string
}

func NewService(log *slog.Logger, repo OrderRepository, catalog Catalog, payments PaymentProcessor, defaultCurrency string) *Service {
	return &Service{log: log, repo: repo, catalog: catalog, payments: payments, currency: defaultCurrency}
}

// Create builds a draft order, snapshotting each item's current catalog
// price.
func (s *Service) Create(ctx context.Context, customer string, reqs []ItemRequest, shippingAddr, billingAddr string) (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(reqs))
	for _, req := range reqs {
		active, err := s.catalog.Active(ctx, req.SKU)
		if err != nil {
			return domain.Order{}, err
		}
		if !active {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrInactiveProduct, req.SKU)
		}
		price, err := s.catalog.Price(ctx, req.SKU)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{SKU: req.SKU, Quantity: req.Quantity, Price: price})
	}

	o, err := domain.NewOrder(customer, items, money.Zero(s.currency), money.Zero(s.currency))
	if err != nil {
		return domain.Order{}, err
	}
	o.ShippingAddress = shippingAddr
	o.BillingAddress = billingAddr

	if err := s.repo.Create(ctx, o); err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", "order_id", o.ID, "customer", customer, "total", o.Total.String())
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// Submit moves a draft order to pending.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	return s.transition(ctx, id, domain.StatusPending, actor)
}

// Reserve places soft holds on every line item, all or nothing. Valid from
// draft or pending.
func (s *Service) Reserve(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckTransition(o.Status, domain.StatusReserved); err != nil {
		return domain.Order{}, err
	}
	reserved, err := s.repo.Reserve(ctx, o, actor)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order reserved", "order_id", id, "items", len(o.Items))
	return reserved, nil
}

// Confirm settles payment for a reserved order. On payment failure the
// order stays reserved and ErrPaymentFailed is returned.
func (s *Service) Confirm(ctx context.Context, id, methodID uuid.UUID, actor string) (domain.Order, paymentdomain.Payment, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, paymentdomain.Payment{}, err
	}
	if err := domain.CheckTransition(o.Status, domain.StatusConfirmed); err != nil {
		return domain.Order{}, paymentdomain.Payment{}, err
	}

	p, err := s.payments.Process(ctx, o, methodID, actor)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentFailed) {
			s.log.Info("order confirmation rejected", "order_id", id, "reason", p.FailureReason)
		} else {
			s.log.Error("payment processing error", "order_id", id, "err", err)
		}
		return o, p, err
	}

	confirmed, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, p, err
	}
	s.log.Info("order confirmed", "order_id", id, "payment_id", p.ID)
	return confirmed, p, nil
}

// Cancel moves the order to cancelled, releasing reserved stock when the
// order holds any. Stock already deducted at fulfillment is not returned
// automatically; that is a manual inventory adjustment.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckTransition(o.Status, domain.StatusCancelled); err != nil {
		return domain.Order{}, err
	}
	if o.Status == domain.StatusReserved {
		cancelled, err := s.repo.Release(ctx, o, actor)
		if err != nil {
			return domain.Order{}, err
		}
		s.log.Info("order cancelled, stock released", "order_id", id)
		return cancelled, nil
	}
	return s.transition(ctx, id, domain.StatusCancelled, actor)
}

// Reopen returns a cancelled order to draft, keeping its items and price
// snapshots. A fresh reservation is required before confirming again.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	return s.transition(ctx, id, domain.StatusDraft, actor)
}

// BeginFulfillment converts the order's reservations into real stock
// deductions.
func (s *Service) BeginFulfillment(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckTransition(o.Status, domain.StatusFulfillment); err != nil {
		return domain.Order{}, err
	}
	fulfilled, err := s.repo.Fulfill(ctx, o, actor)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order fulfillment started", "order_id", id)
	return fulfilled, nil
}

// Ship records the tracking number and marks the order shipped.
func (s *Service) Ship(ctx context.Context, id uuid.UUID, trackingNumber, actor string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckTransition(o.Status, domain.StatusShipped); err != nil {
		return domain.Order{}, err
	}
	return s.repo.Ship(ctx, o, trackingNumber, actor)
}

// Complete closes a shipped order.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error) {
	return s.transition(ctx, id, domain.StatusCompleted, actor)
}

// Delete soft deletes an order. Only draft and cancelled orders can be
// deleted; anything holding stock or money must be cancelled or refunded
// first.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusDraft && o.Status != domain.StatusCancelled {
		return fmt.Errorf("order %s is %s, only draft or cancelled orders can be deleted", id, o.Status)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info("order deleted", "order_id", id, "actor", actor)
	return nil
}

// RemainingBalance is the order total minus completed payments.
func (s *Service) RemainingBalance(ctx context.Context, id uuid.UUID) (money.Money, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return money.Money{}, err
	}
	paid, err := s.repo.PaidAmount(ctx, id, o.Currency)
	if err != nil {
		return money.Money{}, err
	}
	return o.Total.Sub(paid)
}

// AuditTrail returns the order's status change history.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	return s.repo.AuditTrail(ctx, id)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.Status, actor string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := domain.CheckTransition(o.Status, to); err != nil {
		return domain.Order{}, err
	}
	next, err := s.repo.Transition(ctx, o, to, actor)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order status changed", "order_id", id, "from", o.Status, "to", to, "actor", actor)
	return next, nil
}
