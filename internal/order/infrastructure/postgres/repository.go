// Package postgres executes order units of work. Each mutation runs in one
// transaction: the conditional status flip, inventory mutations, the audit
// row and the outbox event all commit or roll back together.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	inventorypg "github.com/eleganza/commerce-core/internal/inventory/infrastructure/postgres"
	"github.com/eleganza/commerce-core/internal/money"
	"github.com/eleganza/commerce-core/internal/order/domain"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
	"github.com/eleganza/commerce-core/pkg/tracing"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository struct {
	log *slog.Logger
	db  *platform.DB
}

func NewRepository(log *slog.Logger, db *platform.DB) *Repository {
	return &Repository{log: log, db: db}
}

// FlipStatus performs the guarded status update: it only succeeds when the
// row still holds the expected from status, so a concurrent transition makes
// the whole enclosing transaction fail instead of silently overwriting. An
// audit row is written with every flip.
func FlipStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, from, to domain.Status, actor string) error {
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2 AND deleted_at IS NULL`,
		orderID, from, to, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var current domain.Status
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}
		return &domain.InvalidTransitionError{From: current, To: to}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor)
		VALUES ($1,$2,$3,$4)`, orderID, from, to, actor)
	return err
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, customer, status, currency, total_cents, tax_cents, shipping_cents,
				shipping_address, billing_address, tracking_number, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			o.ID, o.Customer, o.Status, o.Currency, o.Total.Cents, o.Tax.Cents, o.Shipping.Cents,
			o.ShippingAddress, o.BillingAddress, o.TrackingNumber, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, item := range o.Items {
			batch.Queue(`INSERT INTO order_items (order_id, sku, quantity, price_cents) VALUES ($1,$2,$3,$4)`,
				o.ID, item.SKU, item.Quantity, item.Price.Cents)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderCreated{
			OrderID:    o.ID,
			Customer:   o.Customer,
			TotalCents: o.Total.Cents,
			Currency:   o.Currency,
			Items:      domain.EventItems(o.Items),
		})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderCreated", payload, tracing.Traceparent(ctx))
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, customer, status, currency, total_cents, tax_cents, shipping_cents,
			shipping_address, billing_address, tracking_number, created_at, updated_at, deleted_at
		FROM orders WHERE id=$1 AND deleted_at IS NULL`, id).
		Scan(&o.ID, &o.Customer, &o.Status, &o.Currency, &o.Total.Cents, &o.Tax.Cents, &o.Shipping.Cents,
			&o.ShippingAddress, &o.BillingAddress, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Total.Currency = o.Currency
	o.Tax.Currency = o.Currency
	o.Shipping.Currency = o.Currency

	rows, err := r.db.Pool.Query(ctx, `
		SELECT sku, quantity, price_cents FROM order_items WHERE order_id=$1 ORDER BY sku`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.Price.Cents); err != nil {
			return domain.Order{}, err
		}
		item.Price.Currency = o.Currency
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// Reserve locks every involved inventory row in sorted SKU order, places
// the holds, and flips the order to reserved. Any shortfall aborts the
// whole transaction.
func (r *Repository) Reserve(ctx context.Context, o domain.Order, actor string) (domain.Order, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, item := range sortedItems(o.Items) {
			if _, err := inventorypg.ReserveTx(ctx, tx, item.SKU, item.Quantity); err != nil {
				return err
			}
		}
		if err := FlipStatus(ctx, tx, o.ID, o.Status, domain.StatusReserved, actor); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OrderReserved{OrderID: o.ID, Items: domain.EventItems(o.Items)})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderReserved", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// Release restores the reserved counters and flips reserved to cancelled.
func (r *Repository) Release(ctx context.Context, o domain.Order, actor string) (domain.Order, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, item := range sortedItems(o.Items) {
			if _, err := inventorypg.ReleaseTx(ctx, tx, item.SKU, item.Quantity); err != nil {
				return err
			}
		}
		if err := FlipStatus(ctx, tx, o.ID, domain.StatusReserved, domain.StatusCancelled, actor); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OrderCancelled{
			OrderID:  o.ID,
			Previous: domain.StatusReserved,
			Released: domain.EventItems(o.Items),
		})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderCancelled", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// Fulfill deducts on-hand stock for every item and flips confirmed to
// fulfillment.
func (r *Repository) Fulfill(ctx context.Context, o domain.Order, actor string) (domain.Order, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, item := range sortedItems(o.Items) {
			if _, err := inventorypg.DeductTx(ctx, tx, item.SKU, item.Quantity); err != nil {
				return err
			}
		}
		if err := FlipStatus(ctx, tx, o.ID, domain.StatusConfirmed, domain.StatusFulfillment, actor); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, From: domain.StatusConfirmed, To: domain.StatusFulfillment})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderStatusChanged", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// Transition performs a stock-neutral status flip with audit and event.
func (r *Repository) Transition(ctx context.Context, o domain.Order, to domain.Status, actor string) (domain.Order, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := FlipStatus(ctx, tx, o.ID, o.Status, to, actor); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, From: o.Status, To: to})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderStatusChanged", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// Ship sets the tracking number together with the fulfillment -> shipped
// flip.
func (r *Repository) Ship(ctx context.Context, o domain.Order, trackingNumber, actor string) (domain.Order, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := FlipStatus(ctx, tx, o.ID, domain.StatusFulfillment, domain.StatusShipped, actor); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET tracking_number=$2 WHERE id=$1`, o.ID, trackingNumber); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.OrderShipped{OrderID: o.ID, TrackingNumber: trackingNumber})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "order", o.ID.String(), "OrderShipped", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, o.ID)
}

// PaidAmount sums completed payments for the order.
func (r *Repository) PaidAmount(ctx context.Context, id uuid.UUID, currency string) (money.Money, error) {
	var cents int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payments
		WHERE order_id=$1 AND status='completed'`, id).Scan(&cents)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(cents, currency), nil
}

// SoftDelete hides the order from reads without dropping the row, its items
// or its audit trail.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Pool.Exec(ctx, `
		UPDATE orders SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return nil
}

func (r *Repository) AuditTrail(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor, created_at
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.From, &c.To, &c.Actor, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// sortedItems returns items ordered by SKU so every unit of work acquires
// row locks in the same order.
func sortedItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}
