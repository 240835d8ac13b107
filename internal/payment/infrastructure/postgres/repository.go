// Package postgres executes payment settlement. The wallet path locks the
// wallet row, debits it through the ledger, marks the payment completed and
// flips the order to confirmed, all in one transaction. Insufficient funds
// roll that back and record the payment as failed instead; that outcome is
// returned, not raised. Any other non-retryable failure records the failed
// payment too and re-raises the cause.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ledgerdomain "github.com/eleganza/commerce-core/internal/ledger/domain"
	ledgerpg "github.com/eleganza/commerce-core/internal/ledger/postgres"
	orderdomain "github.com/eleganza/commerce-core/internal/order/domain"
	orderpg "github.com/eleganza/commerce-core/internal/order/infrastructure/postgres"
	"github.com/eleganza/commerce-core/internal/payment/domain"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
	"github.com/eleganza/commerce-core/pkg/tracing"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrMethodNotFound  = errors.New("payment method not found")
)

type Repository struct {
	log *slog.Logger
	db  *platform.DB
}

func NewRepository(log *slog.Logger, db *platform.DB) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) SaveMethod(ctx context.Context, m domain.PaymentMethod) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO payment_methods (id, user_id, method_type, cash_identifier, handled_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.UserID, m.Type, m.CashIdentifier, m.HandledBy, m.CreatedAt)
	return err
}

func (r *Repository) GetMethod(ctx context.Context, id uuid.UUID) (domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, method_type, cash_identifier, handled_by, created_at
		FROM payment_methods WHERE id=$1`, id).
		Scan(&m.ID, &m.UserID, &m.Type, &m.CashIdentifier, &m.HandledBy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentMethod{}, fmt.Errorf("%w: %s", ErrMethodNotFound, id)
	}
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	return m, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	var p domain.Payment
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, order_id, method_id, amount_cents, currency, status, failure_reason, created_at, updated_at
		FROM payments WHERE id=$1`, id).
		Scan(&p.ID, &p.OrderID, &p.MethodID, &p.Amount.Cents, &p.Amount.Currency, &p.Status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

// ProcessWallet settles against the user's wallet.
func (r *Repository) ProcessWallet(ctx context.Context, p domain.Payment, method domain.PaymentMethod, orderStatus orderdomain.Status, actor string) (domain.Payment, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}
		entry, err := ledgerdomain.NewPayment(method.UserID, p.Amount, p.OrderID, p.ID)
		if err != nil {
			return err
		}
		if _, _, err := ledgerpg.AppendToWallet(ctx, tx, entry); err != nil {
			return err
		}
		return completePayment(ctx, tx, p, method, orderStatus, actor)
	})
	if err != nil {
		return r.settleFailure(ctx, p, err)
	}
	p.Status = domain.StatusCompleted
	return p, nil
}

// ProcessCash records an out-of-band cash collection: ledger entry and
// completed payment, no wallet involved.
func (r *Repository) ProcessCash(ctx context.Context, p domain.Payment, method domain.PaymentMethod, orderStatus orderdomain.Status, actor string) (domain.Payment, error) {
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}
		entry, err := ledgerdomain.NewPayment(method.UserID, p.Amount, p.OrderID, p.ID)
		if err != nil {
			return err
		}
		if _, err := ledgerpg.Append(ctx, tx, entry); err != nil {
			return err
		}
		return completePayment(ctx, tx, p, method, orderStatus, actor)
	})
	if err != nil {
		return r.settleFailure(ctx, p, err)
	}
	p.Status = domain.StatusCompleted
	return p, nil
}

// Refund reverses a completed payment. If a refund entry already exists for
// the payment the call is a no-op returning that entry, so repeated refund
// requests settle exactly once.
func (r *Repository) Refund(ctx context.Context, p domain.Payment, method domain.PaymentMethod, actor string) (ledgerdomain.Transaction, error) {
	var refund ledgerdomain.Transaction
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		existing, found, err := ledgerpg.RefundEntry(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if found {
			refund = existing
			return nil
		}

		original, err := ledgerpg.PaymentEntry(ctx, tx, p.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: completed payment %s has no ledger entry", ledgerdomain.ErrInvariantViolation, p.ID)
		}
		if err != nil {
			return err
		}
		entry, err := ledgerdomain.NewRefund(original)
		if err != nil {
			return err
		}

		if method.Type == domain.MethodWallet {
			refund, _, err = ledgerpg.AppendToWallet(ctx, tx, entry)
		} else {
			refund, err = ledgerpg.Append(ctx, tx, entry)
		}
		if err != nil {
			return err
		}

		ct, err := tx.Exec(ctx, `
			UPDATE payments SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
			p.ID, domain.StatusRefunded, time.Now().UTC(), domain.StatusCompleted)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("payment %s changed status during refund", p.ID)
		}
		if err := orderpg.FlipStatus(ctx, tx, p.OrderID, orderdomain.StatusConfirmed, orderdomain.StatusRefunded, actor); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.PaymentRefunded{
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			AmountCents: refund.Amount.Cents,
			Currency:    refund.Amount.Currency,
		})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "payment", p.ID.String(), "PaymentRefunded", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	return refund, nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, p domain.Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, method_id, amount_cents, currency, status, failure_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.OrderID, p.MethodID, p.Amount.Cents, p.Amount.Currency, p.Status, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	return err
}

// completePayment marks the payment completed, flips the order to confirmed
// and emits the settlement events.
func completePayment(ctx context.Context, tx pgx.Tx, p domain.Payment, method domain.PaymentMethod, orderStatus orderdomain.Status, actor string) error {
	_, err := tx.Exec(ctx, `UPDATE payments SET status=$2, updated_at=$3 WHERE id=$1`,
		p.ID, domain.StatusCompleted, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := orderpg.FlipStatus(ctx, tx, p.OrderID, orderStatus, orderdomain.StatusConfirmed, actor); err != nil {
		return err
	}

	completed, err := json.Marshal(domain.PaymentCompleted{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		AmountCents: p.Amount.Cents,
		Currency:    p.Amount.Currency,
		Method:      string(method.Type),
	})
	if err != nil {
		return err
	}
	if err := platform.InsertOutbox(ctx, tx, "payment", p.ID.String(), "PaymentCompleted", completed, tracing.Traceparent(ctx)); err != nil {
		return err
	}
	confirmed, err := json.Marshal(orderdomain.OrderConfirmed{OrderID: p.OrderID, PaymentID: p.ID})
	if err != nil {
		return err
	}
	return platform.InsertOutbox(ctx, tx, "order", p.OrderID.String(), "OrderConfirmed", confirmed, tracing.Traceparent(ctx))
}

// settleFailure handles a rolled-back settlement. Insufficient funds is a
// business outcome: the payment is recorded as failed and no error surfaces.
// Other failures also leave a failed payment behind, but the original error
// is re-raised, except for retryable contention and cancellation, where the
// attempt may simply run again and nothing is recorded.
func (r *Repository) settleFailure(ctx context.Context, p domain.Payment, cause error) (domain.Payment, error) {
	if errors.Is(cause, ledgerdomain.ErrInsufficientFunds) {
		return r.recordFailed(ctx, p, cause.Error())
	}
	if retryable(cause) {
		return p, cause
	}
	failed, err := r.recordFailed(ctx, p, cause.Error())
	if err != nil {
		r.log.Error("recording failed payment", "payment_id", p.ID, "err", err)
		return p, cause
	}
	return failed, cause
}

// retryable reports settlement errors that must not produce a failed payment
// row because the same attempt can be retried as-is.
func retryable(err error) bool {
	if errors.Is(err, platform.ErrLockTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

const serializationFailure = "40001"

// recordFailed persists the failed outcome in its own transaction after the
// settlement attempt rolled back.
func (r *Repository) recordFailed(ctx context.Context, p domain.Payment, reason string) (domain.Payment, error) {
	p.Status = domain.StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := insertPayment(ctx, tx, p); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.PaymentFailed{PaymentID: p.ID, OrderID: p.OrderID, Reason: reason})
		if err != nil {
			return err
		}
		return platform.InsertOutbox(ctx, tx, "payment", p.ID.String(), "PaymentFailed", payload, tracing.Traceparent(ctx))
	})
	if err != nil {
		return p, err
	}
	r.log.Info("payment failed", "payment_id", p.ID, "order_id", p.OrderID, "reason", reason)
	return p, nil
}
