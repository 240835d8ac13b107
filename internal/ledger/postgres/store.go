// Package postgres persists ledger entries and the wallet balance cache.
// Wallet balances only move inside AppendToWallet, which writes the entry
// and the new balance under one row lock, keeping the "every balance delta
// has a matching entry" invariant structural.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eleganza/commerce-core/internal/ledger/domain"
	"github.com/eleganza/commerce-core/internal/money"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
)

var ErrWalletNotFound = errors.New("wallet not found")

type Store struct {
	log *slog.Logger
	db  *platform.DB
}

func NewStore(log *slog.Logger, db *platform.DB) *Store {
	return &Store{log: log, db: db}
}

// Append writes a ledger entry without touching any wallet. Used for cash
// movements the system only records.
func Append(ctx context.Context, tx pgx.Tx, entry domain.Transaction) (domain.Transaction, error) {
	if err := entry.Validate(); err != nil {
		return domain.Transaction{}, err
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (reference, entry_type, user_id, amount_cents, currency, order_id, payment_id, related_reference)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at`,
		entry.Reference, entry.Type, entry.UserID, entry.Amount.Cents, entry.Amount.Currency,
		entry.OrderID, entry.PaymentID, entry.RelatedReference,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	return entry, nil
}

// AppendToWallet locks the user's wallet row, applies the entry's signed
// amount to the balance, and writes entry plus balance in the same
// transaction. Returns the written entry and the new balance.
func AppendToWallet(ctx context.Context, tx pgx.Tx, entry domain.Transaction) (domain.Transaction, money.Money, error) {
	if err := entry.Validate(); err != nil {
		return domain.Transaction{}, money.Money{}, err
	}

	w, err := lockWallet(ctx, tx, entry.UserID)
	if err != nil {
		return domain.Transaction{}, money.Money{}, err
	}
	next, err := w.Apply(entry)
	if err != nil {
		return domain.Transaction{}, money.Money{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance_cents=$2, updated_at=$3 WHERE user_id=$1`,
		entry.UserID, next.Cents, time.Now().UTC()); err != nil {
		return domain.Transaction{}, money.Money{}, err
	}
	written, err := Append(ctx, tx, entry)
	if err != nil {
		return domain.Transaction{}, money.Money{}, err
	}
	return written, next, nil
}

// PaymentEntry locates the original payment entry for a payment.
func PaymentEntry(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (domain.Transaction, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT id, reference, entry_type, user_id, amount_cents, currency, order_id, payment_id, related_reference, created_at
		FROM ledger_transactions
		WHERE payment_id=$1 AND entry_type='payment'
		ORDER BY id LIMIT 1`, paymentID))
}

// RefundEntry returns the refund entry for a payment, if one exists.
func RefundEntry(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (domain.Transaction, bool, error) {
	entry, err := scanEntry(tx.QueryRow(ctx, `
		SELECT id, reference, entry_type, user_id, amount_cents, currency, order_id, payment_id, related_reference, created_at
		FROM ledger_transactions
		WHERE payment_id=$1 AND entry_type='refund'
		ORDER BY id LIMIT 1`, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return entry, true, nil
}

func lockWallet(ctx context.Context, tx pgx.Tx, userID string) (domain.Wallet, error) {
	var w domain.Wallet
	err := tx.QueryRow(ctx, `
		SELECT user_id, balance_cents, currency, updated_at
		FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).
		Scan(&w.UserID, &w.Balance.Cents, &w.Balance.Currency, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// EnsureWallet creates a zero-balance wallet for the user if none exists.
func (s *Store) EnsureWallet(ctx context.Context, userID, currency string) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO wallets (user_id, balance_cents, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, currency)
	return err
}

// Deposit credits a wallet through the ledger, creating the wallet first if
// needed.
func (s *Store) Deposit(ctx context.Context, userID string, amount money.Money) (domain.Transaction, error) {
	entry, err := domain.NewDeposit(userID, amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.EnsureWallet(ctx, userID, amount.Currency); err != nil {
		return domain.Transaction{}, err
	}
	var written domain.Transaction
	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		var balance money.Money
		written, balance, err = AppendToWallet(ctx, tx, entry)
		if err != nil {
			return err
		}
		s.log.Info("wallet deposit", "user_id", userID, "amount", amount.String(), "balance", balance.String())
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return written, nil
}

// Wallet reads the current balance without locking.
func (s *Store) Wallet(ctx context.Context, userID string) (domain.Wallet, error) {
	var w domain.Wallet
	err := s.db.Pool.QueryRow(ctx, `
		SELECT user_id, balance_cents, currency, updated_at
		FROM wallets WHERE user_id=$1`, userID).
		Scan(&w.UserID, &w.Balance.Cents, &w.Balance.Currency, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Entries lists a user's ledger history, newest first.
func (s *Store) Entries(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, reference, entry_type, user_id, amount_cents, currency, order_id, payment_id, related_reference, created_at
		FROM ledger_transactions
		WHERE user_id=$1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Transaction
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.Type, &t.UserID, &t.Amount.Cents, &t.Amount.Currency,
		&t.OrderID, &t.PaymentID, &t.RelatedReference, &t.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}
