// Package postgres owns the connection pool and the transaction boundary all
// multi-row units of work run through.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLockTimeout is returned when a row lock could not be acquired within the
// configured bound. Callers may retry the whole unit of work.
var ErrLockTimeout = errors.New("row lock wait timed out")

const lockNotAvailable = "55P03"

type DB struct {
	Pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func Connect(ctx context.Context, url string, lockTimeout time.Duration) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return &DB{Pool: pool, lockTimeout: lockTimeout}, nil
}

func (db *DB) Close() { db.Pool.Close() }

// InTx runs fn inside one transaction with a bounded lock wait. Any error
// from fn rolls back every write in the boundary. Lock wait expiry maps to
// ErrLockTimeout so callers can distinguish retryable contention from
// business failures.
func (db *DB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if db.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
		}
		return err
	}
	return tx.Commit(ctx)
}
