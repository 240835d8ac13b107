package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eleganza/commerce-core/pkg/outbox"
)

// InsertOutbox appends a pending outbox row inside the caller's transaction,
// so the event commits or rolls back together with the writes it describes.
func InsertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		aggregateType, aggregateID, eventType, payload, traceparent)
	return err
}

// defaultMaxAttempts is the delivery budget per event before the row is
// parked as failed and needs operator attention.
const defaultMaxAttempts = 5

// OutboxStore implements outbox.Store against the shared outbox table.
type OutboxStore struct {
	log         *slog.Logger
	db          *DB
	maxAttempts int
}

func NewOutboxStore(log *slog.Logger, db *DB) *OutboxStore {
	return &OutboxStore{log: log, db: db, maxAttempts: defaultMaxAttempts}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, traceparent, created_at
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &event.Traceparent, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval WHERE id = ANY($3)`,
		relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.db.Pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no outbox rows updated")
	}
	return nil
}

// MarkFailed requeues the event as pending for a later batch, recording the
// error. A committed domain event must survive transient broker trouble, so
// the row only becomes failed once the attempt budget is exhausted.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	var status string
	err := s.db.Pool.QueryRow(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    relay_id = NULL,
		    lease_until = NULL
		WHERE id = $1
		RETURNING status`, id, errMsg, s.maxAttempts).Scan(&status)
	if err != nil {
		return err
	}
	if status == "failed" {
		s.log.Error("outbox event exhausted delivery attempts", "event_id", id, "attempts", s.maxAttempts, "last_error", errMsg)
	}
	return nil
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE outbox SET lease_until=now() + $1::interval WHERE id = ANY($2) AND relay_id=$3`, lease.String(), ids, relayID)
	return err
}
