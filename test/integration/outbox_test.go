package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
)

func TestOutboxRetryBudget(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()
	env, err := Setup(ctx)
	if err != nil {
		t.Fatalf("setup containers: %v", err)
	}
	defer env.Teardown(ctx)

	s := newStack(t, ctx, env.PGURL)
	store := platform.NewOutboxStore(slog.New(slog.DiscardHandler), s.db)

	var id int64
	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload)
		VALUES ('order', 'o-1', 'OrderConfirmed', '{}')
		RETURNING id`).Scan(&id)
	if err != nil {
		t.Fatalf("insert outbox row: %v", err)
	}

	// Each failed attempt must hand the row straight back to the next
	// batch; only the fifth strike parks it.
	for attempt := 1; attempt <= 5; attempt++ {
		events, err := store.LockBatch(ctx, "relay-test", 10, time.Second)
		if err != nil {
			t.Fatalf("lock batch: %v", err)
		}
		if len(events) != 1 || events[0].ID != id {
			t.Fatalf("attempt %d: locked %d events, want the retried row", attempt, len(events))
		}
		if err := store.MarkFailed(ctx, id, "broker unavailable"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	events, err := store.LockBatch(ctx, "relay-test", 10, time.Second)
	if err != nil {
		t.Fatalf("lock batch: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("exhausted event still offered for delivery")
	}

	var status string
	var retries int
	err = s.db.Pool.QueryRow(ctx, `SELECT status, retry_count FROM outbox WHERE id=$1`, id).Scan(&status, &retries)
	if err != nil {
		t.Fatalf("read outbox row: %v", err)
	}
	if status != "failed" || retries != 5 {
		t.Fatalf("after budget: status=%s retries=%d, want failed/5", status, retries)
	}
}
