package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// memoryStore mirrors the database store's retry semantics: a failed
// dispatch puts the event back to pending until the attempt budget runs out.
type memoryStore struct {
	mu     sync.Mutex
	budget int
	events map[int64]*Event
	sent   chan int64
}

func (s *memoryStore) LockBatch(_ context.Context, relayID string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Status != StatusPending || len(out) == batchSize {
			continue
		}
		e.Status = StatusInProgress
		e.RelayID = relayID
		out = append(out, *e)
	}
	return out, nil
}

func (s *memoryStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.events[id].Status = StatusSent
		s.sent <- id
	}
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	e.LastError = &errMsg
	if e.RetryCount >= s.budget {
		e.Status = StatusFailed
	} else {
		e.Status = StatusPending
	}
	return nil
}

func (s *memoryStore) ExtendLease(_ context.Context, _ string, _ []int64, _ time.Duration) error {
	return nil
}

// flakyProducer rejects the first failures writes, then accepts.
type flakyProducer struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (p *flakyProducer) WriteMessages(_ context.Context, _ ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestRelayRedeliversAfterTransientDispatchFailure(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	store := &memoryStore{
		budget: 5,
		events: map[int64]*Event{
			1: {ID: 1, AggregateType: "order", AggregateID: "o-1", Type: "OrderConfirmed", Payload: []byte(`{}`), Status: StatusPending},
		},
		sent: make(chan int64, 1),
	}
	producer := &flakyProducer{failures: 1}
	relay := NewRelay(log, store, NewDispatcher(log, producer, "commerce.events"), "relay-test")
	relay.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(done)
	}()

	select {
	case <-store.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("event was never redelivered after a transient dispatch failure")
	}
	cancel()
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	e := store.events[1]
	if e.Status != StatusSent {
		t.Fatalf("event status = %s, want sent", e.Status)
	}
	if e.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", e.RetryCount)
	}
	if e.LastError == nil || *e.LastError != "broker unavailable" {
		t.Fatalf("last error = %v, want the dispatch error recorded", e.LastError)
	}
}
