package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStreamClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublisherRoutesByOrderID(t *testing.T) {
	client := newStreamClient(t)
	publisher := NewRedisStreamPublisher(client, "payment_events", 4, 0)
	ctx := context.Background()

	ev := PaymentEvent{
		OrderID:       "O1",
		TransactionID: "T1",
		Status:        StatusSuccess,
		Amount:        100.0,
		Currency:      "USD",
		Channel:       "STRIPE",
		Message:       StatusMessage(StatusSuccess),
		Timestamp:     time.Now(),
	}
	if err := publisher.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	stream := StreamName("payment_events", PartitionFor("O1", 4))
	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry on %s, got %d", stream, len(entries))
	}

	got := eventFromValues(entries[0].Values)
	if got.OrderID != "O1" || got.TransactionID != "T1" || got.Status != StatusSuccess {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Amount != 100.0 || got.Currency != "USD" || got.Channel != "STRIPE" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestConsumerDeliversAndAcks(t *testing.T) {
	client := newStreamClient(t)
	publisher := NewRedisStreamPublisher(client, "payment_events", 2, 0)

	var mu sync.Mutex
	var received []PaymentEvent
	var delivered int
	done := make(chan struct{})
	handler := HandlerFunc(func(_ context.Context, ev PaymentEvent) error {
		mu.Lock()
		received = append(received, ev)
		if len(received) == 2 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	countDelivery := func() {
		mu.Lock()
		delivered++
		mu.Unlock()
	}

	consumer := NewStreamConsumer(client, "payment_events", 2, "order-service", "test-1", handler, countDelivery, func(string, ...any) {})
	consumer.block = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	for _, orderID := range []string{"O1", "O2"} {
		err := publisher.Publish(ctx, PaymentEvent{OrderID: orderID, Status: StatusProcessing, Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("publish %s: %v", orderID, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, ev := range received {
		seen[ev.OrderID] = true
	}
	if !seen["O1"] || !seen["O2"] {
		t.Fatalf("expected both orders, got %+v", received)
	}
	if delivered != len(received) {
		t.Fatalf("expected %d counted deliveries, got %d", len(received), delivered)
	}
}

func TestConsumerAcksFailingHandler(t *testing.T) {
	client := newStreamClient(t)
	publisher := NewRedisStreamPublisher(client, "payment_events", 1, 0)

	delivered := make(chan PaymentEvent, 4)
	handler := HandlerFunc(func(_ context.Context, ev PaymentEvent) error {
		delivered <- ev
		return errors.New("handler boom")
	})
	consumer := NewStreamConsumer(client, "payment_events", 1, "order-service", "test-1", handler, nil, func(string, ...any) {})
	consumer.block = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	if err := publisher.Publish(ctx, PaymentEvent{OrderID: "O1", Status: StatusFailed, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}

	// The failed handler must not keep the entry pending.
	deadline := time.Now().Add(5 * time.Second)
	stream := StreamName("payment_events", 0)
	for {
		pending, err := client.XPending(ctx, stream, "order-service").Result()
		if err == nil && pending.Count == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry still pending after handler failure: %+v (err %v)", pending, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type stubPublisher struct {
	err   error
	calls int
}

func (s *stubPublisher) Publish(context.Context, PaymentEvent) error {
	s.calls++
	return s.err
}

type memJournal struct {
	entries [][]byte
	err     error
}

func (j *memJournal) Append(data []byte) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, data)
	return nil
}

func TestBestEffortPublisherSwallowsFailures(t *testing.T) {
	inner := &stubPublisher{err: errors.New("stream down")}
	journal := &memJournal{}
	var logged int
	var journaledCounts []bool
	publisher := NewBestEffortPublisher(inner, journal,
		func(journaled bool) { journaledCounts = append(journaledCounts, journaled) },
		func(string, ...any) { logged++ })

	err := publisher.Publish(context.Background(), PaymentEvent{OrderID: "O1", Status: StatusSuccess})
	if err != nil {
		t.Fatalf("best-effort publish must not surface errors, got %v", err)
	}
	if len(journal.entries) != 1 {
		t.Fatalf("expected 1 journaled event, got %d", len(journal.entries))
	}
	if logged == 0 {
		t.Fatalf("expected failure to be logged")
	}
	if len(journaledCounts) != 1 || !journaledCounts[0] {
		t.Fatalf("expected one journaled count, got %v", journaledCounts)
	}
}

func TestBestEffortPublisherPassesThroughSuccess(t *testing.T) {
	inner := &stubPublisher{}
	journal := &memJournal{}
	var journaledCounts []bool
	publisher := NewBestEffortPublisher(inner, journal,
		func(journaled bool) { journaledCounts = append(journaledCounts, journaled) },
		func(string, ...any) {})

	if err := publisher.Publish(context.Background(), PaymentEvent{OrderID: "O1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner publish, got %d", inner.calls)
	}
	if len(journal.entries) != 0 {
		t.Fatalf("success must not be journaled")
	}
	if len(journaledCounts) != 1 || journaledCounts[0] {
		t.Fatalf("expected one published count, got %v", journaledCounts)
	}
}
