package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"paylane/internal/events"
	"paylane/internal/observability"
	"paylane/internal/orders"
	"paylane/internal/provider"
)

// Full lifecycle over a real stream: an order is created, a payment is
// initiated and later confirmed by a webhook, and the order service follows
// along by consuming the canonical events.
func TestPaymentLifecycleDrivesOrderState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	const base = "payment_events"
	const partitions = 4
	logf := func(string, ...any) {}

	adapter := &spyAdapter{
		name:         "STRIPE",
		verifyResult: true,
		createResult: provider.PaymentResult{
			ProviderRef: "pi_123",
			RedirectURL: "https://checkout.example/pi_123",
			Status:      events.StatusProcessing,
		},
	}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	metrics := observability.NewMetrics()
	publisher := events.NewBestEffortPublisher(
		events.NewRedisStreamPublisher(client, base, partitions, 0), nil, metrics.CountEventPublished, logf)
	orchestrator := NewOrchestrator(
		NewInMemoryTransactionStore(), NewInMemoryRefundStore(), registry, publisher, nil, logf)
	orderService := orders.NewService(orders.NewInMemoryStore(), logf)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer := events.NewStreamConsumer(
		client, base, partitions, "order-service", "e2e-1", orderService.EventHandler(), metrics.CountEventConsumed, logf)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	order, err := orderService.CreateOrder(ctx, orders.CreateRequest{
		MerchantID: "m-1",
		Amount:     100.0,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != orders.StatusNew {
		t.Fatalf("expected NEW order, got %s", order.Status)
	}

	resp, err := orchestrator.InitiatePayment(ctx, InitiateRequest{
		OrderID:  order.ID,
		Amount:   100.0,
		Currency: "USD",
		Channel:  "STRIPE",
	})
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	if resp.Status != events.StatusProcessing {
		t.Fatalf("expected PROCESSING transaction, got %s", resp.Status)
	}
	waitForOrderStatus(t, orderService, order.ID, orders.StatusProcessing)

	adapter.callback = provider.Callback{
		OrderID:     order.ID,
		ProviderRef: "pi_123",
		Status:      events.StatusSuccess,
	}
	if err := orchestrator.HandleCallback(ctx, "STRIPE", []byte(`{"id":"evt_1"}`), nil); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	waitForOrderStatus(t, orderService, order.ID, orders.StatusSuccess)

	txResp, err := orchestrator.GetTransaction(ctx, resp.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txResp.Status != events.StatusSuccess {
		t.Fatalf("expected SUCCESS transaction, got %s", txResp.Status)
	}

	// A late failure event cannot move the settled order.
	err = orderService.ApplyEvent(ctx, events.PaymentEvent{
		OrderID:       order.ID,
		TransactionID: resp.TransactionID,
		Status:        events.StatusFailed,
		Timestamp:     time.Now(),
	})
	if !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, err := orderService.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != orders.StatusSuccess {
		t.Fatalf("order regressed to %s", got.Status)
	}

	snap := metrics.Snapshot()
	if snap.EventsPublished != 2 {
		t.Fatalf("expected 2 published events counted, got %d", snap.EventsPublished)
	}
	if snap.EventsJournaled != 0 {
		t.Fatalf("expected no journaled events, got %d", snap.EventsJournaled)
	}
	if snap.EventsConsumed < 2 {
		t.Fatalf("expected at least 2 consumed events counted, got %d", snap.EventsConsumed)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func waitForOrderStatus(t *testing.T, svc *orders.Service, orderID string, want orders.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		o, err := svc.GetOrder(context.Background(), orderID)
		if err == nil && o.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("order %s never reached %s", orderID, want)
}
