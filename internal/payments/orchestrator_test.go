package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"paylane/internal/events"
	"paylane/internal/provider"
)

// spyAdapter records calls and returns scripted results.
type spyAdapter struct {
	name          string
	createCalls   int
	refundCalls   int
	verifyResult  bool
	createResult  provider.PaymentResult
	createErr     error
	callback      provider.Callback
	callbackErr   error
	refundResult  provider.RefundResult
	refundErr     error
	lastCreateReq provider.PaymentRequest
	lastRefundReq provider.RefundRequest
}

func (s *spyAdapter) Name() string { return s.name }

func (s *spyAdapter) CreatePayment(_ context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	s.createCalls++
	s.lastCreateReq = req
	return s.createResult, s.createErr
}

func (s *spyAdapter) VerifySignature([]byte, http.Header) bool { return s.verifyResult }

func (s *spyAdapter) NormalizeCallback(context.Context, []byte, http.Header) (provider.Callback, error) {
	return s.callback, s.callbackErr
}

func (s *spyAdapter) Refund(_ context.Context, req provider.RefundRequest) (provider.RefundResult, error) {
	s.refundCalls++
	s.lastRefundReq = req
	return s.refundResult, s.refundErr
}

// capturePublisher collects every published event.
type capturePublisher struct {
	events []events.PaymentEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev events.PaymentEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	orchestrator *Orchestrator
	transactions *InMemoryTransactionStore
	refunds      *InMemoryRefundStore
	adapter      *spyAdapter
	published    *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &spyAdapter{
		name:         "STRIPE",
		verifyResult: true,
		createResult: provider.PaymentResult{
			ProviderRef: "pi_123",
			RedirectURL: "https://checkout.example/pi_123",
			Status:      events.StatusProcessing,
		},
		refundResult: provider.RefundResult{ProviderRefundID: "re_123", Status: "pending"},
	}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	transactions := NewInMemoryTransactionStore()
	refunds := NewInMemoryRefundStore()
	published := &capturePublisher{}
	orchestrator := NewOrchestrator(transactions, refunds, registry, published, nil, func(string, ...any) {})
	return &fixture{
		orchestrator: orchestrator,
		transactions: transactions,
		refunds:      refunds,
		adapter:      adapter,
		published:    published,
	}
}

func validRequest() InitiateRequest {
	return InitiateRequest{OrderID: "O1", Amount: 100.0, Currency: "USD", Channel: "STRIPE"}
}

func TestInitiatePaymentHappyPath(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orchestrator.InitiatePayment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if resp.Status != events.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", resp.Status)
	}
	if resp.RedirectURL != "https://checkout.example/pi_123" {
		t.Fatalf("missing redirect url: %+v", resp)
	}
	if f.adapter.createCalls != 1 {
		t.Fatalf("expected 1 provider call, got %d", f.adapter.createCalls)
	}
	if f.transactions.Count() != 1 {
		t.Fatalf("expected 1 transaction, got %d", f.transactions.Count())
	}
	if len(f.published.events) != 1 || f.published.events[0].Status != events.StatusProcessing {
		t.Fatalf("unexpected published events: %+v", f.published.events)
	}
}

func TestInitiatePaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []InitiateRequest{
		{Amount: 10, Currency: "USD", Channel: "STRIPE"},
		{OrderID: "O1", Amount: 0, Currency: "USD", Channel: "STRIPE"},
		{OrderID: "O1", Amount: -5, Currency: "USD", Channel: "STRIPE"},
		{OrderID: "O1", Amount: 10, Currency: "US", Channel: "STRIPE"},
		{OrderID: "O1", Amount: 10, Currency: "USD"},
	}
	for _, req := range cases {
		if _, err := f.orchestrator.InitiatePayment(ctx, req); !errors.Is(err, ErrValidation) {
			t.Errorf("request %+v: expected ErrValidation, got %v", req, err)
		}
	}
	if f.adapter.createCalls != 0 {
		t.Fatalf("validation failures must not reach the provider")
	}
	if f.transactions.Count() != 0 {
		t.Fatalf("validation failures must not create transactions")
	}
}

func TestInitiatePaymentUnknownChannel(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Channel = "WIRE"
	if _, err := f.orchestrator.InitiatePayment(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown channel, got %v", err)
	}
}

func TestInitiatePaymentIsIdempotentWhileInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	second, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Fatalf("expected same transaction, got %s and %s", first.TransactionID, second.TransactionID)
	}
	if f.transactions.Count() != 1 {
		t.Fatalf("expected 1 transaction, got %d", f.transactions.Count())
	}
	if f.adapter.createCalls != 1 {
		t.Fatalf("expected 1 provider call, got %d", f.adapter.createCalls)
	}
}

func TestInitiatePaymentSupersedesFailedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.adapter.createErr = errors.New("provider down")
	first, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("failed initiate should not error: %v", err)
	}
	if first.Status != events.StatusFailed {
		t.Fatalf("expected FAILED, got %s", first.Status)
	}
	if first.ErrorMessage == "" {
		t.Fatalf("expected error message on failure response")
	}
	if len(f.published.events) != 1 || f.published.events[0].Status != events.StatusFailed {
		t.Fatalf("expected FAILED event, got %+v", f.published.events)
	}

	f.adapter.createErr = nil
	second, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("retry initiate: %v", err)
	}
	if second.TransactionID == first.TransactionID {
		t.Fatalf("failed attempt must be superseded by a fresh transaction")
	}
	if f.transactions.Count() != 2 {
		t.Fatalf("expected 2 transactions, got %d", f.transactions.Count())
	}
}

func seedSuccessfulPayment(t *testing.T, f *fixture) PaymentResponse {
	t.Helper()
	ctx := context.Background()
	resp, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.adapter.callback = provider.Callback{
		OrderID:     "O1",
		ProviderRef: "pi_123",
		Status:      events.StatusSuccess,
	}
	if err := f.orchestrator.HandleCallback(ctx, "STRIPE", []byte(`{}`), nil); err != nil {
		t.Fatalf("callback: %v", err)
	}
	return resp
}

func TestHandleCallbackMovesTransactionToSuccess(t *testing.T) {
	f := newFixture(t)
	resp := seedSuccessfulPayment(t, f)

	tx, err := f.transactions.GetByID(context.Background(), resp.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Status != events.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", tx.Status)
	}
	// One PROCESSING from initiation, one SUCCESS from the callback.
	if len(f.published.events) != 2 || f.published.events[1].Status != events.StatusSuccess {
		t.Fatalf("unexpected events: %+v", f.published.events)
	}
}

func TestHandleCallbackRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.adapter.verifyResult = false

	err := f.orchestrator.HandleCallback(context.Background(), "STRIPE", []byte(`{}`), nil)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(f.published.events) != 0 {
		t.Fatalf("rejected webhook must not publish events")
	}
}

func TestHandleCallbackDuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	seedSuccessfulPayment(t, f)
	publishedBefore := len(f.published.events)

	f.adapter.callback = provider.Callback{Status: events.StatusDuplicate}
	if err := f.orchestrator.HandleCallback(context.Background(), "STRIPE", []byte(`{}`), nil); err != nil {
		t.Fatalf("duplicate delivery must be a no-op success, got %v", err)
	}
	if len(f.published.events) != publishedBefore {
		t.Fatalf("duplicate delivery must not publish events")
	}
}

func TestHandleCallbackIgnoredEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.adapter.callbackErr = provider.ErrIgnoredEvent

	if err := f.orchestrator.HandleCallback(context.Background(), "STRIPE", []byte(`{}`), nil); err != nil {
		t.Fatalf("ignored event must be a no-op success, got %v", err)
	}
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	f := newFixture(t)
	f.adapter.callback = provider.Callback{OrderID: "missing", Status: events.StatusSuccess}

	err := f.orchestrator.HandleCallback(context.Background(), "STRIPE", []byte(`{}`), nil)
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestHandleCallbackUnknownProvider(t *testing.T) {
	f := newFixture(t)
	err := f.orchestrator.HandleCallback(context.Background(), "WIRE", []byte(`{}`), nil)
	if !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestInitiateRefundGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unknown transaction.
	if _, err := f.orchestrator.InitiateRefund(ctx, "missing", nil, ""); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	// Not refundable: still PROCESSING.
	resp, err := f.orchestrator.InitiatePayment(ctx, validRequest())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.orchestrator.InitiateRefund(ctx, resp.TransactionID, nil, ""); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}

	// Missing provider reference.
	now := time.Now()
	orphan := Transaction{ID: "tx-orphan", OrderID: "O2", Amount: 10, Currency: "USD", Channel: "STRIPE", Status: events.StatusSuccess, CreatedAt: now, UpdatedAt: now}
	if err := f.transactions.Create(ctx, orphan); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	if _, err := f.orchestrator.InitiateRefund(ctx, orphan.ID, nil, ""); !errors.Is(err, ErrMissingProviderReference) {
		t.Fatalf("expected ErrMissingProviderReference, got %v", err)
	}

	if f.adapter.refundCalls != 0 {
		t.Fatalf("guard failures must issue zero provider calls, got %d", f.adapter.refundCalls)
	}
}

func TestInitiateRefundAmountBounds(t *testing.T) {
	f := newFixture(t)
	resp := seedSuccessfulPayment(t, f)
	ctx := context.Background()

	over := 200.0
	if _, err := f.orchestrator.InitiateRefund(ctx, resp.TransactionID, &over, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for amount over total, got %v", err)
	}
	zero := 0.0
	if _, err := f.orchestrator.InitiateRefund(ctx, resp.TransactionID, &zero, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}
	if f.adapter.refundCalls != 0 {
		t.Fatalf("amount violations must issue zero provider calls")
	}
}

func TestInitiateRefundHappyPath(t *testing.T) {
	f := newFixture(t)
	resp := seedSuccessfulPayment(t, f)
	ctx := context.Background()

	amount := 40.0
	refund, err := f.orchestrator.InitiateRefund(ctx, resp.TransactionID, &amount, "customer request")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Status != RefundPending {
		t.Fatalf("expected PENDING, got %s", refund.Status)
	}
	if refund.ProviderRefundID != "re_123" {
		t.Fatalf("missing provider refund id: %+v", refund)
	}
	if f.adapter.lastRefundReq.ProviderRef != "pi_123" {
		t.Fatalf("refund must target the provider reference, got %q", f.adapter.lastRefundReq.ProviderRef)
	}

	// Transaction stays SUCCESS until the provider confirms via webhook.
	tx, _ := f.transactions.GetByID(ctx, resp.TransactionID)
	if tx.Status != events.StatusSuccess {
		t.Fatalf("transaction must stay SUCCESS, got %s", tx.Status)
	}
}

func TestInitiateRefundProviderFailure(t *testing.T) {
	f := newFixture(t)
	resp := seedSuccessfulPayment(t, f)
	f.adapter.refundErr = errors.New("provider down")

	refund, err := f.orchestrator.InitiateRefund(context.Background(), resp.TransactionID, nil, "")
	if err != nil {
		t.Fatalf("provider failure should yield a structured response, got %v", err)
	}
	if refund.Status != RefundFailed {
		t.Fatalf("expected FAILED refund, got %s", refund.Status)
	}
	if refund.ErrorMessage == "" {
		t.Fatalf("expected error message on failed refund")
	}

	stored, err := f.refunds.GetByID(context.Background(), refund.RefundID)
	if err != nil {
		t.Fatalf("failed refund must be persisted: %v", err)
	}
	if stored.Status != RefundFailed {
		t.Fatalf("stored refund should be FAILED, got %s", stored.Status)
	}
}

func TestRefundedCallbackClosesRefund(t *testing.T) {
	f := newFixture(t)
	resp := seedSuccessfulPayment(t, f)
	ctx := context.Background()

	refund, err := f.orchestrator.InitiateRefund(ctx, resp.TransactionID, nil, "")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	f.adapter.callback = provider.Callback{OrderID: "O1", ProviderRef: "re_123", Status: events.StatusRefunded}
	if err := f.orchestrator.HandleCallback(ctx, "STRIPE", []byte(`{}`), nil); err != nil {
		t.Fatalf("refund callback: %v", err)
	}

	tx, _ := f.transactions.GetByID(ctx, resp.TransactionID)
	if tx.Status != events.StatusRefunded {
		t.Fatalf("expected REFUNDED transaction, got %s", tx.Status)
	}
	stored, _ := f.refunds.GetByID(ctx, refund.RefundID)
	if stored.Status != RefundCompleted {
		t.Fatalf("expected COMPLETED refund, got %s", stored.Status)
	}

	last := f.published.events[len(f.published.events)-1]
	if last.Status != events.StatusRefunded {
		t.Fatalf("expected REFUNDED event, got %+v", last)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	f := newFixture(t)

	resp, err := f.orchestrator.GetTransaction(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookup miss must not error: %v", err)
	}
	if resp.Status != events.StatusNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", resp.Status)
	}

	byOrder, err := f.orchestrator.GetTransactionByOrder(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookup miss must not error: %v", err)
	}
	if byOrder.Status != events.StatusNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", byOrder.Status)
	}
}
