package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"paylane/internal/events"
	"paylane/internal/provider"
	"paylane/internal/reliability"
)

// InitiateRequest asks for a payment against an order.
type InitiateRequest struct {
	OrderID  string
	Amount   float64
	Currency string
	Channel  string
}

func (r InitiateRequest) validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(r.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	if r.Channel == "" {
		return fmt.Errorf("%w: payment channel is required", ErrValidation)
	}
	return nil
}

// PaymentResponse is the structured outcome of payment operations. Failures
// carry a populated ErrorMessage instead of a propagated error.
type PaymentResponse struct {
	TransactionID string        `json:"transaction_id,omitempty"`
	OrderID       string        `json:"order_id,omitempty"`
	Amount        float64       `json:"amount,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	Channel       string        `json:"channel,omitempty"`
	Status        events.Status `json:"status"`
	RedirectURL   string        `json:"redirect_url,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}

// RefundResponse is the structured outcome of a refund request. Failures
// carry a specific reason string so callers can branch without parsing.
type RefundResponse struct {
	RefundID         string       `json:"refund_id,omitempty"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	ProviderRefundID string       `json:"provider_refund_id,omitempty"`
	Status           RefundStatus `json:"status"`
	Amount           *float64     `json:"amount,omitempty"`
	Currency         string       `json:"currency,omitempty"`
	Channel          string       `json:"channel,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at,omitempty"`
}

// Orchestrator coordinates provider calls, owns the payment-transaction
// state machine, persists transaction and refund records and emits
// canonical events. Provider calls run behind a circuit breaker and are
// never retried: a provider failure terminates the attempt as FAILED.
type Orchestrator struct {
	transactions TransactionStore
	refunds      RefundStore
	providers    *provider.Registry
	publisher    events.Publisher
	breaker      *reliability.CircuitBreaker
	logf         func(format string, args ...any)
	newID        func() string
	now          func() time.Time
}

// NewOrchestrator constructs an Orchestrator. breaker and logf may be nil.
func NewOrchestrator(transactions TransactionStore, refunds RefundStore, providers *provider.Registry, publisher events.Publisher, breaker *reliability.CircuitBreaker, logf func(format string, args ...any)) *Orchestrator {
	if logf == nil {
		logf = log.Printf
	}
	return &Orchestrator{
		transactions: transactions,
		refunds:      refunds,
		providers:    providers,
		publisher:    publisher,
		breaker:      breaker,
		logf:         logf,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// InitiatePayment creates or reuses a transaction for the order and asks
// the provider to create the payment. Re-submissions while a transaction is
// in a success or non-terminal state return that transaction unchanged; a
// failed attempt is superseded by a fresh row. Provider failures never
// propagate: the transaction is marked FAILED, a failure event is published
// and a structured failure response is returned.
func (o *Orchestrator) InitiatePayment(ctx context.Context, req InitiateRequest) (PaymentResponse, error) {
	if err := req.validate(); err != nil {
		return PaymentResponse{}, err
	}
	adapter, err := o.providers.Get(req.Channel)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	existing, err := o.transactions.LatestByOrderID(ctx, req.OrderID)
	switch {
	case err == nil:
		if existing.Status == events.StatusSuccess || !existing.Terminal() {
			o.logf("payments: order %s already has transaction %s in %s, reusing", req.OrderID, existing.ID, existing.Status)
			return o.transactionResponse(existing, "", ""), nil
		}
		o.logf("payments: previous transaction %s for order %s is %s, creating new one", existing.ID, req.OrderID, existing.Status)
	case errors.Is(err, ErrTransactionNotFound):
		// First attempt for this order.
	default:
		return PaymentResponse{}, fmt.Errorf("look up transaction for order %s: %w", req.OrderID, err)
	}

	now := o.now()
	tx := Transaction{
		ID:        o.newID(),
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Channel:   req.Channel,
		Status:    events.StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.transactions.Create(ctx, tx); err != nil {
		return PaymentResponse{}, fmt.Errorf("create transaction for order %s: %w", req.OrderID, err)
	}
	o.logf("payments: created transaction %s for order %s", tx.ID, tx.OrderID)

	var result provider.PaymentResult
	callErr := o.execute(func() error {
		var err error
		result, err = adapter.CreatePayment(ctx, provider.PaymentRequest{
			OrderID:  req.OrderID,
			Amount:   req.Amount,
			Currency: req.Currency,
		})
		return err
	})
	if callErr != nil {
		o.logf("payments: provider %s failed for order %s: %v", req.Channel, req.OrderID, callErr)
		tx.Status = events.StatusFailed
		tx.UpdatedAt = o.now()
		if err := o.transactions.Update(ctx, tx); err != nil {
			o.logf("payments: mark transaction %s failed: %v", tx.ID, err)
		}
		o.publish(ctx, tx, events.StatusFailed)
		return o.transactionResponse(tx, "", "payment provider is currently unavailable: "+callErr.Error()), nil
	}

	tx.ProviderRef = result.ProviderRef
	tx.Status = result.Status
	tx.UpdatedAt = o.now()
	if err := o.transactions.Update(ctx, tx); err != nil {
		return PaymentResponse{}, fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}

	o.publish(ctx, tx, tx.Status)
	return o.transactionResponse(tx, result.RedirectURL, ""), nil
}

// HandleCallback processes a provider webhook: verify, normalize, update
// the transaction and publish the canonical event. DUPLICATE and PROCESSING
// normalization outcomes are no-op successes; a verified event for an
// unknown order is logged and surfaced without fabricating a transaction.
func (o *Orchestrator) HandleCallback(ctx context.Context, providerName string, payload []byte, headers http.Header) error {
	adapter, err := o.providers.Get(providerName)
	if err != nil {
		return err
	}

	if !adapter.VerifySignature(payload, headers) {
		o.logf("payments: invalid %s webhook signature", providerName)
		return ErrInvalidSignature
	}

	cb, err := adapter.NormalizeCallback(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, provider.ErrIgnoredEvent) {
			o.logf("payments: %v", err)
			return nil
		}
		return fmt.Errorf("normalize %s callback: %w", providerName, err)
	}

	switch cb.Status {
	case events.StatusDuplicate:
		o.logf("payments: duplicate %s event, skipping", providerName)
		return nil
	case events.StatusProcessing:
		o.logf("payments: %s event already in flight elsewhere, skipping", providerName)
		return nil
	}

	tx, err := o.transactions.LatestByOrderID(ctx, cb.OrderID)
	if err != nil {
		o.logf("payments: %s callback for unknown order %q: %v", providerName, cb.OrderID, err)
		return fmt.Errorf("callback for order %q: %w", cb.OrderID, err)
	}

	tx.Status = cb.Status
	if cb.ProviderRef != "" {
		tx.ProviderRef = cb.ProviderRef
	}
	tx.UpdatedAt = o.now()
	if err := o.transactions.Update(ctx, tx); err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	o.logf("payments: transaction %s moved to %s via %s callback", tx.ID, tx.Status, providerName)

	if cb.Status == events.StatusRefunded {
		o.completeRefund(ctx, tx, cb.ProviderRef)
	}

	o.publish(ctx, tx, cb.Status)
	return nil
}

// completeRefund closes the open refund record once the provider confirms.
func (o *Orchestrator) completeRefund(ctx context.Context, tx Transaction, providerRefundID string) {
	refund, err := o.refunds.LatestByTransactionID(ctx, tx.ID)
	if err != nil {
		o.logf("payments: refunded transaction %s has no refund record: %v", tx.ID, err)
		return
	}
	if refund.Terminal() {
		return
	}
	refund.Status = RefundCompleted
	if refund.ProviderRefundID == "" && providerRefundID != "" {
		refund.ProviderRefundID = providerRefundID
	}
	refund.UpdatedAt = o.now()
	if err := o.refunds.Update(ctx, refund); err != nil {
		o.logf("payments: complete refund %s: %v", refund.ID, err)
	}
}

// InitiateRefund validates that the transaction is refundable and asks the
// provider for a refund. The transaction itself is never flipped here; the
// REFUNDED transition happens only on the confirmed provider refund event.
func (o *Orchestrator) InitiateRefund(ctx context.Context, transactionID string, amount *float64, reason string) (RefundResponse, error) {
	tx, err := o.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return RefundResponse{}, fmt.Errorf("refund %s: %w", transactionID, ErrTransactionNotFound)
		}
		return RefundResponse{}, fmt.Errorf("look up transaction %s: %w", transactionID, err)
	}
	if tx.Status != events.StatusSuccess {
		return RefundResponse{}, fmt.Errorf("transaction %s is %s: %w", tx.ID, tx.Status, ErrNotRefundable)
	}
	if tx.ProviderRef == "" {
		return RefundResponse{}, fmt.Errorf("transaction %s: %w", tx.ID, ErrMissingProviderReference)
	}
	if amount != nil && (*amount <= 0 || *amount > tx.Amount) {
		return RefundResponse{}, fmt.Errorf("%w: refund amount must be positive and at most %v", ErrValidation, tx.Amount)
	}

	adapter, err := o.providers.Get(tx.Channel)
	if err != nil {
		return RefundResponse{}, err
	}

	now := o.now()
	refund := Refund{
		ID:            o.newID(),
		TransactionID: tx.ID,
		Amount:        amount,
		Reason:        reason,
		Currency:      tx.Currency,
		Channel:       tx.Channel,
		Status:        RefundPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.refunds.Create(ctx, refund); err != nil {
		return RefundResponse{}, fmt.Errorf("create refund record for %s: %w", tx.ID, err)
	}

	var result provider.RefundResult
	callErr := o.execute(func() error {
		var err error
		result, err = adapter.Refund(ctx, provider.RefundRequest{
			ProviderRef: tx.ProviderRef,
			Amount:      amount,
			Currency:    tx.Currency,
			Reason:      reason,
		})
		return err
	})
	if callErr != nil {
		o.logf("payments: provider refund failed for transaction %s: %v", tx.ID, callErr)
		refund.Status = RefundFailed
		refund.UpdatedAt = o.now()
		if err := o.refunds.Update(ctx, refund); err != nil {
			o.logf("payments: mark refund %s failed: %v", refund.ID, err)
		}
		return o.refundResponse(refund, "refund provider call failed: "+callErr.Error()), nil
	}

	refund.ProviderRefundID = result.ProviderRefundID
	refund.Status = MapRefundStatus(result.Status)
	refund.UpdatedAt = o.now()
	if err := o.refunds.Update(ctx, refund); err != nil {
		return RefundResponse{}, fmt.Errorf("persist refund %s: %w", refund.ID, err)
	}

	o.logf("payments: refund %s for transaction %s is %s", refund.ID, tx.ID, refund.Status)
	return o.refundResponse(refund, ""), nil
}

// GetTransaction returns the transaction by id, or a NOT_FOUND response.
func (o *Orchestrator) GetTransaction(ctx context.Context, transactionID string) (PaymentResponse, error) {
	tx, err := o.transactions.GetByID(ctx, transactionID)
	if errors.Is(err, ErrTransactionNotFound) {
		return PaymentResponse{
			TransactionID: transactionID,
			Status:        events.StatusNotFound,
			ErrorMessage:  "payment transaction not found",
		}, nil
	}
	if err != nil {
		return PaymentResponse{}, err
	}
	return o.transactionResponse(tx, "", ""), nil
}

// GetTransactionByOrder returns the order's latest transaction, or a
// NOT_FOUND response.
func (o *Orchestrator) GetTransactionByOrder(ctx context.Context, orderID string) (PaymentResponse, error) {
	tx, err := o.transactions.LatestByOrderID(ctx, orderID)
	if errors.Is(err, ErrTransactionNotFound) {
		return PaymentResponse{
			OrderID:      orderID,
			Status:       events.StatusNotFound,
			ErrorMessage: "payment transaction not found for this order",
		}, nil
	}
	if err != nil {
		return PaymentResponse{}, err
	}
	return o.transactionResponse(tx, "", ""), nil
}

// Providers lists the registered payment channels.
func (o *Orchestrator) Providers() []string {
	return o.providers.Names()
}

func (o *Orchestrator) execute(fn func() error) error {
	if o.breaker != nil {
		return o.breaker.Execute(fn)
	}
	return fn()
}

// publish emits the canonical event. Failures are swallowed by the
// best-effort publisher; any residual error is only logged.
func (o *Orchestrator) publish(ctx context.Context, tx Transaction, status events.Status) {
	err := o.publisher.Publish(ctx, events.PaymentEvent{
		OrderID:       tx.OrderID,
		TransactionID: tx.ID,
		Status:        status,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Channel:       tx.Channel,
		Message:       events.StatusMessage(status),
		Timestamp:     o.now(),
	})
	if err != nil {
		o.logf("payments: publish %s event for order %s: %v", status, tx.OrderID, err)
	}
}

func (o *Orchestrator) transactionResponse(tx Transaction, redirectURL, errorMessage string) PaymentResponse {
	return PaymentResponse{
		TransactionID: tx.ID,
		OrderID:       tx.OrderID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Channel:       tx.Channel,
		Status:        tx.Status,
		RedirectURL:   redirectURL,
		ErrorMessage:  errorMessage,
		CreatedAt:     tx.CreatedAt,
		UpdatedAt:     tx.UpdatedAt,
	}
}

func (o *Orchestrator) refundResponse(r Refund, errorMessage string) RefundResponse {
	return RefundResponse{
		RefundID:         r.ID,
		TransactionID:    r.TransactionID,
		ProviderRefundID: r.ProviderRefundID,
		Status:           r.Status,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Channel:          r.Channel,
		ErrorMessage:     errorMessage,
		CreatedAt:        r.CreatedAt,
	}
}
