package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"paylane/internal/events"
)

// ErrUnknownProvider signals a payment channel with no registered adapter.
var ErrUnknownProvider = errors.New("unknown payment provider")

// ErrIgnoredEvent signals a webhook event type an adapter does not handle.
// Callers acknowledge such events without touching any state.
var ErrIgnoredEvent = errors.New("ignored provider event")

// PaymentRequest asks a provider to create a payment for an order.
type PaymentRequest struct {
	OrderID  string
	Amount   float64
	Currency string
}

// PaymentResult is the normalized outcome of payment creation.
type PaymentResult struct {
	ProviderRef string
	RedirectURL string
	Status      events.Status
}

// Callback is a provider webhook normalized into canonical terms.
type Callback struct {
	OrderID     string
	ProviderRef string
	Status      events.Status
	Message     string
}

// RefundRequest asks a provider to refund a captured payment. A nil Amount
// requests a full refund.
type RefundRequest struct {
	ProviderRef string
	Amount      *float64
	Currency    string
	Reason      string
}

// RefundResult is the normalized outcome of a refund call. Status carries
// the provider's own vocabulary; the orchestrator maps it to the canonical
// refund enumeration.
type RefundResult struct {
	ProviderRefundID string
	Status           string
}

// Adapter is the uniform capability set implemented per payment provider.
type Adapter interface {
	// Name returns the channel identifier, e.g. STRIPE or PAYPAL.
	Name() string
	// CreatePayment creates a payment with the provider and returns the
	// provider reference and payer redirect URL.
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	// VerifySignature reports whether the raw webhook payload is authentic.
	// It must not mutate any state.
	VerifySignature(payload []byte, headers http.Header) bool
	// NormalizeCallback translates a verified webhook into a canonical
	// callback, applying the idempotency guard: a completed event yields
	// StatusDuplicate, an event held by another worker yields
	// StatusProcessing, both of which the caller treats as no-op success.
	NormalizeCallback(ctx context.Context, payload []byte, headers http.Header) (Callback, error)
	// Refund refunds the referenced payment, fully or partially.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Registry resolves adapters by channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get resolves the adapter for a channel.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names lists registered channels in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
