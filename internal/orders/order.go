package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paylane/internal/events"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Order is one purchase moving through the lifecycle. Amount and currency
// are immutable after creation; status only moves forward along the graph.
type Order struct {
	ID         string
	Number     string
	MerchantID string
	Amount     float64
	Currency   string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ErrOrderNotFound signals an unknown order id or number.
var ErrOrderNotFound = errors.New("order not found")

// ErrInvalidTransition signals a status change the graph forbids. Stored
// state is left unchanged.
var ErrInvalidTransition = errors.New("invalid order status transition")

// ErrValidation signals a malformed order request.
var ErrValidation = errors.New("invalid order request")

// ValidTransition reports whether current may move to next.
// NEW moves to PROCESSING; PROCESSING moves to SUCCESS or FAILED; SUCCESS
// and FAILED are terminal.
func ValidTransition(current, next Status) bool {
	switch current {
	case StatusNew:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSuccess || next == StatusFailed
	default:
		return false
	}
}

// MapPaymentStatus folds the payment status vocabulary onto the order graph.
// The payment side speaks a superset; values with no order-side meaning,
// REFUNDED included, are rejected.
func MapPaymentStatus(status events.Status) (Status, error) {
	switch status {
	case events.StatusInitiated, events.StatusProcessing:
		return StatusProcessing, nil
	case events.StatusSuccess:
		return StatusSuccess, nil
	case events.StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: no order state for payment status %s", ErrInvalidTransition, status)
	}
}

// Store persists orders. The order service is the only writer.
type Store interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
}

// NewInMemoryStore constructs an in-memory order store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[string]Order),
		byNumber: make(map[string]string),
	}
}

// InMemoryStore keeps orders in memory. Used as the fallback store and in
// tests.
type InMemoryStore struct {
	mu       sync.Mutex
	byID     map[string]Order
	byNumber map[string]string
}

func (s *InMemoryStore) Create(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	s.byNumber[o.Number] = o.ID
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; !ok {
		return ErrOrderNotFound
	}
	s.byID[o.ID] = o
	return nil
}

func (s *InMemoryStore) GetByID(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *InMemoryStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[number]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return s.byID[id], nil
}
