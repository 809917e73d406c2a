package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"paylane/internal/events"
)

// Service owns the order lifecycle. It creates orders in NEW and advances
// them as payment events arrive; it never moves an order backwards.
type Service struct {
	store Store
	logf  func(format string, args ...any)
	newID func() string
	now   func() time.Time
}

// NewService constructs a Service. logf may be nil.
func NewService(store Store, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store: store,
		logf:  logf,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// CreateRequest carries the fields needed to open an order.
type CreateRequest struct {
	MerchantID string  `json:"merchantId"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

func (r CreateRequest) validate() error {
	if r.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if len(r.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	return nil
}

// CreateOrder validates the request and stores a new order in NEW with a
// generated human-facing order number.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (Order, error) {
	if err := req.validate(); err != nil {
		return Order{}, err
	}
	now := s.now()
	o := Order{
		ID:         s.newID(),
		Number:     orderNumber(s.newID()),
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(req.Currency),
		Status:     StatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logf("orders: created order %s (%s) amount=%.2f %s", o.ID, o.Number, o.Amount, o.Currency)
	return o, nil
}

// GetOrder returns the order with the given id.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.store.GetByID(ctx, id)
}

// GetOrderByNumber returns the order with the given human-facing number.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	return s.store.GetByNumber(ctx, number)
}

// ApplyEvent advances the order named by the event. A repeated event that
// maps to the order's current state is a no-op, so redelivered events are
// harmless. Any other forbidden transition returns ErrInvalidTransition and
// leaves the order untouched.
func (s *Service) ApplyEvent(ctx context.Context, event events.PaymentEvent) error {
	next, err := MapPaymentStatus(event.Status)
	if err != nil {
		return err
	}
	o, err := s.store.GetByID(ctx, event.OrderID)
	if err != nil {
		return err
	}
	if o.Status == next {
		return nil
	}
	if !ValidTransition(o.Status, next) {
		return fmt.Errorf("%w: %s -> %s for order %s", ErrInvalidTransition, o.Status, next, o.ID)
	}
	o.Status = next
	o.UpdatedAt = s.now()
	if err := s.store.Update(ctx, o); err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	s.logf("orders: order %s moved to %s (payment status %s)", o.ID, next, event.Status)
	return nil
}

// EventHandler adapts the service to the stream consumer. Failures are
// logged and swallowed so the event is acknowledged: an event for an
// unknown or already-settled order will not become any less wrong on
// redelivery.
func (s *Service) EventHandler() events.HandlerFunc {
	return func(ctx context.Context, event events.PaymentEvent) error {
		err := s.ApplyEvent(ctx, event)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrOrderNotFound):
			s.logf("orders: event for unknown order %s dropped", event.OrderID)
		case errors.Is(err, ErrInvalidTransition):
			s.logf("orders: event dropped: %v", err)
		default:
			s.logf("orders: apply event for order %s: %v", event.OrderID, err)
		}
		return nil
	}
}

// orderNumber derives a short human-facing number from a uuid.
func orderNumber(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "ORD-" + strings.ToUpper(id)
}
