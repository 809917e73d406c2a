package notify

import (
	"context"
	"encoding/json"
	"time"

	"paylane/internal/events"
)

// Notification is the message pushed to WebSocket subscribers when a
// payment settles.
type Notification struct {
	OrderID       string        `json:"orderId"`
	TransactionID string        `json:"transactionId,omitempty"`
	Status        events.Status `json:"status"`
	Message       string        `json:"message,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (n Notification) marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Notifier forwards terminal payment events to the hub. Intermediate
// statuses are not pushed; subscribers only care when the payment settles.
type Notifier struct {
	hub *Hub
}

// NewNotifier constructs a Notifier.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// Handle implements the stream handler. It never returns an error: a
// notification that cannot be delivered is not worth redelivering the event
// for.
func (n *Notifier) Handle(ctx context.Context, event events.PaymentEvent) error {
	switch event.Status {
	case events.StatusSuccess, events.StatusFailed, events.StatusRefunded:
	default:
		return nil
	}
	notification := Notification{
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		Status:        event.Status,
		Message:       event.Message,
		Timestamp:     event.Timestamp,
	}
	select {
	case n.hub.Notify <- notification:
	case <-ctx.Done():
	}
	return nil
}
