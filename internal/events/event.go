package events

import "time"

// Status is the provider-agnostic payment status vocabulary carried on the
// wire between the payment side and the order side. It is a superset: each
// consumer maps only the subset its own state machine understands.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"

	// StatusDuplicate and StatusNotFound are adapter-internal signals; they
	// are part of the canonical vocabulary but never published.
	StatusDuplicate Status = "DUPLICATE"
	StatusNotFound  Status = "NOT_FOUND"
)

// PaymentEvent is the only contract between the payment side and the order
// side. Provider payloads never cross this boundary.
type PaymentEvent struct {
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Channel       string    `json:"channel"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatusMessage returns the human-readable message published with a status.
func StatusMessage(status Status) string {
	switch status {
	case StatusInitiated:
		return "Payment initiated"
	case StatusProcessing:
		return "Payment is being processed"
	case StatusSuccess:
		return "Payment completed successfully"
	case StatusFailed:
		return "Payment failed"
	case StatusRefunded:
		return "Payment refunded"
	default:
		return "Payment status updated to " + string(status)
	}
}
