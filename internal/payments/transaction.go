package payments

import (
	"context"
	"errors"
	"time"

	"paylane/internal/events"
)

// Transaction statuses reuse the canonical vocabulary. Terminal states are
// SUCCESS, FAILED and REFUNDED; REFUNDED is set only by a confirmed provider
// refund event, never synchronously on a refund request.
type Transaction struct {
	ID          string
	OrderID     string
	Amount      float64
	Currency    string
	Channel     string
	ProviderRef string
	Status      events.Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the transaction can change no further.
func (t Transaction) Terminal() bool {
	switch t.Status {
	case events.StatusSuccess, events.StatusFailed, events.StatusRefunded:
		return true
	default:
		return false
	}
}

// RefundStatus is the canonical refund lifecycle vocabulary.
type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundFailed     RefundStatus = "FAILED"
	RefundCancelled  RefundStatus = "CANCELLED"
)

// Refund records one refund attempt against a transaction. A nil Amount
// means a full refund.
type Refund struct {
	ID               string
	TransactionID    string
	ProviderRefundID string
	Amount           *float64
	Reason           string
	Currency         string
	Channel          string
	Status           RefundStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the refund can change no further.
func (r Refund) Terminal() bool {
	switch r.Status {
	case RefundCompleted, RefundFailed, RefundCancelled:
		return true
	default:
		return false
	}
}

// ErrTransactionNotFound signals an unknown transaction or order id.
var ErrTransactionNotFound = errors.New("payment transaction not found")

// ErrRefundNotFound signals an unknown refund id.
var ErrRefundNotFound = errors.New("refund not found")

// ErrNotRefundable signals a refund request against a transaction that is
// not in a refundable success state.
var ErrNotRefundable = errors.New("transaction is not refundable")

// ErrMissingProviderReference signals a refund request against a
// transaction the provider never acknowledged.
var ErrMissingProviderReference = errors.New("transaction has no provider reference")

// ErrInvalidSignature signals a webhook whose signature failed verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrValidation signals a malformed request, rejected before any mutation.
var ErrValidation = errors.New("invalid request")

// TransactionStore persists payment transactions. The orchestrator is the
// only writer.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	Update(ctx context.Context, tx Transaction) error
	GetByID(ctx context.Context, id string) (Transaction, error)
	// LatestByOrderID returns the most recent transaction for the order;
	// earlier failed attempts are superseded but kept.
	LatestByOrderID(ctx context.Context, orderID string) (Transaction, error)
}

// RefundStore persists refund records. The orchestrator is the only writer.
type RefundStore interface {
	Create(ctx context.Context, r Refund) error
	Update(ctx context.Context, r Refund) error
	GetByID(ctx context.Context, id string) (Refund, error)
	LatestByTransactionID(ctx context.Context, transactionID string) (Refund, error)
}

// MapRefundStatus folds a provider-specific refund status into the
// canonical enumeration. Unknown values map to PROCESSING: the confirmed
// outcome arrives later on the refund webhook.
func MapRefundStatus(providerStatus string) RefundStatus {
	switch providerStatus {
	case "COMPLETED", "succeeded":
		return RefundCompleted
	case "PENDING", "pending":
		return RefundPending
	case "FAILED", "failed":
		return RefundFailed
	case "CANCELLED", "canceled":
		return RefundCancelled
	default:
		return RefundProcessing
	}
}
