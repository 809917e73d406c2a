package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"paylane/internal/events"
	"paylane/internal/idempotency"
	"paylane/internal/provider"
)

// ProviderName is the channel identifier for this adapter.
const ProviderName = "STRIPE"

// SignatureHeader carries the HMAC signature. Transport hops may split one
// logical signature into multiple header values.
const SignatureHeader = "Stripe-Signature"

// Config holds the provider credentials and idempotency TTLs.
type Config struct {
	SecretKey     string
	WebhookSecret string
	CheckoutBase  string
	LockTTL       time.Duration
	CompletedTTL  time.Duration
}

// Adapter implements provider.Adapter for the HMAC-verification provider.
// Payment creation and refunds resolve locally: the provider model is
// redirect-based, so the hosted checkout session is minted here and the
// authoritative outcome arrives later on the webhook.
type Adapter struct {
	cfg   Config
	guard *idempotency.Guard
	newID func() string
	logf  func(format string, args ...any)
}

// New constructs the adapter.
func New(cfg Config, guard *idempotency.Guard, logf func(format string, args ...any)) *Adapter {
	if cfg.CheckoutBase == "" {
		cfg.CheckoutBase = "https://checkout.stripe.com/c/pay"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = 24 * time.Hour
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Adapter{
		cfg:   cfg,
		guard: guard,
		newID: uuid.NewString,
		logf:  logf,
	}
}

// Name returns the channel identifier.
func (a *Adapter) Name() string { return ProviderName }

// CreatePayment mints a checkout session for the order. The payment stays
// PROCESSING until the webhook reports the payer's outcome.
func (a *Adapter) CreatePayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.PaymentResult{}, err
	}
	if a.cfg.SecretKey == "" {
		return provider.PaymentResult{}, errors.New("stripe: secret key not configured")
	}

	ref := "pi_" + strings.ReplaceAll(a.newID(), "-", "")
	a.logf("stripe: created payment %s for order %s", ref, req.OrderID)

	return provider.PaymentResult{
		ProviderRef: ref,
		RedirectURL: a.cfg.CheckoutBase + "/" + ref,
		Status:      events.StatusProcessing,
	}, nil
}

// VerifySignature computes HMAC-SHA256 over the raw payload and compares it
// to the transported signature. Multiple signature header values are
// rejoined with "," before comparison.
func (a *Adapter) VerifySignature(payload []byte, headers http.Header) bool {
	signature := strings.Join(headers.Values(SignatureHeader), ",")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(payload)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(signature))
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Metadata struct {
				OrderID string `json:"order_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// NormalizeCallback translates a webhook into canonical terms, deduplicated
// by the provider event id.
func (a *Adapter) NormalizeCallback(ctx context.Context, payload []byte, _ http.Header) (provider.Callback, error) {
	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return provider.Callback{}, fmt.Errorf("stripe: parse webhook: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return provider.Callback{}, errors.New("stripe: webhook missing event id or type")
	}

	key := EventKey(ev.ID)
	if a.guard.GetState(ctx, key) == idempotency.StateCompleted {
		a.logf("stripe: duplicate webhook event %s", ev.ID)
		return provider.Callback{Status: events.StatusDuplicate, Message: "event already processed"}, nil
	}
	if !a.guard.AcquireLock(ctx, key, a.cfg.LockTTL) {
		a.logf("stripe: webhook event %s already in flight", ev.ID)
		return provider.Callback{Status: events.StatusProcessing, Message: "event is being processed"}, nil
	}

	status, err := mapEventType(ev.Type)
	if err != nil {
		a.guard.ReleaseLock(ctx, key)
		return provider.Callback{}, err
	}

	a.guard.MarkCompleted(ctx, key, a.cfg.CompletedTTL)
	return provider.Callback{
		OrderID:     ev.Data.Object.Metadata.OrderID,
		ProviderRef: ev.Data.Object.ID,
		Status:      status,
		Message:     ev.Type,
	}, nil
}

// Refund resolves locally, mirroring CreatePayment: the confirmed refund
// arrives later as a charge.refunded webhook.
func (a *Adapter) Refund(ctx context.Context, req provider.RefundRequest) (provider.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.RefundResult{}, err
	}
	if req.ProviderRef == "" {
		return provider.RefundResult{}, errors.New("stripe: provider reference required")
	}

	id := "re_" + strings.ReplaceAll(a.newID(), "-", "")
	a.logf("stripe: refund %s requested for %s", id, req.ProviderRef)

	return provider.RefundResult{
		ProviderRefundID: id,
		Status:           "pending",
	}, nil
}

// EventKey returns the idempotency key for a provider event id.
func EventKey(eventID string) string {
	return ProviderName + ":webhook:event:" + eventID
}

func mapEventType(eventType string) (events.Status, error) {
	switch eventType {
	case "payment_intent.succeeded", "checkout.session.completed":
		return events.StatusSuccess, nil
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return events.StatusFailed, nil
	case "payment_intent.processing":
		return events.StatusProcessing, nil
	case "charge.refunded":
		return events.StatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: stripe %s", provider.ErrIgnoredEvent, eventType)
	}
}
