package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paylane/internal/events"
	"paylane/internal/idempotency"
	"paylane/internal/provider"
)

// ProviderName is the channel identifier for this adapter.
const ProviderName = "PAYPAL"

// Webhook metadata headers. All five must be present or verification is
// refused outright, without a network call.
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

// Config holds the provider credentials and idempotency TTLs.
type Config struct {
	WebhookID    string
	ReturnURL    string
	CancelURL    string
	BrandName    string
	LockTTL      time.Duration
	CompletedTTL time.Duration
}

// Adapter implements provider.Adapter for the remote-verification provider.
// Unlike the HMAC provider, every verification is a call back to the
// provider's verify endpoint using a cached OAuth2 bearer token.
type Adapter struct {
	cfg        Config
	auth       *AuthClient
	httpClient *http.Client
	guard      *idempotency.Guard
	logf       func(format string, args ...any)
}

// New constructs the adapter. httpClient may be nil.
func New(cfg Config, auth *AuthClient, httpClient *http.Client, guard *idempotency.Guard, logf func(format string, args ...any)) *Adapter {
	if cfg.BrandName == "" {
		cfg.BrandName = "PayLane"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = 7 * 24 * time.Hour
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Adapter{
		cfg:        cfg,
		auth:       auth,
		httpClient: httpClient,
		guard:      guard,
		logf:       logf,
	}
}

// Name returns the channel identifier.
func (a *Adapter) Name() string { return ProviderName }

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string  `json:"reference_id,omitempty"`
	CustomID    string  `json:"custom_id,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      *amount `json:"amount,omitempty"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []link         `json:"links"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

// CreatePayment creates a provider order and returns the payer approval URL.
func (a *Adapter) CreatePayment(ctx context.Context, req provider.PaymentRequest) (provider.PaymentResult, error) {
	orderReq := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []purchaseUnit{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Description: "Payment for order " + req.OrderID,
			Amount: &amount{
				CurrencyCode: req.Currency,
				Value:        formatAmount(req.Amount),
			},
		}},
		"application_context": map[string]any{
			"brand_name":          a.cfg.BrandName,
			"return_url":          a.cfg.ReturnURL + "?orderId=" + req.OrderID,
			"cancel_url":          a.cfg.CancelURL + "?orderId=" + req.OrderID,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}

	var created orderResponse
	if err := a.post(ctx, "/v2/checkout/orders", orderReq, &created); err != nil {
		return provider.PaymentResult{}, err
	}
	if created.ID == "" {
		return provider.PaymentResult{}, errors.New("paypal: empty order response")
	}

	approveURL := linkByRel(created.Links, "approve")
	if approveURL == "" {
		return provider.PaymentResult{}, errors.New("paypal: no approval link in order response")
	}

	a.logf("paypal: created order %s for order %s", created.ID, req.OrderID)
	return provider.PaymentResult{
		ProviderRef: created.ID,
		RedirectURL: approveURL,
		Status:      events.StatusProcessing,
	}, nil
}

// VerifySignature calls the provider's webhook verification endpoint. It
// refuses without a network call unless all five metadata headers are
// present.
func (a *Adapter) VerifySignature(payload []byte, headers http.Header) bool {
	meta := map[string]string{
		"auth_algo":         headers.Get(HeaderAuthAlgo),
		"cert_url":          headers.Get(HeaderCertURL),
		"transmission_id":   headers.Get(HeaderTransmissionID),
		"transmission_sig":  headers.Get(HeaderTransmissionSig),
		"transmission_time": headers.Get(HeaderTransmissionTime),
	}
	for name, value := range meta {
		if value == "" {
			a.logf("paypal: webhook verification refused: missing %s", name)
			return false
		}
	}

	var event json.RawMessage
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logf("paypal: webhook verification refused: %v", err)
		return false
	}

	body := map[string]any{
		"auth_algo":         meta["auth_algo"],
		"cert_url":          meta["cert_url"],
		"transmission_id":   meta["transmission_id"],
		"transmission_sig":  meta["transmission_sig"],
		"transmission_time": meta["transmission_time"],
		"webhook_id":        a.cfg.WebhookID,
		"webhook_event":     event,
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.post(context.Background(), "/v1/notifications/verify-webhook-signature", body, &result); err != nil {
		a.logf("paypal: webhook verification call failed: %v", err)
		return false
	}
	return result.VerificationStatus == "SUCCESS"
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string         `json:"id"`
		Status            string         `json:"status"`
		CustomID          string         `json:"custom_id"`
		PurchaseUnits     []purchaseUnit `json:"purchase_units"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// NormalizeCallback translates a webhook into canonical terms, deduplicated
// by the provider event id. An approved checkout triggers a capture before
// the callback is reported.
func (a *Adapter) NormalizeCallback(ctx context.Context, payload []byte, _ http.Header) (provider.Callback, error) {
	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return provider.Callback{}, fmt.Errorf("paypal: parse webhook: %w", err)
	}
	if ev.ID == "" || ev.EventType == "" {
		return provider.Callback{}, errors.New("paypal: webhook missing event id or type")
	}

	key := EventKey(ev.ID)
	if a.guard.GetState(ctx, key) == idempotency.StateCompleted {
		a.logf("paypal: duplicate webhook event %s", ev.ID)
		return provider.Callback{Status: events.StatusDuplicate, Message: "event already processed"}, nil
	}
	if !a.guard.AcquireLock(ctx, key, a.cfg.LockTTL) {
		a.logf("paypal: webhook event %s already in flight", ev.ID)
		return provider.Callback{Status: events.StatusProcessing, Message: "event is being processed"}, nil
	}

	cb, err := a.handleEvent(ctx, ev)
	if err != nil {
		a.guard.ReleaseLock(ctx, key)
		return provider.Callback{}, err
	}

	a.guard.MarkCompleted(ctx, key, a.cfg.CompletedTTL)
	return cb, nil
}

func (a *Adapter) handleEvent(ctx context.Context, ev webhookEvent) (provider.Callback, error) {
	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		ref := ev.Resource.ID
		if ref == "" {
			ref = ev.Resource.SupplementaryData.RelatedIDs.OrderID
		}
		return provider.Callback{
			OrderID:     ev.Resource.CustomID,
			ProviderRef: ref,
			Status:      events.StatusSuccess,
			Message:     ev.EventType,
		}, nil

	case "CHECKOUT.ORDER.APPROVED":
		captured, err := a.captureOrder(ctx, ev.Resource.ID)
		if err != nil {
			return provider.Callback{}, err
		}
		status := events.StatusProcessing
		if captured.Status == "COMPLETED" {
			status = events.StatusSuccess
		}
		return provider.Callback{
			OrderID:     firstCustomID(ev.Resource.PurchaseUnits),
			ProviderRef: ev.Resource.ID,
			Status:      status,
			Message:     ev.EventType,
		}, nil

	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return provider.Callback{
			OrderID:     ev.Resource.CustomID,
			ProviderRef: ev.Resource.ID,
			Status:      events.StatusFailed,
			Message:     ev.EventType,
		}, nil

	case "PAYMENT.CAPTURE.REFUNDED":
		return provider.Callback{
			OrderID:     ev.Resource.CustomID,
			ProviderRef: ev.Resource.ID,
			Status:      events.StatusRefunded,
			Message:     ev.EventType,
		}, nil

	default:
		return provider.Callback{}, fmt.Errorf("%w: paypal %s", provider.ErrIgnoredEvent, ev.EventType)
	}
}

// captureOrder captures an approved provider order. A 422
// ORDER_ALREADY_CAPTURED response is treated as idempotent success: the
// return URL may be hit multiple times, so the order is re-fetched instead.
func (a *Adapter) captureOrder(ctx context.Context, paypalOrderID string) (orderResponse, error) {
	var captured orderResponse
	status, body, err := a.postRaw(ctx, "/v2/checkout/orders/"+paypalOrderID+"/capture", map[string]any{}, &captured)
	if err != nil {
		return orderResponse{}, err
	}
	if status == http.StatusUnprocessableEntity && strings.Contains(body, "ORDER_ALREADY_CAPTURED") {
		a.logf("paypal: order %s already captured, fetching details", paypalOrderID)
		return a.getOrder(ctx, paypalOrderID)
	}
	if status < 200 || status >= 300 {
		return orderResponse{}, fmt.Errorf("paypal: capture order %s returned %d: %s", paypalOrderID, status, body)
	}
	return captured, nil
}

func (a *Adapter) getOrder(ctx context.Context, paypalOrderID string) (orderResponse, error) {
	token, err := a.auth.AccessToken(ctx)
	if err != nil {
		return orderResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.auth.BaseURL()+"/v2/checkout/orders/"+paypalOrderID, nil)
	if err != nil {
		return orderResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return orderResponse{}, fmt.Errorf("paypal: get order %s: %w", paypalOrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return orderResponse{}, fmt.Errorf("paypal: get order %s returned %d: %s", paypalOrderID, resp.StatusCode, data)
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return orderResponse{}, fmt.Errorf("paypal: decode order %s: %w", paypalOrderID, err)
	}
	return order, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund refunds a captured payment, fully or partially.
func (a *Adapter) Refund(ctx context.Context, req provider.RefundRequest) (provider.RefundResult, error) {
	if req.ProviderRef == "" {
		return provider.RefundResult{}, errors.New("paypal: provider reference required")
	}

	body := map[string]any{}
	if req.Amount != nil && req.Currency != "" {
		body["amount"] = amount{CurrencyCode: req.Currency, Value: formatAmount(*req.Amount)}
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var refund refundResponse
	if err := a.post(ctx, "/v2/payments/captures/"+req.ProviderRef+"/refund", body, &refund); err != nil {
		return provider.RefundResult{}, err
	}

	a.logf("paypal: refund %s (%s) for capture %s", refund.ID, refund.Status, req.ProviderRef)
	return provider.RefundResult{
		ProviderRefundID: refund.ID,
		Status:           refund.Status,
	}, nil
}

// EventKey returns the idempotency key for a provider event id.
func EventKey(eventID string) string {
	return ProviderName + ":webhook:event:" + eventID
}

func (a *Adapter) post(ctx context.Context, path string, body any, out any) error {
	status, raw, err := a.postRaw(ctx, path, body, out)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("paypal: %s returned %d: %s", path, status, raw)
	}
	return nil
}

// postRaw sends an authenticated POST and decodes a 2xx body into out. The
// raw body and status are returned for non-2xx handling by callers.
func (a *Adapter) postRaw(ctx context.Context, path string, body any, out any) (int, string, error) {
	token, err := a.auth.AccessToken(ctx)
	if err != nil {
		return 0, "", err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.auth.BaseURL()+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("paypal: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("paypal: read %s response: %w", path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, string(raw), fmt.Errorf("paypal: decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, string(raw), nil
}

func linkByRel(links []link, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func firstCustomID(units []purchaseUnit) string {
	if len(units) == 0 {
		return ""
	}
	if units[0].CustomID != "" {
		return units[0].CustomID
	}
	return units[0].ReferenceID
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
