package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"paylane/internal/notify"
	"paylane/internal/orders"
	"paylane/internal/payments"
	"paylane/internal/provider"
	"paylane/internal/provider/paypal"
)

// Payloads over 1 MiB are rejected; no provider webhook comes close.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type initiatePaymentRequest struct {
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Channel  string  `json:"channel"`
}

type initiateRefundRequest struct {
	TransactionID string   `json:"transactionId"`
	Amount        *float64 `json:"amount,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payment.initiate")
	var req initiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.payments.InitiatePayment(r.Context(), payments.InitiateRequest{
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Channel:  strings.ToUpper(req.Channel),
	})
	span.End(err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInitiateRefund(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payment.refund")
	var req initiateRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TransactionID == "" {
		span.End(payments.ErrValidation)
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}
	resp, err := s.payments.InitiateRefund(r.Context(), req.TransactionID, req.Amount, req.Reason)
	span.End(err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payment.get")
	resp, err := s.payments.GetTransaction(r.Context(), mux.Vars(r)["transactionId"])
	span.End(err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("payment.get_by_order")
	resp, err := s.payments.GetTransactionByOrder(r.Context(), mux.Vars(r)["orderId"])
	span.End(err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": s.payments.Providers()})
}

// handleWebhook ingests provider callbacks. Stripe-style providers get a 4xx
// on a bad signature so the provider retries; PayPal acknowledges every
// delivery with 200 and failures are only logged, matching its redelivery
// semantics.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := strings.ToUpper(mux.Vars(r)["provider"])
	span := s.metrics.Start("payment.webhook")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, "read webhook payload")
		return
	}

	err = s.payments.HandleCallback(r.Context(), providerName, payload, r.Header)
	span.End(err)
	s.metrics.CountWebhook(providerName, errors.Is(err, payments.ErrInvalidSignature))

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	case errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case providerName == paypal.ProviderName:
		s.logf("httpapi: paypal webhook processing failed: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	case errors.Is(err, payments.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
	default:
		s.logf("httpapi: %s webhook processing failed: %v", providerName, err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("order.create")
	var req orders.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.orders.CreateOrder(r.Context(), req)
	span.End(err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderView(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	span := s.metrics.Start("order.get")
	order, err := s.orders.GetOrder(r.Context(), mux.Vars(r)["orderId"])
	span.End(err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

// handleNotifications upgrades to a WebSocket and registers the client with
// the hub. An optional orderId query parameter narrows the subscription.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("httpapi: websocket upgrade: %v", err)
		return
	}
	client := &notify.Client{Conn: conn, OrderID: r.URL.Query().Get("orderId")}
	s.hub.Register <- client

	go func() {
		defer func() { s.hub.Unregister <- client }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type orderResponse struct {
	ID         string  `json:"id"`
	Number     string  `json:"orderNumber"`
	MerchantID string  `json:"merchantId,omitempty"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status"`
}

func orderView(o orders.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		Number:     o.Number,
		MerchantID: o.MerchantID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Status:     string(o.Status),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payments.ErrValidation), errors.Is(err, orders.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrTransactionNotFound),
		errors.Is(err, payments.ErrRefundNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, provider.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payments.ErrNotRefundable),
		errors.Is(err, payments.ErrMissingProviderReference):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
