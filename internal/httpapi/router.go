package httpapi

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"paylane/internal/notify"
	"paylane/internal/observability"
	"paylane/internal/orders"
	"paylane/internal/payments"
	"paylane/internal/reliability"
)

// Server wires the payment and order services into an HTTP API.
type Server struct {
	payments       *payments.Orchestrator
	orders         *orders.Service
	hub            *notify.Hub
	metrics        *observability.Metrics
	webhookLimiter *reliability.RateLimiter
	upgrader       websocket.Upgrader
	logf           func(format string, args ...any)
}

// NewServer constructs a Server. hub, metrics, webhookLimiter and logf may
// be nil.
func NewServer(orchestrator *payments.Orchestrator, orderService *orders.Service, hub *notify.Hub, metrics *observability.Metrics, webhookLimiter *reliability.RateLimiter, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	return &Server{
		payments:       orchestrator,
		orders:         orderService,
		hub:            hub,
		metrics:        metrics,
		webhookLimiter: webhookLimiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logf: logf,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/payment/initiate", s.handleInitiatePayment).Methods(http.MethodPost)
	api.HandleFunc("/payment/refund", s.handleInitiateRefund).Methods(http.MethodPost)
	api.HandleFunc("/payment/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/payment/order/{orderId}", s.handleGetPaymentByOrder).Methods(http.MethodGet)
	api.HandleFunc("/payment/{transactionId}", s.handleGetPayment).Methods(http.MethodGet)

	webhooks := api.PathPrefix("/payment/webhook").Subrouter()
	webhooks.Use(s.rateLimit)
	webhooks.HandleFunc("/{provider}", s.handleWebhook).Methods(http.MethodPost)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)

	r.HandleFunc("/ws/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler(s.metrics)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return r
}

// rateLimit applies the webhook token bucket before the handler runs.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.webhookLimiter != nil {
			if err := s.webhookLimiter.Wait(r.Context()); err != nil {
				http.Error(w, "rate limit wait aborted", http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
