package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"paylane/cmd/server/config"
	"paylane/internal/events"
	"paylane/internal/httpapi"
	"paylane/internal/idempotency"
	"paylane/internal/notify"
	"paylane/internal/observability"
	"paylane/internal/orders"
	"paylane/internal/payments"
	"paylane/internal/provider"
	"paylane/internal/provider/paypal"
	"paylane/internal/provider/stripe"
	"paylane/internal/reliability"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	redisCfg, err := config.LoadRedis()
	if err != nil {
		return err
	}
	idemCfg, err := config.LoadIdempotency()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	redisClient, err := buildRedisClient(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	txStore, refundStore, orderStore, cleanupStores, err := buildStores(ctx, os.Getenv("DATABASE_URL"), log.Printf)
	if err != nil {
		return err
	}
	defer cleanupStores()

	guard := idempotency.NewGuard(redisClient, log.Printf)

	registry := provider.NewRegistry()
	if err := registerProviders(registry, redisClient, guard, idemCfg); err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	publisher := events.NewRedisStreamPublisher(redisClient, redisCfg.StreamBase, redisCfg.StreamPartitions, redisCfg.StreamMaxLen)
	journal, err := buildJournal()
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}
	var journalIface events.Journal
	if journal != nil {
		journalIface = journal
	}
	bestEffort := events.NewBestEffortPublisher(publisher, journalIface, metrics.CountEventPublished, log.Printf)

	breaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	})
	orchestrator := payments.NewOrchestrator(txStore, refundStore, registry, bestEffort, breaker, log.Printf)
	orderService := orders.NewService(orderStore, log.Printf)

	hub := notify.NewHub()
	go hub.Run()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "paylane"
	}
	orderConsumer := events.NewStreamConsumer(redisClient, redisCfg.StreamBase, redisCfg.StreamPartitions,
		"order-service", hostname+"-orders", orderService.EventHandler(), metrics.CountEventConsumed, log.Printf)
	notifyConsumer := events.NewStreamConsumer(redisClient, redisCfg.StreamBase, redisCfg.StreamPartitions,
		"notification-service", hostname+"-notify", notify.NewNotifier(hub), metrics.CountEventConsumed, log.Printf)
	go runConsumer(ctx, "order-service", orderConsumer)
	go runConsumer(ctx, "notification-service", notifyConsumer)

	limiter := reliability.NewRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst, metrics.AddRateLimitWait)

	apiServer := httpapi.NewServer(orchestrator, orderService, hub, metrics, limiter, log.Printf)
	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: apiServer.Router(),
	}

	obsSrv, err := startObservabilityServer(metrics)
	if err != nil {
		return err
	}

	log.Printf("payment server listening on %s", httpCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func buildRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// registerProviders wires the configured payment channels. A provider with
// missing credentials is skipped with a log line rather than failing boot,
// so a single-channel deployment needs only its own secrets.
func registerProviders(registry *provider.Registry, redisClient *redis.Client, guard *idempotency.Guard, idemCfg config.IdempotencyConfig) error {
	stripeCfg, err := config.LoadStripe()
	if err == nil {
		registry.Register(stripe.New(stripe.Config{
			SecretKey:     stripeCfg.SecretKey,
			WebhookSecret: stripeCfg.WebhookSecret,
			CheckoutBase:  stripeCfg.CheckoutBase,
			LockTTL:       idemCfg.LockTTL,
			CompletedTTL:  idemCfg.CompletedTTL,
		}, guard, log.Printf))
	} else {
		log.Printf("stripe channel disabled: %v", err)
	}

	paypalCfg, err := config.LoadPayPal()
	if err == nil {
		auth := paypal.NewAuthClient(nil, redisClient, paypalCfg.ClientID, paypalCfg.ClientSecret, paypalCfg.BaseURL, log.Printf)
		registry.Register(paypal.New(paypal.Config{
			WebhookID:    paypalCfg.WebhookID,
			ReturnURL:    paypalCfg.ReturnURL,
			CancelURL:    paypalCfg.CancelURL,
			BrandName:    paypalCfg.BrandName,
			LockTTL:      idemCfg.LockTTL,
			CompletedTTL: idemCfg.CompletedTTL,
		}, auth, nil, guard, log.Printf))
	} else {
		log.Printf("paypal channel disabled: %v", err)
	}

	if len(registry.Names()) == 0 {
		log.Printf("warning: no payment providers configured")
	}
	return nil
}

func buildJournal() (*events.FileJournal, error) {
	path := strings.TrimSpace(os.Getenv("EVENT_JOURNAL_PATH"))
	if path == "" {
		path = "payment_events.journal"
	}
	return events.NewFileJournal(path)
}

func runConsumer(ctx context.Context, name string, consumer *events.StreamConsumer) {
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("consumer %s stopped: %v", name, err)
	}
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
