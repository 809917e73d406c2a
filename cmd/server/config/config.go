package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and event-stream settings.
type RedisConfig struct {
	URL              string
	StreamBase       string
	StreamPartitions int
	StreamMaxLen     int64
	DialTimeout      *time.Duration
	ReadTimeout      *time.Duration
	WriteTimeout     *time.Duration
	PoolSize         *int
	MinIdleConns     *int
	MaxRetries       *int
	TLSConfig        *tls.Config
}

// IdempotencyConfig holds webhook dedup TTLs.
type IdempotencyConfig struct {
	LockTTL      time.Duration
	CompletedTTL time.Duration
}

// StripeConfig holds the Stripe-style provider credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	CheckoutBase  string
}

// PayPalConfig holds the PayPal-style provider credentials and URLs.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	ReturnURL    string
	CancelURL    string
	BrandName    string
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// LoadRedis reads Redis config from env. REDIS_URL is required; stream
// settings have working defaults.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.StreamBase = strings.TrimSpace(os.Getenv("EVENT_STREAM_BASE")); cfg.StreamBase == "" {
		cfg.StreamBase = "payment_events"
	}
	if cfg.StreamPartitions, err = defaultInt("EVENT_STREAM_PARTITIONS", 4); err != nil {
		return cfg, err
	}
	if cfg.StreamPartitions < 1 {
		return cfg, errors.New("EVENT_STREAM_PARTITIONS must be >= 1")
	}
	if cfg.StreamMaxLen, err = defaultInt64("EVENT_STREAM_MAXLEN", 10000); err != nil {
		return cfg, err
	}

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadIdempotency reads webhook dedup TTLs from env.
func LoadIdempotency() (IdempotencyConfig, error) {
	lockTTL, err := defaultDuration("IDEMPOTENCY_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return IdempotencyConfig{}, err
	}
	completedTTL, err := defaultDuration("IDEMPOTENCY_COMPLETED_TTL", 24*time.Hour)
	if err != nil {
		return IdempotencyConfig{}, err
	}
	return IdempotencyConfig{LockTTL: lockTTL, CompletedTTL: completedTTL}, nil
}

// LoadStripe reads the Stripe-style provider credentials from env.
func LoadStripe() (StripeConfig, error) {
	secretKey, err := requiredString("STRIPE_SECRET_KEY")
	if err != nil {
		return StripeConfig{}, err
	}
	webhookSecret, err := requiredString("STRIPE_WEBHOOK_SECRET")
	if err != nil {
		return StripeConfig{}, err
	}
	checkoutBase := strings.TrimSpace(os.Getenv("STRIPE_CHECKOUT_BASE"))
	if checkoutBase == "" {
		checkoutBase = "https://checkout.stripe.com/c/pay"
	}
	return StripeConfig{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		CheckoutBase:  checkoutBase,
	}, nil
}

// LoadPayPal reads the PayPal-style provider credentials from env.
func LoadPayPal() (PayPalConfig, error) {
	cfg := PayPalConfig{
		BrandName: strings.TrimSpace(os.Getenv("PAYPAL_BRAND_NAME")),
	}
	var err error
	if cfg.ClientID, err = requiredString("PAYPAL_CLIENT_ID"); err != nil {
		return cfg, err
	}
	if cfg.ClientSecret, err = requiredString("PAYPAL_CLIENT_SECRET"); err != nil {
		return cfg, err
	}
	if cfg.BaseURL, err = requiredString("PAYPAL_BASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.WebhookID, err = requiredString("PAYPAL_WEBHOOK_ID"); err != nil {
		return cfg, err
	}
	if cfg.ReturnURL, err = requiredString("PAYPAL_RETURN_URL"); err != nil {
		return cfg, err
	}
	if cfg.CancelURL, err = requiredString("PAYPAL_CANCEL_URL"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadHTTP reads the API listener settings from env.
func LoadHTTP() (HTTPConfig, error) {
	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	interval, err := defaultDuration("WEBHOOK_RATE_LIMIT_INTERVAL", 10*time.Millisecond)
	if err != nil {
		return HTTPConfig{}, err
	}
	burst, err := defaultInt("WEBHOOK_RATE_LIMIT_BURST", 50)
	if err != nil {
		return HTTPConfig{}, err
	}
	return HTTPConfig{
		Addr:              addr,
		RateLimitInterval: interval,
		RateLimitBurst:    burst,
	}, nil
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr := strings.TrimSpace(os.Getenv("OBS_ADDR"))
	if addr == "" {
		addr = ":9090"
	}
	return ObservabilityConfig{Addr: addr}, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func defaultInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func defaultInt64(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func defaultDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
