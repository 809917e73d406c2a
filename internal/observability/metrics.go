package observability

import (
	"sync"
	"time"
)

type OperationSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type WebhookSnapshot struct {
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
}

type Snapshot struct {
	UptimeSec       int64                        `json:"uptime_sec"`
	TotalRequests   int64                        `json:"total_requests"`
	TotalErrors     int64                        `json:"total_errors"`
	InFlight        int64                        `json:"in_flight"`
	EventsPublished int64                        `json:"events_published"`
	EventsJournaled int64                        `json:"events_journaled"`
	EventsConsumed  int64                        `json:"events_consumed"`
	RateLimitWaits  int64                        `json:"rate_limit_waits"`
	RateLimitWaitMs int64                        `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot           `json:"lifecycle,omitempty"`
	Webhooks        map[string]WebhookSnapshot   `json:"webhooks"`
	Operations      map[string]OperationSnapshot `json:"operations"`
}

type operationStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type webhookStats struct {
	received int64
	rejected int64
}

type Metrics struct {
	mu              sync.Mutex
	start           time.Time
	operations      map[string]*operationStats
	webhooks        map[string]*webhookStats
	eventsPublished int64
	eventsJournaled int64
	eventsConsumed  int64
	rateLimitWaits  int64
	rateLimitWait   time.Duration
	lifecycle       lifecycleStats
}

type CallSpan struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:      time.Now(),
		operations: make(map[string]*operationStats),
		webhooks:   make(map[string]*webhookStats),
	}
}

// Start opens a latency span for a named operation, e.g. "payment.initiate".
func (m *Metrics) Start(operation string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics:   m,
		operation: operation,
		start:     time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.operation, dur, err != nil)
}

// CountWebhook records a webhook delivery for a provider. rejected marks
// deliveries that failed signature verification.
func (m *Metrics) CountWebhook(provider string, rejected bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.webhooks[provider]
	if !ok {
		stats = &webhookStats{}
		m.webhooks[provider] = stats
	}
	stats.received++
	if rejected {
		stats.rejected++
	}
	m.mu.Unlock()
}

// CountEventPublished records one event written to the stream. journaled
// marks events that fell through to the on-disk journal instead.
func (m *Metrics) CountEventPublished(journaled bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if journaled {
		m.eventsJournaled++
	} else {
		m.eventsPublished++
	}
	m.mu.Unlock()
}

// CountEventConsumed records one event handed to a consumer handler.
func (m *Metrics) CountEventConsumed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.eventsConsumed++
	m.mu.Unlock()
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Operations:      make(map[string]OperationSnapshot),
		Webhooks:        make(map[string]WebhookSnapshot),
		EventsPublished: m.eventsPublished,
		EventsJournaled: m.eventsJournaled,
		EventsConsumed:  m.eventsConsumed,
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for operation, stats := range m.operations {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Operations[operation] = OperationSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	for provider, stats := range m.webhooks {
		snap.Webhooks[provider] = WebhookSnapshot{
			Received: stats.received,
			Rejected: stats.rejected,
		}
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureOperation(operation string) *operationStats {
	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	return stats
}

func (m *Metrics) finish(operation string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
