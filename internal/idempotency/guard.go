package idempotency

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"paylane/internal/reliability"
)

// State describes what the guard knows about an event key.
type State int

const (
	// StateAbsent means the key has never been seen (or has expired).
	StateAbsent State = iota
	// StateProcessing means another worker holds the processing lock.
	StateProcessing
	// StateCompleted means the event was already processed to completion.
	StateCompleted
)

const (
	valueProcessing = "processing"
	valueCompleted  = "completed"
)

// Store is the minimal redis client surface used by the guard.
type Store interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard is a distributed mutual-exclusion and completion-marking primitive
// backed by a shared key-value store with expiring keys. It is a
// deduplication aid, not a source of truth: on persistent store failure,
// lock acquisition fails open (process anyway) and state lookups fail
// closed (report absent), both favoring delivery over strict dedup.
type Guard struct {
	store Store
	retry reliability.RetryPolicy
	logf  func(format string, args ...any)
}

// NewGuard constructs a guard over the given store. Store operations are
// retried 3 times with a fixed 100ms backoff on transient failures.
func NewGuard(store Store, logf func(format string, args ...any)) *Guard {
	if logf == nil {
		logf = log.Printf
	}
	return &Guard{
		store: store,
		retry: reliability.Fixed(3, 100*time.Millisecond),
		logf:  logf,
	}
}

// AcquireLock attempts to admit this caller as the single processor for the
// event key. It returns true if the key was newly set; on persistent store
// failure it returns true anyway so the event is not dropped.
func (g *Guard) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	var acquired bool
	err := g.retry.Do(ctx, func() error {
		res, err := g.store.SetNX(ctx, key, valueProcessing, ttl).Result()
		if err != nil {
			return err
		}
		acquired = res
		return nil
	})
	if err != nil {
		g.logf("idempotency: acquire %s failed after retries, processing anyway: %v", key, err)
		return true
	}
	return acquired
}

// MarkCompleted overwrites the key with a terminal completed marker,
// re-armed with ttl so late duplicate deliveries are rejected.
func (g *Guard) MarkCompleted(ctx context.Context, key string, ttl time.Duration) {
	err := g.retry.Do(ctx, func() error {
		return g.store.Set(ctx, key, valueCompleted, ttl).Err()
	})
	if err != nil {
		g.logf("idempotency: mark %s completed failed after retries: %v", key, err)
	}
}

// ReleaseLock deletes the key so a legitimate retry can reprocess the event
// after a processing failure.
func (g *Guard) ReleaseLock(ctx context.Context, key string) {
	err := g.retry.Do(ctx, func() error {
		return g.store.Del(ctx, key).Err()
	})
	if err != nil {
		g.logf("idempotency: release %s failed after retries: %v", key, err)
	}
}

// GetState reports the processing state of the key. On persistent store
// failure it reports absent so the caller reprocesses defensively.
func (g *Guard) GetState(ctx context.Context, key string) State {
	var value string
	err := g.retry.Do(ctx, func() error {
		res, err := g.store.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			value = ""
			return nil
		}
		if err != nil {
			return err
		}
		value = res
		return nil
	})
	if err != nil {
		g.logf("idempotency: get state %s failed after retries, assuming absent: %v", key, err)
		return StateAbsent
	}

	switch value {
	case valueProcessing:
		return StateProcessing
	case valueCompleted:
		return StateCompleted
	default:
		return StateAbsent
	}
}
