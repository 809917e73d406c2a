package events

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes canonical payment events.
type Publisher interface {
	Publish(ctx context.Context, ev PaymentEvent) error
}

// StreamAdder is the minimal client surface used by RedisStreamPublisher.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamPublisher appends events to redis streams, one stream per
// partition, keyed by order id.
type RedisStreamPublisher struct {
	client     StreamAdder
	base       string
	partitions int
	maxLen     int64
}

// NewRedisStreamPublisher constructs a stream publisher.
func NewRedisStreamPublisher(client StreamAdder, base string, partitions int, maxLen int64) *RedisStreamPublisher {
	if base == "" {
		base = "payment_events"
	}
	if partitions < 1 {
		partitions = 1
	}
	return &RedisStreamPublisher{
		client:     client,
		base:       base,
		partitions: partitions,
		maxLen:     maxLen,
	}
}

// Publish appends the event to its order's partition stream.
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: StreamName(p.base, PartitionFor(ev.OrderID, p.partitions)),
		Values: eventValues(ev),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

func eventValues(ev PaymentEvent) map[string]any {
	return map[string]any{
		"order_id":       ev.OrderID,
		"transaction_id": ev.TransactionID,
		"status":         string(ev.Status),
		"amount":         strconv.FormatFloat(ev.Amount, 'f', -1, 64),
		"currency":       ev.Currency,
		"channel":        ev.Channel,
		"message":        ev.Message,
		"timestamp":      ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func eventFromValues(values map[string]any) PaymentEvent {
	ev := PaymentEvent{
		OrderID:       stringValue(values["order_id"]),
		TransactionID: stringValue(values["transaction_id"]),
		Status:        Status(stringValue(values["status"])),
		Currency:      stringValue(values["currency"]),
		Channel:       stringValue(values["channel"]),
		Message:       stringValue(values["message"]),
	}
	if amount, err := strconv.ParseFloat(stringValue(values["amount"]), 64); err == nil {
		ev.Amount = amount
	}
	if ts, err := time.Parse(time.RFC3339Nano, stringValue(values["timestamp"])); err == nil {
		ev.Timestamp = ts
	}
	return ev
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
