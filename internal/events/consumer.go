package events

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one consumed payment event. Returning an error marks
// the delivery as failed for logging purposes only; at-least-once delivery
// means handlers must be idempotent regardless.
type Handler interface {
	Handle(ctx context.Context, ev PaymentEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev PaymentEvent) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, ev PaymentEvent) error {
	return f(ctx, ev)
}

// StreamReader is the minimal client surface used by StreamConsumer.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// StreamConsumer reads canonical payment events from all partition streams
// as part of a consumer group and dispatches them to a handler. Ordering is
// guaranteed only within a partition (one order id); handler failures are
// logged and the entry acknowledged, matching at-least-once semantics with
// idempotent handlers downstream.
type StreamConsumer struct {
	client     StreamReader
	base       string
	partitions int
	group      string
	consumer   string
	handler    Handler
	onDeliver  func()
	block      time.Duration
	logf       func(format string, args ...any)
}

// NewStreamConsumer constructs a consumer for the given group. onDeliver,
// if non-nil, is invoked once per event handed to the handler.
func NewStreamConsumer(client StreamReader, base string, partitions int, group, consumer string, handler Handler, onDeliver func(), logf func(format string, args ...any)) *StreamConsumer {
	if base == "" {
		base = "payment_events"
	}
	if partitions < 1 {
		partitions = 1
	}
	if logf == nil {
		logf = log.Printf
	}
	return &StreamConsumer{
		client:     client,
		base:       base,
		partitions: partitions,
		group:      group,
		consumer:   consumer,
		handler:    handler,
		onDeliver:  onDeliver,
		block:      time.Second,
		logf:       logf,
	}
}

// Run creates the consumer group on every partition stream and consumes
// until the context is canceled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	streams := make([]string, 0, c.partitions*2)
	for i := 0; i < c.partitions; i++ {
		stream := StreamName(c.base, i)
		if err := c.ensureGroup(ctx, stream); err != nil {
			return err
		}
		streams = append(streams, stream)
	}
	for i := 0; i < c.partitions; i++ {
		streams = append(streams, ">")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.readOnce(ctx, streams); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logf("consumer %s read failed: %v", c.group, err)
		}
	}
}

func (c *StreamConsumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *StreamConsumer) readOnce(ctx context.Context, streams []string) error {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  streams,
		Count:    16,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			ev := eventFromValues(msg.Values)
			if c.onDeliver != nil {
				c.onDeliver()
			}
			if handleErr := c.handler.Handle(ctx, ev); handleErr != nil {
				c.logf("consumer %s: event for order %s: %v", c.group, ev.OrderID, handleErr)
			}
			if ackErr := c.client.XAck(ctx, stream.Stream, c.group, msg.ID).Err(); ackErr != nil {
				c.logf("consumer %s: ack %s on %s: %v", c.group, msg.ID, stream.Stream, ackErr)
			}
		}
	}
	return nil
}
