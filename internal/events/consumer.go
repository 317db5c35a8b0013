package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/metrics"
)

// Consume statuses recorded to metrics.
const (
	statusProcessed    = "processed"
	statusRetried      = "retried"
	statusDeadLettered = "dead_lettered"
	statusMalformed    = "malformed"
	statusRejected     = "rejected"
)

// Handler processes inbound tenant lifecycle events. A Retryable error
// leaves the message pending for redelivery; any other error rejects it.
type Handler interface {
	HandleTenantCreated(ctx context.Context, ev *Event) error
	HandleTenantDeactivated(ctx context.Context, ev *Event) error
}

// Consumer reads tenant lifecycle streams through a consumer group.
// Failed retryable messages stay pending and a reclaim pass redelivers
// them with exponential backoff until they hit the dead-letter stream.
type Consumer struct {
	client  redis.UniversalClient
	cfg     config.EventsConfig
	handler Handler
	logger  *zap.Logger
	metrics metrics.Metrics

	name       string
	streams    []string
	workers    int
	batch      int
	block      time.Duration
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer for the tenant lifecycle streams.
func NewConsumer(client redis.UniversalClient, cfg config.EventsConfig, handler Handler, logger *zap.Logger, m metrics.Metrics) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	name := cfg.ConsumerName
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "authz-consumer"
	}

	c := &Consumer{
		client:     client,
		cfg:        cfg,
		handler:    handler,
		logger:     logger,
		metrics:    m,
		name:       name,
		streams:    []string{cfg.Topics.TenantCreated, cfg.Topics.TenantDeactivated},
		workers:    cfg.ConsumerWorkers,
		batch:      cfg.ConsumerBatch,
		block:      cfg.BlockTimeout.Std(),
		maxRetries: cfg.MaxRetries,
		backoffMin: cfg.RetryBackoffMin.Std(),
		backoffMax: cfg.RetryBackoffMax.Std(),
	}
	if c.workers <= 0 {
		c.workers = 2
	}
	if c.batch <= 0 {
		c.batch = 5
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 5
	}
	if c.backoffMin <= 0 {
		c.backoffMin = time.Second
	}
	if c.backoffMax < c.backoffMin {
		c.backoffMax = 16 * time.Second
	}
	return c
}

// Start creates the consumer groups and launches the worker and reclaim
// goroutines. Stop with Close.
func (c *Consumer) Start(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.ConsumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group on %s: %w", stream, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.readLoop(runCtx, fmt.Sprintf("%s-%d", c.name, i))
	}

	c.wg.Add(1)
	go c.reclaimLoop(runCtx)

	c.logger.Info("event consumer started",
		zap.Strings("streams", c.streams),
		zap.String("group", c.cfg.ConsumerGroup),
		zap.Int("workers", c.workers))
	return nil
}

// Close stops the consumer and waits for in-flight messages.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) readLoop(ctx context.Context, consumer string) {
	defer c.wg.Done()

	streams := make([]string, 0, len(c.streams)*2)
	streams = append(streams, c.streams...)
	for range c.streams {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.ConsumerGroup,
			Consumer: consumer,
			Streams:  streams,
			Count:    int64(c.batch),
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.logger.Warn("stream read failed", zap.Error(err))
			select {
			case <-time.After(c.backoffMin):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				c.process(ctx, stream.Stream, msg)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, stream string, msg redis.XMessage) {
	ev, err := decodeMessage(msg)
	if err != nil {
		c.ack(ctx, stream, msg.ID)
		c.metrics.RecordEventConsumed(stream, statusMalformed)
		c.logger.Error("dropping malformed event",
			zap.String("stream", stream),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	err = c.dispatch(ctx, ev)
	switch {
	case err == nil:
		c.ack(ctx, stream, msg.ID)
		c.metrics.RecordEventConsumed(stream, statusProcessed)
	case autherr.Retryable(err):
		// Not acked. The reclaim pass redelivers after backoff.
		c.metrics.RecordEventConsumed(stream, statusRetried)
		c.logger.Warn("event processing failed, leaving pending",
			zap.String("stream", stream),
			zap.String("message_id", msg.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
	default:
		c.ack(ctx, stream, msg.ID)
		c.metrics.RecordEventConsumed(stream, statusRejected)
		c.logger.Error("event rejected",
			zap.String("stream", stream),
			zap.String("message_id", msg.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
	}
}

func (c *Consumer) dispatch(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case TypeTenantCreated:
		return c.handler.HandleTenantCreated(ctx, ev)
	case TypeTenantDeactivated:
		return c.handler.HandleTenantDeactivated(ctx, ev)
	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.cfg.ConsumerGroup, id).Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("ack failed",
			zap.String("stream", stream),
			zap.String("message_id", id),
			zap.Error(err))
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.backoffMin)
	defer ticker.Stop()

	consumer := c.name + "-reclaim"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.streams {
				c.reclaim(ctx, stream, consumer)
			}
		}
	}
}

// reclaim redelivers pending messages whose backoff has elapsed and moves
// exhausted ones to the dead-letter stream.
func (c *Consumer) reclaim(ctx context.Context, stream, consumer string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			c.logger.Warn("pending scan failed", zap.String("stream", stream), zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if entry.RetryCount > int64(c.maxRetries) {
			c.deadLetter(ctx, stream, consumer, entry)
			continue
		}

		backoff := c.backoffFor(entry.RetryCount)
		if entry.Idle < backoff {
			continue
		}

		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.cfg.ConsumerGroup,
			Consumer: consumer,
			MinIdle:  backoff,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil || len(msgs) == 0 {
			// Another instance claimed it first.
			continue
		}
		c.process(ctx, stream, msgs[0])
	}
}

func (c *Consumer) deadLetter(ctx context.Context, stream, consumer string, entry redis.XPendingExt) {
	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    c.cfg.ConsumerGroup,
		Consumer: consumer,
		Messages: []string{entry.ID},
	}).Result()
	if err != nil || len(msgs) == 0 {
		return
	}
	msg := msgs[0]

	err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Topics.TenantDLQ,
		Values: []interface{}{
			"event", msg.Values["event"],
			"source_stream", stream,
			"message_id", msg.ID,
			"deliveries", entry.RetryCount,
		},
	}).Err()
	if err != nil {
		// Not acked; the next pass tries again.
		c.logger.Error("dead-letter publish failed",
			zap.String("stream", stream),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	c.ack(ctx, stream, msg.ID)
	c.metrics.RecordEventConsumed(stream, statusDeadLettered)
	c.logger.Error("event dead-lettered",
		zap.String("stream", stream),
		zap.String("dlq", c.cfg.Topics.TenantDLQ),
		zap.String("message_id", msg.ID),
		zap.Int64("deliveries", entry.RetryCount))
}

// backoffFor doubles from the configured minimum per delivery, capped at
// the maximum: 1s, 2s, 4s, 8s, 16s with the defaults.
func (c *Consumer) backoffFor(retryCount int64) time.Duration {
	d := c.backoffMin
	for i := int64(1); i < retryCount; i++ {
		d *= 2
		if d >= c.backoffMax {
			return c.backoffMax
		}
	}
	return d
}

func decodeMessage(msg redis.XMessage) (*Event, error) {
	raw, ok := msg.Values["event"]
	if !ok {
		return nil, fmt.Errorf("message %s has no event field", msg.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("message %s event field is %T", msg.ID, raw)
	}
	return Decode([]byte(s))
}
