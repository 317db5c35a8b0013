package events

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/metrics"
)

// Publish statuses recorded to metrics.
const (
	statusPublished = "published"
	statusDropped   = "dropped"
	statusFailed    = "failed"
)

// Sink accepts outbound events. Callers never block and never see errors;
// event delivery is best effort by contract.
type Sink interface {
	Publish(ev *Event)
}

// Discard is a Sink that drops everything. Used when events are disabled.
type Discard struct{}

func (Discard) Publish(*Event) {}

// Publisher buffers events in a ring and flushes them to Redis Streams
// from a single background goroutine. When the ring is full the oldest
// event is dropped so the caller never blocks.
type Publisher struct {
	client  redis.UniversalClient
	topics  config.TopicConfig
	timeout time.Duration

	// buffer carries one slot more than the configured capacity: the
	// write that catches the read index is the one that drops the oldest.
	buffer []*Event
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	flushCh chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup

	logger  *zap.Logger
	metrics metrics.Metrics
}

// NewPublisher creates a publisher and starts its flusher goroutine.
func NewPublisher(client redis.UniversalClient, cfg config.EventsConfig, logger *zap.Logger, m metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	size := cfg.PublishBuffer
	if size <= 0 {
		size = 1024
	}
	timeout := cfg.PublishTimeout.Std()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	p := &Publisher{
		client:  client,
		topics:  cfg.Topics,
		timeout: timeout,
		buffer:  make([]*Event, size+1),
		size:    size + 1,
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		logger:  logger,
		metrics: m,
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Publish enqueues an event for background delivery. Never blocks; with a
// full ring the oldest pending event is dropped.
func (p *Publisher) Publish(ev *Event) {
	p.mu.Lock()

	p.buffer[p.tail] = ev
	p.tail = (p.tail + 1) % p.size

	if p.tail == p.head {
		dropped := p.buffer[p.head]
		p.head = (p.head + 1) % p.size
		p.metrics.RecordEventPublished(TopicFor(dropped.Type, p.topics), statusDropped)
		p.logger.Warn("publish buffer full, dropped oldest event",
			zap.String("event_type", dropped.Type),
			zap.String("event_id", dropped.EventID))
	}
	p.metrics.UpdatePublishQueueDepth(p.depthLocked())
	p.mu.Unlock()

	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// run drains the ring whenever Publish signals, and once more on Close.
func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushCh:
			p.flush()
		case <-p.doneCh:
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	p.mu.Lock()
	pending := p.copyPendingLocked()
	p.metrics.UpdatePublishQueueDepth(0)
	p.mu.Unlock()

	for _, ev := range pending {
		p.send(ev)
	}
}

// copyPendingLocked drains the ring in arrival order.
func (p *Publisher) copyPendingLocked() []*Event {
	if p.head == p.tail {
		return nil
	}

	var pending []*Event
	for i := p.head; i != p.tail; i = (i + 1) % p.size {
		pending = append(pending, p.buffer[i])
		p.buffer[i] = nil
	}
	p.head = p.tail
	return pending
}

func (p *Publisher) depthLocked() int {
	return (p.tail - p.head + p.size) % p.size
}

func (p *Publisher) send(ev *Event) {
	topic := TopicFor(ev.Type, p.topics)
	if topic == "" {
		p.logger.Error("no stream for event type", zap.String("event_type", ev.Type))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: []interface{}{"event", Encode(ev)},
	}).Err()
	if err != nil {
		p.metrics.RecordEventPublished(topic, statusFailed)
		p.logger.Warn("event publish failed",
			zap.String("stream", topic),
			zap.String("event_type", ev.Type),
			zap.String("event_id", ev.EventID),
			zap.Error(err))
		return
	}

	p.metrics.RecordEventPublished(topic, statusPublished)
	p.logger.Debug("event published",
		zap.String("stream", topic),
		zap.String("event_type", ev.Type),
		zap.String("event_id", ev.EventID))
}

// Close flushes pending events and stops the flusher.
func (p *Publisher) Close() error {
	close(p.doneCh)
	p.wg.Wait()
	return nil
}
