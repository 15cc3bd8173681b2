package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sitepulse/internal/logger"
)

const (
	DefaultPublishBuffer    = 1024
	DefaultSubscriberBuffer = 64
	DefaultMaxSubscribers   = 500
	defaultShutdownTimeout  = 5 * time.Second
)

type subscriber struct {
	id     uint64
	msgs   chan Message
	filter Filter
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.msgs)
}

// deliver reports false when the subscriber's buffer is full.
func (s *subscriber) deliver(msg Message) bool {
	if s.filter != nil && !s.filter(msg) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.msgs <- msg:
		return true
	default:
		return false
	}
}

type broker struct {
	log logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64

	publish chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subscriberBuffer int
	maxSubscribers   int
}

// BrokerOption configures NewBroker.
type BrokerOption func(*broker)

// WithSubscriberBuffer sets the default per-subscriber buffer.
func WithSubscriberBuffer(n int) BrokerOption {
	return func(b *broker) {
		if n > 0 {
			b.subscriberBuffer = n
		}
	}
}

// WithMaxSubscribers caps concurrent subscriptions; 0 means unlimited.
func WithMaxSubscribers(n int) BrokerOption {
	return func(b *broker) { b.maxSubscribers = n }
}

// NewBroker creates an in-process broker. Call Start before publishing.
func NewBroker(log logger.Logger, opts ...BrokerOption) Broker {
	b := &broker{
		log:              log,
		subs:             make(map[uint64]*subscriber),
		publish:          make(chan Message, DefaultPublishBuffer),
		subscriberBuffer: DefaultSubscriberBuffer,
		maxSubscribers:   DefaultMaxSubscribers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *broker) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.loop()
	b.log.Info("realtime broker started",
		logger.Int("subscriber_buffer", b.subscriberBuffer),
		logger.Int("max_subscribers", b.maxSubscribers))
	return nil
}

func (b *broker) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
		b.log.Warn("realtime broker shutdown timed out")
	}
	return nil
}

// Publish enqueues msg without blocking; a full queue drops it.
func (b *broker) Publish(ctx context.Context, msg Message) error {
	select {
	case b.publish <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish queue full, dropped %s", msg.Type)
	}
}

func (b *broker) Subscribe(ctx context.Context, opts ...SubscribeOption) (<-chan Message, func()) {
	o := subscribeOptions{bufferSize: b.subscriberBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	if b.maxSubscribers > 0 && b.SubscriberCount() >= b.maxSubscribers {
		b.log.Warn("realtime subscriber limit reached", logger.Int("max_subscribers", b.maxSubscribers))
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		id:     b.nextID.Add(1),
		msgs:   make(chan Message, o.bufferSize),
		filter: o.filter,
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	go func() {
		<-s.ctx.Done()
		b.remove(s.id)
	}()

	return s.msgs, func() { b.remove(s.id) }
}

func (b *broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *broker) loop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.publish:
			b.broadcast(msg)
		case <-b.ctx.Done():
			b.closeAll()
			return
		}
	}
}

func (b *broker) broadcast(msg Message) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(msg) {
			b.log.Warn("realtime subscriber too slow, disconnecting",
				logger.Uint("project_id", msg.ProjectID), logger.String("type", msg.Type))
			b.remove(s.id)
		}
	}
}

func (b *broker) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
