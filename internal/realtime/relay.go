package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sitepulse/internal/logger"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "sitepulse:events"

const (
	redisPingTimeout    = 5 * time.Second
	relayReconnectDelay = 2 * time.Second
)

// NewRedisClient connects to a redis:// URL and verifies it with a ping.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisRelay publishes through a Redis channel and re-delivers every message
// it receives there to the local broker, so each server instance sees the
// inserts made by all the others.
type RedisRelay struct {
	client  *redis.Client
	local   Broker
	channel string
	log     logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay wires client to the local broker. An empty channel selects DefaultRelayChannel.
func NewRedisRelay(client *redis.Client, local Broker, channel string, log logger.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, local: local, channel: channel, log: log}
}

// Publish sends msg to every instance, this one included.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe delegates to the local broker.
func (r *RedisRelay) Subscribe(ctx context.Context, opts ...SubscribeOption) (<-chan Message, func()) {
	return r.local.Subscribe(ctx, opts...)
}

// Start subscribes to the relay channel. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	relayCtx, cancel := context.WithCancel(ctx)
	ps := r.client.Subscribe(relayCtx, r.channel)
	if _, err := ps.Receive(relayCtx); err != nil {
		cancel()
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	r.pubsub = ps
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.forward(relayCtx, ps)

	r.log.Info("realtime relay subscribed", logger.String("channel", r.channel))
	return nil
}

// Stop unsubscribes and waits for the forwarding loop to exit.
func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	ps, cancel, done := r.pubsub, r.cancel, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if ps == nil {
		return nil
	}
	cancel()
	err := ps.Close()
	<-done
	return err
}

func (r *RedisRelay) forward(ctx context.Context, ps *redis.PubSub) {
	defer close(r.done)
	for {
		m, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			r.log.Warn("realtime relay receive failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(relayReconnectDelay):
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			r.log.Warn("realtime relay dropped malformed message", logger.Error(err))
			continue
		}
		if err := r.local.Publish(ctx, msg); err != nil {
			r.log.Warn("realtime relay local publish failed", logger.Error(err))
		}
	}
}
