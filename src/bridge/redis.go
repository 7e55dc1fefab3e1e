package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Publish when the outbound queue is saturated.
var ErrQueueFull = errors.New("bridge publish queue full")

const publishQueueSize = 1024

// redisEnvelope wraps an envelope with the originating instance ID
// so that a node can skip its own published envelopes.
type redisEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisBridge relays envelopes between relay instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger
	outbox     chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg config.RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Prefix + "broadcast",
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		outbox:     make(chan []byte, publishQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this relay instance on the bridge.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the Redis broadcast channel and begins relaying envelopes.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		sub.Close()
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(2)
	go b.listen(sub)
	go b.publishLoop()

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish queues an envelope for other instances. The hub calls this from its
// event loop, so it never waits on Redis.
func (b *RedisBridge) Publish(payload []byte) error {
	select {
	case b.outbox <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *RedisBridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case payload := <-b.outbox:
			data, err := b.encode(payload)
			if err != nil {
				b.logger.Error().Err(err).Msg("failed to encode envelope")
				continue
			}
			if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
				b.logger.Error().Err(err).Msg("redis publish failed")
			}
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBridge) encode(payload []byte) ([]byte, error) {
	return json.Marshal(redisEnvelope{
		InstanceID: b.instanceID,
		Payload:    payload,
	})
}

// listen reads messages from the Redis subscription and forwards to the local hub.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(msg.Payload)
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and forwards non-self envelopes to the hub.
func (b *RedisBridge) handleRedisMessage(raw string) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip envelopes that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}
	if len(env.Payload) == 0 {
		b.logger.Warn().Str("from_instance", env.InstanceID).Msg("empty envelope from redis")
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Msg("relaying envelope from redis")

	b.hub.BroadcastToLocal(env.Payload)
}
