package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRelayChannel = "wssimple:broadcast"
	presenceKeyPrefix   = "wssimple:conn:"
)

// RedisRelay forwards broadcasts through Redis pub/sub and keeps a
// connection -> server presence key per registered connection.
type RedisRelay struct {
	client      *redis.Client
	serverId    string
	channel     string
	presenceTTL time.Duration

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup

	logger *slog.Logger
}

type RedisRelayOption func(*RedisRelay)

func WithRelayChannel(channel string) RedisRelayOption {
	return func(r *RedisRelay) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithPresenceTTL expires presence keys; zero keeps them until Forget. The
// server re-announces live connections on every ping, so the TTL bounds how
// long a crashed node's connections stay locatable.
func WithPresenceTTL(ttl time.Duration) RedisRelayOption {
	return func(r *RedisRelay) {
		r.presenceTTL = ttl
	}
}

func WithRelayLogger(logger *slog.Logger) RedisRelayOption {
	return func(r *RedisRelay) {
		r.logger = logger
	}
}

func NewRedisRelay(client *redis.Client, serverId string, opts ...RedisRelayOption) *RedisRelay {
	r := &RedisRelay{
		client:   client,
		serverId: serverId,
		channel:  defaultRelayChannel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "redis_relay", "server_id", serverId)
	return r
}

func (r *RedisRelay) ServerId() string {
	return r.serverId
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	msg.FromServerId = r.serverId

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msgBytes).Err(); err != nil {
		return fmt.Errorf("ws: publish relay message: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, handler func(RelayMessage)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return errors.New("ws: relay already subscribed")
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("ws: subscribe relay channel: %w", err)
	}
	r.pubsub = pubsub

	r.wg.Add(1)
	go r.consume(pubsub.Channel(), handler)

	r.logger.Info("relay subscriber started", "channel", r.channel)
	return nil
}

func (r *RedisRelay) consume(ch <-chan *redis.Message, handler func(RelayMessage)) {
	defer r.wg.Done()

	for msg := range ch {
		var relayMsg RelayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &relayMsg); err != nil {
			r.logger.Warn("invalid relay message", "error", err)
			continue
		}

		// Don't process messages we sent ourselves
		if relayMsg.FromServerId == r.serverId {
			continue
		}

		handler(relayMsg)
	}
}

func (r *RedisRelay) Announce(ctx context.Context, connectionId string) error {
	return r.client.Set(ctx, presenceKey(connectionId), r.serverId, r.presenceTTL).Err()
}

func (r *RedisRelay) Forget(ctx context.Context, connectionId string) error {
	return r.client.Del(ctx, presenceKey(connectionId)).Err()
}

func (r *RedisRelay) Locate(ctx context.Context, connectionId string) (string, bool, error) {
	serverId, err := r.client.Get(ctx, presenceKey(connectionId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return serverId, true, nil
}

// Close stops the subscriber. The redis client is owned by the caller.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	r.wg.Wait()
	return err
}

func presenceKey(connectionId string) string {
	return presenceKeyPrefix + connectionId + ":server"
}
