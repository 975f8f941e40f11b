package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "mclinic:events:"

// envelope is the wire format on the Redis channel. Origin identifies the
// publishing instance so it can skip its own echoes.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBroker fans events out across server instances. Local subscribers are
// served by an embedded Broker; Publish delivers locally and forwards to
// Redis, and events from other instances are replayed into the local Broker.
type RedisBroker struct {
	local  *Broker
	client redis.UniversalClient
	origin string
	logger zerolog.Logger
	pubsub *redis.PubSub
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBroker{
		local:  NewBroker(),
		client: client,
		origin: uuid.New().String(),
		logger: logger.With().Str("component", "events.redis").Logger(),
	}, nil
}

// Start subscribes to the shared channel pattern and replays remote events
// until ctx is cancelled or Close is called.
func (r *RedisBroker) Start(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe to redis events: %w", err)
	}
	r.pubsub = ps

	go func() {
		for msg := range ps.Channel() {
			r.handleMessage(msg.Payload)
		}
	}()
	return nil
}

func (r *RedisBroker) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed event")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.deliver(env.Event)
}

func (r *RedisBroker) Subscribe(topic string, h Handler) func() {
	return r.local.Subscribe(topic, h)
}

func (r *RedisBroker) Publish(ctx context.Context, event Event) error {
	r.local.deliver(event)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channelName(event.Topic), payload).Err(); err != nil {
		return fmt.Errorf("publish event to redis: %w", err)
	}
	return nil
}

func (r *RedisBroker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBroker) Close() error {
	if r.pubsub != nil {
		r.pubsub.Close()
	}
	return r.client.Close()
}

func channelName(topic string) string {
	return channelPrefix + strings.TrimSpace(topic)
}

// Client exposes the underlying connection for other Redis-backed stores.
func (r *RedisBroker) Client() redis.UniversalClient {
	return r.client
}
