// Package realtime carries quiz events to connected participants. Core
// components publish through an injected capability (quiz.Publisher); this
// package routes those events over Redis Pub/Sub to a per-process WebSocket
// hub keyed by quiz-date topic.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// defaultChannelPrefix is the Redis Pub/Sub channel namespace for quiz
// events. One channel per quiz-date topic.
const defaultChannelPrefix = "quiz:events"

// Envelope wraps an event with its topic for transport.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RedisPublisher fans events out through Redis Pub/Sub so every API process
// can deliver them to its own connected clients.
type RedisPublisher struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisPublisher builds a publisher. An empty prefix uses the default
// channel namespace.
func NewRedisPublisher(rdb *redis.Client, prefix string, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPublisher{
		redis:  rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// Publish sends an event to the given quiz-date topic.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	env, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.redis.Publish(ctx, p.channel(topic), env).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) channel(topic string) string {
	return fmt.Sprintf("%s:%s", p.prefix, topic)
}

// Broadcaster subscribes to the event channels and forwards every envelope
// to the local hub's matching topic.
type Broadcaster struct {
	redis  *redis.Client
	hub    *Hub
	prefix string
	logger zerolog.Logger
}

// NewBroadcaster builds the Pub/Sub to WebSocket bridge.
func NewBroadcaster(rdb *redis.Client, hub *Hub, prefix string, logger zerolog.Logger) *Broadcaster {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &Broadcaster{
		redis:  rdb,
		hub:    hub,
		prefix: prefix,
		logger: logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Run blocks consuming events until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil || b.hub == nil {
		return nil
	}

	sub := b.redis.PSubscribe(ctx, b.prefix+":*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(msg.Payload)
		}
	}
}

func (b *Broadcaster) forward(raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn().Err(err).Msg("failed to decode event envelope")
		return
	}
	b.hub.Broadcast(env.Topic, env.Payload)
}
