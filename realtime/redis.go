// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/bookclub-vote/models"
	"github.com/redis/go-redis/v9"
)

// EventChannel is the Redis pub/sub channel shared by every instance.
const EventChannel = "bookclub:poll-events"

// RedisPublisher publishes events through Redis so that every instance's
// hub sees them, including the one that published.
type RedisPublisher struct {
	rdb *redis.Client
	hub *Hub
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(ctx context.Context, redisURL string, hub *Hub) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisPublisher{rdb: rdb, hub: hub}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, event models.PollEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode poll event: %w", err)
	}
	if err := p.rdb.Publish(ctx, EventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish poll event: %w", err)
	}
	return nil
}

// Relay forwards events from Redis into the local hub until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context) error {
	pubsub := p.rdb.Subscribe(ctx, EventChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.PollEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("ignoring malformed poll event", "error", err)
				continue
			}
			if err := p.hub.Publish(ctx, event); err != nil {
				return err
			}
		}
	}
}

// Ping reports whether Redis is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
