// Package notify delivers private reminders to actors.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"depot/internal/config"
	"depot/internal/depot"
)

// DefaultChannel is the pub/sub channel a chat front end subscribes to.
const DefaultChannel = "depot:notices"

// LogNotifier writes notices to the log. Used when no front end is attached.
type LogNotifier struct {
	logger depot.Logger
}

// NewLogNotifier creates a notifier that logs each notice at info level.
func NewLogNotifier(logger depot.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notice.
func (n *LogNotifier) Notify(ctx context.Context, notice depot.Notice) error {
	n.logger.Info("notice", "recipient", notice.RecipientID, "title", notice.Title, "link", notice.Link)
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error {
	return nil
}

// RedisNotifier publishes notices as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(redisURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisNotifierWithClient(client, channel), nil
}

// NewRedisNotifierWithClient creates a notifier from an existing Redis client.
func NewRedisNotifierWithClient(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes the notice. A notice with no subscribers is dropped by Redis
// and reported as delivered.
func (n *RedisNotifier) Notify(ctx context.Context, notice depot.Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Notifier is a depot.Notifier that holds resources to release on shutdown.
type Notifier interface {
	depot.Notifier
	Close() error
}

// NewNotifierFromConfig creates a notifier based on the notifier config type.
func NewNotifierFromConfig(cfg config.NotifierConfig, logger depot.Logger) (Notifier, error) {
	switch cfg.Type {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis notifier requires redis_url to be set")
		}
		n, err := NewRedisNotifier(cfg.RedisURL, cfg.Channel)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}

var (
	_ depot.Notifier = (*LogNotifier)(nil)
	_ depot.Notifier = (*RedisNotifier)(nil)
)
