package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"depot/internal/depot"
)

// DefaultPrefix namespaces draft keys.
const DefaultPrefix = "depot:draft:"

// RedisStore keeps drafts as JSON values whose TTL matches the draft expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  depot.Clock
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL, prefix string, clock depot.Clock) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client, prefix, clock), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, clock depot.Clock) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, clock: clock}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Put stores the draft until its expiry. Drafts that are already expired are not stored.
func (s *RedisStore) Put(ctx context.Context, draft *depot.Draft) error {
	ttl := draft.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(draft.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Get returns the draft, or nil if it is missing or expired.
func (s *RedisStore) Get(ctx context.Context, token string) (*depot.Draft, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup draft: %w", err)
	}

	var d depot.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	if !s.clock.Now().Before(d.ExpiresAt) {
		return nil, nil
	}
	return &d, nil
}

// Delete removes a draft.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ depot.DraftStore = (*RedisStore)(nil)
