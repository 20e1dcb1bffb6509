package pending

import (
	"fmt"

	"depot/internal/config"
	"depot/internal/depot"
)

// Store is a draft store that holds a connection to release on shutdown.
type Store interface {
	depot.DraftStore
	Close() error
}

// NewStoreFromConfig creates a draft store based on the pending config type.
func NewStoreFromConfig(cfg config.PendingConfig, clock depot.Clock) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(clock), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis draft store requires redis_url to be set")
		}
		s, err := NewRedisStore(cfg.RedisURL, cfg.Prefix, clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown pending store type: %s", cfg.Type)
	}
}
