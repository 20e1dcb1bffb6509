package channel

import (
	"context"
	"fmt"

	"depot/internal/config"
	"depot/internal/depot"
)

// Channel is a content channel that can also publish items into public containers.
type Channel interface {
	depot.ContentChannel
	Publisher
}

// NewChannelFromConfig creates a Channel implementation based on the channel config type.
func NewChannelFromConfig(ctx context.Context, cfg config.ChannelConfig, clock depot.Clock) (Channel, error) {
	ttl, err := config.ParseDuration(cfg.PointerTTL, DefaultPointerTTL)
	if err != nil {
		return nil, fmt.Errorf("parsing pointer_ttl: %w", err)
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryChannel(clock, ttl), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem channel requires fs_root to be set")
		}
		ch, err := NewFileSystemChannel(cfg.FSRoot, clock, ttl)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case "s3":
		ch, err := NewS3Channel(ctx, S3Options{
			Bucket:     cfg.S3Bucket,
			Prefix:     cfg.S3Prefix,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			PathStyle:  cfg.S3PathStyle,
			PointerTTL: ttl,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	case "minio":
		ch, err := NewMinioChannel(MinioOptions{
			Endpoint:   cfg.MinioEndpoint,
			Bucket:     cfg.MinioBucket,
			Prefix:     cfg.MinioPrefix,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Secure:     cfg.MinioSecure,
			PointerTTL: ttl,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown channel type: %s", cfg.Type)
	}
}
