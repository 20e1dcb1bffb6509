package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for depot.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	LogLevel  string          `toml:"log_level,omitempty"` // debug, info, warn or error
	Database  DatabaseConfig  `toml:"database"`
	Channel   ChannelConfig   `toml:"channel"`
	Warehouse WarehouseConfig `toml:"warehouse"`
	Pending   PendingConfig   `toml:"pending"`
	Notifier  NotifierConfig  `toml:"notifier"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Tasks     TasksConfig     `toml:"tasks"`
}

// DatabaseConfig represents configuration for the entity store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	// Postgres-specific fields (only used when Type == "postgres")
	DSN             string `toml:"dsn,omitempty"`
	MaxOpenConns    int    `toml:"max_open_conns,omitempty"`
	MaxIdleConns    int    `toml:"max_idle_conns,omitempty"`
	ConnMaxLifetime string `toml:"conn_max_lifetime,omitempty"`
}

// ChannelConfig represents configuration for the content channel that holds
// public and warehouse containers.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ChannelConfig struct {
	Type       string `toml:"type"`                  // "memory", "filesystem", "s3" or "minio"
	PointerTTL string `toml:"pointer_ttl,omitempty"` // lifetime of minted access pointers

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`

	// MinIO-specific fields (only used when Type == "minio")
	MinioEndpoint  string `toml:"minio_endpoint,omitempty"`
	MinioBucket    string `toml:"minio_bucket,omitempty"`
	MinioPrefix    string `toml:"minio_prefix,omitempty"`
	MinioAccessKey string `toml:"minio_access_key,omitempty"`
	MinioSecretKey string `toml:"minio_secret_key,omitempty"`
	MinioSecure    bool   `toml:"minio_secure,omitempty"`
}

// WarehouseConfig names the root under which warehouse containers are created.
type WarehouseConfig struct {
	Root       string `toml:"root"`
	NamePrefix string `toml:"name_prefix,omitempty"`
}

// PendingConfig represents configuration for the store of in-flight upload forms.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PendingConfig struct {
	Type     string `toml:"type"` // "memory" or "redis"
	RedisURL string `toml:"redis_url,omitempty"`
	Prefix   string `toml:"prefix,omitempty"`
	FormTTL  string `toml:"form_ttl,omitempty"`
}

// NotifierConfig represents configuration for direct-message reminders.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifierConfig struct {
	Type     string `toml:"type"` // "log" or "redis"
	RedisURL string `toml:"redis_url,omitempty"`
	Channel  string `toml:"channel,omitempty"`
}

// MetricsConfig holds the path of the Prometheus textfile written on exit.
// An empty Textfile disables the export.
type MetricsConfig struct {
	Textfile string `toml:"textfile,omitempty"`
}

// TasksConfig bounds post-commit background work.
type TasksConfig struct {
	Concurrency int64  `toml:"concurrency,omitempty"`
	Timeout     string `toml:"timeout,omitempty"`
}

// NewConfig creates a new Config with local defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Channel: ChannelConfig{
			Type:       "filesystem",
			FSRoot:     filepath.Join(baseDir, "channel"),
			PointerTTL: "15m",
		},
		Warehouse: WarehouseConfig{
			Root: "warehouse",
		},
		Pending: PendingConfig{
			Type:    "memory",
			FormTTL: "3m",
		},
		Notifier: NotifierConfig{
			Type: "log",
		},
		Tasks: TasksConfig{
			Concurrency: 4,
			Timeout:     "30s",
		},
	}
}

// ParseDuration parses s with time.ParseDuration, returning def for an empty string.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
