package database

import (
	"fmt"
	"os"
	"path/filepath"

	"depot/internal/config"
)

// NewDatabaseFromConfig creates a database based on the database config type.
// The schema is not migrated here; call Migrate or CheckMigrations.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "depot.db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		lifetime, err := config.ParseDuration(cfg.ConnMaxLifetime, 0)
		if err != nil {
			return nil, fmt.Errorf("parsing conn_max_lifetime: %w", err)
		}
		return NewPostgresDatabase(cfg.DSN, PostgresOptions{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
