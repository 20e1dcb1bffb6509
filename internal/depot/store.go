package depot

import (
	"context"
	"fmt"

	"depot/internal/model"
)

// Repository provides typed access to users, threads and resources.
// Lookups return (nil, nil) when no row matches. Writes that violate a
// uniqueness constraint return an error wrapping ErrDuplicate.
type Repository interface {
	// User operations

	GetUser(ctx context.Context, id string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	SetUserConsent(ctx context.Context, id string, given bool) error

	// Thread operations

	GetThread(ctx context.Context, id string) (*model.Thread, error)
	GetThreadByPublicID(ctx context.Context, publicContainerID string) (*model.Thread, error)
	CreateThread(ctx context.Context, thread *model.Thread) error

	// SetThreadWarehouse records warehouseID on the thread only if the current value
	// still equals expected (nil meaning unset). It reports whether the row changed.
	SetThreadWarehouse(ctx context.Context, threadID string, expected *string, warehouseID string) (bool, error)

	// UpdateThreadSettings overwrites the quick-delete and reaction settings.
	UpdateThreadSettings(ctx context.Context, thread *model.Thread) error

	// Resource operations

	CreateResource(ctx context.Context, resource *model.Resource) error
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	// ListResourcesByThread returns resources ordered by creation time, oldest first.
	ListResourcesByThread(ctx context.Context, threadID string) ([]*model.Resource, error)
	// UpdateResource overwrites filename, version label, password and description.
	UpdateResource(ctx context.Context, resource *model.Resource) error
	IncrementDownloadCount(ctx context.Context, id string) error
	// DeleteResource reports whether a row was removed.
	DeleteResource(ctx context.Context, id string) (bool, error)
}

// Store is the transactional entity store. Methods called directly on the
// Store run in their own implicit transaction and are committed immediately.
type Store interface {
	Repository
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an open transaction. Every write is visible to later reads on the
// same Tx before Commit. Rollback after Commit is a no-op.
type Tx interface {
	Repository
	Commit() error
	Rollback() error
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func withTx(ctx context.Context, store Store, fn func(repo Repository) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
