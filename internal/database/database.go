package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"depot/internal/database/migrations"
	"depot/internal/depot"
	"depot/internal/model"
)

// SQLDatabase implements depot.Store on top of database/sql for SQLite and
// PostgreSQL. The dialect selects the migration set.
type SQLDatabase struct {
	repository
	db *sql.DB
}

// sqlTx implements depot.Tx.
type sqlTx struct {
	repository
	tx *sql.Tx
}

// repository implements depot.Repository for any DBTX.
type repository struct {
	queries *Queries
	dialect migrations.Dialect
}

func newSQLDatabase(db *sql.DB, dialect migrations.Dialect) *SQLDatabase {
	return &SQLDatabase{
		repository: repository{queries: NewQueries(db), dialect: dialect},
		db:         db,
	}
}

// DB returns the underlying connection pool.
func (s *SQLDatabase) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of this database.
func (s *SQLDatabase) Dialect() migrations.Dialect {
	return s.dialect
}

// BeginTx starts a transaction.
func (s *SQLDatabase) BeginTx(ctx context.Context) (depot.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqlTx{
		repository: repository{queries: s.queries.WithTx(tx), dialect: s.dialect},
		tx:         tx,
	}, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

// CheckMigrations reports whether the schema is at the latest version.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// wrap maps uniqueness violations to depot.ErrDuplicate.
func (r *repository) wrap(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, depot.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// User operations

func (r *repository) GetUser(ctx context.Context, id string) (*model.User, error) {
	row, err := r.queries.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &model.User{ID: row.ID, ConsentGiven: row.ConsentGiven, CreatedAt: row.CreatedAt}, nil
}

func (r *repository) CreateUser(ctx context.Context, user *model.User) error {
	err := r.queries.InsertUser(ctx, userRow{
		ID:           user.ID,
		ConsentGiven: user.ConsentGiven,
		CreatedAt:    user.CreatedAt.UTC(),
	})
	if err != nil {
		return r.wrap("inserting user", err)
	}
	return nil
}

func (r *repository) SetUserConsent(ctx context.Context, id string, given bool) error {
	n, err := r.queries.UpdateUserConsent(ctx, given, id)
	if err != nil {
		return fmt.Errorf("updating user consent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating user consent: user %s does not exist", id)
	}
	return nil
}

// Thread operations

func (r *repository) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	row, err := r.queries.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting thread: %w", err)
	}
	return threadFromRow(row), nil
}

func (r *repository) GetThreadByPublicID(ctx context.Context, publicContainerID string) (*model.Thread, error) {
	row, err := r.queries.GetThreadByPublicID(ctx, publicContainerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting thread by public id: %w", err)
	}
	return threadFromRow(row), nil
}

func (r *repository) CreateThread(ctx context.Context, thread *model.Thread) error {
	if err := r.queries.InsertThread(ctx, threadToRow(thread)); err != nil {
		return r.wrap("inserting thread", err)
	}
	return nil
}

func (r *repository) SetThreadWarehouse(ctx context.Context, threadID string, expected *string, warehouseID string) (bool, error) {
	var (
		n   int64
		err error
	)
	if expected == nil {
		n, err = r.queries.SetWarehouseIfUnset(ctx, warehouseID, threadID)
	} else {
		n, err = r.queries.ReplaceWarehouse(ctx, warehouseID, threadID, *expected)
	}
	if err != nil {
		return false, r.wrap("setting thread warehouse", err)
	}
	return n == 1, nil
}

func (r *repository) UpdateThreadSettings(ctx context.Context, thread *model.Thread) error {
	if err := r.queries.UpdateThreadSettings(ctx, threadToRow(thread)); err != nil {
		return fmt.Errorf("updating thread settings: %w", err)
	}
	return nil
}

// Resource operations

func (r *repository) CreateResource(ctx context.Context, resource *model.Resource) error {
	if err := r.queries.InsertResource(ctx, resourceToRow(resource)); err != nil {
		return r.wrap("inserting resource", err)
	}
	return nil
}

func (r *repository) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	row, err := r.queries.GetResource(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting resource: %w", err)
	}
	return resourceFromRow(row), nil
}

func (r *repository) ListResourcesByThread(ctx context.Context, threadID string) ([]*model.Resource, error) {
	rows, err := r.queries.ListResourcesByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	resources := make([]*model.Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, resourceFromRow(row))
	}
	return resources, nil
}

func (r *repository) UpdateResource(ctx context.Context, resource *model.Resource) error {
	n, err := r.queries.UpdateResource(ctx, resourceToRow(resource))
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating resource: %s does not exist", resource.ID)
	}
	return nil
}

func (r *repository) IncrementDownloadCount(ctx context.Context, id string) error {
	n, err := r.queries.IncrementDownloadCount(ctx, id)
	if err != nil {
		return fmt.Errorf("incrementing download count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("incrementing download count: %s does not exist", id)
	}
	return nil
}

func (r *repository) DeleteResource(ctx context.Context, id string) (bool, error) {
	n, err := r.queries.DeleteResource(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting resource: %w", err)
	}
	return n > 0, nil
}

// Row conversion

func threadFromRow(row threadRow) *model.Thread {
	return &model.Thread{
		ID:                   row.ID,
		PublicContainerID:    row.PublicContainerID,
		WarehouseContainerID: fromNull(row.WarehouseContainerID),
		OwnerID:              row.OwnerID,
		QuickDeleteEnabled:   row.QuickDeleteEnabled,
		ReactionRequired:     row.ReactionRequired,
		ReactionEmoji:        fromNull(row.ReactionEmoji),
		CreatedAt:            row.CreatedAt,
	}
}

func threadToRow(t *model.Thread) threadRow {
	return threadRow{
		ID:                   t.ID,
		PublicContainerID:    t.PublicContainerID,
		WarehouseContainerID: toNull(t.WarehouseContainerID),
		OwnerID:              t.OwnerID,
		QuickDeleteEnabled:   t.QuickDeleteEnabled,
		ReactionRequired:     t.ReactionRequired,
		ReactionEmoji:        toNull(t.ReactionEmoji),
		CreatedAt:            t.CreatedAt.UTC(),
	}
}

func resourceFromRow(row resourceRow) *model.Resource {
	return &model.Resource{
		ID:            row.ID,
		ThreadID:      row.ThreadID,
		Mode:          model.ResourceMode(row.Mode),
		Filename:      fromNull(row.Filename),
		VersionLabel:  row.VersionLabel,
		Password:      fromNull(row.Password),
		Description:   fromNull(row.Description),
		SourceItemID:  row.SourceItemID,
		DownloadCount: row.DownloadCount,
		CreatedAt:     row.CreatedAt,
	}
}

func resourceToRow(r *model.Resource) resourceRow {
	return resourceRow{
		ID:            r.ID,
		ThreadID:      r.ThreadID,
		Mode:          string(r.Mode),
		Filename:      toNull(r.Filename),
		VersionLabel:  r.VersionLabel,
		Password:      toNull(r.Password),
		Description:   toNull(r.Description),
		SourceItemID:  r.SourceItemID,
		DownloadCount: r.DownloadCount,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Compile-time checks
var (
	_ depot.Store = (*SQLDatabase)(nil)
	_ depot.Tx    = (*sqlTx)(nil)
)
