package database

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL for every entity operation. Placeholders use the $N
// form in ascending order, which both SQLite and PostgreSQL accept.
type Queries struct {
	db DBTX
}

// NewQueries creates Queries bound to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Rows

type userRow struct {
	ID           string
	ConsentGiven bool
	CreatedAt    time.Time
}

type threadRow struct {
	ID                   string
	PublicContainerID    string
	WarehouseContainerID sql.NullString
	OwnerID              string
	QuickDeleteEnabled   bool
	ReactionRequired     bool
	ReactionEmoji        sql.NullString
	CreatedAt            time.Time
}

type resourceRow struct {
	ID            string
	ThreadID      string
	Mode          string
	Filename      sql.NullString
	VersionLabel  string
	Password      sql.NullString
	Description   sql.NullString
	SourceItemID  string
	DownloadCount int64
	CreatedAt     time.Time
}

// Users

const getUser = `SELECT id, consent_given, created_at FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id string) (userRow, error) {
	var u userRow
	err := q.db.QueryRowContext(ctx, getUser, id).Scan(&u.ID, &u.ConsentGiven, &u.CreatedAt)
	return u, err
}

const insertUser = `INSERT INTO users (id, consent_given, created_at) VALUES ($1, $2, $3)`

func (q *Queries) InsertUser(ctx context.Context, u userRow) error {
	_, err := q.db.ExecContext(ctx, insertUser, u.ID, u.ConsentGiven, u.CreatedAt)
	return err
}

const updateUserConsent = `UPDATE users SET consent_given = $1 WHERE id = $2`

func (q *Queries) UpdateUserConsent(ctx context.Context, given bool, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateUserConsent, given, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Threads

const threadColumns = `id, public_container_id, warehouse_container_id, owner_id,
	quick_delete_enabled, reaction_required, reaction_emoji, created_at`

func scanThread(row interface{ Scan(...any) error }) (threadRow, error) {
	var t threadRow
	err := row.Scan(&t.ID, &t.PublicContainerID, &t.WarehouseContainerID, &t.OwnerID,
		&t.QuickDeleteEnabled, &t.ReactionRequired, &t.ReactionEmoji, &t.CreatedAt)
	return t, err
}

const getThread = `SELECT ` + threadColumns + ` FROM threads WHERE id = $1`

func (q *Queries) GetThread(ctx context.Context, id string) (threadRow, error) {
	return scanThread(q.db.QueryRowContext(ctx, getThread, id))
}

const getThreadByPublicID = `SELECT ` + threadColumns + ` FROM threads WHERE public_container_id = $1`

func (q *Queries) GetThreadByPublicID(ctx context.Context, publicContainerID string) (threadRow, error) {
	return scanThread(q.db.QueryRowContext(ctx, getThreadByPublicID, publicContainerID))
}

const insertThread = `INSERT INTO threads (` + threadColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (q *Queries) InsertThread(ctx context.Context, t threadRow) error {
	_, err := q.db.ExecContext(ctx, insertThread, t.ID, t.PublicContainerID, t.WarehouseContainerID, t.OwnerID,
		t.QuickDeleteEnabled, t.ReactionRequired, t.ReactionEmoji, t.CreatedAt)
	return err
}

const setWarehouseIfUnset = `UPDATE threads SET warehouse_container_id = $1
	WHERE id = $2 AND warehouse_container_id IS NULL`

func (q *Queries) SetWarehouseIfUnset(ctx context.Context, warehouseID, threadID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, setWarehouseIfUnset, warehouseID, threadID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const replaceWarehouse = `UPDATE threads SET warehouse_container_id = $1
	WHERE id = $2 AND warehouse_container_id = $3`

func (q *Queries) ReplaceWarehouse(ctx context.Context, warehouseID, threadID, expected string) (int64, error) {
	res, err := q.db.ExecContext(ctx, replaceWarehouse, warehouseID, threadID, expected)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateThreadSettings = `UPDATE threads
	SET quick_delete_enabled = $1, reaction_required = $2, reaction_emoji = $3
	WHERE id = $4`

func (q *Queries) UpdateThreadSettings(ctx context.Context, t threadRow) error {
	_, err := q.db.ExecContext(ctx, updateThreadSettings, t.QuickDeleteEnabled, t.ReactionRequired, t.ReactionEmoji, t.ID)
	return err
}

// Resources

const resourceColumns = `id, thread_id, mode, filename, version_label, password,
	description, source_item_id, download_count, created_at`

func scanResource(row interface{ Scan(...any) error }) (resourceRow, error) {
	var r resourceRow
	err := row.Scan(&r.ID, &r.ThreadID, &r.Mode, &r.Filename, &r.VersionLabel, &r.Password,
		&r.Description, &r.SourceItemID, &r.DownloadCount, &r.CreatedAt)
	return r, err
}

const insertResource = `INSERT INTO resources (` + resourceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (q *Queries) InsertResource(ctx context.Context, r resourceRow) error {
	_, err := q.db.ExecContext(ctx, insertResource, r.ID, r.ThreadID, r.Mode, r.Filename, r.VersionLabel,
		r.Password, r.Description, r.SourceItemID, r.DownloadCount, r.CreatedAt)
	return err
}

const getResource = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

func (q *Queries) GetResource(ctx context.Context, id string) (resourceRow, error) {
	return scanResource(q.db.QueryRowContext(ctx, getResource, id))
}

const listResourcesByThread = `SELECT ` + resourceColumns + ` FROM resources
	WHERE thread_id = $1 ORDER BY created_at, id`

func (q *Queries) ListResourcesByThread(ctx context.Context, threadID string) ([]resourceRow, error) {
	rows, err := q.db.QueryContext(ctx, listResourcesByThread, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []resourceRow
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateResource = `UPDATE resources
	SET filename = $1, version_label = $2, password = $3, description = $4
	WHERE id = $5`

func (q *Queries) UpdateResource(ctx context.Context, r resourceRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateResource, r.Filename, r.VersionLabel, r.Password, r.Description, r.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const incrementDownloadCount = `UPDATE resources SET download_count = download_count + 1 WHERE id = $1`

func (q *Queries) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, incrementDownloadCount, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteResource = `DELETE FROM resources WHERE id = $1`

func (q *Queries) DeleteResource(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteResource, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
