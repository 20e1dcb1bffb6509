package database

import (
	"database/sql"
	"fmt"
	"strings"

	"depot/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// sqliteParams are applied to every connection in the pool.
// _txlock=immediate makes BEGIN take the write lock, so two transactions
// cannot both read a thread without a warehouse and then race to set it.
const sqliteParams = "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

// NewSQLiteDatabase opens a SQLite database. path can be a file path or
// ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return newSQLDatabase(db, migrations.SQLite), nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLDatabase {
	return newSQLDatabase(db, migrations.SQLite)
}

// OpenConnection opens and configures a SQLite connection pool.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	memory := path == "" || path == ":memory:"

	var dsn string
	if memory {
		dsn = ":memory:?" + sqliteParams
	} else {
		dsn = "file:" + path + "?" + sqliteParams + "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys on %s", strings.TrimPrefix(path, "file:"))
	}

	return db, nil
}
