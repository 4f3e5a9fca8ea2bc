package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// DB wraps the SQLite database holding every owner's records, embeddings and
// cache metadata. A DB is a scoped resource: open it at the start of an
// operation and Close it on every exit path.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// The parent directory is created on first use. Use ":memory:" for an
// in-memory database (useful for testing).
func Open(path string) (*DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(ON)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		// Write transactions take the RESERVED lock at BEGIN so two
		// ingestions never deadlock upgrading from a shared lock.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_txlock=immediate"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(4)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &DB{db: sqlDB}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	var version int
	err := d.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := d.migrateV1(); err != nil {
			return err
		}
	}

	_, err = d.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	if err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}

	return nil
}

func (d *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			username TEXT PRIMARY KEY,
			last_refresh INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS repos (
			username TEXT NOT NULL REFERENCES owners(username),
			id INTEGER NOT NULL,
			full_name TEXT NOT NULL,
			name TEXT NOT NULL,
			owner_login TEXT NOT NULL,
			html_url TEXT NOT NULL,
			description TEXT,
			language TEXT,
			stars INTEGER NOT NULL,
			forks INTEGER,
			open_issues INTEGER,
			updated_at TEXT NOT NULL,
			created_at TEXT,
			raw TEXT NOT NULL,
			PRIMARY KEY (username, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repos_username_language ON repos(username, language COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS repo_vectors (
			username TEXT NOT NULL,
			id INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			PRIMARY KEY (username, id),
			FOREIGN KEY (username, id) REFERENCES repos(username, id) ON DELETE CASCADE
		)`,
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration statement: %w", err)
		}
	}

	return tx.Commit()
}
