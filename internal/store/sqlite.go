// Package store keeps the command audit log in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/cmdbot/internal/logging"
)

// MemoryPath opens a database that lives only as long as the process.
const MemoryPath = ":memory:"

// DB is the audit database handle.
type DB struct {
	sql  *sql.DB
	path string
	log  *logging.Logger
}

// Open opens or creates the database at path and brings its schema up to
// date. Parent directories of a file path are created as needed.
func Open(path string, log *logging.Logger) (*DB, error) {
	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if inMemory {
		// Every new connection to :memory: would see an empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	db := &DB{sql: sqlDB, path: path, log: log.Sub("store")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Debug().Str("path", path).Msg("audit database opened")
	return db, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// Close closes the database.
func (db *DB) Close() error {
	db.log.Debug().Str("path", db.path).Msg("closing audit database")
	return db.sql.Close()
}

// SQL returns the underlying *sql.DB.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// SchemaVersion returns the highest applied migration, or 0 for a fresh
// database.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (db *DB) migrate() error {
	if _, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	return nil
}

func (db *DB) apply(m migration) error {
	tx, err := db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
