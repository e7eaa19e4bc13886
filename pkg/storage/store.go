package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/tasksync/pkg/log"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx. Every read/write helper in
// this package takes one so callers decide whether an operation runs
// standalone or as part of a larger transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the embedded relational store. A Store owns exactly one
// underlying connection; it is safe for concurrent use by multiple
// goroutines (database/sql serializes them), but the core's own
// single-threaded-per-handle model (spec §5) assumes one logical owner at
// a time.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) a SQLite database at path, configures
// WAL mode, and applies all pending migrations. Parent directories are
// created as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// Single-connection semantics: one physical connection, reused by every
	// caller, so a transaction started by one goroutine is never split
	// across two SQLite connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	version, dirty, err := migrationState(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: read migration state: %w", err)
	}
	if dirty {
		db.Close()
		return nil, fmt.Errorf("storage: schema is in a dirty state at version %d, needs manual repair", version)
	}
	if err := s.SetMeta(context.Background(), "schema_version", fmt.Sprintf("%d", version)); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: record schema_version: %w", err)
	}

	log.WithComponent("storage").Debug().Int("schema_version", version).Str("path", path).Msg("store opened")
	return s, nil
}

// DB returns the underlying connection pool for packages (pkg/taskcore,
// pkg/oplog, pkg/sync) that need to run their own statements or start a
// transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the filesystem path the store was opened against.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single SQL transaction, committing on success and
// rolling back on error or panic. Every mutation that must keep tasks and
// oplog in lockstep (spec §5: "tasks and oplog must be written under the
// same transaction") goes through this.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("storage: tx failed (%v) and rollback failed: %w", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// Backup writes a consistent point-in-time copy of the store to dstPath
// using SQLite's VACUUM INTO, which is safe to run against a live,
// WAL-mode database, unlike copying the file bytes directly, it cannot
// observe an in-flight write.
func (s *Store) Backup(ctx context.Context, dstPath string) error {
	if dir := filepath.Dir(dstPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create backup dir: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dstPath); err != nil {
		return fmt.Errorf("storage: backup: %w", err)
	}
	return nil
}
