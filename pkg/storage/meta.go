package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetMeta reads a key from the meta table. ok is false if the key is unset.
func GetMeta(ctx context.Context, x dbtx, key string) (value string, ok bool, err error) {
	row := x.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: get meta %q: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a key in the meta table.
func SetMeta(ctx context.Context, x dbtx, key, value string) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("storage: set meta %q: %w", key, err)
	}
	return nil
}

// GetMeta is the Store-level convenience form, reading outside any
// caller-managed transaction.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	return GetMeta(ctx, s.db, key)
}

// SetMeta is the Store-level convenience form, writing outside any
// caller-managed transaction.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return SetMeta(ctx, s.db, key, value)
}
