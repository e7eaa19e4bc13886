package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/cuemby/tasksync/pkg/log"
	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// DefaultBatchSize bounds how many entries one Pull returns when the
// caller doesn't override it.
const DefaultBatchSize = 500

// Filesystem is a Backend backed by a second file-backed store at a
// caller-supplied path. Two processes (or one process at different times)
// holding the same path share the log; file-level locking is inherited
// from the underlying store's WAL mode.
type Filesystem struct {
	store     *storage.Store
	batchSize int
}

// OpenFilesystem opens (creating if absent, parent directories included)
// the store at path as a filesystem remote. batchSize <= 0 uses
// DefaultBatchSize.
func OpenFilesystem(path string, batchSize int) (*Filesystem, error) {
	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("remote: open filesystem backend at %s: %w", path, err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Filesystem{store: store, batchSize: batchSize}, nil
}

// Push inserts entries under ignore-on-conflict semantics keyed by id.
func (f *Filesystem) Push(ctx context.Context, entries []*types.OplogEntry) error {
	logger := log.WithComponent("remote.filesystem")
	return f.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			inserted, err := storage.InsertOplogEntry(ctx, tx, e)
			if err != nil {
				return err
			}
			if !inserted {
				logger.Debug().Str("entry_id", e.ID).Msg("push: entry already present, ignored")
			}
		}
		return nil
	})
}

// Pull returns entries with rowid > cursor (cursor == "" means rowid 0),
// up to batchSize, and the new max rowid as the next cursor. Pulling with
// the same cursor repeatedly returns the same entries since rowid only
// advances on Push.
func (f *Filesystem) Pull(ctx context.Context, cursor string) ([]*types.OplogEntry, string, error) {
	since, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	records, err := storage.ListOplogSinceRowID(ctx, f.store.DB(), since, f.batchSize)
	if err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, cursor, nil
	}

	entries := make([]*types.OplogEntry, len(records))
	maxRowID := since
	for i, rec := range records {
		entries[i] = rec.Entry
		if rec.RowID > maxRowID {
			maxRowID = rec.RowID
		}
	}
	return entries, strconv.FormatInt(maxRowID, 10), nil
}

// Close releases the underlying store's connection.
func (f *Filesystem) Close() error {
	return f.store.Close()
}

// Name returns the filesystem path backing this remote.
func (f *Filesystem) Name() string {
	return f.store.Path()
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("remote: invalid cursor %q: %w", cursor, err)
	}
	return n, nil
}
