/*
Package remote defines the abstract boundary between the sync engine and
any external oplog store, plus one concrete implementation backed by a
second file-backed relational store (pkg/storage).

A remote is deliberately narrow: push a batch, pull everything after a
resumable cursor, close. The sync engine (pkg/sync) owns all policy: high-water
marks, replay invocation, idempotence. A remote only needs to store and
return entries faithfully.
*/
package remote

import (
	"context"

	"github.com/cuemby/tasksync/pkg/types"
)

// Backend is the contract a sync engine drives push/pull against.
type Backend interface {
	// Push persists entries under their own ids (insert-ignore semantics):
	// pushing the same entry twice must not create a duplicate. The order
	// of entries within a batch need not be preserved, but the backend
	// must surface them in a stable, resumable order on Pull.
	Push(ctx context.Context, entries []*types.OplogEntry) error

	// Pull returns every entry the backend has strictly after cursor, and
	// an opaque token to pass as cursor on the next call. An empty cursor
	// means "from the beginning". Pulling repeatedly with the same cursor
	// must return the same entries.
	Pull(ctx context.Context, cursor string) (entries []*types.OplogEntry, nextCursor string, err error)

	// Close releases any resources held by the backend.
	Close() error

	// Name identifies the remote for logging, e.g. the path of a
	// filesystem remote.
	Name() string
}
