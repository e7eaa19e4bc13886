/*
Package sync drives push/pull of oplog entries between the local store and
a remote backend (pkg/remote), maintaining per-device high-water marks in
the meta table and invoking replay (pkg/oplog) on whatever a pull returns.

Engine deliberately holds no state beyond its constructor arguments. Every
high-water mark and cursor lives in meta so a process can be killed and
restarted between any two steps without losing progress or double-counting
(see Push/Pull's idempotence).
*/
package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/tasksync/pkg/log"
	"github.com/cuemby/tasksync/pkg/oplog"
	"github.com/cuemby/tasksync/pkg/remote"
	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// Engine drives sync for one device against one remote.
type Engine struct {
	store    *storage.Store
	remote   remote.Backend
	deviceID string
}

// New returns an Engine that syncs store's oplog with remote on behalf of
// deviceID.
func New(store *storage.Store, rb remote.Backend, deviceID string) *Engine {
	return &Engine{store: store, remote: rb, deviceID: deviceID}
}

func pushRowidKey(deviceID string) string  { return fmt.Sprintf("push_rowid_%s", deviceID) }
func pullCursorKey(deviceID string) string { return fmt.Sprintf("pull_cursor_%s", deviceID) }

// Push reads this device's high-water mark, finds every local oplog entry
// it originated past that mark, pushes them to the remote, and advances
// the mark only after the remote confirms the write. It returns the count
// of entries pushed. A second Push with no intervening local write returns
// 0 (spec invariant: double-push writes 0 the second time).
func (e *Engine) Push(ctx context.Context) (int, error) {
	logger := log.WithDeviceID(e.deviceID)

	hwm, err := e.readRowidMeta(ctx, pushRowidKey(e.deviceID))
	if err != nil {
		return 0, err
	}

	records, err := storage.ListOplogByDeviceSinceRowID(ctx, e.store.DB(), e.deviceID, hwm)
	if err != nil {
		return 0, fmt.Errorf("sync: list unpushed entries: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	entries := make([]*types.OplogEntry, len(records))
	maxRowID := hwm
	for i, rec := range records {
		entries[i] = rec.Entry
		if rec.RowID > maxRowID {
			maxRowID = rec.RowID
		}
	}

	if err := e.remote.Push(ctx, entries); err != nil {
		return 0, fmt.Errorf("sync: push to remote: %w", err)
	}

	if err := e.store.SetMeta(ctx, pushRowidKey(e.deviceID), strconv.FormatInt(maxRowID, 10)); err != nil {
		return 0, fmt.Errorf("sync: persist push high-water mark: %w", err)
	}

	logger.Info().Int("pushed", len(entries)).Msg("push complete")
	return len(entries), nil
}

// Pull reads this device's pull cursor, fetches everything the remote has
// past it, replays the entire batch (including this device's own entries
// echoed back, replay's insert-ignore absorbs them harmlessly), advances
// the cursor, and returns the count of entries that originated elsewhere.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	logger := log.WithRemote(e.remote.Name())

	cursor, _, err := e.readCursorMeta(ctx)
	if err != nil {
		return 0, err
	}

	entries, nextCursor, err := e.remote.Pull(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("sync: pull from remote: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := oplog.Replay(ctx, e.store, entries); err != nil {
		return 0, fmt.Errorf("sync: replay pulled entries: %w", err)
	}

	if err := e.store.SetMeta(ctx, pullCursorKey(e.deviceID), nextCursor); err != nil {
		return 0, fmt.Errorf("sync: persist pull cursor: %w", err)
	}

	foreign := 0
	for _, en := range entries {
		if en.DeviceID != e.deviceID {
			foreign++
		}
	}

	logger.Info().Int("pulled", len(entries)).Int("foreign", foreign).Msg("pull complete")
	return foreign, nil
}

// Sync runs Push then Pull, returning each count.
func (e *Engine) Sync(ctx context.Context) (pushed int, pulled int, err error) {
	pushed, err = e.Push(ctx)
	if err != nil {
		return pushed, 0, err
	}
	pulled, err = e.Pull(ctx)
	return pushed, pulled, err
}

func (e *Engine) readRowidMeta(ctx context.Context, key string) (int64, error) {
	value, ok, err := e.store.GetMeta(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("sync: read %s: %w", key, err)
	}
	if !ok || value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sync: parse %s=%q: %w", key, value, err)
	}
	return n, nil
}

func (e *Engine) readCursorMeta(ctx context.Context) (string, bool, error) {
	value, ok, err := e.store.GetMeta(ctx, pullCursorKey(e.deviceID))
	if err != nil {
		return "", false, fmt.Errorf("sync: read pull cursor: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return value, true, nil
}

// Stats reports the engine's current high-water mark and pull cursor,
// mainly for CLI/HTTP status surfaces and tests, it performs no I/O
// beyond reading meta.
type Stats struct {
	DeviceID      string
	PushHighWater int64
	PullCursor    string
}

// Stats returns the engine's current sync position.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	hwm, err := e.readRowidMeta(ctx, pushRowidKey(e.deviceID))
	if err != nil {
		return Stats{}, err
	}
	cursor, _, err := e.readCursorMeta(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{DeviceID: e.deviceID, PushHighWater: hwm, PullCursor: cursor}, nil
}
