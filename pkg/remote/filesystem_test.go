package remote

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/tasksync/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestFilesystem(t *testing.T, batchSize int) *Filesystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.db")
	f, err := OpenFilesystem(path, batchSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func entry(id, taskID string) *types.OplogEntry {
	return &types.OplogEntry{
		ID:        id,
		TaskID:    taskID,
		DeviceID:  "dev-a",
		OpType:    types.OpCreate,
		Timestamp: types.Now(),
	}
}

func TestFilesystemPushThenPullFromBeginning(t *testing.T) {
	f := openTestFilesystem(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Push(ctx, []*types.OplogEntry{entry("e1", "t1"), entry("e2", "t2")}))

	entries, cursor, err := f.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "2", cursor)
}

func TestFilesystemPullIsResumable(t *testing.T) {
	f := openTestFilesystem(t, 0)
	ctx := context.Background()

	require.NoError(t, f.Push(ctx, []*types.OplogEntry{entry("e1", "t1")}))
	entries, cursor, err := f.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.Push(ctx, []*types.OplogEntry{entry("e2", "t2")}))
	more, newCursor, err := f.Pull(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, more, 1)
	require.Equal(t, "e2", more[0].ID)
	require.NotEqual(t, cursor, newCursor)
}

func TestFilesystemPullSameCursorTwiceReturnsSameEntries(t *testing.T) {
	f := openTestFilesystem(t, 0)
	ctx := context.Background()
	require.NoError(t, f.Push(ctx, []*types.OplogEntry{entry("e1", "t1")}))

	a, cursorA, err := f.Pull(ctx, "")
	require.NoError(t, err)
	b, cursorB, err := f.Pull(ctx, "")
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, cursorA, cursorB)
}

func TestFilesystemPushIsIdempotent(t *testing.T) {
	f := openTestFilesystem(t, 0)
	ctx := context.Background()

	e := entry("e1", "t1")
	require.NoError(t, f.Push(ctx, []*types.OplogEntry{e}))
	require.NoError(t, f.Push(ctx, []*types.OplogEntry{e}))

	entries, _, err := f.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFilesystemPullRespectsBatchSize(t *testing.T) {
	f := openTestFilesystem(t, 2)
	ctx := context.Background()

	require.NoError(t, f.Push(ctx, []*types.OplogEntry{entry("e1", "t1"), entry("e2", "t2"), entry("e3", "t3")}))

	first, cursor, err := f.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, _, err := f.Pull(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}
