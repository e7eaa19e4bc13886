package oplog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tasksync.db")
	s, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func at(t *testing.T, rfc string) types.Timestamp {
	t.Helper()
	ts, err := types.ParseTimestamp(rfc)
	require.NoError(t, err)
	return ts
}

func createEntry(t *testing.T, taskID, id, value, timestamp string) *types.OplogEntry {
	t.Helper()
	v := value
	return &types.OplogEntry{
		ID:        id,
		TaskID:    taskID,
		DeviceID:  "dev-a",
		OpType:    types.OpCreate,
		Value:     &v,
		Timestamp: at(t, timestamp),
	}
}

func updateEntry(t *testing.T, taskID, id, field string, value *string, timestamp string) *types.OplogEntry {
	t.Helper()
	f := field
	return &types.OplogEntry{
		ID:        id,
		TaskID:    taskID,
		DeviceID:  "dev-a",
		OpType:    types.OpUpdate,
		Field:     &f,
		Value:     value,
		Timestamp: at(t, timestamp),
	}
}

func deleteEntry(t *testing.T, taskID, id, timestamp string) *types.OplogEntry {
	t.Helper()
	return &types.OplogEntry{
		ID:        id,
		TaskID:    taskID,
		DeviceID:  "dev-a",
		OpType:    types.OpDelete,
		Timestamp: at(t, timestamp),
	}
}

func TestReplayCreateWithDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"Write docs"}`, "2026-01-01T00:00:00.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "Write docs", task.Title)
	require.Equal(t, types.StatusTodo, task.Status)
	require.Equal(t, types.PriorityMedium, task.Priority)
	require.Empty(t, task.Labels)
	require.Nil(t, task.DeletedAt)
}

func TestReplayMalformedCreateSubFieldsFallBackToDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// status is a number, not a recognized string: must fall back to todo,
	// without aborting the whole create.
	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X","status":42,"priority":"urgent"}`, "2026-01-01T00:00:00.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, "X", task.Title)
	require.Equal(t, types.StatusTodo, task.Status)
	require.Equal(t, types.PriorityUrgent, task.Priority)
}

func TestReplayUnparseableCreateAbortsTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `not json at all`, "2026-01-01T00:00:00.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestReplayWithoutCreateLeavesTaskUnmaterialized(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		updateEntry(t, "t1", "e2", types.FieldTitle, StrPtr("renamed"), "2026-01-01T00:00:01.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestReplayIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldNotes, StrPtr("hello"), "2026-01-01T00:00:01.000Z"),
	}

	require.NoError(t, Replay(ctx, s, entries))
	require.NoError(t, Replay(ctx, s, entries)) // replay same batch again

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, task.Notes)
}

func TestReplayNotesDedupAndAccumulate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldNotes, StrPtr("first"), "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldNotes, StrPtr("first"), "2026-01-01T00:00:02.000Z"),
		updateEntry(t, "t1", "e4", types.FieldNotes, StrPtr("second"), "2026-01-01T00:00:03.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, task.Notes)
}

func TestReplayNotesClearThenReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldNotes, StrPtr("stale"), "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldNotesClear, StrPtr(""), "2026-01-01T00:00:02.000Z"),
		updateEntry(t, "t1", "e4", types.FieldNotes, StrPtr("fresh"), "2026-01-01T00:00:02.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, task.Notes)
}

func TestReplayOrderIndependenceReverseDelivery(t *testing.T) {
	forward := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X","status":"todo"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldStatus, StrPtr("in_progress"), "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldStatus, StrPtr("done"), "2026-01-01T00:00:02.000Z"),
		updateEntry(t, "t1", "e4", types.FieldTitle, StrPtr("final title"), "2026-01-01T00:00:03.000Z"),
	}
	reversed := make([]*types.OplogEntry, len(forward))
	for i, e := range forward {
		reversed[len(forward)-1-i] = e
	}

	sFwd := openTestStore(t)
	require.NoError(t, Replay(context.Background(), sFwd, forward))
	taskFwd, err := storage.GetTask(context.Background(), sFwd.DB(), "t1")
	require.NoError(t, err)

	sRev := openTestStore(t)
	require.NoError(t, Replay(context.Background(), sRev, reversed))
	taskRev, err := storage.GetTask(context.Background(), sRev.DB(), "t1")
	require.NoError(t, err)

	require.Equal(t, taskFwd.Status, taskRev.Status)
	require.Equal(t, taskFwd.Title, taskRev.Title)
	require.Equal(t, taskFwd.UpdatedAt.String(), taskRev.UpdatedAt.String())
}

func TestReplayUpdateBeatsDeleteAtEqualTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		deleteEntry(t, "t1", "e2", "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldTitle, StrPtr("revived"), "2026-01-01T00:00:01.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, task.DeletedAt)
	require.Equal(t, "revived", task.Title)
}

func TestReplayDeleteAfterUpdateApplies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldTitle, StrPtr("edited"), "2026-01-01T00:00:01.000Z"),
		deleteEntry(t, "t1", "e3", "2026-01-01T00:00:02.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.NotNil(t, task.DeletedAt)
}

func TestReplayLWWTiebreakByEntryID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X"}`, "2026-01-01T00:00:00.000Z"),
		// Two updates at the identical timestamp: the one with the greater id wins.
		updateEntry(t, "t1", "eb", types.FieldTitle, StrPtr("from-b"), "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "ea", types.FieldTitle, StrPtr("from-a"), "2026-01-01T00:00:01.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, "from-b", task.Title) // "eb" > "ea" lexically
}

func TestReplayUnknownStatusDropsWithoutAdvancingWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X","status":"todo"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldStatus, StrPtr("bogus"), "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldStatus, StrPtr("done"), "2026-01-01T00:00:02.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, types.StatusDone, task.Status)
}

func TestReplayTitleNullIsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"keep me"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldTitle, nil, "2026-01-01T00:00:01.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, "keep me", task.Title)
}

func TestReplayOwnerNullClears(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := "alice"
	entries := []*types.OplogEntry{
		createEntry(t, "t1", "e1", `{"title":"X","owner":"alice"}`, "2026-01-01T00:00:00.000Z"),
		updateEntry(t, "t1", "e2", types.FieldOwner, &owner, "2026-01-01T00:00:01.000Z"),
		updateEntry(t, "t1", "e3", types.FieldOwner, nil, "2026-01-01T00:00:02.000Z"),
	}
	require.NoError(t, Replay(ctx, s, entries))

	task, err := storage.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, task.Owner)
}
