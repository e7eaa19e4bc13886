package oplog

import (
	"context"
	"testing"

	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestWriterWriteAssignsIDAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := NewWriter("dev-a")

	entry, err := w.Write(ctx, s.DB(), Draft{
		TaskID: "t1",
		OpType: types.OpCreate,
		Value:  StrPtr(`{"title":"X"}`),
	}, types.Timestamp{})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.Timestamp.IsZero())
	require.Equal(t, "dev-a", entry.DeviceID)

	stored, err := storage.ListOplogForTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, entry.ID, stored[0].ID)
}

func TestWriterWriteHonorsExplicitTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := NewWriter("dev-a")

	pinned := at(t, "2026-01-01T00:00:00.000Z")
	entry, err := w.Write(ctx, s.DB(), Draft{TaskID: "t1", OpType: types.OpCreate, Value: StrPtr(`{}`)}, pinned)
	require.NoError(t, err)
	require.Equal(t, pinned.String(), entry.Timestamp.String())
}

func TestWriterProducesStrictlyIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	w := NewWriter("dev-a")

	var last string
	for i := 0; i < 10; i++ {
		entry, err := w.Write(ctx, s.DB(), Draft{TaskID: "t1", OpType: types.OpUpdate, Field: StrPtr(types.FieldTitle), Value: StrPtr("x")}, types.Timestamp{})
		require.NoError(t, err)
		if i > 0 {
			require.Greater(t, entry.ID, last)
		}
		last = entry.ID
	}
}
