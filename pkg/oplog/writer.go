package oplog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/tasksync/pkg/idgen"
	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Writer appends entries to the oplog on behalf of one device. It never
// mutates existing rows; every call to Write produces exactly one new,
// immutable entry (spec §4.3).
type Writer struct {
	deviceID string
	ids      *idgen.Generator
}

// NewWriter returns a Writer that stamps every entry it produces with
// deviceID as the origin device.
func NewWriter(deviceID string) *Writer {
	return &Writer{deviceID: deviceID, ids: idgen.NewGenerator()}
}

// DeviceID returns the device this writer stamps entries with.
func (w *Writer) DeviceID() string {
	return w.deviceID
}

// Draft describes the entry to write before it has an id or timestamp.
// Field and Value follow the same null-vs-absent rules as types.OplogEntry:
// a nil Value on an update means "clear this field" (SQL NULL), not "no
// value supplied."
type Draft struct {
	TaskID string
	OpType types.OpType
	Field  *string
	Value  *string
}

// Write persists one new oplog entry for d, using at (or now if at is the
// zero Timestamp) as its timestamp. at is overridable so replay of remote
// entries and deterministic tests can pin a specific wall-clock value;
// ordinary local writes pass the zero value and get "now."
func (w *Writer) Write(ctx context.Context, x dbtx, d Draft, at types.Timestamp) (*types.OplogEntry, error) {
	id, err := w.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("oplog: generate entry id: %w", err)
	}
	if at.IsZero() {
		at = types.Now()
	}

	entry := &types.OplogEntry{
		ID:        id,
		TaskID:    d.TaskID,
		DeviceID:  w.deviceID,
		OpType:    d.OpType,
		Field:     d.Field,
		Value:     d.Value,
		Timestamp: at,
	}

	if _, err := storage.InsertOplogEntry(ctx, x, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// StrPtr returns a pointer to s, so callers building a Draft don't need a
// local variable for every field/value pointer.
func StrPtr(s string) *string { return &s }
