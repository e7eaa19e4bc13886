package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/tasksync/pkg/types"
)

// OplogRecord pairs an oplog entry with the rowid it was assigned on
// insertion. rowid is the resumable cursor used by both the sync engine's
// push high-water mark and the filesystem remote's pull cursor.
type OplogRecord struct {
	RowID int64
	Entry *types.OplogEntry
}

// InsertOplogEntry inserts e, ignoring the write if an entry with the same
// id already exists (spec §4.2: "insert into the oplog table under
// ignore-on-conflict semantics keyed by entry ID"). inserted reports
// whether this call actually added a new row.
func InsertOplogEntry(ctx context.Context, x dbtx, e *types.OplogEntry) (inserted bool, err error) {
	field := sql.NullString{}
	if e.Field != nil {
		field = sql.NullString{String: *e.Field, Valid: true}
	}
	value := sql.NullString{}
	if e.Value != nil {
		value = sql.NullString{String: *e.Value, Valid: true}
	}

	res, err := x.ExecContext(ctx, `
		INSERT OR IGNORE INTO oplog (id, task_id, device_id, op_type, field, value, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskID, e.DeviceID, string(e.OpType), field, value, e.Timestamp.String())
	if err != nil {
		return false, fmt.Errorf("storage: insert oplog entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: rows affected for oplog entry %s: %w", e.ID, err)
	}
	return n > 0, nil
}

// ListOplogForTask returns every entry recorded for taskID, ordered by
// (timestamp ASC, id ASC), the total order replay's rebuildTask walks.
func ListOplogForTask(ctx context.Context, x dbtx, taskID string) ([]*types.OplogEntry, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT id, task_id, device_id, op_type, field, value, timestamp
		FROM oplog WHERE task_id = ?
		ORDER BY timestamp ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list oplog for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*types.OplogEntry
	for rows.Next() {
		e, err := scanOplogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan oplog entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListOplogByDeviceSinceRowID returns every entry originating from
// deviceID with rowid > sinceRowID, ordered by rowid ASC. The sync
// engine's push() uses this to find what it hasn't pushed yet.
func ListOplogByDeviceSinceRowID(ctx context.Context, x dbtx, deviceID string, sinceRowID int64) ([]OplogRecord, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT rowid, id, task_id, device_id, op_type, field, value, timestamp
		FROM oplog WHERE device_id = ? AND rowid > ?
		ORDER BY rowid ASC
	`, deviceID, sinceRowID)
	if err != nil {
		return nil, fmt.Errorf("storage: list oplog for device %s since %d: %w", deviceID, sinceRowID, err)
	}
	defer rows.Close()
	return scanOplogRecords(rows)
}

// ListOplogSinceRowID returns up to limit entries (any device) with
// rowid > sinceRowID, ordered by rowid ASC. limit <= 0 means unbounded.
// The filesystem remote's pull() uses this against its own store.
func ListOplogSinceRowID(ctx context.Context, x dbtx, sinceRowID int64, limit int) ([]OplogRecord, error) {
	query := `
		SELECT rowid, id, task_id, device_id, op_type, field, value, timestamp
		FROM oplog WHERE rowid > ?
		ORDER BY rowid ASC
	`
	args := []any{sinceRowID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := x.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list oplog since %d: %w", sinceRowID, err)
	}
	defer rows.Close()
	return scanOplogRecords(rows)
}

func scanOplogRecords(rows *sql.Rows) ([]OplogRecord, error) {
	var out []OplogRecord
	for rows.Next() {
		var rec OplogRecord
		var id, taskID, deviceID, opType, timestamp string
		var field, value sql.NullString
		if err := rows.Scan(&rec.RowID, &id, &taskID, &deviceID, &opType, &field, &value, &timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan oplog record: %w", err)
		}
		rec.Entry = buildOplogEntry(id, taskID, deviceID, opType, field, value, timestamp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOplogEntry(rows *sql.Rows) (*types.OplogEntry, error) {
	var id, taskID, deviceID, opType, timestamp string
	var field, value sql.NullString
	if err := rows.Scan(&id, &taskID, &deviceID, &opType, &field, &value, &timestamp); err != nil {
		return nil, err
	}
	return buildOplogEntry(id, taskID, deviceID, opType, field, value, timestamp), nil
}

func buildOplogEntry(id, taskID, deviceID, opType string, field, value sql.NullString, timestamp string) *types.OplogEntry {
	e := &types.OplogEntry{
		ID:       id,
		TaskID:   taskID,
		DeviceID: deviceID,
		OpType:   types.OpType(opType),
	}
	if field.Valid {
		f := field.String
		e.Field = &f
	}
	if value.Valid {
		v := value.String
		e.Value = &v
	}
	if ts, err := types.ParseTimestamp(timestamp); err == nil {
		e.Timestamp = ts
	}
	return e
}
