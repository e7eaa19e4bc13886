package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/tasksync/pkg/types"
)

// decodeJSONStrings decodes a JSON array of strings, recovering to an empty
// slice on malformed input rather than propagating an error (spec §4.1:
// "malformed JSON must be recovered as an empty default, never propagated
// as an error").
func decodeJSONStrings(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// decodeJSONStringMap decodes a JSON object of string->string, recovering
// to an empty map on malformed input.
func decodeJSONStringMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	if out == nil {
		out = map[string]string{}
	}
	return out
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only happens for types that can't marshal at all, which the
		// callers here (string slices, string maps) always can.
		return "[]"
	}
	return string(b)
}

// UpsertTask writes the complete row for a task, overwriting any existing
// row with the same id. Both the task repository's create/update paths and
// oplog replay's rebuilt-state writeback use this: it is the only way a
// task row is ever persisted.
func UpsertTask(ctx context.Context, x dbtx, t *types.Task) error {
	owner := sql.NullString{}
	if t.Owner != nil {
		owner = sql.NullString{String: *t.Owner, Valid: true}
	}
	dueAt := sql.NullString{}
	if t.DueAt != nil {
		dueAt = sql.NullString{String: *t.DueAt, Valid: true}
	}
	deletedAt := sql.NullString{}
	if t.DeletedAt != nil {
		deletedAt = sql.NullString{String: t.DeletedAt.String(), Valid: true}
	}

	_, err := x.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, owner, due_at, blocked_by, labels, notes, metadata, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			owner = excluded.owner,
			due_at = excluded.due_at,
			blocked_by = excluded.blocked_by,
			labels = excluded.labels,
			notes = excluded.notes,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`,
		t.ID, t.Title, string(t.Status), string(t.Priority), owner, dueAt,
		encodeJSON(t.BlockedBy), encodeJSON(t.Labels), encodeJSON(t.Notes), encodeJSON(t.Metadata),
		t.CreatedAt.String(), t.UpdatedAt.String(), deletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task with the exact given id, or (nil, nil) if no
// such row exists. It does not filter soft-deleted tasks, callers decide
// whether deleted_at matters for their use case.
func GetTask(ctx context.Context, x dbtx, id string) (*types.Task, error) {
	row := x.QueryRowContext(ctx, `
		SELECT id, title, status, priority, owner, due_at, blocked_by, labels, notes, metadata, created_at, updated_at, deleted_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get task %s: %w", id, err)
	}
	return t, nil
}

// ListAllTasks returns every task row, including soft-deleted ones. The
// task repository applies filtering, sorting, pagination and the
// actionable/deleted rules on top of this; a personal task manager's table
// is small enough that scanning it in Go is simpler than building dynamic
// SQL and is not a performance concern.
func ListAllTasks(ctx context.Context, x dbtx) ([]*types.Task, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT id, title, status, priority, owner, due_at, blocked_by, labels, notes, metadata, created_at, updated_at, deleted_at
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	return out, nil
}

// ListTaskIDsWithPrefix returns every task id (including soft-deleted ones)
// that starts with prefix, used for prefix resolution.
func ListTaskIDsWithPrefix(ctx context.Context, x dbtx, prefix string) ([]string, error) {
	rows, err := x.QueryContext(ctx, `SELECT id FROM tasks WHERE id LIKE ? ESCAPE '\'`, escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("storage: list task ids with prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// escapeLikePrefix escapes SQL LIKE metacharacters so a task id prefix is
// matched literally.
func escapeLikePrefix(prefix string) string {
	return likeEscaper.Replace(prefix)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                                         types.Task
		status, priority                          string
		owner, dueAt, deletedAt                   sql.NullString
		blockedByRaw, labelsRaw, notesRaw, metaRaw string
		createdAtRaw, updatedAtRaw                 string
	)

	if err := row.Scan(&t.ID, &t.Title, &status, &priority, &owner, &dueAt,
		&blockedByRaw, &labelsRaw, &notesRaw, &metaRaw, &createdAtRaw, &updatedAtRaw, &deletedAt); err != nil {
		return nil, err
	}

	t.Status = types.Status(status)
	t.Priority = types.Priority(priority)
	if owner.Valid {
		v := owner.String
		t.Owner = &v
	}
	if dueAt.Valid {
		v := dueAt.String
		t.DueAt = &v
	}
	t.BlockedBy = decodeJSONStrings(blockedByRaw)
	t.Labels = decodeJSONStrings(labelsRaw)
	t.Notes = decodeJSONStrings(notesRaw)
	t.Metadata = decodeJSONStringMap(metaRaw)

	if createdAt, err := types.ParseTimestamp(createdAtRaw); err == nil {
		t.CreatedAt = createdAt
	}
	if updatedAt, err := types.ParseTimestamp(updatedAtRaw); err == nil {
		t.UpdatedAt = updatedAt
	}
	if deletedAt.Valid {
		if ts, err := types.ParseTimestamp(deletedAt.String); err == nil {
			t.DeletedAt = &ts
		}
	}

	return &t, nil
}
