package oplog

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cuemby/tasksync/pkg/log"
	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// Replay applies a batch of oplog entries: every new entry is persisted
// (duplicates of already-seen entries are silently absorbed), then every
// task the batch touches is rebuilt from its complete history. Replay is
// idempotent and order-independent, see package doc.
func Replay(ctx context.Context, store *storage.Store, entries []*types.OplogEntry) error {
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		return replayTx(ctx, tx, entries)
	})
}

func replayTx(ctx context.Context, tx *sql.Tx, entries []*types.OplogEntry) error {
	logger := log.WithComponent("oplog")
	touched := make(map[string]struct{})

	// Insert phase.
	for _, e := range entries {
		if !types.ValidOpType(e.OpType) {
			logger.Debug().Str("op_type", string(e.OpType)).Msg("skipping entry with unrecognized op_type")
			continue
		}
		if _, err := storage.InsertOplogEntry(ctx, tx, e); err != nil {
			return err
		}
		touched[e.TaskID] = struct{}{}
	}

	// Rebuild phase.
	for taskID := range touched {
		if err := rebuildTask(ctx, tx, taskID); err != nil {
			return err
		}
	}
	return nil
}

// fieldWinner records the (timestamp, id) of the entry currently winning
// last-writer-wins for one field.
type fieldWinner struct {
	ts types.Timestamp
	id string
}

// wins reports whether a candidate entry at (ts, id) is strictly greater
// than w (nil w always loses, i.e. the candidate always wins).
func (w *fieldWinner) wins(ts types.Timestamp, id string) bool {
	if w == nil {
		return true
	}
	if ts.After(w.ts) {
		return true
	}
	return ts.Time().Equal(w.ts.Time()) && id > w.id
}

// rebuildTask recomputes and upserts the materialized state of taskID from
// its complete oplog history. If the task has no create entry yet (legal
// during partial sync) it leaves the tasks table untouched.
func rebuildTask(ctx context.Context, tx *sql.Tx, taskID string) error {
	logger := log.WithTaskID(taskID)

	history, err := storage.ListOplogForTask(ctx, tx, taskID)
	if err != nil {
		return err
	}

	var create *types.OplogEntry
	for _, e := range history {
		if e.OpType == types.OpCreate {
			create = e
			break
		}
	}
	if create == nil {
		logger.Debug().Msg("no create entry yet, task not materialized")
		return nil
	}

	payload, ok := decodeCreatePayload(valueOf(create))
	if !ok {
		logger.Debug().Msg("create entry value is unparseable, task not materialized")
		return nil
	}

	task := payload.toTask(taskID, create.Timestamp)

	// Pre-compute the latest update timestamp across the whole history so
	// the delete-suppression rule is O(n), not O(n^2).
	var latestUpdate *types.Timestamp
	for _, e := range history {
		if e.OpType == types.OpUpdate {
			ts := e.Timestamp
			if latestUpdate == nil || ts.After(*latestUpdate) {
				latestUpdate = &ts
			}
		}
	}

	winners := map[string]*fieldWinner{}

	for _, e := range history {
		if e == create {
			continue
		}
		switch e.OpType {
		case types.OpDelete:
			applyDelete(&task, e, latestUpdate)
		case types.OpUpdate:
			applyUpdate(&task, e, winners)
		}
	}

	return storage.UpsertTask(ctx, tx, &task)
}

func applyDelete(task *types.Task, e *types.OplogEntry, latestUpdate *types.Timestamp) {
	if latestUpdate != nil && !latestUpdate.Before(e.Timestamp) {
		// An update exists at or after this delete: updates beat deletes.
		return
	}
	task.DeletedAt = &e.Timestamp
	bumpUpdatedAt(task, e.Timestamp)
}

func applyUpdate(task *types.Task, e *types.OplogEntry, winners map[string]*fieldWinner) {
	field := e.FieldName()
	switch field {
	case types.FieldNotes:
		applyNote(task, e)
	case types.FieldNotesClear:
		applyLWWField(task, e, winners, field)
	default:
		applyLWWField(task, e, winners, field)
	}
}

// applyNote appends e's value to notes (de-duplicated) unconditionally;
// notes are never subject to last-writer-wins, every new note accumulates.
func applyNote(task *types.Task, e *types.OplogEntry) {
	if e.Value != nil {
		note := *e.Value
		found := false
		for _, existing := range task.Notes {
			if existing == note {
				found = true
				break
			}
		}
		if !found {
			task.Notes = append(task.Notes, note)
		}
	}
	bumpUpdatedAt(task, e.Timestamp)
	resurrectIfNewer(task, e.Timestamp)
}

// applyLWWField applies e under per-field last-writer-wins with an
// (timestamp, id) tiebreak. Entries that are not strictly greater than the
// recorded winner, or whose value fails validation/coercion for this
// field, are skipped without moving the winner pointer: the LWW winner
// is always the last valid entry.
func applyLWWField(task *types.Task, e *types.OplogEntry, winners map[string]*fieldWinner, field string) {
	current := winners[field]
	if !current.wins(e.Timestamp, e.ID) {
		return
	}
	if !ApplyFieldValue(task, field, e.Value) {
		return
	}
	winners[field] = &fieldWinner{ts: e.Timestamp, id: e.ID}
	bumpUpdatedAt(task, e.Timestamp)
	resurrectIfNewer(task, e.Timestamp)
}

// ApplyFieldValue validates/coerces value for field and, if valid, applies
// it to task. It reports whether the value was valid and applied.
func ApplyFieldValue(task *types.Task, field string, value *string) bool {
	switch field {
	case types.FieldTitle:
		if value == nil {
			return false // title is non-nullable
		}
		task.Title = *value
		return true
	case types.FieldStatus:
		if value == nil {
			return false
		}
		status := types.Status(*value)
		if !types.ValidStatus(status) {
			return false
		}
		task.Status = status
		return true
	case types.FieldPriority:
		if value == nil {
			return false
		}
		priority := types.Priority(*value)
		if !types.ValidPriority(priority) {
			return false
		}
		task.Priority = priority
		return true
	case types.FieldOwner:
		if value == nil {
			task.Owner = nil
			return true
		}
		owner := *value
		task.Owner = &owner
		return true
	case types.FieldDueAt:
		if value == nil {
			task.DueAt = nil
			return true
		}
		due := *value
		task.DueAt = &due
		return true
	case types.FieldLabels:
		if value == nil {
			return false
		}
		labels, ok := parseStringSlice(*value)
		if !ok {
			return false
		}
		task.Labels = labels
		return true
	case types.FieldBlockedBy:
		if value == nil {
			return false
		}
		blockedBy, ok := parseStringSlice(*value)
		if !ok {
			return false
		}
		task.BlockedBy = blockedBy
		return true
	case types.FieldMetadata:
		if value == nil {
			return false
		}
		metadata, ok := parseStringMap(*value)
		if !ok {
			return false
		}
		task.Metadata = metadata
		return true
	case types.FieldNotesClear:
		task.Notes = []string{}
		return true
	default:
		return false
	}
}

func bumpUpdatedAt(task *types.Task, ts types.Timestamp) {
	if ts.After(task.UpdatedAt) {
		task.UpdatedAt = ts
	}
}

// resurrectIfNewer clears deleted_at if this update's timestamp is at or
// after the delete's timestamp, editing a task implicitly un-deletes it.
func resurrectIfNewer(task *types.Task, ts types.Timestamp) {
	if task.DeletedAt != nil && !ts.Before(*task.DeletedAt) {
		task.DeletedAt = nil
	}
}

func valueOf(e *types.OplogEntry) string {
	if e.Value == nil {
		return ""
	}
	return *e.Value
}

// createPayload is the loosely-typed decode of a create entry's JSON
// value. Each field is decoded independently so a malformed sub-field
// falls back to its default instead of aborting the whole create.
type createPayload struct {
	Title     *string
	Status    *string
	Priority  *string
	Owner     *string
	DueAt     *string
	BlockedBy []string
	Labels    []string
	Notes     []string
	Metadata  map[string]string
}

// decodeCreatePayload decodes raw into a createPayload. It reports false
// only when raw is not parseable as a JSON object at all; once the
// top-level object is established, every field is decoded independently
// and best-effort.
func decodeCreatePayload(raw string) (*createPayload, bool) {
	var fields map[string]json.RawMessage
	if raw == "" {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, false
	}

	cp := &createPayload{}
	if v, ok := fields["title"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			cp.Title = &s
		}
	}
	if v, ok := fields["status"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			cp.Status = &s
		}
	}
	if v, ok := fields["priority"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			cp.Priority = &s
		}
	}
	if v, ok := fields["owner"]; ok {
		var s *string
		if json.Unmarshal(v, &s) == nil {
			cp.Owner = s
		}
	}
	if v, ok := fields["due_at"]; ok {
		var s *string
		if json.Unmarshal(v, &s) == nil {
			cp.DueAt = s
		}
	}
	if v, ok := fields["blocked_by"]; ok {
		if s, ok := parseStringSlice(string(v)); ok {
			cp.BlockedBy = s
		}
	}
	if v, ok := fields["labels"]; ok {
		if s, ok := parseStringSlice(string(v)); ok {
			cp.Labels = s
		}
	}
	if v, ok := fields["notes"]; ok {
		if s, ok := parseStringSlice(string(v)); ok {
			cp.Notes = s
		}
	}
	if v, ok := fields["metadata"]; ok {
		if m, ok := parseStringMap(string(v)); ok {
			cp.Metadata = m
		}
	}
	return cp, true
}

// toTask materializes the initial Task state from a create payload,
// substituting defaults for anything missing or malformed. createdAt and
// updatedAt always come from the create oplog entry's own timestamp, never
// from a value embedded in the payload.
func (cp *createPayload) toTask(id string, createdAt types.Timestamp) types.Task {
	title := types.DefaultTitle
	if cp.Title != nil && *cp.Title != "" {
		title = *cp.Title
	}

	status := types.StatusTodo
	if cp.Status != nil && types.ValidStatus(types.Status(*cp.Status)) {
		status = types.Status(*cp.Status)
	}

	priority := types.PriorityMedium
	if cp.Priority != nil && types.ValidPriority(types.Priority(*cp.Priority)) {
		priority = types.Priority(*cp.Priority)
	}

	task := types.Task{
		ID:        id,
		Title:     title,
		Status:    status,
		Priority:  priority,
		Owner:     cp.Owner,
		DueAt:     cp.DueAt,
		BlockedBy: orEmpty(cp.BlockedBy),
		Labels:    orEmpty(cp.Labels),
		Notes:     orEmpty(cp.Notes),
		Metadata:  orEmptyMap(cp.Metadata),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return task
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func parseStringSlice(raw string) ([]string, bool) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

func parseStringMap(raw string) (map[string]string, bool) {
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, true
}
