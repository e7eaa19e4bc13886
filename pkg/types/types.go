/*
Package types defines the core data structures shared by every layer of the
task sync core: storage, the task repository and service, the oplog writer
and replay engine, and the sync engine.

The types here are deliberately thin. They carry no persistence or sync
logic of their own: pkg/storage encodes them to and from SQL rows, pkg/oplog
produces and consumes them, and pkg/taskcore applies the business rules that
decide what their field values should be. Keeping the struct definitions
dependency-free avoids import cycles between those layers.
*/
package types

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
)

// ValidStatus reports whether s is one of the four recognized statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the four recognized priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// priorityRank gives the sort order used by list's default and "priority"
// sort keys: urgent first, low last.
var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityLow:    3,
}

// PriorityRank returns p's sort rank, or a rank after "low" if p is not a
// recognized priority. It never errors so callers can sort on it
// directly.
func PriorityRank(p Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Task is the materialized, current state of a logical todo item. It is
// the output of oplog replay (see pkg/oplog) and the row shape pkg/storage
// persists in the tasks table.
type Task struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    Status            `json:"status"`
	Priority  Priority          `json:"priority"`
	Owner     *string           `json:"owner"`
	DueAt     *string           `json:"due_at"`
	BlockedBy []string          `json:"blocked_by"`
	Labels    []string          `json:"labels"`
	Notes     []string          `json:"notes"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt Timestamp         `json:"created_at"`
	UpdatedAt Timestamp         `json:"updated_at"`
	DeletedAt *Timestamp        `json:"deleted_at"`
}

// Clone returns a deep copy of t so callers can mutate the result without
// aliasing slices/maps held by a cache or a repository read.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.Labels = append([]string(nil), t.Labels...)
	c.Notes = append([]string(nil), t.Notes...)
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Owner != nil {
		owner := *t.Owner
		c.Owner = &owner
	}
	if t.DueAt != nil {
		due := *t.DueAt
		c.DueAt = &due
	}
	if t.DeletedAt != nil {
		deleted := *t.DeletedAt
		c.DeletedAt = &deleted
	}
	return &c
}

// IsDeleted reports whether the task is soft-deleted.
func (t *Task) IsDeleted() bool {
	return t != nil && t.DeletedAt != nil
}

// DefaultTitle is substituted by create/replay when neither the caller nor
// the oplog entry supplies a title.
const DefaultTitle = "Untitled"

// OpType identifies the kind of change an oplog entry describes.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// ValidOpType reports whether op is one of the three recognized op types.
func ValidOpType(op OpType) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Field name constants accepted on an OpType == OpUpdate entry.
// FieldNotes and FieldNotesClear are pseudo-fields, not task columns.
// FieldNotes is never subject to last-writer-wins, every new note
// accumulates. FieldNotesClear IS last-writer-wins, but only against other
// FieldNotesClear entries; it resets the notes sequence to empty rather
// than setting a column value. See pkg/oplog's replay rules.
const (
	FieldTitle      = "title"
	FieldStatus     = "status"
	FieldPriority   = "priority"
	FieldOwner      = "owner"
	FieldDueAt      = "due_at"
	FieldLabels     = "labels"
	FieldBlockedBy  = "blocked_by"
	FieldMetadata   = "metadata"
	FieldNotes      = "notes"
	FieldNotesClear = "notes_clear"
)

// OplogEntry is an immutable record describing one field-level change, or a
// create/delete, to a single task. See pkg/oplog for how entries are
// written and replayed.
type OplogEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	DeviceID  string    `json:"device_id"`
	OpType    OpType    `json:"op_type"`
	Field     *string   `json:"field"`
	Value     *string   `json:"value"`
	Timestamp Timestamp `json:"timestamp"`
}

// FieldName returns the entry's field name, or "" if absent (create/delete
// entries never carry one).
func (e *OplogEntry) FieldName() string {
	if e.Field == nil {
		return ""
	}
	return *e.Field
}
