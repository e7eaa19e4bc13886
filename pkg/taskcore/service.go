package taskcore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/cuemby/tasksync/pkg/idgen"
	"github.com/cuemby/tasksync/pkg/oplog"
	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// Service wraps Repository and oplog.Writer so that every mutation is
// atomic at the storage level and produces one coherent oplog fragment.
// This is the only component callers should use for mutation, see
// pkg/oplog's replay for how a remote device's equivalent history
// eventually reconciles with what Service wrote locally.
type Service struct {
	store  *storage.Store
	repo   *Repository
	writer *oplog.Writer
	taskID *idgen.Generator
}

// NewService returns a Service that stamps every oplog entry it writes
// with deviceID.
func NewService(store *storage.Store, deviceID string) *Service {
	return &Service{
		store:  store,
		repo:   NewRepository(store),
		writer: oplog.NewWriter(deviceID),
		taskID: idgen.NewGenerator(),
	}
}

// AddInput is the caller-supplied shape for Add. ID is optional; when set
// and it already exists, Add is a no-op that returns the existing task
// (idempotent creates).
type AddInput struct {
	ID        string
	Title     string
	Status    types.Status
	Priority  types.Priority
	Owner     *string
	DueAt     *string
	BlockedBy []string
	Labels    []string
	Notes     []string
	Metadata  map[string]string
}

type createJSON struct {
	Title     string            `json:"title"`
	Status    string            `json:"status"`
	Priority  string            `json:"priority"`
	Owner     *string           `json:"owner"`
	DueAt     *string           `json:"due_at"`
	BlockedBy []string          `json:"blocked_by"`
	Labels    []string          `json:"labels"`
	Notes     []string          `json:"notes"`
	Metadata  map[string]string `json:"metadata"`
}

// Add creates a new task and writes its single create entry. now defaults
// to the current instant when it is the zero Timestamp.
func (s *Service) Add(ctx context.Context, in AddInput, now types.Timestamp) (*types.Task, error) {
	var result *types.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if in.ID != "" {
			existing, err := storage.GetTask(ctx, tx, in.ID)
			if err != nil {
				return wrapStorageErr("add: check existing", err)
			}
			if existing != nil {
				result = existing
				return nil
			}
		}

		id := in.ID
		if id == "" {
			generated, err := s.taskID.Next()
			if err != nil {
				return err
			}
			id = generated
		}

		task := applyCreateDefaults(id, in, now)
		payload := createJSON{
			Title:     task.Title,
			Status:    string(task.Status),
			Priority:  string(task.Priority),
			Owner:     task.Owner,
			DueAt:     task.DueAt,
			BlockedBy: task.BlockedBy,
			Labels:    task.Labels,
			Notes:     task.Notes,
			Metadata:  task.Metadata,
		}
		value, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		entryTS := task.CreatedAt
		if _, err := s.writer.Write(ctx, tx, oplog.Draft{
			TaskID: id,
			OpType: types.OpCreate,
			Value:  oplog.StrPtr(string(value)),
		}, entryTS); err != nil {
			return err
		}

		if err := s.repo.Create(ctx, tx, task); err != nil {
			return err
		}
		result = task
		return nil
	})
	return result, err
}

func applyCreateDefaults(id string, in AddInput, now types.Timestamp) *types.Task {
	if now.IsZero() {
		now = types.Now()
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = types.DefaultTitle
	}
	status := in.Status
	if !types.ValidStatus(status) {
		status = types.StatusTodo
	}
	priority := in.Priority
	if !types.ValidPriority(priority) {
		priority = types.PriorityMedium
	}
	return &types.Task{
		ID:        id,
		Title:     title,
		Status:    status,
		Priority:  priority,
		Owner:     in.Owner,
		DueAt:     in.DueAt,
		BlockedBy: orEmptySlice(in.BlockedBy),
		Labels:    orEmptySlice(in.Labels),
		Notes:     orEmptySlice(in.Notes),
		Metadata:  orEmptyMapStr(in.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMapStr(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// FieldUpdate pairs a field name with its new value. Value == nil clears a
// nullable field (owner, due_at); it is rejected by non-nullable fields
// (title, status, priority) per the same rules oplog replay enforces.
type FieldUpdate struct {
	Field string
	Value *string
}

// Update applies fields to the task idOrPrefix resolves to, writing one
// oplog update entry per field sharing a single timestamp. Returns (nil,
// nil) if idOrPrefix resolves to nothing.
func (s *Service) Update(ctx context.Context, idOrPrefix string, fields []FieldUpdate, now types.Timestamp) (*types.Task, error) {
	return s.applyIntent(ctx, idOrPrefix, now, fields, nil)
}

// UpdateWithNote applies fields and appends note in the same transaction
// and timestamp.
func (s *Service) UpdateWithNote(ctx context.Context, idOrPrefix string, fields []FieldUpdate, note string, now types.Timestamp) (*types.Task, error) {
	return s.applyIntent(ctx, idOrPrefix, now, fields, []string{note})
}

// AddNote appends note iff, trimmed, it is non-empty and not already
// present on the task.
func (s *Service) AddNote(ctx context.Context, idOrPrefix, note string, now types.Timestamp) (*types.Task, error) {
	return s.applyIntent(ctx, idOrPrefix, now, nil, []string{note})
}

// ClearNotes resets the notes sequence to empty.
func (s *Service) ClearNotes(ctx context.Context, idOrPrefix string, now types.Timestamp) (*types.Task, error) {
	return s.replaceNotes(ctx, idOrPrefix, nil, now)
}

// ReplaceNotes resets the notes sequence, then appends notes in order.
func (s *Service) ReplaceNotes(ctx context.Context, idOrPrefix string, notes []string, now types.Timestamp) (*types.Task, error) {
	return s.replaceNotes(ctx, idOrPrefix, notes, now)
}

func (s *Service) replaceNotes(ctx context.Context, idOrPrefix string, notes []string, now types.Timestamp) (*types.Task, error) {
	var result *types.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.repo.resolve(ctx, tx, idOrPrefix)
		if err != nil || id == "" {
			return err
		}
		if now.IsZero() {
			now = types.Now()
		}

		if _, err := s.writer.Write(ctx, tx, oplog.Draft{
			TaskID: id,
			OpType: types.OpUpdate,
			Field:  oplog.StrPtr(types.FieldNotesClear),
			Value:  oplog.StrPtr(""),
		}, now); err != nil {
			return err
		}

		task, err := s.repo.Update(ctx, tx, id, func(t *types.Task) {
			t.Notes = []string{}
			bumpAndResurrect(t, now)
		})
		if err != nil {
			return err
		}

		for _, note := range notes {
			trimmed := strings.TrimSpace(note)
			if trimmed == "" {
				continue
			}
			if containsString(task.Notes, trimmed) {
				continue
			}
			if _, err := s.writer.Write(ctx, tx, oplog.Draft{
				TaskID: id,
				OpType: types.OpUpdate,
				Field:  oplog.StrPtr(types.FieldNotes),
				Value:  oplog.StrPtr(trimmed),
			}, now); err != nil {
				return err
			}
			task, err = s.repo.Update(ctx, tx, id, func(t *types.Task) {
				t.Notes = append(t.Notes, trimmed)
				bumpAndResurrect(t, now)
			})
			if err != nil {
				return err
			}
		}

		result = task
		return nil
	})
	return result, err
}

// applyIntent is the shared executor behind Update/UpdateWithNote/AddNote:
// write the field-update entries (if any), then the note entry (if any),
// all sharing one timestamp, applying each to the repository as it goes.
func (s *Service) applyIntent(ctx context.Context, idOrPrefix string, now types.Timestamp, fields []FieldUpdate, notes []string) (*types.Task, error) {
	var result *types.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.repo.resolve(ctx, tx, idOrPrefix)
		if err != nil || id == "" {
			return err
		}
		if now.IsZero() {
			now = types.Now()
		}

		for _, fu := range fields {
			if fu.Field == "note" || fu.Field == types.FieldNotes || fu.Field == types.FieldNotesClear {
				continue // note is not a field; never reaches the oplog this way
			}
			if _, err := s.writer.Write(ctx, tx, oplog.Draft{
				TaskID: id,
				OpType: types.OpUpdate,
				Field:  oplog.StrPtr(fu.Field),
				Value:  fu.Value,
			}, now); err != nil {
				return err
			}
			task, err := s.repo.Update(ctx, tx, id, func(t *types.Task) {
				if oplog.ApplyFieldValue(t, fu.Field, fu.Value) {
					bumpAndResurrect(t, now)
				}
			})
			if err != nil {
				return err
			}
			result = task
		}

		for _, note := range notes {
			trimmed := strings.TrimSpace(note)
			if trimmed == "" {
				continue
			}
			current, err := s.repo.Get(ctx, tx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}
			if containsString(current.Notes, trimmed) {
				result = current
				continue
			}
			if _, err := s.writer.Write(ctx, tx, oplog.Draft{
				TaskID: id,
				OpType: types.OpUpdate,
				Field:  oplog.StrPtr(types.FieldNotes),
				Value:  oplog.StrPtr(trimmed),
			}, now); err != nil {
				return err
			}
			task, err := s.repo.Update(ctx, tx, id, func(t *types.Task) {
				t.Notes = append(t.Notes, trimmed)
				bumpAndResurrect(t, now)
			})
			if err != nil {
				return err
			}
			result = task
		}

		if result == nil {
			result, err = s.repo.Get(ctx, tx, id)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

func bumpAndResurrect(t *types.Task, now types.Timestamp) {
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
	if t.DeletedAt != nil && !now.Before(*t.DeletedAt) {
		t.DeletedAt = nil
	}
}

// Delete soft-deletes the task idOrPrefix resolves to and writes one
// delete entry. Returns whether a task was present to delete.
func (s *Service) Delete(ctx context.Context, idOrPrefix string, now types.Timestamp) (bool, error) {
	var deleted bool
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.repo.resolve(ctx, tx, idOrPrefix)
		if err != nil || id == "" {
			return err
		}
		current, err := storage.GetTask(ctx, tx, id)
		if err != nil {
			return wrapStorageErr("delete: load", err)
		}
		if current == nil || current.IsDeleted() {
			return nil
		}
		if now.IsZero() {
			now = types.Now()
		}
		if _, err := s.writer.Write(ctx, tx, oplog.Draft{
			TaskID: id,
			OpType: types.OpDelete,
		}, now); err != nil {
			return err
		}
		ok, err := s.repo.Delete(ctx, tx, id, now)
		if err != nil {
			return err
		}
		deleted = ok
		return nil
	})
	return deleted, err
}

// Repository exposes the underlying read-only repository for list/get
// call sites that don't need to mutate anything.
func (s *Service) Repository() *Repository {
	return s.repo
}
