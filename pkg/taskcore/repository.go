package taskcore

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/cuemby/tasksync/pkg/storage"
	"github.com/cuemby/tasksync/pkg/types"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is a thin materialized-view layer over the tasks table. It
// never writes to the oplog and must only be invoked from Service (or
// read-only paths), see pkg/oplog for the component that keeps the oplog
// and this repository's writes in sync.
type Repository struct {
	db *storage.Store
}

// NewRepository returns a Repository backed by store.
func NewRepository(store *storage.Store) *Repository {
	return &Repository{db: store}
}

// Create inserts t. It is the caller's responsibility to have already
// decided t.ID is unique; Create returns ErrDuplicateID if a row with that
// id already exists.
func (r *Repository) Create(ctx context.Context, x dbtx, t *types.Task) error {
	existing, err := storage.GetTask(ctx, x, t.ID)
	if err != nil {
		return wrapStorageErr("create: check existing", err)
	}
	if existing != nil {
		return ErrDuplicateID
	}
	if err := storage.UpsertTask(ctx, x, t); err != nil {
		return wrapStorageErr("create", err)
	}
	return nil
}

// Get resolves idOrPrefix (exact match first, else a unique prefix) and
// returns the task, or (nil, nil) if nothing matches. It returns
// *AmbiguousPrefix if idOrPrefix matches more than one task.
func (r *Repository) Get(ctx context.Context, x dbtx, idOrPrefix string) (*types.Task, error) {
	id, err := r.resolve(ctx, x, idOrPrefix)
	if err != nil || id == "" {
		return nil, err
	}
	task, err := storage.GetTask(ctx, x, id)
	if err != nil {
		return nil, wrapStorageErr("get", err)
	}
	return task, nil
}

// resolve turns idOrPrefix into a concrete task id, or "" if nothing
// matches. An exact match always wins even when idOrPrefix also happens to
// be a prefix of another task's id (spec's exact-match-before-prefix-scan
// ordering).
func (r *Repository) resolve(ctx context.Context, x dbtx, idOrPrefix string) (string, error) {
	exact, err := storage.GetTask(ctx, x, idOrPrefix)
	if err != nil {
		return "", wrapStorageErr("resolve: exact lookup", err)
	}
	if exact != nil {
		return exact.ID, nil
	}

	matches, err := storage.ListTaskIDsWithPrefix(ctx, x, idOrPrefix)
	if err != nil {
		return "", wrapStorageErr("resolve: prefix scan", err)
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousPrefix{Prefix: idOrPrefix, Matches: matches}
	}
}

// Update replaces the current value of t's mutable columns and returns the
// stored task, or (nil, nil) if idOrPrefix resolves to nothing. Service is
// the only caller that should use this, it composes it with an oplog
// write inside one transaction.
func (r *Repository) Update(ctx context.Context, x dbtx, idOrPrefix string, mutate func(*types.Task)) (*types.Task, error) {
	id, err := r.resolve(ctx, x, idOrPrefix)
	if err != nil || id == "" {
		return nil, err
	}
	task, err := storage.GetTask(ctx, x, id)
	if err != nil {
		return nil, wrapStorageErr("update: load", err)
	}
	if task == nil {
		return nil, nil
	}
	mutate(task)
	if err := storage.UpsertTask(ctx, x, task); err != nil {
		return nil, wrapStorageErr("update: upsert", err)
	}
	return task, nil
}

// Delete soft-deletes the task idOrPrefix resolves to, returning whether a
// task was present to delete.
func (r *Repository) Delete(ctx context.Context, x dbtx, idOrPrefix string, at types.Timestamp) (bool, error) {
	id, err := r.resolve(ctx, x, idOrPrefix)
	if err != nil || id == "" {
		return false, err
	}
	task, err := storage.GetTask(ctx, x, id)
	if err != nil {
		return false, wrapStorageErr("delete: load", err)
	}
	if task == nil || task.IsDeleted() {
		return false, nil
	}
	task.DeletedAt = &at
	if at.After(task.UpdatedAt) {
		task.UpdatedAt = at
	}
	if err := storage.UpsertTask(ctx, x, task); err != nil {
		return false, wrapStorageErr("delete: upsert", err)
	}
	return true, nil
}

// List returns non-deleted tasks matching filters, sorted and paginated
// per filters.Sort/Limit/Offset.
func (r *Repository) List(ctx context.Context, x dbtx, filters Filters) ([]*types.Task, error) {
	all, err := storage.ListAllTasks(ctx, x)
	if err != nil {
		return nil, wrapStorageErr("list", err)
	}

	byID := make(map[string]*types.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	out := make([]*types.Task, 0, len(all))
	for _, t := range all {
		if t.IsDeleted() {
			continue
		}
		if !matchesFilters(t, filters, byID) {
			continue
		}
		out = append(out, t)
	}

	sortTasks(out, filters.sortKey())

	return paginate(out, filters.Limit, filters.Offset), nil
}

func matchesFilters(t *types.Task, f Filters, byID map[string]*types.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Label != "" && !containsString(t.Labels, f.Label) {
		return false
	}
	if f.Owner != "" && (t.Owner == nil || *t.Owner != f.Owner) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.Search)) {
		return false
	}
	if f.Actionable && isBlocked(t, byID) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// isBlocked reports whether t has at least one blocking task that is not
// done. A blocking id that no longer resolves to any task does not block
// (it cannot be confirmed incomplete).
func isBlocked(t *types.Task, byID map[string]*types.Task) bool {
	for _, blockerID := range t.BlockedBy {
		blocker, ok := byID[blockerID]
		if !ok {
			continue
		}
		if blocker.Status != types.StatusDone {
			return true
		}
	}
	return false
}

func sortTasks(tasks []*types.Task, key SortKey) {
	switch key {
	case SortDue:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i].DueAt, tasks[j].DueAt
			if a == nil && b == nil {
				return false
			}
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return *a < *b
		})
	case SortTitle:
		sort.SliceStable(tasks, func(i, j int) bool {
			return strings.ToLower(tasks[i].Title) < strings.ToLower(tasks[j].Title)
		})
	case SortCreated:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	default: // SortPriority
		sort.SliceStable(tasks, func(i, j int) bool {
			ri, rj := types.PriorityRank(tasks[i].Priority), types.PriorityRank(tasks[j].Priority)
			if ri != rj {
				return ri < rj
			}
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	}
}

func paginate(tasks []*types.Task, limit, offset int) []*types.Task {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(tasks) {
		return []*types.Task{}
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}
