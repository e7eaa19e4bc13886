package taskcore

import "github.com/cuemby/tasksync/pkg/types"

// SortKey selects the ordering List applies to its results.
type SortKey string

const (
	// SortPriority orders urgent, high, medium, low, then creation time
	// within a tier. This is the default.
	SortPriority SortKey = "priority"
	// SortDue orders ascending by due_at, with tasks that have no due_at
	// sorted last.
	SortDue SortKey = "due"
	// SortTitle orders case-insensitively by title.
	SortTitle SortKey = "title"
	// SortCreated orders ascending by created_at.
	SortCreated SortKey = "created"
)

// Filters narrows and orders Repository.List's result set. The zero value
// lists every non-deleted task in default (priority) order.
type Filters struct {
	Status     types.Status
	Priority   types.Priority
	Label      string
	Owner      string
	Search     string
	Actionable bool
	Sort       SortKey
	Limit      int
	Offset     int
}

func (f Filters) sortKey() SortKey {
	if f.Sort == "" {
		return SortPriority
	}
	return f.Sort
}
