package taskcore

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by Repository.Create when a task with the
// given id already exists.
var ErrDuplicateID = errors.New("taskcore: duplicate task id")

// AmbiguousPrefix is returned by prefix resolution when an id prefix
// matches more than one task. Not found is never an error, a Get/Update
// against a prefix with zero matches returns (nil, nil).
type AmbiguousPrefix struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousPrefix) Error() string {
	return fmt.Sprintf("taskcore: prefix %q matches %d tasks", e.Prefix, len(e.Matches))
}

// StorageError wraps an error surfaced by pkg/storage so callers can tell
// "the store failed" apart from a business-rule error like AmbiguousPrefix
// without inspecting message text.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("taskcore: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
