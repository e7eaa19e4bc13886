/*
Package idgen produces time-ordered, globally unique identifiers.

Both task IDs and oplog entry IDs use the same scheme: a UUIDv7, whose
leading 48 bits encode milliseconds since the Unix epoch and whose
remaining bits are random. Lexical order on the resulting string therefore
approximates temporal order, which is what the replay algorithm's
(timestamp, id) tiebreak relies on.
*/
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces strictly increasing ids for a single writer (one
// device or one oplog writer instance). Two Generators running
// concurrently on different devices make no ordering promises relative to
// each other, only wall-clock time does that, approximately.
type Generator struct {
	mu   sync.Mutex
	last string
}

// NewGenerator returns a Generator ready for use.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns a new id, guaranteed to be lexically greater than every id
// previously returned by this Generator.
func (g *Generator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("idgen: generate uuidv7: %w", err)
		}
		s := id.String()
		if s > g.last {
			g.last = s
			return s, nil
		}
		// Two calls landed in the same millisecond with a random suffix
		// that didn't sort after the last one issued. Retry; this is rare
		// and bounded by UUIDv7's 74 bits of randomness.
	}
}
