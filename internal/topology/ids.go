// Package topology models the running job's execution graph: vertices,
// their parallel subtasks, slots, and the result-partition/input-channel
// wiring between them.
package topology

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier shared by JobID, VertexID and
// ExecutionAttemptID.
type ID uuid.UUID

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value (never generated by NewID).
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID parses the string form produced by ID.String().
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("topology: parse id %q: %w", s, err)
	}
	return ID(u), nil
}

// JobID identifies the running job; fixed at coordinator construction.
type JobID = ID

// VertexID identifies a logical operator in the topology.
type VertexID = ID

// ExecutionAttemptID identifies one incarnation of a parallel subtask
// (vertex x subtaskIndex x attempt).
type ExecutionAttemptID = ID

// ModificationID is a coordinator-local, monotonically increasing 64-bit
// counter, started at 1.
type ModificationID uint64
