package coordinator

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/artemis/flowmod/internal/topology"
)

// StoredSubtaskState is the snapshot output of a paused subtask's
// checkpoint, keyed by the subtask's ExecutionAttemptID and consumed
// exactly once by the restart engine.
type StoredSubtaskState struct {
	AttemptID   topology.ExecutionAttemptID
	Blob        []byte
	ContentHash uint64
	StoredAt    time.Time
}

// NewStoredSubtaskState hashes blob with xxhash so a duplicate
// StateMigration reply can be logged as "duplicate, identical" vs.
// "duplicate, content differs" without comparing the raw bytes.
func NewStoredSubtaskState(attemptID topology.ExecutionAttemptID, blob []byte, now time.Time) *StoredSubtaskState {
	return &StoredSubtaskState{
		AttemptID:   attemptID,
		Blob:        blob,
		ContentHash: xxhash.Sum64(blob),
		StoredAt:    now,
	}
}
