package taskmanager

import (
	"time"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/operatorchain"
	"github.com/artemis/flowmod/internal/topology"
)

// LocalSubtask is one parallel subtask instance hosted on this task
// manager: its position in the logical topology, its outgoing operator
// chain, and the pause/migration bookkeeping needed to answer a
// StartModificationMarker/StartMigrationMarker correctly at the next
// checkpoint boundary.
type LocalSubtask struct {
	Attempt      topology.ExecutionAttemptID
	VertexID     topology.VertexID
	SubtaskIndex int

	chain *operatorchain.Chain
	state topology.ExecutionState

	// pendingModID/pendingAction/pendingAcks are set by a
	// StartModificationMarker or StartMigrationMarker and consumed at the
	// next CheckpointBarrier, per the pause-on-checkpoint-boundary
	// protocol: a subtask never stops mid-epoch.
	pendingModID  topology.ModificationID
	pendingAction markers.ModificationAction
	pending       bool

	// InitialStateBlob is populated from ResumeTask when this subtask
	// instance is a restart target; whatever owns the subtask's user
	// logic is expected to consume and clear it before processing its
	// first record.
	InitialStateBlob []byte

	// stateBlob is what gets reported back via StateMigration once this
	// subtask reaches PAUSED; populated by SnapshotState, which the
	// hosting runtime calls once its own checkpoint snapshot is ready.
	stateBlob []byte
}

// NewLocalSubtask constructs a subtask in RUNNING state, broadcasting
// control markers onward to outputs.
func NewLocalSubtask(attempt topology.ExecutionAttemptID, vertexID topology.VertexID, subtaskIndex int, outputs []operatorchain.NetworkOutput) *LocalSubtask {
	return &LocalSubtask{
		Attempt:      attempt,
		VertexID:     vertexID,
		SubtaskIndex: subtaskIndex,
		chain:        operatorchain.NewChain(outputs),
		state:        topology.StateRunning,
	}
}

// State returns the subtask's current lifecycle state.
func (s *LocalSubtask) State() topology.ExecutionState {
	return s.state
}

// arm records a pending pause/stop to be finalized at the next
// checkpoint barrier; a second arm for a different modification while
// one is already pending overwrites it, matching the single-in-flight
// modification assumption the coordinator itself enforces via its
// trigger lock.
func (s *LocalSubtask) arm(modID topology.ModificationID, action markers.ModificationAction) {
	s.pendingModID = modID
	s.pendingAction = action
	s.pending = true
	s.state = topology.StatePausing
}

// SnapshotState provides the blob that will be reported in the
// StateMigration reply once the subtask reaches PAUSED. Call before the
// next barrier arrives if the arm happened after the snapshot was taken.
func (s *LocalSubtask) SnapshotState(blob []byte) {
	s.stateBlob = blob
}

// finalizePause transitions PAUSING->PAUSED on a checkpoint barrier when
// a pause/stop is armed; returns the modification id and whether a
// finalize actually happened, telling the caller whether to report back
// to the coordinator.
func (s *LocalSubtask) finalizePause() (topology.ModificationID, bool) {
	if !s.pending {
		return 0, false
	}
	s.pending = false
	s.state = topology.StatePaused
	return s.pendingModID, true
}

// redeploy resets the subtask to a fresh attempt in RUNNING state,
// rehydrating from blob. Used when ResumeTask targets an attempt this
// task manager has not seen before (the common case: migration moves a
// subtask to a different task manager than the one that paused it).
func (s *LocalSubtask) redeploy(attempt topology.ExecutionAttemptID, blob []byte) {
	s.Attempt = attempt
	s.state = topology.StateRunning
	s.InitialStateBlob = blob
	s.stateBlob = nil
	s.pending = false
}

// Chain exposes the subtask's outgoing operator chain so the hosting
// runtime can drive normal data-plane emission (EmitWatermark,
// EmitLatencyMarker) alongside the control-marker handling this package
// owns.
func (s *LocalSubtask) Chain() *operatorchain.Chain {
	return s.chain
}

// timestampFromUnixNano converts the wire format's int64 nanosecond
// timestamps back to time.Time at the boundary into operatorchain/markers.
func timestampFromUnixNano(nsec int64) time.Time {
	return time.Unix(0, nsec)
}
