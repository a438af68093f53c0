package topology

import (
	"sync"
	"time"
)

// ExecutionState is the lifecycle state of one ExecutionVertex.
type ExecutionState string

const (
	StateCreated   ExecutionState = "CREATED"
	StateScheduled ExecutionState = "SCHEDULED"
	StateDeploying ExecutionState = "DEPLOYING"
	StateRunning   ExecutionState = "RUNNING"
	StatePausing   ExecutionState = "PAUSING"
	StatePaused    ExecutionState = "PAUSED"
	StateResuming  ExecutionState = "RESUMING"
	StateFinished  ExecutionState = "FINISHED"
	StateCanceled  ExecutionState = "CANCELED"
	StateFailed    ExecutionState = "FAILED"
)

// TaskManagerLocation addresses a worker process reachable over gRPC.
type TaskManagerLocation struct {
	TaskManagerID ID
	Host          string
	GRPCPort      int
}

// Slot is a worker-resource reservation handed out by a SlotProvider.
type Slot struct {
	TaskManagerID       ID
	TaskManagerLocation TaskManagerLocation
}

// ExecutionVertex is the runtime object for one parallel subtask.
type ExecutionVertex struct {
	mu sync.RWMutex

	VertexID          VertexID
	SubtaskIndex      int
	AttemptID         ExecutionAttemptID
	AttemptNumber     int
	Slot              *Slot
	executionState    ExecutionState
	FailureCause      error
}

// NewExecutionVertex constructs a vertex in CREATED state with a fresh
// initial attempt id.
func NewExecutionVertex(vertexID VertexID, subtaskIndex int) *ExecutionVertex {
	return &ExecutionVertex{
		VertexID:       vertexID,
		SubtaskIndex:   subtaskIndex,
		AttemptID:      NewID(),
		AttemptNumber:  0,
		executionState: StateCreated,
	}
}

// State returns the current execution state.
func (v *ExecutionVertex) State() ExecutionState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.executionState
}

// SetState transitions the vertex to a new state. The coordinator is the
// only caller expected to drive this directly; task-manager-reported
// transitions flow through the intake path instead.
func (v *ExecutionVertex) SetState(s ExecutionState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.executionState = s
}

// ResetForNewAttempt assigns a new attempt id/number and slot, as used by
// the restart engine's resetForNewExecutionMigration.
func (v *ExecutionVertex) ResetForNewAttempt(slot *Slot, now time.Time) ExecutionAttemptID {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.AttemptID = NewID()
	v.AttemptNumber++
	v.Slot = slot
	v.executionState = StateScheduled
	return v.AttemptID
}

// ExecutionJobVertex is the logical operator: a named vertex with N
// parallel ExecutionVertex subtasks.
type ExecutionJobVertex struct {
	ID          VertexID
	Name        string
	Parallelism int
	Subtasks    []*ExecutionVertex

	// upstream/downstream model a DAG with a single producer per consumer
	// input; cyclic traversal is never required.
	upstream   *ExecutionJobVertex
	downstream *ExecutionJobVertex
}

// SubtaskByAttempt finds the subtask currently holding attemptID.
func (jv *ExecutionJobVertex) SubtaskByAttempt(attemptID ExecutionAttemptID) (*ExecutionVertex, bool) {
	for _, sub := range jv.Subtasks {
		if sub.AttemptID == attemptID {
			return sub, true
		}
	}
	return nil, false
}
