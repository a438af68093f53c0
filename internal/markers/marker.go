// Package markers defines the in-band control markers that travel
// interleaved with data records on the operator chain's channels. They
// are modeled as a closed set of Go types implementing the Marker
// interface, giving a type switch at dispatch sites exhaustive handling
// of every marker variant.
package markers

import (
	"time"

	"github.com/artemis/flowmod/internal/topology"
)

// ModificationAction distinguishes a pause-in-place from a migrate.
type ModificationAction int

const (
	ActionPausing ModificationAction = iota
	ActionStopping
)

func (a ModificationAction) String() string {
	switch a {
	case ActionPausing:
		return "PAUSING"
	case ActionStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Marker is implemented by every control-marker type. The unexported
// method closes the set so a type switch at dispatch sites is exhaustive
// by construction (go vet/staticcheck flag a missing case if a new marker
// is added and the switch isn't updated).
type Marker interface {
	isMarker()
}

// CheckpointBarrier delimits a checkpoint epoch; also serves as the
// synchronization point for pause-on-checkpoint.
type CheckpointBarrier struct {
	CheckpointID int64
	Timestamp    time.Time
	Options      CheckpointOptions
}

func (CheckpointBarrier) isMarker() {}

// CheckpointOptions carries the checkpoint kind/target; kept intentionally
// narrow since the checkpoint coordinator itself lives outside this
// package.
type CheckpointOptions struct {
	Aligned bool
}

// CancelCheckpointMarker aborts the checkpoint carrying ID.
type CancelCheckpointMarker struct {
	CheckpointID int64
}

func (CancelCheckpointMarker) isMarker() {}

// StartModificationMarker commands the indicated downstream subtasks (by
// parallelSubtaskIndex) to pause or stop at the next checkpoint boundary.
type StartModificationMarker struct {
	ModID           topology.ModificationID
	Timestamp       time.Time
	Acks            map[topology.ExecutionAttemptID]struct{}
	SubtasksToPause map[int]struct{}
	Action          ModificationAction
}

func (StartModificationMarker) isMarker() {}

// StartMigrationMarker is the richer variant used for migration: spillers
// are told which output subtask-indices to spill to disk, stoppers carry
// the new input-channel descriptors for their downstream peers.
type StartMigrationMarker struct {
	ModID                topology.ModificationID
	Timestamp            time.Time
	SpillingVertices      map[topology.ExecutionAttemptID]map[int]struct{}
	StoppingVertices      map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor
	UpcomingCheckpointID int64 // -1 means "no checkpoint anchor, modify immediately"
}

func (StartMigrationMarker) isMarker() {}

// CancelModificationMarker rescinds an earlier in-flight modification.
type CancelModificationMarker struct {
	ModID     topology.ModificationID
	Timestamp time.Time
	VertexIDs map[topology.ExecutionAttemptID]struct{}
}

func (CancelModificationMarker) isMarker() {}

// PausingOperatorMarker is emitted downstream by a paused operator; it
// carries the replacement input-channel descriptor for each downstream
// subtask, one-to-one with outgoing channels.
type PausingOperatorMarker struct {
	Descriptors []topology.InputChannelDescriptor
}

func (PausingOperatorMarker) isMarker() {}
