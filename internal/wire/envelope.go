// Package wire defines the coordinator<->task-manager control messages
// and their framing. Messages are hand-written Go structs rather than
// protoc output: the gRPC layer marshals them as length-prefixed JSON via
// a custom codec instead of the protobuf wire format (see
// internal/transport).
package wire

import (
	"github.com/artemis/flowmod/internal/topology"
)

// ProtocolVersion is the current wire format version, carried in every
// Envelope and checked by ReadFrame.
const ProtocolVersion uint8 = 1

// Envelope is embedded by every message kind.
type Envelope struct {
	Version uint8                       `json:"version"`
	JobID   topology.JobID              `json:"job_id"`
	ModID   topology.ModificationID     `json:"mod_id"`
	Attempt topology.ExecutionAttemptID `json:"attempt_id"`
}

// Acknowledge confirms an attempt completed its part of a modification.
type Acknowledge struct {
	Envelope
}

// Decline reports a task's refusal to participate in a modification,
// with an optional human-readable reason.
type Decline struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

// Ignore reports that a task did not participate meaningfully in a
// modification (e.g. it was not in the pausing set).
type Ignore struct {
	Envelope
}

// StateMigration carries a paused subtask's checkpoint snapshot back to
// the coordinator.
type StateMigration struct {
	Envelope
	SubtaskStateBlob []byte `json:"subtask_state_blob"`
}

// TriggerMigration is the coordinator->task-manager command to begin a
// migration, carrying the spill/stop maps computed by the trigger engine.
type TriggerMigration struct {
	Envelope
	Timestamp            int64                                                              `json:"timestamp_unix_nano"`
	SpillingVertices     map[topology.ExecutionAttemptID]map[int]struct{}                   `json:"spilling_vertices"`
	StoppingVertices     map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor `json:"stopping_vertices"`
	UpcomingCheckpointID int64                                                              `json:"upcoming_checkpoint_id"`
}

// TriggerModification is the coordinator->task-manager command for the
// simpler pause/stop case (no spill/stop maps).
type TriggerModification struct {
	Envelope
	Timestamp       int64                                     `json:"timestamp_unix_nano"`
	Acks            map[topology.ExecutionAttemptID]struct{} `json:"acks"`
	SubtasksToPause map[int]struct{}                           `json:"subtasks_to_pause"`
	Action          int                                         `json:"action"`
}

// ResumeTask is the coordinator->task-manager command to deploy a
// restarted attempt, carrying the state snapshot taken back from whatever
// task manager previously paused it so the (possibly different) task
// manager receiving this can rehydrate without a second round trip.
type ResumeTask struct {
	Envelope
	TimeoutMillis int64  `json:"timeout_millis"`
	StateBlob     []byte `json:"state_blob,omitempty"`
}
