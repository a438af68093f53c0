package wire

import (
	"encoding/json"
	"fmt"

	"github.com/artemis/flowmod/internal/topology"
)

// Kind discriminates the payload carried by a Frame. One gRPC stream
// carries every message kind in both directions, so the payload itself
// can't select a Go type the way separate RPC methods would.
type Kind string

const (
	KindAcknowledge          Kind = "acknowledge"
	KindDecline              Kind = "decline"
	KindIgnore               Kind = "ignore"
	KindStateMigration       Kind = "state_migration"
	KindTriggerMigration     Kind = "trigger_migration"
	KindTriggerModification  Kind = "trigger_modification"
	KindResumeTask           Kind = "resume_task"
	KindConsumeNewProducer   Kind = "consume_new_producer"
	KindResumeWithNewInput   Kind = "resume_with_new_input"
	KindResumeDifferentInput Kind = "resume_with_different_inputs"
	KindRegisterTaskManager  Kind = "register_task_manager"
)

// Frame is the single message type ever marshaled onto the control
// stream: a Kind tag plus the JSON-encoded payload for that kind.
type Frame struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Wrap marshals msg and tags it with kind.
func Wrap(kind Kind, msg any) (Frame, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: wrap %s: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// Unwrap decodes f's payload into v. The caller is expected to have
// already switched on f.Kind to pick v's concrete type.
func (f Frame) Unwrap(v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("wire: unwrap %s: %w", f.Kind, err)
	}
	return nil
}

// RegisterTaskManager is the first frame a task manager sends after
// dialing the control stream, identifying itself so the coordinator can
// route downlink commands to the right connection.
type RegisterTaskManager struct {
	TaskManagerID string `json:"task_manager_id"`
	Host          string `json:"host"`
	GRPCPort      int    `json:"grpc_port"`
	SlotCapacity  int    `json:"slot_capacity"`
}

// ConsumeNewProducer rewires one input channel to a new upstream
// partition without a full redeploy of the consumer.
type ConsumeNewProducer struct {
	Envelope
	NewProducerAttempt topology.ExecutionAttemptID `json:"new_producer_attempt"`
	NewPartitionIndex  int                         `json:"new_partition_index"`
	TaskManagerHost    string                      `json:"task_manager_host"`
	TaskManagerPort    int                         `json:"task_manager_port"`
	ConnectionIndex    int                         `json:"connection_index"`
}

// ResumeWithNewInput tells a subtask to add one new input channel without
// redeploying, e.g. after a rescale inserts an upstream producer.
type ResumeWithNewInput struct {
	Envelope
	InputIndex int                              `json:"input_index"`
	Input      topology.InputChannelDescriptor `json:"input"`
}

// ResumeWithDifferentInputs replaces a subtask's entire input channel set.
type ResumeWithDifferentInputs struct {
	Envelope
	Inputs []topology.InputChannelDescriptor `json:"inputs"`
}
