package coordinator

import (
	"context"
	"time"

	"github.com/artemis/flowmod/internal/topology"
)

// SlotProvider is the resource/slot allocator collaborator. We consume it
// but do not implement it here; internal/slotpool supplies a standalone
// in-memory implementation for this repo's CLI mode.
type SlotProvider interface {
	// AllocateSlotExceptOnTaskManager must not return a slot on excludeTM.
	AllocateSlotExceptOnTaskManager(ctx context.Context, excludeTM topology.ID) (*topology.Slot, error)
	// Release returns a previously allocated slot to the pool, used by the
	// restart engine's decline/error branch.
	Release(slot *topology.Slot)
}

// CheckpointIDCounter is the periodic checkpoint-coordinator collaborator.
// We consume GetCurrent() to anchor migrations to a future checkpoint
// boundary.
type CheckpointIDCounter interface {
	GetCurrent() int64
}

// TaskManagerGateway is the RPC surface the coordinator uses to reach a
// task manager. internal/transport implements this over the gRPC control
// stream; tests use an in-memory fake.
type TaskManagerGateway interface {
	// ResumeTask redeploys attempt on the task manager its slot now
	// points to, which may differ from whichever task manager hosted the
	// vertex before the restart. stateBlob is the snapshot the restart
	// engine just took back from the registry, carried along so the
	// (possibly new) task manager can rehydrate without a second
	// round trip to fetch it.
	ResumeTask(ctx context.Context, attempt topology.ExecutionAttemptID, timeout time.Duration, stateBlob []byte) error
	// TriggerMigration delivers a StartMigration marker to the task
	// manager hosting attempt (expected to be a source-vertex subtask);
	// normal data-plane broadcast inside that task's operator chain
	// carries it downstream from there.
	TriggerMigration(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, spillMap map[topology.ExecutionAttemptID]map[int]struct{}, stopMap map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor, upcomingCheckpointID int64) error
	// TriggerModification is the PAUSING/STOPPING counterpart of
	// TriggerMigration, used by PauseAll/PauseVertex.
	TriggerModification(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, acks map[topology.ExecutionAttemptID]struct{}, subtasksToPause map[int]struct{}, action int) error
	TriggerResumeWithDifferentInputs(ctx context.Context, attempt topology.ExecutionAttemptID, inputs []topology.InputChannelDescriptor) error
	TriggerResumeWithNewInput(ctx context.Context, attempt topology.ExecutionAttemptID, index int, input topology.InputChannelDescriptor) error
	ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt topology.ExecutionAttemptID, newPartitionIndex int, tmLocation topology.TaskManagerLocation, connectionIdx int) error
}
