package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// Trigger is the coordinator's entry point for operator-side intents:
// pause, single-subtask stop, and full-worker migration. Every public
// method acquires the registry's trigger lock for its whole duration,
// ordering concurrent callers, but releases the registry's data lock
// before issuing any RPC — no callback or gateway call ever runs while a
// mutex is held.
type Trigger struct {
	registry *Registry
	graph    *topology.Graph
	slots    SlotProvider
	ckpts    CheckpointIDCounter
	gateway  TaskManagerGateway
	log      *zap.Logger
}

// NewTrigger wires the trigger engine to its collaborators. log may be nil.
func NewTrigger(registry *Registry, graph *topology.Graph, slots SlotProvider, ckpts CheckpointIDCounter, gateway TaskManagerGateway, log *zap.Logger) *Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trigger{registry: registry, graph: graph, slots: slots, ckpts: ckpts, gateway: gateway, log: log}
}

func attemptSet(refs []topology.SubtaskRef) map[topology.ExecutionAttemptID]struct{} {
	out := make(map[topology.ExecutionAttemptID]struct{}, len(refs))
	for _, r := range refs {
		out[r.Vertex.AttemptID] = struct{}{}
	}
	return out
}

func subtaskIndexSet(refs []topology.SubtaskRef) map[int]struct{} {
	out := make(map[int]struct{}, len(refs))
	for _, r := range refs {
		out[r.Vertex.SubtaskIndex] = struct{}{}
	}
	return out
}

// PauseAll pauses every subtask whose vertex name contains operatorName
// (case-insensitive, the known-fragile substring policy). Action is
// PAUSING: subtasks suspend in place and resume, they are not migrated.
func (t *Trigger) PauseAll(ctx context.Context, operatorName string) (*PendingModification, error) {
	t.registry.LockTrigger()
	defer t.registry.UnlockTrigger()

	matched := t.graph.VerticesByNameSubstring(operatorName)
	var refs []topology.SubtaskRef
	for _, jv := range matched {
		for _, sub := range jv.Subtasks {
			refs = append(refs, topology.SubtaskRef{Vertex: sub, JobVertex: jv})
		}
	}
	return t.pause(ctx, fmt.Sprintf("pause all matching %q", operatorName), refs)
}

// PauseVertex pauses every subtask of exactly one logical vertex,
// identified by id rather than by name substring.
func (t *Trigger) PauseVertex(ctx context.Context, id topology.VertexID) (*PendingModification, error) {
	t.registry.LockTrigger()
	defer t.registry.UnlockTrigger()

	jv, ok := t.graph.VertexByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: vertex %s not found", ErrLocalPolicyViolation, id)
	}
	var refs []topology.SubtaskRef
	for _, sub := range jv.Subtasks {
		refs = append(refs, topology.SubtaskRef{Vertex: sub, JobVertex: jv})
	}
	return t.pause(ctx, fmt.Sprintf("pause vertex %s", jv.Name), refs)
}

func (t *Trigger) pause(ctx context.Context, description string, refs []topology.SubtaskRef) (*PendingModification, error) {
	if len(refs) == 0 {
		return nil, ErrEmptyPendingSet
	}
	now := time.Now()
	acks := attemptSet(refs)
	pm, err := t.registry.CreatePending(description, markers.ActionPausing, acks, now)
	if err != nil {
		return nil, err
	}
	subtasks := subtaskIndexSet(refs)

	for _, src := range t.graph.Sources() {
		for _, sub := range src.Subtasks {
			if err := t.gateway.TriggerModification(ctx, sub.AttemptID, pm.ModID, now, acks, subtasks, int(markers.ActionPausing)); err != nil {
				t.registry.FailOpen(pm.ModID, err)
				return nil, fmt.Errorf("%w: %v", ErrIOOnBroadcast, err)
			}
		}
	}
	return pm, nil
}

// PauseSingle stops exactly one subtask (action STOPPING) and remembers
// it in vertexToRestart so a later Acknowledge/StateMigration pair drives
// the restart engine. It models the source's "exactly one in-flight stop"
// limitation: a second PauseSingle for a different attempt before the
// first restarts is legal (it keys by attempt, not a single global slot),
// but two PauseSingle calls racing the very same attempt are not
// serialized beyond the trigger lock already held for each call's
// duration.
func (t *Trigger) PauseSingle(ctx context.Context, attemptID topology.ExecutionAttemptID) (*PendingModification, error) {
	t.registry.LockTrigger()
	defer t.registry.UnlockTrigger()

	vertex, jv, ok := t.graph.VertexByAttempt(attemptID)
	if !ok {
		return nil, fmt.Errorf("%w: attempt %s not found", ErrLocalPolicyViolation, attemptID)
	}
	var excludeTM topology.ID
	if vertex.Slot != nil {
		excludeTM = vertex.Slot.TaskManagerID
	}
	newSlot, err := t.slots.AllocateSlotExceptOnTaskManager(ctx, excludeTM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchedulingFailure, err)
	}

	now := time.Now()
	acks := map[topology.ExecutionAttemptID]struct{}{attemptID: {}}
	pm, err := t.registry.CreatePending(fmt.Sprintf("pause single %s/%d", jv.Name, vertex.SubtaskIndex), markers.ActionStopping, acks, now)
	if err != nil {
		t.slots.Release(newSlot)
		return nil, err
	}
	subtasks := map[int]struct{}{vertex.SubtaskIndex: {}}

	for _, src := range t.graph.Sources() {
		for _, sub := range src.Subtasks {
			if err := t.gateway.TriggerModification(ctx, sub.AttemptID, pm.ModID, now, acks, subtasks, int(markers.ActionStopping)); err != nil {
				t.registry.FailOpen(pm.ModID, err)
				t.slots.Release(newSlot)
				t.registry.metrics.IncSlotsReleased()
				return nil, fmt.Errorf("%w: %v", ErrIOOnBroadcast, err)
			}
		}
	}
	t.registry.RegisterVertexToRestart(attemptID, vertex, pm.ModID)
	t.registry.StashSlots(pm.ModID, map[topology.ExecutionAttemptID]*topology.Slot{attemptID: newSlot})
	return pm, nil
}

// MigrateAllFrom migrates every subtask currently hosted on tm to a
// newly-allocated slot on a different worker. It computes the spilling
// upstream map and the downstream stop map per the algorithmic contract,
// anchors the migration to a future checkpoint when one is available, and
// delivers the StartMigration marker through the graph's source subtasks.
func (t *Trigger) MigrateAllFrom(ctx context.Context, tm topology.ID) (*PendingModification, error) {
	t.registry.LockTrigger()
	defer t.registry.UnlockTrigger()

	migrating := t.graph.SubtasksOnTaskManager(tm)
	if len(migrating) == 0 {
		return nil, ErrEmptyPendingSet
	}

	newSlots := make(map[topology.ExecutionAttemptID]*topology.Slot, len(migrating))
	for _, ref := range migrating {
		slot, err := t.slots.AllocateSlotExceptOnTaskManager(ctx, tm)
		if err != nil {
			t.releaseAll(newSlots)
			return nil, fmt.Errorf("%w: %v", ErrSchedulingFailure, err)
		}
		newSlots[ref.Vertex.AttemptID] = slot
	}

	spillMap := make(map[topology.ExecutionAttemptID]map[int]struct{})
	stopMap := make(map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor)

	for _, ref := range migrating {
		v, jv := ref.Vertex, ref.JobVertex

		if upstream := t.graph.GetUpstreamOperator(jv); upstream != nil {
			for _, u := range upstream.Subtasks {
				set, ok := spillMap[u.AttemptID]
				if !ok {
					set = make(map[int]struct{})
					spillMap[u.AttemptID] = set
				}
				set[v.SubtaskIndex] = struct{}{}
			}
		}

		if downstream := t.graph.GetDownstreamOperator(jv); downstream != nil {
			newSlot := newSlots[v.AttemptID]
			var descriptors []topology.InputChannelDescriptor
			for range downstream.Subtasks {
				partition := topology.ResultPartitionID{ProducerAttempt: v.AttemptID, PartitionIndex: v.SubtaskIndex}
				desc := topology.NewRemoteChannel(partition, fmt.Sprintf("%s:%d", newSlot.TaskManagerLocation.Host, newSlot.TaskManagerLocation.GRPCPort))
				descriptors = append(descriptors, desc)
			}
			stopMap[v.AttemptID] = descriptors
		}
	}
	for k := range stopMap {
		delete(spillMap, k)
	}

	upcomingCheckpointID := int64(-1)
	if current := t.ckpts.GetCurrent(); current >= 2 {
		upcomingCheckpointID = current + 2
	}

	now := time.Now()
	pending := make(map[topology.ExecutionAttemptID]struct{}, len(migrating))
	for _, ref := range migrating {
		pending[ref.Vertex.AttemptID] = struct{}{}
	}
	pm, err := t.registry.CreatePending(fmt.Sprintf("migrate all from %s", tm), markers.ActionStopping, pending, now)
	if err != nil {
		t.releaseAll(newSlots)
		return nil, err
	}

	for _, src := range t.graph.Sources() {
		for _, sub := range src.Subtasks {
			if err := t.gateway.TriggerMigration(ctx, sub.AttemptID, pm.ModID, now, spillMap, stopMap, upcomingCheckpointID); err != nil {
				t.registry.FailOpen(pm.ModID, err)
				t.releaseAll(newSlots)
				return nil, fmt.Errorf("%w: %v", ErrIOOnBroadcast, err)
			}
		}
	}

	for _, ref := range migrating {
		t.registry.RegisterVertexToRestart(ref.Vertex.AttemptID, ref.Vertex, pm.ModID)
	}
	t.registry.StashSlots(pm.ModID, newSlots)
	return pm, nil
}

func (t *Trigger) releaseAll(slots map[topology.ExecutionAttemptID]*topology.Slot) {
	for _, s := range slots {
		t.slots.Release(s)
		t.registry.metrics.IncSlotsReleased()
	}
}
