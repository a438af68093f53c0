// Package taskmanager is the task-manager side of the control plane: it
// hosts LocalSubtask instances, reacts to the coordinator's downlink
// commands, and reports Acknowledge/Decline/StateMigration back over the
// control stream.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/operatorchain"
	"github.com/artemis/flowmod/internal/topology"
	"github.com/artemis/flowmod/internal/transport"
	"github.com/artemis/flowmod/internal/wire"
)

// TaskManager owns every LocalSubtask currently deployed on this
// process and the single control stream back to the coordinator.
type TaskManager struct {
	id       topology.ID
	location topology.TaskManagerLocation
	client   *transport.Client
	log      *zap.Logger

	mu       sync.Mutex
	subtasks map[topology.ExecutionAttemptID]*LocalSubtask
}

// New constructs a task manager bound to an already-registered control
// stream. log may be nil.
func New(id topology.ID, location topology.TaskManagerLocation, client *transport.Client, log *zap.Logger) *TaskManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskManager{
		id:       id,
		location: location,
		client:   client,
		log:      log,
		subtasks: make(map[topology.ExecutionAttemptID]*LocalSubtask),
	}
}

// OutputFor returns a operatorchain.NetworkOutput that, when a marker is
// sent to it, routes through this task manager's reaction logic for
// target. Pass the returned values as the outputs slice when wiring up
// another subtask's chain.
func (tm *TaskManager) OutputFor(target *LocalSubtask) operatorchain.NetworkOutput {
	return &subtaskOutput{tm: tm, target: target}
}

// Deploy registers a new local subtask in RUNNING state and returns it.
func (tm *TaskManager) Deploy(attempt topology.ExecutionAttemptID, vertexID topology.VertexID, subtaskIndex int, outputs []operatorchain.NetworkOutput) *LocalSubtask {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	sub := NewLocalSubtask(attempt, vertexID, subtaskIndex, outputs)
	tm.subtasks[attempt] = sub
	return sub
}

// Subtask looks up a locally-hosted subtask by its current attempt id.
func (tm *TaskManager) Subtask(attempt topology.ExecutionAttemptID) (*LocalSubtask, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	sub, ok := tm.subtasks[attempt]
	return sub, ok
}

// subtaskOutput adapts a LocalSubtask into operatorchain.NetworkOutput by
// routing every marker through the owning TaskManager's reactor, since
// answering a pause/migration requires the control stream the subtask
// itself has no handle on.
type subtaskOutput struct {
	tm     *TaskManager
	target *LocalSubtask
}

func (o *subtaskOutput) SendRecord(record any) error { return nil } // data plane out of scope

func (o *subtaskOutput) SendMarker(m markers.Marker) error {
	return o.tm.deliverMarker(o.target, m)
}

// deliverMarker is the exhaustive type switch every control marker
// passes through on arrival at a local subtask, whether that subtask is
// the broadcast source or a downstream hop.
func (tm *TaskManager) deliverMarker(s *LocalSubtask, m markers.Marker) error {
	switch marker := m.(type) {
	case markers.CheckpointBarrier:
		if err := s.chain.BroadcastCheckpointBarrier(marker.CheckpointID, marker.Timestamp, marker.Options); err != nil {
			return err
		}
		if modID, finalized := s.finalizePause(); finalized {
			tm.reportPaused(s, modID)
		}
		return nil

	case markers.CancelCheckpointMarker:
		return s.chain.BroadcastCheckpointCancelMarker(marker.CheckpointID)

	case markers.StartModificationMarker:
		if _, wanted := marker.SubtasksToPause[s.SubtaskIndex]; wanted {
			s.arm(marker.ModID, marker.Action)
		}
		return s.chain.BroadcastStartModificationEvent(marker.ModID, marker.Timestamp, marker.Acks, marker.SubtasksToPause, marker.Action)

	case markers.StartMigrationMarker:
		if _, spilling := marker.SpillingVertices[s.Attempt]; spilling {
			tm.log.Debug("subtask spilling output for migration",
				zap.String("attempt", s.Attempt.String()), zap.Uint64("mod_id", uint64(marker.ModID)))
		}
		if _, stopping := marker.StoppingVertices[s.Attempt]; stopping {
			s.arm(marker.ModID, markers.ActionStopping)
		}
		return s.chain.BroadcastStartMigrationEvent(marker.ModID, marker.Timestamp, marker.SpillingVertices, marker.StoppingVertices, marker.UpcomingCheckpointID)

	case markers.CancelModificationMarker:
		if s.pending && s.pendingModID == marker.ModID {
			s.pending = false
			s.state = topology.StateRunning
		}
		return s.chain.BroadcastCancelModificationEvent(marker.ModID, marker.Timestamp, marker.VertexIDs)

	case markers.PausingOperatorMarker:
		// Terminal hop: a downstream peer learns its upstream's new
		// channel descriptor. Reconsuming is the responsibility of
		// whatever owns this subtask's input side; we only log here.
		tm.log.Debug("received pausing-operator marker", zap.Int("descriptors", len(marker.Descriptors)))
		return nil

	default:
		return fmt.Errorf("taskmanager: unhandled marker type %T", m)
	}
}

func (tm *TaskManager) reportPaused(s *LocalSubtask, modID topology.ModificationID) {
	ackFrame, err := wire.Wrap(wire.KindAcknowledge, wire.Acknowledge{
		Envelope: wire.Envelope{Version: wire.ProtocolVersion, ModID: modID, Attempt: s.Attempt},
	})
	if err != nil {
		tm.log.Error("build acknowledge frame", zap.Error(err))
		return
	}
	if err := tm.client.Send(ackFrame); err != nil {
		tm.log.Error("send acknowledge", zap.Error(err))
		return
	}

	stateFrame, err := wire.Wrap(wire.KindStateMigration, wire.StateMigration{
		Envelope:         wire.Envelope{Version: wire.ProtocolVersion, ModID: modID, Attempt: s.Attempt},
		SubtaskStateBlob: s.stateBlob,
	})
	if err != nil {
		tm.log.Error("build state migration frame", zap.Error(err))
		return
	}
	if err := tm.client.Send(stateFrame); err != nil {
		tm.log.Error("send state migration", zap.Error(err))
		return
	}
}

// Serve blocks draining downlink frames from the control stream until it
// closes or ctx is canceled.
func (tm *TaskManager) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := tm.client.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("taskmanager: receive downlink frame: %w", err)
		}
		if err := tm.handleDownlink(f); err != nil {
			tm.log.Warn("dropping malformed downlink frame", zap.String("kind", string(f.Kind)), zap.Error(err))
		}
	}
}

func (tm *TaskManager) handleDownlink(f wire.Frame) error {
	switch f.Kind {
	case wire.KindTriggerModification:
		var msg wire.TriggerModification
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		sub, ok := tm.Subtask(msg.Attempt)
		if !ok {
			return fmt.Errorf("taskmanager: trigger modification for unknown attempt %s", msg.Attempt)
		}
		return tm.deliverMarker(sub, markers.StartModificationMarker{
			ModID: msg.ModID, Timestamp: timestampFromUnixNano(msg.Timestamp),
			Acks: msg.Acks, SubtasksToPause: msg.SubtasksToPause, Action: markers.ModificationAction(msg.Action),
		})

	case wire.KindTriggerMigration:
		var msg wire.TriggerMigration
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		sub, ok := tm.Subtask(msg.Attempt)
		if !ok {
			return fmt.Errorf("taskmanager: trigger migration for unknown attempt %s", msg.Attempt)
		}
		return tm.deliverMarker(sub, markers.StartMigrationMarker{
			ModID: msg.ModID, Timestamp: timestampFromUnixNano(msg.Timestamp),
			SpillingVertices: msg.SpillingVertices, StoppingVertices: msg.StoppingVertices,
			UpcomingCheckpointID: msg.UpcomingCheckpointID,
		})

	case wire.KindResumeTask:
		var msg wire.ResumeTask
		if err := f.Unwrap(&msg); err != nil {
			return err
		}
		tm.mu.Lock()
		sub, ok := tm.subtasks[msg.Attempt]
		tm.mu.Unlock()
		if ok {
			sub.redeploy(msg.Attempt, msg.StateBlob)
			return nil
		}
		// The common case: migration redeployed this attempt onto a task
		// manager that never hosted its predecessor. Without scheduling
		// input (out of scope here), we cannot know its downstream
		// wiring, so we register it with no outputs; the hosting
		// runtime is expected to call Deploy itself once it has that
		// wiring and can discard this placeholder.
		tm.log.Info("resume for attempt with no prior local state", zap.String("attempt", msg.Attempt.String()))
		return nil

	case wire.KindConsumeNewProducer, wire.KindResumeWithNewInput, wire.KindResumeDifferentInput:
		tm.log.Debug("received input-rewiring command", zap.String("kind", string(f.Kind)))
		return nil

	default:
		return fmt.Errorf("taskmanager: unhandled downlink frame kind %q", f.Kind)
	}
}
