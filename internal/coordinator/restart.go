package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/topology"
)

// Restart redeploys a paused subtask once both its acknowledgement and its
// StateMigration reply have arrived, and supports the rescale-time
// topology edits (createAndInsertOperator, consumeNewProducer).
type Restart struct {
	registry *Registry
	graph    *topology.Graph
	gateway  TaskManagerGateway
	log      *zap.Logger
}

// NewRestart wires the restart engine to its collaborators. log may be nil.
func NewRestart(registry *Registry, graph *topology.Graph, gateway TaskManagerGateway, log *zap.Logger) *Restart {
	if log == nil {
		log = zap.NewNop()
	}
	return &Restart{registry: registry, graph: graph, gateway: gateway, log: log}
}

// RestartIfStoppedAndStateReceived fires exactly when all three hold: the
// attempt is registered in vertexToRestart, its StateMigration snapshot
// has arrived, and its ExecutionVertex is PAUSED. Any other combination is
// a no-op — the caller (intake) invokes this speculatively after both
// Acknowledge and StateMigration, so most calls simply find one of the
// three conditions still missing.
func (r *Restart) RestartIfStoppedAndStateReceived(ctx context.Context, attemptID topology.ExecutionAttemptID) error {
	vertex, modID, ok := r.registry.VertexAwaitingRestart(attemptID)
	if !ok {
		return nil
	}
	if _, ok := r.registry.PeekState(attemptID); !ok {
		return nil
	}
	if vertex.State() != topology.StatePaused {
		return nil
	}

	start := time.Now()
	r.registry.UnregisterVertexToRestart(attemptID)
	state, ok := r.registry.TakeState(attemptID)
	if !ok || state == nil {
		err := fmt.Errorf("%w: stored state vanished for attempt %s mid-restart", ErrLocalPolicyViolation, attemptID)
		r.graph.FailGlobal(err)
		return err
	}

	newAttempt, err := r.graph.ResetForNewExecutionMigration(vertex, start, r.graph.GlobalModVersion())
	if err != nil {
		r.graph.FailGlobal(fmt.Errorf("%w: %v", ErrSchedulingFailure, err))
		return err
	}

	if slot, ok := r.registry.TakeSlot(modID, attemptID); ok {
		vertex.Slot = slot
	}

	if err := r.gateway.ResumeTask(ctx, newAttempt, 30*time.Second, state.Blob); err != nil {
		r.graph.FailGlobal(fmt.Errorf("scheduling restarted attempt %s: %w", newAttempt, err))
		return err
	}

	r.log.Info("restarted paused vertex",
		zap.String("old_attempt", attemptID.String()),
		zap.String("new_attempt", newAttempt.String()),
		zap.Int("state_bytes", len(state.Blob)),
		zap.Duration("restart_latency", time.Since(start)),
	)
	r.registry.metrics.ObserveRestartDuration(time.Since(start))
	return nil
}

// CreateAndInsertOperator allocates a new logical vertex between source
// and its current downstream consumer, for rescale-style topology edits
// (e.g. growing a filter's parallelism). The new vertex's subtasks are
// left in CREATED state; the caller is expected to schedule each one
// through the normal deployment path before traffic reaches it.
func (r *Restart) CreateAndInsertOperator(name string, parallelism int, source *topology.ExecutionJobVertex) *topology.ExecutionJobVertex {
	return r.graph.AddVertex(name, parallelism, source)
}

// ConsumeNewProducer rewires one input channel of consumerAttempt to a new
// upstream partition, without a full redeploy of the consumer.
func (r *Restart) ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt topology.ExecutionAttemptID, newPartitionIndex int, tmLocation topology.TaskManagerLocation, connectionIdx int) error {
	return r.gateway.ConsumeNewProducer(ctx, consumerAttempt, newProducerAttempt, newPartitionIndex, tmLocation, connectionIdx)
}
