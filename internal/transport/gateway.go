package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis/flowmod/internal/topology"
	"github.com/artemis/flowmod/internal/wire"
)

// Gateway implements coordinator.TaskManagerGateway over the control
// plane's live connections, resolving which task manager currently hosts
// a given attempt via the shared execution graph.
type Gateway struct {
	server *Server
	graph  *topology.Graph
}

// NewGateway wires the gateway to the server whose connections it sends
// over, and to the graph it resolves attempt routing from.
func NewGateway(server *Server, graph *topology.Graph) *Gateway {
	return &Gateway{server: server, graph: graph}
}

func (g *Gateway) resolve(attempt topology.ExecutionAttemptID) (*conn, error) {
	vertex, _, ok := g.graph.VertexByAttempt(attempt)
	if !ok {
		return nil, fmt.Errorf("transport: no vertex holds attempt %s", attempt)
	}
	if vertex.Slot == nil {
		return nil, fmt.Errorf("transport: attempt %s has no assigned slot", attempt)
	}
	c, ok := g.server.connByTaskManager(vertex.Slot.TaskManagerID)
	if !ok {
		return nil, fmt.Errorf("transport: task manager %s not connected", vertex.Slot.TaskManagerID)
	}
	return c, nil
}

func (g *Gateway) sendTo(attempt topology.ExecutionAttemptID, kind wire.Kind, msg any) error {
	c, err := g.resolve(attempt)
	if err != nil {
		return err
	}
	frame, err := wire.Wrap(kind, msg)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// ResumeTask tells the task manager hosting attempt to resume it, having
// already received its restored state.
func (g *Gateway) ResumeTask(ctx context.Context, attempt topology.ExecutionAttemptID, timeout time.Duration, stateBlob []byte) error {
	return g.sendTo(attempt, wire.KindResumeTask, wire.ResumeTask{
		Envelope:      wire.Envelope{Version: wire.ProtocolVersion, Attempt: attempt},
		TimeoutMillis: timeout.Milliseconds(),
		StateBlob:     stateBlob,
	})
}

// TriggerMigration delivers the spill/stop maps to a source subtask,
// which rebroadcasts the marker through its own operator chain.
func (g *Gateway) TriggerMigration(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, spillMap map[topology.ExecutionAttemptID]map[int]struct{}, stopMap map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor, upcomingCheckpointID int64) error {
	return g.sendTo(attempt, wire.KindTriggerMigration, wire.TriggerMigration{
		Envelope:             wire.Envelope{Version: wire.ProtocolVersion, ModID: modID, Attempt: attempt},
		Timestamp:            ts.UnixNano(),
		SpillingVertices:     spillMap,
		StoppingVertices:     stopMap,
		UpcomingCheckpointID: upcomingCheckpointID,
	})
}

// TriggerModification delivers a pause/stop marker to a source subtask.
func (g *Gateway) TriggerModification(ctx context.Context, attempt topology.ExecutionAttemptID, modID topology.ModificationID, ts time.Time, acks map[topology.ExecutionAttemptID]struct{}, subtasksToPause map[int]struct{}, action int) error {
	return g.sendTo(attempt, wire.KindTriggerModification, wire.TriggerModification{
		Envelope:        wire.Envelope{Version: wire.ProtocolVersion, ModID: modID, Attempt: attempt},
		Timestamp:       ts.UnixNano(),
		Acks:            acks,
		SubtasksToPause: subtasksToPause,
		Action:          action,
	})
}

// TriggerResumeWithDifferentInputs replaces attempt's entire input
// channel set without a full redeploy, for rescale edits that change how
// many upstream partitions feed it.
func (g *Gateway) TriggerResumeWithDifferentInputs(ctx context.Context, attempt topology.ExecutionAttemptID, inputs []topology.InputChannelDescriptor) error {
	return g.sendTo(attempt, wire.KindResumeDifferentInput, wire.ResumeWithDifferentInputs{
		Envelope: wire.Envelope{Version: wire.ProtocolVersion, Attempt: attempt},
		Inputs:   inputs,
	})
}

// TriggerResumeWithNewInput adds one new input channel to attempt.
func (g *Gateway) TriggerResumeWithNewInput(ctx context.Context, attempt topology.ExecutionAttemptID, index int, input topology.InputChannelDescriptor) error {
	return g.sendTo(attempt, wire.KindResumeWithNewInput, wire.ResumeWithNewInput{
		Envelope:   wire.Envelope{Version: wire.ProtocolVersion, Attempt: attempt},
		InputIndex: index,
		Input:      input,
	})
}

// ConsumeNewProducer tells consumerAttempt to switch one input channel to
// a new upstream producer, addressed by TaskManagerLocation rather than
// by attempt, since the new producer may not yet be resolvable through
// the graph at the moment this is issued.
func (g *Gateway) ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt topology.ExecutionAttemptID, newPartitionIndex int, tmLocation topology.TaskManagerLocation, connectionIdx int) error {
	return g.sendTo(consumerAttempt, wire.KindConsumeNewProducer, wire.ConsumeNewProducer{
		Envelope:           wire.Envelope{Version: wire.ProtocolVersion, Attempt: consumerAttempt},
		NewProducerAttempt: newProducerAttempt,
		NewPartitionIndex:  newPartitionIndex,
		TaskManagerHost:    tmLocation.Host,
		TaskManagerPort:    tmLocation.GRPCPort,
		ConnectionIndex:    connectionIdx,
	})
}
