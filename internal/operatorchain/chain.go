package operatorchain

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// StreamStatus tracks whether a task is actively producing records.
// Watermarks are suppressed while IDLE.
type StreamStatus int

const (
	StatusActive StreamStatus = iota
	StatusIdle
)

// NetworkOutput is one outgoing channel to a downstream task. Writing a
// marker respects FIFO with records already queued on the same channel.
type NetworkOutput interface {
	SendRecord(record any) error
	SendMarker(m markers.Marker) error
}

// Watermark advances event-time progress; forwarded to every output
// unless the chain is IDLE.
type Watermark struct {
	Timestamp time.Time
}

// LatencyMarker samples end-to-end latency; forwarded to exactly one
// randomly chosen output.
type LatencyMarker struct {
	Timestamp      time.Time
	OperatorID     topology.VertexID
	SubtaskIndex   int
}

// Chain is one task's operator-chain control path: the single-threaded,
// cooperative pipeline that shares one mailbox thread across every
// chained operator. No field here is ever touched concurrently — every
// method is expected to run on that one thread, so no locks guard
// Chain's state.
type Chain struct {
	outputs []NetworkOutput
	status  StreamStatus
	rng     *rand.Rand
}

// NewChain builds a chain fanning out to outputs, in the order supplied —
// that order is also broadcast order and fanout order for
// BroadcastOperatorPausedEvent.
func NewChain(outputs []NetworkOutput) *Chain {
	return &Chain{
		outputs: outputs,
		status:  StatusActive,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// broadcast sends marker to every outgoing channel, in order, stopping at
// (and wrapping) the first IO failure.
func (c *Chain) broadcast(m markers.Marker) error {
	for i, out := range c.outputs {
		if err := out.SendMarker(m); err != nil {
			return fmt.Errorf("%w: channel %d: %v", ErrBroadcastIO, i, err)
		}
	}
	return nil
}

// BroadcastCheckpointBarrier reuses the checkpoint subsystem's barrier as
// the pause rendezvous.
func (c *Chain) BroadcastCheckpointBarrier(id int64, ts time.Time, opts markers.CheckpointOptions) error {
	return c.broadcast(markers.CheckpointBarrier{CheckpointID: id, Timestamp: ts, Options: opts})
}

// BroadcastCheckpointCancelMarker aborts the checkpoint carrying id.
func (c *Chain) BroadcastCheckpointCancelMarker(id int64) error {
	return c.broadcast(markers.CancelCheckpointMarker{CheckpointID: id})
}

// BroadcastStartModificationEvent commands the indicated subtasks to
// pause/stop at the next checkpoint boundary.
func (c *Chain) BroadcastStartModificationEvent(
	modID topology.ModificationID,
	ts time.Time,
	acks map[topology.ExecutionAttemptID]struct{},
	subtasksToPause map[int]struct{},
	action markers.ModificationAction,
) error {
	return c.broadcast(markers.StartModificationMarker{
		ModID: modID, Timestamp: ts, Acks: acks, SubtasksToPause: subtasksToPause, Action: action,
	})
}

// BroadcastStartMigrationEvent carries the spill/stop maps computed by the
// trigger engine's algorithmic contract.
func (c *Chain) BroadcastStartMigrationEvent(
	modID topology.ModificationID,
	ts time.Time,
	spillMap map[topology.ExecutionAttemptID]map[int]struct{},
	stopMap map[topology.ExecutionAttemptID][]topology.InputChannelDescriptor,
	upcomingCheckpointID int64,
) error {
	return c.broadcast(markers.StartMigrationMarker{
		ModID: modID, Timestamp: ts,
		SpillingVertices: spillMap, StoppingVertices: stopMap,
		UpcomingCheckpointID: upcomingCheckpointID,
	})
}

// BroadcastCancelModificationEvent rescinds an earlier in-flight
// modification.
func (c *Chain) BroadcastCancelModificationEvent(modID topology.ModificationID, ts time.Time, vertexIDs map[topology.ExecutionAttemptID]struct{}) error {
	return c.broadcast(markers.CancelModificationMarker{ModID: modID, Timestamp: ts, VertexIDs: vertexIDs})
}

// BroadcastOperatorPausedEvent is a fanout, not a broadcast: the i-th
// descriptor goes to the i-th outgoing channel. It fails with
// ErrDescriptorCountMismatch — without emitting any marker — if the
// counts disagree.
func (c *Chain) BroadcastOperatorPausedEvent(descriptors []topology.InputChannelDescriptor) error {
	if len(descriptors) != len(c.outputs) {
		return fmt.Errorf("%w: got %d descriptors for %d channels", ErrDescriptorCountMismatch, len(descriptors), len(c.outputs))
	}
	for i, out := range c.outputs {
		if err := out.SendMarker(markers.PausingOperatorMarker{Descriptors: []topology.InputChannelDescriptor{descriptors[i]}}); err != nil {
			return fmt.Errorf("%w: channel %d: %v", ErrBroadcastIO, i, err)
		}
	}
	return nil
}

// EmitWatermark forwards w to every output, suppressed entirely while the
// chain's StreamStatus is IDLE.
func (c *Chain) EmitWatermark(w Watermark) error {
	if c.status == StatusIdle {
		return nil
	}
	for i, out := range c.outputs {
		if err := out.SendRecord(w); err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
	}
	return nil
}

// EmitLatencyMarker forwards m to exactly one randomly chosen output.
func (c *Chain) EmitLatencyMarker(m LatencyMarker) error {
	if len(c.outputs) == 0 {
		return nil
	}
	idx := c.rng.Intn(len(c.outputs))
	return c.outputs[idx].SendRecord(m)
}

// SetStreamStatus updates the chain's status. Status changes propagate
// synchronously to downstream outputs from the same mailbox thread that
// calls this — there is no async hop here.
func (c *Chain) SetStreamStatus(s StreamStatus) {
	c.status = s
}

// Status returns the chain's current StreamStatus.
func (c *Chain) Status() StreamStatus {
	return c.status
}
