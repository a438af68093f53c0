package operatorchain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// fakeOutput records every marker/record sent to it, and can be made to
// fail on the Nth call to simulate a mid-broadcast IO error.
type fakeOutput struct {
	markersSent []markers.Marker
	recordsSent []any
	failAfter   int // -1 means never fail
	calls       int
}

func newFakeOutput() *fakeOutput { return &fakeOutput{failAfter: -1} }

func (f *fakeOutput) SendRecord(record any) error {
	f.calls++
	if f.failAfter >= 0 && f.calls > f.failAfter {
		return errors.New("boom")
	}
	f.recordsSent = append(f.recordsSent, record)
	return nil
}

func (f *fakeOutput) SendMarker(m markers.Marker) error {
	f.calls++
	if f.failAfter >= 0 && f.calls > f.failAfter {
		return errors.New("boom")
	}
	f.markersSent = append(f.markersSent, m)
	return nil
}

func TestBroadcastCheckpointBarrierReachesEveryOutput(t *testing.T) {
	a, b := newFakeOutput(), newFakeOutput()
	c := NewChain([]NetworkOutput{a, b})

	require.NoError(t, c.BroadcastCheckpointBarrier(7, time.Now(), markers.CheckpointOptions{Aligned: true}))

	require.Len(t, a.markersSent, 1)
	require.Len(t, b.markersSent, 1)
	barrier, ok := a.markersSent[0].(markers.CheckpointBarrier)
	require.True(t, ok)
	assert.Equal(t, int64(7), barrier.CheckpointID)
}

func TestBroadcastStopsAtFirstIOFailure(t *testing.T) {
	a := newFakeOutput()
	a.failAfter = 0
	b := newFakeOutput()
	c := NewChain([]NetworkOutput{a, b})

	err := c.BroadcastCheckpointCancelMarker(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBroadcastIO)
	assert.Empty(t, b.markersSent, "broadcast must not continue past the first failing channel")
}

func TestBroadcastOperatorPausedEventFansOutOneToOne(t *testing.T) {
	a, b := newFakeOutput(), newFakeOutput()
	c := NewChain([]NetworkOutput{a, b})

	descs := []topology.InputChannelDescriptor{
		topology.NewLocalChannel(topology.ResultPartitionID{PartitionIndex: 0}),
		topology.NewLocalChannel(topology.ResultPartitionID{PartitionIndex: 1}),
	}
	require.NoError(t, c.BroadcastOperatorPausedEvent(descs))

	require.Len(t, a.markersSent, 1)
	pm, ok := a.markersSent[0].(markers.PausingOperatorMarker)
	require.True(t, ok)
	assert.Equal(t, descs[0], pm.Descriptors[0])

	pmB, ok := b.markersSent[0].(markers.PausingOperatorMarker)
	require.True(t, ok)
	assert.Equal(t, descs[1], pmB.Descriptors[0])
}

func TestBroadcastOperatorPausedEventRejectsCountMismatch(t *testing.T) {
	a, b := newFakeOutput(), newFakeOutput()
	c := NewChain([]NetworkOutput{a, b})

	err := c.BroadcastOperatorPausedEvent([]topology.InputChannelDescriptor{
		topology.NewLocalChannel(topology.ResultPartitionID{}),
	})
	assert.ErrorIs(t, err, ErrDescriptorCountMismatch)
	assert.Empty(t, a.markersSent, "a count mismatch must not emit any partial marker")
}

func TestEmitWatermarkSuppressedWhenIdle(t *testing.T) {
	a := newFakeOutput()
	c := NewChain([]NetworkOutput{a})
	c.SetStreamStatus(StatusIdle)

	require.NoError(t, c.EmitWatermark(Watermark{Timestamp: time.Now()}))
	assert.Empty(t, a.recordsSent)

	c.SetStreamStatus(StatusActive)
	require.NoError(t, c.EmitWatermark(Watermark{Timestamp: time.Now()}))
	assert.Len(t, a.recordsSent, 1)
}

func TestEmitLatencyMarkerGoesToExactlyOneOutput(t *testing.T) {
	a, b := newFakeOutput(), newFakeOutput()
	c := NewChain([]NetworkOutput{a, b})

	require.NoError(t, c.EmitLatencyMarker(LatencyMarker{Timestamp: time.Now()}))
	total := len(a.recordsSent) + len(b.recordsSent)
	assert.Equal(t, 1, total)
}

func TestEmitLatencyMarkerNoopWithoutOutputs(t *testing.T) {
	c := NewChain(nil)
	assert.NoError(t, c.EmitLatencyMarker(LatencyMarker{Timestamp: time.Now()}))
}

func TestStatusDefaultsToActive(t *testing.T) {
	c := NewChain(nil)
	assert.Equal(t, StatusActive, c.Status())
}
