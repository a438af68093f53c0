package taskmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/operatorchain"
	"github.com/artemis/flowmod/internal/topology"
)

// recordingOutput records every marker delivered to it, implementing
// operatorchain.NetworkOutput without any network dependency.
type recordingOutput struct {
	markers []markers.Marker
}

func (o *recordingOutput) SendRecord(record any) error { return nil }
func (o *recordingOutput) SendMarker(m markers.Marker) error {
	o.markers = append(o.markers, m)
	return nil
}

func TestNewLocalSubtaskStartsRunning(t *testing.T) {
	sub := NewLocalSubtask(topology.NewID(), topology.NewID(), 0, nil)
	assert.Equal(t, topology.StateRunning, sub.State())
}

func TestArmMovesToPausingAndFinalizeToPaused(t *testing.T) {
	sub := NewLocalSubtask(topology.NewID(), topology.NewID(), 0, nil)
	sub.arm(7, markers.ActionStopping)
	assert.Equal(t, topology.StatePausing, sub.State())

	modID, finalized := sub.finalizePause()
	assert.True(t, finalized)
	assert.Equal(t, topology.ModificationID(7), modID)
	assert.Equal(t, topology.StatePaused, sub.State())
}

func TestFinalizePauseWithoutArmIsNoop(t *testing.T) {
	sub := NewLocalSubtask(topology.NewID(), topology.NewID(), 0, nil)
	_, finalized := sub.finalizePause()
	assert.False(t, finalized)
	assert.Equal(t, topology.StateRunning, sub.State())
}

func TestRedeployResetsToFreshRunningAttempt(t *testing.T) {
	sub := NewLocalSubtask(topology.NewID(), topology.NewID(), 0, nil)
	sub.arm(1, markers.ActionPausing)
	sub.SnapshotState([]byte("old"))

	newAttempt := topology.NewID()
	sub.redeploy(newAttempt, []byte("snapshot"))

	assert.Equal(t, newAttempt, sub.Attempt)
	assert.Equal(t, topology.StateRunning, sub.State())
	assert.Equal(t, []byte("snapshot"), sub.InitialStateBlob)
	assert.Nil(t, sub.stateBlob)
	_, finalized := sub.finalizePause()
	assert.False(t, finalized, "a redeploy must clear any pending pause")
}

func TestChainExposesWiredOutputs(t *testing.T) {
	out := &recordingOutput{}
	sub := NewLocalSubtask(topology.NewID(), topology.NewID(), 0, []operatorchain.NetworkOutput{out})
	require.NotNil(t, sub.Chain())

	require.NoError(t, sub.Chain().BroadcastCheckpointCancelMarker(3))
	require.Len(t, out.markers, 1)
	assert.Equal(t, markers.CancelCheckpointMarker{CheckpointID: 3}, out.markers[0])
}

func TestTimestampFromUnixNanoRoundTrips(t *testing.T) {
	now := time.Unix(100, 500)
	got := timestampFromUnixNano(now.UnixNano())
	assert.True(t, now.Equal(got))
}
