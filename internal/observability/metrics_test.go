package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsSetPendingCount(t *testing.T) {
	m := NewMetrics()
	m.SetPendingCount(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(PendingModifications))
}

func TestMetricsIncOutcomeLabelsByOutcome(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(ModificationOutcomes.WithLabelValues("completed"))
	m.IncOutcome("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(ModificationOutcomes.WithLabelValues("completed")))
}

func TestMetricsObserveAckLatencyRecordsIntoHistogram(t *testing.T) {
	m := NewMetrics()
	before := testutil.CollectAndCount(AckLatency)
	m.ObserveAckLatency(50 * time.Millisecond)
	assert.Equal(t, before+1, testutil.CollectAndCount(AckLatency))
}

func TestMetricsIncBroadcastErrorsAndSlotsReleased(t *testing.T) {
	m := NewMetrics()
	beforeErrs := testutil.ToFloat64(BroadcastErrors)
	beforeSlots := testutil.ToFloat64(SlotsReleased)

	m.IncBroadcastErrors()
	m.IncSlotsReleased()

	assert.Equal(t, beforeErrs+1, testutil.ToFloat64(BroadcastErrors))
	assert.Equal(t, beforeSlots+1, testutil.ToFloat64(SlotsReleased))
}

func TestSetConnectedTaskManagersAndCheckpointIDCurrent(t *testing.T) {
	SetConnectedTaskManagers(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(ConnectedTaskManagers))

	SetCheckpointIDCurrent(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(CheckpointIDCurrent))
}
