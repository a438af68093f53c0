package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// fakeSlotProvider lets the registry tests observe whether a release
// actually happened, without depending on internal/slotpool.
type fakeSlotProvider struct {
	released []*topology.Slot
}

func (f *fakeSlotProvider) AllocateSlotExceptOnTaskManager(ctx context.Context, exclude topology.ID) (*topology.Slot, error) {
	return &topology.Slot{TaskManagerID: topology.NewID()}, nil
}

func (f *fakeSlotProvider) Release(slot *topology.Slot) {
	f.released = append(f.released, slot)
}

func TestCreatePendingAllocatesIncreasingModIDs(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm1, err := r.CreatePending("first", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)
	pm2, err := r.CreatePending("second", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	assert.Equal(t, topology.ModificationID(1), pm1.ModID)
	assert.Equal(t, topology.ModificationID(2), pm2.ModID)
}

func TestAcknowledgeUnknownModificationReportsNotObserved(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	result, observed := r.Acknowledge(999, topology.NewID(), time.Now())
	assert.Equal(t, AckUnknown, result)
	assert.False(t, observed)
}

func TestAcknowledgeDrivesModificationToCompleted(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	result, observed := r.Acknowledge(pm.ModID, a, time.Now())
	assert.Equal(t, AckSuccess, result)
	assert.True(t, observed)

	_, stillPending := r.Pending(pm.ModID)
	assert.False(t, stillPending)

	cm, ok := r.Completed(pm.ModID)
	require.True(t, ok)
	assert.Equal(t, pm.ModID, cm.ModID)
}

func TestAcknowledgeAfterCompletionIsDuplicate(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)
	r.Acknowledge(pm.ModID, a, time.Now())

	result, observed := r.Acknowledge(pm.ModID, a, time.Now())
	assert.Equal(t, AckDuplicate, result)
	assert.True(t, observed)
}

func TestAcknowledgeAfterDeclineIsDiscarded(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)
	require.True(t, r.Decline(pm.ModID))

	result, observed := r.Acknowledge(pm.ModID, a, time.Now())
	assert.Equal(t, AckDiscarded, result)
	assert.True(t, observed)
}

func TestDeclineMovesModificationToFailedAndReleasesSlots(t *testing.T) {
	slots := &fakeSlotProvider{}
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, slots)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	stash := map[topology.ExecutionAttemptID]*topology.Slot{a: {TaskManagerID: topology.NewID()}}
	r.StashSlots(pm.ModID, stash)

	assert.True(t, r.Decline(pm.ModID))
	assert.False(t, r.Decline(pm.ModID), "declining an already-terminal modification reports false")

	_, ok := r.Failed(pm.ModID)
	require.True(t, ok)
	assert.Len(t, slots.released, 1)
}

func TestCancelMovesModificationToFailed(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	assert.True(t, r.Cancel(pm.ModID))
	failedPM, ok := r.Failed(pm.ModID)
	require.True(t, ok)
	assert.Equal(t, Discarded, failedPM.TerminalState())
}

func TestFailOpenRecordsCauseAndMovesToFailed(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	cause := assert.AnError
	r.FailOpen(pm.ModID, cause)

	failedPM, ok := r.Failed(pm.ModID)
	require.True(t, ok)
	assert.Equal(t, Error, failedPM.TerminalState())
	assert.Equal(t, cause, failedPM.Cause())
}

func TestTakeSlotConsumesStashedSlotExactlyOnce(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a := topology.NewID()
	want := &topology.Slot{TaskManagerID: topology.NewID()}
	r.StashSlots(1, map[topology.ExecutionAttemptID]*topology.Slot{a: want})

	got, ok := r.TakeSlot(1, a)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = r.TakeSlot(1, a)
	assert.False(t, ok, "a slot must not be handed out twice")
}

func TestStoreStateAndTakeState(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	attempt := topology.NewID()
	s := &StoredSubtaskState{AttemptID: attempt, Blob: []byte("x")}
	r.StoreState(s)

	peeked, ok := r.PeekState(attempt)
	require.True(t, ok)
	assert.Equal(t, s, peeked)

	taken, ok := r.TakeState(attempt)
	require.True(t, ok)
	assert.Equal(t, s, taken)

	_, ok = r.TakeState(attempt)
	assert.False(t, ok, "TakeState must consume the entry")
}

func TestVertexAwaitingRestartRegistrationLifecycle(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	attempt := topology.NewID()
	vertex := topology.NewExecutionVertex(topology.NewID(), 0)

	_, _, ok := r.VertexAwaitingRestart(attempt)
	assert.False(t, ok)

	r.RegisterVertexToRestart(attempt, vertex, 3)
	gotVertex, gotMod, ok := r.VertexAwaitingRestart(attempt)
	require.True(t, ok)
	assert.Equal(t, vertex, gotVertex)
	assert.Equal(t, topology.ModificationID(3), gotMod)

	r.UnregisterVertexToRestart(attempt)
	_, _, ok = r.VertexAwaitingRestart(attempt)
	assert.False(t, ok)
}

func TestListPendingReturnsOnlyOpenModifications(t *testing.T) {
	r := NewRegistry(topology.NewID(), time.Minute, nil, nil, nil)
	a, b := topology.NewID(), topology.NewID()
	pm1, err := r.CreatePending("one", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)
	_, err = r.CreatePending("two", markers.ActionPausing, pendingSet(b), time.Now())
	require.NoError(t, err)

	require.True(t, r.Decline(pm1.ModID))

	pending := r.ListPending()
	assert.Len(t, pending, 1)
}

func TestExpireTransitionsOpenModificationAfterDeadline(t *testing.T) {
	r := NewRegistry(topology.NewID(), 5*time.Millisecond, nil, nil, nil)
	a := topology.NewID()
	pm, err := r.CreatePending("d", markers.ActionPausing, pendingSet(a), time.Now())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := r.Failed(pm.ModID)
		return ok
	}, time.Second, 5*time.Millisecond)

	failedPM, _ := r.Failed(pm.ModID)
	assert.Equal(t, Expired, failedPM.TerminalState())
}
