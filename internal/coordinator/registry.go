package coordinator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// DefaultDeadline is the time a PendingModification is allowed to wait for
// full acknowledgement before it expires.
const DefaultDeadline = 90 * time.Second

// Registry holds every live, completed, and failed modification for one
// job, plus the state hand-off maps the restart engine consumes. A single
// mutex (lock) serializes all mutations across these maps; a second
// (triggerLock), acquired before lock, orders trigger invocations so two
// concurrent MigrateAllFrom/PauseAll calls never interleave their
// slot-allocation and marker-emission steps. No RPC or callback is ever
// invoked while either mutex is held.
type Registry struct {
	jobID    topology.JobID
	deadline time.Duration
	log      *zap.Logger
	metrics  Metrics
	slots    SlotProvider
	events   EventSink

	nextModID uint64 // accessed only under lock

	triggerLock sync.Mutex

	lock              sync.Mutex
	pending           map[topology.ModificationID]*PendingModification
	completed         map[topology.ModificationID]*CompletedModification
	failed            map[topology.ModificationID]*PendingModification
	storedState       map[topology.ExecutionAttemptID]*StoredSubtaskState
	vertexToRestart   map[topology.ExecutionAttemptID]*vertexRestartEntry
	pendingSlotsByMod map[topology.ModificationID]map[topology.ExecutionAttemptID]*topology.Slot
}

// NewRegistry constructs an empty registry for jobID. A zero deadline
// selects DefaultDeadline. A nil logger/metrics install no-ops. slots may
// be nil for roles (e.g. a pure intake-side test) that never trigger a
// migration; StashSlots/releaseModSlots then become no-ops.
func NewRegistry(jobID topology.JobID, deadline time.Duration, log *zap.Logger, metrics Metrics, slots SlotProvider) *Registry {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Registry{
		jobID:             jobID,
		deadline:          deadline,
		log:               log,
		metrics:           metrics,
		slots:             slots,
		events:            noopEventSink{},
		nextModID:         1,
		pending:           make(map[topology.ModificationID]*PendingModification),
		completed:         make(map[topology.ModificationID]*CompletedModification),
		failed:            make(map[topology.ModificationID]*PendingModification),
		storedState:       make(map[topology.ExecutionAttemptID]*StoredSubtaskState),
		vertexToRestart:   make(map[topology.ExecutionAttemptID]*vertexRestartEntry),
		pendingSlotsByMod: make(map[topology.ModificationID]map[topology.ExecutionAttemptID]*topology.Slot),
	}
}

// SetEventSink installs the diagnostics event sink. Must be called before
// the registry starts processing modifications; nil restores the no-op.
func (r *Registry) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = noopEventSink{}
	}
	r.events = sink
}

// StashSlots records the slots pre-allocated for modID's migration, so
// TakeSlot can hand them to the restart engine and a terminal
// non-completion transition can release whatever remains.
func (r *Registry) StashSlots(modID topology.ModificationID, slots map[topology.ExecutionAttemptID]*topology.Slot) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.pendingSlotsByMod[modID] = slots
}

// TakeSlot consumes the pre-allocated slot for attemptID under modID, for
// the restart engine to hand to resetForNewExecutionMigration.
func (r *Registry) TakeSlot(modID topology.ModificationID, attemptID topology.ExecutionAttemptID) (*topology.Slot, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	slots, ok := r.pendingSlotsByMod[modID]
	if !ok {
		return nil, false
	}
	slot, ok := slots[attemptID]
	if ok {
		delete(slots, attemptID)
	}
	return slot, ok
}

// releaseModSlots returns every slot still stashed for modID to the
// SlotProvider. Called whenever a modification reaches a terminal state
// other than COMPLETED, so a decline/expiry/error never leaks the slots
// the trigger engine pre-allocated for it. Caller must hold r.lock.
func (r *Registry) releaseModSlots(modID topology.ModificationID) {
	slots, ok := r.pendingSlotsByMod[modID]
	if !ok || r.slots == nil {
		return
	}
	for _, s := range slots {
		r.slots.Release(s)
		r.metrics.IncSlotsReleased()
	}
	delete(r.pendingSlotsByMod, modID)
}

// LockTrigger acquires the trigger-ordering mutex; callers must pair it
// with UnlockTrigger via defer. Held only across the trigger engine's
// single invocation, never across an RPC wait — see engine comments.
func (r *Registry) LockTrigger() {
	r.triggerLock.Lock()
}

// UnlockTrigger releases the trigger-ordering mutex.
func (r *Registry) UnlockTrigger() {
	r.triggerLock.Unlock()
}

// nextModificationID allocates the next monotonic ModificationID. Caller
// must hold lock.
func (r *Registry) nextModificationID() topology.ModificationID {
	id := topology.ModificationID(r.nextModID)
	r.nextModID++
	return id
}

// CreatePending allocates a ModificationID, builds and inserts a
// PendingModification, and schedules its deadline. onExpire is invoked
// without the lock held, once, if the record is still OPEN when the
// deadline fires.
func (r *Registry) CreatePending(description string, action markers.ModificationAction, initialPending map[topology.ExecutionAttemptID]struct{}, now time.Time) (*PendingModification, error) {
	r.lock.Lock()
	modID := r.nextModificationID()
	pm, err := NewPendingModification(modID, r.jobID, description, action, initialPending, now)
	if err != nil {
		r.lock.Unlock()
		return nil, err
	}
	r.pending[modID] = pm
	r.metrics.SetPendingCount(len(r.pending))
	r.lock.Unlock()

	timer := time.AfterFunc(r.deadline, func() { r.expire(modID) })
	r.lock.Lock()
	pm.SetDeadline(timer)
	r.lock.Unlock()

	r.events.Emit("created", renderEvent(pm))
	return pm, nil
}

// expire fires from the deadline timer. If the record is still OPEN it
// transitions to EXPIRED and moves into failed for later diagnostics —
// per this repo's resolution of the open question in DESIGN.md, EXPIRED
// records are always reachable from failed, not just from the log.
func (r *Registry) expire(modID topology.ModificationID) {
	r.lock.Lock()
	pm, ok := r.pending[modID]
	if !ok {
		r.lock.Unlock()
		return
	}
	if pm.TerminalState() != Open {
		r.lock.Unlock()
		return
	}
	pm.AbortExpired()
	delete(r.pending, modID)
	r.failed[modID] = pm
	r.releaseModSlots(modID)
	r.metrics.SetPendingCount(len(r.pending))
	r.metrics.IncOutcome("expired")
	r.lock.Unlock()

	r.log.Warn("modification expired", zap.Uint64("mod_id", uint64(modID)), zap.String("description", pm.Description))
	r.events.Emit("expired", renderEvent(pm))
}

// Acknowledge routes an Acknowledge message for modID/attemptID. The
// returned bool reports whether modID was ever observed at all (true even
// for a late ack against a completed/failed record), matching the
// late-message classification.
func (r *Registry) Acknowledge(modID topology.ModificationID, attemptID topology.ExecutionAttemptID, now time.Time) (AckResult, bool) {
	r.lock.Lock()

	pm, ok := r.pending[modID]
	if !ok {
		if _, ok := r.completed[modID]; ok {
			r.lock.Unlock()
			return AckDuplicate, true
		}
		if _, ok := r.failed[modID]; ok {
			r.lock.Unlock()
			return AckDiscarded, true
		}
		r.lock.Unlock()
		return AckUnknown, false
	}

	result := pm.AcknowledgeTask(attemptID)
	var completedEvent map[string]any
	if result == AckSuccess {
		r.metrics.ObserveAckLatency(now.Sub(pm.CreatedAt))
		if pm.IsFullyAcknowledged() {
			if cm, ok := pm.FinalizeCheckpoint(now); ok {
				delete(r.pending, modID)
				r.completed[modID] = cm
				r.metrics.SetPendingCount(len(r.pending))
				r.metrics.IncOutcome("completed")
				completedEvent = renderCompletedEvent(cm)
			}
		}
	}
	r.lock.Unlock()

	if completedEvent != nil {
		r.events.Emit("completed", completedEvent)
	}
	return result, true
}

// Decline transitions modID OPEN->DECLINED and moves it to failed.
// Silently returns false if modID is not currently pending (already
// terminal, or unknown).
func (r *Registry) Decline(modID topology.ModificationID) bool {
	r.lock.Lock()
	pm, ok := r.pending[modID]
	if !ok {
		r.lock.Unlock()
		return false
	}
	pm.AbortDeclined()
	delete(r.pending, modID)
	r.failed[modID] = pm
	r.releaseModSlots(modID)
	r.metrics.SetPendingCount(len(r.pending))
	r.metrics.IncOutcome("declined")
	r.lock.Unlock()

	r.events.Emit("declined", renderEvent(pm))
	return true
}

// Cancel transitions modID OPEN->DISCARDED via external request.
func (r *Registry) Cancel(modID topology.ModificationID) bool {
	r.lock.Lock()
	pm, ok := r.pending[modID]
	if !ok {
		r.lock.Unlock()
		return false
	}
	pm.AbortDiscarded()
	delete(r.pending, modID)
	r.failed[modID] = pm
	r.releaseModSlots(modID)
	r.metrics.SetPendingCount(len(r.pending))
	r.metrics.IncOutcome("discarded")
	r.lock.Unlock()

	r.events.Emit("discarded", renderEvent(pm))
	return true
}

// FailOpen transitions modID OPEN->ERROR with cause, e.g. when the trigger
// engine's own RPC fan-out fails partway through.
func (r *Registry) FailOpen(modID topology.ModificationID, cause error) {
	r.lock.Lock()
	pm, ok := r.pending[modID]
	if !ok {
		r.lock.Unlock()
		return
	}
	pm.AbortError(cause)
	delete(r.pending, modID)
	r.failed[modID] = pm
	r.releaseModSlots(modID)
	r.metrics.SetPendingCount(len(r.pending))
	r.metrics.IncOutcome("error")
	r.lock.Unlock()

	r.events.Emit("error", renderEvent(pm))
}

// StoreState inserts or overwrites the StateMigration snapshot for
// attemptID. A second arrival for the same attempt overwrites the first;
// the caller logs whether the content actually changed by comparing
// ContentHash before calling this.
func (r *Registry) StoreState(s *StoredSubtaskState) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.storedState[s.AttemptID] = s
}

// PeekState returns the stored state for attemptID without consuming it.
func (r *Registry) PeekState(attemptID topology.ExecutionAttemptID) (*StoredSubtaskState, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.storedState[attemptID]
	return s, ok
}

// TakeState removes and returns the stored state for attemptID, for
// exactly-once consumption by the restart engine.
func (r *Registry) TakeState(attemptID topology.ExecutionAttemptID) (*StoredSubtaskState, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.storedState[attemptID]
	if ok {
		delete(r.storedState, attemptID)
	}
	return s, ok
}

// vertexRestartEntry pairs the paused vertex with the modification that
// stopped it, so the restart engine can look up the slot stashed under
// that modification once the vertex is ready to redeploy.
type vertexRestartEntry struct {
	Vertex *topology.ExecutionVertex
	ModID  topology.ModificationID
}

// RegisterVertexToRestart records that vertex's current attempt is paused
// and awaiting a StateMigration reply before it can be restarted.
func (r *Registry) RegisterVertexToRestart(attemptID topology.ExecutionAttemptID, vertex *topology.ExecutionVertex, modID topology.ModificationID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.vertexToRestart[attemptID] = &vertexRestartEntry{Vertex: vertex, ModID: modID}
}

// VertexAwaitingRestart reports the vertex and owning modification
// registered under attemptID, if any.
func (r *Registry) VertexAwaitingRestart(attemptID topology.ExecutionAttemptID) (*topology.ExecutionVertex, topology.ModificationID, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	e, ok := r.vertexToRestart[attemptID]
	if !ok {
		return nil, 0, false
	}
	return e.Vertex, e.ModID, true
}

// UnregisterVertexToRestart removes attemptID's restart bookkeeping,
// called once the restart engine has consumed both its state and its
// registration.
func (r *Registry) UnregisterVertexToRestart(attemptID topology.ExecutionAttemptID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.vertexToRestart, attemptID)
}

// Pending returns the live PendingModification for modID, if any.
func (r *Registry) Pending(modID topology.ModificationID) (*PendingModification, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	pm, ok := r.pending[modID]
	return pm, ok
}

// Completed returns the CompletedModification snapshot for modID, if any.
func (r *Registry) Completed(modID topology.ModificationID) (*CompletedModification, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	cm, ok := r.completed[modID]
	return cm, ok
}

// Failed returns the terminal (non-completed) PendingModification record
// for modID, if any.
func (r *Registry) Failed(modID topology.ModificationID) (*PendingModification, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	pm, ok := r.failed[modID]
	return pm, ok
}

// ListPending returns a snapshot slice of every currently open
// modification, for diagnostics.
func (r *Registry) ListPending() []*PendingModification {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]*PendingModification, 0, len(r.pending))
	for _, pm := range r.pending {
		out = append(out, pm)
	}
	return out
}

// String renders a short diagnostic line, used by the HTTP status surface.
func (r *Registry) String() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return fmt.Sprintf("registry{job=%s pending=%d completed=%d failed=%d}", r.jobID, len(r.pending), len(r.completed), len(r.failed))
}

// renderEvent builds the EventSink payload for a PendingModification
// transition. Called only after the owning lock has been released.
func renderEvent(pm *PendingModification) map[string]any {
	return map[string]any{
		"mod_id":      pm.ModID,
		"job_id":      pm.JobID,
		"description": pm.Description,
		"state":       pm.TerminalState().String(),
	}
}

// renderCompletedEvent builds the EventSink payload for a completed
// modification.
func renderCompletedEvent(cm *CompletedModification) map[string]any {
	return map[string]any{
		"mod_id":      cm.ModID,
		"job_id":      cm.JobID,
		"description": cm.Description,
		"state":       "COMPLETED",
		"duration":    cm.Duration.String(),
	}
}
