package coordinator

import (
	"time"

	"github.com/artemis/flowmod/internal/markers"
	"github.com/artemis/flowmod/internal/topology"
)

// AckResult classifies the outcome of routing one Acknowledge to a
// PendingModification.
type AckResult int

const (
	AckSuccess AckResult = iota
	AckDuplicate
	AckUnknown
	AckDiscarded
)

func (r AckResult) String() string {
	switch r {
	case AckSuccess:
		return "SUCCESS"
	case AckDuplicate:
		return "DUPLICATE"
	case AckUnknown:
		return "UNKNOWN"
	case AckDiscarded:
		return "DISCARDED"
	default:
		return "UNKNOWN_RESULT"
	}
}

// TerminalState is a PendingModification's lifecycle state. Transitions
// out of any state other than Open are absorbing.
type TerminalState int

const (
	Open TerminalState = iota
	Completed
	Expired
	Declined
	Error
	Discarded
)

func (s TerminalState) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Completed:
		return "COMPLETED"
	case Expired:
		return "EXPIRED"
	case Declined:
		return "DECLINED"
	case Error:
		return "ERROR"
	case Discarded:
		return "DISCARDED"
	default:
		return "UNKNOWN_STATE"
	}
}

func (s TerminalState) isTerminal() bool {
	return s != Open
}

// PendingModification tracks one live modification's per-task
// acknowledgements, deadline, and terminal outcome. Every method here is
// expected to run under the owning Registry's lock — it holds no mutex of
// its own.
type PendingModification struct {
	ModID       topology.ModificationID
	JobID       topology.JobID
	CreatedAt   time.Time
	Description string
	Action      markers.ModificationAction

	initialPending map[topology.ExecutionAttemptID]struct{}
	acknowledged   map[topology.ExecutionAttemptID]struct{}

	deadline *time.Timer

	terminalState TerminalState
	terminalCause error
}

// NewPendingModification seeds a record from the set of attempts expected
// to acknowledge it. Callers must not pass an empty set — ErrEmptyPendingSet
// says why.
func NewPendingModification(modID topology.ModificationID, jobID topology.JobID, description string, action markers.ModificationAction, pending map[topology.ExecutionAttemptID]struct{}, now time.Time) (*PendingModification, error) {
	if len(pending) == 0 {
		return nil, ErrEmptyPendingSet
	}
	initial := make(map[topology.ExecutionAttemptID]struct{}, len(pending))
	for id := range pending {
		initial[id] = struct{}{}
	}
	return &PendingModification{
		ModID:          modID,
		JobID:          jobID,
		CreatedAt:      now,
		Description:    description,
		Action:         action,
		initialPending: initial,
		acknowledged:   make(map[topology.ExecutionAttemptID]struct{}, len(initial)),
		terminalState:  Open,
	}, nil
}

// TerminalState reports the record's current state.
func (p *PendingModification) TerminalState() TerminalState {
	return p.terminalState
}

// InitialPending returns the attempts this modification was created to
// wait on, for callers (e.g. the trigger engine) constructing the marker's
// ack set.
func (p *PendingModification) InitialPending() map[topology.ExecutionAttemptID]struct{} {
	return p.initialPending
}

// SetDeadline installs the record's deadline timer, replacing any prior
// one. The Registry owns scheduling the callback; this just tracks the
// handle so AbortExpired/AbortDeclined/AbortError can cancel it.
func (p *PendingModification) SetDeadline(t *time.Timer) {
	p.deadline = t
}

func (p *PendingModification) stopDeadline() {
	if p.deadline != nil {
		p.deadline.Stop()
	}
}

// AcknowledgeTask routes one Acknowledge. Returns AckDiscarded without
// mutating state if the record already reached a terminal state other
// than completion via this exact call (a terminal record routes here only
// when the Registry has already decided not to treat it as late/unknown).
func (p *PendingModification) AcknowledgeTask(attemptID topology.ExecutionAttemptID) AckResult {
	if p.terminalState.isTerminal() {
		return AckDiscarded
	}
	if _, ok := p.initialPending[attemptID]; !ok {
		return AckUnknown
	}
	if _, already := p.acknowledged[attemptID]; already {
		return AckDuplicate
	}
	p.acknowledged[attemptID] = struct{}{}
	return AckSuccess
}

// IsFullyAcknowledged reports whether every initially pending attempt has
// acknowledged. A record created with an empty pending set would trivially
// satisfy this; NewPendingModification refuses to construct one, so the
// vacuous case never reaches here.
func (p *PendingModification) IsFullyAcknowledged() bool {
	return len(p.acknowledged) == len(p.initialPending)
}

// AcknowledgedCount reports how many of the initially pending attempts
// have acknowledged so far, for diagnostic rendering.
func (p *PendingModification) AcknowledgedCount() int {
	return len(p.acknowledged)
}

// PendingCount reports how many attempts were originally expected to
// acknowledge this modification.
func (p *PendingModification) PendingCount() int {
	return len(p.initialPending)
}

// AbortExpired transitions OPEN->EXPIRED. Idempotent: a second call is a
// no-op.
func (p *PendingModification) AbortExpired() {
	if p.terminalState.isTerminal() {
		return
	}
	p.terminalState = Expired
	p.terminalCause = ErrExpired
	p.stopDeadline()
}

// AbortDeclined transitions OPEN->DECLINED.
func (p *PendingModification) AbortDeclined() {
	if p.terminalState.isTerminal() {
		return
	}
	p.terminalState = Declined
	p.terminalCause = ErrRemoteDeclined
	p.stopDeadline()
}

// AbortError transitions OPEN->ERROR, recording cause.
func (p *PendingModification) AbortError(cause error) {
	if p.terminalState.isTerminal() {
		return
	}
	p.terminalState = Error
	p.terminalCause = cause
	p.stopDeadline()
}

// AbortDiscarded transitions OPEN->DISCARDED, used by an external cancel.
func (p *PendingModification) AbortDiscarded() {
	if p.terminalState.isTerminal() {
		return
	}
	p.terminalState = Discarded
	p.terminalCause = nil
	p.stopDeadline()
}

// Cause returns the error recorded by whichever Abort* call made this
// record terminal, or nil for OPEN/COMPLETED/DISCARDED.
func (p *PendingModification) Cause() error {
	return p.terminalCause
}

// FinalizeCheckpoint transitions OPEN->COMPLETED iff fully acknowledged,
// returning the completion snapshot. Returns nil, false otherwise.
func (p *PendingModification) FinalizeCheckpoint(now time.Time) (*CompletedModification, bool) {
	if p.terminalState != Open || !p.IsFullyAcknowledged() {
		return nil, false
	}
	p.terminalState = Completed
	p.stopDeadline()
	return &CompletedModification{
		ModID:       p.ModID,
		JobID:       p.JobID,
		Description: p.Description,
		Action:      p.Action,
		CreatedAt:   p.CreatedAt,
		CompletedAt: now,
		Duration:    now.Sub(p.CreatedAt),
	}, true
}

// CompletedModification is the immutable snapshot of a PendingModification
// after every initial attempt acknowledged.
type CompletedModification struct {
	ModID       topology.ModificationID
	JobID       topology.JobID
	Description string
	Action      markers.ModificationAction
	CreatedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}
