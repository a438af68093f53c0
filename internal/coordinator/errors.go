package coordinator

import "errors"

// ErrLocalPolicyViolation marks an invariant broken inside the coordinator
// itself — e.g. an acknowledge routed to a modification already marked
// DISCARDED. The coordinator treats this as unrecoverable and fails the
// graph globally rather than attempt a partial repair.
var ErrLocalPolicyViolation = errors.New("coordinator: local policy violation")

// ErrRemoteDeclined marks a modification that a task explicitly refused.
// The coordinator does not retry automatically; re-issuing is left to
// whatever orchestration called the trigger engine.
var ErrRemoteDeclined = errors.New("coordinator: remote participant declined")

// ErrExpired marks a modification whose deadline fired while still OPEN.
var ErrExpired = errors.New("coordinator: modification expired before full acknowledgement")

// ErrIOOnBroadcast wraps a marker-broadcast failure surfaced back to the
// coordinator as a task failure.
var ErrIOOnBroadcast = errors.New("coordinator: io failure broadcasting marker")

// ErrSchedulingFailure covers restart-path failures such as a global
// modification version mismatch; always escalated via FailGlobal.
var ErrSchedulingFailure = errors.New("coordinator: scheduling failure")

// ErrUnknownModification is returned when an inbound message names a
// ModificationID absent from every map (pending, completed, failed).
var ErrUnknownModification = errors.New("coordinator: unknown modification")

// ErrEmptyPendingSet is returned by trigger operations that would create a
// PendingModification with no subtasks to wait on; callers construct a
// CompletedModification directly instead of racing an empty deadline.
var ErrEmptyPendingSet = errors.New("coordinator: refusing to create modification with empty pending set")
