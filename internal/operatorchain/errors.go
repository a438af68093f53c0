package operatorchain

import "errors"

// ErrBroadcastIO is returned when writing a marker to an outgoing network
// channel is interrupted mid-write. The chain escalates this to the
// task's failure handler.
var ErrBroadcastIO = errors.New("io error broadcasting marker")

// ErrDescriptorCountMismatch is raised by BroadcastOperatorPausedEvent when
// the descriptor list length doesn't match the outgoing channel count, an
// invariant violation raised without emitting any partial markers.
var ErrDescriptorCountMismatch = errors.New("input-channel descriptor count does not match outgoing channel count")
