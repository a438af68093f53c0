package topology

import "errors"

// ErrGlobalModVersionMismatch is returned by ResetForNewExecutionMigration
// when the caller's expected graph version is stale, i.e. another
// modification already advanced the graph concurrently. The coordinator
// treats this as a scheduling failure and escalates to FailGlobal.
var ErrGlobalModVersionMismatch = errors.New("global modification version mismatch")
