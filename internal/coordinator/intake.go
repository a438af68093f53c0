package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/topology"
)

// Intake routes the four inbound wire-message kinds — Acknowledge,
// Decline, Ignore, StateMigration — to the registry and, where relevant,
// on to the restart engine.
type Intake struct {
	registry *Registry
	restart  *Restart
	log      *zap.Logger
}

// NewIntake wires the intake path to its collaborators. log may be nil.
func NewIntake(registry *Registry, restart *Restart, log *zap.Logger) *Intake {
	if log == nil {
		log = zap.NewNop()
	}
	return &Intake{registry: registry, restart: restart, log: log}
}

// Acknowledge handles one Acknowledge reply. The returned bool reports
// whether modID was ever observed at all — true even for a late ack
// against an already-completed or already-failed record, per the
// late-message classification.
func (in *Intake) Acknowledge(ctx context.Context, modID topology.ModificationID, attemptID topology.ExecutionAttemptID) (AckResult, bool) {
	now := time.Now()
	result, known := in.registry.Acknowledge(modID, attemptID, now)

	switch result {
	case AckSuccess:
		in.log.Debug("acknowledge", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
	case AckDuplicate:
		in.log.Debug("duplicate acknowledge", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
	case AckUnknown:
		in.log.Debug("acknowledge for unknown modification", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
	case AckDiscarded:
		in.log.Debug("acknowledge for discarded modification", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
	}

	if _, _, awaiting := in.registry.VertexAwaitingRestart(attemptID); awaiting {
		if err := in.restart.RestartIfStoppedAndStateReceived(ctx, attemptID); err != nil {
			in.log.Error("restart after acknowledge failed", zap.String("attempt", attemptID.String()), zap.Error(err))
		}
	}
	return result, known
}

// Decline handles a Decline reply: transitions OPEN->DECLINED, silently
// ignored if the modification is not currently pending.
func (in *Intake) Decline(modID topology.ModificationID, attemptID topology.ExecutionAttemptID, reason string) {
	if ok := in.registry.Decline(modID); ok {
		in.log.Info("modification declined", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()), zap.String("reason", reason))
		return
	}
	in.log.Debug("decline for non-pending modification", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
}

// Ignore logs a task's notification that it did not participate
// meaningfully in the modification; it never alters state.
func (in *Intake) Ignore(modID topology.ModificationID, attemptID topology.ExecutionAttemptID) {
	in.log.Debug("ignore", zap.Uint64("mod_id", uint64(modID)), zap.String("attempt", attemptID.String()))
}

// StateMigration stores a paused subtask's snapshot and, if the restart
// preconditions are now all satisfied, redeploys it.
func (in *Intake) StateMigration(ctx context.Context, attemptID topology.ExecutionAttemptID, blob []byte) error {
	now := time.Now()
	if prior, ok := in.registry.PeekState(attemptID); ok {
		in.log.Debug("duplicate state migration",
			zap.String("attempt", attemptID.String()),
			zap.Bool("content_differs", prior.ContentHash != NewStoredSubtaskState(attemptID, blob, now).ContentHash),
		)
	}
	in.registry.StoreState(NewStoredSubtaskState(attemptID, blob, now))
	return in.restart.RestartIfStoppedAndStateReceived(ctx, attemptID)
}
