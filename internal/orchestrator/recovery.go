package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"overseer/internal/backend"
	"overseer/internal/logging"
	"overseer/internal/state"
)

// FatalError escapes Orchestrate after a failed recovery. It carries the
// persisted session error id for post-mortem.
type FatalError struct {
	SessionErrorID string
	Reason         string
	Err            error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("orchestration failed (%s, error id %s): %v", e.Reason, e.SessionErrorID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// handleIterationError records the failure, asks the manager for a
// recovery course, and either queues the recovery action (loop continues)
// or returns a FatalError.
func (o *Orchestrator) handleIterationError(ctx context.Context, iterErr error) error {
	logging.Get(logging.CategoryOrchestrator).Warn("Iteration failed: %v", iterErr)

	o.session.Transition(state.PhaseErrorRecovery)
	serr := state.SessionError{
		ID:        "error-" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      string(backend.Classify(iterErr)),
		Message:   iterErr.Error(),
	}
	o.session.Errors = append(o.session.Errors, serr)

	// The error record is durable before any recovery decision is taken.
	if err := o.saveWithRetry(ctx); err != nil {
		return &FatalError{SessionErrorID: serr.ID, Reason: "store failure", Err: err}
	}
	o.sink.Count("overseer_session_errors_total", 1,
		map[string]string{"mission": o.mission.ID, "kind": serr.Kind})

	var recovery *backend.Recovery
	err := o.callWithRetry(ctx, "manager.recover", func(ctx context.Context) error {
		var callErr error
		recovery, callErr = o.manager.Recover(ctx, iterErr, o.session)
		return callErr
	})
	if err != nil {
		return &FatalError{SessionErrorID: serr.ID, Reason: "recovery synthesis failed", Err: iterErr}
	}

	if recovery.CanRecover && recovery.RecoveryAction != "" {
		logging.Orchestrator("Recovering via %q (strategy: %s)", recovery.RecoveryAction, recovery.Strategy)
		o.session.PushPendingFront(recovery.RecoveryAction)
		if err := o.saveWithRetry(ctx); err != nil {
			return &FatalError{SessionErrorID: serr.ID, Reason: "store failure", Err: err}
		}
		return nil
	}

	reason := recovery.Reason
	if reason == "" {
		reason = "unrecoverable"
	}
	return &FatalError{SessionErrorID: serr.ID, Reason: reason, Err: iterErr}
}
