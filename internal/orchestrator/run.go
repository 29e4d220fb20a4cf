package orchestrator

import (
	"context"
	"fmt"
	"time"

	"overseer/internal/backend"
	"overseer/internal/logging"
	"overseer/internal/mission"
	"overseer/internal/state"
)

// Orchestrate runs the mission to completion, budget exhaustion,
// cancellation, or fatal error. Once the executor session has started,
// resource cleanup (final checkpoint, executor session end) runs on every
// exit path; a failure to set up the session, an unusable executor
// environment, or a failed session start returns before any checkpoint is
// taken. A cancelled run returns success=false with the current metrics
// rather than an error.
func (o *Orchestrator) Orchestrate(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestration already running for mission %s", o.mission.ID)
	}
	o.isRunning = true
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.isRunning = false
		o.mu.Unlock()
	}()

	logging.Orchestrator("=== Starting orchestration: %s (%s) ===", o.mission.ID, o.mission.Title)

	// 1. Adopt an active session for this mission or create a fresh one.
	if err := o.initSession(); err != nil {
		return nil, err
	}

	// 2-3. Check the coding backend is usable, then bind it to the session.
	if !o.executor.ValidateEnvironment(ctx) {
		return nil, backend.ErrExecutorUnavailable
	}
	if err := o.executor.StartSession(ctx, o.session.SessionID); err != nil {
		return nil, fmt.Errorf("failed to start executor session: %w", err)
	}

	defer o.cleanup()

	// 4. Iterate until the completion rule holds, the budget runs out, or
	// the run is cancelled.
	for {
		if ctx.Err() != nil {
			logging.Orchestrator("Orchestration cancelled after %d iterations", o.session.Iterations)
			return o.assembleResult(), nil
		}
		if mission.IsComplete(o.mission) {
			break
		}
		if o.session.Iterations >= o.cfg.MaxIterations {
			logging.Orchestrator("Iteration budget exhausted (%d)", o.cfg.MaxIterations)
			return o.assembleResult(), nil
		}

		done, err := o.executeIteration(ctx)
		if err != nil {
			if backend.Classify(err) == backend.KindCancelled {
				logging.Orchestrator("Orchestration cancelled mid-iteration")
				return o.assembleResult(), nil
			}
			if recErr := o.handleIterationError(ctx, err); recErr != nil {
				return nil, recErr
			}
			continue
		}

		o.emitProgress()

		if done {
			break
		}
		if o.session.Iterations%o.cfg.CheckpointInterval == 0 {
			if err := o.store.Checkpoint(o.session.SessionID); err != nil {
				logging.Get(logging.CategoryStore).Warn("Checkpoint failed: %v", err)
			}
		}
	}

	// 5. Seal the session and report.
	if mission.IsComplete(o.mission) && o.session.CurrentPhase != state.PhaseCompletion {
		o.session.Transition(state.PhaseCompletion)
		if err := o.saveWithRetry(ctx); err != nil {
			return nil, err
		}
	}

	result := o.assembleResult()
	logging.Orchestrator("=== Orchestration finished: success=%v iterations=%d ===",
		result.Success, o.session.Iterations)
	return result, nil
}

// initSession adopts the active session for the mission or creates one.
func (o *Orchestrator) initSession() error {
	existing, err := o.store.FindActive(o.mission.ID)
	if err != nil {
		return fmt.Errorf("failed to look up active session: %w", err)
	}
	if existing != nil {
		logging.Orchestrator("Resuming session %s at iteration %d", existing.SessionID, existing.Iterations)
		o.session = existing
		// Replay completion onto the mission so resumed runs do not redo
		// finished criteria.
		for _, id := range existing.CompletedTasks {
			if err := mission.MarkComplete(o.mission, id, ""); err != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("Completed task %s not in mission: %v", id, err)
			}
		}
		return nil
	}

	created, err := o.store.Create(o.mission.ID, o.mission.Repository)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	o.session = created
	return nil
}

// cleanup runs on every exit path: final checkpoint, executor session end.
func (o *Orchestrator) cleanup() {
	if err := o.store.Checkpoint(o.session.SessionID); err != nil {
		logging.Get(logging.CategoryStore).Warn("Final checkpoint failed: %v", err)
	}
	if err := o.executor.EndSession(); err != nil {
		logging.Get(logging.CategoryExecutor).Warn("Executor session end failed: %v", err)
	}
	logging.Orchestrator("Cleanup complete for session %s", o.session.SessionID)
}
