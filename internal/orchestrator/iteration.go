package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"overseer/internal/backend"
	"overseer/internal/logging"
	"overseer/internal/mission"
	"overseer/internal/state"
)

// executeIteration runs one planning -> execution -> validation pass.
// Returns done=true when no criterion is pending and the session has moved
// to completion.
func (o *Orchestrator) executeIteration(ctx context.Context) (done bool, err error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "executeIteration")
	defer timer.Stop()

	// 1. PLAN: assess state, pick the next criterion.
	o.session.Transition(state.PhasePlanning)
	progress := mission.Evaluate(o.mission)

	var analysis *backend.Analysis
	err = o.callWithRetry(ctx, "manager.analyze", func(ctx context.Context) error {
		var callErr error
		analysis, callErr = o.manager.Analyze(ctx, o.mission, o.session, progress)
		return callErr
	})
	if err != nil {
		return false, err
	}
	logging.OrchestratorDebug("Analysis: status=%q confidence=%.2f blockers=%d",
		analysis.Status, analysis.Confidence, len(analysis.Blockers))

	criterion := mission.NextPriority(o.mission)
	if criterion == nil {
		logging.Orchestrator("No pending criteria; session %s complete", o.session.SessionID)
		o.session.Transition(state.PhaseCompletion)
		return true, o.saveWithRetry(ctx)
	}

	// A recovery action at the front of the pending queue is consumed in
	// lieu of a fresh plan. It stays queued until validation succeeds.
	var action string
	fromQueue := false
	if len(o.session.PendingTasks) > 0 {
		action = o.session.PendingTasks[0]
		fromQueue = true
		logging.Orchestrator("Consuming pending action: %s", action)
	} else {
		err = o.callWithRetry(ctx, "manager.plan", func(ctx context.Context) error {
			var callErr error
			action, callErr = o.manager.Plan(ctx, analysis, criterion, o.session)
			return callErr
		})
		if err != nil {
			return false, err
		}
	}

	// 2. EXECUTE: hand the task to the coding backend.
	o.session.Transition(state.PhaseExecution)
	ec := o.buildExecutionContext()

	var result *backend.ExecutionResult
	err = o.callWithRetry(ctx, "executor.execute", func(ctx context.Context) error {
		var callErr error
		result, callErr = o.executor.Execute(ctx, action, ec)
		if callErr != nil {
			return callErr
		}
		if !result.Success {
			// A reported failure is handled like a raised one.
			return fmt.Errorf("executor reported failure: %s", result.Error)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	o.recordArtifacts(result)
	o.session.TokenUsage.Add(result.TokenUsage)
	if err := o.saveWithRetry(ctx); err != nil {
		return false, err
	}

	if result.SessionEnded {
		// The executor consumed its turn budget; cycle its session before
		// the next call.
		logging.Orchestrator("Executor session ended; starting a fresh one")
		if err := o.executor.EndSession(); err != nil {
			logging.Get(logging.CategoryExecutor).Warn("End session failed: %v", err)
		}
		if err := o.executor.StartSession(ctx, o.session.SessionID); err != nil {
			return false, fmt.Errorf("failed to restart executor session: %w", err)
		}
	}

	// 3. VALIDATE: let the manager judge the criterion.
	o.session.Transition(state.PhaseValidation)
	var validation *backend.Validation
	err = o.callWithRetry(ctx, "manager.validate", func(ctx context.Context) error {
		var callErr error
		validation, callErr = o.manager.Validate(ctx, criterion, result, o.session)
		return callErr
	})
	if err != nil {
		return false, err
	}

	if validation.Completed {
		if err := mission.MarkComplete(o.mission, criterion.ID, validation.Evidence); err != nil {
			return false, err
		}
		o.session.AddCompletedTask(criterion.ID)
		if fromQueue {
			o.session.RemovePendingTask(action)
		}
		o.sink.Count("overseer_criteria_completed_total", 1,
			map[string]string{"mission": o.mission.ID, "priority": string(criterion.Priority)})
		logging.Orchestrator("Criterion %s validated complete (confidence=%.2f)",
			criterion.ID, validation.Confidence)
	} else {
		logging.Orchestrator("Criterion %s not yet complete: %s", criterion.ID, validation.Reason)
	}

	// The iteration finished cleanly; outstanding errors are behind us.
	o.resolveErrors()

	o.session.Iterations++
	return false, o.saveWithRetry(ctx)
}

// buildExecutionContext assembles the truncated artifact view for the
// executor. Truncation is the orchestrator's job, not the backend's.
func (o *Orchestrator) buildExecutionContext() backend.ExecutionContext {
	// Latest version per path only.
	latest := make(map[string]state.Artifact)
	for _, a := range o.session.Artifacts {
		if prev, ok := latest[a.Path]; !ok || a.Version > prev.Version {
			latest[a.Path] = a
		}
	}
	prior := make([]backend.ContextArtifact, 0, len(latest))
	for _, a := range o.session.Artifacts {
		kept, ok := latest[a.Path]
		if !ok || kept.Version != a.Version {
			continue
		}
		delete(latest, a.Path)
		prefix := a.Content
		if len(prefix) > backend.ArtifactPrefixLen {
			prefix = prefix[:backend.ArtifactPrefixLen]
		}
		prior = append(prior, backend.ContextArtifact{Path: a.Path, ContentPrefix: prefix})
	}

	return backend.ExecutionContext{
		WorkingDirectory:  o.mission.Repository,
		Environment:       o.cfg.Environment,
		PreviousArtifacts: prior,
	}
}

// recordArtifacts appends the executor's artifacts to the session with
// fresh ids and per-path versions assigned in append order.
func (o *Orchestrator) recordArtifacts(result *backend.ExecutionResult) {
	now := time.Now().UTC()
	for _, ra := range result.Artifacts {
		artifact := state.Artifact{
			ID:        "artifact-" + uuid.NewString(),
			Type:      state.ParseArtifactType(ra.Type),
			Path:      ra.Path,
			Content:   ra.Content,
			Version:   o.session.NextArtifactVersion(ra.Path),
			CreatedAt: now,
			UpdatedAt: now,
		}
		o.session.Artifacts = append(o.session.Artifacts, artifact)
		logging.OrchestratorDebug("Recorded artifact %s v%d (%s)", artifact.Path, artifact.Version, artifact.Type)
	}
	if len(result.Artifacts) > 0 {
		o.sink.Count("overseer_artifacts_recorded_total", float64(len(result.Artifacts)),
			map[string]string{"mission": o.mission.ID})
	}
}

// resolveErrors marks all outstanding session errors resolved after a
// clean iteration.
func (o *Orchestrator) resolveErrors() {
	for i := range o.session.Errors {
		o.session.Errors[i].Resolved = true
	}
}
