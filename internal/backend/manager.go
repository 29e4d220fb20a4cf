// Package backend defines the two capability contracts the orchestrator
// depends on - the Manager (planning/validation backend) and the Executor
// (code-modification backend) - plus concrete clients for each.
package backend

import (
	"context"

	"overseer/internal/mission"
	"overseer/internal/state"
)

// Analysis is the Manager's natural-language assessment of the current
// state, used as input to planning.
type Analysis struct {
	Status          string   `json:"status"`
	Blockers        []string `json:"blockers"`
	Recommendations []string `json:"recommendations"`
	NextSteps       []string `json:"next_steps"`
	Confidence      float64  `json:"confidence"`
}

// Validation is the Manager's decision on whether a criterion may be marked
// complete given the executor's output.
type Validation struct {
	Completed  bool    `json:"completed"`
	Evidence   string  `json:"evidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Recovery is the Manager's proposed retry course after a failed iteration.
type Recovery struct {
	CanRecover     bool   `json:"can_recover"`
	Strategy       string `json:"strategy,omitempty"`
	RecoveryAction string `json:"recovery_action,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Manager is the planning backend contract: small, cheap, reasoning-focused.
// Prompt composition and response parsing live behind this boundary.
// Implementations return RateLimitError/TransientError for retriable
// failures and ProtocolError for unparseable replies.
type Manager interface {
	// Analyze assesses the current state of the mission and session.
	Analyze(ctx context.Context, m *mission.Mission, s *state.SessionState, p mission.Progress) (*Analysis, error)

	// Plan produces the exact task description handed to the Executor.
	// The result is non-empty free text.
	Plan(ctx context.Context, analysis *Analysis, criterion *mission.DoDCriterion, s *state.SessionState) (string, error)

	// Validate decides whether the criterion may now be marked complete.
	Validate(ctx context.Context, criterion *mission.DoDCriterion, result *ExecutionResult, s *state.SessionState) (*Validation, error)

	// Recover proposes a retry course for a failed iteration.
	Recover(ctx context.Context, iterErr error, s *state.SessionState) (*Recovery, error)
}
