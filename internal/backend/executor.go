package backend

import (
	"context"

	"overseer/internal/state"
)

// ArtifactPrefixLen is how much artifact content the orchestrator includes
// when building the executor's context view.
const ArtifactPrefixLen = 500

// ContextArtifact is a truncated view of a previously produced artifact.
type ContextArtifact struct {
	Path          string `json:"path"`
	ContentPrefix string `json:"content_prefix"`
}

// ExecutionContext carries everything the Executor needs for one task.
// The orchestrator, not the backend, is responsible for the truncation.
type ExecutionContext struct {
	WorkingDirectory  string            `json:"working_directory"`
	Environment       map[string]string `json:"environment"`
	PreviousArtifacts []ContextArtifact `json:"previous_artifacts"`
}

// ResultArtifact is one file the executor reports having produced.
type ResultArtifact struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// ResultMetadata carries optional executor-reported execution details.
type ResultMetadata struct {
	ToolsUsed     []string `json:"tools_used,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
}

// ExecutionResult is the Executor's report for one task.
// Success=false is a reported failure, not an exception; the orchestrator
// treats it like a raised executor error. SessionEnded=true hints that the
// executor consumed its turn budget and needs a fresh session start.
type ExecutionResult struct {
	Success      bool             `json:"success"`
	Output       string           `json:"output"`
	Artifacts    []ResultArtifact `json:"artifacts"`
	SessionEnded bool             `json:"session_ended"`
	TokenUsage   state.TokenUsage `json:"token_usage"`
	Error        string           `json:"error,omitempty"`
	Metadata     *ResultMetadata  `json:"metadata,omitempty"`
}

// Executor is the code-modification backend contract: heavier, tool-using.
type Executor interface {
	// Execute runs one task in the given context.
	Execute(ctx context.Context, task string, ec ExecutionContext) (*ExecutionResult, error)

	// StartSession binds the backend to an orchestration session.
	StartSession(ctx context.Context, sessionID string) error

	// EndSession releases the backend session. Safe to call on every exit
	// path.
	EndSession() error

	// ValidateEnvironment reports whether the backend can run at all.
	// Invoked once before the first iteration.
	ValidateEnvironment(ctx context.Context) bool
}
