package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"overseer/internal/logging"
	"overseer/internal/state"
)

// maxArtifactReadback bounds how much of a modified file the executor
// reads back into an artifact record.
const maxArtifactReadback = 64 * 1024

// CLIExecutor implements Executor by driving a coding-agent CLI as a
// subprocess: `<binary> -p --output-format json --model <model>`.
type CLIExecutor struct {
	binary  string
	model   string
	timeout time.Duration

	mu        sync.Mutex
	sessionID string
}

// CLIExecutorConfig holds configuration for the CLI executor.
type CLIExecutorConfig struct {
	Binary  string
	Model   string
	Timeout time.Duration
}

// NewCLIExecutor creates a CLI executor, applying defaults
// (binary "claude", timeout 300s).
func NewCLIExecutor(cfg CLIExecutorConfig) *CLIExecutor {
	e := &CLIExecutor{
		binary:  "claude",
		timeout: 300 * time.Second,
	}
	if cfg.Binary != "" {
		e.binary = cfg.Binary
	}
	if cfg.Model != "" {
		e.model = cfg.Model
	}
	if cfg.Timeout > 0 {
		e.timeout = cfg.Timeout
	}
	return e
}

// cliOutput represents the JSON document the CLI prints with
// --output-format json.
type cliOutput struct {
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	SessionID string `json:"session_id,omitempty"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	TotalCostUSD  float64  `json:"total_cost_usd,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`
	TurnLimitHit  bool     `json:"turn_limit_hit,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// StartSession binds the executor to an orchestration session.
func (e *CLIExecutor) StartSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
	logging.Executor("Executor session started: %s", sessionID)
	return nil
}

// EndSession releases the executor session.
func (e *CLIExecutor) EndSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionID != "" {
		logging.Executor("Executor session ended: %s", e.sessionID)
		e.sessionID = ""
	}
	return nil
}

// ValidateEnvironment checks that the CLI binary is on PATH.
func (e *CLIExecutor) ValidateEnvironment(ctx context.Context) bool {
	if _, err := exec.LookPath(e.binary); err != nil {
		logging.Get(logging.CategoryExecutor).Error("Executor binary %q not found: %v", e.binary, err)
		return false
	}
	return true
}

// Execute runs one task through the CLI and parses its JSON report.
func (e *CLIExecutor) Execute(ctx context.Context, task string, ec ExecutionContext) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.StopWithInfo()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{"-p", "--output-format", "json"}
	if e.model != "" {
		args = append(args, "--model", e.model)
	}
	args = append(args, e.buildPrompt(task, ec))

	cmd := exec.CommandContext(callCtx, e.binary, args...)
	cmd.Dir = ec.WorkingDirectory
	cmd.Env = flattenEnv(ec.Environment)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.ExecutorDebug("Running %s with task of %d chars in %s", e.binary, len(task), ec.WorkingDirectory)
	err := cmd.Run()
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// The per-call timeout fired; the run itself is still live.
			return nil, &TransientError{Provider: "executor-cli",
				Err: fmt.Errorf("timed out after %v", e.timeout)}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stderrStr := stderr.String()
		if isRateLimitOutput(stderrStr) {
			return nil, &RateLimitError{Provider: "executor-cli", RawResponse: stderrStr}
		}
		return nil, &TransientError{Provider: "executor-cli",
			Err: fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderrStr))}
	}

	var out cliOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &ProtocolError{Provider: "executor-cli",
			Detail: "unparseable CLI output: " + err.Error()}
	}

	result := &ExecutionResult{
		Success:      !out.IsError,
		Output:       out.Result,
		SessionEnded: out.TurnLimitHit,
		Error:        out.Error,
		TokenUsage: state.TokenUsage{
			Prompt:        out.Usage.InputTokens,
			Completion:    out.Usage.OutputTokens,
			Total:         out.Usage.InputTokens + out.Usage.OutputTokens,
			EstimatedCost: out.TotalCostUSD,
		},
	}
	if len(out.ToolsUsed) > 0 || len(out.FilesModified) > 0 {
		result.Metadata = &ResultMetadata{
			ToolsUsed:     out.ToolsUsed,
			FilesModified: out.FilesModified,
		}
	}

	// Read back the files the CLI reports touching so the session records
	// versioned artifacts.
	for _, path := range out.FilesModified {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(ec.WorkingDirectory, path)
		}
		content, err := readPrefix(full, maxArtifactReadback)
		if err != nil {
			logging.Get(logging.CategoryExecutor).Warn("Could not read back artifact %s: %v", path, err)
			continue
		}
		result.Artifacts = append(result.Artifacts, ResultArtifact{
			Path:    path,
			Content: content,
			Type:    inferArtifactType(path),
		})
	}

	logging.Executor("Executor finished: success=%v artifacts=%d tokens=%d",
		result.Success, len(result.Artifacts), result.TokenUsage.Total)
	return result, nil
}

// buildPrompt folds the context view into the task prompt.
func (e *CLIExecutor) buildPrompt(task string, ec ExecutionContext) string {
	if len(ec.PreviousArtifacts) == 0 {
		return task
	}
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nPreviously produced files (truncated):\n")
	for _, a := range ec.PreviousArtifacts {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", a.Path, a.ContentPrefix)
	}
	return b.String()
}

// flattenEnv converts the context environment map to exec form.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	flat := make([]string, 0, len(env))
	for k, v := range env {
		flat = append(flat, k+"="+v)
	}
	return flat
}

// isRateLimitOutput checks stderr for rate-limit markers.
func isRateLimitOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

// readPrefix reads at most n bytes of the file.
func readPrefix(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(n)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// inferArtifactType buckets a path into the artifact type enum.
func inferArtifactType(path string) string {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	switch {
	case strings.Contains(base, "_test") || strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".spec.ts") || strings.HasPrefix(base, "test_"):
		return string(state.ArtifactTest)
	case ext == ".md" || ext == ".rst" || ext == ".txt":
		return string(state.ArtifactDocumentation)
	case ext == ".json" || ext == ".yaml" || ext == ".yml" || ext == ".toml" || ext == ".ini":
		return string(state.ArtifactConfig)
	case ext == ".go" || ext == ".py" || ext == ".ts" || ext == ".js" || ext == ".rs" ||
		ext == ".java" || ext == ".c" || ext == ".cpp" || ext == ".rb":
		return string(state.ArtifactCode)
	default:
		return string(state.ArtifactOther)
	}
}
