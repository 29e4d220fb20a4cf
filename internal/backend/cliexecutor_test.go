package backend

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"overseer/internal/state"
)

// writeStubCLI writes a shell script that prints the given JSON document.
func writeStubCLI(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub CLI scripts are unix-only")
	}
	path := filepath.Join(t.TempDir(), "stub-agent")
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub CLI: %v", err)
	}
	return path
}

func TestCLIExecutor_Execute(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("failed to seed working dir: %v", err)
	}

	bin := writeStubCLI(t, `{
  "result": "created main.go",
  "is_error": false,
  "usage": {"input_tokens": 100, "output_tokens": 50},
  "total_cost_usd": 0.02,
  "files_modified": ["main.go"],
  "tools_used": ["write_file"]
}`)

	e := NewCLIExecutor(CLIExecutorConfig{Binary: bin})
	if !e.ValidateEnvironment(context.Background()) {
		t.Fatal("ValidateEnvironment() = false for existing stub")
	}
	if err := e.StartSession(context.Background(), "session-1"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer e.EndSession()

	result, err := e.Execute(context.Background(), "write hello world", ExecutionContext{
		WorkingDirectory: workDir,
		Environment:      map[string]string{"PATH": os.Getenv("PATH")},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !result.Success {
		t.Error("Success = false, want true")
	}
	if result.Output != "created main.go" {
		t.Errorf("Output = %q", result.Output)
	}
	if result.TokenUsage.Total != 150 || result.TokenUsage.EstimatedCost != 0.02 {
		t.Errorf("token usage wrong: %+v", result.TokenUsage)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(result.Artifacts))
	}
	a := result.Artifacts[0]
	if a.Path != "main.go" || a.Type != string(state.ArtifactCode) || a.Content != "package main\n" {
		t.Errorf("artifact wrong: %+v", a)
	}
	if result.Metadata == nil || len(result.Metadata.ToolsUsed) != 1 {
		t.Errorf("metadata wrong: %+v", result.Metadata)
	}
}

func TestCLIExecutor_ReportedFailure(t *testing.T) {
	bin := writeStubCLI(t, `{"result": "", "is_error": true, "error": "compile failed", "usage": {"input_tokens": 1, "output_tokens": 1}}`)

	e := NewCLIExecutor(CLIExecutorConfig{Binary: bin})
	result, err := e.Execute(context.Background(), "task", ExecutionContext{WorkingDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true for is_error output")
	}
	if result.Error != "compile failed" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestCLIExecutor_UnparseableOutput(t *testing.T) {
	bin := writeStubCLI(t, "this is not json")

	e := NewCLIExecutor(CLIExecutorConfig{Binary: bin})
	_, err := e.Execute(context.Background(), "task", ExecutionContext{WorkingDirectory: t.TempDir()})
	if Classify(err) != KindPermanent {
		t.Errorf("unparseable output classified %s, want permanent", Classify(err))
	}
}

func TestCLIExecutor_ValidateEnvironmentMissingBinary(t *testing.T) {
	e := NewCLIExecutor(CLIExecutorConfig{Binary: "definitely-not-installed-xyz"})
	if e.ValidateEnvironment(context.Background()) {
		t.Error("ValidateEnvironment() = true for missing binary")
	}
}

func TestInferArtifactType(t *testing.T) {
	tests := []struct {
		path string
		want state.ArtifactType
	}{
		{"main.go", state.ArtifactCode},
		{"main_test.go", state.ArtifactTest},
		{"test_app.py", state.ArtifactTest},
		{"README.md", state.ArtifactDocumentation},
		{"config.yaml", state.ArtifactConfig},
		{"data.bin", state.ArtifactOther},
	}
	for _, tt := range tests {
		if got := inferArtifactType(tt.path); got != string(tt.want) {
			t.Errorf("inferArtifactType(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestBuildPrompt_IncludesTruncatedArtifacts(t *testing.T) {
	e := NewCLIExecutor(CLIExecutorConfig{})
	prompt := e.buildPrompt("do it", ExecutionContext{
		PreviousArtifacts: []ContextArtifact{{Path: "a.go", ContentPrefix: "package a"}},
	})
	if prompt == "do it" {
		t.Error("prompt missing artifact context")
	}
}
