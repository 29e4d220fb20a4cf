package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession() *SessionState {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cp := now.Add(time.Minute)
	return &SessionState{
		SessionID:      "session-1",
		MissionID:      "mission-1",
		Repository:     "/srv/repo",
		CCInstanceID:   "abcd1234",
		CurrentPhase:   PhaseValidation,
		CompletedTasks: []string{"dod-1"},
		PendingTasks:   []string{"rerun tests"},
		Artifacts: []Artifact{
			{ID: "artifact-1", Type: ArtifactCode, Path: "main.go", Content: "package main",
				Version: 1, CreatedAt: now, UpdatedAt: now},
		},
		Errors: []SessionError{
			{ID: "error-1", Timestamp: now, Kind: "transient", Message: "boom"},
		},
		Iterations:     3,
		TokenUsage:     TokenUsage{Prompt: 10, Completion: 20, Total: 30, EstimatedCost: 0.01},
		Timestamp:      now,
		LastCheckpoint: &cp,
		PhaseHistory:   []Phase{PhasePlanning, PhaseExecution, PhaseValidation},
	}
}

func TestSessionState_JSONRoundTrip(t *testing.T) {
	s := sampleSession()

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back SessionState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *s, back)

	// Re-serialization is byte-stable.
	data2, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestPhase_RejectsUnknownTokens(t *testing.T) {
	var p Phase
	err := json.Unmarshal([]byte(`"daydreaming"`), &p)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`"error_recovery"`), &p))
	assert.Equal(t, PhaseErrorRecovery, p)
}

func TestArtifactType_RejectsUnknownTokens(t *testing.T) {
	var at ArtifactType
	err := json.Unmarshal([]byte(`"binary"`), &at)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`"documentation"`), &at))
	assert.Equal(t, ArtifactDocumentation, at)

	assert.Equal(t, ArtifactOther, ParseArtifactType("mystery"))
	assert.Equal(t, ArtifactTest, ParseArtifactType("test"))
}

func TestSessionState_CompletedTasksDeduplicated(t *testing.T) {
	s := &SessionState{}
	s.AddCompletedTask("a")
	s.AddCompletedTask("b")
	s.AddCompletedTask("a")
	assert.Equal(t, []string{"a", "b"}, s.CompletedTasks)
}

func TestSessionState_PendingQueue(t *testing.T) {
	s := &SessionState{PendingTasks: []string{"x"}}
	s.PushPendingFront("recovery")
	assert.Equal(t, []string{"recovery", "x"}, s.PendingTasks)

	assert.Equal(t, "recovery", s.PopPendingFront())
	assert.Equal(t, []string{"x"}, s.PendingTasks)

	s.RemovePendingTask("x")
	assert.Empty(t, s.PendingTasks)
	assert.Equal(t, "", s.PopPendingFront())
}

func TestSessionState_NextArtifactVersion(t *testing.T) {
	s := &SessionState{}
	// Per-path versions are contiguous from 1 in append order.
	for want := 1; want <= 3; want++ {
		v := s.NextArtifactVersion("main.go")
		assert.Equal(t, want, v)
		s.Artifacts = append(s.Artifacts, Artifact{Path: "main.go", Version: v})
	}
	assert.Equal(t, 1, s.NextArtifactVersion("other.go"))
}

func TestSessionState_CloneIsIndependent(t *testing.T) {
	s := sampleSession()
	clone := s.Clone()

	clone.CompletedTasks = append(clone.CompletedTasks, "dod-2")
	clone.Artifacts[0].Content = "mutated"
	clone.Transition(PhaseCompletion)

	assert.Equal(t, []string{"dod-1"}, s.CompletedTasks)
	assert.Equal(t, "package main", s.Artifacts[0].Content)
	assert.Equal(t, PhaseValidation, s.CurrentPhase)
}

func TestTransition_RecordsHistory(t *testing.T) {
	s := &SessionState{CurrentPhase: PhaseInitialization}
	s.Transition(PhasePlanning)
	s.Transition(PhaseExecution)
	assert.Equal(t, PhaseExecution, s.CurrentPhase)
	assert.Equal(t, []Phase{PhasePlanning, PhaseExecution}, s.PhaseHistory)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{Prompt: 1, Completion: 2, Total: 3, EstimatedCost: 0.5}
	u.Add(TokenUsage{Prompt: 10, Completion: 20, Total: 30, EstimatedCost: 0.25})
	assert.Equal(t, TokenUsage{Prompt: 11, Completion: 22, Total: 33, EstimatedCost: 0.75}, u)
}
