package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/backend"
	"overseer/internal/config"
	"overseer/internal/mission"
	"overseer/internal/state"
)

// --- mockManager ---

type mockManager struct {
	AnalyzeFunc  func(ctx context.Context, m *mission.Mission, s *state.SessionState, p mission.Progress) (*backend.Analysis, error)
	PlanFunc     func(ctx context.Context, a *backend.Analysis, c *mission.DoDCriterion, s *state.SessionState) (string, error)
	ValidateFunc func(ctx context.Context, c *mission.DoDCriterion, r *backend.ExecutionResult, s *state.SessionState) (*backend.Validation, error)
	RecoverFunc  func(ctx context.Context, err error, s *state.SessionState) (*backend.Recovery, error)

	PlannedActions []string
}

func (m *mockManager) Analyze(ctx context.Context, ms *mission.Mission, s *state.SessionState, p mission.Progress) (*backend.Analysis, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, ms, s, p)
	}
	return &backend.Analysis{Status: "ok", Confidence: 0.9}, nil
}

func (m *mockManager) Plan(ctx context.Context, a *backend.Analysis, c *mission.DoDCriterion, s *state.SessionState) (string, error) {
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, a, c, s)
	}
	action := "implement " + c.ID
	m.PlannedActions = append(m.PlannedActions, action)
	return action, nil
}

func (m *mockManager) Validate(ctx context.Context, c *mission.DoDCriterion, r *backend.ExecutionResult, s *state.SessionState) (*backend.Validation, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, c, r, s)
	}
	return &backend.Validation{Completed: true, Evidence: "looks done", Confidence: 0.9}, nil
}

func (m *mockManager) Recover(ctx context.Context, err error, s *state.SessionState) (*backend.Recovery, error) {
	if m.RecoverFunc != nil {
		return m.RecoverFunc(ctx, err, s)
	}
	return &backend.Recovery{CanRecover: false, Reason: "no recovery configured"}, nil
}

// --- mockExecutor ---

type mockExecutor struct {
	ExecuteFunc     func(ctx context.Context, task string, ec backend.ExecutionContext) (*backend.ExecutionResult, error)
	EnvironmentOK   bool
	ExecutedTasks   []string
	SessionsStarted int
	SessionsEnded   int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{EnvironmentOK: true}
}

func (e *mockExecutor) Execute(ctx context.Context, task string, ec backend.ExecutionContext) (*backend.ExecutionResult, error) {
	e.ExecutedTasks = append(e.ExecutedTasks, task)
	if e.ExecuteFunc != nil {
		return e.ExecuteFunc(ctx, task, ec)
	}
	return &backend.ExecutionResult{
		Success: true,
		Output:  "done: " + task,
		Artifacts: []backend.ResultArtifact{
			{Path: "main.go", Content: "package main", Type: "code"},
		},
		TokenUsage: state.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}, nil
}

func (e *mockExecutor) StartSession(ctx context.Context, sessionID string) error {
	e.SessionsStarted++
	return nil
}

func (e *mockExecutor) EndSession() error {
	e.SessionsEnded++
	return nil
}

func (e *mockExecutor) ValidateEnvironment(ctx context.Context) bool {
	return e.EnvironmentOK
}

// --- memStore ---

// memStore is an in-memory store.Store with checkpoint support, used to
// keep orchestrator tests off the filesystem.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*state.SessionState
	checkpoints map[string][]*state.SessionState
	SaveCount   int
	CheckCount  int
	FailSaves   int // fail this many upcoming saves
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[string]*state.SessionState),
		checkpoints: make(map[string][]*state.SessionState),
	}
}

func (ms *memStore) Create(missionID, repository string) (*state.SessionState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s := &state.SessionState{
		SessionID:      "session-" + uuid.NewString(),
		MissionID:      missionID,
		Repository:     repository,
		CurrentPhase:   state.PhaseInitialization,
		CompletedTasks: []string{},
		PendingTasks:   []string{},
		Artifacts:      []state.Artifact{},
		Errors:         []state.SessionError{},
		Timestamp:      time.Now().UTC(),
	}
	ms.sessions[s.SessionID] = s.Clone()
	return s, nil
}

func (ms *memStore) Load(sessionID string) (*state.SessionState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s, ok := ms.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return s.Clone(), nil
}

func (ms *memStore) Save(s *state.SessionState) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.FailSaves > 0 {
		ms.FailSaves--
		return fmt.Errorf("injected save failure")
	}
	ms.SaveCount++
	ms.sessions[s.SessionID] = s.Clone()
	return nil
}

func (ms *memStore) UpdatePhase(sessionID string, phase state.Phase) error {
	s, err := ms.Load(sessionID)
	if err != nil {
		return err
	}
	s.Transition(phase)
	return ms.Save(s)
}

func (ms *memStore) AddArtifact(sessionID string, artifact state.Artifact) error {
	s, err := ms.Load(sessionID)
	if err != nil {
		return err
	}
	s.Artifacts = append(s.Artifacts, artifact)
	return ms.Save(s)
}

func (ms *memStore) AddError(sessionID string, serr state.SessionError) error {
	s, err := ms.Load(sessionID)
	if err != nil {
		return err
	}
	s.Errors = append(s.Errors, serr)
	return ms.Save(s)
}

func (ms *memStore) Checkpoint(sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s, ok := ms.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	now := time.Now().UTC()
	s.LastCheckpoint = &now
	ms.CheckCount++
	ms.checkpoints[sessionID] = append(ms.checkpoints[sessionID], s.Clone())
	return nil
}

func (ms *memStore) Recover(sessionID string) (*state.SessionState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cps := ms.checkpoints[sessionID]
	var recovered *state.SessionState
	if len(cps) > 0 {
		recovered = cps[len(cps)-1].Clone()
	} else if s, ok := ms.sessions[sessionID]; ok {
		recovered = s.Clone()
	} else {
		return nil, fmt.Errorf("session not recoverable: %s", sessionID)
	}
	recovered.CurrentPhase = state.PhaseErrorRecovery
	ms.sessions[sessionID] = recovered.Clone()
	return recovered, nil
}

func (ms *memStore) FindActive(missionID string) (*state.SessionState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, s := range ms.sessions {
		if s.MissionID == missionID && s.CurrentPhase != state.PhaseCompletion {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (ms *memStore) List() ([]*state.SessionState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []*state.SessionState
	for _, s := range ms.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (ms *memStore) Close() error { return nil }

// --- helpers ---

func missionWith(criteria ...mission.DoDCriterion) *mission.Mission {
	return &mission.Mission{
		ID:               "mission-test",
		Repository:       "/srv/repo",
		Title:            "Test mission",
		DefinitionOfDone: criteria,
		CreatedAt:        time.Now().UTC(),
	}
}

func crit(id string, p mission.Priority) mission.DoDCriterion {
	return mission.DoDCriterion{ID: id, Description: "do " + id, Measurable: true, Priority: p}
}

func testConfig(m *mission.Mission, mgr backend.Manager, exec backend.Executor, st *memStore) Config {
	return Config{
		Mission:            m,
		Manager:            mgr,
		Executor:           exec,
		Store:              st,
		CheckpointInterval: 5,
		MaxIterations:      50,
		Retry:              config.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond},
	}
}
