// Package state defines the durable per-session records the orchestrator
// mutates while driving a mission: the phase machine, produced artifacts,
// recorded errors, and the session state envelope itself.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is one state of the per-session state machine.
// Transitions: initialization -> planning -> execution -> validation ->
// (planning | completion | error_recovery). error_recovery returns to
// planning on success or terminates the run on failure.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhasePlanning       Phase = "planning"
	PhaseExecution      Phase = "execution"
	PhaseValidation     Phase = "validation"
	PhaseCompletion     Phase = "completion"
	PhaseErrorRecovery  Phase = "error_recovery"
)

var validPhases = map[Phase]struct{}{
	PhaseInitialization: {},
	PhasePlanning:       {},
	PhaseExecution:      {},
	PhaseValidation:     {},
	PhaseCompletion:     {},
	PhaseErrorRecovery:  {},
}

// Valid reports whether the phase is a canonical token.
func (p Phase) Valid() bool {
	_, ok := validPhases[p]
	return ok
}

// UnmarshalJSON rejects unknown phase tokens.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	phase := Phase(s)
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", s)
	}
	*p = phase
	return nil
}

// ArtifactType classifies an artifact recorded in the session.
type ArtifactType string

const (
	ArtifactCode          ArtifactType = "code"
	ArtifactTest          ArtifactType = "test"
	ArtifactDocumentation ArtifactType = "documentation"
	ArtifactConfig        ArtifactType = "config"
	ArtifactOther         ArtifactType = "other"
)

var validArtifactTypes = map[ArtifactType]struct{}{
	ArtifactCode:          {},
	ArtifactTest:          {},
	ArtifactDocumentation: {},
	ArtifactConfig:        {},
	ArtifactOther:         {},
}

// Valid reports whether the artifact type is a canonical token.
func (a ArtifactType) Valid() bool {
	_, ok := validArtifactTypes[a]
	return ok
}

// UnmarshalJSON rejects unknown artifact-type tokens.
func (a *ArtifactType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	at := ArtifactType(s)
	if !at.Valid() {
		return fmt.Errorf("unknown artifact type %q", s)
	}
	*a = at
	return nil
}

// ParseArtifactType coerces a free-form token, defaulting to other.
func ParseArtifactType(s string) ArtifactType {
	at := ArtifactType(s)
	if at.Valid() {
		return at
	}
	return ArtifactOther
}

// Artifact is a recorded (path, content, type, version) tuple produced by
// the executor. Versions are 1-based and increment per path.
type Artifact struct {
	ID        string       `json:"id"`
	Type      ArtifactType `json:"type"`
	Path      string       `json:"path"`
	Content   string       `json:"content"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Checksum  string       `json:"checksum,omitempty"`
}

// SessionError records one failure observed during a run.
type SessionError struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Resolved  bool      `json:"resolved"`
}

// TokenUsage accumulates backend-reported token counts.
type TokenUsage struct {
	Prompt        int     `json:"prompt"`
	Completion    int     `json:"completion"`
	Total         int     `json:"total"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
	u.EstimatedCost += other.EstimatedCost
}

// SessionState is a single stateful attempt to fulfill a mission. The
// orchestrator holds the unique mutable reference during a run; the store
// holds the durable copy. Observers receive snapshots via Clone.
type SessionState struct {
	SessionID      string         `json:"session_id"`
	MissionID      string         `json:"mission_id"`
	Repository     string         `json:"repository"`
	CCInstanceID   string         `json:"cc_instance_id"`
	CurrentPhase   Phase          `json:"current_phase"`
	CompletedTasks []string       `json:"completed_tasks"`
	PendingTasks   []string       `json:"pending_tasks"`
	Artifacts      []Artifact     `json:"artifacts"`
	Errors         []SessionError `json:"errors"`
	Iterations     int            `json:"iterations"`
	TokenUsage     TokenUsage     `json:"token_usage"`
	Timestamp      time.Time      `json:"timestamp"`
	LastCheckpoint *time.Time     `json:"last_checkpoint,omitempty"`
	PhaseHistory   []Phase        `json:"phase_history,omitempty"`
}

// Transition moves the session to the next phase, recording history.
func (s *SessionState) Transition(phase Phase) {
	s.CurrentPhase = phase
	s.PhaseHistory = append(s.PhaseHistory, phase)
}

// AddCompletedTask appends a criterion id to the completed list, dropping
// duplicates. The list is append-only.
func (s *SessionState) AddCompletedTask(id string) {
	for _, t := range s.CompletedTasks {
		if t == id {
			return
		}
	}
	s.CompletedTasks = append(s.CompletedTasks, id)
}

// PushPendingFront prepends an action to the pending queue. Recovery actions
// go to the front so the next iteration consumes them first.
func (s *SessionState) PushPendingFront(action string) {
	s.PendingTasks = append([]string{action}, s.PendingTasks...)
}

// PopPendingFront removes and returns the head of the pending queue.
// Returns "" when the queue is empty.
func (s *SessionState) PopPendingFront() string {
	if len(s.PendingTasks) == 0 {
		return ""
	}
	head := s.PendingTasks[0]
	s.PendingTasks = s.PendingTasks[1:]
	return head
}

// RemovePendingTask drops the first pending entry equal to action.
func (s *SessionState) RemovePendingTask(action string) {
	for i, t := range s.PendingTasks {
		if t == action {
			s.PendingTasks = append(s.PendingTasks[:i], s.PendingTasks[i+1:]...)
			return
		}
	}
}

// NextArtifactVersion returns 1 + the count of artifacts already recorded
// for the path.
func (s *SessionState) NextArtifactVersion(path string) int {
	count := 0
	for _, a := range s.Artifacts {
		if a.Path == path {
			count++
		}
	}
	return count + 1
}

// Clone returns a deep copy safe to hand to concurrent observers.
func (s *SessionState) Clone() *SessionState {
	cp := *s
	cp.CompletedTasks = append([]string(nil), s.CompletedTasks...)
	cp.PendingTasks = append([]string(nil), s.PendingTasks...)
	cp.Artifacts = append([]Artifact(nil), s.Artifacts...)
	cp.Errors = append([]SessionError(nil), s.Errors...)
	cp.PhaseHistory = append([]Phase(nil), s.PhaseHistory...)
	if s.LastCheckpoint != nil {
		t := *s.LastCheckpoint
		cp.LastCheckpoint = &t
	}
	return &cp
}
