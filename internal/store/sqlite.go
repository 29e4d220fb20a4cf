package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"overseer/internal/logging"
	"overseer/internal/state"
)

// SQLiteStore satisfies the Store contract with one row per session and a
// checkpoints table of immutable copies. The full state is kept as a JSON
// column; mission id and phase are lifted out for indexed scans.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL,
		phase      TEXT NOT NULL,
		state_json TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_mission ON sessions(mission_id, phase);

	CREATE TABLE IF NOT EXISTS session_checkpoints (
		session_id TEXT NOT NULL,
		taken_at_ms INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		PRIMARY KEY (session_id, taken_at_ms)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply session schema: %w", err)
	}

	logging.Store("SQLite store opened: %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

// Create allocates a fresh session row.
func (s *SQLiteStore) Create(missionID, repository string) (*state.SessionState, error) {
	now := time.Now().UTC()
	ss := &state.SessionState{
		SessionID:      "session-" + uuid.NewString(),
		MissionID:      missionID,
		Repository:     repository,
		CCInstanceID:   uuid.NewString()[:8],
		CurrentPhase:   state.PhaseInitialization,
		CompletedTasks: []string{},
		PendingTasks:   []string{},
		Artifacts:      []state.Artifact{},
		Errors:         []state.SessionError{},
		Timestamp:      now,
	}
	if err := s.Save(ss); err != nil {
		return nil, err
	}
	return ss, nil
}

// Load returns the persisted state for the session id.
func (s *SQLiteStore) Load(sessionID string) (*state.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(sessionID)
}

func (s *SQLiteStore) loadLocked(sessionID string) (*state.SessionState, error) {
	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&stateJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	var ss state.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &ss); err != nil {
		return nil, fmt.Errorf("failed to parse session row %s: %w", sessionID, err)
	}
	return &ss, nil
}

// Save upserts the session row. The single-statement upsert is atomic.
func (s *SQLiteStore) Save(ss *state.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ss)
}

func (s *SQLiteStore) saveLocked(ss *state.SessionState) error {
	data, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, mission_id, phase, state_json, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(session_id) DO UPDATE SET
		   mission_id = excluded.mission_id,
		   phase      = excluded.phase,
		   state_json = excluded.state_json,
		   updated_at = CURRENT_TIMESTAMP`,
		ss.SessionID, ss.MissionID, string(ss.CurrentPhase), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	logging.StoreDebug("Session saved: %s (iterations=%d, phase=%s)",
		ss.SessionID, ss.Iterations, ss.CurrentPhase)
	return nil
}

// UpdatePhase loads, transitions, and saves.
func (s *SQLiteStore) UpdatePhase(sessionID string, phase state.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, err := s.loadLocked(sessionID)
	if err != nil {
		return err
	}
	ss.Transition(phase)
	return s.saveLocked(ss)
}

// AddArtifact appends the artifact and saves.
func (s *SQLiteStore) AddArtifact(sessionID string, artifact state.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, err := s.loadLocked(sessionID)
	if err != nil {
		return err
	}
	ss.Artifacts = append(ss.Artifacts, artifact)
	return s.saveLocked(ss)
}

// AddError appends the error record and saves.
func (s *SQLiteStore) AddError(sessionID string, serr state.SessionError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, err := s.loadLocked(sessionID)
	if err != nil {
		return err
	}
	ss.Errors = append(ss.Errors, serr)
	return s.saveLocked(ss)
}

// Checkpoint copies the latest state into the checkpoints table.
func (s *SQLiteStore) Checkpoint(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, err := s.loadLocked(sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ss.LastCheckpoint = &now

	data, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO session_checkpoints (session_id, taken_at_ms, state_json) VALUES (?, ?, ?)`,
		sessionID, now.UnixMilli(), string(data),
	); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	logging.Store("Checkpoint written: %s-%d", sessionID, now.UnixMilli())
	return s.saveLocked(ss)
}

// Recover loads the newest checkpoint row, falling back to the session row,
// forces error_recovery, and persists.
func (s *SQLiteStore) Recover(sessionID string) (*state.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state_json FROM session_checkpoints
		 WHERE session_id = ? ORDER BY taken_at_ms DESC LIMIT 1`,
		sessionID,
	).Scan(&stateJSON)

	var recovered *state.SessionState
	switch {
	case err == nil:
		var ss state.SessionState
		if err := json.Unmarshal([]byte(stateJSON), &ss); err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint row: %w", err)
		}
		recovered = &ss
		logging.Store("Recovering session %s from checkpoint", sessionID)
	case err == sql.ErrNoRows:
		recovered, err = s.loadLocked(sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotRecoverable, sessionID)
		}
		logging.Store("Recovering session %s from latest saved state", sessionID)
	default:
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}

	recovered.CurrentPhase = state.PhaseErrorRecovery
	if err := s.saveLocked(recovered); err != nil {
		return nil, err
	}
	return recovered, nil
}

// FindActive returns the first non-completed session for the mission,
// ordered by session id for determinism.
func (s *SQLiteStore) FindActive(missionID string) (*state.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stateJSON string
	err := s.db.QueryRow(
		`SELECT state_json FROM sessions
		 WHERE mission_id = ? AND phase != ?
		 ORDER BY session_id LIMIT 1`,
		missionID, string(state.PhaseCompletion),
	).Scan(&stateJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	var ss state.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &ss); err != nil {
		return nil, fmt.Errorf("failed to parse session row: %w", err)
	}
	return &ss, nil
}

// List enumerates all persisted sessions.
func (s *SQLiteStore) List() ([]*state.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT state_json FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*state.SessionState
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			continue
		}
		var ss state.SessionState
		if err := json.Unmarshal([]byte(stateJSON), &ss); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unparseable session row: %v", err)
			continue
		}
		sessions = append(sessions, &ss)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
