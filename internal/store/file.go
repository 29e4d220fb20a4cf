package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/logging"
	"overseer/internal/state"
)

// FileStore persists each session as <root>/<session_id>.json with
// immutable point-in-time copies under <root>/checkpoints/. Saves are
// write-to-temp-then-rename so readers never observe a torn record.
type FileStore struct {
	mu    sync.RWMutex
	root  string
	cache map[string]*state.SessionState

	lockFile *os.File
}

// NewFileStore creates (if needed) the root and checkpoints directories and
// takes an advisory lock on the root so two processes cannot adopt the same
// session.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("store root required")
	}
	if err := os.MkdirAll(filepath.Join(root, "checkpoints"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directories: %w", err)
	}

	lockPath := filepath.Join(root, ".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockExclusive(lockFile); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("session store is locked by another process: %w", err)
	}

	logging.Store("File store opened: %s", root)
	return &FileStore{
		root:     root,
		cache:    make(map[string]*state.SessionState),
		lockFile: lockFile,
	}, nil
}

// Create allocates a fresh session and persists it immediately.
func (fs *FileStore) Create(missionID, repository string) (*state.SessionState, error) {
	now := time.Now().UTC()
	s := &state.SessionState{
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
	if err := fs.Save(s); err != nil {
		return nil, err
	}
	logging.Store("Session created: %s (mission=%s)", s.SessionID, missionID)
	return s, nil
}

// Load returns the persisted state for the session id.
func (fs *FileStore) Load(sessionID string) (*state.SessionState, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readLocked(fs.sessionPath(sessionID))
}

// Save atomically replaces the session record.
func (fs *FileStore) Save(s *state.SessionState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.writeLocked(fs.sessionPath(s.SessionID), s); err != nil {
		return err
	}
	fs.cache[s.SessionID] = s.Clone()
	logging.StoreDebug("Session saved: %s (iterations=%d, phase=%s)",
		s.SessionID, s.Iterations, s.CurrentPhase)
	return nil
}

// UpdatePhase loads, transitions, and saves.
func (fs *FileStore) UpdatePhase(sessionID string, phase state.Phase) error {
	s, err := fs.Load(sessionID)
	if err != nil {
		return err
	}
	s.Transition(phase)
	return fs.Save(s)
}

// AddArtifact appends the artifact and saves.
func (fs *FileStore) AddArtifact(sessionID string, artifact state.Artifact) error {
	s, err := fs.Load(sessionID)
	if err != nil {
		return err
	}
	s.Artifacts = append(s.Artifacts, artifact)
	return fs.Save(s)
}

// AddError appends the error record and saves.
func (fs *FileStore) AddError(sessionID string, serr state.SessionError) error {
	s, err := fs.Load(sessionID)
	if err != nil {
		return err
	}
	s.Errors = append(s.Errors, serr)
	return fs.Save(s)
}

// Checkpoint writes an immutable timestamp-suffixed copy of the latest
// state and records last_checkpoint. Checkpoints are never garbage-collected
// here; retention is the operator's concern.
func (fs *FileStore) Checkpoint(sessionID string) error {
	timer := logging.StartTimer(logging.CategoryStore, "Checkpoint")
	defer timer.Stop()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	s, err := fs.readLocked(fs.sessionPath(sessionID))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.LastCheckpoint = &now

	name := fmt.Sprintf("%s-%d.json", sessionID, now.UnixMilli())
	cpPath := filepath.Join(fs.root, "checkpoints", name)
	if err := fs.writeLocked(cpPath, s); err != nil {
		return err
	}
	if err := fs.writeLocked(fs.sessionPath(sessionID), s); err != nil {
		return err
	}
	fs.cache[sessionID] = s.Clone()
	logging.Store("Checkpoint written: %s", name)
	return nil
}

// Recover loads the newest checkpoint whose name begins with the session
// id, falling back to the latest saved state. The returned state is forced
// into error_recovery and persisted.
func (fs *FileStore) Recover(sessionID string) (*state.SessionState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var recovered *state.SessionState

	cpPath, err := fs.newestCheckpointLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if cpPath != "" {
		recovered, err = fs.readLocked(cpPath)
		if err != nil {
			return nil, err
		}
		logging.Store("Recovering session %s from checkpoint %s", sessionID, filepath.Base(cpPath))
	} else {
		recovered, err = fs.readLocked(fs.sessionPath(sessionID))
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrSessionNotRecoverable, sessionID)
			}
			return nil, err
		}
		logging.Store("Recovering session %s from latest saved state", sessionID)
	}

	recovered.CurrentPhase = state.PhaseErrorRecovery
	if err := fs.writeLocked(fs.sessionPath(sessionID), recovered); err != nil {
		return nil, err
	}
	fs.cache[sessionID] = recovered.Clone()
	return recovered, nil
}

// FindActive scans the in-memory cache, then the backing directory, for the
// first session matching the mission whose phase is not completion.
func (fs *FileStore) FindActive(missionID string) (*state.SessionState, error) {
	fs.mu.RLock()
	var cached []*state.SessionState
	for _, s := range fs.cache {
		if s.MissionID == missionID && s.CurrentPhase != state.PhaseCompletion {
			cached = append(cached, s)
		}
	}
	fs.mu.RUnlock()

	// Deterministic order within one invocation.
	sort.Slice(cached, func(i, j int) bool { return cached[i].SessionID < cached[j].SessionID })
	if len(cached) > 0 {
		return cached[0].Clone(), nil
	}

	sessions, err := fs.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })
	for _, s := range sessions {
		if s.MissionID == missionID && s.CurrentPhase != state.PhaseCompletion {
			return s, nil
		}
	}
	return nil, nil
}

// List enumerates persisted sessions, skipping records that fail to parse.
func (fs *FileStore) List() ([]*state.SessionState, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read store root: %w", err)
	}

	var sessions []*state.SessionState
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := fs.readLocked(filepath.Join(fs.root, e.Name()))
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable session file %s: %v", e.Name(), err)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Close releases the advisory lock.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lockFile != nil {
		unlockFile(fs.lockFile)
		err := fs.lockFile.Close()
		fs.lockFile = nil
		return err
	}
	return nil
}

func (fs *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(fs.root, sessionID+".json")
}

// newestCheckpointLocked returns the path of the newest checkpoint whose
// name begins with "<sessionID>-", or "" when none exists.
func (fs *FileStore) newestCheckpointLocked(sessionID string) (string, error) {
	cpDir := filepath.Join(fs.root, "checkpoints")
	entries, err := os.ReadDir(cpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read checkpoints: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), sessionID+"-") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	// Unix-ms suffixes of equal width sort lexically in time order.
	sort.Strings(names)
	return filepath.Join(cpDir, names[len(names)-1]), nil
}

// readLocked deserializes a session record; unknown enum tokens are
// rejected by the state types.
func (fs *FileStore) readLocked(path string) (*state.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s state.SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// writeLocked serializes atomically: write to a temp file in the same
// directory, then rename over the destination.
func (fs *FileStore) writeLocked(path string, s *state.SessionState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
