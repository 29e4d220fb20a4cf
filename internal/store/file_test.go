package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"overseer/internal/state"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFileStore_CreateAndLoad(t *testing.T) {
	fs := newTestFileStore(t)

	s, err := fs.Create("mission-1", "/srv/repo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.CurrentPhase != state.PhaseInitialization {
		t.Errorf("phase = %s, want initialization", s.CurrentPhase)
	}
	if s.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", s.Iterations)
	}

	loaded, err := fs.Load(s.SessionID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SessionID != s.SessionID || loaded.MissionID != "mission-1" {
		t.Errorf("loaded wrong session: %+v", loaded)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	fs := newTestFileStore(t)
	if _, err := fs.Load("session-nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	s, err := fs.Create("mission-1", "/srv/repo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s.Transition(state.PhasePlanning)
	s.Iterations = 7
	s.AddCompletedTask("dod-1")
	s.PendingTasks = []string{"rerun tests"}
	now := time.Now().UTC()
	s.Artifacts = append(s.Artifacts, state.Artifact{
		ID: "artifact-1", Type: state.ArtifactTest, Path: "main_test.go",
		Content: "package main", Version: 1, CreatedAt: now, UpdatedAt: now,
	})
	if err := fs.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	back, err := fs.Load(s.SessionID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if back.Iterations != 7 || back.CurrentPhase != state.PhasePlanning {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if len(back.Artifacts) != 1 || back.Artifacts[0].Type != state.ArtifactTest {
		t.Errorf("round trip lost artifacts: %+v", back.Artifacts)
	}
	if len(back.PendingTasks) != 1 || back.PendingTasks[0] != "rerun tests" {
		t.Errorf("round trip lost pending tasks: %+v", back.PendingTasks)
	}
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer fs.Close()

	s, err := fs.Create("mission-1", "/srv/repo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Iterations = i
		if err := fs.Save(s); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_UpdatePhaseAddArtifactAddError(t *testing.T) {
	fs := newTestFileStore(t)
	s, _ := fs.Create("mission-1", "/srv/repo")

	if err := fs.UpdatePhase(s.SessionID, state.PhasePlanning); err != nil {
		t.Fatalf("UpdatePhase() error = %v", err)
	}
	now := time.Now().UTC()
	if err := fs.AddArtifact(s.SessionID, state.Artifact{
		ID: "artifact-1", Type: state.ArtifactCode, Path: "x.go", Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("AddArtifact() error = %v", err)
	}
	if err := fs.AddError(s.SessionID, state.SessionError{
		ID: "error-1", Timestamp: now, Kind: "transient", Message: "boom",
	}); err != nil {
		t.Fatalf("AddError() error = %v", err)
	}

	back, _ := fs.Load(s.SessionID)
	if back.CurrentPhase != state.PhasePlanning {
		t.Errorf("phase = %s, want planning", back.CurrentPhase)
	}
	if len(back.Artifacts) != 1 || len(back.Errors) != 1 {
		t.Errorf("artifacts=%d errors=%d, want 1/1", len(back.Artifacts), len(back.Errors))
	}
}

func TestFileStore_CheckpointAndRecover(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer fs.Close()

	s, _ := fs.Create("mission-1", "/srv/repo")
	s.Iterations = 3
	s.AddCompletedTask("dod-1")
	if err := fs.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := fs.Checkpoint(s.SessionID); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}

	// The checkpoint file is an immutable timestamp-suffixed copy.
	cpEntries, err := os.ReadDir(filepath.Join(root, "checkpoints"))
	if err != nil || len(cpEntries) != 1 {
		t.Fatalf("checkpoints dir: entries=%d err=%v", len(cpEntries), err)
	}
	if !strings.HasPrefix(cpEntries[0].Name(), s.SessionID+"-") {
		t.Errorf("checkpoint name %q lacks session prefix", cpEntries[0].Name())
	}

	// Later saves advance the live record past the checkpoint.
	s.Iterations = 9
	if err := fs.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	recovered, err := fs.Recover(s.SessionID)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered.Iterations != 3 {
		t.Errorf("recovered iterations = %d, want checkpoint value 3", recovered.Iterations)
	}
	if recovered.CurrentPhase != state.PhaseErrorRecovery {
		t.Errorf("recovered phase = %s, want error_recovery", recovered.CurrentPhase)
	}
	if recovered.LastCheckpoint == nil {
		t.Error("recovered state lost last_checkpoint")
	}

	// The recovered state is persisted.
	back, _ := fs.Load(s.SessionID)
	if back.CurrentPhase != state.PhaseErrorRecovery || back.Iterations != 3 {
		t.Errorf("recovered state not persisted: %+v", back)
	}
}

func TestFileStore_RecoverNewestCheckpoint(t *testing.T) {
	fs := newTestFileStore(t)
	s, _ := fs.Create("mission-1", "/srv/repo")

	s.Iterations = 1
	_ = fs.Save(s)
	_ = fs.Checkpoint(s.SessionID)
	time.Sleep(5 * time.Millisecond) // distinct unix-ms suffixes
	s.Iterations = 2
	_ = fs.Save(s)
	_ = fs.Checkpoint(s.SessionID)

	recovered, err := fs.Recover(s.SessionID)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered.Iterations != 2 {
		t.Errorf("recovered iterations = %d, want newest checkpoint 2", recovered.Iterations)
	}
}

func TestFileStore_RecoverFallsBackToSavedState(t *testing.T) {
	fs := newTestFileStore(t)
	s, _ := fs.Create("mission-1", "/srv/repo")
	s.Iterations = 4
	_ = fs.Save(s)

	recovered, err := fs.Recover(s.SessionID)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered.Iterations != 4 || recovered.CurrentPhase != state.PhaseErrorRecovery {
		t.Errorf("fallback recovery wrong: %+v", recovered)
	}
}

func TestFileStore_RecoverMissingSession(t *testing.T) {
	fs := newTestFileStore(t)
	if _, err := fs.Recover("session-ghost"); !errors.Is(err, ErrSessionNotRecoverable) {
		t.Errorf("Recover(missing) error = %v, want ErrSessionNotRecoverable", err)
	}
}

func TestFileStore_FindActive(t *testing.T) {
	fs := newTestFileStore(t)

	done, _ := fs.Create("mission-1", "/srv/repo")
	done.CurrentPhase = state.PhaseCompletion
	_ = fs.Save(done)

	active, _ := fs.Create("mission-1", "/srv/repo")

	found, err := fs.FindActive("mission-1")
	if err != nil {
		t.Fatalf("FindActive() error = %v", err)
	}
	if found == nil || found.SessionID != active.SessionID {
		t.Errorf("FindActive returned %v, want %s", found, active.SessionID)
	}

	none, err := fs.FindActive("mission-other")
	if err != nil {
		t.Fatalf("FindActive() error = %v", err)
	}
	if none != nil {
		t.Errorf("FindActive(other) = %v, want nil", none.SessionID)
	}
}

func TestFileStore_FindActive_ColdCache(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	s, _ := fs.Create("mission-1", "/srv/repo")
	fs.Close()

	// A fresh store instance has an empty cache and must scan disk.
	fs2, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	defer fs2.Close()

	found, err := fs2.FindActive("mission-1")
	if err != nil {
		t.Fatalf("FindActive() error = %v", err)
	}
	if found == nil || found.SessionID != s.SessionID {
		t.Errorf("cold-cache FindActive = %v, want %s", found, s.SessionID)
	}
}

func TestFileStore_List(t *testing.T) {
	fs := newTestFileStore(t)
	_, _ = fs.Create("mission-1", "/srv/a")
	_, _ = fs.Create("mission-2", "/srv/b")

	sessions, err := fs.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("List() = %d sessions, want 2", len(sessions))
	}
}

func TestFileStore_RejectsSecondProcessLock(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer fs.Close()

	if _, err := NewFileStore(root); err == nil {
		t.Error("second store on the same root should fail to take the lock")
	}
}
