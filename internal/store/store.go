// Package store persists session state. The reference backend is a
// per-session JSON document under a configured directory plus a sibling
// checkpoints/ directory; a SQLite backend satisfies the same contract.
package store

import (
	"errors"

	"overseer/internal/state"
)

// ErrSessionNotFound is returned by Load when no record exists.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotRecoverable is returned by Recover when neither a checkpoint
// nor a saved state exists for the session.
var ErrSessionNotRecoverable = errors.New("session not recoverable")

// Store is the durable keyed store of session state.
// All operations may fail with wrapped I/O errors.
type Store interface {
	// Create allocates a fresh session for the mission and persists it
	// immediately with phase initialization and empty collections.
	Create(missionID, repository string) (*state.SessionState, error)

	// Load returns the persisted state, or ErrSessionNotFound.
	Load(sessionID string) (*state.SessionState, error)

	// Save atomically replaces the current record. Implementations must
	// avoid torn writes.
	Save(s *state.SessionState) error

	// UpdatePhase is a read-modify-write convenience ending in a Save.
	UpdatePhase(sessionID string, phase state.Phase) error

	// AddArtifact appends an artifact and saves.
	AddArtifact(sessionID string, artifact state.Artifact) error

	// AddError appends a session error and saves.
	AddError(sessionID string, serr state.SessionError) error

	// Checkpoint writes an immutable timestamp-suffixed copy alongside the
	// latest state and records last_checkpoint on it.
	Checkpoint(sessionID string) error

	// Recover loads the newest checkpoint for the session, falling back to
	// the latest saved state; the returned state has phase error_recovery
	// and has been persisted. Fails with ErrSessionNotRecoverable when
	// neither source exists.
	Recover(sessionID string) (*state.SessionState, error)

	// FindActive returns the first session for the mission whose phase is
	// not completion, or nil when none exists.
	FindActive(missionID string) (*state.SessionState, error)

	// List enumerates all persisted sessions.
	List() ([]*state.SessionState, error)

	// Close releases backend resources.
	Close() error
}
