// Package orchestrator owns the iteration loop that drives a mission to
// completion: the phase machine, retry/backoff around backend calls,
// checkpoint cadence, cancellation, and final result aggregation.
//
// A single orchestration run is single-writer: one task owns the live
// session state and performs all mutations sequentially, yielding only at
// backend calls, store writes, and retry sleeps. Observers receive
// snapshots, never the live state.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"overseer/internal/backend"
	"overseer/internal/config"
	"overseer/internal/mission"
	"overseer/internal/state"
	"overseer/internal/store"
	"overseer/internal/telemetry"
)

// ProgressEvent is the immutable per-iteration snapshot handed to
// observers.
type ProgressEvent struct {
	Session  *state.SessionState
	Progress mission.Progress
}

// Config holds everything an orchestration run needs. Backends, store, and
// mission are required; the rest defaults.
type Config struct {
	Mission  *mission.Mission
	Manager  backend.Manager
	Executor backend.Executor
	Store    store.Store

	// Sink receives orchestration metrics. Defaults to telemetry.Noop.
	Sink telemetry.Sink

	// CheckpointInterval is the iteration cadence of durable checkpoints.
	// Default 5.
	CheckpointInterval int

	// MaxIterations bounds the loop. Default 1000.
	MaxIterations int

	// Retry bounds backend call attempts. Defaults: 3 attempts, 1s base.
	Retry config.RetryConfig

	// Environment is injected into every ExecutionContext. The orchestrator
	// never reads the process environment itself.
	Environment map[string]string

	// OnProgress, when set, is called with a snapshot after every
	// iteration.
	OnProgress func(ProgressEvent)
}

// Orchestrator runs the plan-execute-validate loop for one mission.
type Orchestrator struct {
	mu sync.Mutex

	cfg      Config
	mission  *mission.Mission
	manager  backend.Manager
	executor backend.Executor
	store    store.Store
	sink     telemetry.Sink

	session   *state.SessionState
	isRunning bool
	startedAt time.Time
}

// New validates the config, applies defaults, and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Mission == nil {
		return nil, fmt.Errorf("mission required")
	}
	if err := cfg.Mission.Validate(); err != nil {
		return nil, err
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager backend required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor backend required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = config.DefaultCheckpointInterval
	}
	if cfg.CheckpointInterval < 1 {
		return nil, fmt.Errorf("checkpoint interval must be >= 1, got %d", cfg.CheckpointInterval)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = config.DefaultMaxIterations
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = config.DefaultRetryAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = config.DefaultRetryBaseDelay
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Noop{}
	}

	return &Orchestrator{
		cfg:      cfg,
		mission:  cfg.Mission,
		manager:  cfg.Manager,
		executor: cfg.Executor,
		store:    cfg.Store,
		sink:     cfg.Sink,
	}, nil
}

// Session returns a snapshot of the live session state, or nil before the
// run starts.
func (o *Orchestrator) Session() *state.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return o.session.Clone()
}

// emitProgress hands an immutable snapshot to the observer and records the
// headline gauges.
func (o *Orchestrator) emitProgress() {
	p := mission.Evaluate(o.mission)
	labels := map[string]string{"mission": o.mission.ID}
	o.sink.Gauge("overseer_mission_percent", float64(p.Percent), labels)
	o.sink.Gauge("overseer_session_iterations", float64(o.session.Iterations), labels)

	if o.cfg.OnProgress != nil {
		o.cfg.OnProgress(ProgressEvent{Session: o.session.Clone(), Progress: p})
	}
}
