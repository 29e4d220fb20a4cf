package orchestrator

import (
	"time"

	"overseer/internal/mission"
	"overseer/internal/state"
)

// Metrics aggregates the run for callers and dashboards.
type Metrics struct {
	Iterations        int              `json:"iterations"`
	CriteriaTotal     int              `json:"criteria_total"`
	CriteriaCompleted int              `json:"criteria_completed"`
	Percent           int              `json:"percent"`
	TokenUsage        state.TokenUsage `json:"token_usage"`
	ErrorsResolved    int              `json:"errors_resolved"`
	ErrorsUnresolved  int              `json:"errors_unresolved"`
	CodeArtifacts     int              `json:"code_artifacts"`
	TestArtifacts     int              `json:"test_artifacts"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
}

// Result is what Orchestrate returns: the final mission, the sealed
// session state, aggregate metrics, and the recorded artifacts.
type Result struct {
	Success    bool                `json:"success"`
	Mission    *mission.Mission    `json:"mission"`
	FinalState *state.SessionState `json:"final_state"`
	Metrics    Metrics             `json:"metrics"`
	Artifacts  []state.Artifact    `json:"artifacts"`
}

// usageReporter is the optional interface a Manager implements to report
// cumulative token usage.
type usageReporter interface {
	Usage() state.TokenUsage
}

// assembleResult builds the final report from the live state.
func (o *Orchestrator) assembleResult() *Result {
	p := mission.Evaluate(o.mission)

	m := Metrics{
		Iterations:        o.session.Iterations,
		CriteriaTotal:     p.Total,
		CriteriaCompleted: p.Completed,
		Percent:           p.Percent,
		TokenUsage:        o.session.TokenUsage,
		StartedAt:         o.startedAt,
		FinishedAt:        time.Now().UTC(),
	}
	if reporter, ok := o.manager.(usageReporter); ok {
		m.TokenUsage.Add(reporter.Usage())
	}
	for _, e := range o.session.Errors {
		if e.Resolved {
			m.ErrorsResolved++
		} else {
			m.ErrorsUnresolved++
		}
	}
	for _, a := range o.session.Artifacts {
		switch a.Type {
		case state.ArtifactCode:
			m.CodeArtifacts++
		case state.ArtifactTest:
			m.TestArtifacts++
		}
	}

	return &Result{
		Success:    mission.IsComplete(o.mission),
		Mission:    o.mission,
		FinalState: o.session.Clone(),
		Metrics:    m,
		Artifacts:  append([]state.Artifact(nil), o.session.Artifacts...),
	}
}
