package backend

import (
	"fmt"
	"strings"

	"overseer/internal/mission"
	"overseer/internal/state"
)

// Prompt builders for the four Manager operations. The analyze, validate and
// recover prompts state the expected JSON shape explicitly and their replies
// are parsed by parse.go; the plan prompt asks for plain text.

func buildAnalyzePrompt(m *mission.Mission, s *state.SessionState, p mission.Progress) string {
	var b strings.Builder
	b.WriteString("Analyze the state of this coding mission.\n\n")
	fmt.Fprintf(&b, "Mission: %s\n%s\n\n", m.Title, m.Description)
	if m.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", m.Context)
	}
	for _, c := range m.Constraints {
		fmt.Fprintf(&b, "Constraint: %s\n", c)
	}
	fmt.Fprintf(&b, "\nProgress: %d/%d criteria complete (%d%%, %s)\n",
		p.Completed, p.Total, p.Percent, p.PhaseLabel)
	fmt.Fprintf(&b, "Iterations so far: %d\n\n", s.Iterations)

	b.WriteString("Definition of done:\n")
	for _, c := range m.DefinitionOfDone {
		mark := " "
		if c.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] (%s) %s: %s\n", mark, c.Priority, c.ID, c.Description)
	}

	if n := len(s.Errors); n > 0 {
		last := s.Errors[n-1]
		fmt.Fprintf(&b, "\nMost recent error (%s): %s\n", last.Kind, last.Message)
	}

	b.WriteString("\nReply with a JSON object: " +
		`{"status": "...", "blockers": [], "recommendations": [], "next_steps": [], "confidence": 0.0}`)
	return b.String()
}

func buildPlanPrompt(analysis *Analysis, criterion *mission.DoDCriterion, s *state.SessionState) string {
	var b strings.Builder
	b.WriteString("Write the next task for the coding agent.\n\n")
	fmt.Fprintf(&b, "Target criterion (%s, priority %s): %s\n\n",
		criterion.ID, criterion.Priority, criterion.Description)
	if analysis.Status != "" {
		fmt.Fprintf(&b, "Current assessment: %s\n", analysis.Status)
	}
	for _, blocker := range analysis.Blockers {
		fmt.Fprintf(&b, "Known blocker: %s\n", blocker)
	}
	for _, step := range analysis.NextSteps {
		fmt.Fprintf(&b, "Suggested step: %s\n", step)
	}
	if len(s.CompletedTasks) > 0 {
		fmt.Fprintf(&b, "Already completed: %s\n", strings.Join(s.CompletedTasks, ", "))
	}
	b.WriteString("\nReply with the task description as plain text. " +
		"Be specific about files and acceptance behavior. No preamble.")
	return b.String()
}

func buildValidatePrompt(criterion *mission.DoDCriterion, result *ExecutionResult, s *state.SessionState) string {
	var b strings.Builder
	b.WriteString("Decide whether this acceptance criterion is now satisfied.\n\n")
	fmt.Fprintf(&b, "Criterion (%s): %s\n\n", criterion.ID, criterion.Description)

	output := result.Output
	if len(output) > 4000 {
		output = output[:4000] + "\n[truncated]"
	}
	fmt.Fprintf(&b, "Executor output:\n%s\n\n", output)

	if len(result.Artifacts) > 0 {
		b.WriteString("Artifacts produced:\n")
		for _, a := range result.Artifacts {
			fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", a.Path, a.Type, len(a.Content))
		}
	}

	b.WriteString("\nReply with a JSON object: " +
		`{"completed": true|false, "evidence": "...", "reason": "...", "confidence": 0.0}`)
	return b.String()
}

func buildRecoverPrompt(iterErr error, s *state.SessionState) string {
	var b strings.Builder
	b.WriteString("An iteration of the coding mission failed. Propose a recovery.\n\n")
	fmt.Fprintf(&b, "Error: %v\n", iterErr)
	fmt.Fprintf(&b, "Iterations completed: %d\n", s.Iterations)

	unresolved := 0
	for _, e := range s.Errors {
		if !e.Resolved {
			unresolved++
		}
	}
	fmt.Fprintf(&b, "Unresolved errors this session: %d\n", unresolved)

	b.WriteString("\nReply with a JSON object: " +
		`{"can_recover": true|false, "strategy": "...", "recovery_action": "...", "reason": "..."}` +
		"\nrecovery_action must be a concrete task the coding agent can run next.")
	return b.String()
}
