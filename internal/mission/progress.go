package mission

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCriterionNotFound is returned by MarkComplete when the criterion id
// does not exist in the mission.
var ErrCriterionNotFound = errors.New("criterion not found")

// Progress summarizes how far along a mission is.
type Progress struct {
	Total             int    `json:"total"`
	Completed         int    `json:"completed"`
	CriticalTotal     int    `json:"critical_total"`
	CriticalCompleted int    `json:"critical_completed"`
	Percent           int    `json:"percent"`
	PhaseLabel        string `json:"phase_label"`
}

// Evaluate computes the progress summary for a mission.
// Percent is round(100 * completed / total); the phase label is derived
// solely from the percent bucket.
func Evaluate(m *Mission) Progress {
	p := Progress{Total: len(m.DefinitionOfDone)}
	for _, c := range m.DefinitionOfDone {
		if c.Priority == PriorityCritical {
			p.CriticalTotal++
			if c.Completed {
				p.CriticalCompleted++
			}
		}
		if c.Completed {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	p.PhaseLabel = phaseLabel(p.Percent)
	return p
}

// phaseLabel buckets a completion percent into a human-readable phase.
func phaseLabel(percent int) string {
	switch {
	case percent <= 0:
		return "Initialization"
	case percent < 25:
		return "Early Development"
	case percent < 50:
		return "Core Implementation"
	case percent < 75:
		return "Feature Completion"
	case percent < 100:
		return "Final Validation"
	default:
		return "Complete"
	}
}

// IsComplete reports whether the mission satisfies its termination rule:
// every critical criterion completed and every high criterion completed.
// Pending medium/low criteria do not block completion.
func IsComplete(m *Mission) bool {
	for _, c := range m.DefinitionOfDone {
		if (c.Priority == PriorityCritical || c.Priority == PriorityHigh) && !c.Completed {
			return false
		}
	}
	return true
}

// NextPriority returns the first pending criterion scanning by priority
// critical, high, medium, low, preserving sequence order within a priority
// class. Returns nil iff no criterion is pending.
func NextPriority(m *Mission) *DoDCriterion {
	var best *DoDCriterion
	for i := range m.DefinitionOfDone {
		c := &m.DefinitionOfDone[i]
		if c.Completed {
			continue
		}
		if best == nil || c.Priority.Rank() < best.Priority.Rank() {
			best = c
		}
	}
	return best
}

// MarkComplete sets completed=true, completed_at=now and the evidence on the
// identified criterion. Idempotent: re-marking a completed criterion keeps
// its original completion time.
func MarkComplete(m *Mission, criterionID, evidence string) error {
	c := m.Criterion(criterionID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrCriterionNotFound, criterionID)
	}
	if c.Completed {
		return nil
	}
	now := time.Now().UTC()
	c.Completed = true
	c.CompletedAt = &now
	c.Evidence = evidence
	return nil
}
