// Package mission defines the declarative unit of work driven by the
// orchestrator: a target repository plus a Definition of Done, an ordered
// set of prioritized acceptance criteria.
package mission

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders DoD criteria. Critical outranks high outranks medium
// outranks low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank maps priorities to their scan order. Lower rank = scanned first.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the scan order of the priority (critical first).
func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return len(priorityRank)
	}
	return r
}

// Valid reports whether the priority is one of the four canonical tokens.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// ParsePriority converts a token into a Priority, rejecting unknown tokens.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// UnmarshalJSON rejects unknown priority tokens.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DoDCriterion is one acceptance criterion within a Definition of Done.
type DoDCriterion struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Measurable  bool       `json:"measurable"`
	Priority    Priority   `json:"priority"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Evidence    string     `json:"evidence,omitempty"`
}

// Mission is the declarative unit of work: a target repository plus a
// Definition of Done.
type Mission struct {
	ID               string         `json:"id"`
	Repository       string         `json:"repository"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	DefinitionOfDone []DoDCriterion `json:"definition_of_done"`
	Context          string         `json:"context,omitempty"`
	Constraints      []string       `json:"constraints,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Validate checks mission invariants: at least one criterion, unique
// criterion ids, valid priorities, completed_at present iff completed.
func (m *Mission) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mission id required")
	}
	if m.Repository == "" {
		return fmt.Errorf("mission repository required")
	}
	if len(m.DefinitionOfDone) == 0 {
		return fmt.Errorf("mission %s: definition_of_done must not be empty", m.ID)
	}
	seen := make(map[string]struct{}, len(m.DefinitionOfDone))
	for i, c := range m.DefinitionOfDone {
		if c.ID == "" {
			return fmt.Errorf("mission %s: criterion %d has empty id", m.ID, i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("mission %s: duplicate criterion id %q", m.ID, c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Description == "" {
			return fmt.Errorf("mission %s: criterion %s has empty description", m.ID, c.ID)
		}
		if !c.Priority.Valid() {
			return fmt.Errorf("mission %s: criterion %s has invalid priority %q", m.ID, c.ID, c.Priority)
		}
		if c.Completed != (c.CompletedAt != nil) {
			return fmt.Errorf("mission %s: criterion %s completed/completed_at mismatch", m.ID, c.ID)
		}
	}
	return nil
}

// Criterion returns the criterion with the given id, or nil if absent.
func (m *Mission) Criterion(id string) *DoDCriterion {
	for i := range m.DefinitionOfDone {
		if m.DefinitionOfDone[i].ID == id {
			return &m.DefinitionOfDone[i]
		}
	}
	return nil
}
