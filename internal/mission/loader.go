package mission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"overseer/internal/logging"
)

// missionFile mirrors the on-disk mission document.
type missionFile struct {
	Mission struct {
		ID               string          `yaml:"id"`
		Title            string          `yaml:"title"`
		Repository       string          `yaml:"repository"`
		Description      string          `yaml:"description"`
		DefinitionOfDone []criterionFile `yaml:"definition_of_done"`
		Context          string          `yaml:"context"`
		Constraints      []string        `yaml:"constraints"`
	} `yaml:"mission"`
}

// criterionFile accepts both "criteria" and "description" for the criterion
// text, generates ids when absent, and defaults measurable to true.
type criterionFile struct {
	ID          string `yaml:"id"`
	Criteria    string `yaml:"criteria"`
	Description string `yaml:"description"`
	Measurable  *bool  `yaml:"measurable"`
	Priority    string `yaml:"priority"`
}

// Load reads a mission YAML file, resolves the repository path against the
// current working directory, and validates the result.
func Load(path string) (*Mission, error) {
	timer := logging.StartTimer(logging.CategoryMission, "Load")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mission file: %w", err)
	}

	var mf missionFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse mission file: %w", err)
	}

	repo := mf.Mission.Repository
	if repo != "" && !filepath.IsAbs(repo) {
		abs, err := filepath.Abs(repo)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve repository path: %w", err)
		}
		repo = abs
	}

	// The id must be stable across loads: resuming finds the persisted
	// session by mission id, so re-reading the same file has to yield the
	// same identity.
	id := strings.TrimSpace(mf.Mission.ID)
	if id == "" {
		sum := sha256.Sum256([]byte(repo + "\x00" + mf.Mission.Title))
		id = "mission-" + hex.EncodeToString(sum[:6])
	}

	m := &Mission{
		ID:          id,
		Repository:  repo,
		Title:       mf.Mission.Title,
		Description: mf.Mission.Description,
		Context:     mf.Mission.Context,
		Constraints: mf.Mission.Constraints,
		CreatedAt:   time.Now().UTC(),
	}

	for i, cf := range mf.Mission.DefinitionOfDone {
		desc := cf.Criteria
		if desc == "" {
			desc = cf.Description
		}
		id := cf.ID
		if id == "" {
			id = fmt.Sprintf("dod-%d", i+1)
		}
		measurable := true
		if cf.Measurable != nil {
			measurable = *cf.Measurable
		}
		priority, err := ParsePriority(strings.ToLower(strings.TrimSpace(cf.Priority)))
		if err != nil {
			return nil, fmt.Errorf("criterion %s: %w", id, err)
		}
		m.DefinitionOfDone = append(m.DefinitionOfDone, DoDCriterion{
			ID:          id,
			Description: desc,
			Measurable:  measurable,
			Priority:    priority,
		})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	logging.Mission("Mission loaded: %s (title=%s, criteria=%d)", m.ID, m.Title, len(m.DefinitionOfDone))
	return m, nil
}
