package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"overseer/internal/mission"
)

// Mission documents are persisted next to the session store so a run can
// be resumed by mission id alone, without the original YAML file.

func missionRecordPath(stateDir, missionID string) string {
	return filepath.Join(stateDir, "missions", missionID+".json")
}

// saveMissionRecord writes the mission document under <state-dir>/missions.
func saveMissionRecord(stateDir string, m *mission.Mission) error {
	dir := filepath.Join(stateDir, "missions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create missions directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mission: %w", err)
	}
	if err := os.WriteFile(missionRecordPath(stateDir, m.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write mission record: %w", err)
	}
	return nil
}

// loadMissionRecord reads a previously persisted mission document.
func loadMissionRecord(stateDir, missionID string) (*mission.Mission, error) {
	data, err := os.ReadFile(missionRecordPath(stateDir, missionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no mission record for %s; run it from its mission file first", missionID)
		}
		return nil, fmt.Errorf("failed to read mission record: %w", err)
	}
	var m mission.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mission record %s: %w", missionID, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
