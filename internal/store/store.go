// Package store persists recordings. The JSON file is the canonical
// artifact; a SQLite catalog indexes recordings for listing.
package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vincentbai/browsetrace-session/internal/models"
)

// Save writes a recording to path as indented JSON.
func Save(path string, rec *models.Recording) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Load reads and validates a recording. A missing file or unparseable
// JSON is a fatal-class error for callers: there is nothing to replay.
func Load(path string) (*models.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	var rec models.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse recording %s: %w", path, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recording %s: %w", path, err)
	}
	return &rec, nil
}
