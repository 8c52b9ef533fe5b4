package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// State is the persisted credential shape written to home.Dir.AuthStatePath,
// per spec.md §4.G: "{token, location, company, acquired_at}".
type State struct {
	Token      string    `json:"token"`
	Location   string    `json:"location"`
	Company    string    `json:"company"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// MaxPersistedAge is the freshness window beyond which persisted state
// is not worth attempting to reuse at startup.
const MaxPersistedAge = 7 * 24 * time.Hour

// loadState reads persisted state from path. A missing file returns a
// zero State and no error: first run has no prior credential.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-configured home directory
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("auth: read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("auth: parse state: %w", err)
	}
	return s, nil
}

func saveState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write state: %w", err)
	}
	return nil
}

func clearState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: clear state: %w", err)
	}
	return nil
}

// fresh reports whether s was acquired within MaxPersistedAge of now.
func (s State) fresh(now time.Time) bool {
	return !s.AcquiredAt.IsZero() && now.Sub(s.AcquiredAt) < MaxPersistedAge
}
