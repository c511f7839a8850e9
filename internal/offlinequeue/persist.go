package offlinequeue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the queue file inside a project's state directory.
const StateFileName = "queue.json"

const stateVersion = 1

type persistedState struct {
	Version   int      `json:"version"`
	ProjectID string   `json:"project_id"`
	Entries   []*Entry `json:"entries"`
}

// writeState replaces the state file atomically while holding the flock.
func writeState(dir string, state persistedState) error {
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.unlock() }()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	target := filepath.Join(dir, StateFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// readState loads the state file. A missing file is an empty queue.
func readState(dir string) (persistedState, error) {
	fl := newFileLock(dir)
	if err := fl.lock(); err != nil {
		return persistedState{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.unlock() }()

	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return persistedState{Version: stateVersion}, nil
		}
		return persistedState{}, fmt.Errorf("read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return persistedState{}, fmt.Errorf("unmarshal queue state: %w", err)
	}
	if state.Version > stateVersion {
		return persistedState{}, fmt.Errorf("queue state version %d is newer than supported %d", state.Version, stateVersion)
	}
	return state, nil
}

// ReadEntries returns the persisted entries of the queue in dir without
// opening it for writing. It is used by the CLI while the daemon owns the
// queue.
func ReadEntries(dir string) ([]Entry, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	state, err := readState(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(state.Entries))
	for _, e := range state.Entries {
		out = append(out, *e)
	}
	return out, nil
}
