package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the persisted runtime file's basename, written next to
// the configuration file.
const StateFileName = "elm-watch-stuff.json"

// PersistedOutput is the per-target slice of the persisted file: only
// compilation mode is remembered, and only when it differs from standard.
type PersistedOutput struct {
	CompilationMode CompilationMode `json:"compilationMode"`
}

// PersistedState is the `{port, outputs}` shape persisted next to the config.
type PersistedState struct {
	Port    int                        `json:"port"`
	Outputs map[string]PersistedOutput `json:"outputs"`
}

// BuildPersistedState snapshots the current port and per-target modes.
// Targets whose mode is standard are omitted, per the persistence
// invariant: a target whose mode is standard need not survive a restart).
func BuildPersistedState(port int, targets []*TargetEntry) PersistedState {
	outputs := make(map[string]PersistedOutput)
	for _, t := range targets {
		mode := t.State.CompilationMode
		if mode != ModeStandard {
			outputs[t.State.Output.String()] = PersistedOutput{CompilationMode: mode}
		}
	}
	return PersistedState{Port: port, Outputs: outputs}
}

// WriteStateFile rewrites the persisted file best-effort. Failure is
// returned so the caller can log it as a non-fatal entry rather than
// aborting the run.
func WriteStateFile(watchRoot string, state PersistedState) error {
	path := filepath.Join(watchRoot, StateFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadStateFile loads a previously persisted file, if any. A missing file
// is not an error: it returns a zero-value PersistedState with Port == 0.
func ReadStateFile(watchRoot string) (PersistedState, error) {
	path := filepath.Join(watchRoot, StateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PersistedState{}, nil
		}
		return PersistedState{}, fmt.Errorf("read %s: %w", path, err)
	}

	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return PersistedState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return state, nil
}
