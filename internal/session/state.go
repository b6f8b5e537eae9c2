package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"RebalanceSentinel/internal/model"
)

// LoadState reads the session from a JSON file. A missing file or an empty
// path yields a disconnected session.
func LoadState(filePath string) (*model.SessionState, error) {
	if filePath == "" {
		return &model.SessionState{}, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.SessionState{}, nil
		}
		return nil, err
	}
	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState writes the session to a JSON file.
func SaveState(filePath string, state *model.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0600)
}
