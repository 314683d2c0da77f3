package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// restartState is the descriptor persisted on a restart-mode termination so
// a reconnecting host can find the still-listening debuggee.
type restartState struct {
	Type          string `json:"type"` // "restart_state"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	Port          int    `json:"port"`
	UpdatedAt     string `json:"updated_at"`
}

func restartStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".revdbg", "restart")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "last.json"), nil
}

func saveRestartState(sessionID string, port int) error {
	if port == 0 {
		return errors.New("restart state requires a port")
	}
	path, err := restartStatePath()
	if err != nil {
		return err
	}
	st := restartState{
		Type:          "restart_state",
		SchemaVersion: 1,
		SessionID:     sessionID,
		Port:          port,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}

// loadRestartState returns nil without error when no state was persisted.
// An empty path means the default location.
func loadRestartState(path string) (*restartState, error) {
	if path == "" {
		var err error
		path, err = restartStatePath()
		if err != nil {
			return nil, err
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st restartState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
