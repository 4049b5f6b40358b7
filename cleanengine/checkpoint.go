package cleanengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// lockFile is a distributed-lock marker, written to checkpointDir/.lock,
// so two clean runs against the same repository don't sweep concurrently.
// Grounded in registry/storage/garbagecollect.go's LockFile.
type lockFile struct {
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Timeout   string    `json:"timeout"`
}

// checkpointState is the saved state after Phase A and the Phase B mark
// step, letting a sweep-only rerun skip straight to removal after a crash
// or an intentional mark/sweep split.
type checkpointState struct {
	Version           string    `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
	MarkPhaseComplete bool      `json:"mark_phase_complete"`
	Stats             Stats     `json:"stats"`
	UnattachedObjects []string  `json:"unattached_objects"`
	UnattachedPayload []string  `json:"unattached_payloads"`
}

const checkpointStateVersion = "1"
const checkpointStaleAfter = 7 * 24 * time.Hour

func acquireLock(checkpointDir string, timeout time.Duration) error {
	if checkpointDir == "" {
		return nil
	}
	lockPath := filepath.Join(checkpointDir, ".lock")

	if data, err := os.ReadFile(lockPath); err == nil {
		var lock lockFile
		if err := json.Unmarshal(data, &lock); err == nil {
			if time.Since(lock.Timestamp) < timeout {
				return fmt.Errorf("another clean is running (locked by %s at %v)", lock.Hostname, lock.Timestamp)
			}
		}
	}

	hostname, _ := os.Hostname()
	lock := lockFile{
		Hostname:  hostname,
		PID:       os.Getpid(),
		Timestamp: time.Now(),
		Timeout:   timeout.String(),
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

func releaseLock(checkpointDir string) error {
	if checkpointDir == "" {
		return nil
	}
	err := os.Remove(filepath.Join(checkpointDir, ".lock"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func saveCheckpoint(checkpointDir string, state checkpointState) error {
	if checkpointDir == "" {
		return nil
	}
	state.Version = checkpointStateVersion
	state.Timestamp = time.Now()

	statePath := filepath.Join(checkpointDir, "candidates.json")
	tmpPath := statePath + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmpPath, statePath)
}

func loadCheckpoint(checkpointDir string) (*checkpointState, error) {
	if checkpointDir == "" {
		return nil, nil
	}
	statePath := filepath.Join(checkpointDir, "candidates.json")
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var state checkpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if time.Since(state.Timestamp) > checkpointStaleAfter {
		return nil, fmt.Errorf("checkpoint is too old (%v), delete it and restart", time.Since(state.Timestamp))
	}
	if !state.MarkPhaseComplete {
		return nil, fmt.Errorf("checkpoint is incomplete, mark phase did not finish")
	}
	return &state, nil
}
