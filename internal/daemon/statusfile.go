package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatusFile is the snapshot the daemon persists for other processes.
type StatusFile struct {
	PID             int             `json:"pid"`
	StartedAt       time.Time       `json:"startedAt"`
	ConnectionState ConnectionState `json:"connectionState"`
	ActiveSessions  int             `json:"activeSessions"`
	LastHeartbeat   time.Time       `json:"lastHeartbeat,omitzero"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

// WriteStatusFile replaces the status file atomically.
func WriteStatusFile(path string, sf *StatusFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".daemon.status-*.json")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close status: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}

// ReadStatusFile reads the status file at path.
func ReadStatusFile(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &sf, nil
}

// State converts the snapshot to a DaemonState as of now.
func (sf *StatusFile) State(now time.Time) DaemonState {
	st := DaemonState{
		Running:         true,
		PID:             sf.PID,
		StartedAt:       sf.StartedAt,
		ConnectionState: sf.ConnectionState,
		ActiveSessions:  sf.ActiveSessions,
		LastHeartbeat:   sf.LastHeartbeat,
		ErrorMessage:    sf.ErrorMessage,
	}
	if !sf.StartedAt.IsZero() {
		st.UptimeSeconds = int64(now.Sub(sf.StartedAt).Seconds())
	}
	return st
}

// removeFiles best-effort deletes each path, ignoring missing files.
func removeFiles(files ...string) {
	for _, f := range files {
		if f == "" {
			continue
		}
		_ = os.Remove(f)
	}
}
