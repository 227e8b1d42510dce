// Package paths provides a single source of truth for tether file paths.
// All path helpers honor environment variable overrides for isolated testing.
//
// Path resolution precedence:
//  1. Specific env vars (TETHER_SOCKET_PATH, TETHER_PID_PATH) take highest priority
//  2. TETHER_DIR env var sets the base directory (derives every other path)
//  3. Default behavior (~/.tether) when no env vars are set
package paths

import (
	"os"
	"path/filepath"
)

// Environment variable names for path overrides.
const (
	// EnvDir is the base directory override (e.g., /tmp/tether-e2e).
	EnvDir = "TETHER_DIR"

	// EnvSocketPath overrides the socket path directly.
	EnvSocketPath = "TETHER_SOCKET_PATH"

	// EnvPIDPath overrides the PID file path directly.
	EnvPIDPath = "TETHER_PID_PATH"
)

// File names inside the base directory.
const (
	PIDFile         = "daemon.pid"
	StatusFile      = "daemon.status.json"
	SocketFile      = "daemon.sock"
	LogFile         = "daemon.log"
	LockFile        = "daemon.lock"
	StartLockFile   = "daemon.start.lock"
	CredentialsFile = "credentials.json"
	ConfigFile      = "config.toml"
	PermissionsFile = "permissions.toml"
)

// fallbackDir is used when the home directory cannot be resolved.
const fallbackDir = "/tmp/tether"

// BaseDir returns the tether base directory (~/.tether by default).
// Honors TETHER_DIR environment variable.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tether"), nil
}

// baseOrFallback returns BaseDir, or /tmp/tether when it cannot be resolved.
func baseOrFallback() string {
	base, err := BaseDir()
	if err != nil {
		return fallbackDir
	}
	return base
}

// SocketPath returns the daemon socket path.
// Precedence: TETHER_SOCKET_PATH > TETHER_DIR/daemon.sock > ~/.tether/daemon.sock
func SocketPath() string {
	if path := os.Getenv(EnvSocketPath); path != "" {
		return path
	}
	return filepath.Join(baseOrFallback(), SocketFile)
}

// PIDPath returns the daemon PID file path.
// Precedence: TETHER_PID_PATH > TETHER_DIR/daemon.pid > ~/.tether/daemon.pid
func PIDPath() string {
	if path := os.Getenv(EnvPIDPath); path != "" {
		return path
	}
	return filepath.Join(baseOrFallback(), PIDFile)
}

// StatusPath returns the daemon status snapshot path.
func StatusPath() string {
	return filepath.Join(baseOrFallback(), StatusFile)
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(baseOrFallback(), LogFile)
}

// LockPath returns the path of the lock file the running daemon holds.
func LockPath() string {
	return filepath.Join(baseOrFallback(), LockFile)
}

// CredentialsPath returns the path of the persisted relay credentials.
func CredentialsPath() string {
	return filepath.Join(baseOrFallback(), CredentialsFile)
}

// ConfigPath returns the path of the optional config.toml.
func ConfigPath() string {
	return filepath.Join(baseOrFallback(), ConfigFile)
}

// PermissionsPath returns the path of the global permission rules.
func PermissionsPath() string {
	return filepath.Join(baseOrFallback(), PermissionsFile)
}

// Layout bundles every file the daemon and its supervisor share.
// Components take a Layout instead of calling the helpers above so tests can
// run several daemons side by side in temporary directories.
type Layout struct {
	Dir         string
	PID         string
	Status      string
	Socket      string
	Log         string
	Lock        string
	StartLock   string
	Credentials string
	Config      string
	Permissions string
}

// Default returns the layout resolved from the environment.
func Default() Layout {
	return Layout{
		Dir:         baseOrFallback(),
		PID:         PIDPath(),
		Status:      StatusPath(),
		Socket:      SocketPath(),
		Log:         LogPath(),
		Lock:        LockPath(),
		StartLock:   filepath.Join(baseOrFallback(), StartLockFile),
		Credentials: CredentialsPath(),
		Config:      ConfigPath(),
		Permissions: PermissionsPath(),
	}
}

// In returns a layout with every file placed directly in dir.
func In(dir string) Layout {
	return Layout{
		Dir:         dir,
		PID:         filepath.Join(dir, PIDFile),
		Status:      filepath.Join(dir, StatusFile),
		Socket:      filepath.Join(dir, SocketFile),
		Log:         filepath.Join(dir, LogFile),
		Lock:        filepath.Join(dir, LockFile),
		StartLock:   filepath.Join(dir, StartLockFile),
		Credentials: filepath.Join(dir, CredentialsFile),
		Config:      filepath.Join(dir, ConfigFile),
		Permissions: filepath.Join(dir, PermissionsFile),
	}
}

// DaemonFiles returns the files removed when the daemon goes away.
func (l Layout) DaemonFiles() []string {
	return []string{l.Socket, l.PID, l.Status}
}
