package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/tessro/tether/internal/paths"
)

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return paths.PIDPath()
}

// WritePID writes pid to the PID file, creating the parent directory.
func WritePID(path string, pid int) error {
	if path == "" {
		path = DefaultPIDPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPID reads the process ID from the PID file.
// Returns 0 and an error if the file doesn't exist or is invalid.
func ReadPID(path string) (int, error) {
	if path == "" {
		path = DefaultPIDPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse pid: invalid pid %d", pid)
	}
	return pid, nil
}

// RemovePID removes the PID file.
// It returns nil if the file doesn't exist.
func RemovePID(path string) error {
	if path == "" {
		path = DefaultPIDPath()
	}

	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsProcessRunning checks if a process with the given PID is running.
// A process we are not allowed to signal still counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true
	case errors.Is(err, unix.EPERM):
		return true
	default:
		return false
	}
}

// IsDaemonRunning reports whether the PID file names a live daemon. A live
// process only counts when lockPath is held, since a PID left behind by a
// crashed daemon may since have been reused by an unrelated process.
func IsDaemonRunning(pidPath, lockPath string) (bool, int) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return false, 0
	}

	if IsProcessRunning(pid) && lockHeld(lockPath) {
		return true, pid
	}
	return false, 0
}

// CleanStalePID removes the PID file unless it names a running daemon.
// Returns true if a stale PID file was cleaned up.
func CleanStalePID(pidPath, lockPath string) bool {
	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		return false
	}
	if running, _ := IsDaemonRunning(pidPath, lockPath); running {
		return false
	}
	if err := RemovePID(pidPath); err != nil {
		slog.Warn("remove stale pid file failed", "error", err)
	}
	return true
}

// lockHeld reports whether some process holds the daemon lock at path. An
// empty path or a lock that cannot be probed counts as held.
func lockHeld(path string) bool {
	if path == "" {
		return true
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return true
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}

// exitProbeInterval is how often an unrelated process is probed while waiting
// for it to exit.
const exitProbeInterval = 50 * time.Millisecond

// waitForExit waits until pid is gone or ctx is done. It is used for
// processes this one did not start and therefore cannot wait(2) on.
func waitForExit(ctx context.Context, pid int) bool {
	if !IsProcessRunning(pid) {
		return true
	}

	ticker := time.NewTicker(exitProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return !IsProcessRunning(pid)
		case <-ticker.C:
			if !IsProcessRunning(pid) {
				return true
			}
		}
	}
}
