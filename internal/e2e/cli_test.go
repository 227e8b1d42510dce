// Package e2e provides end-to-end tests for tether CLI commands.
package e2e

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// shortTempDir creates a temp directory with a short path for socket tests.
// Unix sockets have a path limit (~104 chars on macOS), and t.TempDir()
// includes the full test name which can exceed this limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "tether-e2e-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// buildTether builds the tether binary into dir.
func buildTether(t *testing.T, dir string) string {
	t.Helper()
	binary := filepath.Join(dir, "tether")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	// internal/e2e -> module root
	moduleRoot := filepath.Dir(filepath.Dir(wd))

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/tether")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to build tether: %v", err)
	}
	return binary
}

// runTether runs tether against baseDir, returning stdout and stderr.
func runTether(t *testing.T, binary, baseDir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binary, append([]string{"--dir", baseDir}, args...)...)
	// Keep the caller's overrides from leaking into the isolated run.
	cmd.Env = append(os.Environ(), "TETHER_DIR="+baseDir, "TETHER_SOCKET_PATH=", "TETHER_PID_PATH=", "TETHER_DAEMON=")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

type statusJSON struct {
	Running         bool   `json:"running"`
	PID             int    `json:"pid"`
	ConnectionState string `json:"connectionState"`
	ErrorMessage    string `json:"errorMessage"`
}

func readStatus(t *testing.T, binary, baseDir string, args ...string) statusJSON {
	t.Helper()
	stdout, stderr, err := runTether(t, binary, baseDir, append(args, "--format", "json")...)
	if err != nil {
		t.Fatalf("tether %s failed: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	var st statusJSON
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("decode status %q: %v", stdout, err)
	}
	return st
}

// TestDaemonLifecycle builds the binary and drives the daemon through
// start, inspection, and stop inside an isolated base directory.
func TestDaemonLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	baseDir := shortTempDir(t)
	binary := buildTether(t, baseDir)

	defer func() {
		_, _, _ = runTether(t, binary, baseDir, "daemon", "stop")
	}()

	t.Run("status_not_running", func(t *testing.T) {
		st := readStatus(t, binary, baseDir, "daemon", "status")
		if st.Running {
			t.Errorf("daemon reported running before start: %+v", st)
		}
	})

	var pid int
	t.Run("start", func(t *testing.T) {
		st := readStatus(t, binary, baseDir, "daemon", "start")
		if !st.Running || st.PID == 0 {
			t.Fatalf("daemon start = %+v", st)
		}
		pid = st.PID
		for _, name := range []string{"daemon.pid", "daemon.sock", "daemon.status.json"} {
			if _, err := os.Stat(filepath.Join(baseDir, name)); err != nil {
				t.Errorf("%s missing after start: %v", name, err)
			}
		}
	})

	t.Run("start_again_is_noop", func(t *testing.T) {
		st := readStatus(t, binary, baseDir, "daemon", "start")
		if st.PID != pid {
			t.Errorf("second start pid = %d, want %d", st.PID, pid)
		}
	})

	t.Run("status_without_credentials", func(t *testing.T) {
		st := readStatus(t, binary, baseDir, "status")
		if !st.Running {
			t.Fatalf("status = %+v, want running", st)
		}
		if st.ConnectionState != "error" || st.ErrorMessage == "" {
			t.Errorf("status = %+v, want error state with message", st)
		}
	})

	t.Run("ping", func(t *testing.T) {
		stdout, stderr, err := runTether(t, binary, baseDir, "ping")
		if err != nil {
			t.Fatalf("tether ping failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stdout, "pong") {
			t.Errorf("unexpected ping output: %s", stdout)
		}
	})

	t.Run("sessions_empty", func(t *testing.T) {
		stdout, stderr, err := runTether(t, binary, baseDir, "sessions")
		if err != nil {
			t.Fatalf("tether sessions failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stdout, "No sessions.") {
			t.Errorf("unexpected sessions output: %s", stdout)
		}
	})

	t.Run("stop", func(t *testing.T) {
		stdout, stderr, err := runTether(t, binary, baseDir, "daemon", "stop")
		if err != nil {
			t.Fatalf("tether daemon stop failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stdout, "stopped") {
			t.Errorf("unexpected stop output: %s", stdout)
		}

		deadline := time.Now().Add(5 * time.Second)
		for _, name := range []string{"daemon.pid", "daemon.sock", "daemon.status.json"} {
			for {
				_, err := os.Stat(filepath.Join(baseDir, name))
				if os.IsNotExist(err) {
					break
				}
				if time.Now().After(deadline) {
					t.Errorf("%s still present after stop", name)
					break
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	})

	t.Run("status_after_stop", func(t *testing.T) {
		st := readStatus(t, binary, baseDir, "daemon", "status")
		if st.Running {
			t.Errorf("daemon still running after stop: %+v", st)
		}
	})
}

// TestNotRunningCommands checks the commands that need a daemon fail
// with a start hint when none is running.
func TestNotRunningCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	baseDir := shortTempDir(t)
	binary := buildTether(t, baseDir)

	for _, args := range [][]string{{"ping"}, {"sessions"}, {"session", "stop", "abc"}} {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			_, stderr, err := runTether(t, binary, baseDir, args...)
			if err == nil {
				t.Fatal("expected failure without a daemon")
			}
			if !strings.Contains(stderr, "tether daemon start") {
				t.Errorf("stderr missing start hint: %s", stderr)
			}
		})
	}
}
