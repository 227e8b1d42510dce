package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDir(t *testing.T) {
	t.Run("default uses home directory", func(t *testing.T) {
		t.Setenv(EnvDir, "")

		dir, err := BaseDir()
		if err != nil {
			t.Fatalf("BaseDir() error = %v", err)
		}
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".tether")
		if dir != expected {
			t.Errorf("BaseDir() = %q, want %q", dir, expected)
		}
	})

	t.Run("TETHER_DIR overrides default", func(t *testing.T) {
		t.Setenv(EnvDir, "/tmp/tether-test")

		dir, err := BaseDir()
		if err != nil {
			t.Fatalf("BaseDir() error = %v", err)
		}
		if dir != "/tmp/tether-test" {
			t.Errorf("BaseDir() = %q, want %q", dir, "/tmp/tether-test")
		}
	})
}

func TestSocketPath(t *testing.T) {
	tests := []struct {
		name       string
		dir        string
		socketPath string
		want       string
	}{
		{"TETHER_DIR derives socket", "/tmp/tether-test", "", "/tmp/tether-test/daemon.sock"},
		{"explicit override wins", "/tmp/tether-test", "/tmp/custom.sock", "/tmp/custom.sock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDir, tt.dir)
			t.Setenv(EnvSocketPath, tt.socketPath)

			if got := SocketPath(); got != tt.want {
				t.Errorf("SocketPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPIDPath(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		pidPath string
		want    string
	}{
		{"TETHER_DIR derives pid", "/tmp/tether-test", "", "/tmp/tether-test/daemon.pid"},
		{"explicit override wins", "/tmp/tether-test", "/tmp/custom.pid", "/tmp/custom.pid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDir, tt.dir)
			t.Setenv(EnvPIDPath, tt.pidPath)

			if got := PIDPath(); got != tt.want {
				t.Errorf("PIDPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvDir, "/tmp/tether-test")
	t.Setenv(EnvSocketPath, "")
	t.Setenv(EnvPIDPath, "")

	l := Default()
	want := In("/tmp/tether-test")
	if l != want {
		t.Errorf("Default() = %+v, want %+v", l, want)
	}
}

func TestIn(t *testing.T) {
	l := In("/var/run/t")

	checks := map[string]string{
		l.PID:         "/var/run/t/daemon.pid",
		l.Status:      "/var/run/t/daemon.status.json",
		l.Socket:      "/var/run/t/daemon.sock",
		l.Log:         "/var/run/t/daemon.log",
		l.Lock:        "/var/run/t/daemon.lock",
		l.StartLock:   "/var/run/t/daemon.start.lock",
		l.Credentials: "/var/run/t/credentials.json",
		l.Config:      "/var/run/t/config.toml",
		l.Permissions: "/var/run/t/permissions.toml",
	}
	for got, want := range checks {
		if got != want {
			t.Errorf("layout path = %q, want %q", got, want)
		}
	}

	files := l.DaemonFiles()
	if len(files) != 3 {
		t.Fatalf("DaemonFiles() len = %d, want 3", len(files))
	}
}
