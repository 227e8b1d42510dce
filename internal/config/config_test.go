package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath_Missing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("expected empty config, got nil")
	}
	if got := cfg.GetStatusInterval(); got != DefaultStatusInterval {
		t.Errorf("GetStatusInterval() = %v, want %v", got, DefaultStatusInterval)
	}
	if got := cfg.GetLogLevel(); got != DefaultLogLevel {
		t.Errorf("GetLogLevel() = %q, want %q", got, DefaultLogLevel)
	}
}

func TestLoadFromPath_Full(t *testing.T) {
	path := writeConfig(t, `
[daemon]
log_level = "debug"
status_interval = "2s"

[relay]
url = "wss://relay.example.com/ws/machine"

[agents.aider]
command = "/usr/local/bin/aider"
args = ["--yes-always"]
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.GetLogLevel() != "debug" {
		t.Errorf("log level = %q", cfg.GetLogLevel())
	}
	if cfg.GetStatusInterval() != 2*time.Second {
		t.Errorf("status interval = %v", cfg.GetStatusInterval())
	}
	if cfg.GetRelayURL() != "wss://relay.example.com/ws/machine" {
		t.Errorf("relay url = %q", cfg.GetRelayURL())
	}
	agent, ok := cfg.GetAgent("aider")
	if !ok {
		t.Fatal("expected aider override")
	}
	if agent.Command != "/usr/local/bin/aider" || len(agent.Args) != 1 {
		t.Errorf("agent = %+v", agent)
	}
	if _, ok := cfg.GetAgent("claude"); ok {
		t.Error("unexpected claude override")
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"bad log level", "[daemon]\nlog_level = \"loud\"\n", ErrInvalidLogLevel},
		{"bad interval", "[daemon]\nstatus_interval = \"soon\"\n", ErrInvalidStatusInterval},
		{"negative interval", "[daemon]\nstatus_interval = \"-1s\"\n", ErrInvalidStatusInterval},
		{"http relay", "[relay]\nurl = \"https://relay.example.com\"\n", ErrInvalidRelayURL},
		{"empty agent command", "[agents.aider]\nargs = [\"x\"]\n", ErrEmptyAgentCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadFromPath() error = %v, want %v", err, tt.wantErr)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestLoadFromPath_Malformed(t *testing.T) {
	_, err := LoadFromPath(writeConfig(t, "[daemon\n"))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNilConfigGetters(t *testing.T) {
	var cfg *Config
	if cfg.GetLogLevel() != DefaultLogLevel {
		t.Error("nil config should return default log level")
	}
	if cfg.GetStatusInterval() != DefaultStatusInterval {
		t.Error("nil config should return default interval")
	}
	if cfg.GetRelayURL() != "" {
		t.Error("nil config should have empty relay url")
	}
}
