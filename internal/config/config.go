// Package config provides configuration loading and validation for tether.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tessro/tether/internal/paths"
)

// Config represents the optional tether configuration file.
type Config struct {
	// Daemon contains background daemon settings.
	Daemon DaemonConfig `toml:"daemon"`

	// Relay contains outbound relay connection settings.
	Relay RelayConfig `toml:"relay"`

	// Agents overrides the command line of agent backends, keyed by agent type.
	Agents map[string]AgentConfig `toml:"agents"`
}

// DaemonConfig contains daemon settings.
type DaemonConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`

	// StatusInterval is how often the status file is rewritten (e.g. "10s").
	StatusInterval string `toml:"status_interval"`
}

// RelayConfig contains relay connection settings.
type RelayConfig struct {
	// URL is used when the credentials file does not name a relay.
	URL string `toml:"url"`
}

// AgentConfig overrides how an agent CLI is launched.
type AgentConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// DefaultStatusInterval is how often the daemon rewrites its status file.
const DefaultStatusInterval = 10 * time.Second

// DefaultLogLevel is the daemon log level when none is configured.
const DefaultLogLevel = "info"

// Load loads the config from the default path.
// A missing file yields an empty config, not an error.
func Load() (*Config, error) {
	return LoadFromPath(paths.ConfigPath())
}

// LoadFromPath loads and validates the config at path.
// A missing file yields an empty config, not an error.
func LoadFromPath(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetLogLevel returns the configured log level or the default.
func (c *Config) GetLogLevel() string {
	if c != nil && c.Daemon.LogLevel != "" {
		return c.Daemon.LogLevel
	}
	return DefaultLogLevel
}

// GetStatusInterval returns the configured status interval or the default.
func (c *Config) GetStatusInterval() time.Duration {
	if c == nil || c.Daemon.StatusInterval == "" {
		return DefaultStatusInterval
	}
	d, err := time.ParseDuration(c.Daemon.StatusInterval)
	if err != nil || d <= 0 {
		return DefaultStatusInterval
	}
	return d
}

// GetRelayURL returns the configured relay URL, or "" if unset.
func (c *Config) GetRelayURL() string {
	if c == nil {
		return ""
	}
	return c.Relay.URL
}

// GetAgent returns the override for agentType, if any.
func (c *Config) GetAgent(agentType string) (AgentConfig, bool) {
	if c == nil || c.Agents == nil {
		return AgentConfig{}, false
	}
	a, ok := c.Agents[agentType]
	return a, ok
}
