package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/tessro/tether/internal/logging"
)

// Validation errors.
var (
	ErrInvalidLogLevel       = errors.New("unknown log level")
	ErrInvalidStatusInterval = errors.New("status_interval must be a positive duration")
	ErrInvalidRelayURL       = errors.New("relay url must be a ws:// or wss:// URL")
	ErrEmptyAgentCommand     = errors.New("agent command cannot be empty")
)

// ValidationError wraps a validation error with context.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks every field of the config and returns the first problem found.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.Daemon.LogLevel) {
		return &ValidationError{
			Field:   "daemon.log_level",
			Value:   c.Daemon.LogLevel,
			Message: "must be debug, info, warn, or error",
			Err:     ErrInvalidLogLevel,
		}
	}

	if c.Daemon.StatusInterval != "" {
		d, err := time.ParseDuration(c.Daemon.StatusInterval)
		if err != nil || d <= 0 {
			return &ValidationError{
				Field:   "daemon.status_interval",
				Value:   c.Daemon.StatusInterval,
				Message: "must be a positive duration such as \"10s\"",
				Err:     ErrInvalidStatusInterval,
			}
		}
	}

	if err := ValidateRelayURL(c.Relay.URL); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Agents[name].Command == "" {
			return &ValidationError{
				Field:   "agents." + name + ".command",
				Message: "cannot be empty",
				Err:     ErrEmptyAgentCommand,
			}
		}
	}

	return nil
}

// ValidateRelayURL checks that raw is empty or a websocket URL.
func ValidateRelayURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return &ValidationError{
			Field:   "relay.url",
			Value:   raw,
			Message: "must use the ws or wss scheme",
			Err:     ErrInvalidRelayURL,
		}
	}
	return nil
}
