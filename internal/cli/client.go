package cli

import (
	"context"

	"github.com/tessro/tether/internal/config"
	"github.com/tessro/tether/internal/daemon"
	"github.com/tessro/tether/internal/paths"
)

// socketPath is the path to the daemon socket (can be overridden for testing).
var socketPath string

// SetSocketPath overrides the default socket path.
// This is primarily useful for testing.
func SetSocketPath(path string) {
	socketPath = path
}

// getSocketPath returns the socket path to use.
func getSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return daemon.DefaultSocketPath()
}

// NewClient creates a daemon client with the configured socket path.
func NewClient() *daemon.Client {
	return daemon.NewClient(getSocketPath())
}

// newSupervisor returns a supervisor for the configured layout.
func newSupervisor() *daemon.Supervisor {
	layout := paths.Default()
	if socketPath != "" {
		layout.Socket = socketPath
	}
	return daemon.NewSupervisor(layout)
}

// loadConfig loads config.toml from the base directory.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// daemonSource feeds the status view: live state over the socket when the
// daemon answers, file-based state from the supervisor otherwise.
type daemonSource struct {
	client     *daemon.Client
	supervisor *daemon.Supervisor
}

func (s daemonSource) State(ctx context.Context) daemon.DaemonState {
	if st, err := s.client.Status(ctx); err == nil {
		return *st
	}
	return s.supervisor.Status()
}

func (s daemonSource) Sessions(ctx context.Context) []daemon.SessionInfo {
	return s.client.ListSessions(ctx)
}

func newDaemonSource() daemonSource {
	return daemonSource{client: NewClient(), supervisor: newSupervisor()}
}
