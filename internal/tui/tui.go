// Package tui provides the Bubbletea status view behind "tether status --watch".
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tether/internal/daemon"
)

// refreshTimeout bounds one refresh of the view's data.
const refreshTimeout = 3 * time.Second

// Source supplies the daemon state and sessions shown by the view.
type Source interface {
	State(ctx context.Context) daemon.DaemonState
	Sessions(ctx context.Context) []daemon.SessionInfo
}

// snapshotMsg carries freshly fetched data.
type snapshotMsg struct {
	state    daemon.DaemonState
	sessions []daemon.SessionInfo
}

// Model is the Bubbletea model of the status view.
type Model struct {
	width  int
	height int

	source  Source
	changes <-chan any

	state    daemon.DaemonState
	sessions []daemon.SessionInfo
	loaded   bool

	spinner spinner.Model
	keys    KeyBindings
	header  Header
	list    SessionList
	helpBar HelpBar
}

// New creates a status view reading from source. changes may be nil, in
// which case the view only refreshes on demand.
func New(source Source, changes <-chan any) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(warningColor)

	keys := DefaultKeyBindings()
	return Model{
		source:  source,
		changes: changes,
		spinner: sp,
		keys:    keys,
		header:  NewHeader(),
		list:    NewSessionList(),
		helpBar: NewHelpBar(keys),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.waitForChange())
}

// refresh fetches the daemon state and sessions.
func (m Model) refresh() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		st := source.State(ctx)
		var sessions []daemon.SessionInfo
		if st.Running {
			sessions = source.Sessions(ctx)
		}
		return snapshotMsg{state: st, sessions: sessions}
	}
}

// waitForChange blocks until the status watcher reports something.
func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes := m.changes
	return func() tea.Msg {
		msg, ok := <-changes
		if !ok {
			return nil
		}
		return msg
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.header.SetWidth(msg.Width)
		m.list.SetWidth(msg.Width)
		m.helpBar.SetWidth(msg.Width)
		return m, nil

	case snapshotMsg:
		m.loaded = true
		m.state = msg.state
		m.sessions = msg.sessions
		m.header.SetState(msg.state)
		m.list.SetSessions(msg.sessions)
		if msg.state.ErrorMessage != "" {
			m.helpBar.SetError(msg.state.ErrorMessage)
		} else {
			m.helpBar.ClearError()
		}
		return m, nil

	case StatusChangedMsg:
		return m, tea.Batch(m.refresh(), m.waitForChange())

	case watchErrMsg:
		m.helpBar.SetError(fmt.Sprintf("watch status file: %v", msg.err))
		return m, m.waitForChange()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.header.SetSpinner(m.spinner.View())
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.loaded {
		return m.spinner.View() + " loading daemon status..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header.View(),
		m.list.View(),
		m.helpBar.View(),
	)
}

// State returns the last daemon state the view received.
func (m Model) State() daemon.DaemonState {
	return m.state
}

// Run runs the status view until the user quits or ctx is cancelled.
func Run(ctx context.Context, source Source, statusPath string) error {
	watcher, err := WatchStatus(statusPath)
	if err != nil {
		return err
	}
	defer watcher.Close()

	p := tea.NewProgram(New(source, watcher.Changes()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run status view: %w", err)
	}
	return nil
}
