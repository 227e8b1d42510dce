package daemon

import (
	"context"
	"fmt"
	"sort"

	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/logging"
)

// Handle implements Handler for the daemon's control socket. A panic while
// handling is recorded in the error state and answered as a failure.
func (p *Process) Handle(ctx context.Context, req *Request) (resp *Response) {
	defer logging.LogPanic("control-request", func(r any) {
		p.recordPanic(r)
		resp = Fail(fmt.Sprintf("internal error handling %s: %v", req.Type, r))
	})
	return p.handle(ctx, req)
}

func (p *Process) handle(ctx context.Context, req *Request) *Response {
	switch req.Type {
	case CmdPing:
		p.mu.Lock()
		pid := p.pid
		p.mu.Unlock()
		return OK(PingData{Pong: true, PID: pid})

	case CmdStatus:
		return OK(p.Snapshot())

	case CmdStop, CmdShutdown:
		return OK(map[string]bool{"stopping": true}).Then(p.Shutdown)

	case CmdListSessions:
		return OK(p.listSessions())

	case CmdStartSession:
		return p.handleStartSession(ctx, req)

	case CmdStopSession:
		if req.SessionID == "" {
			return Fail("sessionId is required")
		}
		if err := p.sessions.Stop(agent.SessionID(req.SessionID)); err != nil {
			return Fail(err.Error())
		}
		p.writeStatus()
		return OK(nil)

	case CmdSendMessage:
		if req.SessionID == "" {
			return Fail("sessionId is required")
		}
		if req.Message == "" {
			return Fail("message is required")
		}
		if err := p.sessions.Send(agent.SessionID(req.SessionID), req.Message); err != nil {
			return Fail(err.Error())
		}
		return OK(nil)

	default:
		return Fail(fmt.Sprintf("unknown command: %q", req.Type))
	}
}

func (p *Process) handleStartSession(ctx context.Context, req *Request) *Response {
	if req.AgentType == "" {
		return Fail("agentType is required")
	}
	if req.ProjectPath == "" {
		return Fail("projectPath is required")
	}

	p.mu.Lock()
	stopping := p.shuttingDown
	p.mu.Unlock()
	if stopping {
		return Fail("daemon is shutting down")
	}

	sess, err := p.sessions.Start(ctx, req.AgentType, req.ProjectPath, req.Prompt)
	if err != nil {
		return Fail(err.Error())
	}
	p.writeStatus()
	return OK(StartSessionData{SessionID: string(sess.ID), AgentType: sess.AgentType})
}

// listSessions returns the connected relay devices followed by local agent
// sessions, each group ordered by start time.
func (p *Process) listSessions() []SessionInfo {
	p.mu.Lock()
	conn := p.relay
	p.mu.Unlock()

	out := []SessionInfo{}
	if conn != nil {
		devices := conn.Devices()
		sort.SliceStable(devices, func(i, j int) bool {
			return devices[i].ConnectedAt.Before(devices[j].ConnectedAt)
		})
		for _, d := range devices {
			out = append(out, SessionInfo{
				ID:        d.ID,
				Kind:      SessionDevice,
				Name:      d.Name,
				Platform:  d.Platform,
				StartedAt: d.ConnectedAt,
			})
		}
	}
	for _, s := range p.sessions.List() {
		out = append(out, SessionInfo{
			ID:          string(s.ID),
			Kind:        SessionAgent,
			Name:        s.Backend.Name(),
			AgentType:   s.AgentType,
			ProjectPath: s.ProjectPath,
			State:       string(s.Backend.State()),
			StartedAt:   s.StartedAt,
		})
	}
	return out
}
