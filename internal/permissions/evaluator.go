package permissions

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tessro/tether/internal/agent"
)

// Evaluator decides permission requests. Policies are cached per file and
// reloaded when the file's modification time changes.
type Evaluator struct {
	global string

	mu sync.Mutex
	// +checklocks:mu
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	policy  *Policy
	modTime time.Time
}

// NewEvaluator returns an evaluator whose global rules live at globalPath.
func NewEvaluator(globalPath string) *Evaluator {
	return &Evaluator{
		global: globalPath,
		cache:  make(map[string]cachedPolicy),
	}
}

// Evaluate returns the action for tool called with input inside the project
// at root. root may be empty, in which case only global rules apply and
// project-anchored patterns are not rewritten.
func (e *Evaluator) Evaluate(ctx context.Context, root, tool string, input json.RawMessage) (Action, error) {
	var rules []Rule
	files := []string{e.global}
	if root != "" {
		files = []string{ProjectPath(root), e.global}
	}
	for _, path := range files {
		p, err := e.load(path)
		if err != nil {
			return Pass, err
		}
		if p != nil {
			rules = append(rules, p.Rules...)
		}
	}

	value := PrimaryField(tool, input)
	for _, r := range rules {
		if r.Tool != tool && r.Tool != AnyTool {
			continue
		}
		if r.Script != "" {
			action, err := runScript(ctx, r.Script, root, tool, input)
			if err != nil {
				slog.Warn("permission script failed", "script", r.Script, "tool", tool, "error", err)
				continue
			}
			if action != Pass {
				return action, nil
			}
			continue
		}
		if !r.matches(value, root) || r.Action == Pass {
			continue
		}
		return r.Action, nil
	}
	return Pass, nil
}

func (r Rule) matches(value, root string) bool {
	if r.Pattern == "" && len(r.Patterns) == 0 {
		return true
	}
	if r.Pattern != "" && Match(Rewrite(r.Pattern, root), value) {
		return true
	}
	for _, pattern := range r.Patterns {
		if Match(Rewrite(pattern, root), value) {
			return true
		}
	}
	return false
}

// Decide adapts Evaluate to agent.Decider. Errors and Pass leave the request
// undecided.
func (e *Evaluator) Decide(ctx context.Context, projectPath string, m agent.Message) (approved, decided bool) {
	action, err := e.Evaluate(ctx, projectPath, m.Tool, m.Input)
	if err != nil {
		slog.Warn("permission rules unreadable", "error", err)
		return false, false
	}
	switch action {
	case Allow:
		return true, true
	case Deny:
		return false, true
	}
	return false, false
}

func (e *Evaluator) load(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	e.mu.Lock()
	c, ok := e.cache[path]
	e.mu.Unlock()
	if ok && c.modTime.Equal(info.ModTime()) {
		return c.policy, nil
	}

	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[path] = cachedPolicy{policy: p, modTime: info.ModTime()}
	e.mu.Unlock()
	slog.Debug("loaded permission rules", "path", path, "rules", ruleCount(p))
	return p, nil
}

func ruleCount(p *Policy) int {
	if p == nil {
		return 0
	}
	return len(p.Rules)
}
