// Package permissions answers agent tool-permission requests from rules in
// permissions.toml files.
//
// Rules are read from the project's .tether/permissions.toml first and the
// global file in the tether base directory second. The first rule that
// matches with allow or deny decides; pass falls through to the next rule.
// When nothing decides, the request is left for a human.
package permissions

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Action is the outcome of a rule.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
	Pass  Action = "pass"
)

// AnyTool matches every tool name.
const AnyTool = "*"

// ProjectFile is the per-project rules file, relative to the project root.
const ProjectFile = ".tether/permissions.toml"

// Rule matches one tool invocation.
//
// Pattern and Patterns match the tool's primary input field (the command for
// Bash, the file path for Read/Write/Edit, and so on). A trailing ":*" makes
// a prefix match. Script names an executable that receives the tool name as
// its argument and the tool input on stdin, and prints allow, deny or pass.
type Rule struct {
	Tool     string   `toml:"tool"`
	Action   Action   `toml:"action"`
	Pattern  string   `toml:"pattern,omitempty"`
	Patterns []string `toml:"patterns,omitempty"`
	Script   string   `toml:"script,omitempty"`
}

// Policy is the contents of one permissions.toml.
type Policy struct {
	Rules []Rule `toml:"rules"`
}

// Load reads a policy from path. A missing file yields a nil policy.
func Load(path string) (*Policy, error) {
	var p Policy
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

// Validate checks every rule names a tool and a known action, and has a
// script or an action that does not need one.
func (p *Policy) Validate() error {
	for i, r := range p.Rules {
		if r.Tool == "" {
			return fmt.Errorf("rule %d: tool is required", i+1)
		}
		switch r.Action {
		case Allow, Deny, Pass:
		case "":
			if r.Script == "" {
				return fmt.Errorf("rule %d: action or script is required", i+1)
			}
		default:
			return fmt.Errorf("rule %d: unknown action %q", i+1, r.Action)
		}
	}
	return nil
}

// ProjectPath returns the rules file of the project rooted at dir.
func ProjectPath(dir string) string {
	return filepath.Join(dir, ProjectFile)
}
