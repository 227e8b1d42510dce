// Package builtin registers the agent types tether ships with.
package builtin

import (
	"github.com/tessro/tether/internal/agent"
	"github.com/tessro/tether/internal/agent/ephemeral"
	"github.com/tessro/tether/internal/agent/persistent"
	"github.com/tessro/tether/internal/config"
)

// Registry returns a registry holding every built-in agent type, with
// launch options taken from cfg's [agents.<type>] tables.
func Registry(cfg *config.Config) *agent.Registry {
	r := agent.NewRegistry()
	r.Register(ephemeral.AiderName, ephemeral.NewAider)
	r.Register(persistent.ClaudeName, persistent.NewClaude)

	for _, name := range r.Names() {
		if ac, ok := cfg.GetAgent(name); ok {
			r.Configure(name, agent.Options{Command: ac.Command, Args: ac.Args})
		}
	}
	return r
}
