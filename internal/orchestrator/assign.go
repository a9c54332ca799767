package orchestrator

import "github.com/nextlevelbuilder/webpilot/internal/agent"

// Target is one browser session missions can be assigned to.
type Target struct {
	Label string
	Tools agent.ToolExecutor
}

// Assignment binds mission Index to the session at position Session.
type Assignment struct {
	Index   int
	Session int
	Label   string
	Mission string
}

// Assign distributes missions round-robin: mission i goes to session i mod k.
// It returns nil when there are no targets.
func Assign(targets []Target, missions []string) []Assignment {
	if len(targets) == 0 {
		return nil
	}
	out := make([]Assignment, len(missions))
	for i, m := range missions {
		s := i % len(targets)
		out[i] = Assignment{
			Index:   i,
			Session: s,
			Label:   targets[s].Label,
			Mission: m,
		}
	}
	return out
}
