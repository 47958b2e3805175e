package registry

import "github.com/12Particles/pivosync/internal/execution"

// DefaultProfiles returns the built-in agent catalog.
func DefaultProfiles() []*AgentProfile {
	return []*AgentProfile{
		{
			Kind:        execution.AgentClaude,
			Name:        "Claude Code",
			Description: "Anthropic's CLI coding agent",
			Resumable:   true,
			Enabled:     true,
		},
		{
			Kind:        execution.AgentGemini,
			Name:        "Gemini CLI",
			Description: "Google's CLI coding agent",
			Resumable:   false,
			Enabled:     true,
		},
		{
			Kind:        execution.AgentCodex,
			Name:        "Codex CLI",
			Description: "OpenAI's CLI coding agent",
			Resumable:   true,
			Enabled:     true,
		},
		{
			Kind:        execution.AgentAmp,
			Name:        "Amp",
			Description: "Sourcegraph's coding agent",
			Resumable:   false,
			Enabled:     false,
		},
	}
}
