// Package registry provides the catalog of coding agents an execution can run.
package registry

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/12Particles/pivosync/internal/execution"
)

// AgentProfile describes one coding agent kind.
type AgentProfile struct {
	Kind        execution.AgentKind `yaml:"kind" json:"kind"`
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	// Resumable indicates the agent supports resuming a previous session
	// via a resume token.
	Resumable bool `yaml:"resumable" json:"resumable"`
	Enabled   bool `yaml:"enabled" json:"enabled"`
}

// Registry holds the known agent profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[execution.AgentKind]*AgentProfile
}

// New creates a registry seeded with the default profiles, optionally
// overridden by a YAML catalog file.
func New(catalogPath string) (*Registry, error) {
	r := &Registry{profiles: make(map[execution.AgentKind]*AgentProfile)}
	for _, p := range DefaultProfiles() {
		r.profiles[p.Kind] = p
	}

	if catalogPath != "" {
		if err := r.loadCatalog(catalogPath); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// loadCatalog merges profiles from a YAML file over the defaults.
func (r *Registry) loadCatalog(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agent catalog: %w", err)
	}

	var catalog struct {
		Agents []*AgentProfile `yaml:"agents"`
	}
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("failed to parse agent catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range catalog.Agents {
		if p.Kind == "" {
			return fmt.Errorf("agent catalog entry missing kind")
		}
		r.profiles[p.Kind] = p
	}
	return nil
}

// Get returns the profile for an agent kind.
func (r *Registry) Get(kind execution.AgentKind) (*AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[kind]
	return p, ok
}

// IsEnabled reports whether an agent kind is known and enabled.
func (r *Registry) IsEnabled(kind execution.AgentKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[kind]
	return ok && p.Enabled
}

// List returns all profiles.
func (r *Registry) List() []*AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*AgentProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		result = append(result, p)
	}
	return result
}
