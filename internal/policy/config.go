// Package policy loads the collaborator-owned enforcement configuration
// and evaluates a set of scanned artifact records against it. The
// evaluator is pure: no mutation, no I/O.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"attestor/internal/provenance"
)

// Config file candidates, resolved in order against the repository root.
var configNames = []string{".attestor.yml", "attestor.yml"}

// Enforcement holds the policy flags controlling certification checks.
type Enforcement struct {
	AIComposedRequiresHighScrutiny bool     `yaml:"ai_composed_requires_high_scrutiny"`
	MinCoverage                    *float64 `yaml:"min_coverage"`
	IgnoreUnannotated              bool     `yaml:"ignore_unannotated"`

	// AllowStaleReviewers lets reviewer entries that survived a reopen keep
	// earning coverage credit until the artifact is re-certified. Default
	// false: a reopened artifact counts as pending.
	AllowStaleReviewers bool `yaml:"allow_stale_reviewers"`
}

// AgentPermission bounds what one automated reviewer may do.
type AgentPermission struct {
	ID            string                   `yaml:"id"`
	MaxScrutiny   provenance.ScrutinyLevel `yaml:"max_scrutiny"`
	AllowFinalize bool                     `yaml:"allow_finalize"`
	Notes         string                   `yaml:"notes,omitempty"`
}

// AgentSettings configures the automated-reviewer integration.
type AgentSettings struct {
	Enabled             bool                     `yaml:"enabled"`
	AllowedIDs          []string                 `yaml:"allowed_ids"`
	AllowCoverageCredit bool                     `yaml:"allow_coverage_credit"`
	DefaultScrutiny     provenance.ScrutinyLevel `yaml:"default_scrutiny"`
	Reviewers           []AgentPermission        `yaml:"reviewers"`
}

// Integrations groups collaborator integration settings.
type Integrations struct {
	Agents AgentSettings `yaml:"agents"`
}

// Config is the aggregate policy read by the core.
type Config struct {
	Enforcement  Enforcement  `yaml:"enforcement"`
	Reviewers    []string     `yaml:"reviewers"`
	Integrations Integrations `yaml:"integrations"`
}

// Default returns the policy used when no config file exists.
func Default() *Config {
	return &Config{
		Enforcement: Enforcement{AIComposedRequiresHighScrutiny: true},
		Integrations: Integrations{
			Agents: AgentSettings{DefaultScrutiny: provenance.ScrutinyAuto},
		},
	}
}

// Load reads a policy file. An empty path resolves the default candidates
// under root; a missing file yields Default().
func Load(root, path string) (*Config, error) {
	if path == "" {
		for _, name := range configNames {
			candidate := filepath.Join(root, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if cfg.Integrations.Agents.DefaultScrutiny == "" {
		cfg.Integrations.Agents.DefaultScrutiny = provenance.ScrutinyAuto
	}
	for _, p := range cfg.Integrations.Agents.Reviewers {
		if p.MaxScrutiny != "" && !p.MaxScrutiny.Valid() {
			return nil, fmt.Errorf("policy: agent %s: invalid max_scrutiny %q", p.ID, p.MaxScrutiny)
		}
	}
	return cfg, nil
}

// KnownReviewer reports whether a human reviewer id may certify. An empty
// reviewers list accepts any identity.
func (c *Config) KnownReviewer(id string) bool {
	if len(c.Reviewers) == 0 {
		return true
	}
	for _, r := range c.Reviewers {
		if r == id {
			return true
		}
	}
	return false
}

// Permission resolves an agent id to its effective permission. Agents
// listed only in allowed_ids get a synthesized permission bounded by
// default_scrutiny with no finalize rights. Returns false when the
// integration is disabled or the id is unknown.
func (c *Config) Permission(agentID string) (AgentPermission, bool) {
	agents := c.Integrations.Agents
	if !agents.Enabled {
		return AgentPermission{}, false
	}
	for _, p := range agents.Reviewers {
		if p.ID == agentID {
			if p.MaxScrutiny == "" {
				p.MaxScrutiny = agents.DefaultScrutiny
			}
			return p, true
		}
	}
	for _, id := range agents.AllowedIDs {
		if id == agentID {
			return AgentPermission{ID: agentID, MaxScrutiny: agents.DefaultScrutiny}, true
		}
	}
	return AgentPermission{}, false
}
