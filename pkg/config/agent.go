package config

import "fmt"

// AgentDescriptorConfig defines one role-typed reasoning unit the
// orchestrator may assemble into a crew (spec.md §4.8).
type AgentDescriptorConfig struct {
	Role           string   `yaml:"role"`
	Goal           string   `yaml:"goal"`
	Backstory      string   `yaml:"backstory"`
	Tools          []string `yaml:"tools,omitempty"`
	MemoryEnabled  bool     `yaml:"memory_enabled,omitempty"`
	AllowDelegation bool    `yaml:"allow_delegation,omitempty"`
	MaxIterations  int      `yaml:"max_iter,omitempty"`
	RequiredPack   string   `yaml:"required_pack,omitempty"`
}

// SetDefaults fills reasonable defaults for an agent descriptor.
func (c *AgentDescriptorConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.Goal == "" {
		c.Goal = "Help the user with their question"
	}
}

// Validate checks an agent descriptor.
func (c *AgentDescriptorConfig) Validate() error {
	if c.Role == "" {
		return fmt.Errorf("role is required")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iter must be positive")
	}
	return nil
}

// TaskConfig describes one task template an agent can execute, matching
// the {agents, tasks} YAML contract in spec §6.
type TaskConfig struct {
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}
