// Package config provides configuration loading for the assistant: pack
// and tenant definitions, database/vector-store/embedder/LLM connections,
// agent descriptors, and server/logging/rate-limit settings. Config is
// YAML-first: operators edit files under a config directory and the
// runtime builds registries from them automatically.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure loaded at startup.
type Config struct {
	Name string `yaml:"name,omitempty"`

	Packs *PacksConfig `yaml:"packs,omitempty"`

	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`

	VectorStores map[string]*VectorStoreConfig `yaml:"vector_stores,omitempty"`

	Embedders map[string]*EmbedderConfig `yaml:"embedders,omitempty"`

	LLMs map[string]*LLMConfig `yaml:"llms,omitempty"`

	Agents map[string]*AgentDescriptorConfig `yaml:"agents,omitempty"`

	Tasks map[string]*TaskConfig `yaml:"tasks,omitempty"`

	Server *ServerConfig `yaml:"server,omitempty"`

	Logger *LoggerConfig `yaml:"logger,omitempty"`

	RateLimiting *RateLimitConfig `yaml:"rate_limiting,omitempty"`

	Escalation *EscalationRulesConfig `yaml:"escalation,omitempty"`

	// ConversationDatabase names the entry in Databases backing the
	// conversation store.
	ConversationDatabase string `yaml:"conversation_database,omitempty"`

	// HumanAgentDatabase names the entry in Databases backing the
	// human-agent registry. Defaults to ConversationDatabase when empty.
	HumanAgentDatabase string `yaml:"human_agent_database,omitempty"`
}

// EscalationRulesConfig carries the hot-swappable rule parameters for the
// escalation detector (spec.md §4.6).
type EscalationRulesConfig struct {
	FailedAttemptsThreshold int      `yaml:"failed_attempts_threshold,omitempty"`
	UrgentKeywords          []string `yaml:"urgent_keywords,omitempty"`
	ComplexQueryIndicators  []string `yaml:"complex_query_indicators,omitempty"`
	ExplicitHumanPhrases    []string `yaml:"explicit_human_phrases,omitempty"`
}

// SetDefaults fills in the module's default escalation rule parameters,
// matching the original implementation's French-language keyword set.
func (c *EscalationRulesConfig) SetDefaults() {
	if c.FailedAttemptsThreshold == 0 {
		c.FailedAttemptsThreshold = 3
	}
	if len(c.UrgentKeywords) == 0 {
		c.UrgentKeywords = []string{"urgent", "immédiat", "emergency", "bloqué", "problème grave"}
	}
	if len(c.ComplexQueryIndicators) == 0 {
		c.ComplexQueryIndicators = []string{"plusieurs", "complexe", "ne comprends pas", "confusion"}
	}
	if len(c.ExplicitHumanPhrases) == 0 {
		c.ExplicitHumanPhrases = []string{"agent humain", "conseiller", "responsable", "manager", "supervisor"}
	}
}

// SetDefaults initializes every nil section and cascades defaults down to
// each component's own SetDefaults.
func (c *Config) SetDefaults() {
	if c.Packs == nil {
		c.Packs = SeedMinimalConfig()
	} else {
		c.Packs.SetDefaults()
	}
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	if c.VectorStores == nil {
		c.VectorStores = make(map[string]*VectorStoreConfig)
	}
	if c.Embedders == nil {
		c.Embedders = make(map[string]*EmbedderConfig)
	}
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentDescriptorConfig)
	}
	if c.Tasks == nil {
		c.Tasks = make(map[string]*TaskConfig)
	}
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	c.Server.SetDefaults()

	if c.Logger == nil {
		c.Logger = &LoggerConfig{}
	}
	c.Logger.SetDefaults()

	if c.RateLimiting == nil {
		c.RateLimiting = &RateLimitConfig{}
	}
	c.RateLimiting.SetDefaults()

	if c.Escalation == nil {
		c.Escalation = &EscalationRulesConfig{}
	}
	c.Escalation.SetDefaults()

	for name, db := range c.Databases {
		if db == nil {
			c.Databases[name] = &DatabaseConfig{}
			db = c.Databases[name]
		}
		db.SetDefaults()
	}
	for name, vs := range c.VectorStores {
		if vs == nil {
			c.VectorStores[name] = &VectorStoreConfig{}
			vs = c.VectorStores[name]
		}
		vs.SetDefaults()
	}
	for name, em := range c.Embedders {
		if em == nil {
			c.Embedders[name] = &EmbedderConfig{}
			em = c.Embedders[name]
		}
		em.SetDefaults()
	}
	for name, llm := range c.LLMs {
		if llm == nil {
			c.LLMs[name] = &LLMConfig{}
			llm = c.LLMs[name]
		}
		llm.SetDefaults()
	}
	for name, ag := range c.Agents {
		if ag == nil {
			c.Agents[name] = &AgentDescriptorConfig{}
			ag = c.Agents[name]
		}
		ag.SetDefaults()
	}

	if c.HumanAgentDatabase == "" {
		c.HumanAgentDatabase = c.ConversationDatabase
	}
}

// Validate checks the configuration for errors, aggregating every failure
// it finds rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Packs != nil {
		if err := c.Packs.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("packs: %v", err))
		}
	}
	for name, db := range c.Databases {
		if db == nil {
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("database %q: %v", name, err))
		}
	}
	for name, vs := range c.VectorStores {
		if vs == nil {
			continue
		}
		if err := vs.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("vector_store %q: %v", name, err))
		}
	}
	for name, em := range c.Embedders {
		if em == nil {
			continue
		}
		if err := em.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("embedder %q: %v", name, err))
		}
	}
	for name, llm := range c.LLMs {
		if llm == nil {
			continue
		}
		if err := llm.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("llm %q: %v", name, err))
		}
	}
	for name, ag := range c.Agents {
		if ag == nil {
			continue
		}
		if err := ag.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("agent %q: %v", name, err))
		}
	}
	if c.Server != nil {
		if err := c.Server.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("server: %v", err))
		}
	}
	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("logger: %v", err))
		}
	}
	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("rate_limiting: %v", err))
		}
	}

	if c.ConversationDatabase != "" {
		if _, ok := c.Databases[c.ConversationDatabase]; !ok {
			errs = append(errs, fmt.Sprintf("conversation_database references undefined database %q", c.ConversationDatabase))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GetAgent returns the agent descriptor config by name.
func (c *Config) GetAgent(name string) (*AgentDescriptorConfig, bool) {
	ag, ok := c.Agents[name]
	return ag, ok
}

// GetDatabase returns the database config by name.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}
