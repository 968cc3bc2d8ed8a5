package config

import "fmt"

// BasePackConfig is an inheritable bundle of features/agents/tools/limits
// that application packs can build on (spec.md §3 "Pack").
type BasePackConfig struct {
	Features []string         `yaml:"features,omitempty"`
	Agents   []string         `yaml:"agents,omitempty"`
	Tools    []string         `yaml:"tools,omitempty"`
	Limits   map[string]int64 `yaml:"limits,omitempty"`
}

// AppPackConfig is a per-application pack definition. It may inherit from
// zero or more base packs; set fields union, scalar fields (AutomationLevel)
// are last-writer-wins across the inheritance chain, app pack wins last.
type AppPackConfig struct {
	InheritsBase     []string         `yaml:"inherits_base,omitempty"`
	Features         []string         `yaml:"features,omitempty"`
	Agents           []string         `yaml:"agents,omitempty"`
	Tools            []string         `yaml:"tools,omitempty"`
	Channels         []string         `yaml:"channels,omitempty"`
	Limits           map[string]int64 `yaml:"limits,omitempty"`
	AutomationLevel  *int             `yaml:"automation_level,omitempty"`
}

// SetDefaults applies defaults to an app pack.
func (c *AppPackConfig) SetDefaults() {
	if c.Limits == nil {
		c.Limits = make(map[string]int64)
	}
}

// Validate checks an app pack definition.
func (c *AppPackConfig) Validate() error {
	if c.AutomationLevel != nil && (*c.AutomationLevel < 0 || *c.AutomationLevel > 100) {
		return fmt.Errorf("automation_level must be within [0,100]")
	}
	return nil
}

// ApplicationSubscription records which pack a tenant subscribes to for one
// application, plus the knowledge/external database refs bound to it.
type ApplicationSubscription struct {
	Active        bool              `yaml:"active"`
	PackSouscrit  string            `yaml:"pack_souscrit"`
	KnowledgeBase map[string]string `yaml:"knowledge_base,omitempty"`
	Databases     map[string]string `yaml:"databases,omitempty"`
}

// TenantConfig is a "Filiale" — a country-level deployment of the product,
// with one pack subscription per application.
type TenantConfig struct {
	ID           string                              `yaml:"id"`
	Name         string                              `yaml:"name"`
	Applications map[string]*ApplicationSubscription `yaml:"applications,omitempty"`
}

// SetDefaults ensures map fields are non-nil.
func (c *TenantConfig) SetDefaults() {
	if c.Applications == nil {
		c.Applications = make(map[string]*ApplicationSubscription)
	}
}

// Validate checks that the tenant declares an ID.
func (c *TenantConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("tenant id is required")
	}
	return nil
}

// PacksConfig is the root of the pack/tenant configuration tree, loaded
// from base_packs.yaml / <app>_packs.yaml / tenants.yaml per spec §6.
type PacksConfig struct {
	BasePacks map[string]*BasePackConfig          `yaml:"base_packs,omitempty"`
	AppPacks  map[string]map[string]*AppPackConfig `yaml:"app_packs,omitempty"` // application -> pack name -> def
	Tenants   map[string]*TenantConfig             `yaml:"tenants,omitempty"`
}

// SetDefaults fills in empty maps so lookups never need nil checks.
func (c *PacksConfig) SetDefaults() {
	if c.BasePacks == nil {
		c.BasePacks = make(map[string]*BasePackConfig)
	}
	if c.AppPacks == nil {
		c.AppPacks = make(map[string]map[string]*AppPackConfig)
	}
	if c.Tenants == nil {
		c.Tenants = make(map[string]*TenantConfig)
	}
	for _, byApp := range c.AppPacks {
		for _, pack := range byApp {
			pack.SetDefaults()
		}
	}
	for _, t := range c.Tenants {
		t.SetDefaults()
	}
}

// Validate checks that every app pack's base-pack references exist.
func (c *PacksConfig) Validate() error {
	for app, byApp := range c.AppPacks {
		for name, pack := range byApp {
			if err := pack.Validate(); err != nil {
				return fmt.Errorf("pack %s/%s: %w", app, name, err)
			}
			for _, base := range pack.InheritsBase {
				if _, ok := c.BasePacks[base]; !ok {
					return fmt.Errorf("pack %s/%s inherits undefined base pack %q", app, name, base)
				}
			}
		}
	}
	for id, t := range c.Tenants {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
	}
	return nil
}

// SeedMinimalConfig returns a small in-memory pack/tenant tree sufficient
// to boot the resolver without any YAML on disk: one base pack, one
// application's basic/advanced/premium packs, and no tenants (tenants
// absent from the tree fall back to "basic" per spec §4.1).
func SeedMinimalConfig() *PacksConfig {
	automationBasic, automationAdvanced, automationPremium := 30, 70, 95
	cfg := &PacksConfig{
		BasePacks: map[string]*BasePackConfig{
			"base": {
				Features: []string{"basic_chat"},
				Agents:   []string{"general_assistant"},
				Tools:    []string{},
				Limits:   map[string]int64{"tokens_per_day": 1000},
			},
		},
		AppPacks: map[string]map[string]*AppPackConfig{
			"coris_money": {
				"basic": {
					InheritsBase:    []string{"base"},
					Features:        []string{"balance_inquiry", "faq"},
					Agents:          []string{"general_assistant"},
					Channels:        []string{"mobile"},
					AutomationLevel: &automationBasic,
				},
				"advanced": {
					InheritsBase:    []string{"base"},
					Features:        []string{"balance_inquiry", "faq", "transfer", "complaints"},
					Agents:          []string{"general_assistant", "operations_specialist"},
					Channels:        []string{"mobile", "web"},
					AutomationLevel: &automationAdvanced,
				},
				"premium": {
					InheritsBase:    []string{"base"},
					Features:        []string{"balance_inquiry", "faq", "transfer", "complaints", "investment_advice"},
					Agents:          []string{"general_assistant", "operations_specialist", "commercial_specialist"},
					Channels:        []string{"mobile", "web", "branch"},
					AutomationLevel: &automationPremium,
				},
			},
		},
		Tenants: map[string]*TenantConfig{},
	}
	cfg.SetDefaults()
	return cfg
}
