// Package pack implements the tenant capability resolver (spec.md §4.1):
// tenant -> pack -> {features, agents, tools, channels, limits,
// automation_level} resolution with base-pack inheritance. Resolution is a
// pure function of (tenant, application) against the currently loaded
// configuration, so results are safe to cache; Reload performs an atomic
// swap so no in-flight reader ever observes a half-updated configuration.
package pack

import (
	"sync"
	"sync/atomic"

	"github.com/Kadsuke/assistant-axelis/pkg/config"
)

// DefaultPackID is returned by PackOf when a tenant or field is missing.
const DefaultPackID = "basic"

// DefaultAutomationLevel is used when an app pack declares none.
const DefaultAutomationLevel = 30

// Resolved is the fully merged capability set for one (tenant, application)
// pair — the product of inheritance resolution.
type Resolved struct {
	PackID          string
	Features        map[string]struct{}
	Agents          []string
	Tools           map[string]struct{}
	Channels        []string
	AutomationLevel int
	Limits          map[string]int64
}

// HasFeature reports whether the resolved pack grants feature.
func (r *Resolved) HasFeature(feature string) bool {
	_, ok := r.Features[feature]
	return ok
}

// HasAgent reports whether the resolved pack authorizes agent.
func (r *Resolved) HasAgent(agent string) bool {
	for _, a := range r.Agents {
		if a == agent {
			return true
		}
	}
	return false
}

// HasTool reports whether the resolved pack authorizes tool.
func (r *Resolved) HasTool(tool string) bool {
	_, ok := r.Tools[tool]
	return ok
}

// internalState is swapped atomically on Reload.
type internalState struct {
	cfg   *config.PacksConfig
	cache sync.Map // key: application+"\x00"+tenant -> *Resolved
}

// Resolver is the capability resolver. Zero value is not usable; build one
// with New.
type Resolver struct {
	state atomic.Pointer[internalState]
}

// New builds a Resolver seeded with cfg. A nil cfg seeds a minimal
// configuration so the resolver never fails to boot (spec §4.1: PackOf
// "never fails").
func New(cfg *config.PacksConfig) *Resolver {
	if cfg == nil {
		cfg = config.SeedMinimalConfig()
	}
	r := &Resolver{}
	r.state.Store(&internalState{cfg: cfg})
	return r
}

// Reload atomically swaps in a new configuration and drops all cached
// resolutions. In-flight readers holding the previous *internalState keep
// using it to completion; new calls see the new one.
func (r *Resolver) Reload(cfg *config.PacksConfig) {
	if cfg == nil {
		cfg = config.SeedMinimalConfig()
	}
	r.state.Store(&internalState{cfg: cfg})
}

// PackOf returns the pack id the tenant subscribes to for application.
// Never fails: an unknown tenant, application, or missing subscription all
// resolve to DefaultPackID.
func (r *Resolver) PackOf(tenantID, application string) string {
	st := r.state.Load()
	tenant, ok := st.cfg.Tenants[tenantID]
	if !ok || tenant == nil {
		return DefaultPackID
	}
	sub, ok := tenant.Applications[application]
	if !ok || sub == nil || !sub.Active || sub.PackSouscrit == "" {
		return DefaultPackID
	}
	return sub.PackSouscrit
}

// Resolve returns the fully merged capability set for (tenantID,
// application), resolving and caching on first access. Resolution is pure
// and idempotent: calling Resolve again for the same state returns an
// equivalent value (invariant 1 in spec §8).
func (r *Resolver) Resolve(tenantID, application string) *Resolved {
	st := r.state.Load()

	cacheKey := application + "\x00" + tenantID
	if cached, ok := st.cache.Load(cacheKey); ok {
		return cached.(*Resolved)
	}

	packID := r.packOfFromState(st, tenantID, application)
	resolved := resolvePack(st.cfg, application, packID)

	st.cache.Store(cacheKey, resolved)
	return resolved
}

func (r *Resolver) packOfFromState(st *internalState, tenantID, application string) string {
	tenant, ok := st.cfg.Tenants[tenantID]
	if !ok || tenant == nil {
		return DefaultPackID
	}
	sub, ok := tenant.Applications[application]
	if !ok || sub == nil || !sub.Active || sub.PackSouscrit == "" {
		return DefaultPackID
	}
	return sub.PackSouscrit
}

// resolvePack performs the inheritance merge: union over each inherited
// base pack in declaration order, then the app pack itself, with the app
// pack's own AutomationLevel winning over any default.
func resolvePack(cfg *config.PacksConfig, application, packID string) *Resolved {
	resolved := &Resolved{
		PackID:          packID,
		Features:        map[string]struct{}{},
		Tools:           map[string]struct{}{},
		Limits:          map[string]int64{},
		AutomationLevel: DefaultAutomationLevel,
	}

	byApp := cfg.AppPacks[application]
	appPack, ok := byApp[packID]
	if !ok || appPack == nil {
		// Unknown pack: behave as an empty "basic" grant rather than
		// failing the whole turn.
		if basic, ok := byApp[DefaultPackID]; ok {
			appPack = basic
		} else {
			return resolved
		}
	}

	for _, baseName := range appPack.InheritsBase {
		base, ok := cfg.BasePacks[baseName]
		if !ok || base == nil {
			continue
		}
		mergeSet(resolved.Features, base.Features)
		mergeSet(resolved.Tools, base.Tools)
		resolved.Agents = appendUnique(resolved.Agents, base.Agents...)
		for k, v := range base.Limits {
			resolved.Limits[k] = v
		}
	}

	mergeSet(resolved.Features, appPack.Features)
	mergeSet(resolved.Tools, appPack.Tools)
	resolved.Agents = appendUnique(resolved.Agents, appPack.Agents...)
	resolved.Channels = appPack.Channels
	for k, v := range appPack.Limits {
		resolved.Limits[k] = v
	}
	if appPack.AutomationLevel != nil {
		resolved.AutomationLevel = *appPack.AutomationLevel
	}

	return resolved
}

func mergeSet(dst map[string]struct{}, items []string) {
	for _, item := range items {
		dst[item] = struct{}{}
	}
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, d := range dst {
		seen[d] = struct{}{}
	}
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		dst = append(dst, item)
	}
	return dst
}

// AllowFeature reports whether the tenant's resolved pack grants feature.
func (r *Resolver) AllowFeature(tenantID, application, feature string) bool {
	return r.Resolve(tenantID, application).HasFeature(feature)
}

// AllowAgent reports whether the tenant's resolved pack authorizes agent.
func (r *Resolver) AllowAgent(tenantID, application, agent string) bool {
	return r.Resolve(tenantID, application).HasAgent(agent)
}

// WithinQuota reports whether current usage of resource is within the
// tenant's resolved limit. Resources without a declared limit are always
// within quota, and an inability to evaluate fails open (original
// implementation's validate_usage: "Permettre par défaut en cas
// d'erreur") — this resolver never errors, so that degenerates to "no
// declared limit" naturally, but the fail-open contract is preserved for
// callers that wrap this in their own try/recover.
func (r *Resolver) WithinQuota(tenantID, application, resource string, current int64) bool {
	limit, ok := r.Resolve(tenantID, application).Limits[resource]
	if !ok {
		return true
	}
	return current <= limit
}

// Stats reports counts useful for /health and /metrics (original
// implementation's get_statistics).
type Stats struct {
	BasePackCount     int
	ApplicationCount  int
	TotalAppPackCount int
	CachedResolutions int
	Applications      []string
}

// Stats returns a snapshot of the resolver's current configuration size
// and cache occupancy.
func (r *Resolver) Stats() Stats {
	st := r.state.Load()

	stats := Stats{
		BasePackCount:    len(st.cfg.BasePacks),
		ApplicationCount: len(st.cfg.AppPacks),
	}
	for app, packs := range st.cfg.AppPacks {
		stats.Applications = append(stats.Applications, app)
		stats.TotalAppPackCount += len(packs)
	}
	st.cache.Range(func(_, _ any) bool {
		stats.CachedResolutions++
		return true
	})
	return stats
}
