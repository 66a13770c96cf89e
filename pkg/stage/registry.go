package stage

import (
	"log/slog"

	"github.com/forgepath/missionctl/pkg/mission"
	"github.com/forgepath/missionctl/pkg/registry"
)

// RestrictionOverride lets configuration replace a handler's built-in
// GetRestrictions() for a given stage, e.g. to loosen BUILDING's tool list
// or tighten PLANNING's write paths for a specific deployment.
type RestrictionOverride map[mission.Stage]Restrictions

// Registry maps stage names to their handlers, seeded with the six built-in
// stages. Lookups for an unknown stage fall back to PLANNING with a warning,
// matching the recovery behavior of a corrupted or hand-edited state file.
type Registry struct {
	base      *registry.BaseRegistry[Handler]
	overrides RestrictionOverride
}

// NewRegistry builds the registry with the six default stage handlers
// pre-registered under their canonical stage names.
func NewRegistry() *Registry {
	r := &Registry{
		base:      registry.NewBaseRegistry[Handler](),
		overrides: RestrictionOverride{},
	}

	for _, h := range []Handler{
		Planning{}, Building{}, Testing{}, Analyzing{}, CycleEnd{}, Complete{},
	} {
		if err := r.base.Register(string(h.StageName()), h); err != nil {
			slog.Error("failed to register default stage handler", "stage", h.StageName(), "error", err)
		}
	}

	return r
}

// SetOverride installs a configuration-provided restriction profile that
// takes precedence over the handler's own GetRestrictions() for stage.
func (r *Registry) SetOverride(s mission.Stage, restrictions Restrictions) {
	r.overrides[s] = restrictions
}

// Get returns the handler for s, falling back to PLANNING with a warning if
// s is not a recognized stage.
func (r *Registry) Get(s mission.Stage) Handler {
	if h, ok := r.base.Get(string(s)); ok {
		return h
	}

	slog.Warn("unknown stage, falling back to PLANNING", "stage", s)
	h, _ := r.base.Get(string(mission.StagePlanning))
	return h
}

// Restrictions returns the effective restrictions for s: a configured
// override if one is set, else the handler's own GetRestrictions().
func (r *Registry) Restrictions(s mission.Stage) Restrictions {
	if override, ok := r.overrides[s]; ok {
		return override
	}
	return r.Get(s).GetRestrictions()
}

// Register adds or replaces a handler under its own stage name, letting
// callers install a custom handler for an existing or new stage.
func (r *Registry) Register(h Handler) error {
	_ = r.base.Remove(string(h.StageName()))
	return r.base.Register(string(h.StageName()), h)
}

// Stages lists every handler currently registered.
func (r *Registry) Stages() []Handler {
	return r.base.List()
}
