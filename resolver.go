package rolepolicy

import "github.com/oarkflow/rolepolicy/logger"

// Resolver answers capability checks from a principal's role state. A denial
// is an ordinary false, never an error.
type Resolver struct {
	registry *Registry
	logger   logger.Logger
}

func NewResolver(registry *Registry, l logger.Logger) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Resolver{registry: registry, logger: l}
}

// HasCapability is true for full admins, and for limited admins whose set
// contains id. Every other role holds no administrative capability.
func (r *Resolver) HasCapability(p *Principal, id CapabilityID) bool {
	if p == nil {
		return false
	}
	if !r.registry.Exists(id) {
		r.logger.Debug("capability check for unregistered id", "principal", p.ID, "capability", string(id))
		return false
	}
	admin, ok := p.role().(Admin)
	if !ok {
		return false
	}
	switch scope := admin.Scope.(type) {
	case FullScope:
		return true
	case LimitedScope:
		return scope.allows(id)
	}
	return false
}

// Visible lists the registry entries p may open, in menu order. Menu
// filtering and HasCapability share the same registry.
func (r *Resolver) Visible(p *Principal) []Capability {
	out := make([]Capability, 0)
	for _, c := range r.registry.Capabilities() {
		if r.HasCapability(p, c.ID) {
			out = append(out, c)
		}
	}
	return out
}
