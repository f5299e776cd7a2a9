package rolepolicy

import (
	"fmt"
	"sort"
	"strings"
)

// CapabilityID names one protected admin page or operation.
type CapabilityID string

const (
	CapUsers         CapabilityID = "users"
	CapBookings      CapabilityID = "bookings"
	CapOffices       CapabilityID = "offices"
	CapHosts         CapabilityID = "hosts"
	CapListings      CapabilityID = "listings"
	CapOffers        CapabilityID = "offers"
	CapForum         CapabilityID = "forum"
	CapCommissions   CapabilityID = "commissions"
	CapNotifications CapabilityID = "notifications"
	CapMarketing     CapabilityID = "marketing"
	CapReports       CapabilityID = "reports"
	CapSettings      CapabilityID = "settings"
	CapAudit         CapabilityID = "audit"
)

// RegistryVersion changes whenever the capability list below changes.
const RegistryVersion = 1

// Capability is a registry entry.
type Capability struct {
	ID    CapabilityID `json:"id" yaml:"id"`
	Label string       `json:"label" yaml:"label"`
}

// Registry is the single source of truth for capability ids. The permission
// resolver and any menu filtering read from the same instance.
type Registry struct {
	version int
	entries []Capability
	byID    map[CapabilityID]string
}

var defaultRegistry = newRegistry(RegistryVersion, []Capability{
	{CapUsers, "Users Management"},
	{CapBookings, "Bookings"},
	{CapOffices, "Offices"},
	{CapHosts, "Host Approvals"},
	{CapListings, "Listings"},
	{CapOffers, "Offers"},
	{CapForum, "Forum Moderation"},
	{CapCommissions, "Commissions"},
	{CapNotifications, "Notifications"},
	{CapMarketing, "Marketing"},
	{CapReports, "Reports"},
	{CapSettings, "Settings"},
	{CapAudit, "Audit Log"},
})

// DefaultRegistry returns the compiled-in registry.
func DefaultRegistry() *Registry { return defaultRegistry }

func newRegistry(version int, entries []Capability) *Registry {
	r := &Registry{version: version, entries: entries, byID: make(map[CapabilityID]string, len(entries))}
	for _, c := range entries {
		r.byID[c.ID] = c.Label
	}
	return r
}

func (r *Registry) Version() int { return r.version }

// Capabilities lists entries in menu order.
func (r *Registry) Capabilities() []Capability {
	out := make([]Capability, len(r.entries))
	copy(out, r.entries)
	return out
}

// All returns every registered id.
func (r *Registry) All() CapabilitySet {
	s := make(CapabilitySet, len(r.entries))
	for _, c := range r.entries {
		s[c.ID] = struct{}{}
	}
	return s
}

func (r *Registry) Exists(id CapabilityID) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) Label(id CapabilityID) string {
	return r.byID[id]
}

// Parse turns raw ids into a set, rejecting unknown or blank ids.
func (r *Registry) Parse(op Operation, ids []string) (CapabilitySet, error) {
	set := make(CapabilitySet, len(ids))
	for _, raw := range ids {
		id := CapabilityID(strings.TrimSpace(raw))
		if !r.Exists(id) {
			return nil, &ValidationError{Op: op, Field: "capabilities", Reason: fmt.Sprintf("unknown capability %q", raw)}
		}
		set[id] = struct{}{}
	}
	return set, nil
}

// Unknown returns the ids in s the registry does not know, sorted.
func (r *Registry) Unknown(s CapabilitySet) []CapabilityID {
	var out []CapabilityID
	for id := range s {
		if !r.Exists(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckPrincipal surfaces a limited admin whose capability set references ids
// outside the registry.
func (r *Registry) CheckPrincipal(p *Principal) error {
	unknown := r.Unknown(p.AllowedCapabilities())
	if len(unknown) == 0 {
		return nil
	}
	return &IntegrityError{PrincipalID: p.ID, Reason: fmt.Sprintf("unknown capabilities %v", unknown)}
}

// CapabilitySet is an unordered set of capability ids.
type CapabilitySet map[CapabilityID]struct{}

// NewCapabilitySet builds a set from ids.
func NewCapabilitySet(ids ...CapabilityID) CapabilitySet {
	s := make(CapabilitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(id CapabilityID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order for stable persistence and audit.
func (s CapabilitySet) Sorted() []CapabilityID {
	out := make([]CapabilityID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings is Sorted as plain strings.
func (s CapabilitySet) Strings() []string {
	ids := s.Sorted()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (s CapabilitySet) clone() CapabilitySet {
	if s == nil {
		return nil
	}
	c := make(CapabilitySet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s CapabilitySet) equal(o CapabilitySet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}
