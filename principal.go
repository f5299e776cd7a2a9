package rolepolicy

import (
	"fmt"
	"time"
)

// RoleKind is the flat name of a principal's primary role.
type RoleKind string

const (
	RoleOrdinary      RoleKind = "ordinary"
	RoleAdmin         RoleKind = "admin"
	RoleOfficeManager RoleKind = "office_manager"
	RoleMarketingUser RoleKind = "marketing_user"
)

// ScopeKind is the flat admin scope. ScopeNone for non-admins.
type ScopeKind string

const (
	ScopeNone    ScopeKind = ""
	ScopeFull    ScopeKind = "full"
	ScopeLimited ScopeKind = "limited"
)

// HostClassification is derived from host approval and office linkage.
type HostClassification string

const (
	HostNone         HostClassification = "none"
	HostFreelance    HostClassification = "freelance"
	HostOfficeLinked HostClassification = "office_linked"
)

// Role is the closed set of primary roles. Host approval lives inside the
// variants that may carry it, so an admin or marketing user that is also a
// host cannot be constructed.
type Role interface {
	Kind() RoleKind
	isRole()
}

// HostApproval is the selling right of an ordinary principal. OfficeID is set
// when the host is routed through an office.
type HostApproval struct {
	City     string
	OfficeID string
}

type Ordinary struct {
	Host *HostApproval
}

type Admin struct {
	Scope AdminScope
}

// OfficeManager manages OfficeID. A non-nil Host means the manager is also an
// approved host, always linked to the managed office.
type OfficeManager struct {
	OfficeID string
	Host     *ManagedHost
}

// ManagedHost is host approval held by an office manager.
type ManagedHost struct {
	City string
}

type MarketingUser struct{}

func (Ordinary) Kind() RoleKind      { return RoleOrdinary }
func (Admin) Kind() RoleKind         { return RoleAdmin }
func (OfficeManager) Kind() RoleKind { return RoleOfficeManager }
func (MarketingUser) Kind() RoleKind { return RoleMarketingUser }

func (Ordinary) isRole()      {}
func (Admin) isRole()         {}
func (OfficeManager) isRole() {}
func (MarketingUser) isRole() {}

// AdminScope is either FullScope or a LimitedScope.
type AdminScope interface {
	Kind() ScopeKind
	isScope()
}

type FullScope struct{}

// LimitedScope holds a non-empty capability set. Build it with NewLimitedScope.
type LimitedScope struct {
	caps CapabilitySet
}

func (FullScope) Kind() ScopeKind    { return ScopeFull }
func (LimitedScope) Kind() ScopeKind { return ScopeLimited }
func (FullScope) isScope()           {}
func (LimitedScope) isScope()        {}

// NewLimitedScope copies caps; an empty set is rejected.
func NewLimitedScope(caps CapabilitySet) (LimitedScope, error) {
	if len(caps) == 0 {
		return LimitedScope{}, fmt.Errorf("limited scope needs at least one capability")
	}
	return LimitedScope{caps: caps.clone()}, nil
}

// Capabilities returns a copy of the allowed set.
func (s LimitedScope) Capabilities() CapabilitySet { return s.caps.clone() }

func (s LimitedScope) allows(id CapabilityID) bool { return s.caps.Has(id) }

// Principal is one user account subject to role and permission state.
type Principal struct {
	ID        string
	Email     string
	Role      Role
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPrincipal returns an ordinary, non-host principal.
func NewPrincipal(id, email string) *Principal {
	return &Principal{ID: id, Email: email, Role: Ordinary{}}
}

func (p *Principal) role() Role {
	if p.Role == nil {
		return Ordinary{}
	}
	return p.Role
}

func (p *Principal) PrimaryRole() RoleKind { return p.role().Kind() }

func (p *Principal) AdminScope() ScopeKind {
	if a, ok := p.role().(Admin); ok && a.Scope != nil {
		return a.Scope.Kind()
	}
	return ScopeNone
}

// AllowedCapabilities is non-nil only for limited admins.
func (p *Principal) AllowedCapabilities() CapabilitySet {
	if a, ok := p.role().(Admin); ok {
		if ls, ok := a.Scope.(LimitedScope); ok {
			return ls.Capabilities()
		}
	}
	return nil
}

func (p *Principal) HostApproved() bool {
	switch r := p.role().(type) {
	case Ordinary:
		return r.Host != nil
	case OfficeManager:
		return r.Host != nil
	}
	return false
}

func (p *Principal) HostClassification() HostClassification {
	if !p.HostApproved() {
		return HostNone
	}
	if p.OfficeAssociationID() != "" {
		return HostOfficeLinked
	}
	return HostFreelance
}

func (p *Principal) OfficeAssociationID() string {
	switch r := p.role().(type) {
	case Ordinary:
		if r.Host != nil {
			return r.Host.OfficeID
		}
	case OfficeManager:
		return r.OfficeID
	}
	return ""
}

func (p *Principal) CityAssignment() string {
	switch r := p.role().(type) {
	case Ordinary:
		if r.Host != nil {
			return r.Host.City
		}
	case OfficeManager:
		if r.Host != nil {
			return r.Host.City
		}
	}
	return ""
}

// Clone returns a deep copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	switch r := p.role().(type) {
	case Ordinary:
		if r.Host != nil {
			h := *r.Host
			c.Role = Ordinary{Host: &h}
		}
	case OfficeManager:
		if r.Host != nil {
			h := *r.Host
			c.Role = OfficeManager{OfficeID: r.OfficeID, Host: &h}
		}
	case Admin:
		if ls, ok := r.Scope.(LimitedScope); ok {
			c.Role = Admin{Scope: LimitedScope{caps: ls.caps.clone()}}
		}
	}
	return &c
}

// SameState reports whether two principals hold identical role state.
// Identity, version and timestamps are ignored.
func (p *Principal) SameState(o *Principal) bool {
	return p.PrimaryRole() == o.PrimaryRole() &&
		p.AdminScope() == o.AdminScope() &&
		p.AllowedCapabilities().equal(o.AllowedCapabilities()) &&
		p.HostApproved() == o.HostApproved() &&
		p.OfficeAssociationID() == o.OfficeAssociationID() &&
		p.CityAssignment() == o.CityAssignment()
}

// PrincipalRecord is the flat document shape of a principal, used by stores,
// config seeding and audit payloads.
type PrincipalRecord struct {
	ID                  string             `json:"id" yaml:"id"`
	Email               string             `json:"email" yaml:"email"`
	PrimaryRole         RoleKind           `json:"primary_role" yaml:"primary_role"`
	AdminScope          ScopeKind          `json:"admin_scope,omitempty" yaml:"admin_scope,omitempty"`
	AllowedCapabilities []string           `json:"allowed_capabilities,omitempty" yaml:"allowed_capabilities,omitempty"`
	HostApproved        bool               `json:"host_approved" yaml:"host_approved"`
	HostClassification  HostClassification `json:"host_classification" yaml:"host_classification,omitempty"`
	OfficeAssociationID string             `json:"office_association_id,omitempty" yaml:"office_association_id,omitempty"`
	CityAssignment      string             `json:"city_assignment,omitempty" yaml:"city_assignment,omitempty"`
	Version             int64              `json:"version" yaml:"version,omitempty"`
	CreatedAt           time.Time          `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt           time.Time          `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Record flattens p.
func (p *Principal) Record() PrincipalRecord {
	return PrincipalRecord{
		ID:                  p.ID,
		Email:               p.Email,
		PrimaryRole:         p.PrimaryRole(),
		AdminScope:          p.AdminScope(),
		AllowedCapabilities: p.AllowedCapabilities().Strings(),
		HostApproved:        p.HostApproved(),
		HostClassification:  p.HostClassification(),
		OfficeAssociationID: p.OfficeAssociationID(),
		CityAssignment:      p.CityAssignment(),
		Version:             p.Version,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// PrincipalFromRecord rebuilds the tagged role state, rejecting any record that
// breaks a role invariant. Capability ids are kept as stored; use
// Registry.CheckPrincipal to surface unknown ones.
func PrincipalFromRecord(rec PrincipalRecord) (*Principal, error) {
	p := &Principal{
		ID:        rec.ID,
		Email:     rec.Email,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	bad := func(format string, args ...any) error {
		return &IntegrityError{PrincipalID: rec.ID, Reason: fmt.Sprintf(format, args...)}
	}
	if rec.PrimaryRole != RoleAdmin && (rec.AdminScope != ScopeNone || len(rec.AllowedCapabilities) > 0) {
		return nil, bad("admin scope on %s principal", rec.PrimaryRole)
	}
	if !rec.HostApproved && rec.CityAssignment != "" {
		return nil, bad("city assignment without host approval")
	}
	switch rec.PrimaryRole {
	case RoleOrdinary, "":
		if !rec.HostApproved {
			if rec.OfficeAssociationID != "" {
				return nil, bad("office association without host approval or office manager role")
			}
			p.Role = Ordinary{}
			break
		}
		p.Role = Ordinary{Host: &HostApproval{City: rec.CityAssignment, OfficeID: rec.OfficeAssociationID}}
	case RoleAdmin:
		if rec.HostApproved {
			return nil, bad("admin cannot be host approved")
		}
		if rec.OfficeAssociationID != "" {
			return nil, bad("admin cannot hold an office association")
		}
		switch rec.AdminScope {
		case ScopeFull:
			if len(rec.AllowedCapabilities) > 0 {
				return nil, bad("full admin with capability list")
			}
			p.Role = Admin{Scope: FullScope{}}
		case ScopeLimited:
			ls, err := NewLimitedScope(capabilitySetOf(rec.AllowedCapabilities))
			if err != nil {
				return nil, bad("%v", err)
			}
			p.Role = Admin{Scope: ls}
		default:
			return nil, bad("admin without scope")
		}
	case RoleOfficeManager:
		if rec.OfficeAssociationID == "" {
			return nil, bad("office manager without office")
		}
		om := OfficeManager{OfficeID: rec.OfficeAssociationID}
		if rec.HostApproved {
			om.Host = &ManagedHost{City: rec.CityAssignment}
		}
		p.Role = om
	case RoleMarketingUser:
		if rec.HostApproved {
			return nil, bad("marketing user cannot be host approved")
		}
		if rec.OfficeAssociationID != "" {
			return nil, bad("marketing user cannot hold an office association")
		}
		p.Role = MarketingUser{}
	default:
		return nil, bad("unknown primary role %q", rec.PrimaryRole)
	}
	if rec.HostClassification != "" && rec.HostClassification != p.HostClassification() {
		return nil, bad("stored host classification %s, derived %s", rec.HostClassification, p.HostClassification())
	}
	return p, nil
}

func capabilitySetOf(ids []string) CapabilitySet {
	s := make(CapabilitySet, len(ids))
	for _, id := range ids {
		s[CapabilityID(id)] = struct{}{}
	}
	return s
}
