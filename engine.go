package rolepolicy

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation names a role mutation. It doubles as the audit action.
type Operation string

const (
	OpGrantFullAdmin      Operation = "grant_full_admin"
	OpGrantLimitedAdmin   Operation = "grant_limited_admin"
	OpRevokeAdmin         Operation = "revoke_admin"
	OpApproveHost         Operation = "approve_host"
	OpRevokeHost          Operation = "revoke_host"
	OpGrantOfficeManager  Operation = "grant_office_manager"
	OpRevokeOfficeManager Operation = "revoke_office_manager"
	OpGrantMarketingRole  Operation = "grant_marketing_role"
	OpRevokeMarketingRole Operation = "revoke_marketing_role"
)

// NoticeKind identifies a notification instruction.
type NoticeKind string

// NoticeOpenBookings asks for one notification per open booking in City.
const NoticeOpenBookings NoticeKind = "open_bookings"

// NotifyRequest is a fire-and-forget instruction produced by a transition.
type NotifyRequest struct {
	Kind        NoticeKind `json:"kind"`
	PrincipalID string     `json:"principal_id"`
	City        string     `json:"city"`
}

// Transition is the result of an accepted engine operation. When Changed is
// false the operation was a no-op: After equals Before and there are no side
// effects and no audit record.
type Transition struct {
	Op      Operation
	ActorID string
	Before  *Principal
	After   *Principal
	Changed bool
	Roster  []RosterChange
	Notices []NotifyRequest
	Audit   *AuditRecord
}

// Engine computes role transitions. It performs no I/O and holds no ambient
// state beyond the capability registry and its clock.
type Engine struct {
	registry *Registry
	now      func() time.Time
	newID    func() string
}

type EngineOption func(*Engine)

// WithRegistry swaps the capability registry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithClock installs the time source used for audit timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDFunc installs the audit record id generator.
func WithIDFunc(f func() string) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.newID = f
		}
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		registry: DefaultRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

// GrantFullAdmin makes p an unrestricted admin, dropping host approval and any
// office association.
func (e *Engine) GrantFullAdmin(actorID string, p *Principal) (*Transition, error) {
	return e.finish(OpGrantFullAdmin, actorID, p, Admin{Scope: FullScope{}}, nil, nil)
}

// GrantLimitedAdmin makes p an admin restricted to caps.
func (e *Engine) GrantLimitedAdmin(actorID string, p *Principal, caps CapabilitySet) (*Transition, error) {
	if len(caps) == 0 {
		return nil, &ValidationError{Op: OpGrantLimitedAdmin, Field: "capabilities", Reason: "at least one capability is required"}
	}
	if unknown := e.registry.Unknown(caps); len(unknown) > 0 {
		return nil, &ValidationError{Op: OpGrantLimitedAdmin, Field: "capabilities", Reason: "unknown capability " + string(unknown[0])}
	}
	scope, err := NewLimitedScope(caps)
	if err != nil {
		return nil, &ValidationError{Op: OpGrantLimitedAdmin, Field: "capabilities", Reason: err.Error()}
	}
	return e.finish(OpGrantLimitedAdmin, actorID, p, Admin{Scope: scope}, nil, map[string]any{
		"capabilities": caps.Strings(),
	})
}

// RevokeAdmin returns an admin to Ordinary. Prior host or office state is not
// restored. A non-admin is left untouched.
func (e *Engine) RevokeAdmin(actorID string, p *Principal) (*Transition, error) {
	if p.PrimaryRole() != RoleAdmin {
		return e.noop(OpRevokeAdmin, actorID, p), nil
	}
	return e.finish(OpRevokeAdmin, actorID, p, Ordinary{}, nil, nil)
}

// ApproveHost grants selling rights in city, optionally routed through officeID.
func (e *Engine) ApproveHost(actorID string, p *Principal, city, officeID string) (*Transition, error) {
	city = strings.TrimSpace(city)
	officeID = strings.TrimSpace(officeID)
	var next Role
	switch r := p.role().(type) {
	case Admin, MarketingUser:
		return nil, &PolicyViolation{Op: OpApproveHost, Role: r.Kind(), Reason: "cannot combine administrative/marketing role with host approval"}
	case OfficeManager:
		if officeID != "" && officeID != r.OfficeID {
			return nil, &PolicyViolation{Op: OpApproveHost, Role: RoleOfficeManager, Reason: "an office manager can only host through the office they manage"}
		}
		if city == "" {
			return nil, &ValidationError{Op: OpApproveHost, Field: "city", Reason: "city is required"}
		}
		next = OfficeManager{OfficeID: r.OfficeID, Host: &ManagedHost{City: city}}
	default:
		if city == "" {
			return nil, &ValidationError{Op: OpApproveHost, Field: "city", Reason: "city is required"}
		}
		next = Ordinary{Host: &HostApproval{City: city, OfficeID: officeID}}
	}
	notices := []NotifyRequest{{Kind: NoticeOpenBookings, PrincipalID: p.ID, City: city}}
	return e.finish(OpApproveHost, actorID, p, next, notices, map[string]any{
		"city":      city,
		"office_id": officeID,
	})
}

// RevokeHost removes host approval. It is a true no-op when p is not a host.
func (e *Engine) RevokeHost(actorID string, p *Principal) (*Transition, error) {
	if !p.HostApproved() {
		return e.noop(OpRevokeHost, actorID, p), nil
	}
	var next Role = Ordinary{}
	if om, ok := p.role().(OfficeManager); ok {
		next = OfficeManager{OfficeID: om.OfficeID}
	}
	return e.finish(OpRevokeHost, actorID, p, next, nil, nil)
}

// GrantOfficeManager makes p the manager of officeID. Host approval survives
// unless it was linked through a different office.
func (e *Engine) GrantOfficeManager(actorID string, p *Principal, officeID string) (*Transition, error) {
	officeID = strings.TrimSpace(officeID)
	if officeID == "" {
		return nil, &ValidationError{Op: OpGrantOfficeManager, Field: "office_id", Reason: "office id is required"}
	}
	next := OfficeManager{OfficeID: officeID}
	switch r := p.role().(type) {
	case Admin:
		return nil, &PolicyViolation{Op: OpGrantOfficeManager, Role: RoleAdmin, Reason: "revoke administrative role before assigning an office"}
	case Ordinary:
		if r.Host != nil && (r.Host.OfficeID == "" || r.Host.OfficeID == officeID) {
			next.Host = &ManagedHost{City: r.Host.City}
		}
	case OfficeManager:
		if r.OfficeID == officeID && r.Host != nil {
			next.Host = &ManagedHost{City: r.Host.City}
		}
	}
	return e.finish(OpGrantOfficeManager, actorID, p, next, nil, map[string]any{
		"office_id": officeID,
	})
}

// RevokeOfficeManager returns a manager to Ordinary. A manager who was also a
// host keeps approval as a freelance host.
func (e *Engine) RevokeOfficeManager(actorID string, p *Principal) (*Transition, error) {
	om, ok := p.role().(OfficeManager)
	if !ok {
		return e.noop(OpRevokeOfficeManager, actorID, p), nil
	}
	next := Ordinary{}
	if om.Host != nil {
		next.Host = &HostApproval{City: om.Host.City}
	}
	return e.finish(OpRevokeOfficeManager, actorID, p, next, nil, nil)
}

// GrantMarketingRole moves p to MarketingUser, dropping host and office state.
func (e *Engine) GrantMarketingRole(actorID string, p *Principal) (*Transition, error) {
	if p.PrimaryRole() == RoleAdmin {
		return nil, &PolicyViolation{Op: OpGrantMarketingRole, Role: RoleAdmin, Reason: "revoke administrative role before granting marketing"}
	}
	return e.finish(OpGrantMarketingRole, actorID, p, MarketingUser{}, nil, nil)
}

// RevokeMarketingRole returns a marketing user to Ordinary.
func (e *Engine) RevokeMarketingRole(actorID string, p *Principal) (*Transition, error) {
	if p.PrimaryRole() != RoleMarketingUser {
		return e.noop(OpRevokeMarketingRole, actorID, p), nil
	}
	return e.finish(OpRevokeMarketingRole, actorID, p, Ordinary{}, nil, nil)
}

func (e *Engine) noop(op Operation, actorID string, p *Principal) *Transition {
	return &Transition{Op: op, ActorID: actorID, Before: p.Clone(), After: p.Clone()}
}

// finish builds the transition for p moving to next. Roster changes follow
// from the office association diff, so roster membership always equals
// association.
func (e *Engine) finish(op Operation, actorID string, p *Principal, next Role, notices []NotifyRequest, args map[string]any) (*Transition, error) {
	before := p.Clone()
	after := p.Clone()
	after.Role = next
	if before.SameState(after) {
		return &Transition{Op: op, ActorID: actorID, Before: before, After: before.Clone()}, nil
	}

	var roster []RosterChange
	oldOffice, newOffice := before.OfficeAssociationID(), after.OfficeAssociationID()
	if oldOffice != newOffice {
		if strings.TrimSpace(p.Email) == "" {
			return nil, &ValidationError{Op: op, Field: "email", Reason: "principal has no email for the office roster"}
		}
		if oldOffice != "" {
			roster = append(roster, RosterChange{OfficeID: oldOffice, Email: p.Email, Op: RosterRemove})
		}
		if newOffice != "" {
			roster = append(roster, RosterChange{OfficeID: newOffice, Email: p.Email, Op: RosterAdd})
		}
	}

	now := e.now()
	after.UpdatedAt = now
	details := map[string]any{
		"before": before.Record(),
		"after":  after.Record(),
	}
	if len(roster) > 0 {
		details["roster"] = roster
	}
	for k, v := range args {
		details[k] = v
	}
	return &Transition{
		Op:      op,
		ActorID: actorID,
		Before:  before,
		After:   after,
		Changed: true,
		Roster:  roster,
		Notices: notices,
		Audit: &AuditRecord{
			ID:                  e.newID(),
			ActorPrincipalID:    actorID,
			Action:              op,
			AffectedPrincipalID: p.ID,
			Timestamp:           now,
			Details:             details,
		},
	}, nil
}
