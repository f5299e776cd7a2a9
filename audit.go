package rolepolicy

import (
	"context"
	"time"
)

// AuditRecord is one immutable entry per applied role mutation.
type AuditRecord struct {
	ID                  string         `json:"id"`
	ActorPrincipalID    string         `json:"actor_principal_id"`
	Action              Operation      `json:"action"`
	AffectedPrincipalID string         `json:"affected_principal_id"`
	Timestamp           time.Time      `json:"timestamp"`
	Details             map[string]any `json:"details"`
}

// AuditFilter narrows audit reads. Zero fields match everything.
type AuditFilter struct {
	ActorPrincipalID    string
	AffectedPrincipalID string
	Action              Operation
	StartTime           time.Time
	EndTime             time.Time
	Limit               int
}

// Matches reports whether rec passes f.
func (f AuditFilter) Matches(rec *AuditRecord) bool {
	if f.ActorPrincipalID != "" && rec.ActorPrincipalID != f.ActorPrincipalID {
		return false
	}
	if f.AffectedPrincipalID != "" && rec.AffectedPrincipalID != f.AffectedPrincipalID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && rec.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && rec.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// AuditSink is append-only.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// AuditReader is implemented by sinks that can also be queried.
type AuditReader interface {
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}
