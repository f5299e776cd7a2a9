package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore persists audit records in SQL. Rows are only ever inserted.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Append(ctx context.Context, rec *rolepolicy.AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	q := `INSERT INTO audit_log(id, timestamp, actor_principal_id, action, affected_principal_id, details_json) VALUES(:id, :timestamp, :actor_principal_id, :action, :affected_principal_id, :details_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                    rec.ID,
		"timestamp":             formatTime(rec.Timestamp),
		"actor_principal_id":    rec.ActorPrincipalID,
		"action":                string(rec.Action),
		"affected_principal_id": rec.AffectedPrincipalID,
		"details_json":          string(details),
	})
	return err
}

func (s *SQLAuditStore) ListAudit(ctx context.Context, filter rolepolicy.AuditFilter) ([]*rolepolicy.AuditRecord, error) {
	q := `SELECT id, timestamp, actor_principal_id, action, affected_principal_id, details_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.ActorPrincipalID != "" {
		q += " AND actor_principal_id = :actor"
		params["actor"] = filter.ActorPrincipalID
	}
	if filter.AffectedPrincipalID != "" {
		q += " AND affected_principal_id = :affected"
		params["affected"] = filter.AffectedPrincipalID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = formatTime(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = formatTime(filter.EndTime)
	}
	q += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rolepolicy.AuditRecord, 0)
	for r.Next() {
		rec := &rolepolicy.AuditRecord{}
		var action, detailsJSON string
		var timestampRaw any
		if err := r.Scan(&rec.ID, &timestampRaw, &rec.ActorPrincipalID, &action, &rec.AffectedPrincipalID, &detailsJSON); err != nil {
			return nil, err
		}
		rec.Action = rolepolicy.Operation(action)
		rec.Timestamp = scanTime(timestampRaw)
		rec.Details = map[string]any{}
		_ = json.Unmarshal([]byte(detailsJSON), &rec.Details)
		out = append(out, rec)
	}
	return out, nil
}
