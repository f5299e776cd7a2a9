package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/squealx"
)

// timestamps are stored as fixed-width UTC text so range filters compare correctly
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

// SQLPrincipalStore persists principals in SQL (squealx)
type SQLPrincipalStore struct {
	db *squealx.DB
}

func NewSQLPrincipalStore(db *squealx.DB) *SQLPrincipalStore {
	return &SQLPrincipalStore{db: db}
}

func principalParams(rec rolepolicy.PrincipalRecord) map[string]any {
	return map[string]any{
		"id":                        rec.ID,
		"email":                     rec.Email,
		"primary_role":              string(rec.PrimaryRole),
		"admin_scope":               string(rec.AdminScope),
		"allowed_capabilities_json": jsonString(nonNil(rec.AllowedCapabilities)),
		"host_approved":             boolToInt(rec.HostApproved),
		"host_classification":       string(rec.HostClassification),
		"office_association_id":     rec.OfficeAssociationID,
		"city_assignment":           rec.CityAssignment,
		"version":                   rec.Version,
		"created_at":                formatTime(rec.CreatedAt),
		"updated_at":                formatTime(rec.UpdatedAt),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *SQLPrincipalStore) CreatePrincipal(ctx context.Context, p *rolepolicy.Principal) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = 1
	}
	q := `INSERT INTO principals(id, email, primary_role, admin_scope, allowed_capabilities_json, host_approved, host_classification, office_association_id, city_assignment, version, created_at, updated_at) VALUES(:id, :email, :primary_role, :admin_scope, :allowed_capabilities_json, :host_approved, :host_classification, :office_association_id, :city_assignment, :version, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, principalParams(p.Record())); err != nil {
		return fmt.Errorf("insert principal %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLPrincipalStore) GetPrincipal(ctx context.Context, id string) (*rolepolicy.Principal, error) {
	q := `SELECT id, email, primary_role, admin_scope, allowed_capabilities_json, host_approved, host_classification, office_association_id, city_assignment, version, created_at, updated_at FROM principals WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, rolepolicy.PrincipalNotFound(id)
	}
	var rec rolepolicy.PrincipalRecord
	var role, scope, capsJSON, class string
	var hostInt int
	var createdRaw, updatedRaw any
	if err := r.Scan(&rec.ID, &rec.Email, &role, &scope, &capsJSON, &hostInt, &class, &rec.OfficeAssociationID, &rec.CityAssignment, &rec.Version, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	rec.PrimaryRole = rolepolicy.RoleKind(role)
	rec.AdminScope = rolepolicy.ScopeKind(scope)
	if caps := decodeStrings(capsJSON); len(caps) > 0 {
		rec.AllowedCapabilities = caps
	}
	rec.HostApproved = hostInt != 0
	rec.HostClassification = rolepolicy.HostClassification(class)
	rec.CreatedAt = scanTime(createdRaw)
	rec.UpdatedAt = scanTime(updatedRaw)
	return rolepolicy.PrincipalFromRecord(rec)
}

// PutPrincipal is a compare-and-swap on version.
func (s *SQLPrincipalStore) PutPrincipal(ctx context.Context, p *rolepolicy.Principal, expectedVersion int64) error {
	p.UpdatedAt = time.Now().UTC()
	params := principalParams(p.Record())
	params["version"] = expectedVersion + 1
	params["expected_version"] = expectedVersion
	q := `UPDATE principals SET email=:email, primary_role=:primary_role, admin_scope=:admin_scope, allowed_capabilities_json=:allowed_capabilities_json, host_approved=:host_approved, host_classification=:host_classification, office_association_id=:office_association_id, city_assignment=:city_assignment, version=:version, updated_at=:updated_at WHERE id=:id AND version=:expected_version`
	res, err := s.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("update principal %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetPrincipal(ctx, p.ID); rolepolicy.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("principal %s not at version %d: %w", p.ID, expectedVersion, rolepolicy.ErrConcurrencyConflict)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ListPrincipals returns every principal ordered by id. Rows that fail the
// role invariants are reported, not skipped.
func (s *SQLPrincipalStore) ListPrincipals(ctx context.Context) ([]*rolepolicy.Principal, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT id FROM principals ORDER BY id`, map[string]any{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			r.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	r.Close()
	out := make([]*rolepolicy.Principal, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPrincipal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
