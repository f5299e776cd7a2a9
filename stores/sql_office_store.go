package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/squealx"
)

// SQLOfficeStore persists offices in SQL. Roster updates are a
// read-modify-write guarded by the row version.
type SQLOfficeStore struct {
	db *squealx.DB
}

func NewSQLOfficeStore(db *squealx.DB) *SQLOfficeStore {
	return &SQLOfficeStore{db: db}
}

func (s *SQLOfficeStore) CreateOffice(ctx context.Context, o *rolepolicy.Office) error {
	seed := &rolepolicy.Office{ID: o.ID, Name: o.Name, City: o.City, Version: 1}
	for _, email := range o.HostRosterEmails {
		rolepolicy.ApplyRosterChange(seed, rolepolicy.RosterChange{OfficeID: o.ID, Email: email, Op: rolepolicy.RosterAdd})
	}
	seed.CreatedAt = time.Now().UTC()
	seed.UpdatedAt = seed.CreatedAt
	q := `INSERT INTO offices(id, name, city, roster_json, host_count, version, created_at, updated_at) VALUES(:id, :name, :city, :roster_json, :host_count, :version, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          seed.ID,
		"name":        seed.Name,
		"city":        seed.City,
		"roster_json": jsonString(nonNil(seed.HostRosterEmails)),
		"host_count":  seed.HostCount,
		"version":     seed.Version,
		"created_at":  formatTime(seed.CreatedAt),
		"updated_at":  formatTime(seed.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("insert office %s: %w", o.ID, err)
	}
	*o = *seed.Clone()
	return nil
}

func (s *SQLOfficeStore) GetOffice(ctx context.Context, id string) (*rolepolicy.Office, error) {
	q := `SELECT id, name, city, roster_json, host_count, version, created_at, updated_at FROM offices WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, rolepolicy.OfficeNotFound(id)
	}
	o := &rolepolicy.Office{}
	var rosterJSON string
	var createdRaw, updatedRaw any
	if err := r.Scan(&o.ID, &o.Name, &o.City, &rosterJSON, &o.HostCount, &o.Version, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	o.HostRosterEmails = decodeStrings(rosterJSON)
	o.CreatedAt = scanTime(createdRaw)
	o.UpdatedAt = scanTime(updatedRaw)
	return o, nil
}

// ApplyRoster writes roster and host count in one UPDATE conditioned on the
// version read. A lost race returns ErrConcurrencyConflict for the caller to retry.
func (s *SQLOfficeStore) ApplyRoster(ctx context.Context, change rolepolicy.RosterChange) (*rolepolicy.Office, error) {
	o, err := s.GetOffice(ctx, change.OfficeID)
	if err != nil {
		return nil, err
	}
	if !rolepolicy.ApplyRosterChange(o, change) {
		return o, nil
	}
	read := o.Version
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	q := `UPDATE offices SET roster_json=:roster_json, host_count=:host_count, version=:version, updated_at=:updated_at WHERE id=:id AND version=:expected_version`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               o.ID,
		"roster_json":      jsonString(nonNil(o.HostRosterEmails)),
		"host_count":       o.HostCount,
		"version":          o.Version,
		"updated_at":       formatTime(o.UpdatedAt),
		"expected_version": read,
	})
	if err != nil {
		return nil, fmt.Errorf("update office %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("office %s changed concurrently: %w", o.ID, rolepolicy.ErrConcurrencyConflict)
	}
	return o, nil
}

// ListOffices returns every office ordered by id.
func (s *SQLOfficeStore) ListOffices(ctx context.Context) ([]*rolepolicy.Office, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT id FROM offices ORDER BY id`, map[string]any{})
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
	out := make([]*rolepolicy.Office, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOffice(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
