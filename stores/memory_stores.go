package stores

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/rolepolicy"
)

// MemoryPrincipalStore implements principal persistence in-memory for testing/demo
type MemoryPrincipalStore struct {
	mu         sync.RWMutex
	principals map[string]*rolepolicy.Principal
}

func NewMemoryPrincipalStore() *MemoryPrincipalStore {
	return &MemoryPrincipalStore{principals: make(map[string]*rolepolicy.Principal)}
}

func (s *MemoryPrincipalStore) CreatePrincipal(ctx context.Context, p *rolepolicy.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[p.ID]; ok {
		return fmt.Errorf("principal already exists: %s", p.ID)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = 1
	}
	s.principals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryPrincipalStore) GetPrincipal(ctx context.Context, id string) (*rolepolicy.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, rolepolicy.PrincipalNotFound(id)
	}
	return p.Clone(), nil
}

func (s *MemoryPrincipalStore) PutPrincipal(ctx context.Context, p *rolepolicy.Principal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.principals[p.ID]
	if !ok {
		return rolepolicy.PrincipalNotFound(p.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("principal %s at version %d, expected %d: %w", p.ID, cur.Version, expectedVersion, rolepolicy.ErrConcurrencyConflict)
	}
	p.Version = expectedVersion + 1
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.principals[p.ID] = p.Clone()
	return nil
}

// ListPrincipals returns every principal ordered by id.
func (s *MemoryPrincipalStore) ListPrincipals(ctx context.Context) ([]*rolepolicy.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rolepolicy.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryOfficeStore implements office persistence in-memory. The mutex makes
// every roster update atomic.
type MemoryOfficeStore struct {
	mu      sync.RWMutex
	offices map[string]*rolepolicy.Office
}

func NewMemoryOfficeStore() *MemoryOfficeStore {
	return &MemoryOfficeStore{offices: make(map[string]*rolepolicy.Office)}
}

func (s *MemoryOfficeStore) CreateOffice(ctx context.Context, o *rolepolicy.Office) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offices[o.ID]; ok {
		return fmt.Errorf("office already exists: %s", o.ID)
	}
	seed := &rolepolicy.Office{ID: o.ID, Name: o.Name, City: o.City, Version: 1}
	for _, email := range o.HostRosterEmails {
		rolepolicy.ApplyRosterChange(seed, rolepolicy.RosterChange{OfficeID: o.ID, Email: email, Op: rolepolicy.RosterAdd})
	}
	seed.CreatedAt = time.Now().UTC()
	seed.UpdatedAt = seed.CreatedAt
	s.offices[o.ID] = seed
	*o = *seed.Clone()
	return nil
}

func (s *MemoryOfficeStore) GetOffice(ctx context.Context, id string) (*rolepolicy.Office, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offices[id]
	if !ok {
		return nil, rolepolicy.OfficeNotFound(id)
	}
	return o.Clone(), nil
}

func (s *MemoryOfficeStore) ApplyRoster(ctx context.Context, change rolepolicy.RosterChange) (*rolepolicy.Office, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offices[change.OfficeID]
	if !ok {
		return nil, rolepolicy.OfficeNotFound(change.OfficeID)
	}
	if rolepolicy.ApplyRosterChange(o, change) {
		o.Version++
		o.UpdatedAt = time.Now().UTC()
	}
	return o.Clone(), nil
}

// ListOffices returns every office ordered by id.
func (s *MemoryOfficeStore) ListOffices(ctx context.Context) ([]*rolepolicy.Office, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rolepolicy.Office, 0, len(s.offices))
	for _, o := range s.offices {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryAuditStore is an append-only audit log kept in memory.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*rolepolicy.AuditRecord
	ids     map[string]bool
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{ids: make(map[string]bool)}
}

func (s *MemoryAuditStore) Append(ctx context.Context, rec *rolepolicy.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[rec.ID] {
		return fmt.Errorf("audit record already exists: %s", rec.ID)
	}
	s.ids[rec.ID] = true
	s.records = append(s.records, cloneAudit(rec))
	return nil
}

func (s *MemoryAuditStore) ListAudit(ctx context.Context, filter rolepolicy.AuditFilter) ([]*rolepolicy.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rolepolicy.AuditRecord, 0)
	for _, rec := range s.records {
		if !filter.Matches(rec) {
			continue
		}
		out = append(out, cloneAudit(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// MemoryBookingDirectory keeps booking seeds in memory.
type MemoryBookingDirectory struct {
	mu       sync.RWMutex
	bookings map[string]rolepolicy.BookingSeed
}

func NewMemoryBookingDirectory() *MemoryBookingDirectory {
	return &MemoryBookingDirectory{bookings: make(map[string]rolepolicy.BookingSeed)}
}

func (d *MemoryBookingDirectory) PutBooking(ctx context.Context, b rolepolicy.BookingSeed) error {
	if b.ID == "" {
		return fmt.Errorf("booking missing id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bookings[b.ID] = b
	return nil
}

// OpenBookingsInCity returns ids of open bookings in city, sorted. City
// matching ignores case.
func (d *MemoryBookingDirectory) OpenBookingsInCity(ctx context.Context, city string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0)
	for id, b := range d.bookings {
		if strings.EqualFold(b.Status, BookingOpen) && strings.EqualFold(b.City, city) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// BookingOpen is the status a booking must have to be announced to new hosts.
const BookingOpen = "open"
