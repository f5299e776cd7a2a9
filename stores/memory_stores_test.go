package stores

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/rolepolicy"
	"github.com/stretchr/testify/require"
)

func TestMemoryPrincipalStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPrincipalStore()
	p := rolepolicy.NewPrincipal("u1", "u1@example.com")
	require.NoError(t, s.CreatePrincipal(ctx, p))
	require.EqualValues(t, 1, p.Version)
	require.Error(t, s.CreatePrincipal(ctx, rolepolicy.NewPrincipal("u1", "dup@example.com")))

	got, err := s.GetPrincipal(ctx, "u1")
	require.NoError(t, err)
	got.Role = rolepolicy.MarketingUser{}
	require.NoError(t, s.PutPrincipal(ctx, got, 1))
	require.EqualValues(t, 2, got.Version)

	stale := p.Clone()
	stale.Role = rolepolicy.Admin{Scope: rolepolicy.FullScope{}}
	err = s.PutPrincipal(ctx, stale, 1)
	require.ErrorIs(t, err, rolepolicy.ErrConcurrencyConflict)

	stored, err := s.GetPrincipal(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, rolepolicy.RoleMarketingUser, stored.PrimaryRole())

	_, err = s.GetPrincipal(ctx, "missing")
	require.True(t, rolepolicy.IsNotFound(err))
	require.True(t, rolepolicy.IsNotFound(s.PutPrincipal(ctx, rolepolicy.NewPrincipal("missing", ""), 1)))
}

func TestMemoryPrincipalStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPrincipalStore()
	p := rolepolicy.NewPrincipal("u1", "u1@example.com")
	p.Role = rolepolicy.Ordinary{Host: &rolepolicy.HostApproval{City: "lisbon"}}
	require.NoError(t, s.CreatePrincipal(ctx, p))

	got, err := s.GetPrincipal(ctx, "u1")
	require.NoError(t, err)
	got.Role.(rolepolicy.Ordinary).Host.City = "porto"

	again, err := s.GetPrincipal(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "lisbon", again.CityAssignment())
}

func TestMemoryOfficeStoreRoster(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOfficeStore()
	o := &rolepolicy.Office{ID: "off-1", Name: "North", City: "lisbon", HostRosterEmails: []string{"B@example.com", "a@example.com"}}
	require.NoError(t, s.CreateOffice(ctx, o))
	require.Equal(t, []string{"a@example.com", "b@example.com"}, o.HostRosterEmails)
	require.Equal(t, 2, o.HostCount)

	add := rolepolicy.RosterChange{OfficeID: "off-1", Email: "c@example.com", Op: rolepolicy.RosterAdd}
	got, err := s.ApplyRoster(ctx, add)
	require.NoError(t, err)
	require.Equal(t, 3, got.HostCount)
	version := got.Version

	got, err = s.ApplyRoster(ctx, add)
	require.NoError(t, err)
	require.Equal(t, 3, got.HostCount)
	require.Equal(t, version, got.Version, "repeated add must not bump the version")

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "c@example.com"} {
		got, err = s.ApplyRoster(ctx, rolepolicy.RosterChange{OfficeID: "off-1", Email: email, Op: rolepolicy.RosterRemove})
		require.NoError(t, err)
	}
	require.Zero(t, got.HostCount)
	require.Empty(t, got.HostRosterEmails)

	_, err = s.ApplyRoster(ctx, rolepolicy.RosterChange{OfficeID: "nope", Email: "x@example.com", Op: rolepolicy.RosterAdd})
	require.True(t, rolepolicy.IsNotFound(err))
}

func TestMemoryAuditStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recs := []*rolepolicy.AuditRecord{
		{ID: "a1", ActorPrincipalID: "admin", Action: rolepolicy.OpApproveHost, AffectedPrincipalID: "u1", Timestamp: base},
		{ID: "a2", ActorPrincipalID: "admin", Action: rolepolicy.OpRevokeHost, AffectedPrincipalID: "u1", Timestamp: base.Add(time.Minute)},
		{ID: "a3", ActorPrincipalID: "other", Action: rolepolicy.OpApproveHost, AffectedPrincipalID: "u2", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, rec := range recs {
		require.NoError(t, s.Append(ctx, rec))
	}
	require.Error(t, s.Append(ctx, recs[0]), "audit ids are unique")

	got, err := s.ListAudit(ctx, rolepolicy.AuditFilter{AffectedPrincipalID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.ListAudit(ctx, rolepolicy.AuditFilter{Action: rolepolicy.OpApproveHost, StartTime: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a3", got[0].ID)

	got, err = s.ListAudit(ctx, rolepolicy.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryBookingDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryBookingDirectory()
	require.NoError(t, d.PutBooking(ctx, rolepolicy.BookingSeed{ID: "b2", City: "Lisbon", Status: "open"}))
	require.NoError(t, d.PutBooking(ctx, rolepolicy.BookingSeed{ID: "b1", City: "lisbon", Status: "open"}))
	require.NoError(t, d.PutBooking(ctx, rolepolicy.BookingSeed{ID: "b3", City: "lisbon", Status: "closed"}))
	require.NoError(t, d.PutBooking(ctx, rolepolicy.BookingSeed{ID: "b4", City: "porto", Status: "open"}))
	require.Error(t, d.PutBooking(ctx, rolepolicy.BookingSeed{City: "porto"}))

	ids, err := d.OpenBookingsInCity(ctx, "lisbon")
	require.NoError(t, err)
	require.Equal(t, []string{"b1", "b2"}, ids)

	ids, err = d.OpenBookingsInCity(ctx, "madrid")
	require.NoError(t, err)
	require.Empty(t, ids)
}
