package rolepolicy

import "context"

// PrincipalStore persists principals. PutPrincipal must fail with a wrapped
// ErrConcurrencyConflict when the stored version differs from expectedVersion,
// and bump p.Version on success.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	CreatePrincipal(ctx context.Context, p *Principal) error
	PutPrincipal(ctx context.Context, p *Principal, expectedVersion int64) error
}

// OfficeStore persists offices. ApplyRoster must apply the change and the
// host count update as one atomic step against the office record, returning a
// wrapped ErrConcurrencyConflict if a concurrent writer got in between.
type OfficeStore interface {
	GetOffice(ctx context.Context, id string) (*Office, error)
	CreateOffice(ctx context.Context, o *Office) error
	ApplyRoster(ctx context.Context, change RosterChange) (*Office, error)
}

// BookingDirectory lists open bookings so newly approved hosts can be told
// about them.
type BookingDirectory interface {
	OpenBookingsInCity(ctx context.Context, city string) ([]string, error)
}
