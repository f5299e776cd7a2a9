package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/squealx"
)

// SQLBookingDirectory answers open-booking lookups from the bookings table.
type SQLBookingDirectory struct {
	db *squealx.DB
}

func NewSQLBookingDirectory(db *squealx.DB) *SQLBookingDirectory {
	return &SQLBookingDirectory{db: db}
}

func (d *SQLBookingDirectory) PutBooking(ctx context.Context, b rolepolicy.BookingSeed) error {
	if b.ID == "" {
		return fmt.Errorf("booking missing id")
	}
	q := `INSERT INTO bookings(id, city, status) VALUES(:id, :city, :status) ON CONFLICT(id) DO UPDATE SET city=excluded.city, status=excluded.status`
	_, err := d.db.NamedExecContext(ctx, q, map[string]any{
		"id":     b.ID,
		"city":   strings.ToLower(strings.TrimSpace(b.City)),
		"status": strings.ToLower(b.Status),
	})
	return err
}

func (d *SQLBookingDirectory) OpenBookingsInCity(ctx context.Context, city string) ([]string, error) {
	q := `SELECT id FROM bookings WHERE city = :city AND status = :status ORDER BY id`
	r, err := d.db.NamedQueryContext(ctx, q, map[string]any{
		"city":   strings.ToLower(strings.TrimSpace(city)),
		"status": BookingOpen,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
