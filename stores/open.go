package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oarkflow/rolepolicy"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// Backend bundles the stores selected by a StorageConfig.
type Backend struct {
	Principals rolepolicy.PrincipalStore
	Offices    rolepolicy.OfficeStore
	Audit      rolepolicy.AuditSink
	Bookings   rolepolicy.BookingDirectory

	closers []func() error
}

// Close releases database and Redis connections.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the backend for cfg. Driver "memory" (or empty) keeps
// everything in process; "sqlite" opens cfg.DSN and migrates it. A non-empty
// RedisAddr moves office rosters to Redis with either driver.
func Open(ctx context.Context, cfg rolepolicy.StorageConfig) (*Backend, error) {
	b := &Backend{}
	switch cfg.Driver {
	case "", "memory":
		b.Principals = NewMemoryPrincipalStore()
		b.Offices = NewMemoryOfficeStore()
		b.Audit = NewMemoryAuditStore()
		b.Bookings = NewMemoryBookingDirectory()
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		sqlDB, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if dsn == ":memory:" {
			sqlDB.SetMaxOpenConns(1)
		}
		b.closers = append(b.closers, sqlDB.Close)
		db := squealx.NewDb(sqlDB, "sqlite", "rolepolicy")
		if err := Migrate(ctx, db); err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Principals = NewSQLPrincipalStore(db)
		b.Offices = NewSQLOfficeStore(db)
		b.Audit = NewSQLAuditStore(db)
		b.Bookings = NewSQLBookingDirectory(db)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		b.Offices = NewRedisOfficeStore(client)
	}
	return b, nil
}
