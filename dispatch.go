package rolepolicy

import (
	"context"
	"sync"

	"github.com/oarkflow/rolepolicy/logger"
	"golang.org/x/sync/errgroup"
)

// Notification is the payload handed to a Notifier.
type Notification struct {
	Kind      NoticeKind `json:"kind"`
	BookingID string     `json:"booking_id,omitempty"`
	City      string     `json:"city,omitempty"`
}

// Notifier delivers a notification to a principal. At-least-once is fine.
type Notifier interface {
	Notify(ctx context.Context, principalID string, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, principalID string, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, principalID string, n Notification) error {
	return f(ctx, principalID, n)
}

// LogNotifier only logs. It is the default when no notifier is configured.
type LogNotifier struct {
	Logger logger.Logger
}

func (l LogNotifier) Notify(_ context.Context, principalID string, n Notification) error {
	if l.Logger != nil {
		l.Logger.Info("notification", "principal", principalID, "kind", string(n.Kind), "booking", n.BookingID, "city", n.City)
	}
	return nil
}

// Dispatcher fans notification instructions out in the background.
type Dispatcher struct {
	notifier Notifier
	bookings BookingDirectory
	workers  int
	logger   logger.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, bookings BookingDirectory, workers int, l logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	if n == nil {
		n = LogNotifier{Logger: l}
	}
	return &Dispatcher{notifier: n, bookings: bookings, workers: workers, logger: l}
}

// Dispatch starts delivery of reqs and returns at once. Delivery runs on a
// context detached from ctx's cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []NotifyRequest) {
	if len(reqs) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, req := range reqs {
			if err := d.deliver(bg, req); err != nil {
				d.logger.Error("notification fan-out failed", "principal", req.PrincipalID, "kind", string(req.Kind), "error", err)
			}
		}
	}()
}

// Wait blocks until every started fan-out has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(ctx context.Context, req NotifyRequest) error {
	switch req.Kind {
	case NoticeOpenBookings:
		if d.bookings == nil {
			return nil
		}
		ids, err := d.bookings.OpenBookingsInCity(ctx, req.City)
		if err != nil {
			return err
		}
		// one failed booking must not cancel the rest
		var g errgroup.Group
		g.SetLimit(d.workers)
		for _, id := range ids {
			g.Go(func() error {
				return d.notifier.Notify(ctx, req.PrincipalID, Notification{Kind: req.Kind, BookingID: id, City: req.City})
			})
		}
		return g.Wait()
	default:
		return d.notifier.Notify(ctx, req.PrincipalID, Notification{Kind: req.Kind, City: req.City})
	}
}
