// Package notify delivers rendered notices to the user. Delivery is
// best-effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"time"

	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
)

// Notice is a rendered notification. Hint is how long a desktop toast should
// stay visible; deliverers may ignore it.
type Notice struct {
	Title string
	Body  string
	Hint  time.Duration
}

// Deliverer shows a notice to the user.
type Deliverer interface {
	Deliver(ctx context.Context, n Notice) error
}

// Func adapts a function to a Deliverer.
type Func func(ctx context.Context, n Notice) error

func (f Func) Deliver(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// Log writes notices to the application log. It never fails.
type Log struct{}

func (Log) Deliver(_ context.Context, n Notice) error {
	appLog.Info("notify", "title", n.Title, "body", n.Body, "hint", n.Hint)
	return nil
}

// Multi fans a notice out to every deliverer. All deliverers are tried; the
// joined errors of the failing ones are returned.
type Multi []Deliverer

func (m Multi) Deliver(ctx context.Context, n Notice) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return apperrors.NewDeliveryFailure(n.Title, errors.Join(errs...))
}
