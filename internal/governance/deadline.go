package governance

import (
	"context"
	"errors"
	"time"
)

// ErrDeadlineExceeded is returned by WithDeadline when the call overran.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// WithDeadline runs fn with a context that expires after d. fn runs on the
// calling goroutine, so a call that ignores its context is not interrupted;
// it is reported as overrun once it returns. A non-positive d runs fn
// without a deadline.
func WithDeadline(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	dctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(dctx)
	if ctx.Err() != nil {
		// The parent ended; that is not our deadline.
		return err
	}
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return ErrDeadlineExceeded
		}
	}
	return err
}
