package credits

import (
	"context"
	"errors"

	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/generation"
	"github.com/xraph/credits/lock"
)

// passthrough are remote outcomes callers act on; everything else from a
// remote call is reported as a NetworkError.
var passthrough = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrInvalidInput,
	ErrConflict,
	ErrAccountNotFound,
	ErrEntryNotFound,
	ErrPurchaseNotFound,
	ErrDuplicatePurchase,
	ErrStoreClosed,
	ErrMigrationFailed,
	auth.ErrNotSignedIn,
	auth.ErrInvalidCredentials,
	auth.ErrEmailTaken,
	auth.ErrUserNotFound,
	billing.ErrUnknownTransaction,
	lock.ErrLocked,
	generation.ErrRejected,
}

// classify maps a remote failure to the error surfaced to callers.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err}
	}
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	return &NetworkError{Op: op, Err: err}
}

// remote runs fn under the remote timeout.
func (r *Reconciler) remote(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	return classify(op, fn(ctx))
}

// remoteValue is remote for calls that return a value.
func remoteValue[T any](ctx context.Context, r *Reconciler, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, classify(op, err)
	}
	return v, nil
}
