package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")
	ErrConflict      = errors.New("credits: concurrent modification")

	// Account errors
	ErrAccountNotFound        = errors.New("credits: account not found")
	ErrNoSession              = errors.New("credits: no current account")
	ErrAuthenticationRequired = errors.New("credits: authentication required")
	ErrAccountMerged          = errors.New("credits: account was merged")

	// Ledger errors
	ErrEntryNotFound       = errors.New("credits: ledger entry not found")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidKind         = errors.New("credits: invalid ledger entry kind")
	ErrZeroDelta           = errors.New("credits: balance delta must be non-zero")

	// Purchase errors
	ErrPurchaseNotFound   = errors.New("credits: purchase not found")
	ErrDuplicatePurchase  = errors.New("credits: duplicate purchase")
	ErrVerificationFailed = errors.New("credits: purchase verification failed")
	ErrPurchasePending    = errors.New("credits: purchase pending")
	ErrProductNotFound    = errors.New("credits: product not found")
	ErrPurchaseLocked     = errors.New("credits: purchase is being processed")

	// Generation errors
	ErrGenerationFailed = errors.New("credits: generation failed")

	// Remote errors
	ErrNetwork = errors.New("credits: network error")

	// Store errors
	ErrStoreClosed     = errors.New("credits: store is closed")
	ErrMigrationFailed = errors.New("credits: migration failed")
)

// NetworkError wraps a remote-call failure: a timeout, a transport error or
// an unclassified store error. It matches ErrNetwork with errors.Is and is
// always retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("credits: network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports whether target is ErrNetwork.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets ValidationError match ErrInvalidInput.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "credits: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("credits: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrProductNotFound)
}

// IsPaymentError returns true if the error is a purchase outcome rather
// than an infrastructure failure.
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrVerificationFailed) ||
		errors.Is(err, ErrPurchasePending) ||
		errors.Is(err, ErrDuplicatePurchase)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPurchasePending) ||
		errors.Is(err, ErrPurchaseLocked)
}
