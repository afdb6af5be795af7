package payment

import (
	"errors"
	"fmt"
)

// Sentinel errors for the distinguishable exit paths of a polling session.
// The UI maps each to a different recovery action, so they must never
// collapse into one another.
var (
	// ErrTimeout is returned when the overall deadline elapsed while the
	// status remained non-terminal.
	ErrTimeout = errors.New("payment verification timed out")

	// ErrExhaustedAttempts is returned when the attempt budget was consumed
	// while the status remained pending.
	ErrExhaustedAttempts = errors.New("payment status check attempts exhausted")

	// ErrCancelled is returned after an explicit caller cancellation.
	ErrCancelled = errors.New("payment flow cancelled")

	// ErrAuth is returned when no valid bearer token is available. The
	// caller must re-authenticate; the core never works around it.
	ErrAuth = errors.New("missing or invalid authentication token")
)

// ValidationError reports a payload that failed a format check before any
// network call. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PaymentError reports a definitive negative terminal status from the
// backend, carrying the backend-provided reason.
type PaymentError struct {
	OrderID string
	State   State
	Reason  string
}

func (e *PaymentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment %s: order %s", e.State, e.OrderID)
	}
	return fmt.Sprintf("payment %s: order %s: %s", e.State, e.OrderID, e.Reason)
}

// APIError is a non-2xx response from the payment service that is not a
// payment outcome, e.g. a rejected activation.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Transient marks an error as retryable within the poller's backoff budget.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps a connectivity failure so the poller retries it instead
// of failing the session immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
