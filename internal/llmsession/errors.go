package llmsession

import "errors"

// ParseError reports that a completion could not be turned into a valid
// Response after the repair pass and one correction round-trip.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return "llmsession: parse error: " + e.Reason
}

// ProviderError wraps a failure returned by the underlying Provider.
// Permanent errors (authentication, quota exhaustion) are never retried;
// everything else is treated as transient and retried with backoff.
type ProviderError struct {
	Err       error
	Permanent bool
}

func (e *ProviderError) Error() string {
	return "llmsession: provider error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrCancelled is returned when the context is cancelled before or during a
// network call, or while the session is waiting out a retry backoff.
var ErrCancelled = errors.New("llmsession: cancelled")

// ErrBudgetExceeded is not returned by anything in this package; the engine
// reports budget stops with its own engine.ErrBudgetExceeded, and a
// cancelled context surfaces here as ErrCancelled.
var ErrBudgetExceeded = errors.New("llmsession: budget exceeded")
