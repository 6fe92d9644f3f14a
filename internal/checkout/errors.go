// Package checkout implements the payment orchestrator: it decides whether
// payment is required, drives the processor intent lifecycle, interprets
// capture outcomes, and advances the order state machine.
package checkout

import "fmt"

// ValidationError indicates a checkout-blocking input problem: total below
// the minimum chargeable amount, missing payment method, missing intent id.
// The order is never mutated for a validation failure and no processor call
// is attempted.
type ValidationError struct {
	Msg string
}

// Error implements the error interface.
func (e *ValidationError) Error() string { return e.Msg }

// validationf builds a ValidationError from a format string.
func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError indicates missing or invalid gateway configuration.
// Surfaced to the store operator; checkout is blocked until resolved.
type ConfigurationError struct {
	Msg string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string { return e.Msg }

// DeclinedError is the expected-failure result of a capture whose charge
// outcome was a decline. The order has already been transitioned to
// payment_failed when this is returned; callers treat it as a failed
// checkout, not an infrastructure fault.
type DeclinedError struct {
	ChargeID string
	Reason   string
}

// Error implements the error interface.
func (e *DeclinedError) Error() string { return e.Reason }

// BookkeepingError records a failure retrieving charge or balance-transaction
// detail after a successful capture. The capture itself stood at the
// processor, so the payment result is still returned to the caller; this
// error is logged and the order is flagged for visibility.
type BookkeepingError struct {
	ChargeID string
	Err      error
}

// Error implements the error interface.
func (e *BookkeepingError) Error() string {
	return fmt.Sprintf("bookkeeping failed for charge %s: %v", e.ChargeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *BookkeepingError) Unwrap() error { return e.Err }
