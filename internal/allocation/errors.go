package allocation

import "errors"

var (
	// ErrServiceUnavailable: circuit open with no fallback; surfaced, never
	// substituted with a guessed value.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrReconciliationDegraded: balance fetch failed with no usable cache.
	// Blocks new admissions; never blocks exits or rotations.
	ErrReconciliationDegraded = errors.New("balance reconciliation degraded")
	// ErrRotationConflict: the selected position was already closed by a
	// concurrent operation.
	ErrRotationConflict = errors.New("rotation target already closed")
	// ErrControllerStopped: opportunity intake has been shut down.
	ErrControllerStopped = errors.New("controller stopped")
)

// Rejection reasons. Every rejection carries one of these so callers can
// distinguish failure modes.
const (
	ReasonBalanceUnavailable = "balance unavailable"
	ReasonNoCapital          = "no capital"
	ReasonCircuitOpen        = "circuit open"
	ReasonBelowMinimum       = "below minimum size"
	ReasonRotationFailed     = "rotation failed"
	ReasonAuthFailed         = "broker authentication failed"
	ReasonStopped            = "controller stopped"
)
