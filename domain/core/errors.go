package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Numerical errors
	ErrConvergence = errors.New("solver failed to converge")

	// Query errors
	ErrDomain = errors.New("query outside model domain")

	// Constraint errors
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInsufficientData  = errors.New("insufficient data for analysis")

	// Determinism errors
	ErrSeedMismatch = errors.New("seed mismatch")
)

// NewConvergenceError reports a root find that could not bracket or reach tolerance
func NewConvergenceError(what string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConvergence, what, reason)
}

// NewDomainError reports a query value outside [lo, hi]
func NewDomainError(what string, value, lo, hi int) error {
	return fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrDomain, what, value, lo, hi)
}

// NewInvalidParametersError reports malformed constraints
func NewInvalidParametersError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, reason)
}

// NewInsufficientDataError reports a community below the analysis cutoff
func NewInsufficientDataError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, reason)
}

// Error checking helpers
func IsConvergenceError(err error) bool {
	return errors.Is(err, ErrConvergence)
}

func IsDomainError(err error) bool {
	return errors.Is(err, ErrDomain)
}

func IsInvalidParameters(err error) bool {
	return errors.Is(err, ErrInvalidParameters)
}

func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// ErrorCode classifies an error into the stable code recorded in failure tables
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConvergenceError(err):
		return "CONVERGENCE_ERROR"
	case IsDomainError(err):
		return "DOMAIN_ERROR"
	case IsInvalidParameters(err):
		return "INVALID_PARAMETERS"
	case IsInsufficientData(err):
		return "INSUFFICIENT_DATA"
	default:
		return "INTERNAL_ERROR"
	}
}
