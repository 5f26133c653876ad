/*
errors.go - Centralized error types for the capacity engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The capacity, backend and api packages wrap these with context.

ERROR CATEGORIES:
  1. Validation errors - no period, no primary dimension, bad identifiers
  2. Upstream errors  - authentication required, transient failures
  3. Lifecycle errors - superseded query cycles, closed sessions

DEGRADATION:
  Nothing here is fatal to the process. Transient upstream failures turn
  into zero-filled figures plus one warning; superseded cycles are dropped
  silently. Only validation errors reach the caller, and they are returned
  before any network call is made.

SEE ALSO:
  - capacity/pipeline.go: validation before a cycle starts
  - capacity/loader.go: zero-fill fallback
  - backend/client.go: ErrUnauthorized on 401
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrPeriodTooLong is returned when a period spans more days than a
	// query may cover.
	ErrPeriodTooLong = errors.New("period too long")

	// ErrPeriodRequired is returned when a query has no reporting period.
	ErrPeriodRequired = errors.New("period is required")

	// ErrDimensionRequired is returned when a query has no primary grouping dimension.
	ErrDimensionRequired = errors.New("primary dimension is required")

	// ErrInvalidDimension is returned for an unknown grouping dimension.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrInvalidIdentifier is returned when an id cannot be used with an
	// endpoint, e.g. a non-numeric responsible id for contract lookups.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnauthorized is returned when the upstream API answered 401.
	// Callers send the user back to the login boundary.
	ErrUnauthorized = errors.New("upstream authentication required")

	// ErrStaleCycle is returned when a result belongs to a query cycle that
	// has been superseded. It is never reported to the user.
	ErrStaleCycle = errors.New("query cycle superseded")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrEntityNotFound is returned when a card does not exist in the current cycle.
	ErrEntityNotFound = errors.New("entity not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError lists every problem found in a query.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes every problem to errors.Is.
func (e *ValidationError) Unwrap() []error { return e.Problems }

// InvalidIdentifierError names the offending id.
type InvalidIdentifierError struct {
	Kind string
	ID   string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier %q", e.Kind, e.ID)
}

func (e *InvalidIdentifierError) Unwrap() error { return ErrInvalidIdentifier }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPeriodTooLong) ||
		errors.Is(err, ErrPeriodRequired) ||
		errors.Is(err, ErrDimensionRequired) ||
		errors.Is(err, ErrInvalidDimension) ||
		errors.Is(err, ErrInvalidIdentifier)
}

// IsAbandoned returns true for errors caused by a superseded or cancelled
// request. These are discarded silently.
func IsAbandoned(err error) bool {
	return errors.Is(err, ErrStaleCycle) || errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, context.Canceled)
}
