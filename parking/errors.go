/*
errors.go - Error types for the parking engine

ERROR CATEGORIES:
  1. Not found - referenced slot or session does not exist
  2. Conflict  - operation violates a session lifecycle invariant
  3. Capacity  - admission control rejected a plate entry
  4. Invalid   - malformed input

Every error is detected before any write is applied, so a returned error
always means nothing was persisted.

USAGE:
  if parking.IsConflict(err) {
      // 409
  }
*/
package parking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotNotFound is returned when a slot id is outside the registry.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyStopped is returned when stopping an ended session.
	ErrSessionAlreadyStopped = errors.New("session already stopped")

	// ErrSessionNotStopped is returned when paying a session that is still open.
	ErrSessionNotStopped = errors.New("session must be stopped before paying")

	// ErrSessionAlreadyPaid is returned on a second payment.
	ErrSessionAlreadyPaid = errors.New("session already paid")

	// ErrSlotSessionOpen is returned when a new session would be the second
	// open session on the same slot.
	ErrSlotSessionOpen = errors.New("slot already has an open session")

	// ErrCapacityExceeded is returned when every slot is occupied.
	ErrCapacityExceeded = errors.New("parking is full")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// CapacityError carries the counts behind an admission rejection.
type CapacityError struct {
	Occupied   int
	TotalSpots int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("parking is full: %d of %d slots occupied", e.Occupied, e.TotalSpots)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err refers to a missing slot or session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsConflict reports whether err is a lifecycle violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSessionAlreadyStopped) ||
		errors.Is(err, ErrSessionNotStopped) ||
		errors.Is(err, ErrSessionAlreadyPaid) ||
		errors.Is(err, ErrSlotSessionOpen)
}

// IsCapacityExceeded reports whether err is an admission rejection.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
