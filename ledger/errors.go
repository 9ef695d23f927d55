/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the API layer maps them to
  HTTP status codes.

ERROR CATEGORIES:
  1. Business rule - duplicate (customer, date) delivery
  2. Validation - malformed input rejected before any state change
  3. Store - persistence failures (logged by the Persister, returned
     only from Load and Restore)

MISSING IDS:
  Update and delete of an unknown ID are silent no-ops, not errors.

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to responses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateDelivery is returned when a customer already has a delivery
	// on the requested date.
	ErrDuplicateDelivery = errors.New("delivery already exists for this date")

	// ErrNameRequired is returned when a customer name is empty.
	ErrNameRequired = errors.New("customer name is required")

	// ErrCustomerRequired is returned when a delivery has no customer.
	ErrCustomerRequired = errors.New("customer id is required")

	// ErrInvalidPrice is returned for a negative rate.
	ErrInvalidPrice = errors.New("price must be non-negative")

	// ErrInvalidQuantity is returned for a quantity that is not positive.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrInvalidDate is returned for a date that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrFutureDate is returned for a delivery dated after today.
	ErrFutureDate = errors.New("future dates not allowed")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateDeliveryError provides details about a (customer, date) collision.
type DuplicateDeliveryError struct {
	CustomerID CustomerID
	Date       Date
	ExistingID DeliveryID
}

func (e *DuplicateDeliveryError) Error() string {
	return fmt.Sprintf("delivery already exists for customer %s on %s (delivery: %s)",
		e.CustomerID, e.Date, e.ExistingID)
}

func (e *DuplicateDeliveryError) Unwrap() error {
	return ErrDuplicateDelivery
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateDelivery) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrCustomerRequired) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrFutureDate) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the error is a uniqueness rejection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateDelivery)
}
