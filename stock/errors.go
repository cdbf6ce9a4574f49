/*
errors.go - Centralized error types for the stock engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on the category, never on message text.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any store write
  2. Business-rule errors - unknown medication, insufficient stock
  3. Store-unavailable errors - connectivity/timeout; the ONLY retryable kind

USAGE:
  if stock.IsRetryable(err) {
      // tell the caller to try again later
  }

  var short *stock.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println(short.Available)
  }

SEE ALSO:
  - store/sqlite/sqlite.go: classifies driver failures as StoreError
  - api/handlers.go: maps categories to HTTP status codes
*/
package stock

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMedicationNotFound is returned when a referenced medication doesn't exist.
	ErrMedicationNotFound = errors.New("medication not found")

	// ErrMedicationExists is returned when adding a medication whose name is taken.
	ErrMedicationExists = errors.New("medication already exists")

	// ErrInsufficientStock is returned when a dispense exceeds the current balance.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidDate is returned when a calendar date cannot be parsed.
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrTransactionNotFound is returned when no active lines exist for a transaction_id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrMedicationReplaced is returned when editing a dispense whose
	// medication was deleted and its name reused by a new medication.
	ErrMedicationReplaced = errors.New("medication was deleted and its name reused")

	// ErrTooManyLines is returned when a dispense has more lines than allowed.
	ErrTooManyLines = errors.New("too many dispense lines")

	// ErrValidation is the parent of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable is returned when the store cannot be reached in time.
	// No write is assumed to have happened.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockNotObtained is returned when a medication lock could not be acquired.
	ErrLockNotObtained = errors.New("could not obtain medication lock")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	Medication string
	Available  int64
	Requested  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.Medication, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StoreError wraps a connectivity or timeout failure of the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// ValidationError lists invalid fields (field -> rule).
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLockNotObtained)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrTooManyLines) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrMedicationExists) ||
		errors.Is(err, ErrMedicationReplaced)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMedicationNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// Reason renders a business-rule error as the short reason reported for a
// rejected dispense line.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMedicationNotFound):
		return "medication not found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient stock"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid quantity"
	case errors.Is(err, ErrMedicationReplaced):
		return "medication replaced"
	default:
		return err.Error()
	}
}
