/*
errors.go - Centralized error taxonomy for the coaching engine

PURPOSE:
  All business error types in one place for consistency and
  discoverability. Domain packages wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - bad input, missing relationship, bad interval
  2. Resource errors   - no free table, insufficient funds
  3. Concurrency errors - stale version token (retryable)
  4. State errors      - operation illegal in current state
  5. Refund errors     - refund step failed, enclosing tx must abort

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, core.ErrConcurrencyConflict) {
        // retry with fresh state
    }

SEE ALSO:
  - booking/engine.go: produces most of these
  - api/handlers.go: maps them to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input shape, a missing coach-student
	// relationship, or an invalid time interval.
	ErrValidation = errors.New("validation failed")

	// ErrResourceUnavailable is returned when no table is free for the
	// requested interval.
	ErrResourceUnavailable = errors.New("no table available")

	// ErrInsufficientFunds is returned when an account balance cannot cover
	// a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrencyConflict is returned when an optimistic write targets a
	// stale version. Retryable.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrStateConflict is returned when an operation is illegal in the
	// entity's current state (e.g. confirming a resolved appointment).
	ErrStateConflict = errors.New("operation illegal in current state")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is returned for unrecognized static configuration,
	// e.g. an unknown coach tariff tier.
	ErrConfiguration = errors.New("configuration error")

	// ErrRefundFailed is returned when a refund step fails inside an
	// approval. The enclosing operation must roll back entirely.
	ErrRefundFailed = errors.New("refund failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a balance shortage on a debit.
type InsufficientFundsError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s",
		e.AccountID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StateConflictError reports an operation attempted in the wrong state.
type StateConflictError struct {
	Entity    string
	ID        string
	Current   string
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s, cannot %s", e.Entity, e.ID, e.Current, e.Attempted)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// QuotaExceededError reports an exhausted monthly cancellation quota.
type QuotaExceededError struct {
	UserID string
	Role   string
	Used   int
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s %s used %d of %d cancellations this month",
		e.Role, e.UserID, e.Used, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrValidation }

// RefundError reports a failed refund and the payment it targeted.
type RefundError struct {
	PaymentID string
	Cause     error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund of payment %s failed: %v", e.PaymentID, e.Cause)
}

func (e *RefundError) Unwrap() error { return ErrRefundFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or an expected business refusal.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrResourceUnavailable) ||
		errors.Is(err, ErrStateConflict)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
