package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Ledger error taxonomy. Every mutating failure rolls the surrounding database
// transaction back in full; there is no partial-write state to clean up.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidEntryType       = errors.New("invalid entry type")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidState           = errors.New("invalid state")
	ErrAlreadyTerminal        = errors.New("withdrawal request already finalized")
	ErrBelowMinimum           = errors.New("amount below minimum withdrawal")
	ErrConcurrentModification = errors.New("concurrent balance modification")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("access denied")
)

// InsufficientFundsError carries the available balance so callers can echo it
// in the response and the UI can render actionable guidance.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s", e.Requested, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// isSerializationFailure matches Postgres serialization_failure and
// deadlock_detected, the two conditions where retrying the whole transaction
// once is safe.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// isUniqueViolation matches Postgres unique_violation, used as the
// authoritative idempotency guard on deposit provider references.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}
