/*
errors.go - Centralized error types for the balance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the API layer wrap or match these; nothing outside this file
  declares a domain error.

ERROR CATEGORIES:
  1. Money errors - currency mismatch, malformed amounts
  2. Validation errors - bad transaction or account input
  3. Lookup errors - missing account, account not active
  4. Store errors - Ledger/Snapshot/Account store failures (hard failures)

  Hot cache failures are deliberately absent: the resolver and the poster
  log them and carry on, so they never reach a caller.

USAGE:
  if errors.Is(err, ledger.ErrAccountNotFound) {
      // 404
  }
  var mismatch *ledger.CurrencyMismatchError
  if errors.As(err, &mismatch) { ... }

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
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
	// ErrCurrencyMismatch is returned by Money arithmetic across currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidMoney is returned for malformed amounts or currency codes.
	ErrInvalidMoney = errors.New("invalid money")

	// ErrInvalidDate is returned for dates that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidTransaction is returned when a new transaction fails validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidAccount is returned when account input fails validation.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when posting to an inactive or blocked account.
	ErrAccountInactive = errors.New("account is not active")

	// ErrDuplicateAccountNumber is returned when the account number is taken.
	ErrDuplicateAccountNumber = errors.New("duplicate account number")

	// ErrPeriodClosed is returned when a transaction is dated on or before
	// the account's latest balance snapshot.
	ErrPeriodClosed = errors.New("period closed by snapshot")

	// ErrStoreUnavailable marks every durable store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CurrencyMismatchError names the two currencies that met in arithmetic.
type CurrencyMismatchError struct {
	Left  string
	Right string
	Op    string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: cannot %s %s and %s", e.Op, e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error {
	return ErrCurrencyMismatch
}

// ValidationError describes one rejected input field.
// Kind is the sentinel it matches (ErrInvalidMoney, ErrInvalidTransaction, ...).
type ValidationError struct {
	Field   string
	Message string
	Kind    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// StoreError wraps a durable store failure with the operation that failed.
// It matches both ErrStoreUnavailable and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// storeErr wraps err unless it already is a domain error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) ||
		errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCurrencyMismatch) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMoney) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrDuplicateAccountNumber) ||
		errors.Is(err, ErrPeriodClosed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
