/*
Package ledger provides the balance-resolution engine.

PURPOSE:
  Tracks an append-only ledger of financial transactions per account and
  answers "what is the balance on date D?" without re-summing the whole
  ledger on every request.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: the key balances are resolved over
  - Transaction: an immutable, non-negative ledger entry signed by its type
  - BalanceSnapshot: the ledger sum for an account as of a fixed date
  - Source: which tier produced a resolved balance

DESIGN PRINCIPLES:
  1. Immutability: transactions are inserted, never updated or deleted
  2. Precision: Money wraps decimal.Decimal, no floats
  3. Type Safety: AccountID and TransactionID are distinct types
  4. Sign by type: stored amounts are always >= 0, credit adds, debit subtracts

SEE ALSO:
  - resolver.go: cache -> snapshot -> full aggregation
  - snapshot.go: when to materialize a snapshot
  - balance.go: the arithmetic
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBlocked  AccountStatus = "blocked"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountInactive, AccountBlocked:
		return true
	}
	return false
}

// Account owns a ledger in a single currency.
type Account struct {
	ID        AccountID
	Number    string
	Name      string
	Currency  string
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) IsActive() bool { return a.Status == AccountActive }

// CanTransact returns ErrAccountInactive unless the account is active.
func (a Account) CanTransact() error {
	if !a.IsActive() {
		return &ValidationError{Field: "account_id", Message: "account " + string(a.ID) + " is " + string(a.Status), Kind: ErrAccountInactive}
	}
	return nil
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxCredit TransactionType = "credit"
	TxDebit  TransactionType = "debit"
)

func (t TransactionType) Valid() bool { return t == TxCredit || t == TxDebit }

// Transaction amounts are non-negative; Type carries the sign.
type Transaction struct {
	ID          TransactionID
	AccountID   AccountID
	Amount      Money
	Type        TransactionType
	Description string
	Date        Date
	CreatedAt   time.Time
	ReferenceID string
}

// Signed returns the amount with the sign implied by Type.
func (tx Transaction) Signed() Money {
	if tx.Type == TxDebit {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

// TransactionFilter selects a page of an account's transactions.
// Zero dates leave that side of the range open.
type TransactionFilter struct {
	AccountID AccountID
	From      Date
	To        Date
	Page      int
	Limit     int
}

// Offset is the row offset of the page (pages start at 1).
func (f TransactionFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// AccountFilter selects a page of accounts. Empty Status means any.
type AccountFilter struct {
	Status AccountStatus
	Page   int
	Limit  int
}

func (f AccountFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// BalanceSnapshot is the ledger sum for AccountID through Date, inclusive.
// Never mutated; a later snapshot supersedes it for later lookups.
type BalanceSnapshot struct {
	AccountID        AccountID
	Date             Date
	Balance          Money
	TransactionCount int
	// CreatedAt is when the summed rows were read, not when the row was written.
	CreatedAt time.Time
}

// Provisional reports whether the snapshot was taken while Date was still
// open for postings. Rows dated Date and recorded at or after CreatedAt are
// not in Balance.
func (s BalanceSnapshot) Provisional() bool {
	return !s.Date.Before(DateOf(s.CreatedAt))
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Source is the provenance of a resolved balance.
type Source string

const (
	SourceCache                 Source = "cache"
	SourceSnapshot              Source = "snapshot"
	SourceCalculated            Source = "calculated"
	SourceCalculatedAndSnapshot Source = "calculated+snapshot_created"
)

// Resolution is the balance of an account at the end of Date.
type Resolution struct {
	AccountID AccountID
	Date      Date
	Balance   Money
	Source    Source
}
