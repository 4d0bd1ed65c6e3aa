package ledger

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Durable, append-only transaction storage
// =============================================================================

// LedgerStore persists transactions.
//
// APPEND-ONLY: there is no update or delete. Implementations must return
// exact sums; summing through a float type is a bug.
type LedgerStore interface {
	// AppendTransaction inserts tx.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// RangeTotals folds the account's transactions with
	// after < date <= through. A nil after means from the beginning.
	// Transactions in a currency other than currency fail with
	// ErrCurrencyMismatch.
	RangeTotals(ctx context.Context, accountID AccountID, after *Date, through Date, currency string) (Totals, error)

	// PostedSince reports whether a transaction dated date was recorded
	// with created_at >= since.
	PostedSince(ctx context.Context, accountID AccountID, date Date, since time.Time) (bool, error)

	// ListTransactions returns one page, newest first, and the total
	// number of matching rows.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// SnapshotStore persists balance snapshots, unique per (account, date).
type SnapshotStore interface {
	// LatestSnapshot returns the snapshot with the greatest date <= onOrBefore,
	// or nil when there is none.
	LatestSnapshot(ctx context.Context, accountID AccountID, onOrBefore Date) (*BalanceSnapshot, error)

	// SnapshotExists reports whether a snapshot exists for exactly date.
	SnapshotExists(ctx context.Context, accountID AccountID, date Date) (bool, error)

	// InsertSnapshot is insert-or-ignore on (account, date). inserted is
	// false when another writer got there first; that is not an error.
	InsertSnapshot(ctx context.Context, snap BalanceSnapshot) (inserted bool, err error)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountReader is the read side resolvers and posters need.
type AccountReader interface {
	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id AccountID) (Account, error)
}

type AccountStore interface {
	AccountReader

	// CreateAccount returns ErrDuplicateAccountNumber when Number is taken.
	CreateAccount(ctx context.Context, account Account) error
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error)
	UpdateAccountStatus(ctx context.Context, id AccountID, status AccountStatus, at time.Time) error
}

// Store is everything a durable backend provides.
type Store interface {
	LedgerStore
	SnapshotStore
	AccountStore
	Close() error
}

// =============================================================================
// HOT CACHE - Best-effort, TTL'd
// =============================================================================

// HotCache is a key/value cache with per-key TTL. Every error is treated
// by callers as a miss or a no-op.
type HotCache interface {
	Get(ctx context.Context, key string) (CachedBalance, bool, error)
	Set(ctx context.Context, key string, value CachedBalance, ttl time.Duration) error
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// =============================================================================
// EVENTS
// =============================================================================

// EventPublisher announces committed transactions to other services.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, tx Transaction) error
}
