/*
snapshot.go - When to materialize a balance snapshot

PURPOSE:
  After a full aggregation the resolver hands the result to the policy.
  Accounts busy enough to make full scans expensive get a snapshot so the
  next cold lookup only sums the delta after it.

DECISION RULE (all must hold):
  1. transactions considered >= Threshold (default 100)
  2. as-of date is not after today
  3. no snapshot exists for exactly that date

OPEN DAYS:
  A snapshot of today is provisional: today can still receive postings.
  Its CreatedAt is the instant the resolver read the rows, so the snapshot
  tier can tell whether anything dated today was recorded since.

RACES:
  Two resolutions can both pass rules 1-3. The store's insert-or-ignore on
  (account, date) decides; the loser sees inserted=false and carries on.
  There is no in-process lock here, several instances share the store.

SEE ALSO:
  - resolver.go: the only caller
  - store/sqlite, store/postgres: ON CONFLICT DO NOTHING
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSnapshotThreshold is the transaction count that triggers a snapshot.
const DefaultSnapshotThreshold = 100

type SnapshotPolicy struct {
	Threshold int
	Store     SnapshotStore
	Clock     Clock
	Logger    *zap.Logger
}

// NewSnapshotPolicy fills defaults for a zero threshold, nil clock or logger.
func NewSnapshotPolicy(store SnapshotStore, threshold int, clock Clock, logger *zap.Logger) *SnapshotPolicy {
	if threshold <= 0 {
		threshold = DefaultSnapshotThreshold
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotPolicy{Threshold: threshold, Store: store, Clock: clock, Logger: logger}
}

// Eligible applies rules 1 and 2 without touching storage.
func (p *SnapshotPolicy) Eligible(count int, asOf, today Date) bool {
	return count >= p.Threshold && !asOf.After(today)
}

// Consider persists a snapshot when the decision rule holds. readAt is when
// the rows behind balance were read. It reports whether this call inserted
// the row.
func (p *SnapshotPolicy) Consider(ctx context.Context, accountID AccountID, count int, balance Money, asOf Date, readAt time.Time) (bool, error) {
	if !p.Eligible(count, asOf, Today(p.Clock)) {
		return false, nil
	}

	exists, err := p.Store.SnapshotExists(ctx, accountID, asOf)
	if err != nil {
		return false, storeErr("check snapshot", err)
	}
	if exists {
		return false, nil
	}

	inserted, err := p.Store.InsertSnapshot(ctx, BalanceSnapshot{
		AccountID:        accountID,
		Date:             asOf,
		Balance:          balance,
		TransactionCount: count,
		CreatedAt:        readAt.UTC().Truncate(time.Second),
	})
	if err != nil {
		return false, storeErr("insert snapshot", err)
	}

	if inserted {
		p.Logger.Info("balance snapshot created",
			zap.String("account_id", string(accountID)),
			zap.String("date", asOf.String()),
			zap.Int("transaction_count", count),
			zap.String("balance", balance.String()))
	}
	return inserted, nil
}
