/*
resolver.go - Three-tier balance resolution

PURPOSE:
  Answers "balance of account A at the end of day D" and says which tier
  produced the answer.

TIERS (tried in order, first hit wins):
  1. cache     Hot cache lookup by (account, date). Errors and timeouts
               are a miss.
  2. snapshot  Latest snapshot with date <= D, plus the delta of
               transactions in (snapshot date, D]. Never rescans rows at or
               before the snapshot date. A provisional snapshot (taken while
               its day was open) is skipped once a row dated that day has
               been recorded after it.
  3. full      Every transaction <= D. The snapshot policy may then persist
               a snapshot ("calculated+snapshot_created").

  After tiers 2 and 3 the result is written to the cache with a TTL of
  1h (D is today or later) or 24h (D is a closed day). A cache write that
  fails is logged and dropped.

FAILURES:
  Ledger and snapshot store reads are hard errors; there is nothing left
  to fall back to. The snapshot write on the full tier happens after the
  balance is already known, so its failure is logged and the result is
  reported as "calculated".

CONCURRENCY:
  No lock is held across tiers. Identical (account, date) requests in one
  process share a single traversal through singleflight; across processes
  the snapshot insert-or-ignore settles any race. The shared traversal is
  detached from the caller that started it and bounded by Timeout, and
  each caller stops waiting when its own context ends.

SEE ALSO:
  - snapshot.go: SnapshotPolicy
  - cache.go: keys and TTLs
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTimeout bounds every hot cache call.
	DefaultCacheTimeout = 150 * time.Millisecond

	// DefaultResolveTimeout bounds one shared traversal of the tiers.
	DefaultResolveTimeout = 10 * time.Second
)

// ResolverOptions wires a Resolver. Cache and Policy may be nil.
type ResolverOptions struct {
	Ledger       LedgerStore
	Snapshots    SnapshotStore
	Accounts     AccountReader
	Cache        HotCache
	Policy       *SnapshotPolicy
	Clock        Clock
	CacheTimeout time.Duration
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Resolver holds no balance state of its own; each call walks the tiers.
type Resolver struct {
	ledger       LedgerStore
	snapshots    SnapshotStore
	accounts     AccountReader
	cache        HotCache
	policy       *SnapshotPolicy
	calc         Calculator
	clock        Clock
	cacheTimeout time.Duration
	timeout      time.Duration
	logger       *zap.Logger

	tiers []tier
	group singleflight.Group
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		ledger:       opts.Ledger,
		snapshots:    opts.Snapshots,
		accounts:     opts.Accounts,
		cache:        opts.Cache,
		policy:       opts.Policy,
		clock:        opts.Clock,
		cacheTimeout: opts.CacheTimeout,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.cacheTimeout <= 0 {
		r.cacheTimeout = DefaultCacheTimeout
	}
	if r.timeout <= 0 {
		r.timeout = DefaultResolveTimeout
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.tiers = []tier{cacheTier{r}, snapshotTier{r}, fullTier{r}}
	return r
}

// Resolve returns the balance at the end of target. A zero target means today.
func (r *Resolver) Resolve(ctx context.Context, accountID AccountID, target Date) (Resolution, error) {
	today := Today(r.clock)
	if target.IsZero() {
		target = today
	}
	q := query{accountID: accountID, target: target, today: today, key: CacheKey(accountID, target)}

	// Callers that join keep their own deadline; the first caller leaving
	// must not fail them.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(q.key, func() (any, error) {
		ctx, cancel := context.WithTimeout(shared, r.timeout)
		defer cancel()
		return r.walk(ctx, q)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		return res.Val.(Resolution), nil
	case <-ctx.Done():
		return Resolution{}, fmt.Errorf("resolve %s: %w", q.key, ctx.Err())
	}
}

func (r *Resolver) walk(ctx context.Context, q query) (Resolution, error) {
	for _, t := range r.tiers {
		res, ok, err := t.lookup(ctx, q)
		if err != nil {
			return Resolution{}, err
		}
		if !ok {
			continue
		}
		if res.Source != SourceCache {
			r.remember(ctx, q, res)
		}
		return res, nil
	}
	// fullTier always answers or fails.
	return Resolution{}, fmt.Errorf("resolve %s: no tier answered", q.key)
}

// remember writes res to the cache. Failures are logged, never returned.
func (r *Resolver) remember(ctx context.Context, q query, res Resolution) {
	if r.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cacheTimeout)
	defer cancel()

	ttl := CacheTTL(q.target, q.today)
	if err := r.cache.Set(ctx, q.key, NewCachedBalance(res), ttl); err != nil {
		r.logger.Warn("hot cache write failed",
			zap.String("key", q.key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
	}
}

// =============================================================================
// TIERS
// =============================================================================

type query struct {
	accountID AccountID
	target    Date
	today     Date
	key       string
}

// tier answers a query or passes (ok=false) to the next one.
type tier interface {
	lookup(ctx context.Context, q query) (Resolution, bool, error)
}

type cacheTier struct{ r *Resolver }

func (t cacheTier) lookup(ctx context.Context, q query) (Resolution, bool, error) {
	if t.r.cache == nil {
		return Resolution{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.r.cacheTimeout)
	defer cancel()

	cached, ok, err := t.r.cache.Get(ctx, q.key)
	if err != nil {
		t.r.logger.Warn("hot cache read failed, treating as miss",
			zap.String("key", q.key),
			zap.Error(err))
		return Resolution{}, false, nil
	}
	if !ok {
		return Resolution{}, false, nil
	}
	balance, err := cached.Money()
	if err != nil {
		t.r.logger.Warn("unreadable hot cache entry, treating as miss",
			zap.String("key", q.key),
			zap.Error(err))
		return Resolution{}, false, nil
	}
	return Resolution{AccountID: q.accountID, Date: q.target, Balance: balance, Source: SourceCache}, true, nil
}

type snapshotTier struct{ r *Resolver }

func (t snapshotTier) lookup(ctx context.Context, q query) (Resolution, bool, error) {
	snap, err := t.r.snapshots.LatestSnapshot(ctx, q.accountID, q.target)
	if err != nil {
		return Resolution{}, false, storeErr("load latest snapshot", err)
	}
	if snap == nil {
		return Resolution{}, false, nil
	}
	if snap.Provisional() {
		late, err := t.r.ledger.PostedSince(ctx, q.accountID, snap.Date, snap.CreatedAt)
		if err != nil {
			return Resolution{}, false, storeErr("check provisional snapshot", err)
		}
		if late {
			t.r.logger.Debug("provisional snapshot is behind, skipping",
				zap.String("account_id", string(q.accountID)),
				zap.String("snapshot_date", snap.Date.String()))
			return Resolution{}, false, nil
		}
	}

	after := snap.Date
	delta, err := t.r.ledger.RangeTotals(ctx, q.accountID, &after, q.target, snap.Balance.Currency())
	if err != nil {
		return Resolution{}, false, storeErr("sum snapshot delta", err)
	}
	balance, err := t.r.calc.Apply(snap.Balance, delta)
	if err != nil {
		return Resolution{}, false, err
	}
	return Resolution{AccountID: q.accountID, Date: q.target, Balance: balance, Source: SourceSnapshot}, true, nil
}

type fullTier struct{ r *Resolver }

func (t fullTier) lookup(ctx context.Context, q query) (Resolution, bool, error) {
	account, err := t.r.accounts.GetAccount(ctx, q.accountID)
	if err != nil {
		return Resolution{}, false, storeErr("load account", err)
	}

	readAt := t.r.clock.Now()
	totals, err := t.r.ledger.RangeTotals(ctx, q.accountID, nil, q.target, account.Currency)
	if err != nil {
		return Resolution{}, false, storeErr("sum transactions", err)
	}
	balance, err := t.r.calc.Apply(Zero(account.Currency), totals)
	if err != nil {
		return Resolution{}, false, err
	}

	source := SourceCalculated
	if t.r.policy != nil {
		created, err := t.r.policy.Consider(ctx, q.accountID, totals.Count, balance, q.target, readAt)
		switch {
		case err != nil:
			t.r.logger.Warn("snapshot not persisted",
				zap.String("account_id", string(q.accountID)),
				zap.String("date", q.target.String()),
				zap.Error(err))
		case created:
			source = SourceCalculatedAndSnapshot
		}
	}
	return Resolution{AccountID: q.accountID, Date: q.target, Balance: balance, Source: source}, true, nil
}
