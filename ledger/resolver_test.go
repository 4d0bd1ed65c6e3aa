package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/cache"
	"github.com/warp/balance-engine/events"
	"github.com/warp/balance-engine/ledger"
	"github.com/warp/balance-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type harness struct {
	now      time.Time
	clock    ledger.Clock
	store    *store.Memory
	cache    *cache.Memory
	events   *events.Recorder
	policy   *ledger.SnapshotPolicy
	resolver *ledger.Resolver
	poster   *ledger.Poster
	accounts *ledger.Accounts
}

// newHarness pins "now" to 2025-06-15 10:00 UTC. Tests move h.now forward
// between steps, never while goroutines are running.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)}
	h.clock = ledger.ClockFunc(func() time.Time { return h.now })
	h.store = store.NewMemory()
	h.cache = cache.NewMemory(h.clock)
	h.events = &events.Recorder{}
	h.policy = ledger.NewSnapshotPolicy(h.store, ledger.DefaultSnapshotThreshold, h.clock, nil)
	h.resolver = h.newResolver(h.cache)
	h.poster = ledger.NewPoster(ledger.PosterOptions{
		Accounts:  h.store,
		Ledger:    h.store,
		Snapshots: h.store,
		Cache:     h.cache,
		Events:    h.events,
		Clock:     h.clock,
	})
	h.accounts = ledger.NewAccounts(h.store, "BRL", h.clock, nil)
	return h
}

func (h *harness) newResolver(hot ledger.HotCache) *ledger.Resolver {
	return ledger.NewResolver(ledger.ResolverOptions{
		Ledger:       h.store,
		Snapshots:    h.store,
		Accounts:     h.store,
		Cache:        hot,
		Policy:       h.policy,
		Clock:        h.clock,
		CacheTimeout: 20 * time.Millisecond,
	})
}

func (h *harness) today() ledger.Date { return ledger.Today(h.clock) }

func (h *harness) open(t *testing.T, number, currency string) ledger.Account {
	t.Helper()
	a, err := h.accounts.Open(context.Background(), ledger.NewAccount{Number: number, Name: "Account " + number, Currency: currency})
	require.NoError(t, err)
	return a
}

func (h *harness) post(t *testing.T, a ledger.Account, typ ledger.TransactionType, amount string, on ledger.Date) ledger.Transaction {
	t.Helper()
	tx, err := h.poster.Post(context.Background(), ledger.NewTransaction{
		AccountID:   a.ID,
		Amount:      amount,
		Type:        typ,
		Description: fmt.Sprintf("%s %s", typ, amount),
		Date:        on,
	})
	require.NoError(t, err)
	return tx
}

// fullRecompute sums the whole history without snapshots or cache.
func (h *harness) fullRecompute(t *testing.T, a ledger.Account, target ledger.Date) ledger.Money {
	t.Helper()
	totals, err := h.store.RangeTotals(context.Background(), a.ID, nil, target, a.Currency)
	require.NoError(t, err)
	balance, err := ledger.Calculator{}.Apply(ledger.Zero(a.Currency), totals)
	require.NoError(t, err)
	return balance
}

func (h *harness) resolve(t *testing.T, a ledger.Account, target ledger.Date) ledger.Resolution {
	t.Helper()
	res, err := h.resolver.Resolve(context.Background(), a.ID, target)
	require.NoError(t, err)
	return res
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestResolver_ThresholdScenario(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	day1, day2 := today.AddDays(-120), today.AddDays(-119)

	// GIVEN: An account with no transactions
	// THEN: 0.00, calculated
	res := h.resolve(t, a, today)
	assert.Equal(t, "0.00", res.Balance.AmountString())
	assert.Equal(t, "BRL", res.Balance.Currency())
	assert.Equal(t, ledger.SourceCalculated, res.Source)

	// WHEN: Credit 100.00 on day 1 and debit 30.00 on day 2
	// THEN: Balance at day 2 is 70.00
	h.post(t, a, ledger.TxCredit, "100.00", day1)
	h.post(t, a, ledger.TxDebit, "30.00", day2)

	res = h.resolve(t, a, day2)
	assert.Equal(t, "70.00", res.Balance.AmountString())
	assert.Equal(t, ledger.SourceCalculated, res.Source)

	// WHEN: 99 more transactions bring the total to 101
	// THEN: The next cold resolve creates a snapshot at that date
	var last ledger.Date
	for i := 1; i <= 99; i++ {
		last = day2.AddDays(i)
		h.post(t, a, ledger.TxCredit, "1.00", last)
	}

	res = h.resolve(t, a, last)
	assert.Equal(t, ledger.SourceCalculatedAndSnapshot, res.Source)
	assert.Equal(t, "169.00", res.Balance.AmountString())
	assert.Equal(t, 1, h.store.SnapshotCount(a.ID))

	snap, err := h.store.LatestSnapshot(context.Background(), a.ID, today)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Date.Equal(last))
	assert.Equal(t, 101, snap.TransactionCount)

	// WHEN: A later date is resolved
	// THEN: Snapshot tier answers and matches full recomputation
	h.post(t, a, ledger.TxDebit, "19.00", today)
	res = h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceSnapshot, res.Source)
	assert.Equal(t, "150.00", res.Balance.AmountString())
	assert.True(t, res.Balance.Equal(h.fullRecompute(t, a, today)))

	// AND: Asking again is served from the cache
	res = h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceCache, res.Source)
	assert.Equal(t, "150.00", res.Balance.AmountString())
}

func TestResolver_ZeroTargetMeansToday(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.post(t, a, ledger.TxCredit, "12.34", h.today())

	res := h.resolve(t, a, ledger.Date{})
	assert.True(t, res.Date.Equal(h.today()))
	assert.Equal(t, "12.34", res.Balance.AmountString())
}

func TestResolver_SnapshotsTodayAndSkipsItOnceBehind(t *testing.T) {
	// GIVEN: 101 transactions, the last one dated today
	// WHEN: Today is resolved cold
	// THEN: A snapshot of today is created

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	for i := 100; i >= 0; i-- {
		h.post(t, a, ledger.TxCredit, "1.00", today.AddDays(-i))
	}
	h.now = h.now.Add(time.Minute)

	res := h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceCalculatedAndSnapshot, res.Source)
	assert.Equal(t, "101.00", res.Balance.AmountString())
	assert.Equal(t, 1, h.store.SnapshotCount(a.ID))

	require.NoError(t, h.cache.DeletePrefix(context.Background(), ledger.AccountCachePrefix(a.ID)))
	res = h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceSnapshot, res.Source)
	assert.Equal(t, "101.00", res.Balance.AmountString())

	// WHEN: Another posting lands on today after the snapshot
	// THEN: It is accepted, and the snapshot is no longer trusted
	h.now = h.now.Add(time.Minute)
	h.post(t, a, ledger.TxDebit, "1.00", today)

	res = h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceCalculated, res.Source)
	assert.Equal(t, "100.00", res.Balance.AmountString())
	assert.True(t, res.Balance.Equal(h.fullRecompute(t, a, today)))
	assert.Equal(t, 1, h.store.SnapshotCount(a.ID))

	// AND: Days before the snapshot stay closed
	_, err := h.poster.Post(context.Background(), ledger.NewTransaction{
		AccountID: a.ID, Amount: "1.00", Type: ledger.TxCredit, Description: "late", Date: today.AddDays(-1),
	})
	assert.ErrorIs(t, err, ledger.ErrPeriodClosed)

	// WHEN: The next day is resolved
	// THEN: The stale snapshot is passed over and a fresh one is taken
	h.now = h.now.Add(24 * time.Hour)
	res = h.resolve(t, a, h.today())
	assert.Equal(t, ledger.SourceCalculatedAndSnapshot, res.Source)
	assert.Equal(t, "100.00", res.Balance.AmountString())
	assert.Equal(t, 2, h.store.SnapshotCount(a.ID))
}

// =============================================================================
// TIER EQUIVALENCE
// =============================================================================

func TestResolver_AllTiersAgree(t *testing.T) {
	// GIVEN: 150 transactions spread over 150 past days
	// WHEN: Resolving each date cold, then via snapshot, then via cache
	// THEN: Every tier returns the full recomputation

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	start := today.AddDays(-150)
	for i := 0; i < 150; i++ {
		typ, amount := ledger.TxCredit, "10.10"
		if i%4 == 3 {
			typ, amount = ledger.TxDebit, "17.35"
		}
		h.post(t, a, typ, amount, start.AddDays(i))
	}

	// Crosses the threshold and leaves a snapshot at day 120.
	snapDate := start.AddDays(120)
	res := h.resolve(t, a, snapDate)
	require.Equal(t, ledger.SourceCalculatedAndSnapshot, res.Source)

	for _, offset := range []int{0, 50, 119, 120, 121, 140, 149, 150} {
		target := start.AddDays(offset)
		want := h.fullRecompute(t, a, target)

		first := h.resolve(t, a, target)
		second := h.resolve(t, a, target)

		assert.True(t, want.Equal(first.Balance), "offset %d (%s): want %s got %s", offset, first.Source, want, first.Balance)
		assert.True(t, want.Equal(second.Balance), "offset %d cached", offset)
		assert.Equal(t, ledger.SourceCache, second.Source)
		if offset > 120 {
			assert.Equal(t, ledger.SourceSnapshot, first.Source, "offset %d", offset)
		}
	}
}

func TestResolver_SnapshotTierOnlyReadsDelta(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	for i := 0; i < 100; i++ {
		h.post(t, a, ledger.TxCredit, "1.00", today.AddDays(-200+i))
	}
	snapDate := today.AddDays(-101)
	require.Equal(t, ledger.SourceCalculatedAndSnapshot, h.resolve(t, a, snapDate).Source)

	spy := &rangeSpy{LedgerStore: h.store}
	r := ledger.NewResolver(ledger.ResolverOptions{
		Ledger:    spy,
		Snapshots: h.store,
		Accounts:  h.store,
		Policy:    h.policy,
		Clock:     h.clock,
	})

	res, err := r.Resolve(context.Background(), a.ID, today)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceSnapshot, res.Source)
	assert.Equal(t, "100.00", res.Balance.AmountString())

	require.Len(t, spy.afters, 1)
	require.NotNil(t, spy.afters[0])
	assert.True(t, spy.afters[0].Equal(snapDate))
}

type rangeSpy struct {
	ledger.LedgerStore
	mu     sync.Mutex
	afters []*ledger.Date
}

func (s *rangeSpy) RangeTotals(ctx context.Context, id ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	s.mu.Lock()
	s.afters = append(s.afters, after)
	s.mu.Unlock()
	return s.LedgerStore.RangeTotals(ctx, id, after, through, currency)
}

// =============================================================================
// CACHE BEHAVIOUR
// =============================================================================

func TestResolver_CacheTTL(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	h.post(t, a, ledger.TxCredit, "5.00", today.AddDays(-3))

	h.resolve(t, a, today)
	h.resolve(t, a, today.AddDays(-1))

	assert.Equal(t, ledger.TodayTTL, h.cache.TTL(ledger.CacheKey(a.ID, today)))
	assert.Equal(t, ledger.HistoricalTTL, h.cache.TTL(ledger.CacheKey(a.ID, today.AddDays(-1))))
}

func TestResolver_StaleEntryExpiresAfterTTL(t *testing.T) {
	// GIVEN: Today's balance is cached
	// WHEN: Another writer appends without invalidating, then the TTL passes
	// THEN: The new transaction shows up, and no balance goes backwards

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	today := h.today()
	h.post(t, a, ledger.TxCredit, "10.00", today)

	first := h.resolve(t, a, today)
	require.Equal(t, "10.00", first.Balance.AmountString())

	raw := ledger.Transaction{
		ID:          ledger.NewTransactionID(h.now),
		AccountID:   a.ID,
		Amount:      ledger.MustMoney("5.00", "BRL"),
		Type:        ledger.TxCredit,
		Description: "direct append",
		Date:        today,
		CreatedAt:   h.now,
	}
	require.NoError(t, h.store.AppendTransaction(context.Background(), raw))

	stale := h.resolve(t, a, today)
	assert.Equal(t, ledger.SourceCache, stale.Source)
	assert.Equal(t, "10.00", stale.Balance.AmountString())

	h.now = h.now.Add(ledger.TodayTTL + time.Minute)
	fresh := h.resolve(t, a, today)
	assert.NotEqual(t, ledger.SourceCache, fresh.Source)
	assert.Equal(t, "15.00", fresh.Balance.AmountString())
}

func TestResolver_PostingInvalidatesAccountEntries(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	b := h.open(t, "ACC-2", "")
	today := h.today()

	h.resolve(t, a, today)
	h.resolve(t, a, today.AddDays(-1))
	h.resolve(t, b, today)
	require.Equal(t, 3, h.cache.Len())

	h.post(t, a, ledger.TxCredit, "1.00", today)

	assert.Equal(t, 1, h.cache.Len())
	assert.Equal(t, "1.00", h.resolve(t, a, today).Balance.AmountString())
}

func TestResolver_CacheFailureIsAMiss(t *testing.T) {
	// GIVEN: The hot cache returns errors on every call
	// THEN: Resolution still succeeds from the durable tiers

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.post(t, a, ledger.TxCredit, "42.00", h.today().AddDays(-1))

	h.cache.Err = errors.New("connection refused")

	res := h.resolve(t, a, h.today())
	assert.Equal(t, ledger.SourceCalculated, res.Source)
	assert.Equal(t, "42.00", res.Balance.AmountString())

	// Writes failed too, so nothing was remembered.
	h.cache.Err = nil
	assert.Equal(t, 0, h.cache.Len())
}

func TestResolver_SlowCacheTimesOut(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	r := h.newResolver(blockingCache{})

	start := time.Now()
	res, err := r.Resolve(context.Background(), a.ID, h.today())
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceCalculated, res.Source)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// blockingCache never answers before the caller's deadline.
type blockingCache struct{}

func (blockingCache) Get(ctx context.Context, _ string) (ledger.CachedBalance, bool, error) {
	<-ctx.Done()
	return ledger.CachedBalance{}, false, ctx.Err()
}

func (blockingCache) Set(ctx context.Context, _ string, _ ledger.CachedBalance, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingCache) DeletePrefix(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestResolver_UnreadableCacheEntryIsAMiss(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	key := ledger.CacheKey(a.ID, h.today())
	require.NoError(t, h.cache.Set(context.Background(), key, ledger.CachedBalance{Amount: "garbage", Currency: "BRL"}, time.Hour))

	res := h.resolve(t, a, h.today())
	assert.Equal(t, ledger.SourceCalculated, res.Source)
	assert.Equal(t, "0.00", res.Balance.AmountString())
}

func TestResolver_WorksWithoutCache(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.post(t, a, ledger.TxCredit, "3.00", h.today())
	r := h.newResolver(nil)

	for i := 0; i < 2; i++ {
		res, err := r.Resolve(context.Background(), a.ID, h.today())
		require.NoError(t, err)
		assert.Equal(t, ledger.SourceCalculated, res.Source)
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestResolver_StoreFailureIsHardError(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.store.Err = errors.New("disk I/O error")

	_, err := h.resolver.Resolve(context.Background(), a.ID, h.today())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	var storeErr *ledger.StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestResolver_UnknownAccount(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Resolve(context.Background(), ledger.NewAccountID(), h.today())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestResolver_SnapshotWriteFailureStillAnswers(t *testing.T) {
	// GIVEN: The snapshot insert fails
	// THEN: The computed balance is returned as "calculated"

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	yesterday := h.today().AddDays(-1)
	for i := 0; i < 100; i++ {
		h.post(t, a, ledger.TxCredit, "1.00", yesterday.AddDays(-i))
	}

	failing := &failingInserts{SnapshotStore: h.store}
	r := ledger.NewResolver(ledger.ResolverOptions{
		Ledger:    h.store,
		Snapshots: h.store,
		Accounts:  h.store,
		Policy:    ledger.NewSnapshotPolicy(failing, 100, h.clock, nil),
		Clock:     h.clock,
	})

	res, err := r.Resolve(context.Background(), a.ID, yesterday)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceCalculated, res.Source)
	assert.Equal(t, "100.00", res.Balance.AmountString())
	assert.Equal(t, 0, h.store.SnapshotCount(a.ID))
}

type failingInserts struct {
	ledger.SnapshotStore
}

func (failingInserts) InsertSnapshot(context.Context, ledger.BalanceSnapshot) (bool, error) {
	return false, errors.New("read-only transaction")
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestResolver_ConcurrentColdResolvesCreateOneSnapshot(t *testing.T) {
	// GIVEN: 16 independent resolvers (as if on 16 instances) sharing a store
	// WHEN: All resolve the same closed date at once
	// THEN: One snapshot row, exactly one "calculated+snapshot_created",
	//       and every caller sees the same balance

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	target := h.today().AddDays(-1)
	for i := 0; i < 120; i++ {
		h.post(t, a, ledger.TxCredit, "2.50", target.AddDays(-i))
	}

	const n = 16
	results := make([]ledger.Resolution, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		r := h.newResolver(nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.Resolve(context.Background(), a.ID, target)
		}(i)
	}
	close(start)
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "300.00", results[i].Balance.AmountString())
		if results[i].Source == ledger.SourceCalculatedAndSnapshot {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, h.store.SnapshotCount(a.ID))
}

func TestResolver_StampedeSharesOneTraversal(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.post(t, a, ledger.TxCredit, "1.00", h.today())

	gate := &gatedStore{LedgerStore: h.store, release: make(chan struct{})}
	r := ledger.NewResolver(ledger.ResolverOptions{
		Ledger:    gate,
		Snapshots: h.store,
		Accounts:  h.store,
		Clock:     h.clock,
	})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), a.ID, h.today())
			assert.NoError(t, err)
			assert.Equal(t, "1.00", res.Balance.AmountString())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Less(t, int(gate.calls.Load()), n)
}

type gatedStore struct {
	ledger.LedgerStore
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedStore) RangeTotals(ctx context.Context, id ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	g.calls.Add(1)
	<-g.release
	return g.LedgerStore.RangeTotals(ctx, id, after, through, currency)
}

func TestResolver_LeavingCallerDoesNotFailOthers(t *testing.T) {
	// GIVEN: Two callers coalesced onto one traversal
	// WHEN: The caller that started it goes away
	// THEN: It gets its own cancellation, the other still gets the balance

	h := newHarness(t)
	a := h.open(t, "ACC-1", "")
	h.post(t, a, ledger.TxCredit, "1.00", h.today())

	gate := &ctxGatedStore{LedgerStore: h.store, release: make(chan struct{})}
	r := ledger.NewResolver(ledger.ResolverOptions{
		Ledger:    gate,
		Snapshots: h.store,
		Accounts:  h.store,
		Clock:     h.clock,
	})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, a.ID, h.today())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return gate.calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		res ledger.Resolution
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(context.Background(), a.ID, h.today())
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "1.00", got.res.Balance.AmountString())
	assert.Equal(t, int32(1), gate.calls.Load())
}

// ctxGatedStore blocks range reads until release, failing like a real
// store if the context ends first.
type ctxGatedStore struct {
	ledger.LedgerStore
	release chan struct{}
	calls   atomic.Int32
}

func (g *ctxGatedStore) RangeTotals(ctx context.Context, id ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return ledger.Totals{}, ctx.Err()
	}
	return g.LedgerStore.RangeTotals(ctx, id, after, through, currency)
}

// =============================================================================
// CURRENCY ISOLATION
// =============================================================================

func TestResolver_CurrenciesStaySeparate(t *testing.T) {
	h := newHarness(t)
	brl := h.open(t, "ACC-BRL", "BRL")
	usd := h.open(t, "ACC-USD", "USD")
	yesterday := h.today().AddDays(-1)

	h.post(t, brl, ledger.TxCredit, "10.00", yesterday)
	h.post(t, usd, ledger.TxCredit, "99.99", yesterday)
	h.post(t, usd, ledger.TxDebit, "0.99", h.today())

	rb := h.resolve(t, brl, h.today())
	ru := h.resolve(t, usd, h.today())

	assert.Equal(t, "10.00 BRL", rb.Balance.String())
	assert.Equal(t, "99.00 USD", ru.Balance.String())

	// Cached values keep their currency.
	assert.Equal(t, "USD", h.resolve(t, usd, h.today()).Balance.Currency())
}
