package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAccount(t *testing.T, s *Store, number, currency string) ledger.Account {
	a := ledger.Account{
		ID:        ledger.NewAccountID(),
		Number:    number,
		Name:      "Account " + number,
		Currency:  currency,
		Status:    ledger.AccountActive,
		CreatedAt: time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func sqliteTx(a ledger.Account, typ ledger.TransactionType, amount string, on ledger.Date) ledger.Transaction {
	return ledger.Transaction{
		ID:          ledger.NewTransactionID(on.Time()),
		AccountID:   a.ID,
		Amount:      ledger.MustMoney(amount, a.Currency),
		Type:        typ,
		Description: fmt.Sprintf("%s %s", typ, amount),
		Date:        on,
		CreatedAt:   on.Time().Add(12 * time.Hour),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestPostedSince(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	ctx := context.Background()
	day := ledger.NewDate(2025, time.June, 15)

	// Recorded at 12:00 on its own day.
	require.NoError(t, s.AppendTransaction(ctx, sqliteTx(a, ledger.TxCredit, "5.00", day)))
	noon := day.Time().Add(12 * time.Hour)

	cases := []struct {
		name  string
		date  ledger.Date
		since time.Time
		want  bool
	}{
		{"recorded after", day, noon.Add(-time.Minute), true},
		{"same second counts", day, noon, true},
		{"recorded before", day, noon.Add(time.Second), false},
		{"other date", day.AddDays(-1), noon.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.PostedSince(ctx, a.ID, tc.date, tc.since)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRangeTotals_ExactDecimalSums(t *testing.T) {
	// GIVEN: 1000 credits of 0.10
	// THEN: Exactly 100.00 (REAL arithmetic would drift)

	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	d := ledger.NewDate(2025, time.March, 1)

	var batch []ledger.Transaction
	for i := 0; i < 1000; i++ {
		batch = append(batch, sqliteTx(a, ledger.TxCredit, "0.10", d))
	}
	require.NoError(t, s.AppendBatch(context.Background(), batch))

	totals, err := s.RangeTotals(context.Background(), a.ID, nil, d, "BRL")
	require.NoError(t, err)
	assert.Equal(t, 1000, totals.Count)
	assert.Equal(t, "100.00", totals.Credits.AmountString())
}

func TestRangeTotals_HalfOpenWindow(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	ctx := context.Background()
	d := ledger.NewDate(2025, time.March, 1)

	require.NoError(t, s.AppendTransaction(ctx, sqliteTx(a, ledger.TxCredit, "100.00", d)))
	require.NoError(t, s.AppendTransaction(ctx, sqliteTx(a, ledger.TxDebit, "30.00", d.AddDays(1))))
	require.NoError(t, s.AppendTransaction(ctx, sqliteTx(a, ledger.TxCredit, "7.77", d.AddDays(2))))

	totals, err := s.RangeTotals(ctx, a.ID, nil, d.AddDays(1), "BRL")
	require.NoError(t, err)
	net, err := totals.Net()
	require.NoError(t, err)
	assert.Equal(t, "70.00", net.AmountString())
	assert.Equal(t, 2, totals.Count)

	after := d
	totals, err = s.RangeTotals(ctx, a.ID, &after, d.AddDays(2), "BRL")
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Count)
	assert.Equal(t, "7.77", totals.Credits.AmountString())
	assert.Equal(t, "30.00", totals.Debits.AmountString())
}

func TestAppendTransaction_RequiresAccount(t *testing.T) {
	s := newTestStore(t)
	ghost := ledger.Account{ID: "missing", Currency: "BRL"}

	err := s.AppendTransaction(context.Background(), sqliteTx(ghost, ledger.TxCredit, "1.00", ledger.NewDate(2025, 1, 1)))
	assert.Error(t, err)
}

func TestListTransactions_PagesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	ctx := context.Background()
	d := ledger.NewDate(2025, time.March, 1)
	for i := 0; i < 7; i++ {
		tx := sqliteTx(a, ledger.TxCredit, "1.00", d.AddDays(i))
		tx.ReferenceID = fmt.Sprintf("ref-%d", i)
		require.NoError(t, s.AppendTransaction(ctx, tx))
	}

	txs, total, err := s.ListTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID, Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, txs, 3)
	assert.True(t, txs[0].Date.Equal(d.AddDays(6)))
	assert.Equal(t, "ref-6", txs[0].ReferenceID)
	assert.Equal(t, "1.00 BRL", txs[0].Amount.String())

	txs, _, err = s.ListTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID, Page: 3, Limit: 3})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Date.Equal(d))

	txs, total, err = s.ListTransactions(ctx, ledger.TransactionFilter{AccountID: a.ID, From: d.AddDays(2), To: d.AddDays(3)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, txs, 2)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestInsertSnapshot_InsertOrIgnore(t *testing.T) {
	// GIVEN: Many goroutines inserting the same (account, date)
	// THEN: Exactly one insert reports true and one row exists

	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	d := ledger.NewDate(2025, time.March, 1)
	snap := ledger.BalanceSnapshot{
		AccountID:        a.ID,
		Date:             d,
		Balance:          ledger.MustMoney("1234.56", "BRL"),
		TransactionCount: 150,
		CreatedAt:        time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
	}

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertSnapshot(context.Background(), snap)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	count, err := s.CountSnapshots(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := s.SnapshotExists(context.Background(), a.ID, d)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0001", "USD")
	ctx := context.Background()
	d := ledger.NewDate(2025, time.March, 1)

	none, err := s.LatestSnapshot(ctx, a.ID, d)
	require.NoError(t, err)
	assert.Nil(t, none)

	for i, amount := range []string{"10.00", "20.00", "30.50"} {
		_, err := s.InsertSnapshot(ctx, ledger.BalanceSnapshot{
			AccountID:        a.ID,
			Date:             d.AddDays(i * 10),
			Balance:          ledger.MustMoney(amount, "USD"),
			TransactionCount: 100 + i,
			CreatedAt:        d.Time(),
		})
		require.NoError(t, err)
	}

	snap, err := s.LatestSnapshot(ctx, a.ID, d.AddDays(25))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Date.Equal(d.AddDays(20)))
	assert.Equal(t, "30.50 USD", snap.Balance.String())
	assert.Equal(t, 102, snap.TransactionCount)

	snap, err = s.LatestSnapshot(ctx, a.ID, d.AddDays(19))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "20.00 USD", snap.Balance.String())
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, "0001", "BRL")
	createAccount(t, s, "0002", "BRL")

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Number, got.Number)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	dup := a
	dup.ID = ledger.NewAccountID()
	assert.ErrorIs(t, s.CreateAccount(ctx, dup), ledger.ErrDuplicateAccountNumber)

	require.NoError(t, s.UpdateAccountStatus(ctx, a.ID, ledger.AccountBlocked, time.Now()))
	assert.ErrorIs(t, s.UpdateAccountStatus(ctx, "missing", ledger.AccountBlocked, time.Now()), ledger.ErrAccountNotFound)

	active, total, err := s.ListAccounts(ctx, ledger.AccountFilter{Status: ledger.AccountActive, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, active, 1)
	assert.Equal(t, "0002", active[0].Number)

	all, total, err := s.ListAccounts(ctx, ledger.AccountFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)
}

// =============================================================================
// RESOLVER ON SQLITE
// =============================================================================

func TestResolver_SnapshotTierMatchesFullScan(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0001", "BRL")
	ctx := context.Background()
	clock := ledger.FixedClock(time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC))
	today := ledger.Today(clock)

	var batch []ledger.Transaction
	for i := 0; i < 130; i++ {
		typ := ledger.TxCredit
		if i%5 == 0 {
			typ = ledger.TxDebit
		}
		batch = append(batch, sqliteTx(a, typ, "3.33", today.AddDays(-130+i)))
	}
	require.NoError(t, s.AppendBatch(ctx, batch))

	r := ledger.NewResolver(ledger.ResolverOptions{
		Ledger:    s,
		Snapshots: s,
		Accounts:  s,
		Policy:    ledger.NewSnapshotPolicy(s, 100, clock, nil),
		Clock:     clock,
	})

	cold, err := r.Resolve(ctx, a.ID, today.AddDays(-20))
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceCalculatedAndSnapshot, cold.Source)

	warm, err := r.Resolve(ctx, a.ID, today)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceSnapshot, warm.Source)

	totals, err := s.RangeTotals(ctx, a.ID, nil, today, "BRL")
	require.NoError(t, err)
	full, err := ledger.Calculator{}.Apply(ledger.Zero("BRL"), totals)
	require.NoError(t, err)
	assert.True(t, full.Equal(warm.Balance), "full %s, snapshot tier %s", full, warm.Balance)
}
