// Package store provides in-memory implementations of the ledger stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/balance-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store. Transactions are kept per account in
// date order, so range folds can stop at the first row past the window.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[ledger.AccountID]ledger.Account
	numbers      map[string]ledger.AccountID
	transactions map[ledger.AccountID][]ledger.Transaction
	snapshots    map[snapshotKey]ledger.BalanceSnapshot

	// Err, when set, is returned by every call. Tests use it to simulate
	// an unreachable store.
	Err error
}

type snapshotKey struct {
	AccountID ledger.AccountID
	Date      string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		numbers:      make(map[string]ledger.AccountID),
		transactions: make(map[ledger.AccountID][]ledger.Transaction),
		snapshots:    make(map[snapshotKey]ledger.BalanceSnapshot),
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// LEDGER
// =============================================================================

// AppendTransaction inserts tx after every transaction with the same or an
// earlier date. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	txs := m.transactions[tx.AccountID]
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Date.After(tx.Date)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs
	return nil
}

func (m *Memory) RangeTotals(_ context.Context, accountID ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return ledger.Totals{}, m.Err
	}

	txs := m.transactions[accountID]
	start := 0
	if after != nil {
		start = sort.Search(len(txs), func(i int) bool {
			return txs[i].Date.After(*after)
		})
	}

	totals := ledger.NewTotals(currency)
	for _, tx := range txs[start:] {
		if tx.Date.After(through) {
			break
		}
		if err := totals.Add(tx); err != nil {
			return ledger.Totals{}, err
		}
	}
	return totals, nil
}

func (m *Memory) PostedSince(_ context.Context, accountID ledger.AccountID, date ledger.Date, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}

	for _, tx := range m.transactions[accountID] {
		if tx.Date.Equal(date) && !tx.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	var matched []ledger.Transaction
	for _, tx := range m.transactions[f.AccountID] {
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		matched = append(matched, tx)
	}

	// Newest first: date, then creation, then id.
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	return page(matched, f.Offset(), f.Limit), total, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) LatestSnapshot(_ context.Context, accountID ledger.AccountID, onOrBefore ledger.Date) (*ledger.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var latest *ledger.BalanceSnapshot
	for k, snap := range m.snapshots {
		if k.AccountID != accountID || snap.Date.After(onOrBefore) {
			continue
		}
		if latest == nil || snap.Date.After(latest.Date) {
			s := snap
			latest = &s
		}
	}
	return latest, nil
}

func (m *Memory) SnapshotExists(_ context.Context, accountID ledger.AccountID, date ledger.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.snapshots[snapshotKey{AccountID: accountID, Date: date.String()}]
	return ok, nil
}

// InsertSnapshot is insert-or-ignore on (account, date).
func (m *Memory) InsertSnapshot(_ context.Context, snap ledger.BalanceSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	k := snapshotKey{AccountID: snap.AccountID, Date: snap.Date.String()}
	if _, ok := m.snapshots[k]; ok {
		return false, nil
	}
	m.snapshots[k] = snap
	return true, nil
}

// SnapshotCount is the number of snapshots stored for an account.
func (m *Memory) SnapshotCount(accountID ledger.AccountID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.snapshots {
		if k.AccountID == accountID {
			n++
		}
	}
	return n
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, taken := m.numbers[a.Number]; taken {
		return ledger.ErrDuplicateAccountNumber
	}
	m.accounts[a.ID] = a
	m.numbers[a.Number] = a.ID
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return ledger.Account{}, m.Err
	}
	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) ListAccounts(_ context.Context, f ledger.AccountFilter) ([]ledger.Account, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	var matched []ledger.Account
	for _, a := range m.accounts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].Number < matched[j].Number
	})

	total := len(matched)
	return page(matched, f.Offset(), f.Limit), total, nil
}

func (m *Memory) UpdateAccountStatus(_ context.Context, id ledger.AccountID, status ledger.AccountStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	a, ok := m.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Status = status
	a.UpdatedAt = at
	m.accounts[id] = a
	return nil
}

// page slices out [offset, offset+limit). A limit <= 0 returns everything
// after offset.
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
