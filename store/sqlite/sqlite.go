/*
Package sqlite provides a SQLite-backed implementation of the ledger stores.

PURPOSE:
  Implements ledger.LedgerStore, ledger.SnapshotStore and ledger.AccountStore
  on a single SQLite database. The default durable backend for single-node
  deployments and for handler tests (":memory:").

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table
  - balance_snapshots rows are inserted once and never updated

KEY TABLES:
  accounts:           Account records (status is the only mutable column)
  transactions:       Immutable ledger, amounts >= 0, sign from tx_type
  balance_snapshots:  UNIQUE(account_id, snapshot_date)

EXACT SUMS:
  Amounts are TEXT. SQLite's SUM() goes through REAL and would round, so
  range totals are folded in Go through ledger.Totals instead.

INDEXES:
  - idx_transactions_account_date: range folds (hot path)
  - idx_snapshots_account_date: latest snapshot at or before a date

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Snapshot races are still settled by
  ON CONFLICT DO NOTHING, which is what PostgreSQL relies on.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/balance-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_number TEXT NOT NULL UNIQUE,
		account_name TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_status
		ON accounts(status);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('credit', 'debit')),
		description TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Range folds by account and date (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, transaction_date);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Balance snapshots, one per account and day
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		snapshot_date TEXT NOT NULL,
		balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		transaction_count INTEGER NOT NULL,
		snapshot_type TEXT NOT NULL DEFAULT 'daily',
		created_at TEXT NOT NULL,
		UNIQUE(account_id, snapshot_date)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_account_date
		ON balance_snapshots(account_id, snapshot_date DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.LedgerStore interface)
// =============================================================================

// AppendTransaction adds a transaction to the ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, account_id, amount, currency, tx_type, description, transaction_date, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.AccountID,
		tx.Amount.Amount().String(),
		tx.Amount.Currency(),
		tx.Type,
		tx.Description,
		tx.Date.String(),
		nullString(tx.ReferenceID),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// RangeTotals folds transactions dated in (after, through].
func (s *Store) RangeTotals(ctx context.Context, accountID ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT tx_type, amount, currency
		FROM transactions
		WHERE account_id = ? AND transaction_date <= ?
	`
	args := []any{accountID, through.String()}
	if after != nil {
		query += ` AND transaction_date > ?`
		args = append(args, after.String())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("failed to query transaction totals: %w", err)
	}
	defer rows.Close()

	totals := ledger.NewTotals(currency)
	for rows.Next() {
		var txType, amount, txCurrency string
		if err := rows.Scan(&txType, &amount, &txCurrency); err != nil {
			return ledger.Totals{}, fmt.Errorf("failed to scan transaction totals: %w", err)
		}
		m, err := ledger.NewMoney(amount, txCurrency)
		if err != nil {
			return ledger.Totals{}, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		if err := totals.AddAmount(ledger.TransactionType(txType), m, 1); err != nil {
			return ledger.Totals{}, err
		}
	}
	return totals, rows.Err()
}

// PostedSince reports whether a row dated date has created_at >= since.
// created_at is stored as UTC RFC3339, so text comparison orders it.
func (s *Store) PostedSince(ctx context.Context, accountID ledger.AccountID, date ledger.Date, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE account_id = ? AND transaction_date = ? AND created_at >= ?
		)`,
		accountID, date.String(), since.UTC().Format(time.RFC3339),
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check late transactions: %w", err)
	}
	return found == 1, nil
}

// ListTransactions returns one page, newest first.
func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"account_id = ?"}
	args := []any{f.AccountID}
	if !f.From.IsZero() {
		where = append(where, "transaction_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "transaction_date <= ?")
		args = append(args, f.To.String())
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT id, account_id, amount, currency, tx_type, description, transaction_date, reference_id, created_at
		FROM transactions
		WHERE ` + clause + `
		ORDER BY transaction_date DESC, created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	txs, err := s.queryTransactions(ctx, query, append(args, limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx          ledger.Transaction
		amount      string
		currency    string
		txDate      string
		referenceID sql.NullString
		createdAt   string
	)

	err := rows.Scan(
		&tx.ID, &tx.AccountID, &amount, &currency, &tx.Type,
		&tx.Description, &txDate, &referenceID, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Amount, err = ledger.NewMoney(amount, currency); err != nil {
		return tx, fmt.Errorf("corrupt transaction %s: %w", tx.ID, err)
	}
	if tx.Date, err = ledger.ParseDate(txDate); err != nil {
		return tx, fmt.Errorf("corrupt transaction %s: %w", tx.ID, err)
	}
	tx.ReferenceID = referenceID.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return tx, nil
}

// =============================================================================
// SNAPSHOT STORE (ledger.SnapshotStore interface)
// =============================================================================

// LatestSnapshot returns the newest snapshot dated on or before onOrBefore.
func (s *Store) LatestSnapshot(ctx context.Context, accountID ledger.AccountID, onOrBefore ledger.Date) (*ledger.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT account_id, snapshot_date, balance, currency, transaction_count, created_at
		FROM balance_snapshots
		WHERE account_id = ? AND snapshot_date <= ?
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	var (
		snap      ledger.BalanceSnapshot
		snapDate  string
		balance   string
		currency  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, accountID, onOrBefore.String()).Scan(
		&snap.AccountID, &snapDate, &balance, &currency, &snap.TransactionCount, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if snap.Date, err = ledger.ParseDate(snapDate); err != nil {
		return nil, fmt.Errorf("corrupt snapshot date %q: %w", snapDate, err)
	}
	if snap.Balance, err = ledger.NewMoney(balance, currency); err != nil {
		return nil, fmt.Errorf("corrupt snapshot balance %q: %w", balance, err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &snap, nil
}

func (s *Store) SnapshotExists(ctx context.Context, accountID ledger.AccountID, date ledger.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM balance_snapshots WHERE account_id = ? AND snapshot_date = ?",
		accountID, date.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	return count > 0, nil
}

// InsertSnapshot is insert-or-ignore on (account_id, snapshot_date).
func (s *Store) InsertSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO balance_snapshots
		(account_id, snapshot_date, balance, currency, transaction_count, snapshot_type, created_at)
		VALUES (?, ?, ?, ?, ?, 'daily', ?)
		ON CONFLICT(account_id, snapshot_date) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		snap.AccountID,
		snap.Date.String(),
		snap.Balance.Amount().String(),
		snap.Balance.Currency(),
		snap.TransactionCount,
		snap.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return n == 1, nil
}

// CountSnapshots returns how many snapshots an account has.
func (s *Store) CountSnapshots(ctx context.Context, accountID ledger.AccountID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM balance_snapshots WHERE account_id = ?", accountID,
	).Scan(&count)
	return count, err
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, account_number, account_name, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Number, a.Name, a.Currency, a.Status,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateAccountNumber
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_number, account_name, currency, status, created_at, updated_at
		FROM accounts WHERE id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
		}
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return scanAccount(rows)
}

func (s *Store) ListAccounts(ctx context.Context, f ledger.AccountFilter) ([]ledger.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := "1 = 1"
	var args []any
	if f.Status != "" {
		where = "status = ?"
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, account_number, account_name, currency, status, created_at, updated_at
		FROM accounts
		WHERE ` + where + `
		ORDER BY created_at ASC, account_number ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?",
		status, at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func scanAccount(rows *sql.Rows) (ledger.Account, error) {
	var (
		a         ledger.Account
		createdAt string
		updatedAt string
	)
	err := rows.Scan(&a.ID, &a.Number, &a.Name, &a.Currency, &a.Status, &createdAt, &updatedAt)
	if err != nil {
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
