/*
Package postgres provides a PostgreSQL implementation of the ledger stores.

PURPOSE:
  Same contract as store/sqlite, for multi-instance deployments where
  several API processes share one database.

EXACT SUMS:
  Amounts are NUMERIC(20,2) and are summed in SQL, grouped by currency and
  type, then cast to text before they leave the database. Nothing is
  scanned into a float.

SNAPSHOT RACES:
  INSERT ... ON CONFLICT (account_id, snapshot_date) DO NOTHING, and the
  command tag's RowsAffected tells the caller whether it won.

USAGE:
  store, err := postgres.New(ctx, postgres.Options{DSN: os.Getenv("DATABASE_URL")}, logger)

SEE ALSO:
  - store/sqlite: single-node equivalent
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/warp/balance-engine/ledger"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	account_number VARCHAR(50) NOT NULL UNIQUE,
	account_name VARCHAR(255) NOT NULL,
	currency CHAR(3) NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	amount NUMERIC(20, 2) NOT NULL CHECK (amount >= 0),
	currency CHAR(3) NOT NULL,
	tx_type VARCHAR(6) NOT NULL CHECK (tx_type IN ('credit', 'debit')),
	description VARCHAR(500) NOT NULL,
	transaction_date DATE NOT NULL,
	reference_id VARCHAR(255),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_date
	ON transactions(account_id, transaction_date);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	account_id TEXT NOT NULL REFERENCES accounts(id),
	snapshot_date DATE NOT NULL,
	balance NUMERIC(20, 2) NOT NULL,
	currency CHAR(3) NOT NULL,
	transaction_count INTEGER NOT NULL,
	snapshot_type VARCHAR(20) NOT NULL DEFAULT 'daily',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, snapshot_date)
);
`

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectRetries  int
}

// Store implements ledger.Store on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects, retrying with linear backoff, and migrates the schema.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	retries := opts.ConnectRetries
	if retries <= 0 {
		retries = 5
	}

	var pool *pgxpool.Pool
	for attempt := 1; ; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}
			pool.Close()
		}
		if attempt >= retries {
			return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempt, err)
		}
		logger.Warn("postgres not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	s := &Store{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns))
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions
		(id, account_id, amount, currency, tx_type, description, transaction_date, reference_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)`,
		string(tx.ID),
		string(tx.AccountID),
		tx.Amount.Amount().String(),
		tx.Amount.Currency(),
		string(tx.Type),
		tx.Description,
		tx.Date.Time(),
		nullString(tx.ReferenceID),
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// RangeTotals sums transactions dated in (after, through] in SQL.
func (s *Store) RangeTotals(ctx context.Context, accountID ledger.AccountID, after *ledger.Date, through ledger.Date, currency string) (ledger.Totals, error) {
	var lower any
	if after != nil {
		lower = after.Time()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT currency, tx_type, SUM(amount)::text, COUNT(*)
		FROM transactions
		WHERE account_id = $1
		  AND transaction_date <= $2
		  AND ($3::date IS NULL OR transaction_date > $3::date)
		GROUP BY currency, tx_type`,
		string(accountID), through.Time(), lower,
	)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	totals := ledger.NewTotals(currency)
	for rows.Next() {
		var (
			rowCurrency string
			txType      string
			sum         string
			count       int
		)
		if err := rows.Scan(&rowCurrency, &txType, &sum, &count); err != nil {
			return ledger.Totals{}, fmt.Errorf("scan totals: %w", err)
		}
		amount, err := ledger.NewMoney(sum, strings.TrimSpace(rowCurrency))
		if err != nil {
			return ledger.Totals{}, fmt.Errorf("corrupt sum %q: %w", sum, err)
		}
		if err := totals.AddAmount(ledger.TransactionType(txType), amount, count); err != nil {
			return ledger.Totals{}, err
		}
	}
	return totals, rows.Err()
}

func (s *Store) PostedSince(ctx context.Context, accountID ledger.AccountID, date ledger.Date, since time.Time) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE account_id = $1 AND transaction_date = $2 AND created_at >= $3
		)`,
		string(accountID), date.Time(), since,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check late transactions: %w", err)
	}
	return found, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, int, error) {
	where := []string{"account_id = $1"}
	args := []any{string(f.AccountID)}
	if !f.From.IsZero() {
		args = append(args, f.From.Time())
		where = append(where, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.Time())
		where = append(where, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `
		SELECT id, account_id, amount::text, currency, tx_type, description, transaction_date, COALESCE(reference_id, ''), created_at
		FROM transactions
		WHERE ` + clause + `
		ORDER BY transaction_date DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx       ledger.Transaction
			id       string
			account  string
			amount   string
			currency string
			txType   string
			date     time.Time
		)
		if err := rows.Scan(&id, &account, &amount, &currency, &txType, &tx.Description, &date, &tx.ReferenceID, &tx.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.Amount, err = ledger.NewMoney(amount, strings.TrimSpace(currency)); err != nil {
			return nil, 0, fmt.Errorf("corrupt transaction %s: %w", id, err)
		}
		tx.ID = ledger.TransactionID(id)
		tx.AccountID = ledger.AccountID(account)
		tx.Type = ledger.TransactionType(txType)
		tx.Date = ledger.DateOf(date)
		txs = append(txs, tx)
	}
	return txs, total, rows.Err()
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

func (s *Store) LatestSnapshot(ctx context.Context, accountID ledger.AccountID, onOrBefore ledger.Date) (*ledger.BalanceSnapshot, error) {
	var (
		date     time.Time
		balance  string
		currency string
		snap     = ledger.BalanceSnapshot{AccountID: accountID}
	)
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot_date, balance::text, currency, transaction_count, created_at
		FROM balance_snapshots
		WHERE account_id = $1 AND snapshot_date <= $2
		ORDER BY snapshot_date DESC
		LIMIT 1`,
		string(accountID), onOrBefore.Time(),
	).Scan(&date, &balance, &currency, &snap.TransactionCount, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Date = ledger.DateOf(date)
	if snap.Balance, err = ledger.NewMoney(balance, strings.TrimSpace(currency)); err != nil {
		return nil, fmt.Errorf("corrupt snapshot balance %q: %w", balance, err)
	}
	return &snap, nil
}

func (s *Store) SnapshotExists(ctx context.Context, accountID ledger.AccountID, date ledger.Date) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM balance_snapshots WHERE account_id = $1 AND snapshot_date = $2)`,
		string(accountID), date.Time(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO balance_snapshots
		(account_id, snapshot_date, balance, currency, transaction_count, snapshot_type, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, 'daily', $6)
		ON CONFLICT (account_id, snapshot_date) DO NOTHING`,
		string(snap.AccountID),
		snap.Date.Time(),
		snap.Balance.Amount().String(),
		snap.Balance.Currency(),
		snap.TransactionCount,
		snap.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, account_number, account_name, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.ID), a.Number, a.Name, a.Currency, string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ledger.ErrDuplicateAccountNumber
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

const accountColumns = `id, account_number, account_name, currency, status, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, f ledger.AccountFilter) ([]ledger.Account, int, error) {
	where := "TRUE"
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = "status = $1"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` ORDER BY created_at ASC, account_number ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id ledger.AccountID, status ledger.AccountStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, string(id),
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a        ledger.Account
		id       string
		currency string
		status   string
	)
	if err := row.Scan(&id, &a.Number, &a.Name, &currency, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return ledger.Account{}, err
	}
	a.ID = ledger.AccountID(id)
	a.Currency = strings.TrimSpace(currency)
	a.Status = ledger.AccountStatus(status)
	return a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
