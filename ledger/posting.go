/*
posting.go - Recording new transactions

PURPOSE:
  The one writer of the ledger. Validates input against the account,
  appends the transaction, then tells the rest of the system:

    validate -> append -> invalidate cached balances -> publish event

  Only the append can fail the call. Cache invalidation and event
  publishing are best-effort and logged.

CLOSED PERIODS:
  A snapshot freezes the sum through its date. A transaction dated before
  the account's latest snapshot, or on the date of a snapshot taken after
  its day closed, is rejected with ErrPeriodClosed. Postings on the date
  of a provisional snapshot are accepted; the resolver stops trusting
  that snapshot once it sees them.

  The check and the append are separate store calls. A snapshot inserted
  by a concurrent cold resolve between the two can miss the posting; the
  hot cache TTL bounds how long that shows, the snapshot row does not.

SEE ALSO:
  - resolver.go: reads what this writes
  - events/: EventPublisher implementations
*/
package ledger

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	MaxDescriptionLength = 500
	MaxReferenceLength   = 255
)

// lastDate is later than any date a snapshot can carry.
var lastDate = NewDate(9999, time.December, 31)

// NewTransaction is the input to Post. Empty Currency means the account's;
// a zero Date means today.
type NewTransaction struct {
	AccountID   AccountID
	Amount      string
	Currency    string
	Type        TransactionType
	Description string
	Date        Date
	ReferenceID string
}

// PosterOptions wires a Poster. Snapshots, Cache and Events may be nil.
type PosterOptions struct {
	Accounts     AccountReader
	Ledger       LedgerStore
	Snapshots    SnapshotStore
	Cache        HotCache
	Events       EventPublisher
	Clock        Clock
	CacheTimeout time.Duration
	Logger       *zap.Logger
}

type Poster struct {
	accounts     AccountReader
	ledger       LedgerStore
	snapshots    SnapshotStore
	cache        HotCache
	events       EventPublisher
	clock        Clock
	cacheTimeout time.Duration
	logger       *zap.Logger
}

func NewPoster(opts PosterOptions) *Poster {
	p := &Poster{
		accounts:     opts.Accounts,
		ledger:       opts.Ledger,
		snapshots:    opts.Snapshots,
		cache:        opts.Cache,
		events:       opts.Events,
		clock:        opts.Clock,
		cacheTimeout: opts.CacheTimeout,
		logger:       opts.Logger,
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	if p.cacheTimeout <= 0 {
		p.cacheTimeout = DefaultCacheTimeout
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Post validates and appends one transaction.
func (p *Poster) Post(ctx context.Context, in NewTransaction) (Transaction, error) {
	account, err := p.accounts.GetAccount(ctx, in.AccountID)
	if err != nil {
		return Transaction{}, storeErr("load account", err)
	}
	if err := account.CanTransact(); err != nil {
		return Transaction{}, err
	}

	tx, err := p.build(in, account)
	if err != nil {
		return Transaction{}, err
	}

	if err := p.checkOpenPeriod(ctx, tx); err != nil {
		return Transaction{}, err
	}

	if err := p.ledger.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, storeErr("append transaction", err)
	}

	p.invalidate(ctx, account.ID)
	p.publish(ctx, tx)

	p.logger.Debug("transaction posted",
		zap.String("transaction_id", string(tx.ID)),
		zap.String("account_id", string(tx.AccountID)),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()),
		zap.String("date", tx.Date.String()))
	return tx, nil
}

func (p *Poster) build(in NewTransaction, account Account) (Transaction, error) {
	if !in.Type.Valid() {
		return Transaction{}, &ValidationError{Field: "type", Message: "type must be credit or debit", Kind: ErrInvalidTransaction}
	}

	currency := in.Currency
	if currency == "" {
		currency = account.Currency
	}
	amount, err := NewMoney(in.Amount, currency)
	if err != nil {
		return Transaction{}, err
	}
	if currency != account.Currency {
		return Transaction{}, &CurrencyMismatchError{Left: account.Currency, Right: currency, Op: "post"}
	}
	if !amount.IsPositive() {
		return Transaction{}, &ValidationError{Field: "amount", Message: "amount must be greater than zero", Kind: ErrInvalidTransaction}
	}

	description := strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(description); n == 0 || n > MaxDescriptionLength {
		return Transaction{}, &ValidationError{Field: "description", Message: "description must be 1 to 500 characters", Kind: ErrInvalidTransaction}
	}
	reference := strings.TrimSpace(in.ReferenceID)
	if utf8.RuneCountInString(reference) > MaxReferenceLength {
		return Transaction{}, &ValidationError{Field: "reference_id", Message: "reference_id must be at most 255 characters", Kind: ErrInvalidTransaction}
	}

	now := p.clock.Now().UTC()
	date := in.Date
	if date.IsZero() {
		date = DateOf(now)
	}

	return Transaction{
		ID:          NewTransactionID(now),
		AccountID:   account.ID,
		Amount:      amount,
		Type:        in.Type,
		Description: description,
		Date:        date,
		CreatedAt:   now.Truncate(time.Second),
		ReferenceID: reference,
	}, nil
}

func (p *Poster) checkOpenPeriod(ctx context.Context, tx Transaction) error {
	if p.snapshots == nil {
		return nil
	}
	latest, err := p.snapshots.LatestSnapshot(ctx, tx.AccountID, lastDate)
	if err != nil {
		return storeErr("load latest snapshot", err)
	}
	if latest == nil || tx.Date.After(latest.Date) {
		return nil
	}
	if tx.Date.Before(latest.Date) || !latest.Provisional() {
		return &ValidationError{
			Field:   "transaction_date",
			Message: "balance through " + latest.Date.String() + " is already snapshotted",
			Kind:    ErrPeriodClosed,
		}
	}
	return nil
}

func (p *Poster) invalidate(ctx context.Context, accountID AccountID) {
	if p.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.cacheTimeout)
	defer cancel()

	if err := p.cache.DeletePrefix(ctx, AccountCachePrefix(accountID)); err != nil {
		p.logger.Warn("hot cache invalidation failed",
			zap.String("account_id", string(accountID)),
			zap.Error(err))
	}
}

func (p *Poster) publish(ctx context.Context, tx Transaction) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishTransaction(ctx, tx); err != nil {
		p.logger.Warn("transaction event not published",
			zap.String("transaction_id", string(tx.ID)),
			zap.Error(err))
	}
}
