package ledger

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	MaxAccountNumberLength = 50
	MaxAccountNameLength   = 255

	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// NewAccount is the input to Accounts.Open. Empty Currency means the
// configured default.
type NewAccount struct {
	Number   string
	Name     string
	Currency string
}

// Accounts manages account records. Accounts are never deleted; they are
// deactivated or blocked.
type Accounts struct {
	store           AccountStore
	defaultCurrency string
	clock           Clock
	logger          *zap.Logger
}

func NewAccounts(store AccountStore, defaultCurrency string, clock Clock, logger *zap.Logger) *Accounts {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accounts{store: store, defaultCurrency: defaultCurrency, clock: clock, logger: logger}
}

// Open creates an active account.
func (s *Accounts) Open(ctx context.Context, in NewAccount) (Account, error) {
	number := strings.TrimSpace(in.Number)
	if n := utf8.RuneCountInString(number); n == 0 || n > MaxAccountNumberLength {
		return Account{}, &ValidationError{Field: "account_number", Message: "account_number must be 1 to 50 characters", Kind: ErrInvalidAccount}
	}
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxAccountNameLength {
		return Account{}, &ValidationError{Field: "account_name", Message: "account_name must be 1 to 255 characters", Kind: ErrInvalidAccount}
	}
	currency := in.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	if err := ValidateCurrency(currency); err != nil {
		return Account{}, err
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	account := Account{
		ID:        NewAccountID(),
		Number:    number,
		Name:      name,
		Currency:  currency,
		Status:    AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return Account{}, storeErr("create account", err)
	}

	s.logger.Info("account opened",
		zap.String("account_id", string(account.ID)),
		zap.String("account_number", account.Number),
		zap.String("currency", account.Currency))
	return account, nil
}

func (s *Accounts) Get(ctx context.Context, id AccountID) (Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, storeErr("load account", err)
	}
	return account, nil
}

// List clamps the page to 1.. and the limit to 1..MaxPageLimit.
func (s *Accounts) List(ctx context.Context, filter AccountFilter) ([]Account, int, error) {
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)
	accounts, total, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, 0, storeErr("list accounts", err)
	}
	return accounts, total, nil
}

// SetStatus moves the account to status and returns the updated record.
func (s *Accounts) SetStatus(ctx context.Context, id AccountID, status AccountStatus) (Account, error) {
	if !status.Valid() {
		return Account{}, &ValidationError{Field: "status", Message: "status must be active, inactive or blocked", Kind: ErrInvalidAccount}
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	if err := s.store.UpdateAccountStatus(ctx, id, status, now); err != nil {
		return Account{}, storeErr("update account status", err)
	}
	s.logger.Info("account status changed",
		zap.String("account_id", string(id)),
		zap.String("status", string(status)))
	return s.Get(ctx, id)
}

// NormalizePage defaults and clamps pagination input.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
