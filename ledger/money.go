/*
money.go - Exact decimal amounts tagged with a currency

PURPOSE:
  Every amount that flows through the balance engine is a Money value.
  Arithmetic is only defined between values of the same currency; mixing
  currencies is a data-integrity error, never an implicit conversion.

PRECISION:
  Backed by shopspring/decimal. Amounts cross process boundaries as
  strings ("70.00"), in JSON, in the hot cache, and in SQLite TEXT columns.
  There is no float64 anywhere on the path from storage to response.

USAGE:
  price, err := ledger.NewMoney("100.00", "BRL")
  fee := ledger.MustMoney("2.50", "BRL")
  net, err := price.Sub(fee) // 97.50 BRL

SEE ALSO:
  - balance.go: Calculator and Totals fold transactions through Money
  - errors.go: CurrencyMismatchError
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// displayScale is the minimum number of fractional digits rendered.
const displayScale = 2

// Money is an immutable exact decimal amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney parses an exact decimal string and validates the currency code.
func NewMoney(amount, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return Money{}, &ValidationError{Field: "amount", Message: "amount is required", Kind: ErrInvalidMoney}
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("%q is not a decimal amount", amount), Kind: ErrInvalidMoney}
	}
	return Money{amount: d, currency: currency}, nil
}

// MustMoney is NewMoney for literals. Panics on invalid input.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal wraps an already exact decimal.
func MoneyFromDecimal(d decimal.Decimal, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{amount: d, currency: currency}, nil
}

// Zero returns 0 in the given currency. The currency is not validated;
// callers pass codes that were validated when the account was opened.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// ValidateCurrency checks for a 3-letter upper-case ISO 4217 style code.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return &ValidationError{Field: "currency", Message: fmt.Sprintf("currency %q must be a 3-letter code", code), Kind: ErrInvalidMoney}
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return &ValidationError{Field: "currency", Message: fmt.Sprintf("currency %q must be upper-case letters", code), Kind: ErrInvalidMoney}
		}
	}
	return nil
}

// Accessors
func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string         { return m.currency }
func (m Money) IsZero() bool             { return m.amount.IsZero() }
func (m Money) IsPositive() bool         { return m.amount.IsPositive() }
func (m Money) IsNegative() bool         { return m.amount.IsNegative() }
func (m Money) Neg() Money               { return Money{amount: m.amount.Neg(), currency: m.currency} }

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &CurrencyMismatchError{Left: m.currency, Right: other.currency, Op: "add"}
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Both values must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &CurrencyMismatchError{Left: m.currency, Right: other.currency, Op: "subtract"}
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Cmp orders by amount, then by currency code.
func (m Money) Cmp(other Money) int {
	if c := m.amount.Cmp(other.amount); c != 0 {
		return c
	}
	return strings.Compare(m.currency, other.currency)
}

// Equal reports identical currency and numerically equal amount
// ("70" equals "70.00").
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// AmountString renders the amount with at least two fractional digits.
// Extra precision is never rounded away.
func (m Money) AmountString() string {
	// String drops trailing zeros, so "1.500" counts as one digit.
	digits := 0
	if _, frac, ok := strings.Cut(m.amount.String(), "."); ok {
		digits = len(frac)
	}
	return m.amount.StringFixed(int32(max(displayScale, digits)))
}

func (m Money) String() string {
	return m.AmountString() + " " + m.currency
}

// =============================================================================
// JSON
// =============================================================================

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.AmountString(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
