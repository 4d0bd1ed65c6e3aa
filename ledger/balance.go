/*
balance.go - Balance calculation from transactions

PURPOSE:
  Turns transactions into balances. This is the only place the credit/debit
  sign convention is applied, whether the rows come from a full history
  scan, a snapshot delta, or a storage backend that already grouped them.

SIGN CONVENTION:
  Stored amounts are never negative.
    credit  -> +amount
    debit   -> -amount

TWO ENTRY POINTS:
  Sum:    start + transactions in (after, through], folded in memory
  Apply:  start + pre-aggregated Totals (Postgres returns these directly)

  Both are pure: no I/O, no clock, no state.

SEE ALSO:
  - resolver.go: snapshot and full tiers call Apply
  - store/sqlite: folds rows through Totals.Add
*/
package ledger

// =============================================================================
// TOTALS - Credits, debits and count over a window
// =============================================================================

// Totals accumulates credits and debits separately so both sides stay
// non-negative until Net is taken.
type Totals struct {
	Credits Money
	Debits  Money
	Count   int
}

// NewTotals returns empty totals in currency.
func NewTotals(currency string) Totals {
	return Totals{Credits: Zero(currency), Debits: Zero(currency)}
}

// Add folds one transaction in.
func (t *Totals) Add(tx Transaction) error {
	var err error
	switch tx.Type {
	case TxCredit:
		t.Credits, err = t.Credits.Add(tx.Amount)
	case TxDebit:
		t.Debits, err = t.Debits.Add(tx.Amount)
	default:
		return &ValidationError{Field: "type", Message: "unknown transaction type " + string(tx.Type), Kind: ErrInvalidTransaction}
	}
	if err != nil {
		return err
	}
	t.Count++
	return nil
}

// AddAmount folds a pre-summed group of one type.
func (t *Totals) AddAmount(typ TransactionType, amount Money, count int) error {
	var err error
	switch typ {
	case TxCredit:
		t.Credits, err = t.Credits.Add(amount)
	case TxDebit:
		t.Debits, err = t.Debits.Add(amount)
	default:
		return &ValidationError{Field: "type", Message: "unknown transaction type " + string(typ), Kind: ErrInvalidTransaction}
	}
	if err != nil {
		return err
	}
	t.Count += count
	return nil
}

// Net is credits minus debits.
func (t Totals) Net() (Money, error) {
	return t.Credits.Sub(t.Debits)
}

func (t Totals) Currency() string { return t.Credits.Currency() }

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator is stateless; the zero value is ready to use.
type Calculator struct{}

// Sum returns start plus the signed total of the transactions dated in
// (after, through], and how many transactions fell in the window.
// A nil after leaves the window open at the start. Order does not matter.
func (Calculator) Sum(start Money, txs []Transaction, after *Date, through Date) (Money, int, error) {
	totals := NewTotals(start.Currency())
	for _, tx := range txs {
		if after != nil && !tx.Date.After(*after) {
			continue
		}
		if tx.Date.After(through) {
			continue
		}
		if err := totals.Add(tx); err != nil {
			return Money{}, 0, err
		}
	}
	balance, err := Calculator{}.Apply(start, totals)
	if err != nil {
		return Money{}, 0, err
	}
	return balance, totals.Count, nil
}

// Apply returns start + credits - debits.
func (Calculator) Apply(start Money, totals Totals) (Money, error) {
	net, err := totals.Net()
	if err != nil {
		return Money{}, err
	}
	return start.Add(net)
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary describes the activity of an account over a date range.
type Summary struct {
	AccountID    AccountID
	From         Date
	To           Date
	TotalCredits Money
	TotalDebits  Money
	Net          Money
	Count        int
}

// Summarize turns totals into a Summary.
func (Calculator) Summarize(accountID AccountID, from, to Date, totals Totals) (Summary, error) {
	net, err := totals.Net()
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		AccountID:    accountID,
		From:         from,
		To:           to,
		TotalCredits: totals.Credits,
		TotalDebits:  totals.Debits,
		Net:          net,
		Count:        totals.Count,
	}, nil
}
