package ledger

import (
	"context"
)

// History answers read-only questions about past activity.
type History struct {
	ledger   LedgerStore
	accounts AccountReader
	calc     Calculator
}

func NewHistory(ledger LedgerStore, accounts AccountReader) *History {
	return &History{ledger: ledger, accounts: accounts}
}

// Transactions returns one page of an account's transactions, newest first.
func (h *History) Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	if _, err := h.accounts.GetAccount(ctx, filter.AccountID); err != nil {
		return nil, 0, storeErr("load account", err)
	}
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)
	txs, total, err := h.ledger.ListTransactions(ctx, filter)
	if err != nil {
		return nil, 0, storeErr("list transactions", err)
	}
	return txs, total, nil
}

// Summary totals credits and debits dated in [from, to].
func (h *History) Summary(ctx context.Context, accountID AccountID, from, to Date) (Summary, error) {
	if to.Before(from) {
		return Summary{}, &ValidationError{Field: "end_date", Message: "end_date is before start_date", Kind: ErrInvalidDate}
	}
	account, err := h.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Summary{}, storeErr("load account", err)
	}
	after := from.AddDays(-1)
	totals, err := h.ledger.RangeTotals(ctx, accountID, &after, to, account.Currency)
	if err != nil {
		return Summary{}, storeErr("sum transactions", err)
	}
	return h.calc.Summarize(accountID, from, to, totals)
}
