package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// CACHE KEYS AND TTL
// =============================================================================

const (
	// TodayTTL applies to balances of the processing date, which can still move.
	TodayTTL = time.Hour
	// HistoricalTTL applies to balances of closed days.
	HistoricalTTL = 24 * time.Hour
)

// CacheKey is balance:account:{id}:date:{YYYY-MM-DD}.
func CacheKey(accountID AccountID, date Date) string {
	return fmt.Sprintf("balance:account:%s:date:%s", accountID, date)
}

// AccountCachePrefix matches every cached date of one account.
func AccountCachePrefix(accountID AccountID) string {
	return fmt.Sprintf("balance:account:%s:", accountID)
}

// CacheTTL is 24h for dates before today and 1h otherwise.
func CacheTTL(target, today Date) time.Duration {
	if target.Before(today) {
		return HistoricalTTL
	}
	return TodayTTL
}

// =============================================================================
// CACHED VALUE
// =============================================================================

// CachedBalance is what the hot cache holds. Amount stays a decimal string.
// Source records the tier that computed it; a hit is always reported as
// SourceCache.
type CachedBalance struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Source   Source `json:"source,omitempty"`
}

func NewCachedBalance(r Resolution) CachedBalance {
	return CachedBalance{
		Amount:   r.Balance.AmountString(),
		Currency: r.Balance.Currency(),
		Source:   r.Source,
	}
}

func (c CachedBalance) Money() (Money, error) {
	return NewMoney(c.Amount, c.Currency)
}
