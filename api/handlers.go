/*
handlers.go - HTTP API handlers for the balance engine

PURPOSE:
  Exposes accounts, transactions and balance resolution over REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the ledger package.

ENDPOINTS:
  Health:
    GET    /health                              Store and cache reachability

  Accounts:
    POST   /api/v1/accounts                     Open account
    GET    /api/v1/accounts                     List accounts (page, limit)
    GET    /api/v1/accounts/{id}                Get account
    POST   /api/v1/accounts/{id}/status         Activate, deactivate or block
    GET    /api/v1/accounts/{id}/balance        Resolve balance (?date=YYYY-MM-DD)
    GET    /api/v1/accounts/{id}/summary        Credits/debits (?start_date&end_date)

  Transactions:
    POST   /api/v1/transactions                 Post transaction
    GET    /api/v1/transactions                 List (?account_id&page&limit&start_date&end_date)

  Scenarios:
    GET    /api/v1/scenarios                    List demo scenarios
    POST   /api/v1/scenarios/load               Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Call ledger (Accounts, Poster, Resolver, History)
  3. Serialize response
  4. Map errors

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: malformed body or query parameter
  - 404: account not found
  - 422: rejected by a business rule (inactive account, duplicate number,
         currency mismatch on posting, closed period, invalid amount)
  - 500: store failures and data-integrity errors
  - 503: health check with the store down

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/balance-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Handler. Cache may be nil.
type Deps struct {
	Accounts *ledger.Accounts
	Poster   *ledger.Poster
	Resolver *ledger.Resolver
	History  *ledger.History
	Store    Pinger
	Cache    Pinger
	Clock    ledger.Clock
	Logger   *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts *ledger.Accounts
	Poster   *ledger.Poster
	Resolver *ledger.Resolver
	History  *ledger.History

	store  Pinger
	cache  Pinger
	clock  ledger.Clock
	logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		Accounts: d.Accounts,
		Poster:   d.Poster,
		Resolver: d.Resolver,
		History:  d.History,
		store:    d.Store,
		cache:    d.Cache,
		clock:    d.Clock,
		logger:   d.Logger,
	}
	if h.clock == nil {
		h.clock = ledger.SystemClock{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports "healthy", "degraded" (cache down) or "unhealthy" (store down).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthDTO{Status: "healthy", Checks: map[string]string{}, Time: h.clock.Now().UTC()}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			resp.Checks["store"] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["store"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			resp.Checks["cache"] = err.Error()
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["cache"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a new active account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.Open(r.Context(), ledger.NewAccount{
		Number:   req.AccountNumber,
		Name:     req.AccountName,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// ListAccounts returns one page of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}
	filter := ledger.AccountFilter{Status: ledger.AccountStatus(r.URL.Query().Get("status")), Page: page, Limit: limit}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	accounts, total, err := h.Accounts.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list accounts", err)
		return
	}

	page, limit = ledger.NormalizePage(page, limit)
	writeJSON(w, http.StatusOK, AccountListResponse{
		Accounts:   toAccountDTOs(accounts),
		Pagination: newPagination(page, limit, total),
	})
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.Accounts.Get(r.Context(), accountIDParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// UpdateAccountStatus activates, deactivates or blocks an account.
func (h *Handler) UpdateAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Accounts.SetStatus(r.Context(), accountIDParam(r), ledger.AccountStatus(req.Status))
	if err != nil {
		h.writeDomainError(w, "Failed to update account status", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance resolves the balance at the end of ?date (default today).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountIDParam(r)

	target, err := parseDateParam(r, "date", "target_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	account, err := h.Accounts.Get(ctx, accountID)
	if err != nil {
		h.writeDomainError(w, "Failed to get account", err)
		return
	}

	res, err := h.Resolver.Resolve(ctx, accountID, target)
	if err != nil {
		h.writeDomainError(w, "Failed to resolve balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:     string(account.ID),
		AccountNumber: account.Number,
		AccountName:   account.Name,
		Balance:       res.Balance,
		Date:          res.Date.String(),
		Source:        string(res.Source),
	})
}

// GetSummary totals credits and debits in [start_date, end_date].
// Missing start_date means the first day of the current month, missing
// end_date means today.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "start_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	to, err := parseDateParam(r, "end_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}
	today := ledger.Today(h.clock)
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = ledger.NewDate(to.Time().Year(), to.Time().Month(), 1)
	}

	summary, err := h.History.Summary(r.Context(), accountIDParam(r), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to summarize transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryDTO{
		AccountID:        string(summary.AccountID),
		StartDate:        summary.From.String(),
		EndDate:          summary.To.String(),
		TotalCredits:     summary.TotalCredits,
		TotalDebits:      summary.TotalDebits,
		Net:              summary.Net,
		TransactionCount: summary.Count,
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction posts a credit or debit.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	var date ledger.Date
	if req.TransactionDate != "" {
		d, err := ledger.ParseDate(req.TransactionDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transaction_date", err)
			return
		}
		date = d
	}

	tx, err := h.Poster.Post(r.Context(), ledger.NewTransaction{
		AccountID:   ledger.AccountID(req.AccountID),
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		Type:        ledger.TransactionType(req.Type),
		Description: req.Description,
		Date:        date,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrCurrencyMismatch) {
			writeError(w, http.StatusUnprocessableEntity, "Currency does not match the account", err)
			return
		}
		h.writeDomainError(w, "Failed to create transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListTransactions returns one page of an account's transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}
	page, limit, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}
	from, err := parseDateParam(r, "start_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	to, err := parseDateParam(r, "end_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}

	txs, total, err := h.History.Transactions(r.Context(), ledger.TransactionFilter{
		AccountID: ledger.AccountID(accountID),
		From:      from,
		To:        to,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	page, limit = ledger.NormalizePage(page, limit)
	writeJSON(w, http.StatusOK, TransactionListResponse{
		Transactions: dtos,
		Pagination:   newPagination(page, limit, total),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func accountIDParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

// parseDateParam reads the first non-empty of names. Absent means zero Date.
func parseDateParam(r *http.Request, names ...string) (ledger.Date, error) {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return ledger.ParseDate(v)
		}
	}
	return ledger.Date{}, nil
}

// parsePage reads page and limit. Zero means "use the default".
func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, limit := 0, 0
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > ledger.MaxPageLimit {
			return 0, 0, errors.New("limit must be between 1 and 100")
		}
		limit = n
	}
	return page, limit, nil
}

// writeDomainError maps ledger errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Account not found", err)
	case errors.Is(err, ledger.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
