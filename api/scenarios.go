/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with data that
	exercises each resolution tier. Every load opens fresh accounts; the
	ledger is append-only, so nothing is reset.

AVAILABLE SCENARIOS:

	empty-account:       Account with no transactions (balance 0.00, calculated)
	credit-debit:        Credit 100.00 then debit 30.00 on consecutive days (70.00)
	threshold-crossing:  101 transactions ending yesterday; the first balance
	                     lookup for yesterday creates a snapshot
	year-of-activity:    1000 random credits and debits over the past year

HOW SCENARIOS WORK:
 1. Open account(s) through ledger.Accounts
 2. Post transactions through ledger.Poster, oldest first
 3. Return the accounts so the caller can query balances

USAGE VIA API:

	POST /api/v1/scenarios/load
	{"scenario_id": "threshold-crossing"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/warp/balance-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-account",
		Name:        "Empty Account",
		Description: "Account with no transactions",
	},
	{
		ID:          "credit-debit",
		Name:        "Credit and Debit",
		Description: "Credit 100.00 then debit 30.00 on the next day, balance 70.00",
	},
	{
		ID:          "threshold-crossing",
		Name:        "Snapshot Threshold",
		Description: "101 transactions ending yesterday; first lookup creates a snapshot",
	},
	{
		ID:          "year-of-activity",
		Name:        "Year of Activity",
		Description: "1000 random credits and debits spread over the past year",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	result, err := h.loadScenario(r.Context(), scenario.ID)
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", scenario.ID), err)
		return
	}
	result.Scenario = *scenario

	h.mu.Lock()
	h.currentScenario = scenario.ID
	h.mu.Unlock()

	h.logger.Info("scenario loaded",
		zap.String("scenario", scenario.ID),
		zap.Int("accounts", len(result.Accounts)),
		zap.Int("transactions", result.Transactions))
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) loadScenario(ctx context.Context, id string) (ScenarioResultDTO, error) {
	switch id {
	case "empty-account":
		return h.loadEmptyAccountScenario(ctx)
	case "credit-debit":
		return h.loadCreditDebitScenario(ctx)
	case "threshold-crossing":
		return h.loadThresholdScenario(ctx)
	case "year-of-activity":
		return h.loadYearOfActivityScenario(ctx)
	}
	return ScenarioResultDTO{}, fmt.Errorf("unknown scenario %q", id)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmptyAccountScenario(ctx context.Context) (ScenarioResultDTO, error) {
	account, err := h.openDemoAccount(ctx, "EMPTY", "Empty Account")
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{Accounts: []AccountDTO{toAccountDTO(account)}}, nil
}

func (h *Handler) loadCreditDebitScenario(ctx context.Context) (ScenarioResultDTO, error) {
	account, err := h.openDemoAccount(ctx, "CD", "Credit Debit")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	today := ledger.Today(h.clock)
	posts := []ledger.NewTransaction{
		{AccountID: account.ID, Amount: "100.00", Type: ledger.TxCredit, Description: "Initial deposit", Date: today.AddDays(-2)},
		{AccountID: account.ID, Amount: "30.00", Type: ledger.TxDebit, Description: "Card payment", Date: today.AddDays(-1)},
	}
	if err := h.postAll(ctx, posts); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{Accounts: []AccountDTO{toAccountDTO(account)}, Transactions: len(posts)}, nil
}

// loadThresholdScenario posts one opening credit and 100 alternating
// movements, one per day, ending yesterday.
func (h *Handler) loadThresholdScenario(ctx context.Context) (ScenarioResultDTO, error) {
	account, err := h.openDemoAccount(ctx, "SNAP", "Snapshot Threshold")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	today := ledger.Today(h.clock)
	posts := []ledger.NewTransaction{
		{AccountID: account.ID, Amount: "1000.00", Type: ledger.TxCredit, Description: "Opening balance", Date: today.AddDays(-101)},
	}
	for i := 100; i >= 1; i-- {
		typ := ledger.TxCredit
		if i%2 == 0 {
			typ = ledger.TxDebit
		}
		posts = append(posts, ledger.NewTransaction{
			AccountID:   account.ID,
			Amount:      "5.25",
			Type:        typ,
			Description: fmt.Sprintf("Movement %d", 101-i),
			Date:        today.AddDays(-i),
		})
	}
	if err := h.postAll(ctx, posts); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{Accounts: []AccountDTO{toAccountDTO(account)}, Transactions: len(posts)}, nil
}

var yearDescriptions = map[ledger.TransactionType][]string{
	ledger.TxCredit: {"Salary", "Transfer received", "Refund", "Interest", "Cashback"},
	ledger.TxDebit:  {"Groceries", "Rent", "Utilities", "Card payment", "Transfer sent", "Subscription"},
}

// loadYearOfActivityScenario spreads 1000 transactions over the past 365
// days. Credits are 40% of the volume and larger than debits on average.
func (h *Handler) loadYearOfActivityScenario(ctx context.Context) (ScenarioResultDTO, error) {
	account, err := h.openDemoAccount(ctx, "YEAR", "Year of Activity")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	const count = 1000
	rng := rand.New(rand.NewPCG(42, uint64(len(account.ID))))
	today := ledger.Today(h.clock)

	// Oldest first, so no posting lands behind a snapshot.
	daysAgo := make([]int, count)
	for i := range daysAgo {
		daysAgo[i] = rng.IntN(365) + 1
	}
	sort.Sort(sort.Reverse(sort.IntSlice(daysAgo)))

	posts := make([]ledger.NewTransaction, 0, count)
	for i := 0; i < count; i++ {
		typ, cents := ledger.TxDebit, 500+rng.IntN(49500)
		if rng.Float64() < 0.4 {
			typ, cents = ledger.TxCredit, 10000+rng.IntN(490000)
		}
		descriptions := yearDescriptions[typ]
		posts = append(posts, ledger.NewTransaction{
			AccountID:   account.ID,
			Amount:      fmt.Sprintf("%d.%02d", cents/100, cents%100),
			Type:        typ,
			Description: descriptions[rng.IntN(len(descriptions))],
			Date:        today.AddDays(-daysAgo[i]),
			ReferenceID: fmt.Sprintf("demo-%04d", i),
		})
	}
	if err := h.postAll(ctx, posts); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{Accounts: []AccountDTO{toAccountDTO(account)}, Transactions: len(posts)}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) openDemoAccount(ctx context.Context, code, name string) (ledger.Account, error) {
	suffix := string(ledger.NewAccountID())[:8]
	return h.Accounts.Open(ctx, ledger.NewAccount{
		Number: fmt.Sprintf("DEMO-%s-%s", code, suffix),
		Name:   name,
	})
}

func (h *Handler) postAll(ctx context.Context, posts []ledger.NewTransaction) error {
	for _, p := range posts {
		if _, err := h.Poster.Post(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
