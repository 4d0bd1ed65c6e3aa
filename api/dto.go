/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: List wrappers with pagination

MONEY ON THE WIRE:
  Always {"amount": "70.00", "currency": "BRL"}, amount as a string.
  Request amounts are json.Number so "100.10" and 100.10 both arrive as
  the exact digits the client sent.

VALIDATION:
  Validation is done by the ledger package, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/balance-engine/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type CreateAccountRequest struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Currency      string `json:"currency,omitempty"`
}

type UpdateAccountStatusRequest struct {
	Status string `json:"status"`
}

type AccountDTO struct {
	ID            string    `json:"id"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AccountListResponse struct {
	Accounts   []AccountDTO  `json:"accounts"`
	Pagination PaginationDTO `json:"pagination"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO is the resolved balance of an account at the end of Date.
type BalanceDTO struct {
	AccountID     string       `json:"account_id"`
	AccountNumber string       `json:"account_number"`
	AccountName   string       `json:"account_name"`
	Balance       ledger.Money `json:"balance"`
	Date          string       `json:"date"`
	Source        string       `json:"source"`
}

type SummaryDTO struct {
	AccountID        string       `json:"account_id"`
	StartDate        string       `json:"start_date"`
	EndDate          string       `json:"end_date"`
	TotalCredits     ledger.Money `json:"total_credits"`
	TotalDebits      ledger.Money `json:"total_debits"`
	Net              ledger.Money `json:"net"`
	TransactionCount int          `json:"transaction_count"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type CreateTransactionRequest struct {
	AccountID       string      `json:"account_id"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency,omitempty"`
	Type            string      `json:"transaction_type"`
	Description     string      `json:"description"`
	TransactionDate string      `json:"transaction_date,omitempty"`
	ReferenceID     string      `json:"reference_id,omitempty"`
}

type TransactionDTO struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Type            string    `json:"transaction_type"`
	Description     string    `json:"description"`
	TransactionDate string    `json:"transaction_date"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type TransactionListResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	Pagination   PaginationDTO    `json:"pagination"`
}

// =============================================================================
// SHARED
// =============================================================================

type PaginationDTO struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

func newPagination(page, limit, total int) PaginationDTO {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PaginationDTO{
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   time.Time         `json:"time"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ScenarioResultDTO struct {
	Scenario     ScenarioDTO  `json:"scenario"`
	Accounts     []AccountDTO `json:"accounts"`
	Transactions int          `json:"transactions"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:            string(a.ID),
		AccountNumber: a.Number,
		AccountName:   a.Name,
		Currency:      a.Currency,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAccountDTOs(accounts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		AccountID:       string(tx.AccountID),
		Amount:          tx.Amount.AmountString(),
		Currency:        tx.Amount.Currency(),
		Type:            string(tx.Type),
		Description:     tx.Description,
		TransactionDate: tx.Date.String(),
		ReferenceID:     tx.ReferenceID,
		CreatedAt:       tx.CreatedAt,
	}
}
