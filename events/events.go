// Package events publishes ledger activity to other services.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/warp/balance-engine/ledger"
)

// TypeTransactionCreated is the event type of a posted transaction.
const TypeTransactionCreated = "transaction.created"

// TransactionEvent is the JSON payload of TypeTransactionCreated.
type TransactionEvent struct {
	Type            string    `json:"type"`
	TransactionID   string    `json:"transaction_id"`
	AccountID       string    `json:"account_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	TransactionType string    `json:"transaction_type"`
	TransactionDate string    `json:"transaction_date"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewTransactionEvent builds the payload for tx.
func NewTransactionEvent(tx ledger.Transaction) TransactionEvent {
	return TransactionEvent{
		Type:            TypeTransactionCreated,
		TransactionID:   string(tx.ID),
		AccountID:       string(tx.AccountID),
		Amount:          tx.Amount.AmountString(),
		Currency:        tx.Amount.Currency(),
		TransactionType: string(tx.Type),
		TransactionDate: tx.Date.String(),
		ReferenceID:     tx.ReferenceID,
		CreatedAt:       tx.CreatedAt,
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishTransaction(context.Context, ledger.Transaction) error { return nil }
func (Noop) Close() error                                               { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []TransactionEvent
}

func (r *Recorder) PublishTransaction(_ context.Context, tx ledger.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewTransactionEvent(tx))
	return nil
}

func (r *Recorder) Events() []TransactionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransactionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Close() error { return nil }
