// Package events defines the ledger and budget events written to the
// outbox in the same unit of work as the state change they describe.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"lifeops/internal/core"
	"lifeops/internal/storage"
)

const (
	TransactionCreated      = "transaction.created"
	TransactionUpdated      = "transaction.updated"
	TransactionDeleted      = "transaction.deleted"
	TransactionVoided       = "transaction.voided"
	TransactionCorrected    = "transaction.corrected"
	TransferCreated         = "transfer.created"
	BillPaid                = "bill.paid"
	ReconciliationCompleted = "reconciliation.completed"
	BudgetRecalculated      = "budget.recalculated"
)

type TransactionPayload struct {
	TransactionKey string     `json:"transaction_key"`
	AccountKey     string     `json:"account_key"`
	Amount         core.Money `json:"amount"`
	Balance        core.Money `json:"balance"`
	ClearedBalance core.Money `json:"cleared_balance"`
}

type TransferPayload struct {
	TransferID     string     `json:"transfer_id"`
	FromAccountKey string     `json:"from_account_key"`
	ToAccountKey   string     `json:"to_account_key"`
	Amount         core.Money `json:"amount"`
}

type CorrectionPayload struct {
	OriginalKey    string     `json:"original_key"`
	ReplacementKey string     `json:"replacement_key"`
	Amount         core.Money `json:"amount"`
}

type BillPaidPayload struct {
	BillKey        string    `json:"bill_key"`
	TransactionKey string    `json:"transaction_key"`
	NextDue        core.Date `json:"next_due"`
}

type ReconciliationPayload struct {
	ReconciliationKey string     `json:"reconciliation_key"`
	AccountKey        string     `json:"account_key"`
	StatementBalance  core.Money `json:"statement_balance"`
	Difference        core.Money `json:"difference"`
	Matched           int        `json:"matched"`
}

type RecalculatedPayload struct {
	StartPeriodKey  string   `json:"start_period_key"`
	PeriodKeys      []string `json:"period_keys"`
	AffectedPeriods int      `json:"affected_periods"`
}

// Record appends an event to the outbox through w, which should be the Tx
// of the unit of work doing the change.
func Record(ctx context.Context, w storage.Writer, eventType, family, aggregateKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return w.AppendOutbox(ctx, storage.OutboxEvent{
		Type:         eventType,
		Family:       family,
		AggregateKey: aggregateKey,
		Payload:      body,
		CreatedAt:    storage.Now(),
	})
}

// Decode unmarshals an event payload into v.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}
