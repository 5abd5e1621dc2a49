package ledger

import (
	"context"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type TransferInput struct {
	FromAccountKey string     `json:"from_account_key"`
	ToAccountKey   string     `json:"to_account_key"`
	Amount         core.Money `json:"amount"`
	Date           core.Date  `json:"date"`
	Memo           string     `json:"memo"`
}

// Transfer is the pair of transactions sharing one transfer id.
type Transfer struct {
	ID         string           `json:"transfer_id"`
	Withdrawal core.Transaction `json:"withdrawal"`
	Deposit    core.Transaction `json:"deposit"`
}

// CreateTransfer moves amount between two accounts as a withdrawal on the
// source and a deposit on the destination. Both legs and both balance
// recomputes commit together.
func (s *Service) CreateTransfer(ctx context.Context, family string, in TransferInput) (*Transfer, error) {
	const op = "ledger.create_transfer"
	if strings.TrimSpace(in.FromAccountKey) == "" || strings.TrimSpace(in.ToAccountKey) == "" {
		return nil, core.Validation(op, "both account keys are required")
	}
	if in.FromAccountKey == in.ToAccountKey {
		return nil, core.Validation(op, "cannot transfer to the same account")
	}
	if !in.Amount.IsPositive() {
		return nil, core.Validation(op, "transfer amount must be positive")
	}
	if in.Date.IsZero() {
		in.Date = s.today()
	}

	out := &Transfer{ID: s.newKey()}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		from, err := loadAccount(ctx, tx, op, family, in.FromAccountKey)
		if err != nil {
			return err
		}
		to, err := loadAccount(ctx, tx, op, family, in.ToAccountKey)
		if err != nil {
			return err
		}

		out.Withdrawal = core.Transaction{
			Meta:       core.Meta{Key: s.newKey(), Family: family},
			AccountKey: from.Key,
			Payee:      "Transfer to " + to.Name,
			Memo:       in.Memo,
			Amount:     in.Amount.Neg(),
			Date:       in.Date,
			Status:     core.StatusActive,
			TransferID: out.ID,
		}
		out.Deposit = core.Transaction{
			Meta:       core.Meta{Key: s.newKey(), Family: family},
			AccountKey: to.Key,
			Payee:      "Transfer from " + from.Name,
			Memo:       in.Memo,
			Amount:     in.Amount,
			Date:       in.Date,
			Status:     core.StatusActive,
			TransferID: out.ID,
		}
		for _, leg := range []*core.Transaction{&out.Withdrawal, &out.Deposit} {
			if _, err := s.insertTransaction(ctx, tx, op, leg); err != nil {
				return err
			}
		}
		return events.Record(ctx, tx, events.TransferCreated, family, out.ID, events.TransferPayload{
			TransferID:     out.ID,
			FromAccountKey: from.Key,
			ToAccountKey:   to.Key,
			Amount:         in.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpTransfer, family, log.LogFields{
		"transfer_id":   out.ID,
		"from_account":  in.FromAccountKey,
		"to_account":    in.ToAccountKey,
		log.FieldAmount: in.Amount.String(),
	})
	return out, nil
}
