package ledger

import (
	"context"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type TransactionInput struct {
	AccountKey  string       `json:"account_key"`
	CategoryKey string       `json:"category_key"`
	PeriodKey   string       `json:"period_key"`
	Payee       string       `json:"payee"`
	Memo        string       `json:"memo"`
	Amount      core.Money   `json:"amount"`
	Date        core.Date    `json:"date"`
	Cleared     bool         `json:"cleared"`
	Splits      []core.Split `json:"splits"`
}

// TransactionPatch holds optional changes; nil fields are left as they are.
type TransactionPatch struct {
	AccountKey  *string       `json:"account_key"`
	CategoryKey *string       `json:"category_key"`
	PeriodKey   *string       `json:"period_key"`
	Payee       *string       `json:"payee"`
	Memo        *string       `json:"memo"`
	Amount      *core.Money   `json:"amount"`
	Date        *core.Date    `json:"date"`
	Cleared     *bool         `json:"cleared"`
	Splits      *[]core.Split `json:"splits"`
}

type TransactionFilter struct {
	AccountKey  string
	PeriodKey   string
	CategoryKey string
	IncludeVoid bool
}

// CreateTransaction records a transaction and re-derives its account's
// balances. Without a period the single period containing the date is used.
func (s *Service) CreateTransaction(ctx context.Context, family string, in TransactionInput) (*core.Transaction, error) {
	const op = "ledger.create_transaction"
	if strings.TrimSpace(in.AccountKey) == "" {
		return nil, core.Validation(op, "account key is required")
	}
	if in.Date.IsZero() {
		return nil, core.Validation(op, "transaction date is required")
	}
	t := &core.Transaction{
		Meta:        core.Meta{Key: s.newKey(), Family: family},
		AccountKey:  in.AccountKey,
		CategoryKey: in.CategoryKey,
		PeriodKey:   in.PeriodKey,
		Payee:       strings.TrimSpace(in.Payee),
		Memo:        in.Memo,
		Amount:      in.Amount,
		Date:        in.Date,
		Cleared:     in.Cleared,
		Status:      core.StatusActive,
		Splits:      in.Splits,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	var acc *core.Account
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		if acc, err = s.insertTransaction(ctx, tx, op, t); err != nil {
			return err
		}
		return events.Record(ctx, tx, events.TransactionCreated, family, t.Key, transactionPayload(t, acc))
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{
		log.FieldTransactionKey: t.Key,
		log.FieldAccountKey:     t.AccountKey,
		log.FieldAmount:         t.Amount.String(),
	})
	return t, nil
}

// insertTransaction runs every check before writing t and recomputing its account.
func (s *Service) insertTransaction(ctx context.Context, tx storage.Tx, op string, t *core.Transaction) (*core.Account, error) {
	if _, err := loadAccount(ctx, tx, op, t.Family, t.AccountKey); err != nil {
		return nil, err
	}
	if err := checkCategories(ctx, tx, op, t.Family, t); err != nil {
		return nil, err
	}
	if t.PeriodKey != "" {
		if _, err := tx.Get(ctx, storage.PayPeriods, t.Family, t.PeriodKey); err != nil {
			return nil, storage.Translate(err, op, core.EntityPayPeriod, t.PeriodKey)
		}
	} else {
		key, err := resolvePeriod(ctx, tx, t.Family, t.Date)
		if err != nil {
			return nil, err
		}
		t.PeriodKey = key
	}
	if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
		return nil, err
	}
	return RecomputeAccount(ctx, tx, op, t.Family, t.AccountKey)
}

func (s *Service) GetTransaction(ctx context.Context, family, key string) (*core.Transaction, error) {
	return loadTransaction(ctx, s.store, "ledger.get_transaction", family, key)
}

// ListTransactions returns matching transactions ordered by date, then key.
func (s *Service) ListTransactions(ctx context.Context, family string, f TransactionFilter) ([]core.Transaction, error) {
	filter := storage.Filter{}
	if f.AccountKey != "" {
		filter["account_key"] = f.AccountKey
	}
	if f.PeriodKey != "" {
		filter["period_key"] = f.PeriodKey
	}
	txs, err := storage.Find[core.Transaction](ctx, s.store, storage.Transactions, family, filter)
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, t := range txs {
		if !f.IncludeVoid && !t.IsActive() {
			continue
		}
		if f.CategoryKey != "" && !t.UsesCategory(f.CategoryKey) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// UpdateTransaction applies patch. Changes to amount, cleared state or
// account re-derive the balances of every account involved.
func (s *Service) UpdateTransaction(ctx context.Context, family, key string, patch TransactionPatch) (*core.Transaction, error) {
	const op = "ledger.update_transaction"
	var out *core.Transaction
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		t, err := loadTransaction(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if !t.IsActive() {
			return core.BusinessRule(op, "transaction %q is void", key)
		}
		amountChanged := patch.Amount != nil && *patch.Amount != t.Amount
		accountChanged := patch.AccountKey != nil && *patch.AccountKey != t.AccountKey
		clearedChanged := patch.Cleared != nil && *patch.Cleared != t.Cleared
		if amountChanged || accountChanged || clearedChanged {
			if err := checkUnlocked(op, t); err != nil {
				return err
			}
		}
		if t.TransferID != "" && (amountChanged || accountChanged) {
			return core.BusinessRule(op, "transaction %q is part of transfer %s", key, t.TransferID)
		}

		previousAccount := t.AccountKey
		applyPatch(t, patch)
		if accountChanged {
			if strings.TrimSpace(t.AccountKey) == "" {
				return core.Validation(op, "account key is required")
			}
			if _, err := loadAccount(ctx, tx, op, family, t.AccountKey); err != nil {
				return err
			}
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if patch.CategoryKey != nil || patch.Splits != nil {
			if err := checkCategories(ctx, tx, op, family, t); err != nil {
				return err
			}
		}
		if patch.PeriodKey != nil && t.PeriodKey != "" {
			if _, err := tx.Get(ctx, storage.PayPeriods, family, t.PeriodKey); err != nil {
				return storage.Translate(err, op, core.EntityPayPeriod, t.PeriodKey)
			}
		}
		if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
			return storage.Translate(err, op, core.EntityTransaction, key)
		}

		acc, err := loadAccount(ctx, tx, op, family, t.AccountKey)
		if err != nil {
			return err
		}
		if amountChanged || accountChanged || clearedChanged {
			if acc, err = RecomputeAccount(ctx, tx, op, family, t.AccountKey); err != nil {
				return err
			}
			if accountChanged {
				if _, err := RecomputeAccount(ctx, tx, op, family, previousAccount); err != nil {
					return err
				}
			}
		}
		out = t
		return events.Record(ctx, tx, events.TransactionUpdated, family, t.Key, transactionPayload(t, acc))
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldTransactionKey: key})
	return out, nil
}

func applyPatch(t *core.Transaction, p TransactionPatch) {
	if p.AccountKey != nil {
		t.AccountKey = *p.AccountKey
	}
	if p.CategoryKey != nil {
		t.CategoryKey = *p.CategoryKey
	}
	if p.PeriodKey != nil {
		t.PeriodKey = *p.PeriodKey
	}
	if p.Payee != nil {
		t.Payee = strings.TrimSpace(*p.Payee)
	}
	if p.Memo != nil {
		t.Memo = *p.Memo
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Cleared != nil {
		t.Cleared = *p.Cleared
	}
	if p.Splits != nil {
		t.Splits = *p.Splits
	}
}

// ClearTransaction toggles the cleared flag and re-derives the cleared balance.
func (s *Service) ClearTransaction(ctx context.Context, family, key string) (*core.Transaction, error) {
	const op = "ledger.clear_transaction"
	var out *core.Transaction
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		t, err := loadTransaction(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if !t.IsActive() {
			return core.BusinessRule(op, "transaction %q is void", key)
		}
		if err := checkUnlocked(op, t); err != nil {
			return err
		}
		t.Cleared = !t.Cleared
		if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
			return storage.Translate(err, op, core.EntityTransaction, key)
		}
		acc, err := RecomputeAccount(ctx, tx, op, family, t.AccountKey)
		if err != nil {
			return err
		}
		out = t
		return events.Record(ctx, tx, events.TransactionUpdated, family, t.Key, transactionPayload(t, acc))
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldTransactionKey: key, "cleared": out.Cleared})
	return out, nil
}

// DeleteTransaction removes a transaction that is not locked by a
// reconciliation and re-derives its account's balances.
func (s *Service) DeleteTransaction(ctx context.Context, family, key string) error {
	const op = "ledger.delete_transaction"
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		t, err := loadTransaction(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if err := checkUnlocked(op, t); err != nil {
			return err
		}
		if err := tx.Delete(ctx, storage.Transactions, family, key); err != nil {
			return storage.Translate(err, op, core.EntityTransaction, key)
		}
		acc, err := RecomputeAccount(ctx, tx, op, family, t.AccountKey)
		if err != nil {
			return err
		}
		return events.Record(ctx, tx, events.TransactionDeleted, family, key, transactionPayload(t, acc))
	})
	if err != nil {
		return err
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldTransactionKey: key})
	return nil
}

// VoidTransaction marks a transaction void and keeps it. Voiding one leg of
// a transfer voids the other leg too. Voiding twice is a no-op.
func (s *Service) VoidTransaction(ctx context.Context, family, key string) (*core.Transaction, error) {
	const op = "ledger.void_transaction"
	var out *core.Transaction
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		t, err := loadTransaction(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		out = t
		if !t.IsActive() {
			return nil
		}
		if err := checkUnlocked(op, t); err != nil {
			return err
		}

		legs := []*core.Transaction{t}
		if t.TransferID != "" {
			pair, err := storage.Find[core.Transaction](ctx, tx, storage.Transactions, family, storage.Filter{"transfer_id": t.TransferID})
			if err != nil {
				return err
			}
			for i := range pair {
				if pair[i].Key == t.Key || !pair[i].IsActive() {
					continue
				}
				if err := checkUnlocked(op, &pair[i]); err != nil {
					return err
				}
				legs = append(legs, &pair[i])
			}
		}

		for _, leg := range legs {
			leg.Status = core.StatusVoid
			if err := storage.Put(ctx, tx, storage.Transactions, leg); err != nil {
				return storage.Translate(err, op, core.EntityTransaction, leg.Key)
			}
			acc, err := RecomputeAccount(ctx, tx, op, family, leg.AccountKey)
			if err != nil {
				return err
			}
			if err := events.Record(ctx, tx, events.TransactionVoided, family, leg.Key, transactionPayload(leg, acc)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpVoid, family, log.LogFields{log.FieldTransactionKey: key})
	return out, nil
}

type CorrectionInput struct {
	Amount core.Money `json:"amount"`
	Memo   *string    `json:"memo"`
}

// CorrectTransaction voids the original and records a replacement carrying
// a CorrectedFrom edge back to it. Both happen in one unit of work.
func (s *Service) CorrectTransaction(ctx context.Context, family, key string, in CorrectionInput) (*core.Transaction, error) {
	const op = "ledger.correct_transaction"
	var replacement *core.Transaction
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		orig, err := loadTransaction(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if !orig.IsActive() {
			return core.BusinessRule(op, "transaction %q is void", key)
		}
		if err := checkUnlocked(op, orig); err != nil {
			return err
		}
		if orig.TransferID != "" {
			return core.BusinessRule(op, "transfer legs are corrected by voiding the transfer")
		}
		if len(orig.Splits) > 0 && in.Amount != orig.Amount {
			return core.Validation(op, "split transactions must be corrected with an update of their splits")
		}

		replacement = &core.Transaction{
			Meta:          core.Meta{Key: s.newKey(), Family: family},
			AccountKey:    orig.AccountKey,
			CategoryKey:   orig.CategoryKey,
			PeriodKey:     orig.PeriodKey,
			Payee:         orig.Payee,
			Memo:          orig.Memo,
			Amount:        in.Amount,
			Date:          orig.Date,
			Status:        core.StatusActive,
			Splits:        orig.Splits,
			BillKey:       orig.BillKey,
			CorrectedFrom: orig.Key,
		}
		if in.Memo != nil {
			replacement.Memo = *in.Memo
		}

		orig.Status = core.StatusVoid
		if err := storage.Put(ctx, tx, storage.Transactions, orig); err != nil {
			return storage.Translate(err, op, core.EntityTransaction, key)
		}
		if err := storage.Put(ctx, tx, storage.Transactions, replacement); err != nil {
			return err
		}
		if _, err := RecomputeAccount(ctx, tx, op, family, orig.AccountKey); err != nil {
			return err
		}
		return events.Record(ctx, tx, events.TransactionCorrected, family, replacement.Key, events.CorrectionPayload{
			OriginalKey:    orig.Key,
			ReplacementKey: replacement.Key,
			Amount:         replacement.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCorrect, family, log.LogFields{
		log.FieldTransactionKey: replacement.Key,
		"corrected_from":        key,
	})
	return replacement, nil
}

func transactionPayload(t *core.Transaction, acc *core.Account) events.TransactionPayload {
	p := events.TransactionPayload{
		TransactionKey: t.Key,
		AccountKey:     t.AccountKey,
		Amount:         t.Amount,
	}
	if acc != nil {
		p.Balance = acc.Balance
		p.ClearedBalance = acc.ClearedBalance
	}
	return p
}
