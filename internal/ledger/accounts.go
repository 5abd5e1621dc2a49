package ledger

import (
	"context"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type AccountInput struct {
	Name           string           `json:"name"`
	Type           core.AccountType `json:"type"`
	OpeningBalance core.Money       `json:"opening_balance"`
}

// AccountPatch holds optional changes; nil fields are left as they are.
type AccountPatch struct {
	Name           *string           `json:"name"`
	Type           *core.AccountType `json:"type"`
	OpeningBalance *core.Money       `json:"opening_balance"`
	Active         *bool             `json:"active"`
}

func (s *Service) CreateAccount(ctx context.Context, family string, in AccountInput) (*core.Account, error) {
	const op = "ledger.create_account"
	if strings.TrimSpace(in.Name) == "" {
		return nil, core.Validation(op, "account name is required")
	}
	if in.Type == "" {
		in.Type = core.AccountChecking
	}
	acc := &core.Account{
		Meta:           core.Meta{Key: s.newKey(), Family: family},
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		OpeningBalance: in.OpeningBalance,
		Balance:        in.OpeningBalance,
		ClearedBalance: in.OpeningBalance,
		Active:         true,
	}
	if err := storage.Put(ctx, s.store, storage.Accounts, acc); err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{log.FieldAccountKey: acc.Key})
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, family, key string) (*core.Account, error) {
	return loadAccount(ctx, s.store, "ledger.get_account", family, key)
}

// ListAccounts returns the family's accounts sorted by name.
func (s *Service) ListAccounts(ctx context.Context, family string) ([]core.Account, error) {
	accounts, err := storage.Find[core.Account](ctx, s.store, storage.Accounts, family, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// UpdateAccount applies patch. A changed opening balance re-derives both balances.
func (s *Service) UpdateAccount(ctx context.Context, family, key string, patch AccountPatch) (*core.Account, error) {
	const op = "ledger.update_account"
	var out *core.Account
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		acc, err := loadAccount(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			acc.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Type != nil {
			acc.Type = *patch.Type
		}
		if patch.Active != nil {
			acc.Active = *patch.Active
		}
		openingChanged := patch.OpeningBalance != nil && *patch.OpeningBalance != acc.OpeningBalance
		if openingChanged {
			acc.OpeningBalance = *patch.OpeningBalance
		}
		if err := storage.Put(ctx, tx, storage.Accounts, acc); err != nil {
			return storage.Translate(err, op, core.EntityAccount, key)
		}
		out = acc
		if openingChanged {
			out, err = RecomputeAccount(ctx, tx, op, family, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldAccountKey: key})
	return out, nil
}

// DeleteAccount removes an account that no transaction references, void ones included.
func (s *Service) DeleteAccount(ctx context.Context, family, key string) error {
	const op = "ledger.delete_account"
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := loadAccount(ctx, tx, op, family, key); err != nil {
			return err
		}
		txs, err := tx.Query(ctx, storage.Transactions, family, storage.Filter{"account_key": key})
		if err != nil {
			return err
		}
		if len(txs) > 0 {
			return core.BusinessRule(op, "account %q has %d transactions", key, len(txs))
		}
		bills, err := tx.Query(ctx, storage.Bills, family, storage.Filter{"account_key": key})
		if err != nil {
			return err
		}
		if len(bills) > 0 {
			return core.BusinessRule(op, "account %q is used by %d bills", key, len(bills))
		}
		return tx.Delete(ctx, storage.Accounts, family, key)
	})
	if err != nil {
		return err
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldAccountKey: key})
	return nil
}

// RecomputeBalance re-derives an account's balances from its transactions.
func (s *Service) RecomputeBalance(ctx context.Context, family, key string) (*core.Account, error) {
	const op = "ledger.recompute_balance"
	var out *core.Account
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		out, err = RecomputeAccount(ctx, tx, op, family, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpRecompute, family, log.LogFields{
		log.FieldAccountKey: key,
		"balance":           out.Balance.String(),
		"cleared_balance":   out.ClearedBalance.String(),
	})
	return out, nil
}
