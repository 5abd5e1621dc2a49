// Package ledger implements accounts, transactions, transfers and bills.
// Account balances are always derived from the transaction set and are
// rewritten in the same unit of work as the transaction change that
// affects them.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

// Service orchestrates ledger operations over the document store
type Service struct {
	store  storage.Store
	logger *log.Logger
	audit  *log.StructuredLogger

	newKey func() string
	now    func() time.Time
}

func NewService(store storage.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default(log.ComponentLedger)
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &Service{
		store:  store,
		logger: logger,
		audit:  log.NewStructuredLogger(logger),
		newKey: uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) today() core.Date {
	return core.DateOf(s.now())
}

// loadAccount reads an account, reporting a missing one as AccountNotFound.
func loadAccount(ctx context.Context, r storage.Reader, op, family, key string) (*core.Account, error) {
	acc, err := storage.Get[core.Account](ctx, r, storage.Accounts, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityAccount, key)
	}
	return acc, nil
}

func loadTransaction(ctx context.Context, r storage.Reader, op, family, key string) (*core.Transaction, error) {
	tx, err := storage.Get[core.Transaction](ctx, r, storage.Transactions, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityTransaction, key)
	}
	return tx, nil
}

// RecomputeAccount derives balance and cleared balance from the account's
// transactions and writes them back through tx. Void transactions do not count.
func RecomputeAccount(ctx context.Context, tx storage.Tx, op, family, accountKey string) (*core.Account, error) {
	acc, err := loadAccount(ctx, tx, op, family, accountKey)
	if err != nil {
		return nil, err
	}
	txs, err := storage.Find[core.Transaction](ctx, tx, storage.Transactions, family, storage.Filter{"account_key": accountKey})
	if err != nil {
		return nil, err
	}
	acc.Balance, acc.ClearedBalance = core.AccountBalances(acc.OpeningBalance, txs)
	if err := storage.Put(ctx, tx, storage.Accounts, acc); err != nil {
		return nil, storage.Translate(err, op, core.EntityAccount, accountKey)
	}
	return acc, nil
}

// resolvePeriod returns the key of the single pay period containing d, or
// "" when none or several do.
func resolvePeriod(ctx context.Context, r storage.Reader, family string, d core.Date) (string, error) {
	periods, err := storage.Find[core.PayPeriod](ctx, r, storage.PayPeriods, family, nil)
	if err != nil {
		return "", err
	}
	found := ""
	for i := range periods {
		if periods[i].Contains(d) {
			if found != "" {
				return "", nil
			}
			found = periods[i].Key
		}
	}
	return found, nil
}

// checkUnlocked fails when t belongs to a reconciliation, completed or not.
// Such a transaction keeps its amount, account, cleared flag and status until
// it is unmatched.
func checkUnlocked(op string, t *core.Transaction) error {
	if t.Reconciled {
		return core.BusinessRule(op, "transaction %q is reconciled", t.Key)
	}
	if t.ReconciliationKey != "" {
		return core.BusinessRule(op, "transaction %q is matched to reconciliation %s", t.Key, t.ReconciliationKey)
	}
	return nil
}

// checkCategories verifies every category referenced by the transaction exists.
func checkCategories(ctx context.Context, r storage.Reader, op, family string, t *core.Transaction) error {
	keys := make([]string, 0, len(t.Splits)+1)
	if t.CategoryKey != "" {
		keys = append(keys, t.CategoryKey)
	}
	for _, sp := range t.Splits {
		keys = append(keys, sp.CategoryKey)
	}
	for _, k := range keys {
		if _, err := r.Get(ctx, storage.Categories, family, k); err != nil {
			return storage.Translate(err, op, core.EntityCategory, k)
		}
	}
	return nil
}

func (s *Service) logMutation(ctx context.Context, op, family string, fields log.LogFields) {
	s.audit.LogMutation(ctx, log.ComponentLedger, op, family, fields)
}
