// Package reconcile matches ledger transactions against a bank statement
// and closes the reconciliation once the difference is within one cent.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/ledger"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type Service struct {
	store  storage.Store
	logger *log.Logger
	audit  *log.StructuredLogger

	newKey func() string
	now    func() time.Time
}

func NewService(store storage.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default(log.ComponentReconcile)
	}
	logger = logger.WithComponent(log.ComponentReconcile)
	return &Service{
		store:  store,
		logger: logger,
		audit:  log.NewStructuredLogger(logger),
		newKey: uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type StartInput struct {
	AccountKey       string     `json:"account_key"`
	StatementDate    core.Date  `json:"statement_date"`
	StatementBalance core.Money `json:"statement_balance"`
}

// Start opens an in-progress reconciliation with nothing matched yet.
func (s *Service) Start(ctx context.Context, family string, in StartInput) (*core.Reconciliation, error) {
	const op = "reconcile.start"
	if in.AccountKey == "" {
		return nil, core.Validation(op, "account key is required")
	}
	if in.StatementDate.IsZero() {
		return nil, core.Validation(op, "statement date is required")
	}
	r := &core.Reconciliation{
		Meta:             core.Meta{Key: s.newKey(), Family: family},
		AccountKey:       in.AccountKey,
		StatementDate:    in.StatementDate,
		StatementBalance: in.StatementBalance,
		Difference:       in.StatementBalance,
		Status:           core.ReconciliationInProgress,
		MatchedKeys:      []string{},
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := tx.Get(ctx, storage.Accounts, family, in.AccountKey); err != nil {
			return storage.Translate(err, op, core.EntityAccount, in.AccountKey)
		}
		return storage.Put(ctx, tx, storage.Reconciliations, r)
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogMutation(ctx, log.ComponentReconcile, log.OpCreate, family, log.LogFields{
		log.FieldReconciliationKey: r.Key,
		log.FieldAccountKey:        r.AccountKey,
	})
	return r, nil
}

func (s *Service) Get(ctx context.Context, family, key string) (*core.Reconciliation, error) {
	return load(ctx, s.store, "reconcile.get", family, key)
}

// List returns reconciliations, newest statement first. An empty account lists all.
func (s *Service) List(ctx context.Context, family, accountKey string) ([]core.Reconciliation, error) {
	filter := storage.Filter{}
	if accountKey != "" {
		filter["account_key"] = accountKey
	}
	recs, err := storage.Find[core.Reconciliation](ctx, s.store, storage.Reconciliations, family, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StatementDate.After(recs[j].StatementDate) })
	return recs, nil
}

func load(ctx context.Context, r storage.Reader, op, family, key string) (*core.Reconciliation, error) {
	rec, err := storage.Get[core.Reconciliation](ctx, r, storage.Reconciliations, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityReconciliation, key)
	}
	return rec, nil
}

// Match adds transactions to the matched set, clears them and stamps them
// with the reconciliation. Keys already matched are skipped, so matching is
// idempotent.
func (s *Service) Match(ctx context.Context, family, key string, txKeys []string) (*core.Reconciliation, error) {
	const op = "reconcile.match"
	var out *core.Reconciliation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		rec, err := load(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if rec.Status == core.ReconciliationCompleted {
			return core.BusinessRule(op, "reconciliation %q is completed", key)
		}

		var changed []*core.Transaction
		for _, txKey := range txKeys {
			if rec.IsMatched(txKey) {
				continue
			}
			t, err := storage.Get[core.Transaction](ctx, tx, storage.Transactions, family, txKey)
			if err != nil {
				return storage.Translate(err, op, core.EntityTransaction, txKey)
			}
			if t.AccountKey != rec.AccountKey {
				return core.Validation(op, "transaction %q belongs to account %s, not %s", txKey, t.AccountKey, rec.AccountKey)
			}
			if !t.IsActive() {
				return core.Validation(op, "transaction %q is void", txKey)
			}
			if t.ReconciliationKey != "" && t.ReconciliationKey != rec.Key {
				return core.BusinessRule(op, "transaction %q is matched to reconciliation %s", txKey, t.ReconciliationKey)
			}
			t.Cleared = true
			t.ReconciliationKey = rec.Key
			rec.MatchedKeys = append(rec.MatchedKeys, txKey)
			changed = append(changed, t)
		}
		for _, t := range changed {
			if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
				return storage.Translate(err, op, core.EntityTransaction, t.Key)
			}
		}

		if out, err = s.settle(ctx, tx, op, rec); err != nil {
			return err
		}
		if len(changed) > 0 {
			_, err = ledger.RecomputeAccount(ctx, tx, op, family, rec.AccountKey)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogMutation(ctx, log.ComponentReconcile, log.OpMatch, family, log.LogFields{
		log.FieldReconciliationKey: key,
		log.FieldCount:             len(txKeys),
		"difference":               out.Difference.String(),
	})
	return out, nil
}

// Unmatch removes transactions from the matched set of an in-progress
// reconciliation, un-clearing them. Keys not in the set are skipped.
func (s *Service) Unmatch(ctx context.Context, family, key string, txKeys []string) (*core.Reconciliation, error) {
	const op = "reconcile.unmatch"
	var out *core.Reconciliation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		rec, err := load(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if rec.Status == core.ReconciliationCompleted {
			return core.BusinessRule(op, "reconciliation %q is completed", key)
		}

		drop := make(map[string]bool, len(txKeys))
		for _, k := range txKeys {
			if rec.IsMatched(k) {
				drop[k] = true
			}
		}
		if len(drop) == 0 {
			out = rec
			return nil
		}
		kept := rec.MatchedKeys[:0]
		for _, k := range rec.MatchedKeys {
			if !drop[k] {
				kept = append(kept, k)
			}
		}
		rec.MatchedKeys = kept

		for k := range drop {
			t, err := storage.Get[core.Transaction](ctx, tx, storage.Transactions, family, k)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			t.Cleared = false
			t.ReconciliationKey = ""
			if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
				return storage.Translate(err, op, core.EntityTransaction, k)
			}
		}

		if out, err = s.settle(ctx, tx, op, rec); err != nil {
			return err
		}
		_, err = ledger.RecomputeAccount(ctx, tx, op, family, rec.AccountKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogMutation(ctx, log.ComponentReconcile, log.OpUnmatch, family, log.LogFields{
		log.FieldReconciliationKey: key,
		log.FieldCount:             len(txKeys),
	})
	return out, nil
}

// settle recomputes cleared and difference from the matched transactions
// and stores the reconciliation.
func (s *Service) settle(ctx context.Context, tx storage.Tx, op string, rec *core.Reconciliation) (*core.Reconciliation, error) {
	matched, err := matchedTransactions(ctx, tx, op, rec)
	if err != nil {
		return nil, err
	}
	tally(rec, matched)
	if err := storage.Put(ctx, tx, storage.Reconciliations, rec); err != nil {
		return nil, storage.Translate(err, op, core.EntityReconciliation, rec.Key)
	}
	return rec, nil
}

// tally sets cleared balance and difference from the matched transactions.
func tally(rec *core.Reconciliation, matched []core.Transaction) {
	var cleared core.Money
	for i := range matched {
		cleared = cleared.Add(matched[i].Amount)
	}
	rec.ClearedBalance = cleared
	rec.Difference = rec.StatementBalance.Sub(cleared)
}

func matchedTransactions(ctx context.Context, r storage.Reader, op string, rec *core.Reconciliation) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(rec.MatchedKeys))
	for _, k := range rec.MatchedKeys {
		t, err := storage.Get[core.Transaction](ctx, r, storage.Transactions, rec.Family, k)
		if err != nil {
			return nil, storage.Translate(err, op, core.EntityTransaction, k)
		}
		out = append(out, *t)
	}
	return out, nil
}

// Complete closes the reconciliation when |difference| <= 0.01, marking
// every matched transaction cleared and reconciled. The difference is taken
// from the matched transactions as they are now, not from the last match.
// Otherwise nothing changes.
func (s *Service) Complete(ctx context.Context, family, key, notes string) (*core.Reconciliation, error) {
	const op = "reconcile.complete"
	var out *core.Reconciliation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		rec, err := load(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if rec.Status == core.ReconciliationCompleted {
			return core.BusinessRule(op, "reconciliation %q is already completed", key)
		}

		matched, err := matchedTransactions(ctx, tx, op, rec)
		if err != nil {
			return err
		}
		for i := range matched {
			t := &matched[i]
			if !t.IsActive() {
				return core.BusinessRule(op, "matched transaction %q is void", t.Key)
			}
			if t.AccountKey != rec.AccountKey {
				return core.BusinessRule(op, "matched transaction %q moved to account %s", t.Key, t.AccountKey)
			}
		}
		tally(rec, matched)
		if !rec.Difference.Within(core.Money{}, core.ReconciliationTolerance) {
			return core.BusinessRule(op, "difference %s exceeds tolerance %s", rec.Difference, core.ReconciliationTolerance)
		}

		for i := range matched {
			t := &matched[i]
			t.Reconciled = true
			t.Cleared = true
			if err := storage.Put(ctx, tx, storage.Transactions, t); err != nil {
				return storage.Translate(err, op, core.EntityTransaction, t.Key)
			}
		}
		if _, err := ledger.RecomputeAccount(ctx, tx, op, family, rec.AccountKey); err != nil {
			return err
		}

		completedAt := s.now()
		rec.Status = core.ReconciliationCompleted
		rec.CompletedAt = &completedAt
		rec.Notes = notes
		if err := storage.Put(ctx, tx, storage.Reconciliations, rec); err != nil {
			return storage.Translate(err, op, core.EntityReconciliation, key)
		}
		out = rec
		return events.Record(ctx, tx, events.ReconciliationCompleted, family, rec.Key, events.ReconciliationPayload{
			ReconciliationKey: rec.Key,
			AccountKey:        rec.AccountKey,
			StatementBalance:  rec.StatementBalance,
			Difference:        rec.Difference,
			Matched:           len(rec.MatchedKeys),
		})
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogMutation(ctx, log.ComponentReconcile, log.OpComplete, family, log.LogFields{
		log.FieldReconciliationKey: key,
		"matched":                  len(out.MatchedKeys),
	})
	return out, nil
}
