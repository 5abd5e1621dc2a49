package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lifeops/internal/core"
	"lifeops/internal/ledger"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

const fam = "test"

type fixture struct {
	store   *storage.MemoryStore
	ledger  *ledger.Service
	rec     *Service
	account *core.Account
	other   *core.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	f := &fixture{
		store:  store,
		ledger: ledger.NewService(store, log.Discard()),
		rec:    NewService(store, log.Discard()),
	}
	n := 0
	f.rec.newKey = func() string {
		n++
		return fmt.Sprintf("rec%02d", n)
	}
	f.rec.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }

	var err error
	if f.account, err = f.ledger.CreateAccount(ctx, fam, ledger.AccountInput{Name: "Checking", Type: core.AccountChecking}); err != nil {
		t.Fatal(err)
	}
	if f.other, err = f.ledger.CreateAccount(ctx, fam, ledger.AccountInput{Name: "Card", Type: core.AccountCredit}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) tx(t *testing.T, account string, cents int64) *core.Transaction {
	t.Helper()
	tx, err := f.ledger.CreateTransaction(context.Background(), fam, ledger.TransactionInput{
		AccountKey: account,
		Amount:     core.NewMoney(cents),
		Date:       core.NewDate(2025, 1, 15),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func (f *fixture) start(t *testing.T, statement int64) *core.Reconciliation {
	t.Helper()
	r, err := f.rec.Start(context.Background(), fam, StartInput{
		AccountKey:       f.account.Key,
		StatementDate:    core.NewDate(2025, 1, 31),
		StatementBalance: core.NewMoney(statement),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	r := f.start(t, 12345)
	if r.Status != core.ReconciliationInProgress || r.ClearedBalance.Cents != 0 || r.Difference.Cents != 12345 {
		t.Fatalf("unexpected new reconciliation %+v", r)
	}
	_, err := f.rec.Start(context.Background(), fam, StartInput{AccountKey: "ghost", StatementDate: core.NewDate(2025, 1, 31)})
	if !core.IsNotFound(err, core.EntityAccount) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestMatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.tx(t, f.account.Key, -1000)
	b := f.tx(t, f.account.Key, 2500)
	c := f.tx(t, f.account.Key, -300)

	r1 := f.start(t, 1200)
	if _, err := f.rec.Match(ctx, fam, r1.Key, []string{a.Key, b.Key}); err != nil {
		t.Fatal(err)
	}
	twice, err := f.rec.Match(ctx, fam, r1.Key, []string{b.Key, c.Key})
	if err != nil {
		t.Fatal(err)
	}

	r2 := f.start(t, 1200)
	// a fresh reconciliation cannot take transactions owned by r1
	if _, err := f.rec.Match(ctx, fam, r2.Key, []string{a.Key}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("expected business rule for foreign match, got %v", err)
	}

	if len(twice.MatchedKeys) != 3 {
		t.Fatalf("expected union of 3 keys, got %v", twice.MatchedKeys)
	}
	if twice.ClearedBalance.Cents != 1200 || twice.Difference.Cents != 0 {
		t.Fatalf("cleared=%d difference=%d", twice.ClearedBalance.Cents, twice.Difference.Cents)
	}

	got, _ := f.ledger.GetTransaction(ctx, fam, c.Key)
	if !got.Cleared || got.ReconciliationKey != r1.Key {
		t.Fatalf("matched transaction must be cleared and stamped: %+v", got)
	}
	acc, _ := f.ledger.GetAccount(ctx, fam, f.account.Key)
	if acc.ClearedBalance.Cents != 1200 {
		t.Fatalf("account cleared balance %d", acc.ClearedBalance.Cents)
	}
}

func TestMatchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	foreign := f.tx(t, f.other.Key, -100)
	voided := f.tx(t, f.account.Key, -100)
	if _, err := f.ledger.VoidTransaction(ctx, fam, voided.Key); err != nil {
		t.Fatal(err)
	}
	r := f.start(t, 0)

	if _, err := f.rec.Match(ctx, fam, r.Key, []string{foreign.Key}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("other account: expected validation, got %v", err)
	}
	if _, err := f.rec.Match(ctx, fam, r.Key, []string{voided.Key}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("void: expected validation, got %v", err)
	}
	if _, err := f.rec.Match(ctx, fam, r.Key, []string{"ghost"}); !core.IsNotFound(err, core.EntityTransaction) {
		t.Fatalf("missing tx: expected not found, got %v", err)
	}
	if _, err := f.rec.Match(ctx, fam, "ghost", nil); !core.IsNotFound(err, core.EntityReconciliation) {
		t.Fatalf("missing reconciliation: expected not found, got %v", err)
	}
}

func TestCompleteGate(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		statement int64
		ok        bool
	}{
		{"exact", -1000, true},
		{"one cent over", -999, true},
		{"one cent under", -1001, true},
		{"two cents off", -998, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.tx(t, f.account.Key, -1000)
			r := f.start(t, tc.statement)
			if _, err := f.rec.Match(ctx, fam, r.Key, []string{tx.Key}); err != nil {
				t.Fatal(err)
			}
			done, err := f.rec.Complete(ctx, fam, r.Key, "january")
			if !tc.ok {
				if !errors.Is(err, core.ErrBusinessRule) {
					t.Fatalf("expected business rule, got %v", err)
				}
				still, _ := f.rec.Get(ctx, fam, r.Key)
				if still.Status != core.ReconciliationInProgress {
					t.Fatalf("failed completion must leave status in progress")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if done.Status != core.ReconciliationCompleted || done.CompletedAt == nil || done.Notes != "january" {
				t.Fatalf("unexpected completed reconciliation %+v", done)
			}
			got, _ := f.ledger.GetTransaction(ctx, fam, tx.Key)
			if !got.Reconciled {
				t.Fatalf("matched transaction must be reconciled")
			}
			if _, err := f.rec.Match(ctx, fam, r.Key, nil); !errors.Is(err, core.ErrBusinessRule) {
				t.Fatalf("match after completion must fail, got %v", err)
			}
			pending, _ := f.store.PendingOutbox(ctx, 100)
			last := pending[len(pending)-1]
			if last.Type != "reconciliation.completed" {
				t.Fatalf("expected completion event, got %s", last.Type)
			}
		})
	}
}

func TestUnmatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.tx(t, f.account.Key, -1000)
	b := f.tx(t, f.account.Key, -500)
	r := f.start(t, -1500)
	if _, err := f.rec.Match(ctx, fam, r.Key, []string{a.Key, b.Key}); err != nil {
		t.Fatal(err)
	}
	out, err := f.rec.Unmatch(ctx, fam, r.Key, []string{b.Key, "not-matched"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.MatchedKeys) != 1 || out.ClearedBalance.Cents != -1000 || out.Difference.Cents != -500 {
		t.Fatalf("unexpected state after unmatch %+v", out)
	}
	got, _ := f.ledger.GetTransaction(ctx, fam, b.Key)
	if got.Cleared || got.ReconciliationKey != "" {
		t.Fatalf("unmatched transaction must be released: %+v", got)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t, 0)
	if _, err := f.rec.Start(ctx, fam, StartInput{AccountKey: f.other.Key, StatementDate: core.NewDate(2025, 2, 28)}); err != nil {
		t.Fatal(err)
	}
	all, err := f.rec.List(ctx, fam, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2, got %d (%v)", len(all), err)
	}
	if !all[0].StatementDate.Equal(core.NewDate(2025, 2, 28)) {
		t.Fatalf("expected newest first")
	}
	mine, _ := f.rec.List(ctx, fam, f.account.Key)
	if len(mine) != 1 {
		t.Fatalf("expected 1 for account, got %d", len(mine))
	}
}

func TestMatchedTransactionsAreLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tx := f.tx(t, f.account.Key, 10000)
	r := f.start(t, 10000)
	if _, err := f.rec.Match(ctx, fam, r.Key, []string{tx.Key}); err != nil {
		t.Fatal(err)
	}

	amount := core.NewMoney(5000)
	if _, err := f.ledger.UpdateTransaction(ctx, fam, tx.Key, ledger.TransactionPatch{Amount: &amount}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("amount edit: expected business rule, got %v", err)
	}
	if _, err := f.ledger.UpdateTransaction(ctx, fam, tx.Key, ledger.TransactionPatch{AccountKey: &f.other.Key}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("account move: expected business rule, got %v", err)
	}
	if _, err := f.ledger.VoidTransaction(ctx, fam, tx.Key); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("void: expected business rule, got %v", err)
	}
	if _, err := f.ledger.ClearTransaction(ctx, fam, tx.Key); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("un-clear: expected business rule, got %v", err)
	}
	if _, err := f.ledger.CorrectTransaction(ctx, fam, tx.Key, ledger.CorrectionInput{Amount: amount}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("correct: expected business rule, got %v", err)
	}

	// unmatching releases the lock
	if _, err := f.rec.Unmatch(ctx, fam, r.Key, []string{tx.Key}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.UpdateTransaction(ctx, fam, tx.Key, ledger.TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("amount edit after unmatch: %v", err)
	}
}

// Writes that bypass the ledger, such as documents restored from a backup,
// can still change matched transactions. Completion must judge them as they
// are stored.
func TestCompleteRecomputesFromMatched(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		edit func(*core.Transaction)
		ok   bool
	}{
		{"amount changed", func(tx *core.Transaction) { tx.Amount = core.NewMoney(5000) }, false},
		{"voided", func(tx *core.Transaction) { tx.Status = core.StatusVoid }, false},
		{"uncleared", func(tx *core.Transaction) { tx.Cleared = false }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.tx(t, f.account.Key, 10000)
			r := f.start(t, 10000)
			if _, err := f.rec.Match(ctx, fam, r.Key, []string{tx.Key}); err != nil {
				t.Fatal(err)
			}
			stored, err := f.ledger.GetTransaction(ctx, fam, tx.Key)
			if err != nil {
				t.Fatal(err)
			}
			tc.edit(stored)
			if err := storage.Put(ctx, f.store, storage.Transactions, stored); err != nil {
				t.Fatal(err)
			}
			if _, err := f.ledger.RecomputeBalance(ctx, fam, f.account.Key); err != nil {
				t.Fatal(err)
			}

			done, err := f.rec.Complete(ctx, fam, r.Key, "")
			if !tc.ok {
				if !errors.Is(err, core.ErrBusinessRule) {
					t.Fatalf("expected business rule, got %v", err)
				}
				still, _ := f.rec.Get(ctx, fam, r.Key)
				if still.Status != core.ReconciliationInProgress {
					t.Fatalf("failed completion must leave status in progress")
				}
				got, _ := f.ledger.GetTransaction(ctx, fam, tx.Key)
				if got.Reconciled {
					t.Fatalf("failed completion must not reconcile %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if done.Difference.Cents != 0 || done.ClearedBalance.Cents != 10000 {
				t.Fatalf("unexpected totals %+v", done)
			}
			got, _ := f.ledger.GetTransaction(ctx, fam, tx.Key)
			if !got.Cleared || !got.Reconciled {
				t.Fatalf("completed transaction must be cleared and reconciled: %+v", got)
			}
			acc, _ := f.ledger.GetAccount(ctx, fam, f.account.Key)
			if acc.ClearedBalance.Cents != 10000 {
				t.Fatalf("account cleared balance %d, want 10000", acc.ClearedBalance.Cents)
			}
		})
	}
}
