package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

const fam = "test"

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	s := NewService(store, log.Discard())
	n := 0
	s.newKey = func() string {
		n++
		return fmt.Sprintf("k%03d", n)
	}
	s.now = func() time.Time { return time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC) }
	return s, store
}

func mustAccount(t *testing.T, s *Service, name string, opening int64) *core.Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), fam, AccountInput{Name: name, Type: core.AccountChecking, OpeningBalance: core.NewMoney(opening)})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func seed(t *testing.T, store storage.Store, c storage.Collection, rec storage.Record) {
	t.Helper()
	if err := storage.Put(context.Background(), store, c, rec); err != nil {
		t.Fatalf("seed %s: %v", c, err)
	}
}

func balanceOf(t *testing.T, s *Service, key string) (int64, int64) {
	t.Helper()
	acc, err := s.GetAccount(context.Background(), fam, key)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance.Cents, acc.ClearedBalance.Cents
}

func TestCreateTransactionValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	_, err := s.CreateTransaction(ctx, fam, TransactionInput{Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 2)})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("missing account: expected validation, got %v", err)
	}

	_, err = s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: "nope", Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 2)})
	if !core.IsNotFound(err, core.EntityAccount) {
		t.Fatalf("unknown account: expected account not found, got %v", err)
	}

	acc := mustAccount(t, s, "Checking", 0)
	_, err = s.CreateTransaction(ctx, fam, TransactionInput{
		AccountKey: acc.Key,
		Amount:     core.NewMoney(-1000),
		Date:       core.NewDate(2025, 1, 2),
		Splits:     []core.Split{{CategoryKey: "a", Amount: core.NewMoney(-100)}},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unbalanced splits: expected validation, got %v", err)
	}
}

func TestAccountBalanceInvariant(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	acc := mustAccount(t, s, "Checking", 10000)

	t1, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: acc.Key, Amount: core.NewMoney(-2500), Date: core.NewDate(2025, 1, 2), Cleared: true})
	if err != nil {
		t.Fatal(err)
	}
	t2, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: acc.Key, Amount: core.NewMoney(4000), Date: core.NewDate(2025, 1, 3)})
	if err != nil {
		t.Fatal(err)
	}
	if bal, cleared := balanceOf(t, s, acc.Key); bal != 11500 || cleared != 7500 {
		t.Fatalf("after create: balance=%d cleared=%d", bal, cleared)
	}

	amount := core.NewMoney(-3000)
	if _, err := s.UpdateTransaction(ctx, fam, t1.Key, TransactionPatch{Amount: &amount}); err != nil {
		t.Fatal(err)
	}
	if bal, cleared := balanceOf(t, s, acc.Key); bal != 11000 || cleared != 7000 {
		t.Fatalf("after update: balance=%d cleared=%d", bal, cleared)
	}

	if _, err := s.ClearTransaction(ctx, fam, t2.Key); err != nil {
		t.Fatal(err)
	}
	if _, cleared := balanceOf(t, s, acc.Key); cleared != 11000 {
		t.Fatalf("after clear: cleared=%d", cleared)
	}

	if err := s.DeleteTransaction(ctx, fam, t1.Key); err != nil {
		t.Fatal(err)
	}
	if bal, cleared := balanceOf(t, s, acc.Key); bal != 14000 || cleared != 14000 {
		t.Fatalf("after delete: balance=%d cleared=%d", bal, cleared)
	}
}

func TestCreateTransactionAssignsContainingPeriod(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t)
	acc := mustAccount(t, s, "Checking", 0)
	seed(t, store, storage.PayPeriods, &core.PayPeriod{
		Meta:  core.Meta{Key: "pp-jan", Family: fam},
		Name:  "Jan",
		Start: core.NewDate(2025, 1, 1),
		End:   core.NewDate(2025, 1, 14),
	})

	tx, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: acc.Key, Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if tx.PeriodKey != "pp-jan" {
		t.Fatalf("expected pp-jan, got %q", tx.PeriodKey)
	}

	tx, err = s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: acc.Key, Amount: core.NewMoney(-100), Date: core.NewDate(2025, 2, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if tx.PeriodKey != "" {
		t.Fatalf("expected no period, got %q", tx.PeriodKey)
	}

	_, err = s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: acc.Key, PeriodKey: "missing", Amount: core.NewMoney(-100), Date: core.NewDate(2025, 2, 5)})
	if !core.IsNotFound(err, core.EntityPayPeriod) {
		t.Fatalf("expected period not found, got %v", err)
	}
}

func TestCreateTransfer(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t)
	a := mustAccount(t, s, "Checking", 50000)
	b := mustAccount(t, s, "Savings", 0)

	cases := []struct {
		name string
		in   TransferInput
	}{
		{"same account", TransferInput{FromAccountKey: a.Key, ToAccountKey: a.Key, Amount: core.NewMoney(100)}},
		{"zero amount", TransferInput{FromAccountKey: a.Key, ToAccountKey: b.Key}},
		{"negative amount", TransferInput{FromAccountKey: a.Key, ToAccountKey: b.Key, Amount: core.NewMoney(-100)}},
	}
	for _, tc := range cases {
		if _, err := s.CreateTransfer(ctx, fam, tc.in); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%s: expected validation, got %v", tc.name, err)
		}
	}

	tr, err := s.CreateTransfer(ctx, fam, TransferInput{FromAccountKey: a.Key, ToAccountKey: b.Key, Amount: core.NewMoney(20000), Date: core.NewDate(2025, 1, 4)})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Withdrawal.Amount.Cents != -20000 || tr.Deposit.Amount.Cents != 20000 {
		t.Fatalf("unexpected legs %+v", tr)
	}
	if tr.Withdrawal.TransferID != tr.ID || tr.Deposit.TransferID != tr.ID {
		t.Fatalf("legs must share the transfer id")
	}
	if tr.Withdrawal.Payee != "Transfer to Savings" || tr.Deposit.Payee != "Transfer from Checking" {
		t.Fatalf("unexpected payees %q / %q", tr.Withdrawal.Payee, tr.Deposit.Payee)
	}
	if bal, _ := balanceOf(t, s, a.Key); bal != 30000 {
		t.Fatalf("source balance %d", bal)
	}
	if bal, _ := balanceOf(t, s, b.Key); bal != 20000 {
		t.Fatalf("destination balance %d", bal)
	}

	// a missing destination writes nothing
	before, _ := store.Query(ctx, storage.Transactions, fam, nil)
	if _, err := s.CreateTransfer(ctx, fam, TransferInput{FromAccountKey: a.Key, ToAccountKey: "ghost", Amount: core.NewMoney(1)}); !core.IsNotFound(err, core.EntityAccount) {
		t.Fatalf("expected account not found, got %v", err)
	}
	after, _ := store.Query(ctx, storage.Transactions, fam, nil)
	if len(after) != len(before) {
		t.Fatalf("failed transfer left %d new transactions", len(after)-len(before))
	}
}

func TestVoidTransaction(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	a := mustAccount(t, s, "Checking", 10000)
	b := mustAccount(t, s, "Savings", 0)

	tx, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: a.Key, Amount: core.NewMoney(-1500), Date: core.NewDate(2025, 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.VoidTransaction(ctx, fam, tx.Key); err != nil {
		t.Fatal(err)
	}
	if bal, _ := balanceOf(t, s, a.Key); bal != 10000 {
		t.Fatalf("void must leave balance at opening, got %d", bal)
	}
	got, err := s.GetTransaction(ctx, fam, tx.Key)
	if err != nil || got.Status != core.StatusVoid {
		t.Fatalf("void record must remain retrievable: %+v %v", got, err)
	}
	if _, err := s.VoidTransaction(ctx, fam, tx.Key); err != nil {
		t.Fatalf("second void must be a no-op, got %v", err)
	}
	if _, err := s.VoidTransaction(ctx, fam, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	amount := core.NewMoney(-1)
	if _, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Amount: &amount}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("updating void must fail, got %v", err)
	}

	tr, err := s.CreateTransfer(ctx, fam, TransferInput{FromAccountKey: a.Key, ToAccountKey: b.Key, Amount: core.NewMoney(3000)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.VoidTransaction(ctx, fam, tr.Deposit.Key); err != nil {
		t.Fatal(err)
	}
	w, _ := s.GetTransaction(ctx, fam, tr.Withdrawal.Key)
	if w.Status != core.StatusVoid {
		t.Fatalf("voiding one transfer leg must void the other")
	}
	if bal, _ := balanceOf(t, s, a.Key); bal != 10000 {
		t.Fatalf("source balance after void transfer %d", bal)
	}
	if bal, _ := balanceOf(t, s, b.Key); bal != 0 {
		t.Fatalf("destination balance after void transfer %d", bal)
	}
}

func TestCorrectTransaction(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	a := mustAccount(t, s, "Checking", 0)

	orig, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: a.Key, Payee: "Grocer", Amount: core.NewMoney(-1234), Date: core.NewDate(2025, 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	memo := "typo fixed"
	repl, err := s.CorrectTransaction(ctx, fam, orig.Key, CorrectionInput{Amount: core.NewMoney(-1243), Memo: &memo})
	if err != nil {
		t.Fatal(err)
	}
	if repl.CorrectedFrom != orig.Key || repl.Payee != "Grocer" || repl.Memo != memo {
		t.Fatalf("unexpected replacement %+v", repl)
	}
	o, _ := s.GetTransaction(ctx, fam, orig.Key)
	if o.Status != core.StatusVoid {
		t.Fatalf("original must be void")
	}
	if bal, _ := balanceOf(t, s, a.Key); bal != -1243 {
		t.Fatalf("balance after correction %d", bal)
	}
	if _, err := s.CorrectTransaction(ctx, fam, orig.Key, CorrectionInput{Amount: core.NewMoney(-1)}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("correcting a void transaction must fail, got %v", err)
	}
}

func TestReconciledTransactionIsLocked(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t)
	a := mustAccount(t, s, "Checking", 0)
	tx, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: a.Key, Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	tx.Reconciled, tx.Cleared, tx.ReconciliationKey = true, true, "rec"
	seed(t, store, storage.Transactions, tx)

	if err := s.DeleteTransaction(ctx, fam, tx.Key); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("delete: expected business rule, got %v", err)
	}
	amount := core.NewMoney(-5)
	if _, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Amount: &amount}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("update amount: expected business rule, got %v", err)
	}
	payee := "renamed"
	if _, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Payee: &payee}); err != nil {
		t.Fatalf("payee edits stay allowed, got %v", err)
	}
}

func TestMatchedTransactionIsLocked(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t)
	a := mustAccount(t, s, "Checking", 0)
	b := mustAccount(t, s, "Savings", 0)
	tx, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: a.Key, Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	tx.Cleared, tx.ReconciliationKey = true, "rec"
	seed(t, store, storage.Transactions, tx)

	amount := core.NewMoney(-5)
	cleared := false
	tests := []struct {
		name string
		call func() error
	}{
		{"amount", func() error {
			_, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Amount: &amount})
			return err
		}},
		{"account", func() error {
			_, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{AccountKey: &b.Key})
			return err
		}},
		{"cleared flag", func() error {
			_, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Cleared: &cleared})
			return err
		}},
		{"clear toggle", func() error {
			_, err := s.ClearTransaction(ctx, fam, tx.Key)
			return err
		}},
		{"void", func() error {
			_, err := s.VoidTransaction(ctx, fam, tx.Key)
			return err
		}},
		{"correct", func() error {
			_, err := s.CorrectTransaction(ctx, fam, tx.Key, CorrectionInput{Amount: amount})
			return err
		}},
		{"delete", func() error { return s.DeleteTransaction(ctx, fam, tx.Key) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrBusinessRule) {
				t.Fatalf("expected business rule, got %v", err)
			}
		})
	}

	got, _ := s.GetTransaction(ctx, fam, tx.Key)
	if got.Amount.Cents != -100 || !got.Cleared || !got.IsActive() {
		t.Fatalf("matched transaction changed: %+v", got)
	}
	memo := "note"
	if _, err := s.UpdateTransaction(ctx, fam, tx.Key, TransactionPatch{Memo: &memo}); err != nil {
		t.Fatalf("memo edits stay allowed, got %v", err)
	}
}

func TestDeleteAccountGuard(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	a := mustAccount(t, s, "Checking", 0)
	empty := mustAccount(t, s, "Empty", 0)
	if _, err := s.CreateTransaction(ctx, fam, TransactionInput{AccountKey: a.Key, Amount: core.NewMoney(-100), Date: core.NewDate(2025, 1, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAccount(ctx, fam, a.Key); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("expected business rule, got %v", err)
	}
	if err := s.DeleteAccount(ctx, fam, empty.Key); err != nil {
		t.Fatalf("empty account delete: %v", err)
	}
	if _, err := s.GetAccount(ctx, fam, empty.Key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected deleted account to be gone, got %v", err)
	}
}

func TestMarkBillPaid(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	a := mustAccount(t, s, "Checking", 100000)

	bill, err := s.CreateBill(ctx, fam, BillInput{
		Name:       "Rent",
		Amount:     core.NewMoney(80000),
		DueDay:     31,
		Frequency:  core.FrequencyMonthly,
		AccountKey: a.Key,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bill.NextDue.Equal(core.NewDate(2025, 1, 31)) {
		t.Fatalf("first due should be Jan 31, got %s", bill.NextDue)
	}

	pay, err := s.MarkBillPaid(ctx, fam, bill.Key, core.NewDate(2025, 1, 31))
	if err != nil {
		t.Fatal(err)
	}
	if !pay.Bill.NextDue.Equal(core.NewDate(2025, 2, 28)) {
		t.Fatalf("next due should clamp to Feb 28, got %s", pay.Bill.NextDue)
	}
	if pay.Transaction.Amount.Cents != -80000 || pay.Transaction.BillKey != bill.Key {
		t.Fatalf("unexpected bill transaction %+v", pay.Transaction)
	}
	if bal, _ := balanceOf(t, s, a.Key); bal != 20000 {
		t.Fatalf("balance after bill %d", bal)
	}

	pay, err = s.MarkBillPaid(ctx, fam, bill.Key, core.NewDate(2025, 2, 28))
	if err != nil {
		t.Fatal(err)
	}
	if !pay.Bill.NextDue.Equal(core.NewDate(2025, 3, 31)) {
		t.Fatalf("due day must recover after a short month, got %s", pay.Bill.NextDue)
	}
}

func TestNextDueAfter(t *testing.T) {
	cases := []struct {
		current, paid core.Date
		freq          core.Frequency
		day           int
		want          core.Date
	}{
		{core.NewDate(2024, 1, 31), core.NewDate(2024, 1, 31), core.FrequencyMonthly, 31, core.NewDate(2024, 2, 29)},
		{core.NewDate(2025, 1, 15), core.NewDate(2025, 1, 15), core.FrequencyWeekly, 15, core.NewDate(2025, 1, 22)},
		{core.NewDate(2025, 1, 15), core.NewDate(2025, 1, 15), core.FrequencyBiweekly, 15, core.NewDate(2025, 1, 29)},
		{core.NewDate(2025, 11, 30), core.NewDate(2025, 11, 30), core.FrequencyQuarterly, 30, core.NewDate(2026, 2, 28)},
		{core.NewDate(2024, 2, 29), core.NewDate(2024, 2, 29), core.FrequencyYearly, 29, core.NewDate(2025, 2, 28)},
		// paid late: skip past every missed due date
		{core.NewDate(2025, 1, 5), core.NewDate(2025, 3, 10), core.FrequencyMonthly, 5, core.NewDate(2025, 4, 5)},
	}
	for i, tc := range cases {
		got, err := NextDueAfter(tc.current, tc.paid, tc.freq, tc.day)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("case %d: expected %s, got %s", i, tc.want, got)
		}
	}
	if _, err := NextDueAfter(core.NewDate(2025, 1, 1), core.NewDate(2025, 1, 1), "daily", 1); err == nil {
		t.Fatalf("expected error for unknown frequency")
	}
}

func TestPayDueBills(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	a := mustAccount(t, s, "Checking", 100000)

	auto, err := s.CreateBill(ctx, fam, BillInput{
		Name: "Gym", Amount: core.NewMoney(3000), DueDay: 5, Frequency: core.FrequencyMonthly,
		AccountKey: a.Key, AutoPay: true, NextDue: core.NewDate(2024, 11, 5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateBill(ctx, fam, BillInput{
		Name: "Rent", Amount: core.NewMoney(80000), DueDay: 1, Frequency: core.FrequencyMonthly,
		AccountKey: a.Key, NextDue: core.NewDate(2025, 1, 1),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.PayDueBills(ctx, fam, core.NewDate(2025, 1, 10))
	if err != nil {
		t.Fatal(err)
	}
	// Nov 5, Dec 5 and Jan 5 were missed; manual bills are left alone
	if n != 3 {
		t.Fatalf("paid %d occurrences, want 3", n)
	}
	got, err := s.GetBill(ctx, fam, auto.Key)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextDue.Equal(core.NewDate(2025, 2, 5)) || !got.LastPaid.Equal(core.NewDate(2025, 1, 5)) {
		t.Fatalf("next due %s, last paid %s", got.NextDue, got.LastPaid)
	}
	acc, err := s.GetAccount(ctx, fam, a.Key)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance.Cents != 100000-9000 {
		t.Fatalf("balance = %d, want %d", acc.Balance.Cents, 100000-9000)
	}

	// a second run on the same day has nothing left to pay
	if n, err := s.PayDueBills(ctx, fam, core.NewDate(2025, 1, 10)); err != nil || n != 0 {
		t.Fatalf("second run paid %d, err %v", n, err)
	}
}
