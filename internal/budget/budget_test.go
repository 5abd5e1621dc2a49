package budget

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
		return fmt.Sprintf("b%03d", n)
	}
	s.now = func() time.Time { return time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC) }
	return s, store
}

// budgetFixture is a small family budget: one income and one expense
// category and three fortnightly periods in 2025, plus one in late 2024.
type budgetFixture struct {
	s         *Service
	store     *storage.MemoryStore
	salary    *core.Category
	groceries *core.Category
	periods   []*core.PayPeriod
	txSeq     int
}

func newFixture(t *testing.T) *budgetFixture {
	t.Helper()
	ctx := context.Background()
	s, store := newTestService(t)
	f := &budgetFixture{s: s, store: store}

	income, err := s.CreateGroup(ctx, fam, GroupInput{Name: "Income", Type: core.GroupIncome, SortOrder: 0})
	if err != nil {
		t.Fatal(err)
	}
	living, err := s.CreateGroup(ctx, fam, GroupInput{Name: "Living", Type: core.GroupExpense, SortOrder: 1})
	if err != nil {
		t.Fatal(err)
	}
	if f.salary, err = s.CreateCategory(ctx, fam, CategoryInput{GroupKey: income.Key, Name: "Salary"}); err != nil {
		t.Fatal(err)
	}
	if f.groceries, err = s.CreateCategory(ctx, fam, CategoryInput{GroupKey: living.Key, Name: "Groceries"}); err != nil {
		t.Fatal(err)
	}

	ranges := [][2]core.Date{
		{core.NewDate(2024, 12, 18), core.NewDate(2024, 12, 31)},
		{core.NewDate(2025, 1, 1), core.NewDate(2025, 1, 14)},
		{core.NewDate(2025, 1, 15), core.NewDate(2025, 1, 28)},
		{core.NewDate(2025, 2, 1), core.NewDate(2025, 2, 14)},
	}
	for _, r := range ranges {
		p, err := s.CreatePeriod(ctx, fam, PeriodInput{Start: r[0], End: r[1]})
		if err != nil {
			t.Fatal(err)
		}
		f.periods = append(f.periods, p)
	}
	return f
}

func (f *budgetFixture) spend(t *testing.T, period *core.PayPeriod, category string, cents int64, status core.TransactionStatus) {
	t.Helper()
	f.txSeq++
	tx := &core.Transaction{
		Meta:        core.Meta{Key: fmt.Sprintf("tx%02d", f.txSeq), Family: fam},
		AccountKey:  "acc",
		CategoryKey: category,
		PeriodKey:   period.Key,
		Amount:      core.NewMoney(cents),
		Date:        period.Start,
		Status:      status,
	}
	if err := storage.Put(context.Background(), f.store, storage.Transactions, tx); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func (f *budgetFixture) assign(t *testing.T, period *core.PayPeriod, category string, cents int64) {
	t.Helper()
	if _, err := f.s.AssignMoney(context.Background(), fam, period.Key, category, core.NewMoney(cents)); err != nil {
		t.Fatalf("assign: %v", err)
	}
}

func balancesByCategory(t *testing.T, s *Service, periodKey string) map[string]core.CategoryBalance {
	t.Helper()
	rows, err := s.CategoryBalances(context.Background(), fam, periodKey)
	if err != nil {
		t.Fatalf("category balances: %v", err)
	}
	out := make(map[string]core.CategoryBalance, len(rows))
	for _, r := range rows {
		out[r.CategoryKey] = r
	}
	return out
}

func TestRecalculateYearPropagatesEndingBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p0, p1, p2 := f.periods[1], f.periods[2], f.periods[3]

	if _, err := f.s.SetCarryover(ctx, fam, p0.Key, f.groceries.Key, core.NewMoney(5000)); err != nil {
		t.Fatal(err)
	}
	f.assign(t, p0, f.groceries.Key, 10000)
	f.assign(t, p1, f.groceries.Key, 10000)
	f.spend(t, p0, f.groceries.Key, -3000, core.StatusActive)
	f.spend(t, p0, f.groceries.Key, -9999, core.StatusVoid)
	f.spend(t, p0, f.salary.Key, 200000, core.StatusActive)
	f.spend(t, p1, f.groceries.Key, -12000, core.StatusActive)
	f.spend(t, p1, f.groceries.Key, 500, core.StatusActive) // refund is not spending

	n, err := f.s.RecalculateYear(ctx, fam, p0.Key)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 affected periods, got %d", n)
	}

	tests := []struct {
		period    *core.PayPeriod
		category  string
		carryover int64
	}{
		{p0, f.groceries.Key, 5000},
		{p1, f.groceries.Key, 12000},
		{p2, f.groceries.Key, 10000},
		{p1, f.salary.Key, -200000},
		{p2, f.salary.Key, -200000},
	}
	for _, tt := range tests {
		got := balancesByCategory(t, f.s, tt.period.Key)[tt.category]
		if got.Carryover.Cents != tt.carryover {
			t.Errorf("%s/%s: carryover = %d, want %d", tt.period.Key, tt.category, got.Carryover.Cents, tt.carryover)
		}
	}

	for i := 0; i+1 < 3; i++ {
		cur := balancesByCategory(t, f.s, f.periods[i+1].Key)
		next := balancesByCategory(t, f.s, f.periods[i+2].Key)
		for key, row := range cur {
			if next[key].Carryover != row.Available {
				t.Errorf("period %d category %s: next carryover %s != available %s", i, key, next[key].Carryover, row.Available)
			}
		}
	}

	// the 2024 period sits outside the chain
	if rows := balancesByCategory(t, f.s, f.periods[0].Key); rows[f.groceries.Key].Carryover.Cents != 0 {
		t.Fatalf("previous year must not be touched")
	}

	pending, _ := f.store.PendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].Type != "budget.recalculated" {
		t.Fatalf("expected one budget.recalculated event, got %+v", pending)
	}
}

func TestRecalculateYearIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p0, p1 := f.periods[1], f.periods[2]
	f.assign(t, p0, f.groceries.Key, 4000)

	for i := 0; i < 2; i++ {
		if _, err := f.s.RecalculateYear(ctx, fam, p0.Key); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := storage.Find[core.Carryover](ctx, f.store, storage.Carryovers, fam, storage.Filter{"period_key": p1.Key})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one carryover row per category, got %d", len(rows))
	}
	if got := balancesByCategory(t, f.s, p1.Key)[f.groceries.Key].Carryover.Cents; got != 4000 {
		t.Fatalf("carryover = %d, want 4000", got)
	}
}

func TestRecalculateYearStartsMidYear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p0, p1, p2 := f.periods[1], f.periods[2], f.periods[3]
	if _, err := f.s.SetCarryover(ctx, fam, p0.Key, f.groceries.Key, core.NewMoney(777)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.s.SetCarryover(ctx, fam, p1.Key, f.groceries.Key, core.NewMoney(1000)); err != nil {
		t.Fatal(err)
	}
	f.assign(t, p1, f.groceries.Key, 250)

	n, err := f.s.RecalculateYear(ctx, fam, p1.Key)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 periods, got %d", n)
	}
	if got := balancesByCategory(t, f.s, p2.Key)[f.groceries.Key].Carryover.Cents; got != 1250 {
		t.Fatalf("p2 carryover = %d, want 1250", got)
	}
	if got := balancesByCategory(t, f.s, p0.Key)[f.groceries.Key].Carryover.Cents; got != 777 {
		t.Fatalf("earlier period changed to %d", got)
	}
}

func TestRecalculateYearSinglePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	last := f.periods[3]

	n, err := f.s.RecalculateYear(ctx, fam, last.Key)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 and no error, got %d, %v", n, err)
	}
	pending, _ := f.store.PendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("nothing should be written for a single period, got %d events", len(pending))
	}

	if _, err := f.s.RecalculateYear(ctx, fam, "pp-missing"); !core.IsNotFound(err, core.EntityPayPeriod) {
		t.Fatalf("expected period not found, got %v", err)
	}
}

func TestCategoryBalancesPolarity(t *testing.T) {
	f := newFixture(t)
	p := f.periods[1]
	f.assign(t, p, f.groceries.Key, 20000)
	f.spend(t, p, f.groceries.Key, -4500, core.StatusActive)
	f.spend(t, p, f.salary.Key, 150000, core.StatusActive)
	f.spend(t, p, f.salary.Key, -100, core.StatusActive)

	rows, err := f.s.CategoryBalances(context.Background(), fam, p.Key)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].CategoryKey != f.salary.Key {
		t.Fatalf("expected income group first, got %+v", rows)
	}
	salary, groceries := rows[0], rows[1]
	if !salary.IsIncome || salary.Spent.Cents != 150000 || salary.GroupName != "Income" {
		t.Fatalf("unexpected salary row %+v", salary)
	}
	if groceries.IsIncome || groceries.Spent.Cents != 4500 || groceries.Available.Cents != 15500 {
		t.Fatalf("unexpected groceries row %+v", groceries)
	}

	if _, err := f.s.CategoryBalances(context.Background(), fam, "nope"); !core.IsNotFound(err, core.EntityPayPeriod) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBudgetSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.periods[1]
	f.assign(t, p, f.salary.Key, 300000)
	f.assign(t, p, f.groceries.Key, 40000)
	f.assign(t, p, f.groceries.Key, 50000) // replaces
	f.spend(t, p, f.groceries.Key, -99999, core.StatusActive)
	if _, err := f.s.AddIncome(ctx, fam, p.Key, IncomeInput{Description: "Payday", Amount: core.NewMoney(280000)}); err != nil {
		t.Fatal(err)
	}

	sum, err := f.s.BudgetSummary(ctx, fam, p.Key)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalPlannedIncome.Cents != 300000 || sum.TotalExpenseAssigned.Cents != 50000 || sum.Unassigned.Cents != 250000 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.TotalIncome.Cents != 280000 {
		t.Fatalf("total income = %d", sum.TotalIncome.Cents)
	}
}

func TestAddIncomeRefreshesTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.periods[2]
	for _, cents := range []int64{100000, 25050} {
		if _, err := f.s.AddIncome(ctx, fam, p.Key, IncomeInput{Description: "Pay", Amount: core.NewMoney(cents), ReceivedDate: p.Start}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := f.s.GetPeriod(ctx, fam, p.Key)
	if got.TotalIncome.Cents != 125050 {
		t.Fatalf("total income = %d", got.TotalIncome.Cents)
	}
	if _, err := f.s.AddIncome(ctx, fam, p.Key, IncomeInput{Description: "Bad", Amount: core.NewMoney(-1)}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation for negative income, got %v", err)
	}
	entries, _ := f.s.ListIncome(ctx, fam, p.Key)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestPeriodOverlap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	tests := []struct {
		name       string
		start, end core.Date
		wantErr    error
	}{
		{"first", core.NewDate(2025, 3, 1), core.NewDate(2025, 3, 14), nil},
		{"gap is fine", core.NewDate(2025, 3, 20), core.NewDate(2025, 3, 31), nil},
		{"shares last day", core.NewDate(2025, 3, 14), core.NewDate(2025, 3, 19), core.ErrBusinessRule},
		{"inside", core.NewDate(2025, 3, 22), core.NewDate(2025, 3, 23), core.ErrBusinessRule},
		{"end before start", core.NewDate(2025, 4, 10), core.NewDate(2025, 4, 1), core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreatePeriod(ctx, fam, PeriodInput{Start: tt.start, End: tt.end})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	newEnd := core.NewDate(2025, 3, 21)
	if _, err := s.UpdatePeriod(ctx, fam, "pp-20250301-20250314", PeriodPatch{End: &newEnd}); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("update into overlap should fail, got %v", err)
	}
	periods, _ := s.ListPeriods(ctx, fam, 2025)
	if len(periods) != 2 || periods[0].Key != "pp-20250301-20250314" {
		t.Fatalf("unexpected periods %+v", periods)
	}
}

func TestCreatePeriodRejectsSameDates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	in := PeriodInput{Name: "Jan A", Start: core.NewDate(2025, 1, 1), End: core.NewDate(2025, 1, 14)}
	p, err := s.CreatePeriod(ctx, fam, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddIncome(ctx, fam, p.Key, IncomeInput{Description: "Salary", Amount: core.NewMoney(250000)}); err != nil {
		t.Fatal(err)
	}

	in.Name = "Jan B"
	if _, err := s.CreatePeriod(ctx, fam, in); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("expected business rule for a repeated period, got %v", err)
	}
	got, err := s.GetPeriod(ctx, fam, p.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Jan A" || got.TotalIncome.Cents != 250000 {
		t.Fatalf("existing period was overwritten: %+v", got)
	}
}

func TestDeletePeriodCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.periods[1]
	f.assign(t, p, f.groceries.Key, 100)
	if _, err := f.s.SetCarryover(ctx, fam, p.Key, f.groceries.Key, core.NewMoney(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.s.AddIncome(ctx, fam, p.Key, IncomeInput{Description: "Pay", Amount: core.NewMoney(100)}); err != nil {
		t.Fatal(err)
	}
	f.spend(t, p, f.groceries.Key, -100, core.StatusActive)

	if err := f.s.DeletePeriod(ctx, fam, p.Key); err != nil {
		t.Fatal(err)
	}
	for _, c := range []storage.Collection{storage.Assignments, storage.Carryovers, storage.IncomeEntries} {
		docs, _ := f.store.Query(ctx, c, fam, storage.Filter{"period_key": p.Key})
		if len(docs) != 0 {
			t.Errorf("%s still has %d rows", c, len(docs))
		}
	}
	docs, _ := f.store.Query(ctx, storage.Transactions, fam, storage.Filter{"period_key": p.Key})
	if len(docs) != 1 {
		t.Fatalf("transactions must keep their period key")
	}
	if _, err := f.s.GetPeriod(ctx, fam, p.Key); !core.IsNotFound(err, core.EntityPayPeriod) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteCategoryGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.periods[1]

	split := &core.Transaction{
		Meta:        core.Meta{Key: "split", Family: fam},
		AccountKey:  "acc",
		CategoryKey: f.salary.Key,
		Amount:      core.NewMoney(-300),
		Date:        p.Start,
		Status:      core.StatusVoid,
		Splits: []core.Split{
			{CategoryKey: f.salary.Key, Amount: core.NewMoney(-100)},
			{CategoryKey: f.groceries.Key, Amount: core.NewMoney(-200)},
		},
	}
	if err := storage.Put(ctx, f.store, storage.Transactions, split); err != nil {
		t.Fatal(err)
	}
	if err := f.s.DeleteCategory(ctx, fam, f.groceries.Key); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("split reference must block delete, got %v", err)
	}
	if err := f.s.DeleteGroup(ctx, fam, f.groceries.GroupKey); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("group delete must be blocked too, got %v", err)
	}

	if err := f.store.Delete(ctx, storage.Transactions, fam, "split"); err != nil {
		t.Fatal(err)
	}
	goal, err := f.s.CreateGoal(ctx, fam, GoalInput{Name: "Pantry", TargetAmount: core.NewMoney(1000), CategoryKey: f.groceries.Key})
	if err != nil {
		t.Fatal(err)
	}
	f.assign(t, p, f.groceries.Key, 500)

	if err := f.s.DeleteCategory(ctx, fam, f.groceries.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := f.s.GetGoal(ctx, fam, goal.Key)
	if got.CategoryKey != "" {
		t.Fatalf("goal should be unlinked")
	}
	docs, _ := f.store.Query(ctx, storage.Assignments, fam, storage.Filter{"category_key": f.groceries.Key})
	if len(docs) != 0 {
		t.Fatalf("assignments should be removed")
	}
}

func TestAssignMoneyRequiresExistingSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.s.AssignMoney(ctx, fam, "nope", f.groceries.Key, core.NewMoney(1)); !core.IsNotFound(err, core.EntityPayPeriod) {
		t.Fatalf("expected period not found, got %v", err)
	}
	if _, err := f.s.AssignMoney(ctx, fam, f.periods[1].Key, "nope", core.NewMoney(1)); !core.IsNotFound(err, core.EntityCategory) {
		t.Fatalf("expected category not found, got %v", err)
	}
}

func TestGoalContribute(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	g, err := s.CreateGoal(ctx, fam, GoalInput{Name: "Holiday", TargetAmount: core.NewMoney(100000)})
	if err != nil {
		t.Fatal(err)
	}
	if g, err = s.Contribute(ctx, fam, g.Key, core.NewMoney(25000)); err != nil {
		t.Fatal(err)
	}
	if g.Progress() != 0.25 {
		t.Fatalf("progress = %v", g.Progress())
	}
	if _, err := s.Contribute(ctx, fam, g.Key, core.NewMoney(-30000)); !errors.Is(err, core.ErrBusinessRule) {
		t.Fatalf("overdraw should fail, got %v", err)
	}
	if _, err := s.Contribute(ctx, fam, g.Key, core.Money{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("zero contribution should fail, got %v", err)
	}
	if _, err := s.CreateGoal(ctx, fam, GoalInput{Name: "x", TargetAmount: core.NewMoney(1), CategoryKey: "ghost"}); !core.IsNotFound(err, core.EntityCategory) {
		t.Fatalf("expected category not found, got %v", err)
	}
	if err := s.DeleteGoal(ctx, fam, g.Key); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGoal(ctx, fam, g.Key); !core.IsNotFound(err, core.EntityGoal) {
		t.Fatalf("expected not found, got %v", err)
	}
}
