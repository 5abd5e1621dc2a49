package budget

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lifeops/internal/core"
	"lifeops/internal/storage"
)

// periodSnapshot is everything the projections read for one period.
type periodSnapshot struct {
	period      *core.PayPeriod
	catalog     *catalog
	assignments []core.Assignment
	carryovers  []core.Carryover
	txs         []core.Transaction
}

// snapshot loads the period's documents concurrently. Transactions are only
// loaded when withTxs is set.
func (s *Service) snapshot(ctx context.Context, op, family, periodKey string, withTxs bool) (*periodSnapshot, error) {
	var (
		snap   periodSnapshot
		cats   []core.Category
		groups []core.CategoryGroup
	)
	byPeriod := storage.Filter{"period_key": periodKey}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.period, err = loadPeriod(gctx, s.store, op, family, periodKey)
		return err
	})
	g.Go(func() (err error) {
		cats, err = storage.Find[core.Category](gctx, s.store, storage.Categories, family, nil)
		return err
	})
	g.Go(func() (err error) {
		groups, err = storage.Find[core.CategoryGroup](gctx, s.store, storage.CategoryGroups, family, nil)
		return err
	})
	g.Go(func() (err error) {
		snap.assignments, err = storage.Find[core.Assignment](gctx, s.store, storage.Assignments, family, byPeriod)
		return err
	})
	g.Go(func() (err error) {
		snap.carryovers, err = storage.Find[core.Carryover](gctx, s.store, storage.Carryovers, family, byPeriod)
		return err
	})
	if withTxs {
		g.Go(func() (err error) {
			snap.txs, err = storage.Find[core.Transaction](gctx, s.store, storage.Transactions, family, byPeriod)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.catalog = newCatalog(cats, groups)
	return &snap, nil
}

// CategoryBalances projects every category of the family for the period:
// carryover, assigned, spent and available = carryover + assigned - spent.
// Rows follow budget order. It never writes.
func (s *Service) CategoryBalances(ctx context.Context, family, periodKey string) ([]core.CategoryBalance, error) {
	snap, err := s.snapshot(ctx, "budget.category_balances", family, periodKey, true)
	if err != nil {
		return nil, err
	}
	carryover := amountsByCategory(snap.carryovers, carryoverAmount)
	assigned := amountsByCategory(snap.assignments, assignmentAmount)
	spent := core.SpentByCategory(snap.txs, snap.catalog.isIncome)

	out := make([]core.CategoryBalance, 0, len(snap.catalog.categories))
	for _, c := range snap.catalog.categories {
		row := core.CategoryBalance{
			CategoryKey:  c.Key,
			CategoryName: c.Name,
			GroupKey:     c.GroupKey,
			Hidden:       c.Hidden,
			Carryover:    carryover.Get(c.Key),
			Assigned:     assigned.Get(c.Key),
			Spent:        spent.Get(c.Key),
		}
		if g := snap.catalog.groups[c.GroupKey]; g != nil {
			row.GroupName = g.Name
			row.IsIncome = g.IsIncome()
		}
		row.Available = row.Carryover.Add(row.Assigned).Sub(row.Spent)
		out = append(out, row)
	}
	return out, nil
}

// BudgetSummary is the planning view of the period. It only looks at
// assignments, never at transactions.
func (s *Service) BudgetSummary(ctx context.Context, family, periodKey string) (*core.BudgetSummary, error) {
	snap, err := s.snapshot(ctx, "budget.summary", family, periodKey, false)
	if err != nil {
		return nil, err
	}
	sum := &core.BudgetSummary{
		PeriodKey:      periodKey,
		ExpectedIncome: snap.period.ExpectedIncome,
		TotalIncome:    snap.period.TotalIncome,
	}
	for _, a := range snap.assignments {
		if snap.catalog.isIncome(a.CategoryKey) {
			sum.TotalPlannedIncome = sum.TotalPlannedIncome.Add(a.Amount)
		} else {
			sum.TotalExpenseAssigned = sum.TotalExpenseAssigned.Add(a.Amount)
		}
	}
	sum.Unassigned = sum.TotalPlannedIncome.Sub(sum.TotalExpenseAssigned)
	return sum, nil
}
