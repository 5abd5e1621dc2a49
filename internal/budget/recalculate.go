package budget

import (
	"context"

	"lifeops/internal/core"
	"lifeops/internal/events"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

// RecalculateYear propagates ending balances into carryovers along the
// periods of the start period's year, from the start period onwards. The
// start period's own carryovers are the seed and are left untouched; every
// later period gets its carryovers regenerated. It returns the number of
// periods in the chain, or 0 when the start period is the only one.
//
// The snapshot read, the carryover rewrite and the outbox event share one
// unit of work.
func (s *Service) RecalculateYear(ctx context.Context, family, startPeriodKey string) (int, error) {
	const op = "budget.recalculate_year"
	var chain []core.PayPeriod
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		start, err := loadPeriod(ctx, tx, op, family, startPeriodKey)
		if err != nil {
			return err
		}
		chain, err = yearChain(ctx, tx, start)
		if err != nil {
			return err
		}
		if len(chain) <= 1 {
			chain = nil
			return nil
		}

		cat, err := loadCatalog(ctx, tx, family)
		if err != nil {
			return err
		}
		seedRows, err := storage.Find[core.Carryover](ctx, tx, storage.Carryovers, family, storage.Filter{"period_key": chain[0].Key})
		if err != nil {
			return err
		}
		activity := make([]core.PeriodActivity, len(chain))
		for i := range chain {
			if activity[i], err = periodActivity(ctx, tx, family, chain[i].Key, cat); err != nil {
				return err
			}
		}

		ledgers := core.PropagateCarryover(cat.keys(), amountsByCategory(seedRows, carryoverAmount), activity)
		for i := 1; i < len(ledgers); i++ {
			if err := replaceCarryovers(ctx, tx, family, chain[i].Key, cat.keys(), ledgers[i].Carryover); err != nil {
				return err
			}
		}

		keys := make([]string, len(chain))
		for i := range chain {
			keys[i] = chain[i].Key
		}
		return events.Record(ctx, tx, events.BudgetRecalculated, family, startPeriodKey, events.RecalculatedPayload{
			StartPeriodKey:  startPeriodKey,
			PeriodKeys:      keys,
			AffectedPeriods: len(chain),
		})
	})
	if err != nil {
		return 0, err
	}
	s.logMutation(ctx, log.OpRecalculate, family, log.LogFields{
		log.FieldPeriodKey: startPeriodKey,
		log.FieldCount:     len(chain),
	})
	return len(chain), nil
}

// yearChain returns the periods of start's year beginning on or after
// start, in date order.
func yearChain(ctx context.Context, r storage.Reader, start *core.PayPeriod) ([]core.PayPeriod, error) {
	periods, err := storage.Find[core.PayPeriod](ctx, r, storage.PayPeriods, start.Family, nil)
	if err != nil {
		return nil, err
	}
	year := start.Start.Year()
	chain := periods[:0]
	for _, p := range periods {
		if p.Start.Year() == year && !p.Start.Before(start.Start) {
			chain = append(chain, p)
		}
	}
	sortPeriods(chain)
	return chain, nil
}

// periodActivity loads what was assigned and spent per category in a period.
func periodActivity(ctx context.Context, r storage.Reader, family, periodKey string, cat *catalog) (core.PeriodActivity, error) {
	byPeriod := storage.Filter{"period_key": periodKey}
	assignments, err := storage.Find[core.Assignment](ctx, r, storage.Assignments, family, byPeriod)
	if err != nil {
		return core.PeriodActivity{}, err
	}
	txs, err := storage.Find[core.Transaction](ctx, r, storage.Transactions, family, byPeriod)
	if err != nil {
		return core.PeriodActivity{}, err
	}
	return core.PeriodActivity{
		PeriodKey: periodKey,
		Assigned:  amountsByCategory(assignments, assignmentAmount),
		Spent:     core.SpentByCategory(txs, cat.isIncome),
	}, nil
}

// replaceCarryovers deletes every carryover row of the period and writes
// one row per category.
func replaceCarryovers(ctx context.Context, tx storage.Tx, family, periodKey string, categories []string, amounts core.Balances) error {
	if err := deleteWhere(ctx, tx, storage.Carryovers, family, storage.Filter{"period_key": periodKey}); err != nil {
		return err
	}
	for _, c := range categories {
		row := &core.Carryover{
			Meta:        core.Meta{Key: core.CarryoverKey(periodKey, c), Family: family},
			PeriodKey:   periodKey,
			CategoryKey: c,
			Amount:      amounts.Get(c),
		}
		if err := storage.Put(ctx, tx, storage.Carryovers, row); err != nil {
			return err
		}
	}
	return nil
}
