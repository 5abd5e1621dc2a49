package budget

import (
	"context"
	"errors"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

// AssignMoney sets the amount assigned to category in period, replacing
// any previous assignment.
func (s *Service) AssignMoney(ctx context.Context, family, periodKey, categoryKey string, amount core.Money) (*core.Assignment, error) {
	const op = "budget.assign"
	a := &core.Assignment{
		Meta:        core.Meta{Key: core.AssignmentKey(periodKey, categoryKey), Family: family},
		PeriodKey:   periodKey,
		CategoryKey: categoryKey,
		Amount:      amount,
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if err := checkSlot(ctx, tx, op, family, periodKey, categoryKey); err != nil {
			return err
		}
		if prev, err := storage.Get[core.Assignment](ctx, tx, storage.Assignments, family, a.Key); err == nil {
			a.Meta = prev.Meta
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return storage.Put(ctx, tx, storage.Assignments, a)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpAssign, family, log.LogFields{
		log.FieldPeriodKey:   periodKey,
		log.FieldCategoryKey: categoryKey,
		log.FieldAmount:      amount.String(),
	})
	return a, nil
}

// SetCarryover seeds the opening carryover of category in period. It is
// how the first period of a chain gets a non-zero start.
func (s *Service) SetCarryover(ctx context.Context, family, periodKey, categoryKey string, amount core.Money) (*core.Carryover, error) {
	const op = "budget.set_carryover"
	c := &core.Carryover{
		Meta:        core.Meta{Key: core.CarryoverKey(periodKey, categoryKey), Family: family},
		PeriodKey:   periodKey,
		CategoryKey: categoryKey,
		Amount:      amount,
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if err := checkSlot(ctx, tx, op, family, periodKey, categoryKey); err != nil {
			return err
		}
		if prev, err := storage.Get[core.Carryover](ctx, tx, storage.Carryovers, family, c.Key); err == nil {
			c.Meta = prev.Meta
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return storage.Put(ctx, tx, storage.Carryovers, c)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{
		log.FieldPeriodKey:   periodKey,
		log.FieldCategoryKey: categoryKey,
		log.FieldAmount:      amount.String(),
		"entity":             core.EntityCarryover,
	})
	return c, nil
}

func checkSlot(ctx context.Context, r storage.Reader, op, family, periodKey, categoryKey string) error {
	if periodKey == "" || categoryKey == "" {
		return core.Validation(op, "period and category are required")
	}
	if _, err := loadPeriod(ctx, r, op, family, periodKey); err != nil {
		return err
	}
	_, err := loadCategory(ctx, r, op, family, categoryKey)
	return err
}

type IncomeInput struct {
	Description  string     `json:"description"`
	Amount       core.Money `json:"amount"`
	ReceivedDate core.Date  `json:"received_date"`
}

// AddIncome appends an income entry to the period and refreshes the
// period's total income.
func (s *Service) AddIncome(ctx context.Context, family, periodKey string, in IncomeInput) (*core.IncomeEntry, error) {
	const op = "budget.add_income"
	e := &core.IncomeEntry{
		Meta:         core.Meta{Key: s.newKey(), Family: family},
		PeriodKey:    periodKey,
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		ReceivedDate: in.ReceivedDate,
	}
	if e.ReceivedDate.IsZero() {
		e.ReceivedDate = core.DateOf(s.now())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		p, err := loadPeriod(ctx, tx, op, family, periodKey)
		if err != nil {
			return err
		}
		if err := storage.Put(ctx, tx, storage.IncomeEntries, e); err != nil {
			return err
		}
		entries, err := storage.Find[core.IncomeEntry](ctx, tx, storage.IncomeEntries, family, storage.Filter{"period_key": periodKey})
		if err != nil {
			return err
		}
		var total core.Money
		for i := range entries {
			total = total.Add(entries[i].Amount)
		}
		p.TotalIncome = total
		if err := storage.Put(ctx, tx, storage.PayPeriods, p); err != nil {
			return storage.Translate(err, op, core.EntityPayPeriod, periodKey)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{
		log.FieldPeriodKey: periodKey,
		log.FieldAmount:    e.Amount.String(),
		"entity":           core.EntityIncome,
	})
	return e, nil
}

// ListIncome returns the period's income entries by received date.
func (s *Service) ListIncome(ctx context.Context, family, periodKey string) ([]core.IncomeEntry, error) {
	entries, err := storage.Find[core.IncomeEntry](ctx, s.store, storage.IncomeEntries, family, storage.Filter{"period_key": periodKey})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ReceivedDate.Before(entries[j].ReceivedDate) })
	return entries, nil
}
