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

type PeriodInput struct {
	Name           string     `json:"name"`
	Start          core.Date  `json:"start"`
	End            core.Date  `json:"end"`
	ExpectedIncome core.Money `json:"expected_income"`
	Active         bool       `json:"active"`
}

// PeriodPatch holds optional changes; nil fields are left as they are.
type PeriodPatch struct {
	Name           *string     `json:"name"`
	Start          *core.Date  `json:"start"`
	End            *core.Date  `json:"end"`
	ExpectedIncome *core.Money `json:"expected_income"`
	Active         *bool       `json:"active"`
	Closed         *bool       `json:"closed"`
}

// CreatePeriod stores a pay period keyed by its dates. Periods may leave
// gaps between them but never overlap, and a period with the same dates
// cannot be created twice.
func (s *Service) CreatePeriod(ctx context.Context, family string, in PeriodInput) (*core.PayPeriod, error) {
	const op = "budget.create_period"
	if in.Start.IsZero() || in.End.IsZero() {
		return nil, core.Validation(op, "period start and end are required")
	}
	p := &core.PayPeriod{
		Meta:           core.Meta{Key: core.PayPeriodKey(in.Start, in.End), Family: family},
		Name:           strings.TrimSpace(in.Name),
		Start:          in.Start,
		End:            in.End,
		Active:         in.Active,
		ExpectedIncome: in.ExpectedIncome,
	}
	if p.Name == "" {
		p.Name = in.Start.String() + " - " + in.End.String()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		_, err := tx.Get(ctx, storage.PayPeriods, family, p.Key)
		switch {
		case err == nil:
			return core.BusinessRule(op, "period %s already exists", p.Key)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		if err := checkOverlap(ctx, tx, op, p); err != nil {
			return err
		}
		return storage.Put(ctx, tx, storage.PayPeriods, p)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{log.FieldPeriodKey: p.Key})
	return p, nil
}

// checkOverlap rejects p when it shares a day with any other stored period.
func checkOverlap(ctx context.Context, r storage.Reader, op string, p *core.PayPeriod) error {
	periods, err := storage.Find[core.PayPeriod](ctx, r, storage.PayPeriods, p.Family, nil)
	if err != nil {
		return err
	}
	for i := range periods {
		other := &periods[i]
		if other.Key == p.Key {
			continue
		}
		if p.Overlaps(other) {
			return core.BusinessRule(op, "period %s..%s overlaps %s", p.Start, p.End, other.Key)
		}
	}
	return nil
}

func (s *Service) GetPeriod(ctx context.Context, family, key string) (*core.PayPeriod, error) {
	return loadPeriod(ctx, s.store, "budget.get_period", family, key)
}

// ListPeriods returns periods ordered by start date. A zero year lists all,
// otherwise only periods starting in that year.
func (s *Service) ListPeriods(ctx context.Context, family string, year int) ([]core.PayPeriod, error) {
	periods, err := storage.Find[core.PayPeriod](ctx, s.store, storage.PayPeriods, family, nil)
	if err != nil {
		return nil, err
	}
	out := periods[:0]
	for _, p := range periods {
		if year == 0 || p.Start.Year() == year {
			out = append(out, p)
		}
	}
	sortPeriods(out)
	return out, nil
}

func sortPeriods(periods []core.PayPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		if !periods[i].Start.Equal(periods[j].Start) {
			return periods[i].Start.Before(periods[j].Start)
		}
		return periods[i].Key < periods[j].Key
	})
}

// UpdatePeriod applies patch. The key stays the one derived at creation.
func (s *Service) UpdatePeriod(ctx context.Context, family, key string, patch PeriodPatch) (*core.PayPeriod, error) {
	const op = "budget.update_period"
	var out *core.PayPeriod
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		p, err := loadPeriod(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Start != nil {
			p.Start = *patch.Start
		}
		if patch.End != nil {
			p.End = *patch.End
		}
		if patch.ExpectedIncome != nil {
			p.ExpectedIncome = *patch.ExpectedIncome
		}
		if patch.Active != nil {
			p.Active = *patch.Active
		}
		if patch.Closed != nil {
			p.Closed = *patch.Closed
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if patch.Start != nil || patch.End != nil {
			if err := checkOverlap(ctx, tx, op, p); err != nil {
				return err
			}
		}
		if err := storage.Put(ctx, tx, storage.PayPeriods, p); err != nil {
			return storage.Translate(err, op, core.EntityPayPeriod, key)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldPeriodKey: key})
	return out, nil
}

// DeletePeriod removes the period with its assignments, carryovers and
// income entries. Transactions keep their period key.
func (s *Service) DeletePeriod(ctx context.Context, family, key string) error {
	const op = "budget.delete_period"
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := loadPeriod(ctx, tx, op, family, key); err != nil {
			return err
		}
		byPeriod := storage.Filter{"period_key": key}
		for _, c := range []storage.Collection{storage.Assignments, storage.Carryovers, storage.IncomeEntries} {
			if err := deleteWhere(ctx, tx, c, family, byPeriod); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, storage.PayPeriods, family, key)
	})
	if err != nil {
		return err
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldPeriodKey: key})
	return nil
}

// deleteWhere deletes every document of c matching f.
func deleteWhere(ctx context.Context, tx storage.Tx, c storage.Collection, family string, f storage.Filter) error {
	docs, err := tx.Query(ctx, c, family, f)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := tx.Delete(ctx, c, family, d.Key); err != nil {
			return err
		}
	}
	return nil
}
