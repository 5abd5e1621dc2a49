package budget

import (
	"context"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type GoalInput struct {
	Name          string     `json:"name"`
	TargetAmount  core.Money `json:"target_amount"`
	CurrentAmount core.Money `json:"current_amount"`
	CategoryKey   string     `json:"category_key"`
	TargetDate    core.Date  `json:"target_date"`
}

type GoalPatch struct {
	Name         *string     `json:"name"`
	TargetAmount *core.Money `json:"target_amount"`
	CategoryKey  *string     `json:"category_key"`
	TargetDate   *core.Date  `json:"target_date"`
}

func loadGoal(ctx context.Context, r storage.Reader, op, family, key string) (*core.Goal, error) {
	g, err := storage.Get[core.Goal](ctx, r, storage.Goals, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityGoal, key)
	}
	return g, nil
}

func (s *Service) CreateGoal(ctx context.Context, family string, in GoalInput) (*core.Goal, error) {
	const op = "budget.create_goal"
	g := &core.Goal{
		Meta:          core.Meta{Key: s.newKey(), Family: family},
		Name:          strings.TrimSpace(in.Name),
		TargetAmount:  in.TargetAmount,
		CurrentAmount: in.CurrentAmount,
		CategoryKey:   in.CategoryKey,
		TargetDate:    in.TargetDate,
	}
	if g.CurrentAmount.IsNegative() {
		return nil, core.Validation(op, "goal current amount cannot be negative")
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if g.CategoryKey != "" {
			if _, err := loadCategory(ctx, tx, op, family, g.CategoryKey); err != nil {
				return err
			}
		}
		return storage.Put(ctx, tx, storage.Goals, g)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{log.FieldGoalKey: g.Key})
	return g, nil
}

func (s *Service) GetGoal(ctx context.Context, family, key string) (*core.Goal, error) {
	return loadGoal(ctx, s.store, "budget.get_goal", family, key)
}

// ListGoals returns goals by target date, undated goals last.
func (s *Service) ListGoals(ctx context.Context, family string) ([]core.Goal, error) {
	goals, err := storage.Find[core.Goal](ctx, s.store, storage.Goals, family, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(goals, func(i, j int) bool {
		a, b := goals[i].TargetDate, goals[j].TargetDate
		switch {
		case a.IsEmpty() != b.IsEmpty():
			return b.IsEmpty()
		case !a.Equal(b):
			return a.Before(b)
		}
		return goals[i].Name < goals[j].Name
	})
	return goals, nil
}

func (s *Service) UpdateGoal(ctx context.Context, family, key string, patch GoalPatch) (*core.Goal, error) {
	const op = "budget.update_goal"
	var out *core.Goal
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		g, err := loadGoal(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			g.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.TargetAmount != nil {
			g.TargetAmount = *patch.TargetAmount
		}
		if patch.CategoryKey != nil {
			if *patch.CategoryKey != "" {
				if _, err := loadCategory(ctx, tx, op, family, *patch.CategoryKey); err != nil {
					return err
				}
			}
			g.CategoryKey = *patch.CategoryKey
		}
		if patch.TargetDate != nil {
			g.TargetDate = *patch.TargetDate
		}
		if err := storage.Put(ctx, tx, storage.Goals, g); err != nil {
			return storage.Translate(err, op, core.EntityGoal, key)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldGoalKey: key})
	return out, nil
}

// Contribute moves amount into (or, when negative, out of) the goal. The
// current amount cannot drop below zero.
func (s *Service) Contribute(ctx context.Context, family, key string, amount core.Money) (*core.Goal, error) {
	const op = "budget.contribute_goal"
	if amount.IsZero() {
		return nil, core.Validation(op, "contribution cannot be zero")
	}
	var out *core.Goal
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		g, err := loadGoal(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		next := g.CurrentAmount.Add(amount)
		if next.IsNegative() {
			return core.BusinessRule(op, "goal %q holds %s, cannot withdraw %s", key, g.CurrentAmount, amount.Abs())
		}
		g.CurrentAmount = next
		if err := storage.Put(ctx, tx, storage.Goals, g); err != nil {
			return storage.Translate(err, op, core.EntityGoal, key)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{
		log.FieldGoalKey: key,
		log.FieldAmount:  amount.String(),
	})
	return out, nil
}

func (s *Service) DeleteGoal(ctx context.Context, family, key string) error {
	const op = "budget.delete_goal"
	if err := s.store.Delete(ctx, storage.Goals, family, key); err != nil {
		return storage.Translate(err, op, core.EntityGoal, key)
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldGoalKey: key})
	return nil
}
