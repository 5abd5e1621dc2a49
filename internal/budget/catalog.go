package budget

import (
	"context"
	"sort"
	"strings"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

type GroupInput struct {
	Name      string         `json:"name"`
	Type      core.GroupType `json:"type"`
	SortOrder int            `json:"sort_order"`
}

type GroupPatch struct {
	Name      *string         `json:"name"`
	Type      *core.GroupType `json:"type"`
	SortOrder *int            `json:"sort_order"`
}

type CategoryInput struct {
	GroupKey     string     `json:"group_key"`
	Name         string     `json:"name"`
	TargetAmount core.Money `json:"target_amount"`
	SortOrder    int        `json:"sort_order"`
	Hidden       bool       `json:"hidden"`
}

type CategoryPatch struct {
	GroupKey     *string     `json:"group_key"`
	Name         *string     `json:"name"`
	TargetAmount *core.Money `json:"target_amount"`
	SortOrder    *int        `json:"sort_order"`
	Hidden       *bool       `json:"hidden"`
}

func (s *Service) CreateGroup(ctx context.Context, family string, in GroupInput) (*core.CategoryGroup, error) {
	if in.Type == "" {
		in.Type = core.GroupExpense
	}
	g := &core.CategoryGroup{
		Meta:      core.Meta{Key: s.newKey(), Family: family},
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		SortOrder: in.SortOrder,
	}
	if err := storage.Put(ctx, s.store, storage.CategoryGroups, g); err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{"group_key": g.Key})
	return g, nil
}

// ListGroups returns groups by sort order, then name.
func (s *Service) ListGroups(ctx context.Context, family string) ([]core.CategoryGroup, error) {
	groups, err := storage.Find[core.CategoryGroup](ctx, s.store, storage.CategoryGroups, family, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].SortOrder != groups[j].SortOrder {
			return groups[i].SortOrder < groups[j].SortOrder
		}
		return groups[i].Name < groups[j].Name
	})
	return groups, nil
}

func (s *Service) UpdateGroup(ctx context.Context, family, key string, patch GroupPatch) (*core.CategoryGroup, error) {
	const op = "budget.update_group"
	g, err := storage.Get[core.CategoryGroup](ctx, s.store, storage.CategoryGroups, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityCategoryGroup, key)
	}
	if patch.Name != nil {
		g.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Type != nil {
		g.Type = *patch.Type
	}
	if patch.SortOrder != nil {
		g.SortOrder = *patch.SortOrder
	}
	if err := storage.Put(ctx, s.store, storage.CategoryGroups, g); err != nil {
		return nil, storage.Translate(err, op, core.EntityCategoryGroup, key)
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{"group_key": key})
	return g, nil
}

// DeleteGroup removes a group and its categories. It fails when any of the
// categories is still referenced by a transaction.
func (s *Service) DeleteGroup(ctx context.Context, family, key string) error {
	const op = "budget.delete_group"
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := tx.Get(ctx, storage.CategoryGroups, family, key); err != nil {
			return storage.Translate(err, op, core.EntityCategoryGroup, key)
		}
		cats, err := storage.Find[core.Category](ctx, tx, storage.Categories, family, storage.Filter{"group_key": key})
		if err != nil {
			return err
		}
		for i := range cats {
			if err := removeCategory(ctx, tx, op, family, cats[i].Key); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, storage.CategoryGroups, family, key)
	})
	if err != nil {
		return err
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{"group_key": key})
	return nil
}

func (s *Service) CreateCategory(ctx context.Context, family string, in CategoryInput) (*core.Category, error) {
	const op = "budget.create_category"
	c := &core.Category{
		Meta:         core.Meta{Key: s.newKey(), Family: family},
		GroupKey:     in.GroupKey,
		Name:         strings.TrimSpace(in.Name),
		TargetAmount: in.TargetAmount,
		SortOrder:    in.SortOrder,
		Hidden:       in.Hidden,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := tx.Get(ctx, storage.CategoryGroups, family, c.GroupKey); err != nil {
			return storage.Translate(err, op, core.EntityCategoryGroup, c.GroupKey)
		}
		return storage.Put(ctx, tx, storage.Categories, c)
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpCreate, family, log.LogFields{log.FieldCategoryKey: c.Key})
	return c, nil
}

func (s *Service) GetCategory(ctx context.Context, family, key string) (*core.Category, error) {
	return loadCategory(ctx, s.store, "budget.get_category", family, key)
}

// ListCategories returns categories in budget order. A non-empty groupKey
// restricts the list to that group.
func (s *Service) ListCategories(ctx context.Context, family, groupKey string) ([]core.Category, error) {
	cat, err := loadCatalog(ctx, s.store, family)
	if err != nil {
		return nil, err
	}
	if groupKey == "" {
		return cat.categories, nil
	}
	out := make([]core.Category, 0, len(cat.categories))
	for _, c := range cat.categories {
		if c.GroupKey == groupKey {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) UpdateCategory(ctx context.Context, family, key string, patch CategoryPatch) (*core.Category, error) {
	const op = "budget.update_category"
	var out *core.Category
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := loadCategory(ctx, tx, op, family, key)
		if err != nil {
			return err
		}
		if patch.GroupKey != nil && *patch.GroupKey != c.GroupKey {
			if _, err := tx.Get(ctx, storage.CategoryGroups, family, *patch.GroupKey); err != nil {
				return storage.Translate(err, op, core.EntityCategoryGroup, *patch.GroupKey)
			}
			c.GroupKey = *patch.GroupKey
		}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.TargetAmount != nil {
			c.TargetAmount = *patch.TargetAmount
		}
		if patch.SortOrder != nil {
			c.SortOrder = *patch.SortOrder
		}
		if patch.Hidden != nil {
			c.Hidden = *patch.Hidden
		}
		if err := storage.Put(ctx, tx, storage.Categories, c); err != nil {
			return storage.Translate(err, op, core.EntityCategory, key)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, log.OpUpdate, family, log.LogFields{log.FieldCategoryKey: key})
	return out, nil
}

// DeleteCategory removes a category that no transaction references, along
// with its assignments and carryovers. Goals and bills pointing at it are
// unlinked.
func (s *Service) DeleteCategory(ctx context.Context, family, key string) error {
	const op = "budget.delete_category"
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if _, err := loadCategory(ctx, tx, op, family, key); err != nil {
			return err
		}
		return removeCategory(ctx, tx, op, family, key)
	})
	if err != nil {
		return err
	}
	s.logMutation(ctx, log.OpDelete, family, log.LogFields{log.FieldCategoryKey: key})
	return nil
}

func removeCategory(ctx context.Context, tx storage.Tx, op, family, key string) error {
	txs, err := storage.Find[core.Transaction](ctx, tx, storage.Transactions, family, nil)
	if err != nil {
		return err
	}
	for i := range txs {
		if txs[i].UsesCategory(key) {
			return core.BusinessRule(op, "category %q is used by transaction %s", key, txs[i].Key)
		}
	}

	byCategory := storage.Filter{"category_key": key}
	for _, c := range []storage.Collection{storage.Assignments, storage.Carryovers} {
		if err := deleteWhere(ctx, tx, c, family, byCategory); err != nil {
			return err
		}
	}
	goals, err := storage.Find[core.Goal](ctx, tx, storage.Goals, family, byCategory)
	if err != nil {
		return err
	}
	for i := range goals {
		goals[i].CategoryKey = ""
		if err := storage.Put(ctx, tx, storage.Goals, &goals[i]); err != nil {
			return storage.Translate(err, op, core.EntityGoal, goals[i].Key)
		}
	}
	bills, err := storage.Find[core.Bill](ctx, tx, storage.Bills, family, byCategory)
	if err != nil {
		return err
	}
	for i := range bills {
		bills[i].CategoryKey = ""
		if err := storage.Put(ctx, tx, storage.Bills, &bills[i]); err != nil {
			return storage.Translate(err, op, core.EntityBill, bills[i].Key)
		}
	}
	return tx.Delete(ctx, storage.Categories, family, key)
}
