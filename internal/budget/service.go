// Package budget runs the pay-period zero-based budget: periods, the
// category catalog, assignments, income, goals, the year carryover
// recalculation and the read projections over a period.
package budget

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"lifeops/internal/core"
	"lifeops/internal/log"
	"lifeops/internal/storage"
)

// Service orchestrates budget operations over the document store
type Service struct {
	store  storage.Store
	logger *log.Logger
	audit  *log.StructuredLogger

	newKey func() string
	now    func() time.Time
}

func NewService(store storage.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default(log.ComponentBudget)
	}
	logger = logger.WithComponent(log.ComponentBudget)
	return &Service{
		store:  store,
		logger: logger,
		audit:  log.NewStructuredLogger(logger),
		newKey: uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) logMutation(ctx context.Context, op, family string, fields log.LogFields) {
	s.audit.LogMutation(ctx, log.ComponentBudget, op, family, fields)
}

func loadPeriod(ctx context.Context, r storage.Reader, op, family, key string) (*core.PayPeriod, error) {
	p, err := storage.Get[core.PayPeriod](ctx, r, storage.PayPeriods, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityPayPeriod, key)
	}
	return p, nil
}

func loadCategory(ctx context.Context, r storage.Reader, op, family, key string) (*core.Category, error) {
	c, err := storage.Get[core.Category](ctx, r, storage.Categories, family, key)
	if err != nil {
		return nil, storage.Translate(err, op, core.EntityCategory, key)
	}
	return c, nil
}

// catalog is a snapshot of a family's categories and their groups.
type catalog struct {
	categories []core.Category
	groups     map[string]*core.CategoryGroup
	groupOf    map[string]string
}

func loadCatalog(ctx context.Context, r storage.Reader, family string) (*catalog, error) {
	cats, err := storage.Find[core.Category](ctx, r, storage.Categories, family, nil)
	if err != nil {
		return nil, err
	}
	groups, err := storage.Find[core.CategoryGroup](ctx, r, storage.CategoryGroups, family, nil)
	if err != nil {
		return nil, err
	}
	return newCatalog(cats, groups), nil
}

func newCatalog(cats []core.Category, groups []core.CategoryGroup) *catalog {
	c := &catalog{
		categories: cats,
		groups:     make(map[string]*core.CategoryGroup, len(groups)),
		groupOf:    make(map[string]string, len(cats)),
	}
	for i := range groups {
		c.groups[groups[i].Key] = &groups[i]
	}
	for i := range cats {
		c.groupOf[cats[i].Key] = cats[i].GroupKey
	}
	c.sort()
	return c
}

// sort orders categories by group sort order, then category sort order, then name.
func (c *catalog) sort() {
	groupOrder := func(key string) int {
		if g, ok := c.groups[key]; ok {
			return g.SortOrder
		}
		return 0
	}
	sort.SliceStable(c.categories, func(i, j int) bool {
		a, b := &c.categories[i], &c.categories[j]
		if ga, gb := groupOrder(a.GroupKey), groupOrder(b.GroupKey); ga != gb {
			return ga < gb
		}
		if a.GroupKey != b.GroupKey {
			return a.GroupKey < b.GroupKey
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Name < b.Name
	})
}

func (c *catalog) group(categoryKey string) *core.CategoryGroup {
	return c.groups[c.groupOf[categoryKey]]
}

// isIncome reports whether the category sits in an income group.
func (c *catalog) isIncome(categoryKey string) bool {
	g := c.group(categoryKey)
	return g != nil && g.IsIncome()
}

func (c *catalog) keys() []string {
	out := make([]string, len(c.categories))
	for i := range c.categories {
		out[i] = c.categories[i].Key
	}
	return out
}

// amountsByCategory indexes assignment or carryover rows by category.
func amountsByCategory[T any](rows []T, pick func(*T) (string, core.Money)) core.Balances {
	out := make(core.Balances, len(rows))
	for i := range rows {
		k, amount := pick(&rows[i])
		out[k] = out[k].Add(amount)
	}
	return out
}

func assignmentAmount(a *core.Assignment) (string, core.Money) { return a.CategoryKey, a.Amount }
func carryoverAmount(c *core.Carryover) (string, core.Money)   { return c.CategoryKey, c.Amount }
