// Package sheets exports budget projections to spreadsheets.
package sheets

import (
	"context"

	"lifeops/internal/core"
)

// Ports for outbound adapters.
type (
	// BalanceExporter writes the category balances of one period, replacing
	// whatever an earlier export of the same period wrote.
	BalanceExporter interface {
		ExportBalances(ctx context.Context, family string, period *core.PayPeriod, rows []core.CategoryBalance) (ref string, err error)
	}
)

// BalanceHeader is the first row of every exported table.
var BalanceHeader = []any{"Group", "Category", "Carryover", "Assigned", "Spent", "Available"}

// BalanceTable lays out rows as spreadsheet values: a header, one line per
// visible category and a totals line over the expense categories.
func BalanceTable(rows []core.CategoryBalance) [][]any {
	out := make([][]any, 0, len(rows)+2)
	out = append(out, BalanceHeader)
	var carry, assigned, spent, available core.Money
	for _, r := range rows {
		if r.Hidden {
			continue
		}
		out = append(out, []any{
			r.GroupName,
			r.CategoryName,
			r.Carryover.String(),
			r.Assigned.String(),
			r.Spent.String(),
			r.Available.String(),
		})
		if r.IsIncome {
			continue
		}
		carry = carry.Add(r.Carryover)
		assigned = assigned.Add(r.Assigned)
		spent = spent.Add(r.Spent)
		available = available.Add(r.Available)
	}
	out = append(out, []any{"", "Total", carry.String(), assigned.String(), spent.String(), available.String()})
	return out
}
