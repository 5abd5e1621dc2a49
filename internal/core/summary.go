package core

// CategoryBalance is the period-scoped view of one category.
type CategoryBalance struct {
	CategoryKey  string `json:"category_key"`
	CategoryName string `json:"category_name"`
	GroupKey     string `json:"group_key"`
	GroupName    string `json:"group_name"`
	IsIncome     bool   `json:"is_income"`
	Hidden       bool   `json:"hidden"`
	Carryover    Money  `json:"carryover"`
	Assigned     Money  `json:"assigned"`
	Spent        Money  `json:"spent"`
	Available    Money  `json:"available"`
}

// BudgetSummary is the planning view of a period: assigned amounts only,
// never actual spending.
type BudgetSummary struct {
	PeriodKey            string `json:"period_key"`
	TotalPlannedIncome   Money  `json:"total_planned_income"`
	TotalExpenseAssigned Money  `json:"total_expense_assigned"`
	Unassigned           Money  `json:"unassigned"`
	ExpectedIncome       Money  `json:"expected_income"`
	TotalIncome          Money  `json:"total_income"`
}
