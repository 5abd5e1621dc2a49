package core

import (
	"strings"
	"time"
)

// Entity names used in errors and as store collection names.
const (
	EntityAccount        = "account"
	EntityCategoryGroup  = "category_group"
	EntityCategory       = "category"
	EntityPayPeriod      = "pay_period"
	EntityAssignment     = "assignment"
	EntityCarryover      = "carryover"
	EntityIncome         = "income_entry"
	EntityTransaction    = "transaction"
	EntityReconciliation = "reconciliation"
	EntityBill           = "bill"
	EntityGoal           = "goal"
)

// Meta is the envelope shared by every stored entity. Version is owned by
// the store and increments on each write.
type Meta struct {
	Key       string    `json:"key"`
	Family    string    `json:"family"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Envelope exposes the metadata to the store through embedding.
func (m *Meta) Envelope() *Meta { return m }

func (m *Meta) validateMeta(entity string) error {
	if strings.TrimSpace(m.Key) == "" {
		return Validation("validate", "%s key is required", entity)
	}
	if strings.TrimSpace(m.Family) == "" {
		return Validation("validate", "%s family is required", entity)
	}
	return nil
}

type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCredit     AccountType = "credit"
	AccountCash       AccountType = "cash"
	AccountInvestment AccountType = "investment"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCredit, AccountCash, AccountInvestment:
		return true
	}
	return false
}

// Account balances are derived from its transactions and never edited directly.
type Account struct {
	Meta
	Name           string      `json:"name"`
	Type           AccountType `json:"type"`
	OpeningBalance Money       `json:"opening_balance"`
	Balance        Money       `json:"balance"`
	ClearedBalance Money       `json:"cleared_balance"`
	Active         bool        `json:"active"`
}

func (a *Account) Validate() error {
	if err := a.validateMeta(EntityAccount); err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return Validation("validate", "account name is required")
	}
	if !a.Type.Valid() {
		return Validation("validate", "invalid account type %q", a.Type)
	}
	return nil
}

type GroupType string

const (
	GroupIncome  GroupType = "income"
	GroupExpense GroupType = "expense"
	GroupOther   GroupType = "other"
)

func (t GroupType) Valid() bool {
	return t == GroupIncome || t == GroupExpense || t == GroupOther
}

type CategoryGroup struct {
	Meta
	Name      string    `json:"name"`
	Type      GroupType `json:"type"`
	SortOrder int       `json:"sort_order"`
}

func (g *CategoryGroup) IsIncome() bool { return g.Type == GroupIncome }

func (g *CategoryGroup) Validate() error {
	if err := g.validateMeta(EntityCategoryGroup); err != nil {
		return err
	}
	if strings.TrimSpace(g.Name) == "" {
		return Validation("validate", "group name is required")
	}
	if !g.Type.Valid() {
		return Validation("validate", "invalid group type %q", g.Type)
	}
	return nil
}

type Category struct {
	Meta
	GroupKey     string `json:"group_key"`
	Name         string `json:"name"`
	TargetAmount Money  `json:"target_amount"`
	SortOrder    int    `json:"sort_order"`
	Hidden       bool   `json:"hidden"`
}

func (c *Category) Validate() error {
	if err := c.validateMeta(EntityCategory); err != nil {
		return err
	}
	if strings.TrimSpace(c.GroupKey) == "" {
		return Validation("validate", "category group is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return Validation("validate", "category name is required")
	}
	if c.TargetAmount.IsNegative() {
		return Validation("validate", "category target cannot be negative")
	}
	return nil
}

// PayPeriod covers Start..End inclusive.
type PayPeriod struct {
	Meta
	Name           string `json:"name"`
	Start          Date   `json:"start"`
	End            Date   `json:"end"`
	Active         bool   `json:"active"`
	Closed         bool   `json:"closed"`
	ExpectedIncome Money  `json:"expected_income"`
	TotalIncome    Money  `json:"total_income"`
}

func (p *PayPeriod) Validate() error {
	if err := p.validateMeta(EntityPayPeriod); err != nil {
		return err
	}
	if err := p.Start.Validate(); err != nil {
		return Validation("validate", "period start: %v", err)
	}
	if err := p.End.Validate(); err != nil {
		return Validation("validate", "period end: %v", err)
	}
	if p.End.Before(p.Start) {
		return Validation("validate", "period end %s is before start %s", p.End, p.Start)
	}
	return nil
}

// Contains reports whether d falls within the period.
func (p *PayPeriod) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether the two inclusive ranges share at least one day.
func (p *PayPeriod) Overlaps(o *PayPeriod) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// PayPeriodKey derives the deterministic key pp-YYYYMMDD-YYYYMMDD.
func PayPeriodKey(start, end Date) string {
	return "pp-" + start.Format("20060102") + "-" + end.Format("20060102")
}

type Assignment struct {
	Meta
	PeriodKey   string `json:"period_key"`
	CategoryKey string `json:"category_key"`
	Amount      Money  `json:"amount"`
}

// AssignmentKey makes (period, category) the identity so writes replace.
func AssignmentKey(periodKey, categoryKey string) string {
	return "asg:" + periodKey + ":" + categoryKey
}

func (a *Assignment) Validate() error {
	if err := a.validateMeta(EntityAssignment); err != nil {
		return err
	}
	if a.PeriodKey == "" || a.CategoryKey == "" {
		return Validation("validate", "assignment needs period and category")
	}
	return nil
}

type Carryover struct {
	Meta
	PeriodKey   string `json:"period_key"`
	CategoryKey string `json:"category_key"`
	Amount      Money  `json:"amount"`
}

func CarryoverKey(periodKey, categoryKey string) string {
	return "co:" + periodKey + ":" + categoryKey
}

func (c *Carryover) Validate() error {
	if err := c.validateMeta(EntityCarryover); err != nil {
		return err
	}
	if c.PeriodKey == "" || c.CategoryKey == "" {
		return Validation("validate", "carryover needs period and category")
	}
	return nil
}

type IncomeEntry struct {
	Meta
	PeriodKey    string `json:"period_key"`
	Description  string `json:"description"`
	Amount       Money  `json:"amount"`
	ReceivedDate Date   `json:"received_date"`
}

func (e *IncomeEntry) Validate() error {
	if err := e.validateMeta(EntityIncome); err != nil {
		return err
	}
	if e.PeriodKey == "" {
		return Validation("validate", "income needs a period")
	}
	if strings.TrimSpace(e.Description) == "" {
		return Validation("validate", "income description is required")
	}
	if !e.Amount.IsPositive() {
		return Validation("validate", "income amount must be positive")
	}
	if err := e.ReceivedDate.Validate(); err != nil {
		return Validation("validate", "income received date: %v", err)
	}
	return nil
}

type TransactionStatus string

const (
	StatusActive TransactionStatus = "active"
	StatusVoid   TransactionStatus = "void"
)

type Split struct {
	CategoryKey string `json:"category_key"`
	Amount      Money  `json:"amount"`
	Memo        string `json:"memo,omitempty"`
}

type Transaction struct {
	Meta
	AccountKey        string            `json:"account_key"`
	CategoryKey       string            `json:"category_key,omitempty"`
	PeriodKey         string            `json:"period_key,omitempty"`
	Payee             string            `json:"payee"`
	Memo              string            `json:"memo,omitempty"`
	Amount            Money             `json:"amount"`
	Date              Date              `json:"date"`
	Cleared           bool              `json:"cleared"`
	Reconciled        bool              `json:"reconciled"`
	Status            TransactionStatus `json:"status"`
	Splits            []Split           `json:"splits,omitempty"`
	BillKey           string            `json:"bill_key,omitempty"`
	ReconciliationKey string            `json:"reconciliation_key,omitempty"`
	TransferID        string            `json:"transfer_id,omitempty"`
	CorrectedFrom     string            `json:"corrected_from,omitempty"`
}

// IsActive is false for voided transactions, which no longer count anywhere.
func (t *Transaction) IsActive() bool {
	return t.Status != StatusVoid
}

// UsesCategory reports whether the transaction or any of its splits reference key.
func (t *Transaction) UsesCategory(key string) bool {
	if t.CategoryKey == key {
		return true
	}
	for _, s := range t.Splits {
		if s.CategoryKey == key {
			return true
		}
	}
	return false
}

func (t *Transaction) Validate() error {
	if err := t.validateMeta(EntityTransaction); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountKey) == "" {
		return Validation("validate", "transaction account is required")
	}
	if err := t.Date.Validate(); err != nil {
		return Validation("validate", "transaction date: %v", err)
	}
	if t.Status != StatusActive && t.Status != StatusVoid {
		return Validation("validate", "invalid transaction status %q", t.Status)
	}
	if len(t.Splits) > 0 {
		var total Money
		for _, s := range t.Splits {
			if s.CategoryKey == "" {
				return Validation("validate", "split category is required")
			}
			total = total.Add(s.Amount)
		}
		if total != t.Amount {
			return Validation("validate", "splits sum to %s, transaction amount is %s", total, t.Amount)
		}
	}
	return nil
}

type ReconciliationStatus string

const (
	ReconciliationInProgress ReconciliationStatus = "in_progress"
	ReconciliationCompleted  ReconciliationStatus = "completed"
)

// ReconciliationTolerance is the largest difference accepted at completion.
var ReconciliationTolerance = NewMoney(1)

type Reconciliation struct {
	Meta
	AccountKey       string               `json:"account_key"`
	StatementDate    Date                 `json:"statement_date"`
	StatementBalance Money                `json:"statement_balance"`
	ClearedBalance   Money                `json:"cleared_balance"`
	Difference       Money                `json:"difference"`
	Status           ReconciliationStatus `json:"status"`
	MatchedKeys      []string             `json:"matched_keys"`
	Notes            string               `json:"notes,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
}

func (r *Reconciliation) IsMatched(txKey string) bool {
	for _, k := range r.MatchedKeys {
		if k == txKey {
			return true
		}
	}
	return false
}

func (r *Reconciliation) Validate() error {
	if err := r.validateMeta(EntityReconciliation); err != nil {
		return err
	}
	if r.AccountKey == "" {
		return Validation("validate", "reconciliation account is required")
	}
	if err := r.StatementDate.Validate(); err != nil {
		return Validation("validate", "statement date: %v", err)
	}
	if r.Status != ReconciliationInProgress && r.Status != ReconciliationCompleted {
		return Validation("validate", "invalid reconciliation status %q", r.Status)
	}
	if r.Difference != r.StatementBalance.Sub(r.ClearedBalance) {
		return Validation("validate", "reconciliation difference does not match statement minus cleared")
	}
	return nil
}

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// Bill is a recurring obligation template. Paying it materializes a transaction.
type Bill struct {
	Meta
	Name        string    `json:"name"`
	Amount      Money     `json:"amount"`
	DueDay      int       `json:"due_day"`
	Frequency   Frequency `json:"frequency"`
	AccountKey  string    `json:"account_key"`
	CategoryKey string    `json:"category_key,omitempty"`
	AutoPay     bool      `json:"auto_pay"`
	LastPaid    Date      `json:"last_paid"`
	NextDue     Date      `json:"next_due"`
}

func (b *Bill) Validate() error {
	if err := b.validateMeta(EntityBill); err != nil {
		return err
	}
	if strings.TrimSpace(b.Name) == "" {
		return Validation("validate", "bill name is required")
	}
	if !b.Amount.IsPositive() {
		return Validation("validate", "bill amount must be positive")
	}
	if b.DueDay < 1 || b.DueDay > 31 {
		return Validation("validate", "bill due day must be between 1 and 31")
	}
	if !b.Frequency.Valid() {
		return Validation("validate", "invalid bill frequency %q", b.Frequency)
	}
	if b.AccountKey == "" {
		return Validation("validate", "bill account is required")
	}
	return nil
}

type Goal struct {
	Meta
	Name          string `json:"name"`
	TargetAmount  Money  `json:"target_amount"`
	CurrentAmount Money  `json:"current_amount"`
	CategoryKey   string `json:"category_key,omitempty"`
	TargetDate    Date   `json:"target_date"`
}

func (g *Goal) Validate() error {
	if err := g.validateMeta(EntityGoal); err != nil {
		return err
	}
	if strings.TrimSpace(g.Name) == "" {
		return Validation("validate", "goal name is required")
	}
	if !g.TargetAmount.IsPositive() {
		return Validation("validate", "goal target must be positive")
	}
	return nil
}

// Progress is the share of the target reached, capped at 1.
func (g *Goal) Progress() float64 {
	if g.TargetAmount.Cents == 0 {
		return 0
	}
	p := float64(g.CurrentAmount.Cents) / float64(g.TargetAmount.Cents)
	if p > 1 {
		return 1
	}
	return p
}
