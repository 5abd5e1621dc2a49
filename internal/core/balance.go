package core

// Balances is an immutable-by-convention map of category key to amount.
type Balances map[string]Money

// Get returns the amount for key, zero when absent.
func (b Balances) Get(key string) Money {
	return b[key]
}

func (b Balances) clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// AccountBalances derives an account's balance and cleared balance from its
// opening balance and transactions. Void transactions are skipped.
func AccountBalances(opening Money, txs []Transaction) (balance, cleared Money) {
	balance, cleared = opening, opening
	for i := range txs {
		t := &txs[i]
		if !t.IsActive() {
			continue
		}
		balance = balance.Add(t.Amount)
		if t.Cleared {
			cleared = cleared.Add(t.Amount)
		}
	}
	return balance, cleared
}

// SpentByCategory aggregates spending per category for a set of
// transactions. For income categories spent is the sum of inflows, for every
// other category it is the sum of absolute outflows. Splits attribute their
// own amounts to their own categories. Void and uncategorized transactions
// do not count.
func SpentByCategory(txs []Transaction, isIncome func(categoryKey string) bool) Balances {
	spent := Balances{}
	add := func(category string, amount Money) {
		if category == "" {
			return
		}
		if isIncome(category) {
			if amount.IsPositive() {
				spent[category] = spent[category].Add(amount)
			}
			return
		}
		if amount.IsNegative() {
			spent[category] = spent[category].Add(amount.Abs())
		}
	}
	for i := range txs {
		t := &txs[i]
		if !t.IsActive() {
			continue
		}
		if len(t.Splits) > 0 {
			for _, s := range t.Splits {
				add(s.CategoryKey, s.Amount)
			}
			continue
		}
		add(t.CategoryKey, t.Amount)
	}
	return spent
}

// PeriodActivity is the input of one step of the carryover fold.
type PeriodActivity struct {
	PeriodKey string
	Assigned  Balances
	Spent     Balances
}

// PeriodLedger is the output of one step: what the period started with and
// what it hands to the next one.
type PeriodLedger struct {
	PeriodKey string
	Carryover Balances
	Assigned  Balances
	Spent     Balances
	Ending    Balances
}

// PropagateCarryover folds periods in order. Period 0 opens with seed; each
// following period opens with the previous ending, where
// ending = carryover + assigned - spent. Every category in categories gets a
// row in every map, defaulting to zero.
func PropagateCarryover(categories []string, seed Balances, periods []PeriodActivity) []PeriodLedger {
	previous := make(Balances, len(categories))
	for _, c := range categories {
		previous[c] = seed.Get(c)
	}
	out := make([]PeriodLedger, 0, len(periods))
	for _, p := range periods {
		step := PeriodLedger{
			PeriodKey: p.PeriodKey,
			Carryover: previous,
			Assigned:  make(Balances, len(categories)),
			Spent:     make(Balances, len(categories)),
			Ending:    make(Balances, len(categories)),
		}
		for _, c := range categories {
			assigned, spent := p.Assigned.Get(c), p.Spent.Get(c)
			step.Assigned[c] = assigned
			step.Spent[c] = spent
			step.Ending[c] = previous[c].Add(assigned).Sub(spent)
		}
		out = append(out, step)
		previous = step.Ending.clone()
	}
	return out
}
