package core

import "testing"

func TestAccountBalancesSkipsVoid(t *testing.T) {
	txs := []Transaction{
		{Amount: NewMoney(-500), Cleared: true, Status: StatusActive},
		{Amount: NewMoney(2000), Status: StatusActive},
		{Amount: NewMoney(-9999), Cleared: true, Status: StatusVoid},
	}
	bal, cleared := AccountBalances(NewMoney(1000), txs)
	if bal.Cents != 2500 {
		t.Fatalf("expected balance 2500, got %d", bal.Cents)
	}
	if cleared.Cents != 500 {
		t.Fatalf("expected cleared 500, got %d", cleared.Cents)
	}
}

func TestSpentByCategoryPolarity(t *testing.T) {
	income := func(c string) bool { return c == "salary" }
	txs := []Transaction{
		{CategoryKey: "food", Amount: NewMoney(-1200), Status: StatusActive},
		{CategoryKey: "food", Amount: NewMoney(200), Status: StatusActive}, // refund ignored
		{CategoryKey: "salary", Amount: NewMoney(300000), Status: StatusActive},
		{CategoryKey: "salary", Amount: NewMoney(-100), Status: StatusActive},
		{CategoryKey: "food", Amount: NewMoney(-5000), Status: StatusVoid},
		{Amount: NewMoney(-700), Status: StatusActive}, // uncategorized
		{Amount: NewMoney(-1000), Status: StatusActive, Splits: []Split{
			{CategoryKey: "food", Amount: NewMoney(-400)},
			{CategoryKey: "home", Amount: NewMoney(-600)},
		}},
	}
	spent := SpentByCategory(txs, income)
	want := map[string]int64{"food": 1600, "salary": 300000, "home": 600}
	for k, v := range want {
		if spent.Get(k).Cents != v {
			t.Fatalf("%s: expected %d, got %d", k, v, spent.Get(k).Cents)
		}
	}
	if len(spent) != len(want) {
		t.Fatalf("unexpected categories %v", spent)
	}
}

func TestPropagateCarryover(t *testing.T) {
	cats := []string{"groceries", "rent"}
	periods := []PeriodActivity{
		{PeriodKey: "p1", Assigned: Balances{"groceries": NewMoney(30000)}, Spent: Balances{"groceries": NewMoney(12000)}},
		{PeriodKey: "p2", Assigned: Balances{"groceries": NewMoney(30000)}, Spent: Balances{"groceries": NewMoney(5000), "rent": NewMoney(1000)}},
		{PeriodKey: "p3"},
	}
	out := PropagateCarryover(cats, Balances{"rent": NewMoney(500)}, periods)
	if len(out) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(out))
	}
	if out[0].Ending.Get("groceries").Cents != 18000 {
		t.Fatalf("p1 ending: %d", out[0].Ending.Get("groceries").Cents)
	}
	if out[1].Carryover.Get("groceries").Cents != 18000 {
		t.Fatalf("p2 carryover: %d", out[1].Carryover.Get("groceries").Cents)
	}
	if out[2].Carryover.Get("groceries").Cents != 43000 {
		t.Fatalf("p3 carryover: %d", out[2].Carryover.Get("groceries").Cents)
	}
	if out[2].Carryover.Get("rent").Cents != -500 {
		t.Fatalf("rent deficit should carry: %d", out[2].Carryover.Get("rent").Cents)
	}
	for i := 0; i+1 < len(out); i++ {
		for _, c := range cats {
			if out[i+1].Carryover[c] != out[i].Ending[c] {
				t.Fatalf("period %d category %s: carryover does not match previous ending", i+1, c)
			}
		}
	}
	// steps must not share maps
	out[1].Ending["groceries"] = NewMoney(0)
	if out[2].Carryover.Get("groceries").Cents != 43000 {
		t.Fatalf("ending and next carryover must be independent maps")
	}
}
