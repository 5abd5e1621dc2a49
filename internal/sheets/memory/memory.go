package memory

import (
	"context"
	"fmt"
	"sync"

	"lifeops/internal/core"
	"lifeops/internal/sheets"
)

// Store keeps exported tables in memory, keyed by family and period.
type Store struct {
	mu      sync.Mutex
	tables  map[string][][]any
	exports int
}

var _ sheets.BalanceExporter = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[string][][]any)}
}

// ExportBalances replaces the stored table of the period and returns a
// synthetic reference.
func (s *Store) ExportBalances(_ context.Context, family string, period *core.PayPeriod, rows []core.CategoryBalance) (string, error) {
	if period == nil {
		return "", fmt.Errorf("export balances: period is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[tableKey(family, period.Key)] = sheets.BalanceTable(rows)
	s.exports++
	return fmt.Sprintf("mem:%s/%s", family, period.Key), nil
}

// Table returns the last exported table of the period.
func (s *Store) Table(family, periodKey string) ([][]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey(family, periodKey)]
	return t, ok
}

// Exports counts ExportBalances calls.
func (s *Store) Exports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports
}

func tableKey(family, periodKey string) string {
	return family + "/" + periodKey
}
