package cache

import "sync"

// Generations counts invalidations per scope. A reader notes the generation
// before computing a value and stores the value only if no invalidation of
// the scope happened meanwhile, so a slow read never re-caches stale data.
type Generations struct {
	mu   sync.Mutex
	gens map[string]uint64
}

func NewGenerations() *Generations {
	return &Generations{gens: make(map[string]uint64)}
}

// Current returns the generation of scope.
func (g *Generations) Current(scope string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[scope]
}

// Invalidate bumps scope's generation and runs drop under the same lock.
func (g *Generations) Invalidate(scope string, drop func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gens[scope]++
	drop()
}

// StoreIf runs store only when scope is still at generation seen. It reports
// whether store ran.
func (g *Generations) StoreIf(scope string, seen uint64, store func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gens[scope] != seen {
		return false
	}
	store()
	return true
}
