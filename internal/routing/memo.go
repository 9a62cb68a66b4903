package routing

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// DefaultMemoSize bounds the number of cached plans.
const DefaultMemoSize = 1024

// Memoized caches plans of an underlying Planner keyed by (source, destination, value).
type Memoized struct {
	next  Planner
	cache *lru.Cache[string, intent.RoutePlan]
}

// NewMemoized wraps next with an LRU of the given size. A nil next uses Engine.
func NewMemoized(next Planner, size int) (*Memoized, error) {
	if next == nil {
		next = Engine{}
	}
	if size <= 0 {
		size = DefaultMemoSize
	}
	cache, err := lru.New[string, intent.RoutePlan](size)
	if err != nil {
		return nil, err
	}
	return &Memoized{next: next, cache: cache}, nil
}

// Plan implements Planner.
func (m *Memoized) Plan(source, destination string, value decimal.Decimal) intent.RoutePlan {
	// Normalized so that 2 and 2.0 share an entry.
	key := source + "\x00" + destination + "\x00" + value.String()
	if plan, ok := m.cache.Get(key); ok {
		return plan
	}
	plan := m.next.Plan(source, destination, value)
	m.cache.Add(key, plan)
	return plan
}

// Len returns the number of cached plans.
func (m *Memoized) Len() int {
	return m.cache.Len()
}
