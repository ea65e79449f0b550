package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// MarketDataCache keeps every tick per symbol keyed by time. Only the tick
// with the greatest time is queryable. Entries are never evicted.
type MarketDataCache struct {
	mu     sync.RWMutex
	ticks  map[string]map[int64]domain.Tick
	latest map[string]int64
}

// NewMarketDataCache creates an empty cache.
func NewMarketDataCache() *MarketDataCache {
	return &MarketDataCache{
		ticks:  make(map[string]map[int64]domain.Tick),
		latest: make(map[string]int64),
	}
}

// Put stores t under (symbol, time), replacing any tick in the same bucket.
func (c *MarketDataCache) Put(t domain.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySym, ok := c.ticks[t.Symbol]
	if !ok {
		bySym = make(map[int64]domain.Tick)
		c.ticks[t.Symbol] = bySym
		c.latest[t.Symbol] = t.Time
	}
	bySym[t.Time] = t
	if t.Time > c.latest[t.Symbol] {
		c.latest[t.Symbol] = t.Time
	}
}

// Latest returns the most recent tick for symbol.
func (c *MarketDataCache) Latest(symbol string) (domain.Tick, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bySym, ok := c.ticks[symbol]
	if !ok {
		return domain.Tick{}, fmt.Errorf("memory: latest tick %q: %w", symbol, domain.ErrNotFound)
	}
	return bySym[c.latest[symbol]], nil
}

// Symbols returns the symbols with at least one tick, sorted.
func (c *MarketDataCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.ticks))
	for sym := range c.ticks {
		out = append(out, sym)
	}
	slices.Sort(out)
	return out
}

// Retained returns how many ticks are held for symbol.
func (c *MarketDataCache) Retained(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks[symbol])
}
