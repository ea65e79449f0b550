package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// instrumentTable is one instrument type's full snapshot. It is never
// mutated after construction; replacements swap the pointer.
type instrumentTable struct {
	byID     map[string]domain.Instrument
	byActive map[int64]domain.Instrument
}

// InstrumentCatalog maps instrument ids to active ids and back, and keeps
// leverage tables and top-asset sets per instrument type.
type InstrumentCatalog struct {
	mu        sync.RWMutex
	tables    map[domain.InstrumentType]*instrumentTable
	leverages map[domain.InstrumentType]map[string]domain.LeverageTable
	topAssets map[domain.InstrumentType][]int64
}

// NewInstrumentCatalog creates an empty catalog.
func NewInstrumentCatalog() *InstrumentCatalog {
	return &InstrumentCatalog{
		tables:    make(map[domain.InstrumentType]*instrumentTable),
		leverages: make(map[domain.InstrumentType]map[string]domain.LeverageTable),
		topAssets: make(map[domain.InstrumentType][]int64),
	}
}

// ReplaceInstruments swaps in the full instrument list for typ and returns
// the active ids in message order.
func (c *InstrumentCatalog) ReplaceInstruments(typ domain.InstrumentType, instruments []domain.Instrument) []int64 {
	t := &instrumentTable{
		byID:     make(map[string]domain.Instrument, len(instruments)),
		byActive: make(map[int64]domain.Instrument, len(instruments)),
	}
	actives := make([]int64, 0, len(instruments))
	for _, in := range instruments {
		in.Type = typ
		t.byID[in.ID] = in
		t.byActive[in.ActiveID] = in
		actives = append(actives, in.ActiveID)
	}

	c.mu.Lock()
	c.tables[typ] = t
	c.mu.Unlock()
	return actives
}

// Lookup returns the instrument of the given type and id.
func (c *InstrumentCatalog) Lookup(typ domain.InstrumentType, id string) (domain.Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.tables[typ]; ok {
		if in, ok := t.byID[id]; ok {
			return in, nil
		}
	}
	return domain.Instrument{}, fmt.Errorf("memory: lookup %s %q: %w", typ, id, domain.ErrUnknownInstrument)
}

// ActiveID resolves an instrument id to its active id across all types.
// Types are searched in name order so the result is deterministic.
func (c *InstrumentCatalog) ActiveID(id string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, typ := range c.sortedTypes() {
		if in, ok := c.tables[typ].byID[id]; ok {
			return in.ActiveID, nil
		}
	}
	return 0, fmt.Errorf("memory: active id for %q: %w", id, domain.ErrUnknownInstrument)
}

// InstrumentID resolves an active id to its instrument id across all types.
func (c *InstrumentCatalog) InstrumentID(activeID int64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, typ := range c.sortedTypes() {
		if in, ok := c.tables[typ].byActive[activeID]; ok {
			return in.ID, nil
		}
	}
	return "", fmt.Errorf("memory: instrument for active %d: %w", activeID, domain.ErrUnknownInstrument)
}

// Instruments returns the instruments of typ sorted by id.
func (c *InstrumentCatalog) Instruments(typ domain.InstrumentType) []domain.Instrument {
	c.mu.RLock()
	t, ok := c.tables[typ]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	out := make([]domain.Instrument, 0, len(t.byID))
	for _, in := range t.byID {
		out = append(out, in)
	}
	slices.SortFunc(out, func(a, b domain.Instrument) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ReplaceLeverages swaps in the leverage tables for typ, keyed by active id.
// Active ids missing from the instrument table are skipped and returned.
func (c *InstrumentCatalog) ReplaceLeverages(typ domain.InstrumentType, byActive map[int64]domain.LeverageTable) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unknown []int64
	next := make(map[string]domain.LeverageTable, len(byActive))
	t := c.tables[typ]
	for active, table := range byActive {
		if t == nil {
			unknown = append(unknown, active)
			continue
		}
		in, ok := t.byActive[active]
		if !ok {
			unknown = append(unknown, active)
			continue
		}
		next[in.ID] = table
	}
	c.leverages[typ] = next
	slices.Sort(unknown)
	return unknown
}

// Leverages returns the leverage table of one instrument.
func (c *InstrumentCatalog) Leverages(typ domain.InstrumentType, id string) (domain.LeverageTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if table, ok := c.leverages[typ][id]; ok {
		return table, nil
	}
	return nil, fmt.Errorf("memory: leverages %s %q: %w", typ, id, domain.ErrNotFound)
}

// ReplaceTopAssets swaps in the top-asset active ids for typ.
func (c *InstrumentCatalog) ReplaceTopAssets(typ domain.InstrumentType, actives []int64) {
	set := slices.Clone(actives)
	slices.Sort(set)
	set = slices.Compact(set)

	c.mu.Lock()
	c.topAssets[typ] = set
	c.mu.Unlock()
}

// TopAssets returns the sorted top-asset active ids for typ.
func (c *InstrumentCatalog) TopAssets(typ domain.InstrumentType) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.topAssets[typ])
}

func (c *InstrumentCatalog) sortedTypes() []domain.InstrumentType {
	types := make([]domain.InstrumentType, 0, len(c.tables))
	for typ := range c.tables {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}
