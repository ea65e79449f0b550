// Package memory holds the lock-guarded in-process stores the session
// router writes to and callers read from.
package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// PositionStore is the authoritative id -> Position table. Positions are
// never removed; closed ones stay queryable.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[int64]*domain.Position

	hookMu sync.RWMutex
	hooks  []func(domain.PositionTransition)
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[int64]*domain.Position)}
}

// OnTransition registers fn to run after every open/close transition.
// Hooks run on the writer's goroutine and must not block.
func (s *PositionStore) OnTransition(fn func(domain.PositionTransition)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// ApplyDelta creates the position on first sight or merge-patches it.
func (s *PositionStore) ApplyDelta(d domain.PositionDelta) (*domain.PositionTransition, error) {
	if d.ID == nil {
		return nil, fmt.Errorf("memory: apply delta: missing id: %w", domain.ErrInvalidMessage)
	}

	s.mu.Lock()
	var tr *domain.PositionTransition
	if p, ok := s.positions[*d.ID]; ok {
		tr = p.Apply(d)
	} else {
		s.positions[*d.ID] = domain.NewPosition(d)
	}
	s.mu.Unlock()

	if tr != nil {
		s.fire(*tr)
	}
	return tr, nil
}

// ApplyOrder upserts o into its owning position.
func (s *PositionStore) ApplyOrder(o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[o.PositionID]
	if !ok {
		return fmt.Errorf("memory: apply order %d: position %d: %w", o.ID, o.PositionID, domain.ErrNotFound)
	}
	p.UpsertOrder(o)
	return nil
}

// UpdateWatermark records a caller-computed percent return for a position.
func (s *PositionStore) UpdateWatermark(id int64, percent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("memory: update watermark %d: %w", id, domain.ErrNotFound)
	}
	p.UpdateWatermark(percent)
	return nil
}

// Get returns a snapshot of the position.
func (s *PositionStore) Get(id int64) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("memory: get position %d: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListOpen returns open positions sorted by ascending id. An empty
// instrumentID matches every instrument.
func (s *PositionStore) ListOpen(instrumentID string) []*domain.Position {
	return s.list(func(p *domain.Position) bool {
		return p.IsOpen() && (instrumentID == "" || p.InstrumentID == instrumentID)
	})
}

// ListClosed returns every position not currently open, sorted by id.
func (s *PositionStore) ListClosed() []*domain.Position {
	return s.list(func(p *domain.Position) bool { return !p.IsOpen() })
}

// Counts returns the total and open position counts.
func (s *PositionStore) Counts() (total, open int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.IsOpen() {
			open++
		}
	}
	return len(s.positions), open
}

func (s *PositionStore) list(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Position) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *PositionStore) fire(tr domain.PositionTransition) {
	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(tr)
	}
}
