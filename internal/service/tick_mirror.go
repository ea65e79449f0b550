package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// TickMirror copies the latest tick per symbol into a domain.TickCache.
// Ticks are coalesced per symbol between flushes, so a slow cache costs
// freshness, never memory or pump latency.
type TickMirror struct {
	cache  domain.TickCache
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.Tick
	wake    chan struct{}
}

// NewTickMirror creates a mirror writing to cache.
func NewTickMirror(cache domain.TickCache, logger *slog.Logger) *TickMirror {
	return &TickMirror{
		cache:   cache,
		logger:  logger.With(slog.String("component", "tick_mirror")),
		pending: make(map[string]domain.Tick),
		wake:    make(chan struct{}, 1),
	}
}

// Record queues t, replacing any older pending tick for the same symbol.
func (m *TickMirror) Record(t domain.Tick) {
	m.mu.Lock()
	if prev, ok := m.pending[t.Symbol]; !ok || t.Time >= prev.Time {
		m.pending[t.Symbol] = t
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes pending ticks until ctx is done.
func (m *TickMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
			m.flush(ctx)
		}
	}
}

func (m *TickMirror) flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]domain.Tick, len(batch))
	m.mu.Unlock()

	for _, t := range batch {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := m.cache.SetTick(wctx, t)
		cancel()
		if err != nil {
			m.logger.Warn("mirror tick failed", slog.String("symbol", t.Symbol), slog.String("error", err.Error()))
		}
	}
}
