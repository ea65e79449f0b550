package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/platform/iqoption"
	"github.com/alanyoungcy/iqsession/internal/store/memory"
)

// SessionInfo is the slice of SessionManager the trading surface reads.
type SessionInfo interface {
	ActiveBalanceID() int64
	Profile() domain.Profile
	Connected() bool
	StartedAt() time.Time
	RequestPositions(typ domain.InstrumentType) error
}

// MarketOrder is a caller's request to open a position at market.
type MarketOrder struct {
	// InstrumentType defaults to forex.
	InstrumentType domain.InstrumentType
	InstrumentID   string
	Side           domain.OrderSide
	Amount         float64
	Leverage       int
}

// TradingOptions configures a TradingService.
type TradingOptions struct {
	ClientPlatformID int
	StopLossThrottle time.Duration
	Mode             string
}

// TradingService is the caller-facing surface: queries over the session
// stores and the commands that go back out on the channel.
type TradingService struct {
	stores   iqoption.Stores
	cmds     *iqoption.Commands
	session  SessionInfo
	throttle *memory.Throttle
	opts     TradingOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewTradingService creates a TradingService.
func NewTradingService(stores iqoption.Stores, cmds *iqoption.Commands, session SessionInfo, opts TradingOptions, logger *slog.Logger) *TradingService {
	if opts.StopLossThrottle <= 0 {
		opts.StopLossThrottle = 500 * time.Millisecond
	}
	return &TradingService{
		stores:   stores,
		cmds:     cmds,
		session:  session,
		throttle: memory.NewThrottle(opts.StopLossThrottle),
		opts:     opts,
		logger:   logger.With(slog.String("component", "trading")),
		now:      time.Now,
	}
}

// OpenPositions returns open positions sorted by id, optionally only those
// on instrumentID.
func (s *TradingService) OpenPositions(instrumentID string) []*domain.Position {
	return s.stores.Positions.ListOpen(instrumentID)
}

// ClosedPositions returns positions that are no longer open, sorted by id.
func (s *TradingService) ClosedPositions() []*domain.Position {
	return s.stores.Positions.ListClosed()
}

// Position returns a snapshot of one position.
func (s *TradingService) Position(id int64) (*domain.Position, error) {
	p, err := s.stores.Positions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("trading: %w", err)
	}
	return p, nil
}

// LatestTick returns the newest tick for symbol.
func (s *TradingService) LatestTick(symbol string) (domain.Tick, error) {
	t, err := s.stores.Ticks.Latest(symbol)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("trading: %w", err)
	}
	return t, nil
}

// StopLoss returns the position's live stop price or the default estimate.
func (s *TradingService) StopLoss(id int64) (float64, error) {
	return s.withPosition(id, func(p *domain.Position) (float64, error) {
		return p.StopLossPrice()
	})
}

// ComputeStopLoss returns the stop-loss target for buffer at current.
func (s *TradingService) ComputeStopLoss(id int64, buffer, current float64) (float64, error) {
	return s.withPosition(id, func(p *domain.Position) (float64, error) {
		return p.ComputeStopLoss(buffer, current)
	})
}

// ComputeTakeProfit returns the take-profit target for buffer at current.
func (s *TradingService) ComputeTakeProfit(id int64, buffer, current float64) (float64, error) {
	return s.withPosition(id, func(p *domain.Position) (float64, error) {
		return p.ComputeTakeProfit(buffer, current)
	})
}

// UnrealizedReturn estimates the leveraged return at current.
func (s *TradingService) UnrealizedReturn(id int64, current float64) (float64, error) {
	return s.withPosition(id, func(p *domain.Position) (float64, error) {
		return p.UnrealizedReturn(current)
	})
}

// InvestedAmount returns the amount put into the position. Positions
// without extra data report 1.
func (s *TradingService) InvestedAmount(id int64) (float64, error) {
	return s.withPosition(id, func(p *domain.Position) (float64, error) {
		amount, ok := p.InvestedAmount()
		if !ok {
			s.logger.Error("no extra data on position", slog.Int64("position_id", id))
		}
		return amount, nil
	})
}

func (s *TradingService) withPosition(id int64, fn func(*domain.Position) (float64, error)) (float64, error) {
	p, err := s.stores.Positions.Get(id)
	if err != nil {
		return 0, fmt.Errorf("trading: %w", err)
	}
	v, err := fn(p)
	if err != nil {
		return 0, fmt.Errorf("trading: position %d: %w", id, err)
	}
	return v, nil
}

// UpdateWatermark records a caller-computed percent return.
func (s *TradingService) UpdateWatermark(id int64, percent float64) error {
	if err := s.stores.Positions.UpdateWatermark(id, percent); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	return nil
}

// PlaceMarketOrder checks the instrument and leverage against the catalog
// and sends a market order for the active balance.
func (s *TradingService) PlaceMarketOrder(o MarketOrder) error {
	typ := o.InstrumentType
	if typ == "" {
		typ = domain.InstrumentForex
	}
	if _, err := s.stores.Catalog.Lookup(typ, o.InstrumentID); err != nil {
		s.logger.Warn("invalid market for order", slog.String("instrument", o.InstrumentID), slog.String("type", string(typ)))
		return fmt.Errorf("trading: place order: %w", err)
	}
	levs, err := s.stores.Catalog.Leverages(typ, o.InstrumentID)
	if err != nil || !levs.Supports(o.Leverage) {
		s.logger.Warn("invalid leverage for order", slog.String("instrument", o.InstrumentID), slog.Int("leverage", o.Leverage))
		return fmt.Errorf("trading: place order %s x%d: %w", o.InstrumentID, o.Leverage, domain.ErrUnsupportedLeverage)
	}

	s.logger.Info("placing market order",
		slog.String("instrument", o.InstrumentID),
		slog.String("side", string(o.Side)),
		slog.Float64("amount", o.Amount),
		slog.Int("leverage", o.Leverage),
	)
	err = s.cmds.PlaceOrder(iqoption.OrderRequest{
		BalanceID:        s.session.ActiveBalanceID(),
		ClientPlatformID: s.opts.ClientPlatformID,
		InstrumentType:   typ,
		InstrumentID:     o.InstrumentID,
		Side:             o.Side,
		Type:             domain.OrderTypeMarket,
		Amount:           o.Amount,
		Leverage:         o.Leverage,
	})
	if err != nil {
		return fmt.Errorf("trading: place order: %w", err)
	}
	return nil
}

// UpdateStopLoss sends percent stop-loss and optional take-profit values.
// A repeat for the same position inside the throttle window is dropped and
// reported as sent=false.
func (s *TradingService) UpdateStopLoss(positionID int64, stopLose float64, takeProfit *float64) (sent bool, err error) {
	if !s.throttle.Allow(positionID) {
		s.logger.Debug("skipping stop loss update, last update too recent", slog.Int64("position_id", positionID))
		return false, nil
	}
	attrs := []any{slog.Int64("position_id", positionID), slog.Float64("stop_lose", stopLose)}
	if takeProfit != nil {
		attrs = append(attrs, slog.Float64("take_profit", *takeProfit))
	}
	s.logger.Info("stop loss update", attrs...)

	if err := s.cmds.ChangeTPSL(positionID, stopLose, takeProfit); err != nil {
		return false, fmt.Errorf("trading: update stop loss %d: %w", positionID, err)
	}
	return true, nil
}

// SubscribeMarket starts quotes for an instrument name such as "EURUSD".
func (s *TradingService) SubscribeMarket(instrumentID string) error {
	active, err := s.stores.Catalog.ActiveID(instrumentID)
	if err != nil {
		return fmt.Errorf("trading: subscribe %s: %w", instrumentID, err)
	}
	return s.SubscribeActive(active)
}

// SubscribeActive starts quotes for a server active id.
func (s *TradingService) SubscribeActive(activeID int64) error {
	if err := s.cmds.SubscribeQuotes(activeID); err != nil {
		return fmt.Errorf("trading: subscribe %d: %w", activeID, err)
	}
	return nil
}

// UnsubscribeMarket stops quotes for an instrument name.
func (s *TradingService) UnsubscribeMarket(instrumentID string) error {
	active, err := s.stores.Catalog.ActiveID(instrumentID)
	if err != nil {
		return fmt.Errorf("trading: unsubscribe %s: %w", instrumentID, err)
	}
	return s.UnsubscribeActive(active)
}

// UnsubscribeActive stops quotes for a server active id.
func (s *TradingService) UnsubscribeActive(activeID int64) error {
	if err := s.cmds.UnsubscribeQuotes(activeID); err != nil {
		return fmt.Errorf("trading: unsubscribe %d: %w", activeID, err)
	}
	return nil
}

// RequestPositions re-requests positions of typ, or of all configured types.
func (s *TradingService) RequestPositions(typ domain.InstrumentType) error {
	if err := s.session.RequestPositions(typ); err != nil {
		return fmt.Errorf("trading: request positions: %w", err)
	}
	return nil
}

// Instruments returns the catalog for typ sorted by id.
func (s *TradingService) Instruments(typ domain.InstrumentType) []domain.Instrument {
	return s.stores.Catalog.Instruments(typ)
}

// Leverages returns the leverage table of one instrument.
func (s *TradingService) Leverages(typ domain.InstrumentType, instrumentID string) (domain.LeverageTable, error) {
	t, err := s.stores.Catalog.Leverages(typ, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("trading: %w", err)
	}
	return t, nil
}

// TopAssets returns the top active ids for typ.
func (s *TradingService) TopAssets(typ domain.InstrumentType) []int64 {
	return s.stores.Catalog.TopAssets(typ)
}

// ServerTime returns the last timeSync value.
func (s *TradingService) ServerTime() time.Time {
	return s.stores.Clock.Time()
}

// Status summarises the session.
func (s *TradingService) Status() domain.SessionStatus {
	total, open := s.stores.Positions.Counts()
	st := domain.SessionStatus{
		Mode:          s.opts.Mode,
		Connected:     s.session.Connected(),
		ActiveAccount: s.session.Profile().ActiveAccount,
		ServerTime:    s.stores.Clock.Millis(),
		OpenPositions: open,
		Positions:     total,
	}
	if started := s.session.StartedAt(); !started.IsZero() {
		st.UptimeSeconds = int64(s.now().Sub(started).Seconds())
	}
	return st
}

// RunMaintenance prunes expired throttle entries until ctx is done.
func (s *TradingService) RunMaintenance(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.throttle.Cleanup()
		}
	}
}
