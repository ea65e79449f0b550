package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/platform/iqoption"
)

type stubSession struct {
	requested []domain.InstrumentType
	started   time.Time
}

func (s *stubSession) ActiveBalanceID() int64     { return 22 }
func (s *stubSession) Profile() domain.Profile    { return testProfile() }
func (s *stubSession) Connected() bool            { return true }
func (s *stubSession) StartedAt() time.Time       { return s.started }
func (s *stubSession) RequestPositions(typ domain.InstrumentType) error {
	s.requested = append(s.requested, typ)
	return nil
}

type tradingFixture struct {
	svc     *TradingService
	stores  iqoption.Stores
	sent    *sentFrames
	session *stubSession
}

func newTradingFixture(t *testing.T) tradingFixture {
	t.Helper()
	f := tradingFixture{stores: newStores(), sent: &sentFrames{}, session: &stubSession{}}
	f.svc = NewTradingService(f.stores, iqoption.NewCommands(f.sent), f.session,
		TradingOptions{ClientPlatformID: 9, StopLossThrottle: time.Hour, Mode: "session"}, discardLogger())

	f.stores.Catalog.ReplaceInstruments(domain.InstrumentForex, []domain.Instrument{
		{ID: "EURUSD", ActiveID: 1, Type: domain.InstrumentForex},
	})
	f.stores.Catalog.ReplaceLeverages(domain.InstrumentForex, map[int64]domain.LeverageTable{
		1: {50: true, 100: false},
	})
	for _, raw := range []string{
		`{"id":7,"instrument_id":"EURUSD","status":"open","leverage":50,"buy_avg_price_enrolled":1.1,"sell_avg_price_enrolled":0}`,
		`{"id":3,"instrument_id":"GBPAUD","status":"open","leverage":100,"buy_avg_price_enrolled":0,"sell_avg_price_enrolled":1.25,"extra_data":{"amount":68000000}}`,
		`{"id":5,"instrument_id":"EURUSD","status":"closed","leverage":50,"buy_avg_price_enrolled":1.2}`,
	} {
		var d domain.PositionDelta
		require.NoError(t, json.Unmarshal([]byte(raw), &d))
		_, err := f.stores.Positions.ApplyDelta(d)
		require.NoError(t, err)
	}
	return f
}

func ids(ps []*domain.Position) []int64 {
	out := make([]int64, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestTradingService_Queries(t *testing.T) {
	f := newTradingFixture(t)

	assert.Equal(t, []int64{3, 7}, ids(f.svc.OpenPositions("")))
	assert.Equal(t, []int64{7}, ids(f.svc.OpenPositions("EURUSD")))
	assert.Equal(t, []int64{5}, ids(f.svc.ClosedPositions()))

	_, err := f.svc.Position(404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.LatestTick("EURUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.stores.Ticks.Put(domain.Tick{Symbol: "EURUSD", Time: 2, Value: 1.105})
	tick, err := f.svc.LatestTick("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.105, tick.Value)
}

func TestTradingService_Risk(t *testing.T) {
	f := newTradingFixture(t)

	sl, err := f.svc.StopLoss(7)
	require.NoError(t, err)
	assert.InDelta(t, (1-0.95/50)*1.1, sl, 1e-12)

	got, err := f.svc.ComputeStopLoss(3, 0.5, 1.2)
	require.NoError(t, err)
	assert.InDelta(t, 1.2+0.5*1.25/100, got, 1e-9)

	got, err = f.svc.ComputeTakeProfit(7, 0.5, 1.105)
	require.NoError(t, err)
	assert.Greater(t, got, 1.105)

	got, err = f.svc.UnrealizedReturn(7, 1.105)
	require.NoError(t, err)
	assert.InDelta(t, (1-1.1/1.105)*50-0.02, got, 1e-12)

	_, err = f.svc.ComputeStopLoss(7, 0.5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = f.svc.StopLoss(404)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	amount, err := f.svc.InvestedAmount(3)
	require.NoError(t, err)
	assert.Equal(t, 68.0, amount)
	amount, err = f.svc.InvestedAmount(7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, amount)
}

func TestTradingService_UpdateWatermark(t *testing.T) {
	f := newTradingFixture(t)
	require.NoError(t, f.svc.UpdateWatermark(7, 1.5))
	require.NoError(t, f.svc.UpdateWatermark(7, -0.5))

	p, err := f.svc.Position(7)
	require.NoError(t, err)
	assert.Equal(t, -0.5, p.MinWatermark)
	assert.Equal(t, 1.5, p.MaxWatermark)
	assert.Equal(t, -0.5, p.CurrentWatermark)

	assert.ErrorIs(t, f.svc.UpdateWatermark(404, 1), domain.ErrNotFound)
}

func TestTradingService_PlaceMarketOrder(t *testing.T) {
	f := newTradingFixture(t)

	require.NoError(t, f.svc.PlaceMarketOrder(MarketOrder{
		InstrumentID: "EURUSD", Side: domain.OrderSideBuy, Amount: 1, Leverage: 100,
	}))
	require.Equal(t, []string{"place-order-temp"}, f.sent.commands())
	assert.Equal(t, map[string]any{
		"user_balance_id":          float64(22),
		"client_platform_id":       float64(9),
		"instrument_type":          "forex",
		"instrument_id":            "EURUSD",
		"side":                     "buy",
		"type":                     "market",
		"amount":                   float64(1),
		"leverage":                 float64(100),
		"limit_price":              float64(0),
		"stop_price":               float64(0),
		"use_token_for_commission": false,
	}, f.sent.body(0))

	err := f.svc.PlaceMarketOrder(MarketOrder{InstrumentID: "XAUUSD", Side: domain.OrderSideBuy, Amount: 1, Leverage: 50})
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
	err = f.svc.PlaceMarketOrder(MarketOrder{InstrumentID: "EURUSD", Side: domain.OrderSideBuy, Amount: 1, Leverage: 500})
	assert.ErrorIs(t, err, domain.ErrUnsupportedLeverage)
	err = f.svc.PlaceMarketOrder(MarketOrder{InstrumentID: "EURUSD", Side: "hold", Amount: 1, Leverage: 50})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Len(t, f.sent.commands(), 1)
}

func TestTradingService_UpdateStopLossThrottled(t *testing.T) {
	f := newTradingFixture(t)
	tp := 2.0

	sent, err := f.svc.UpdateStopLoss(7, 50, &tp)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = f.svc.UpdateStopLoss(7, 40, nil)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = f.svc.UpdateStopLoss(3, 40, nil)
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, []string{"change-tpsl", "change-tpsl"}, f.sent.commands())
	assert.Equal(t, map[string]any{
		"position_id": float64(7),
		"take_profit": 2.0,
		"stop_lose":   float64(50),
		"extra":       map[string]any{"stop_lose_type": "percent", "take_profit_type": "percent"},
	}, f.sent.body(0))
	assert.Nil(t, f.sent.body(1)["take_profit"])
}

func TestTradingService_Subscriptions(t *testing.T) {
	f := newTradingFixture(t)

	require.NoError(t, f.svc.SubscribeMarket("EURUSD"))
	require.NoError(t, f.svc.UnsubscribeActive(1))
	assert.ErrorIs(t, f.svc.SubscribeMarket("NOPE"), domain.ErrUnknownInstrument)
	assert.ErrorIs(t, f.svc.UnsubscribeMarket("NOPE"), domain.ErrUnknownInstrument)
	assert.Equal(t, []string{"quote-generated", "quote-generated"}, f.sent.commands())
	assert.Equal(t, "subscribeMessage", f.sent.frames[0].Name)
	assert.Equal(t, "unsubscribeMessage", f.sent.frames[1].Name)

	require.NoError(t, f.svc.RequestPositions(domain.InstrumentCFD))
	assert.Equal(t, []domain.InstrumentType{domain.InstrumentCFD}, f.session.requested)
}

func TestTradingService_Status(t *testing.T) {
	f := newTradingFixture(t)
	f.session.started = time.Unix(1000, 0)
	f.svc.now = func() time.Time { return time.Unix(1090, 0) }
	f.stores.Clock.Set(1512136901477)

	st := f.svc.Status()
	assert.Equal(t, domain.SessionStatus{
		Mode:          "session",
		Connected:     true,
		ActiveAccount: domain.AccountPractice,
		ServerTime:    1512136901477,
		UptimeSeconds: 90,
		OpenPositions: 2,
		Positions:     3,
	}, st)
	assert.Equal(t, int64(1512136901477), f.svc.ServerTime().UnixMilli())
}
