package iqoption

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/store/memory"
)

// HeartbeatReplier answers server heartbeats.
type HeartbeatReplier interface {
	ReplyHeartbeat(payload json.RawMessage) error
}

// BalanceSink receives balance updates from profile frames.
type BalanceSink interface {
	ApplyBalance(u domain.BalanceUpdate)
}

// Stores groups the in-memory state the router writes to.
type Stores struct {
	Positions *memory.PositionStore
	Catalog   *memory.InstrumentCatalog
	Ticks     *memory.MarketDataCache
	Clock     *memory.ServerClock
}

// ignoredFrames are accepted and dropped on purpose.
var ignoredFrames = []string{
	"tradersPulse",
	"tournament",
	"activeCommissionChange",
	"order-placed-temp",
	"front",
	"tpsl-changed",
}

// Router decodes inbound frames and applies them to the stores. Handlers
// never return errors; bad payloads are logged and dropped.
type Router struct {
	stores    Stores
	cmds      *Commands
	heartbeat HeartbeatReplier
	balances  BalanceSink
	logger    *slog.Logger

	handlers  map[string]func(gjson.Result)
	tickHooks []func(domain.Tick)
}

// NewRouter creates a Router. balances may be nil.
func NewRouter(stores Stores, cmds *Commands, heartbeat HeartbeatReplier, balances BalanceSink, logger *slog.Logger) *Router {
	r := &Router{
		stores:    stores,
		cmds:      cmds,
		heartbeat: heartbeat,
		balances:  balances,
		logger:    logger.With(slog.String("component", "router")),
	}
	r.handlers = map[string]func(gjson.Result){
		"timeSync":            r.onTimeSync,
		"heartbeat":           r.onHeartbeat,
		"profile":             r.onProfile,
		"position-changed":    r.onPositionChanged,
		"positions":           r.onPositions,
		"order-changed":       r.onOrderChanged,
		"newChartData":        r.onChartData,
		"top-assets":          r.onTopAssets,
		"instruments":         r.onInstruments,
		"available-leverages": r.onLeverages,
	}
	for _, name := range ignoredFrames {
		r.handlers[name] = func(gjson.Result) {}
	}
	return r
}

// OnTick registers fn to run after every stored tick. fn must not block.
// Register hooks before the session starts.
func (r *Router) OnTick(fn func(domain.Tick)) {
	r.tickHooks = append(r.tickHooks, fn)
}

// Dispatch routes one raw frame.
func (r *Router) Dispatch(raw []byte) {
	if !gjson.ValidBytes(raw) {
		r.logger.Warn("malformed frame dropped", slog.Int("bytes", len(raw)))
		return
	}
	env := gjson.ParseBytes(raw)
	name := env.Get("name").String()
	msg := env.Get("msg")

	h, ok := r.handlers[name]
	if !ok {
		r.logger.Info("unknown message", slog.String("name", name))
		r.logger.Debug("unknown message payload", slog.String("name", name), slog.String("msg", msg.Raw))
		return
	}
	h(msg)
}

func (r *Router) onTimeSync(msg gjson.Result) {
	r.stores.Clock.Set(msg.Int())
}

func (r *Router) onHeartbeat(msg gjson.Result) {
	if err := r.heartbeat.ReplyHeartbeat(json.RawMessage(msg.Raw)); err != nil {
		r.logger.Warn("heartbeat reply failed", slog.String("error", err.Error()))
	}
}

func (r *Router) onProfile(msg gjson.Result) {
	if r.balances == nil {
		return
	}
	balance, balanceID := msg.Get("balance"), msg.Get("balance_id")
	if !balance.Exists() || !balanceID.Exists() {
		return
	}
	u := domain.BalanceUpdate{BalanceID: balanceID.Int(), Balance: balance.Float()}
	if cur := msg.Get("currency"); cur.Exists() {
		u.Currency = cur.String()
	} else {
		u.SwitchActive = true
	}
	r.balances.ApplyBalance(u)
}

func (r *Router) onPositionChanged(msg gjson.Result) {
	r.applyPosition(msg.Raw)
}

func (r *Router) onPositions(msg gjson.Result) {
	if msg.Get("total").Int() <= 0 {
		return
	}
	msg.Get("positions").ForEach(func(_, pos gjson.Result) bool {
		r.applyPosition(pos.Raw)
		return true
	})
}

func (r *Router) applyPosition(raw string) {
	var d domain.PositionDelta
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		r.logger.Warn("bad position payload", slog.String("error", err.Error()))
		return
	}
	if _, err := r.stores.Positions.ApplyDelta(d); err != nil {
		r.logger.Warn("position dropped", slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("parsed position", slog.Int64("id", *d.ID))
}

func (r *Router) onOrderChanged(msg gjson.Result) {
	var o domain.Order
	if err := json.Unmarshal([]byte(msg.Raw), &o); err != nil {
		r.logger.Warn("bad order payload", slog.String("error", err.Error()))
		return
	}
	if err := r.stores.Positions.ApplyOrder(o); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("order for unknown position dropped",
				slog.Int64("order_id", o.ID), slog.Int64("position_id", o.PositionID))
			return
		}
		r.logger.Warn("order dropped", slog.String("error", err.Error()))
	}
}

func (r *Router) onChartData(msg gjson.Result) {
	var t domain.Tick
	if err := json.Unmarshal([]byte(msg.Raw), &t); err != nil || t.Symbol == "" {
		r.logger.Warn("bad chart data dropped", slog.String("msg", msg.Raw))
		return
	}
	r.stores.Ticks.Put(t)
	for _, fn := range r.tickHooks {
		fn(t)
	}
}

func (r *Router) onTopAssets(msg gjson.Result) {
	typ := domain.InstrumentType(msg.Get("instrument_type").String())
	var actives []int64
	msg.Get("data").ForEach(func(_, el gjson.Result) bool {
		actives = append(actives, el.Get("active_id").Int())
		return true
	})
	r.stores.Catalog.ReplaceTopAssets(typ, actives)
}

func (r *Router) onInstruments(msg gjson.Result) {
	var m instrumentsMsg
	if err := json.Unmarshal([]byte(msg.Raw), &m); err != nil || m.Type == "" {
		r.logger.Warn("bad instruments payload dropped")
		return
	}
	actives := r.stores.Catalog.ReplaceInstruments(m.Type, m.Instruments)
	r.logger.Debug("instruments replaced", slog.String("type", string(m.Type)), slog.Int("count", len(actives)))
	if err := r.cmds.GetAvailableLeverages(m.Type, actives); err != nil {
		r.logger.Warn("leverage request failed", slog.String("type", string(m.Type)), slog.String("error", err.Error()))
	}
}

func (r *Router) onLeverages(msg gjson.Result) {
	typ := domain.InstrumentType(msg.Get("instrument_type").String())
	tables := make(map[int64]domain.LeverageTable)
	msg.Get("leverages").ForEach(func(_, el gjson.Result) bool {
		tables[el.Get("active_id").Int()] = leverageTable(el.Get("regulated"))
		return true
	})
	if unknown := r.stores.Catalog.ReplaceLeverages(typ, tables); len(unknown) > 0 {
		r.logger.Debug("leverages for unknown actives skipped", slog.String("type", string(typ)), slog.Any("actives", unknown))
	}
}

// leverageTable reads "regulated" either as a list of leverages or as an
// object keyed by leverage.
func leverageTable(v gjson.Result) domain.LeverageTable {
	table := make(domain.LeverageTable)
	switch {
	case v.IsArray():
		for _, lev := range v.Array() {
			table[int(lev.Int())] = true
		}
	case v.IsObject():
		v.ForEach(func(k, val gjson.Result) bool {
			if lev, err := strconv.Atoi(k.String()); err == nil {
				table[lev] = val.Bool()
			}
			return true
		})
	}
	return table
}
