package domain

import "time"

// PositionStatus is the broker-reported lifecycle state of a position.
type PositionStatus string

const (
	PositionStatusNew    PositionStatus = "new"
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Watermark sentinels mark a position whose return has never been tracked.
const (
	WatermarkUnsetMin     = 100.0
	WatermarkUnsetMax     = -95.0
	WatermarkUnsetCurrent = -95.0
)

// Position is one open or historical trade position.
//
// Server-owned fields are replaced by Apply. Watermarks and the stop/take-profit
// order back-references are owned locally and only change through
// UpdateWatermark and UpsertOrder.
type Position struct {
	ID                   int64          `json:"id"`
	UserID               int64          `json:"user_id"`
	BalanceID            int64          `json:"user_balance_id"`
	BalanceType          int            `json:"user_balance_type"`
	InstrumentType       InstrumentType `json:"instrument_type"`
	InstrumentID         string         `json:"instrument_id"`
	InstrumentUnderlying string         `json:"instrument_underlying"`
	ActiveID             int64          `json:"instrument_active_id"`
	Leverage             int            `json:"leverage"`
	Status               PositionStatus `json:"status"`
	CloseReason          string         `json:"close_reason"`
	Count                float64        `json:"count"`
	Currency             string         `json:"currency"`
	BuyAvgPrice          float64        `json:"buy_avg_price"`
	SellAvgPrice         float64        `json:"sell_avg_price"`
	BuyAvgPriceEnrolled  float64        `json:"buy_avg_price_enrolled"`
	SellAvgPriceEnrolled float64        `json:"sell_avg_price_enrolled"`
	Margin               float64        `json:"margin"`
	PnL                  float64        `json:"pnl"`
	PnLRealized          float64        `json:"pnl_realized"`
	Swap                 float64        `json:"swap"`
	CreateAt             int64          `json:"create_at"`
	UpdateAt             int64          `json:"update_at"`
	CloseAt              int64          `json:"close_at"`
	Extra                PositionExtra  `json:"extra_data"`

	Orders            []Order `json:"orders"`
	StopLoseOrderID   int64   `json:"stop_lose_order_id,omitempty"`
	TakeProfitOrderID int64   `json:"take_profit_order_id,omitempty"`

	MinWatermark     float64 `json:"min_watermark"`
	MaxWatermark     float64 `json:"max_watermark"`
	CurrentWatermark float64 `json:"current_watermark"`
}

// PositionExtra is the position's extra_data block. Amount is the
// invested amount scaled by 1e6.
type PositionExtra struct {
	Amount *int64 `json:"amount,omitempty"`
}

// PositionDelta is a sparse position update. A nil field means unchanged;
// JSON null and an absent key both decode to nil.
type PositionDelta struct {
	ID                   *int64          `json:"id"`
	UserID               *int64          `json:"user_id"`
	BalanceID            *int64          `json:"user_balance_id"`
	BalanceType          *int            `json:"user_balance_type"`
	InstrumentType       *InstrumentType `json:"instrument_type"`
	InstrumentID         *string         `json:"instrument_id"`
	InstrumentUnderlying *string         `json:"instrument_underlying"`
	ActiveID             *int64          `json:"instrument_active_id"`
	Leverage             *int            `json:"leverage"`
	Status               *PositionStatus `json:"status"`
	CloseReason          *string         `json:"close_reason"`
	Count                *float64        `json:"count"`
	Currency             *string         `json:"currency"`
	BuyAvgPrice          *float64        `json:"buy_avg_price"`
	SellAvgPrice         *float64        `json:"sell_avg_price"`
	BuyAvgPriceEnrolled  *float64        `json:"buy_avg_price_enrolled"`
	SellAvgPriceEnrolled *float64        `json:"sell_avg_price_enrolled"`
	Margin               *float64        `json:"margin"`
	PnL                  *float64        `json:"pnl"`
	PnLRealized          *float64        `json:"pnl_realized"`
	Swap                 *float64        `json:"swap"`
	CreateAt             *int64          `json:"create_at"`
	UpdateAt             *int64          `json:"update_at"`
	CloseAt              *int64          `json:"close_at"`
	Extra                *PositionExtra  `json:"extra_data"`
	Orders               []Order         `json:"orders"`
}

// PositionTransition is emitted when a merge flips a position between open
// and not open.
type PositionTransition struct {
	ID               int64          `json:"id"`
	InstrumentID     string         `json:"instrument_id"`
	Status           PositionStatus `json:"status"`
	Opened           bool           `json:"opened"`
	CreateAt         int64          `json:"create_at"`
	UpdateAt         int64          `json:"update_at"`
	CloseAt          int64          `json:"close_at"`
	CloseReason      string         `json:"close_reason"`
	MinWatermark     float64        `json:"min_watermark"`
	MaxWatermark     float64        `json:"max_watermark"`
	CurrentWatermark float64        `json:"current_watermark"`
}

// NewPosition creates a position from its first sighting.
func NewPosition(d PositionDelta) *Position {
	p := &Position{
		MinWatermark:     WatermarkUnsetMin,
		MaxWatermark:     WatermarkUnsetMax,
		CurrentWatermark: WatermarkUnsetCurrent,
	}
	p.merge(d)
	return p
}

// IsOpen reports whether the last known status is open.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Apply merge-patches d onto the position and returns the transition it
// caused, if any.
func (p *Position) Apply(d PositionDelta) *PositionTransition {
	wasOpen := p.IsOpen()
	p.merge(d)
	if p.IsOpen() == wasOpen {
		return nil
	}
	return &PositionTransition{
		ID:               p.ID,
		InstrumentID:     p.InstrumentID,
		Status:           p.Status,
		Opened:           p.IsOpen(),
		CreateAt:         p.CreateAt,
		UpdateAt:         p.UpdateAt,
		CloseAt:          p.CloseAt,
		CloseReason:      p.CloseReason,
		MinWatermark:     p.MinWatermark,
		MaxWatermark:     p.MaxWatermark,
		CurrentWatermark: p.CurrentWatermark,
	}
}

func (p *Position) merge(d PositionDelta) {
	set(&p.ID, d.ID)
	set(&p.UserID, d.UserID)
	set(&p.BalanceID, d.BalanceID)
	set(&p.BalanceType, d.BalanceType)
	set(&p.InstrumentType, d.InstrumentType)
	set(&p.InstrumentID, d.InstrumentID)
	set(&p.InstrumentUnderlying, d.InstrumentUnderlying)
	set(&p.ActiveID, d.ActiveID)
	set(&p.Leverage, d.Leverage)
	set(&p.Status, d.Status)
	set(&p.CloseReason, d.CloseReason)
	set(&p.Count, d.Count)
	set(&p.Currency, d.Currency)
	set(&p.BuyAvgPrice, d.BuyAvgPrice)
	set(&p.SellAvgPrice, d.SellAvgPrice)
	set(&p.BuyAvgPriceEnrolled, d.BuyAvgPriceEnrolled)
	set(&p.SellAvgPriceEnrolled, d.SellAvgPriceEnrolled)
	set(&p.Margin, d.Margin)
	set(&p.PnL, d.PnL)
	set(&p.PnLRealized, d.PnLRealized)
	set(&p.Swap, d.Swap)
	set(&p.CreateAt, d.CreateAt)
	set(&p.UpdateAt, d.UpdateAt)
	set(&p.CloseAt, d.CloseAt)
	if d.Extra != nil && d.Extra.Amount != nil {
		amount := *d.Extra.Amount
		p.Extra.Amount = &amount
	}
	for _, o := range d.Orders {
		p.UpsertOrder(o)
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// UpsertOrder replaces the order with the same id or appends it, then
// refreshes the stop-loss and take-profit back-references.
func (p *Position) UpsertOrder(o Order) {
	replaced := false
	for i := range p.Orders {
		if p.Orders[i].ID == o.ID {
			p.Orders[i] = o
			replaced = true
		}
	}
	if !replaced {
		p.Orders = append(p.Orders, o)
	}
	if !o.Live() {
		return
	}
	switch o.Type {
	case OrderTypeStop:
		p.StopLoseOrderID = o.ID
	case OrderTypeLimit:
		p.TakeProfitOrderID = o.ID
	}
}

// Order returns the child order with the given id.
func (p *Position) Order(id int64) (Order, bool) {
	for _, o := range p.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// UpdateWatermark records a caller-computed percent return.
func (p *Position) UpdateWatermark(percent float64) {
	p.MinWatermark = min(p.MinWatermark, percent)
	p.MaxWatermark = max(p.MaxWatermark, percent)
	p.CurrentWatermark = percent
}

// Age is the time elapsed since the position was created.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.CreateAt))
}

// Clone returns a copy that shares no mutable state with p.
func (p *Position) Clone() *Position {
	c := *p
	if p.Orders != nil {
		c.Orders = make([]Order, len(p.Orders))
		copy(c.Orders, p.Orders)
	}
	if p.Extra.Amount != nil {
		amount := *p.Extra.Amount
		c.Extra.Amount = &amount
	}
	return &c
}
