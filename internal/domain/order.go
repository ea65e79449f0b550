package domain

// OrderSide is the trade direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution type of a child order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus tracks the order lifecycle as reported by the broker.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order is a child order (entry, stop or take-profit) of a position.
// Price fields are sparse on the wire and stay nil until reported.
type Order struct {
	ID               int64          `json:"id"`
	PositionID       int64          `json:"position_id"`
	UserID           int64          `json:"user_id"`
	BalanceID        int64          `json:"user_balance_id"`
	InstrumentType   InstrumentType `json:"instrument_type"`
	InstrumentID     string         `json:"instrument_id"`
	ActiveID         int64          `json:"instrument_active_id"`
	Side             OrderSide      `json:"side"`
	Type             OrderType      `json:"type"`
	Status           OrderStatus    `json:"status"`
	ExecuteStatus    string         `json:"execute_status"`
	Count            float64        `json:"count"`
	Leverage         int            `json:"leverage"`
	Currency         string         `json:"currency"`
	TimeInForce      string         `json:"time_in_force"`
	AvgPrice         *float64       `json:"avg_price"`
	AvgPriceEnrolled *float64       `json:"avg_price_enrolled"`
	UnderlyingPrice  *float64       `json:"underlying_price"`
	LimitPrice       *float64       `json:"limit_price"`
	StopPrice        *float64       `json:"stop_price"`
	Margin           *float64       `json:"margin"`
	Spread           *float64       `json:"spread"`
	CommissionAmount *float64       `json:"commission_amount"`
	CreateAt         int64          `json:"create_at"`
	UpdateAt         int64          `json:"update_at"`
	ExecuteAt        *int64         `json:"execute_at"`
	Extra            OrderExtra     `json:"extra_data"`
}

// OrderExtra carries the order's extra_data block.
type OrderExtra struct {
	Amount                *int64 `json:"amount,omitempty"`
	AutoMarginCall        bool   `json:"auto_margin_call"`
	UseTokenForCommission bool   `json:"use_token_for_commission"`
}

// Live reports whether the order still protects its position.
func (o Order) Live() bool {
	return o.Status != OrderStatusCanceled
}
