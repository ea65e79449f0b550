// Package iqoption implements the broker's session protocol: the login
// exchange, the websocket channel, inbound frame routing and outbound
// command builders.
package iqoption

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Name      string `json:"name"`
	RequestID string `json:"request_id,omitempty"`
	Msg       any    `json:"msg"`
}

// Command is the msg of a sendMessage / subscribeMessage frame.
type Command struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Body    any    `json:"body,omitempty"`
	Params  any    `json:"params,omitempty"`
}

// HeartbeatReply answers a server heartbeat. UserTime is the client clock
// in hundredths of a second, formatted without decimals.
type HeartbeatReply struct {
	UserTime      string          `json:"userTime"`
	HeartbeatTime json.RawMessage `json:"heartbeatTime"`
}

// OrderRequest is the body of a place-order-temp command.
type OrderRequest struct {
	BalanceID             int64                 `json:"user_balance_id"`
	ClientPlatformID      int                   `json:"client_platform_id"`
	InstrumentType        domain.InstrumentType `json:"instrument_type"`
	InstrumentID          string                `json:"instrument_id"`
	Side                  domain.OrderSide      `json:"side"`
	Type                  domain.OrderType      `json:"type"`
	Amount                float64               `json:"amount"`
	Leverage              int                   `json:"leverage"`
	LimitPrice            float64               `json:"limit_price"`
	StopPrice             float64               `json:"stop_price"`
	UseTokenForCommission bool                  `json:"use_token_for_commission"`
}

// Validate checks the fields the broker cannot be trusted to reject cleanly.
func (r OrderRequest) Validate() error {
	switch {
	case r.InstrumentID == "":
		return fmt.Errorf("iqoption: order: empty instrument: %w", domain.ErrInvalidOrder)
	case r.Side != domain.OrderSideBuy && r.Side != domain.OrderSideSell:
		return fmt.Errorf("iqoption: order: side %q: %w", r.Side, domain.ErrInvalidOrder)
	case r.Amount <= 0:
		return fmt.Errorf("iqoption: order: amount %v: %w", r.Amount, domain.ErrInvalidOrder)
	case r.Leverage <= 0:
		return fmt.Errorf("iqoption: order: leverage %d: %w", r.Leverage, domain.ErrInvalidOrder)
	}
	return nil
}

// TPSLRequest is the body of a change-tpsl command. Values are percentages.
type TPSLRequest struct {
	PositionID int64     `json:"position_id"`
	TakeProfit *float64  `json:"take_profit"`
	StopLose   float64   `json:"stop_lose"`
	Extra      TPSLExtra `json:"extra"`
}

// TPSLExtra selects how the change-tpsl values are interpreted.
type TPSLExtra struct {
	StopLoseType   string `json:"stop_lose_type"`
	TakeProfitType string `json:"take_profit_type"`
}

type instrumentsMsg struct {
	Type        domain.InstrumentType `json:"type"`
	Instruments []domain.Instrument   `json:"instruments"`
}

type loginResponse struct {
	IsSuccessful bool         `json:"isSuccessful"`
	Message      any          `json:"message"`
	Result       profileBlock `json:"result"`
}

type profileBlock struct {
	Balances []struct {
		ID     int64   `json:"id"`
		Amount float64 `json:"amount"`
	} `json:"balances"`
	BalanceType int     `json:"balance_type"`
	Balance     float64 `json:"balance"`
	Currency    string  `json:"currency"`
}

// toProfile maps the first two balances to real and practice. Amounts are
// reported scaled by 1e6.
func (b profileBlock) toProfile() (domain.Profile, error) {
	if len(b.Balances) < 2 {
		return domain.Profile{}, fmt.Errorf("iqoption: profile: %d balances: %w", len(b.Balances), domain.ErrInvalidMessage)
	}
	p := domain.Profile{
		Real:     domain.Balance{ID: b.Balances[0].ID, Account: domain.AccountReal, Amount: b.Balances[0].Amount / 1e6},
		Practice: domain.Balance{ID: b.Balances[1].ID, Account: domain.AccountPractice, Amount: b.Balances[1].Amount / 1e6},
		Balance:  b.Balance,
		Currency: b.Currency,
	}
	p.ActiveAccount = domain.AccountPractice
	if b.BalanceType == 1 {
		p.ActiveAccount = domain.AccountReal
	}
	return p, nil
}
