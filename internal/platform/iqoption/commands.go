package iqoption

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// Frame and command names on the wire.
const (
	FrameSSID           = "ssid"
	FrameSubscribe      = "subscribe"
	FrameHeartbeat      = "heartbeat"
	FrameSendMessage    = "sendMessage"
	FrameSubscribeMsg   = "subscribeMessage"
	FrameUnsubscribeMsg = "unsubscribeMessage"

	feedTradersPulse = "tradersPulse"
	feedQuotes       = "quote-generated"
)

// Sender writes one frame to the session.
type Sender interface {
	Send(f Frame) error
}

// Commands builds the outbound commands of the protocol.
type Commands struct {
	out   Sender
	newID func() string
}

// NewCommands creates a Commands writing through out.
func NewCommands(out Sender) *Commands {
	return &Commands{out: out, newID: uuid.NewString}
}

func (c *Commands) request(frame, name, version string, body, params any) error {
	f := Frame{
		Name:      frame,
		RequestID: c.newID(),
		Msg:       Command{Name: name, Version: version, Body: body, Params: params},
	}
	if err := c.out.Send(f); err != nil {
		return fmt.Errorf("iqoption: %s: %w", name, err)
	}
	return nil
}

// Bind sends the session credential. It is the first frame on a connection.
func (c *Commands) Bind(ssid string) error {
	return c.out.Send(Frame{Name: FrameSSID, Msg: ssid})
}

// SubscribeTradersPulse subscribes to the baseline traders feed.
func (c *Commands) SubscribeTradersPulse() error {
	return c.out.Send(Frame{Name: FrameSubscribe, Msg: feedTradersPulse})
}

// GetInstruments requests the instrument table of one type.
func (c *Commands) GetInstruments(typ domain.InstrumentType) error {
	return c.request(FrameSendMessage, "get-instruments", "1.0", map[string]any{"type": typ}, nil)
}

// GetTopAssets requests the top-asset set of one type.
func (c *Commands) GetTopAssets(typ domain.InstrumentType) error {
	return c.request(FrameSendMessage, "get-top-assets", "1.1", map[string]any{"instrument_type": typ}, nil)
}

// GetPositions requests the positions of a balance for one instrument type.
func (c *Commands) GetPositions(balanceID int64, typ domain.InstrumentType) error {
	return c.request(FrameSendMessage, "get-positions", "1.0", map[string]any{
		"user_balance_id": balanceID,
		"instrument_type": typ,
	}, nil)
}

// GetAvailableLeverages requests leverage tables for the given active ids.
// The broker expects actives as a JSON-encoded string.
func (c *Commands) GetAvailableLeverages(typ domain.InstrumentType, actives []int64) error {
	if actives == nil {
		actives = []int64{}
	}
	encoded, err := json.Marshal(actives)
	if err != nil {
		return fmt.Errorf("iqoption: encode actives: %w", err)
	}
	return c.request(FrameSendMessage, "get-available-leverages", "2.0", map[string]any{
		"instrument_type": typ,
		"actives":         string(encoded),
	}, nil)
}

// PlaceOrder sends a place-order-temp command.
func (c *Commands) PlaceOrder(r OrderRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return c.request(FrameSendMessage, "place-order-temp", "3.0", r, nil)
}

// ChangeTPSL sets percent stop-loss and optional take-profit on a position.
func (c *Commands) ChangeTPSL(positionID int64, stopLose float64, takeProfit *float64) error {
	return c.request(FrameSendMessage, "change-tpsl", "1.0", TPSLRequest{
		PositionID: positionID,
		TakeProfit: takeProfit,
		StopLose:   stopLose,
		Extra:      TPSLExtra{StopLoseType: "percent", TakeProfitType: "percent"},
	}, nil)
}

// SubscribeQuotes starts the quote feed for an active id.
func (c *Commands) SubscribeQuotes(activeID int64) error {
	return c.request(FrameSubscribeMsg, feedQuotes, "1.0", nil, quoteFilter(activeID))
}

// UnsubscribeQuotes stops the quote feed for an active id.
func (c *Commands) UnsubscribeQuotes(activeID int64) error {
	return c.request(FrameUnsubscribeMsg, feedQuotes, "1.0", nil, quoteFilter(activeID))
}

func quoteFilter(activeID int64) map[string]any {
	return map[string]any{"routingFilters": map[string]any{"active_id": activeID}}
}
