package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// FeeCorrection is subtracted from the leveraged return estimate. It is an
// empirical calibration of broker fees and margin, not a derived quantity.
const FeeCorrection = 0.02

// DefaultStopLossFraction is the share of margin a stop-loss gives up when
// the position has no live stop order.
const DefaultStopLossFraction = 0.95

// PriceSigFigs is the number of significant figures target prices carry.
// Ties round half to even on the shortest decimal form of the float, not on
// its exact binary expansion, so 1.00000015 always becomes 1.0000002.
const PriceSigFigs = 8

// Direction resolves the trade side from the enrollment prices. Exactly one
// of the two must be zero; a position with neither price enrolled has no
// side yet.
func (p *Position) Direction() (OrderSide, error) {
	sell := p.BuyAvgPriceEnrolled == 0
	buy := p.SellAvgPriceEnrolled == 0
	switch {
	case sell && !buy:
		return OrderSideSell, nil
	case buy && !sell:
		return OrderSideBuy, nil
	}
	return "", fmt.Errorf("position %d: %w", p.ID, ErrAmbiguousDirection)
}

// OpenPrice is the enrollment price of the active direction.
func (p *Position) OpenPrice() (float64, error) {
	side, err := p.Direction()
	if err != nil {
		return 0, err
	}
	if side == OrderSideSell {
		return p.SellAvgPriceEnrolled, nil
	}
	return p.BuyAvgPriceEnrolled, nil
}

// StopLossPrice returns the stop price of the live stop order, or a default
// at 95% of margin when the position has none.
func (p *Position) StopLossPrice() (float64, error) {
	if p.StopLoseOrderID != 0 {
		if o, ok := p.Order(p.StopLoseOrderID); ok && o.StopPrice != nil {
			return *o.StopPrice, nil
		}
	}
	side, err := p.Direction()
	if err != nil {
		return 0, err
	}
	lev, err := p.leverage()
	if err != nil {
		return 0, err
	}
	if side == OrderSideSell {
		return (1 + DefaultStopLossFraction/lev) * p.SellAvgPriceEnrolled, nil
	}
	return (1 - DefaultStopLossFraction/lev) * p.BuyAvgPriceEnrolled, nil
}

// ComputeStopLoss returns the stop-loss target that gives up buffer of
// margin relative to the current price.
func (p *Position) ComputeStopLoss(buffer, current float64) (float64, error) {
	return p.target(buffer, current, 1)
}

// ComputeTakeProfit returns the take-profit target that gains buffer of
// margin relative to the current price.
func (p *Position) ComputeTakeProfit(buffer, current float64) (float64, error) {
	return p.target(buffer, current, -1)
}

// target evaluates the closed-form stop (sign=1) or take-profit (sign=-1) price.
func (p *Position) target(buffer, current, sign float64) (float64, error) {
	side, err := p.Direction()
	if err != nil {
		return 0, err
	}
	lev, err := p.leverage()
	if err != nil {
		return 0, err
	}
	if current <= 0 {
		return 0, fmt.Errorf("position %d: current %v: %w", p.ID, current, ErrInvalidPrice)
	}
	open, _ := p.OpenPrice()
	if side == OrderSideSell {
		return RoundSig(current+sign*buffer*open/lev, PriceSigFigs), nil
	}
	denom := open/current + sign*buffer/lev
	if denom == 0 {
		return 0, fmt.Errorf("position %d: buffer %v: %w", p.ID, buffer, ErrInvalidPrice)
	}
	return RoundSig(open/denom, PriceSigFigs), nil
}

// UnrealizedReturn estimates the leveraged fractional return at the current
// price, net of FeeCorrection.
func (p *Position) UnrealizedReturn(current float64) (float64, error) {
	side, err := p.Direction()
	if err != nil {
		return 0, err
	}
	if current <= 0 {
		return 0, fmt.Errorf("position %d: current %v: %w", p.ID, current, ErrInvalidPrice)
	}
	open, _ := p.OpenPrice()
	lev := float64(p.Leverage)
	if side == OrderSideSell {
		return (1-current/open)*lev - FeeCorrection, nil
	}
	return (1-open/current)*lev - FeeCorrection, nil
}

// InvestedAmount returns the invested amount in currency units. ok is false
// when the position carries no amount and the fallback of 1 is returned.
func (p *Position) InvestedAmount() (amount float64, ok bool) {
	if p.Extra.Amount == nil {
		return 1, false
	}
	return float64(*p.Extra.Amount) / 1e6, true
}

func (p *Position) leverage() (float64, error) {
	if p.Leverage <= 0 {
		return 0, fmt.Errorf("position %d: leverage %d: %w", p.ID, p.Leverage, ErrInvalidPosition)
	}
	return float64(p.Leverage), nil
}

// RoundSig rounds x to sig significant figures, half to even on the decimal
// digits x prints as. Zero and non-finite inputs yield 0.
func RoundSig(x float64, sig int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	places := sig - 1 - int(math.Floor(math.Log10(math.Abs(x))))
	f, _ := decimal.NewFromFloat(x).RoundBank(int32(places)).Float64()
	return f
}
