package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentOrder is the top tier: a desired position change for a
// strategy/instrument pair, not yet tied to specific contracts.
type InstrumentOrder struct {
	OrderRoot

	Strategy   string `json:"strategy"`
	Instrument string `json:"instrument"`

	ReferencePrice    *decimal.Decimal `json:"reference_price,omitempty"`
	LimitPrice        *decimal.Decimal `json:"limit_price,omitempty"`
	ReferenceContract string           `json:"reference_contract,omitempty"`
	ReferenceTime     time.Time        `json:"reference_time,omitzero"`

	RollOrder   bool `json:"roll_order"`
	ManualTrade bool `json:"manual_trade"`
}

// NewInstrumentOrder builds an active single-leg instrument order.
func NewInstrumentOrder(strategy, instrument string, trade int, orderType OrderType) *InstrumentOrder {
	return &InstrumentOrder{
		OrderRoot:  newOrderRoot(TradeableKey(strategy, instrument), NewTradeQuantity(trade), orderType),
		Strategy:   strategy,
		Instrument: instrument,
	}
}

// NewZeroRollOrder builds the zero-size instrument order that anchors a
// flat roll family. It never trades anything itself.
func NewZeroRollOrder(strategy, instrument string) *InstrumentOrder {
	o := NewInstrumentOrder(strategy, instrument, 0, OrderTypeZeroRoll)
	o.RollOrder = true
	return o
}

// NewBalanceInstrumentOrder builds a pre-filled balancing order used to
// record trades done outside the system.
func NewBalanceInstrumentOrder(strategy, instrument string, fill int, price decimal.Decimal, at time.Time) *InstrumentOrder {
	o := NewInstrumentOrder(strategy, instrument, fill, OrderTypeBalance)
	o.ManualTrade = true
	o.Fill = NewTradeQuantity(fill)
	o.FilledPrice = &price
	o.FillTime = at
	return o
}

func (o *InstrumentOrder) Clone() Order {
	c := &InstrumentOrder{}
	*c = *o
	o.OrderRoot.cloneInto(&c.OrderRoot)
	if o.ReferencePrice != nil {
		p := *o.ReferencePrice
		c.ReferencePrice = &p
	}
	if o.LimitPrice != nil {
		p := *o.LimitPrice
		c.LimitPrice = &p
	}
	return c
}
