package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractOrder is the middle tier: a trade in one or more specific
// contract dates of an instrument, owned by an instrument order and
// executed by exactly one algo at a time.
type ContractOrder struct {
	OrderRoot

	Strategy      string   `json:"strategy"`
	Instrument    string   `json:"instrument"`
	ContractDates []string `json:"contract_dates"`

	ReferencePrice *decimal.Decimal `json:"reference_price,omitempty"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	ReferenceTime  time.Time        `json:"reference_time,omitzero"`

	// AlgoKey names the algo that should execute the order; empty means
	// the handler picks one. ControllingAlgo is set while an algo session
	// owns the order and must be released before another may take it.
	AlgoKey         string `json:"algo_key,omitempty"`
	ControllingAlgo string `json:"controlling_algo,omitempty"`

	RollOrder        bool `json:"roll_order"`
	InterSpreadOrder bool `json:"inter_spread_order"`
	ManualFill       bool `json:"manual_fill"`
	ManualTrade      bool `json:"manual_trade"`
	PanicOrder       bool `json:"panic_order"`
	// SplitOrder marks a leg produced by splitting a spread order.
	SplitOrder bool `json:"split_order"`
}

// NewContractOrder builds an active contract order. trade has one entry
// per contract date.
func NewContractOrder(strategy, instrument string, contractDates []string, trade TradeQuantity, orderType OrderType) *ContractOrder {
	key := TradeableKey(strategy, instrument, contractDates...)
	return &ContractOrder{
		OrderRoot:     newOrderRoot(key, trade, orderType),
		Strategy:      strategy,
		Instrument:    instrument,
		ContractDates: append([]string{}, contractDates...),
	}
}

// NewBalanceContractOrder builds a pre-filled balancing contract order.
func NewBalanceContractOrder(strategy, instrument string, contractDates []string, fill TradeQuantity, price decimal.Decimal, at time.Time) *ContractOrder {
	o := NewContractOrder(strategy, instrument, contractDates, fill, OrderTypeBalance)
	o.ManualTrade = true
	o.ManualFill = true
	o.Fill = fill.Copy()
	o.FilledPrice = &price
	o.FillTime = at
	return o
}

// IsSpread checks if the order trades more than one contract date.
func (o *ContractOrder) IsSpread() bool {
	return len(o.ContractDates) > 1
}

// IsControlled checks if an algo session currently owns the order.
func (o *ContractOrder) IsControlled() bool {
	return o.ControllingAlgo != ""
}

// InstrumentKey is the strategy/instrument part of the key, without
// contract dates. Used to match against the parent instrument order.
func (o *ContractOrder) InstrumentKey() string {
	return TradeableKey(o.Strategy, o.Instrument)
}

// Split returns one single-leg contract order per leg, preserving the
// tier-specific flags. Used when spread legs must trade separately.
func (o *ContractOrder) Split() []*ContractOrder {
	out := make([]*ContractOrder, 0, len(o.ContractDates))
	for i, date := range o.ContractDates {
		leg := NewContractOrder(o.Strategy, o.Instrument, []string{date}, NewTradeQuantity(o.Trade[i]), o.Type)
		leg.ReferencePrice = o.ReferencePrice
		leg.RollOrder = o.RollOrder
		leg.ManualTrade = o.ManualTrade
		leg.AlgoKey = o.AlgoKey
		leg.SplitOrder = true
		out = append(out, leg)
	}
	return out
}

func (o *ContractOrder) Clone() Order {
	c := &ContractOrder{}
	*c = *o
	o.OrderRoot.cloneInto(&c.OrderRoot)
	c.ContractDates = append([]string{}, o.ContractDates...)
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
