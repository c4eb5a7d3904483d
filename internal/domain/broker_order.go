package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerOrder is the bottom tier: an order actually placed with the broker.
// It carries the broker's own identifiers alongside the stack's order id,
// plus the market context captured at submission for execution analysis.
type BrokerOrder struct {
	OrderRoot

	Strategy      string   `json:"strategy"`
	Instrument    string   `json:"instrument"`
	ContractDates []string `json:"contract_dates"`

	// Broker identifiers. TempID is assigned on submission and is the
	// join key for matching fills before the permanent id is known.
	Broker        string `json:"broker,omitempty"`
	BrokerAccount string `json:"broker_account,omitempty"`
	BrokerClient  string `json:"broker_client,omitempty"`
	BrokerTempID  string `json:"broker_temp_id,omitempty"`
	BrokerPermID  string `json:"broker_perm_id,omitempty"`

	SubmitTime time.Time `json:"submit_time,omitzero"`

	// Market context at submission: side is the touch we cross to trade,
	// offside the far touch, mid the midpoint.
	SidePrice    *decimal.Decimal `json:"side_price,omitempty"`
	MidPrice     *decimal.Decimal `json:"mid_price,omitempty"`
	OffsidePrice *decimal.Decimal `json:"offside_price,omitempty"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`

	Commission  *decimal.Decimal `json:"commission,omitempty"`
	AlgoUsed    string           `json:"algo_used,omitempty"`
	AlgoComment string           `json:"algo_comment,omitempty"`
	ManualFill  bool             `json:"manual_fill"`
	RollOrder   bool             `json:"roll_order"`

	// LegFilledPrices records per-leg fill prices for spread orders; the
	// root FilledPrice holds the overall (spread) price.
	LegFilledPrices []decimal.Decimal `json:"leg_filled_prices,omitempty"`
}

// NewBrokerOrder builds an active broker order mirroring its parent
// contract order's key.
func NewBrokerOrder(strategy, instrument string, contractDates []string, trade TradeQuantity, orderType OrderType) *BrokerOrder {
	key := TradeableKey(strategy, instrument, contractDates...)
	return &BrokerOrder{
		OrderRoot:     newOrderRoot(key, trade, orderType),
		Strategy:      strategy,
		Instrument:    instrument,
		ContractDates: append([]string{}, contractDates...),
	}
}

// BrokerOrderFromContract builds the broker order that executes (part of)
// a contract order.
func BrokerOrderFromContract(parent *ContractOrder, trade TradeQuantity, orderType OrderType) *BrokerOrder {
	o := NewBrokerOrder(parent.Strategy, parent.Instrument, parent.ContractDates, trade, orderType)
	o.RollOrder = parent.RollOrder
	o.LimitPrice = parent.LimitPrice
	return o
}

// NewBalanceBrokerOrder builds a pre-filled balancing broker order.
func NewBalanceBrokerOrder(strategy, instrument string, contractDates []string, fill TradeQuantity, price decimal.Decimal, at time.Time) *BrokerOrder {
	o := NewBrokerOrder(strategy, instrument, contractDates, fill, OrderTypeBalance)
	o.ManualFill = true
	o.Fill = fill.Copy()
	o.FilledPrice = &price
	o.FillTime = at
	return o
}

// IsSpread checks if the order trades more than one contract date.
func (o *BrokerOrder) IsSpread() bool {
	return len(o.ContractDates) > 1
}

// Submitted checks if the order has reached the broker.
func (o *BrokerOrder) Submitted() bool {
	return !o.SubmitTime.IsZero()
}

func (o *BrokerOrder) Clone() Order {
	c := &BrokerOrder{}
	*c = *o
	o.OrderRoot.cloneInto(&c.OrderRoot)
	c.ContractDates = append([]string{}, o.ContractDates...)
	for _, pp := range []struct {
		src *decimal.Decimal
		dst **decimal.Decimal
	}{
		{o.SidePrice, &c.SidePrice},
		{o.MidPrice, &c.MidPrice},
		{o.OffsidePrice, &c.OffsidePrice},
		{o.LimitPrice, &c.LimitPrice},
		{o.Commission, &c.Commission},
	} {
		if pp.src != nil {
			p := *pp.src
			*pp.dst = &p
		}
	}
	if o.LegFilledPrices != nil {
		c.LegFilledPrices = append([]decimal.Decimal{}, o.LegFilledPrices...)
	}
	return c
}
