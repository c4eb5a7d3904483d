package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel ids. Real order ids are assigned by the owning stack starting
// at 1, so the zero value always means "not assigned".
const (
	NoOrderID = 0
	NoParent  = 0
)

// OrderType tags the execution intent of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeBest       OrderType = "best"
	OrderTypeSnapMarket OrderType = "snap_market"
	OrderTypeSnapMid    OrderType = "snap_mid"
	OrderTypeSnapPrime  OrderType = "snap_prime"
	OrderTypeBalance    OrderType = "balance"
	OrderTypeZeroRoll   OrderType = "zero_roll"
	OrderTypePanic      OrderType = "panic"
)

// OrderRoot is the state shared by all order tiers. Tier structs embed it;
// tier-specific fields live on the concrete structs, not in an attribute map.
type OrderRoot struct {
	Key         string           `json:"key"`
	Trade       TradeQuantity    `json:"trade"`
	Fill        TradeQuantity    `json:"fill"`
	FilledPrice *decimal.Decimal `json:"filled_price,omitempty"`
	FillTime    time.Time        `json:"fill_time,omitzero"`
	Locked      bool             `json:"locked"`
	OrderID     int              `json:"order_id"`
	ParentID    int              `json:"parent_id"`
	Children    []int            `json:"children,omitempty"`
	Active      bool             `json:"active"`
	Type        OrderType        `json:"type"`
}

func newOrderRoot(key string, trade TradeQuantity, orderType OrderType) OrderRoot {
	return OrderRoot{
		Key:    key,
		Trade:  trade,
		Fill:   trade.Zero(),
		Active: true,
		Type:   orderType,
	}
}

// Order is any tier of the instrument/contract/broker hierarchy. Stack code
// operates on the shared root; tier logic stays on the concrete structs.
type Order interface {
	Root() *OrderRoot
	Clone() Order
}

func (r *OrderRoot) Root() *OrderRoot { return r }

// AssignID sets the order id, exactly once.
func (r *OrderRoot) AssignID(id int) error {
	if r.OrderID != NoOrderID {
		return fmt.Errorf("%w: have %d, got %d", ErrOrderIDSet, r.OrderID, id)
	}
	r.OrderID = id
	return nil
}

// SetParent sets the parent id, exactly once.
func (r *OrderRoot) SetParent(parent int) error {
	if r.ParentID != NoParent {
		return fmt.Errorf("order %d already has parent %d", r.OrderID, r.ParentID)
	}
	r.ParentID = parent
	return nil
}

// HasChildren checks if any child orders are attached.
func (r *OrderRoot) HasChildren() bool {
	return len(r.Children) > 0
}

// AddChildren attaches child ids to an order with no existing children.
func (r *OrderRoot) AddChildren(children []int) error {
	if r.HasChildren() {
		return fmt.Errorf("order %d already has children %v", r.OrderID, r.Children)
	}
	r.Children = append([]int{}, children...)
	return nil
}

// AddChild appends one more child id. Valid on orders that already have
// children (a contract order may own several broker orders).
func (r *OrderRoot) AddChild(child int) {
	r.Children = append(r.Children, child)
}

// RemoveChildren detaches all child ids.
func (r *OrderRoot) RemoveChildren() {
	r.Children = nil
}

// ApplyFill replaces the cumulative fill state. Fills are cumulative, not
// incremental deltas. Fails with ErrOverFilled when the proposed fill does
// not fit the desired trade; the order is left unchanged.
func (r *OrderRoot) ApplyFill(fill TradeQuantity, price *decimal.Decimal, at time.Time) error {
	if !r.Trade.FillFits(fill) {
		return fmt.Errorf("%w: fill %v trade %v", ErrOverFilled, fill, r.Trade)
	}
	r.Fill = fill.Copy()
	r.FilledPrice = price
	if at.IsZero() {
		at = time.Now()
	}
	r.FillTime = at
	return nil
}

// Remaining returns the unfilled part of the desired trade.
func (r *OrderRoot) Remaining() TradeQuantity {
	return r.Trade.Sub(r.Fill)
}

// FillIsZero checks if nothing has been filled yet.
func (r *OrderRoot) FillIsZero() bool {
	return r.Fill.IsZero()
}

// FillEqualsTrade checks if the order is fully filled.
func (r *OrderRoot) FillEqualsTrade() bool {
	return r.Fill.Equal(r.Trade)
}

// IsZeroTrade checks if the desired trade is the zero vector.
func (r *OrderRoot) IsZeroTrade() bool {
	return r.Trade.IsZero()
}

// Deactivate marks an order filled or cancelled. Terminal: there is no way
// back to active.
func (r *OrderRoot) Deactivate() {
	r.Active = false
}

// ZeroOut cancels a desired-but-unexecuted order: fill is reset to the zero
// vector and the order deactivated.
func (r *OrderRoot) ZeroOut() {
	r.Fill = r.Trade.Zero()
	r.FilledPrice = nil
	r.FillTime = time.Time{}
	r.Deactivate()
}

func (r *OrderRoot) Lock()   { r.Locked = true }
func (r *OrderRoot) Unlock() { r.Locked = false }

func (r *OrderRoot) String() string {
	var flags strings.Builder
	if r.Locked {
		flags.WriteString(" LOCKED")
	}
	if !r.Active {
		flags.WriteString(" INACTIVE")
	}
	return fmt.Sprintf("(order %d) %s %s trade %v fill %v parent %d children %v%s",
		r.OrderID, r.Type, r.Key, r.Trade, r.Fill, r.ParentID, r.Children, flags.String())
}

func (r *OrderRoot) cloneInto(dst *OrderRoot) {
	*dst = *r
	dst.Trade = r.Trade.Copy()
	dst.Fill = r.Fill.Copy()
	if r.Children != nil {
		dst.Children = append([]int{}, r.Children...)
	}
	if r.FilledPrice != nil {
		p := *r.FilledPrice
		dst.FilledPrice = &p
	}
}

// LogAttrs returns standard slog attributes identifying an order.
func (r *OrderRoot) LogAttrs() []any {
	return []any{
		"order_id", r.OrderID,
		"key", r.Key,
		"order_type", string(r.Type),
	}
}

// TradeableKey builds the string key identifying what an order trades:
// strategy/instrument, optionally narrowed by contract dates.
func TradeableKey(strategy, instrument string, contractDates ...string) string {
	parts := append([]string{strategy, instrument}, contractDates...)
	return strings.Join(parts, "/")
}

// DecimalPtr is a convenience for optional decimal fields.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
