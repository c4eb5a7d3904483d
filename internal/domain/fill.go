package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one order's cumulative fill state, extracted for aggregation.
type Fill struct {
	Qty   TradeQuantity
	Price *decimal.Decimal
	At    time.Time
}

// FillOf extracts the fill state of an order.
func FillOf(o Order) Fill {
	r := o.Root()
	return Fill{Qty: r.Fill.Copy(), Price: r.FilledPrice, At: r.FillTime}
}

// AggregateFills combines child fills into the parent's fill state.
// Quantities add per leg, the price is the absolute-size-weighted average
// of child prices, and the time is the latest child fill time. Children
// with a zero fill or no price do not contribute to the average.
func AggregateFills(fills []Fill) Fill {
	if len(fills) == 0 {
		return Fill{}
	}
	qty := fills[0].Qty.Zero()
	weighted := decimal.Zero
	totalAbs := decimal.Zero
	var latest time.Time
	for _, f := range fills {
		qty = qty.Add(f.Qty)
		if f.At.After(latest) {
			latest = f.At
		}
		if f.Price == nil || f.Qty.IsZero() {
			continue
		}
		w := decimal.NewFromInt(int64(f.Qty.TotalAbs()))
		weighted = weighted.Add(f.Price.Mul(w))
		totalAbs = totalAbs.Add(w)
	}
	out := Fill{Qty: qty, At: latest}
	if totalAbs.IsPositive() {
		avg := weighted.Div(totalAbs)
		out.Price = &avg
	}
	return out
}
