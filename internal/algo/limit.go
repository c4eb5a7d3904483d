package algo

import (
	"context"
	"fmt"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
)

// LimitAlgo places a single limit order at the caller's price and leaves it
// resting. There is nothing to manage: the order sits until filled or
// cancelled by a later pass.
type LimitAlgo struct {
	base
}

func (a *LimitAlgo) Submit(ctx context.Context, order *domain.ContractOrder) (*broker.OrderControl, error) {
	bo, analysis, err := a.prepare(order, domain.OrderTypeLimit)
	if err != nil {
		return nil, err
	}
	price := limitPriceFor(order.LimitPrice, analysis, bo.Trade.Sign(), true)
	bo.LimitPrice = &price
	return a.submit(ctx, bo)
}

// Manage is unsupported for resting limit orders.
func (a *LimitAlgo) Manage(ctx context.Context, ctrl *broker.OrderControl) error {
	a.endSession(ctrl)
	return fmt.Errorf("limit algo does not manage resting orders: %w", domain.ErrCannotModify)
}
