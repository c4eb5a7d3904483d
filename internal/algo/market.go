package algo

import (
	"context"
	"time"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
)

// MarketAlgo fires a single market order and babysits it to completion.
// Used for rolls, panic orders and anything where certainty of execution
// beats price.
type MarketAlgo struct {
	base
}

func (a *MarketAlgo) Submit(ctx context.Context, order *domain.ContractOrder) (*broker.OrderControl, error) {
	bo, _, err := a.prepare(order, domain.OrderTypeMarket)
	if err != nil {
		return nil, err
	}
	return a.submit(ctx, bo)
}

// Manage polls until the order fills, the broker cancels it, or the total
// timeout passes, in which case the remainder is cancelled.
func (a *MarketAlgo) Manage(ctx context.Context, ctrl *broker.OrderControl) error {
	defer a.endSession(ctrl)
	log := a.log().With("temp_id", ctrl.Order.BrokerTempID)
	deadline := time.Now().Add(a.deps.Cfg.TotalTimeout())

	for {
		done, err := a.refreshLive(ctx, ctrl)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if ctrl.Cancelled() {
			log.Warn("order cancelled outside session")
			return nil
		}
		if time.Now().After(deadline) {
			log.Warn("total timeout reached, cancelling remainder",
				"filled", ctrl.Order.Fill.TotalAbs(), "wanted", ctrl.Order.Trade.TotalAbs())
			a.cancelAndWait(ctx, ctrl)
			return nil
		}
		if ctrl.MessageRequired(a.deps.Cfg.Heartbeat()) {
			log.Info("still working order", "filled", ctrl.Order.Fill.TotalAbs(),
				"wanted", ctrl.Order.Trade.TotalAbs(), "age", ctrl.Age().Round(time.Second).String())
		}

		select {
		case <-ctx.Done():
			log.Warn("context expired, cancelling remainder")
			a.cancelAndWait(context.WithoutCancel(ctx), ctrl)
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
