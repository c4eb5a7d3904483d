package algo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
)

// SnapAlgo fires a single limit order at a snapshot of the current book
// and leaves it there. The key chooses the snapshot point: snap_market
// crosses at the side touch, snap_mid rests at the mid, snap_prime rests
// passively at the offside. No repegging, no escalation.
type SnapAlgo struct {
	base
}

func (a *SnapAlgo) snapPrice(analysis broker.TickAnalysis, direction int) (decimal.Decimal, error) {
	switch a.key {
	case KeySnapMarket:
		return roundToTick(analysis.SidePrice, direction), nil
	case KeySnapMid:
		return roundToTick(analysis.MidPrice, direction), nil
	case KeySnapPrime:
		return roundToTick(analysis.OffsidePrice, direction), nil
	}
	return decimal.Zero, fmt.Errorf("no snap price for algo key %q", a.key)
}

func (a *SnapAlgo) Submit(ctx context.Context, order *domain.ContractOrder) (*broker.OrderControl, error) {
	bo, analysis, err := a.prepare(order, domain.OrderType(a.key))
	if err != nil {
		return nil, err
	}
	price, err := a.snapPrice(analysis, bo.Trade.Sign())
	if err != nil {
		return nil, err
	}
	bo.LimitPrice = &price
	return a.submit(ctx, bo)
}

// Manage watches the resting order until it fills or the total timeout
// passes. Whatever is left at the deadline is cancelled; a partial fill is
// an acceptable outcome for a snap.
func (a *SnapAlgo) Manage(ctx context.Context, ctrl *broker.OrderControl) error {
	defer a.endSession(ctrl)
	log := a.log().With("temp_id", ctrl.Order.BrokerTempID)
	deadline := ctrl.SubmittedAt.Add(a.deps.Cfg.TotalTimeout())

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
			log.Info("snap window over, cancelling remainder",
				"filled", ctrl.Order.Fill.TotalAbs(), "wanted", ctrl.Order.Trade.TotalAbs())
			a.cancelAndWait(ctx, ctrl)
			return nil
		}
		if ctrl.MessageRequired(a.deps.Cfg.Heartbeat()) {
			log.Info("snap order resting", "filled", ctrl.Order.Fill.TotalAbs(),
				"wanted", ctrl.Order.Trade.TotalAbs())
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
