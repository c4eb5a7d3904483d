package handler

import (
	"context"
	"time"

	"futures_oms/internal/broker"
)

const cancelPollInterval = 200 * time.Millisecond

// CancelAllLiveOrders asks the broker to cancel everything still working
// and polls for confirmation within the configured bounded wait. Used on
// shutdown and for panic flattening; unconfirmed cancels are warned about
// and left to the next reconcile pass.
func (h *StackHandler) CancelAllLiveOrders(ctx context.Context) error {
	live, err := h.broker.LiveOrders(ctx)
	if err != nil {
		return err
	}

	pending := make([]*broker.OrderControl, 0, len(live))
	for _, o := range live {
		if o.FillEqualsTrade() {
			continue
		}
		ctrl := broker.NewOrderControl(o, nil)
		if err := h.broker.Cancel(ctx, ctrl); err != nil {
			h.log.Warn("cancel request failed", "temp_id", o.BrokerTempID, "error", err)
			continue
		}
		pending = append(pending, ctrl)
	}
	if len(pending) == 0 {
		return nil
	}
	h.log.Info("cancelling live orders", "count", len(pending))

	deadline := time.Now().Add(h.cfg.CancelWait())
	for time.Now().Before(deadline) && len(pending) > 0 {
		remaining := pending[:0]
		for _, ctrl := range pending {
			ok, err := h.broker.IsCancelled(ctx, ctrl)
			if err != nil {
				h.log.Warn("cancel confirm poll failed",
					"temp_id", ctrl.Order.BrokerTempID, "error", err)
				remaining = append(remaining, ctrl)
				continue
			}
			if !ok {
				remaining = append(remaining, ctrl)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			h.log.Warn("context expired waiting for cancels", "unconfirmed", len(pending))
			return ctx.Err()
		case <-time.After(cancelPollInterval):
		}
	}
	for _, ctrl := range pending {
		h.log.Warn("cancel not confirmed within wait", "temp_id", ctrl.Order.BrokerTempID)
	}
	return nil
}
