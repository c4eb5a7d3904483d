package handler

import (
	"context"
	"errors"

	"futures_oms/internal/algo"
	"futures_oms/internal/domain"
)

// CreateBrokerOrders runs an execution-algo session for every contract
// order that still has quantity to trade and no algo already working it.
// Sessions run sequentially; the controlling-algo reference on the
// contract order is what stops two sessions ever racing on one order.
func (h *StackHandler) CreateBrokerOrders(ctx context.Context) error {
	orders, err := h.contracts.ActiveOrders()
	if err != nil {
		return err
	}
	for _, co := range orders {
		if co.Locked || co.IsControlled() || co.FillEqualsTrade() || co.IsZeroTrade() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.executeContractOrder(ctx, co); err != nil {
			h.log.Error("broker order creation failed", "order_id", co.OrderID, "error", err)
		}
	}
	return nil
}

func (h *StackHandler) executeContractOrder(ctx context.Context, co *domain.ContractOrder) error {
	key := algo.AllocateKey(co, h.cfg)
	a, err := algo.New(key, algo.Deps{Broker: h.broker, Ticks: h.ticks, Cfg: h.cfg, Log: h.log})
	if err != nil {
		return err
	}
	if err := h.contracts.AddControllingAlgo(co.OrderID, key); err != nil {
		return err
	}
	release := func() {
		if err := h.contracts.ReleaseControllingAlgo(co.OrderID); err != nil {
			h.log.Error("releasing algo control failed", "order_id", co.OrderID, "error", err)
		}
	}

	ctrl, err := a.Submit(ctx, co)
	if err != nil {
		release()
		if errors.Is(err, domain.ErrMarketClosed) {
			h.log.Info("market closed, order waits for next session",
				"order_id", co.OrderID, "key", co.Key)
			return nil
		}
		return err
	}

	if err := ctrl.Order.SetParent(co.OrderID); err != nil {
		release()
		return err
	}
	brokerID, err := h.brokers.Put(ctrl.Order)
	if err != nil {
		release()
		return err
	}
	if err := h.contracts.AddChild(co.OrderID, brokerID); err != nil {
		release()
		return err
	}

	manageErr := a.Manage(ctx, ctrl)
	if manageErr != nil && !errors.Is(manageErr, domain.ErrCannotModify) {
		h.log.Warn("algo session ended with error", "order_id", co.OrderID, "error", manageErr)
	}

	// Whatever state the session reached is broker truth now; write it
	// through so the fill passes see it even before the next reconcile.
	if err := h.brokers.ApplyExecutionDetails(brokerID, ctrl.Order); err != nil {
		h.log.Error("storing session result failed", "broker_order_id", brokerID, "error", err)
	}
	release()
	if errors.Is(manageErr, domain.ErrCannotModify) {
		// Resting limit orders have no manage phase; the order stays live
		// and later passes reconcile its fills.
		return nil
	}
	return manageErr
}
