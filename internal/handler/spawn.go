package handler

import (
	"context"
	"fmt"

	"futures_oms/internal/domain"
	"futures_oms/internal/infra/storage"
)

// SpawnContractOrders turns newly placed instrument orders into contract
// children. The roll state for the instrument decides which contract(s)
// the trade goes to; states that mean a roll order is (or will be) working
// the instrument spawn nothing until the roll clears.
func (h *StackHandler) SpawnContractOrders(ctx context.Context) error {
	orders, err := h.instruments.ActiveOrders()
	if err != nil {
		return err
	}
	for _, io := range orders {
		if io.HasChildren() || io.Locked || io.IsZeroTrade() {
			continue
		}
		if err := h.spawnChildren(io); err != nil {
			h.log.Error("spawning contract orders failed", "order_id", io.OrderID, "error", err)
		}
	}
	return nil
}

func (h *StackHandler) spawnChildren(io *domain.InstrumentOrder) error {
	info, err := h.rolls.RollInfo(io.Instrument)
	if err != nil {
		return err
	}

	var children []*domain.ContractOrder
	switch info.State {
	case storage.RollStateForce, storage.RollStateForceOutright, storage.RollStateAdjusted:
		h.log.Info("roll in progress, holding instrument order",
			"order_id", io.OrderID, "instrument", io.Instrument, "roll_state", info.State)
		return nil
	case storage.RollStatePassive:
		children, err = h.passiveSplit(io, info)
		if err != nil {
			return err
		}
	default:
		// No roll, or closing: trade the priced contract.
		if info.PricedContract == "" {
			h.log.Warn("no priced contract known for instrument, cannot spawn",
				"order_id", io.OrderID, "instrument", io.Instrument)
			return nil
		}
		children = []*domain.ContractOrder{h.childOrder(io, info.PricedContract, io.Trade.Sum())}
	}
	if len(children) == 0 {
		return nil
	}
	return h.placeChildren(io, children)
}

// passiveSplit sends position-reducing quantity to the priced contract
// first and everything else to the forward, so a passive roll shrinks the
// near position without ever growing it.
func (h *StackHandler) passiveSplit(io *domain.InstrumentOrder, info storage.RollInfo) ([]*domain.ContractOrder, error) {
	if info.PricedContract == "" || info.ForwardContract == "" {
		return nil, fmt.Errorf("passive roll for %s needs priced and forward contracts", io.Instrument)
	}
	pos, err := h.positions.ContractPosition(io.Instrument, info.PricedContract)
	if err != nil {
		return nil, err
	}
	qty := io.Trade.Sum()
	if qty == 0 {
		return nil, nil
	}
	if sign(qty) == sign(pos) || pos == 0 {
		return []*domain.ContractOrder{h.childOrder(io, info.ForwardContract, qty)}, nil
	}

	closing := min(abs(qty), abs(pos)) * sign(qty)
	remainder := qty - closing
	children := []*domain.ContractOrder{h.childOrder(io, info.PricedContract, closing)}
	if remainder != 0 {
		children = append(children, h.childOrder(io, info.ForwardContract, remainder))
	}
	return children, nil
}

func (h *StackHandler) childOrder(io *domain.InstrumentOrder, contractDate string, qty int) *domain.ContractOrder {
	co := domain.NewContractOrder(io.Strategy, io.Instrument, []string{contractDate},
		domain.NewTradeQuantity(qty), io.Type)
	co.ReferencePrice = io.ReferencePrice
	co.RollOrder = io.RollOrder
	return co
}

// placeChildren inserts the children and links them to the parent as one
// transaction: the parent is locked for the duration, and a failed link
// unwinds every inserted child.
func (h *StackHandler) placeChildren(io *domain.InstrumentOrder, children []*domain.ContractOrder) error {
	if err := h.instruments.Lock(io.OrderID); err != nil {
		return err
	}

	orders := make([]domain.Order, 0, len(children))
	for _, c := range children {
		if err := c.SetParent(io.OrderID); err != nil {
			h.unlockParent(io.OrderID)
			return err
		}
		orders = append(orders, c)
	}
	ids, err := h.contracts.PutMany(orders)
	if err != nil {
		h.unlockParent(io.OrderID)
		return err
	}
	if err := h.instruments.AddChildren(io.OrderID, ids); err != nil {
		if rbErr := h.removeOrders(h.contracts.Core, ids); rbErr != nil {
			return fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, err, rbErr)
		}
		h.unlockParent(io.OrderID)
		return err
	}
	if err := h.instruments.Unlock(io.OrderID); err != nil {
		return err
	}
	h.log.Info("spawned contract orders", "order_id", io.OrderID,
		"key", io.Key, "children", fmt.Sprint(ids))
	return nil
}

func (h *StackHandler) unlockParent(id int) {
	if err := h.instruments.Unlock(id); err != nil {
		h.log.Error("unlocking parent after failed placement", "order_id", id, "error", err)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
