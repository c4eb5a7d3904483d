package handler

import (
	"context"
	"fmt"

	"futures_oms/internal/domain"
)

// familyClass is the three-way classification of a multi-child order
// family. It decides whether aggregated child fills may be applied to the
// parent.
type familyClass int

const (
	// classFlat: there is no net effect to apply to the parent. At the
	// instrument tier this is a zero-trade roll anchor; at the broker tier
	// it is children whose legs net out.
	classFlat familyClass = iota
	// classDistributed: every child trades in the parent's direction and
	// the fills aggregate cleanly onto the parent.
	classDistributed
	// classIrreducible: child signs disagree with the parent, or the
	// child trades do not account for the parent's trade. There is no
	// sound way to attribute these fills automatically; an operator has to
	// resolve it.
	classIrreducible
)

func classifyNets(parent int, childNets []int) familyClass {
	if parent == 0 {
		return classFlat
	}
	total := 0
	for _, n := range childNets {
		if n != 0 && sign(n) != sign(parent) {
			return classIrreducible
		}
		total += n
	}
	if total != parent {
		return classIrreducible
	}
	return classDistributed
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// ReconcileBrokerFills pulls the broker's current view of every submitted
// order into the broker stack. This is the only step that talks to the
// broker for state; everything above works off the stacks.
func (h *StackHandler) ReconcileBrokerFills(ctx context.Context) error {
	orders, err := h.brokers.ActiveOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		if !o.Submitted() {
			continue
		}
		live, ok, err := h.broker.MatchLocalToLive(ctx, o)
		if err != nil {
			h.log.Warn("broker match failed", "order_id", o.OrderID, "error", err)
			continue
		}
		if !ok {
			h.log.Warn("submitted order unknown to broker", "order_id", o.OrderID,
				"temp_id", o.BrokerTempID)
			continue
		}
		if live.Fill.Equal(o.Fill) && live.BrokerPermID == o.BrokerPermID {
			continue
		}
		if err := h.brokers.ApplyExecutionDetails(o.OrderID, live); err != nil {
			h.log.Error("applying execution details failed", "order_id", o.OrderID, "error", err)
		}
	}
	return nil
}

// PropagateBrokerFills aggregates broker-order fills onto their contract
// parents and applies the per-leg deltas to contract positions.
func (h *StackHandler) PropagateBrokerFills(ctx context.Context) error {
	orders, err := h.contracts.ActiveOrders()
	if err != nil {
		return err
	}
	for _, co := range orders {
		if !co.HasChildren() {
			continue
		}
		if err := h.fillContractFromChildren(co); err != nil {
			h.log.Error("broker fill propagation failed", "order_id", co.OrderID, "error", err)
		}
	}
	return nil
}

// classifyLegs judges broker children against their contract parent on a
// per-leg basis: a spread parent nets to zero by construction, so scalar
// netting cannot be used at this tier. No exact-sum requirement here;
// size-capped placement leaves the children short of the parent until the
// last slice goes out.
func classifyLegs(parent domain.TradeQuantity, childTrades []domain.TradeQuantity) familyClass {
	net := parent.Zero()
	for _, ct := range childTrades {
		if len(ct) != len(parent) {
			return classIrreducible
		}
		net = net.Add(ct)
	}
	if net.IsZero() && !parent.IsZero() {
		return classFlat
	}
	for _, ct := range childTrades {
		for i, leg := range ct {
			if leg != 0 && sign(leg) != sign(parent[i]) {
				return classIrreducible
			}
		}
	}
	return classDistributed
}

func (h *StackHandler) fillContractFromChildren(co *domain.ContractOrder) error {
	childTrades := make([]domain.TradeQuantity, 0, len(co.Children))
	fills := make([]domain.Fill, 0, len(co.Children))
	for _, id := range co.Children {
		bo, ok, err := h.brokers.Order(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("broker child %d of contract order %d: %w",
				id, co.OrderID, domain.ErrMissingOrder)
		}
		childTrades = append(childTrades, bo.Trade)
		fills = append(fills, domain.FillOf(bo))
	}

	if len(childTrades) > 1 {
		switch classifyLegs(co.Trade, childTrades) {
		case classFlat:
			return nil
		case classIrreducible:
			h.log.Error("irreducible broker fills under contract order, manual intervention required",
				"critical", true, "order_id", co.OrderID, "key", co.Key)
			return nil
		}
	}

	agg := domain.AggregateFills(fills)
	if agg.Qty.Equal(co.Fill) {
		return nil
	}
	prevFill := co.Fill.Copy()
	if err := h.contracts.ApplyFill(co.OrderID, agg.Qty, agg.Price, agg.At); err != nil {
		return err
	}
	for i, date := range co.ContractDates {
		delta := agg.Qty[i] - prevFill[i]
		if delta == 0 {
			continue
		}
		if err := h.positions.ApplyContractFill(co.Instrument, date, delta); err != nil {
			return fmt.Errorf("contract position update %s/%s: %w", co.Instrument, date, err)
		}
	}
	return nil
}

// PropagateContractFills aggregates contract-order fills onto their
// instrument parents and applies the net deltas to strategy positions.
// Flat families (rolls) have no instrument-level effect and are skipped;
// irreducible families are logged and left for an operator.
func (h *StackHandler) PropagateContractFills(ctx context.Context) error {
	orders, err := h.instruments.ActiveOrders()
	if err != nil {
		return err
	}
	for _, io := range orders {
		if !io.HasChildren() {
			continue
		}
		if err := h.fillInstrumentFromChildren(io); err != nil {
			h.log.Error("contract fill propagation failed", "order_id", io.OrderID, "error", err)
		}
	}
	return nil
}

func (h *StackHandler) fillInstrumentFromChildren(io *domain.InstrumentOrder) error {
	nets := make([]int, 0, len(io.Children))
	fills := make([]domain.Fill, 0, len(io.Children))
	sameInstrument := true
	for _, id := range io.Children {
		co, ok, err := h.contracts.Order(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("contract child %d of instrument order %d: %w",
				id, io.OrderID, domain.ErrMissingOrder)
		}
		if co.Instrument != io.Instrument {
			sameInstrument = false
		}
		nets = append(nets, co.Trade.Sum())
		fills = append(fills, domain.Fill{
			Qty:   domain.NewTradeQuantity(co.Fill.Sum()),
			Price: co.FilledPrice,
			At:    co.FillTime,
		})
	}

	if len(io.Children) > 1 {
		class := classifyNets(io.Trade.Sum(), nets)
		if !sameInstrument && class == classDistributed {
			class = classIrreducible
		}
		switch class {
		case classFlat:
			return nil
		case classIrreducible:
			h.log.Error("irreducible spread family, manual intervention required",
				"critical", true, "order_id", io.OrderID, "key", io.Key)
			return nil
		}
	}

	agg := domain.AggregateFills(fills)
	if agg.Qty.Equal(io.Fill) {
		return nil
	}
	delta := agg.Qty.Sum() - io.Fill.Sum()
	if err := h.instruments.ApplyFill(io.OrderID, agg.Qty, agg.Price, agg.At); err != nil {
		return err
	}
	if delta != 0 {
		if err := h.positions.ApplyInstrumentFill(io.Strategy, io.Instrument, delta); err != nil {
			return fmt.Errorf("strategy position update %s/%s: %w", io.Strategy, io.Instrument, err)
		}
	}
	return nil
}
