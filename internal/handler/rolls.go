package handler

import (
	"context"
	"fmt"

	"futures_oms/internal/domain"
	"futures_oms/internal/infra/storage"
)

// RollPseudoStrategy attributes flat-roll families that belong to no real
// strategy: the roll moves contract positions without changing any
// strategy's instrument position.
const RollPseudoStrategy = "_ROLL_PSEUDO_STRATEGY"

// GenerateRollOrders places roll order families for every instrument whose
// externally-decided roll state demands one. Three guards must all pass
// per instrument, and a blocked guard is warned about rather than silently
// skipped so a stuck order cannot hide behind a quiet pass.
func (h *StackHandler) GenerateRollOrders(ctx context.Context) error {
	instruments, err := h.rolls.RolledInstruments()
	if err != nil {
		return err
	}
	for _, instrument := range instruments {
		if err := h.rollInstrument(instrument); err != nil {
			h.log.Error("roll order generation failed", "instrument", instrument, "error", err)
		}
	}
	return nil
}

func rollStateRequiresOrder(state string) bool {
	switch state {
	case storage.RollStateForce, storage.RollStateForceOutright, storage.RollStateClose:
		return true
	}
	return false
}

func (h *StackHandler) rollInstrument(instrument string) error {
	info, err := h.rolls.RollInfo(instrument)
	if err != nil {
		return err
	}
	if !rollStateRequiresOrder(info.State) {
		return nil
	}
	if info.PricedContract == "" {
		return fmt.Errorf("roll state %s for %s has no priced contract", info.State, instrument)
	}

	pos, err := h.positions.ContractPosition(instrument, info.PricedContract)
	if err != nil {
		return err
	}
	if pos == 0 {
		h.log.Warn("roll state demands an order but there is no position to roll",
			"instrument", instrument, "roll_state", info.State)
		return nil
	}
	working, err := h.contracts.OrderIDsForInstrument(instrument)
	if err != nil {
		return err
	}
	if len(working) > 0 {
		h.log.Warn("cannot place roll order, instrument already has working contract orders",
			"instrument", instrument, "order_ids", fmt.Sprint(working))
		return nil
	}

	switch info.State {
	case storage.RollStateForce:
		return h.placeFlatRoll(instrument, info, pos, false)
	case storage.RollStateForceOutright:
		return h.placeFlatRoll(instrument, info, pos, true)
	case storage.RollStateClose:
		return h.placeCloseRoll(instrument, info, pos)
	}
	return nil
}

// placeFlatRoll closes the priced contract and opens the forward for the
// same size, anchored by a zero-size instrument order. Outright rolls leg
// the two sides as separate contract orders; otherwise a single calendar
// spread order carries both legs.
func (h *StackHandler) placeFlatRoll(instrument string, info storage.RollInfo, pos int, outright bool) error {
	if info.ForwardContract == "" {
		return fmt.Errorf("flat roll for %s has no forward contract", instrument)
	}

	anchor := domain.NewZeroRollOrder(RollPseudoStrategy, instrument)
	spread := domain.NewContractOrder(RollPseudoStrategy, instrument,
		[]string{info.PricedContract, info.ForwardContract},
		domain.NewTradeQuantity(-pos, pos), domain.OrderTypeMarket)
	spread.RollOrder = true

	children := []*domain.ContractOrder{spread}
	if outright {
		children = spread.Split()
	}
	return h.placeRollFamily(anchor, children)
}

// placeCloseRoll closes out the priced contract with no forward leg,
// attributed to whichever strategy holds the largest absolute position in
// the instrument.
func (h *StackHandler) placeCloseRoll(instrument string, info storage.RollInfo, pos int) error {
	strategies, err := h.positions.StrategyPositions(instrument)
	if err != nil {
		return err
	}
	strategy := RollPseudoStrategy
	largest := 0
	for s, p := range strategies {
		if abs(p) > largest || (abs(p) == largest && s < strategy) {
			strategy = s
			largest = abs(p)
		}
	}

	anchor := domain.NewInstrumentOrder(strategy, instrument, -pos, domain.OrderTypeMarket)
	anchor.RollOrder = true
	closeLeg := domain.NewContractOrder(strategy, instrument,
		[]string{info.PricedContract}, domain.NewTradeQuantity(-pos), domain.OrderTypeMarket)
	closeLeg.RollOrder = true
	return h.placeRollFamily(anchor, []*domain.ContractOrder{closeLeg})
}

// placeRollFamily puts the anchor and its children as one transaction:
// anchor placed locked, children all-or-nothing, links made, and any
// failure unwinds everything inserted so far. The anchor is unlocked only
// after the whole family is in place.
func (h *StackHandler) placeRollFamily(anchor *domain.InstrumentOrder, children []*domain.ContractOrder) error {
	anchorID, err := h.instruments.PutAdjusted(anchor, true)
	if err != nil {
		return err
	}
	if err := h.instruments.Lock(anchorID); err != nil {
		return err
	}
	unwindAnchor := func(cause error) error {
		h.unlockParent(anchorID)
		if rbErr := h.removeOrders(h.instruments.Core, []int{anchorID}); rbErr != nil {
			return fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, cause, rbErr)
		}
		return cause
	}

	orders := make([]domain.Order, 0, len(children))
	for _, c := range children {
		if err := c.SetParent(anchorID); err != nil {
			return unwindAnchor(err)
		}
		orders = append(orders, c)
	}
	ids, err := h.contracts.PutMany(orders)
	if err != nil {
		return unwindAnchor(err)
	}
	if err := h.instruments.AddChildren(anchorID, ids); err != nil {
		if rbErr := h.removeOrders(h.contracts.Core, ids); rbErr != nil {
			return fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, err, rbErr)
		}
		return unwindAnchor(err)
	}
	if err := h.instruments.Unlock(anchorID); err != nil {
		return err
	}
	h.log.Info("placed roll order family", "instrument_order_id", anchorID,
		"key", anchor.Key, "children", fmt.Sprint(ids))
	return nil
}
