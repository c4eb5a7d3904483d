package handler

import (
	"context"

	"futures_oms/internal/domain"
	"futures_oms/internal/stack"
)

// HandleCompletions finds order families whose every member satisfies the
// completion predicate, deactivates them top to bottom, archives each
// member once and removes them from the live stacks. Removal is what makes
// the step idempotent: an archived family is simply no longer there on the
// next pass.
func (h *StackHandler) HandleCompletions(ctx context.Context) error {
	ids, err := h.instruments.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := h.completeFamilyIfDone(id); err != nil {
			h.log.Error("completion handling failed", "order_id", id, "error", err)
		}
	}
	return nil
}

type familyMember struct {
	core  *stack.Core
	order domain.Order
}

// family collects an instrument order and every contract and broker
// descendant. Missing members are reported as an incomplete family rather
// than an error: a partially-placed family must never be archived.
func (h *StackHandler) family(instrumentID int) ([]familyMember, bool, error) {
	io, ok, err := h.instruments.Order(instrumentID)
	if err != nil || !ok {
		return nil, false, err
	}
	members := []familyMember{{h.instruments.Core, io}}
	for _, cid := range io.Children {
		co, ok, err := h.contracts.Order(cid)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		members = append(members, familyMember{h.contracts.Core, co})
		for _, bid := range co.Children {
			bo, ok, err := h.brokers.Order(bid)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			members = append(members, familyMember{h.brokers.Core, bo})
		}
	}
	return members, true, nil
}

func (h *StackHandler) completeFamilyIfDone(instrumentID int) error {
	members, ok, err := h.family(instrumentID)
	if err != nil || !ok {
		return err
	}
	for _, m := range members {
		r := m.order.Root()
		if r.Locked {
			return nil
		}
		if !stack.Completed(m.order, h.CompletionOpts) {
			return nil
		}
	}

	h.log.Info("order family complete", "order_id", instrumentID,
		"key", members[0].order.Root().Key, "members", len(members))

	// Deactivate children before parents so a crash mid-way leaves the
	// instrument order visible as still in flight.
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if !m.order.Root().Active {
			continue
		}
		if err := m.core.Deactivate(m.order.Root().OrderID); err != nil {
			return err
		}
		m.order.Root().Deactivate()
	}
	for _, m := range members {
		row, err := archiveRowFor(m.order)
		if err != nil {
			return err
		}
		if err := h.archive.ArchiveOrder(m.core.Name(), row); err != nil {
			return err
		}
	}
	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		if err := m.core.Remove(m.order.Root().OrderID); err != nil {
			return err
		}
	}
	return nil
}
