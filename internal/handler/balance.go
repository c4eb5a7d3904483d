package handler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
	"futures_oms/internal/stack"
)

// BalanceTrade describes a trade done outside the system that must be
// recorded against stored positions: a manual broker execution, a
// reconciliation correction, or a transfer between strategies.
type BalanceTrade struct {
	Strategy     string
	Instrument   string
	ContractDate string
	Fill         int
	Price        decimal.Decimal
	At           time.Time
}

// CreateBalanceTrade records an externally-executed trade as a fully
// filled, pre-deactivated instrument+contract+broker family. Nothing is
// sent to the broker; the family exists so positions and the archive agree
// with what actually happened. Placement is transactional with the same
// unwind discipline as roll orders.
func (h *StackHandler) CreateBalanceTrade(bt BalanceTrade) error {
	if bt.Fill == 0 {
		return fmt.Errorf("balance trade for %s: %w", bt.Instrument, domain.ErrZeroOrder)
	}
	if bt.At.IsZero() {
		bt.At = time.Now()
	}

	io := domain.NewBalanceInstrumentOrder(bt.Strategy, bt.Instrument, bt.Fill, bt.Price, bt.At)
	co := domain.NewBalanceContractOrder(bt.Strategy, bt.Instrument,
		[]string{bt.ContractDate}, domain.NewTradeQuantity(bt.Fill), bt.Price, bt.At)
	bo := domain.NewBalanceBrokerOrder(bt.Strategy, bt.Instrument,
		[]string{bt.ContractDate}, domain.NewTradeQuantity(bt.Fill), bt.Price, bt.At)

	ioID, err := h.instruments.PutManual(io)
	if err != nil {
		return err
	}
	unwind := func(cause error) error {
		if rbErr := h.removeOrders(h.instruments.Core, []int{ioID}); rbErr != nil {
			return fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, cause, rbErr)
		}
		return cause
	}

	if err := co.SetParent(ioID); err != nil {
		return unwind(err)
	}
	coID, err := h.contracts.Put(co)
	if err != nil {
		return unwind(err)
	}
	unwindBoth := func(cause error) error {
		if rbErr := h.removeOrders(h.contracts.Core, []int{coID}); rbErr != nil {
			return fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, cause, rbErr)
		}
		return unwind(cause)
	}

	if err := bo.SetParent(coID); err != nil {
		return unwindBoth(err)
	}
	boID, err := h.brokers.Put(bo)
	if err != nil {
		return unwindBoth(err)
	}
	if err := h.instruments.AddChild(ioID, coID); err != nil {
		return unwindBoth(err)
	}
	if err := h.contracts.AddChild(coID, boID); err != nil {
		return unwindBoth(err)
	}

	if err := h.positions.ApplyContractFill(bt.Instrument, bt.ContractDate, bt.Fill); err != nil {
		return err
	}
	if err := h.positions.ApplyInstrumentFill(bt.Strategy, bt.Instrument, bt.Fill); err != nil {
		return err
	}

	if err := h.archiveBalanceFamily(ioID, coID, boID); err != nil {
		return err
	}
	h.log.Info("recorded balance trade", "key", io.Key, "fill", bt.Fill,
		"price", bt.Price.String())
	return nil
}

// CreateInstrumentBalanceTrade records a strategy-level transfer with no
// contract leg: two of these with opposite fills move a position between
// strategies without touching contract positions.
func (h *StackHandler) CreateInstrumentBalanceTrade(strategy, instrument string, fill int, price decimal.Decimal, at time.Time) error {
	if fill == 0 {
		return fmt.Errorf("instrument balance trade for %s: %w", instrument, domain.ErrZeroOrder)
	}
	if at.IsZero() {
		at = time.Now()
	}
	io := domain.NewBalanceInstrumentOrder(strategy, instrument, fill, price, at)
	ioID, err := h.instruments.PutManual(io)
	if err != nil {
		return err
	}
	if err := h.positions.ApplyInstrumentFill(strategy, instrument, fill); err != nil {
		return err
	}
	return h.archiveBalanceFamily(ioID, domain.NoOrderID, domain.NoOrderID)
}

// archiveBalanceFamily deactivates, archives and removes a balance family.
// Balance orders are born filled, so they never wait for the completion
// pass.
func (h *StackHandler) archiveBalanceFamily(ioID, coID, boID int) error {
	type member struct {
		core *stack.Core
		id   int
	}
	members := []member{}
	if boID != domain.NoOrderID {
		members = append(members, member{h.brokers.Core, boID})
	}
	if coID != domain.NoOrderID {
		members = append(members, member{h.contracts.Core, coID})
	}
	members = append(members, member{h.instruments.Core, ioID})

	for _, m := range members {
		o, ok, err := m.core.Get(m.id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("balance order %d vanished before archive: %w", m.id, domain.ErrMissingOrder)
		}
		if err := m.core.Deactivate(m.id); err != nil {
			return err
		}
		o.Root().Deactivate()
		row, err := archiveRowFor(o)
		if err != nil {
			return err
		}
		if err := h.archive.ArchiveOrder(m.core.Name(), row); err != nil {
			return err
		}
		if err := m.core.Remove(m.id); err != nil {
			return err
		}
	}
	return nil
}
