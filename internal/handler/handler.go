package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
	"futures_oms/internal/infra"
	"futures_oms/internal/infra/storage"
	"futures_oms/internal/stack"
)

// PositionStore records the position effect of fills at both tiers.
type PositionStore interface {
	ApplyContractFill(instrument, contractDate string, delta int) error
	ApplyInstrumentFill(strategy, instrument string, delta int) error
	ContractPosition(instrument, contractDate string) (int, error)
	StrategyPositions(instrument string) (map[string]int, error)
}

// RollStateStore exposes the externally-decided roll configuration.
type RollStateStore interface {
	RollInfo(instrument string) (storage.RollInfo, error)
	RolledInstruments() ([]string, error)
}

// ArchiveStore keeps completed order families queryable after they leave
// the live stacks.
type ArchiveStore interface {
	ArchiveOrder(stackName string, row stack.Row) error
}

// StackHandler is the orchestrator: it owns one pass of the order
// pipeline, moving fills bottom-up through the three stacks and
// completions top-down, and generating roll and balance trades.
type StackHandler struct {
	instruments *stack.InstrumentStack
	contracts   *stack.ContractStack
	brokers     *stack.BrokerStack

	positions PositionStore
	rolls     RollStateStore
	archive   ArchiveStore

	broker broker.Broker
	ticks  broker.TickSource
	cfg    *infra.Config
	log    *slog.Logger

	// CompletionOpts relaxes the family-completion predicate for the whole
	// pass. The zero value demands an exact fill.
	CompletionOpts stack.CompletionOpts
}

type Deps struct {
	Instruments *stack.InstrumentStack
	Contracts   *stack.ContractStack
	Brokers     *stack.BrokerStack
	Positions   PositionStore
	Rolls       RollStateStore
	Archive     ArchiveStore
	Broker      broker.Broker
	Ticks       broker.TickSource
	Cfg         *infra.Config
	Log         *slog.Logger
}

func New(d Deps) *StackHandler {
	return &StackHandler{
		instruments: d.Instruments,
		contracts:   d.Contracts,
		brokers:     d.Brokers,
		positions:   d.Positions,
		rolls:       d.Rolls,
		archive:     d.Archive,
		broker:      d.Broker,
		ticks:       d.Ticks,
		cfg:         d.Cfg,
		log:         d.Log.With("component", "stack_handler"),
	}
}

// RunPass executes one full pipeline pass. Every step is idempotent and a
// fault on a single order is logged and skipped, never aborting the pass:
// the next pass picks it up again. Fills move strictly broker to contract
// to instrument before completion detection runs.
func (h *StackHandler) RunPass(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"spawn_contract_orders", h.SpawnContractOrders},
		{"generate_roll_orders", h.GenerateRollOrders},
		{"create_broker_orders", h.CreateBrokerOrders},
		{"reconcile_broker_fills", h.ReconcileBrokerFills},
		{"propagate_broker_fills", h.PropagateBrokerFills},
		{"propagate_contract_fills", h.PropagateContractFills},
		{"handle_completions", h.HandleCompletions},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx); err != nil {
			h.log.Error("pipeline step failed", "step", s.name, "error", err)
			infra.GlobalMetrics.RecordError()
		}
	}
	infra.GlobalMetrics.RecordHandlerPass()
	return nil
}

// removeOrders unwinds freshly inserted orders: deactivate, then delete.
// Used by the multi-stack transactions when a later step fails.
func (h *StackHandler) removeOrders(core *stack.Core, ids []int) error {
	for _, id := range ids {
		if err := core.Deactivate(id); err != nil {
			return fmt.Errorf("rollback deactivate %d: %w", id, err)
		}
		if err := core.Remove(id); err != nil {
			return fmt.Errorf("rollback remove %d: %w", id, err)
		}
	}
	return nil
}

// archiveRowFor re-encodes an order for the archive table.
func archiveRowFor(o domain.Order) (stack.Row, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return stack.Row{}, fmt.Errorf("encode order for archive: %w", err)
	}
	r := o.Root()
	return stack.Row{
		ID:      r.OrderID,
		Key:     r.Key,
		Parent:  r.ParentID,
		Active:  r.Active,
		Locked:  r.Locked,
		Payload: payload,
	}, nil
}
