package app

import (
	"log/slog"

	"futures_oms/internal/broker"
	"futures_oms/internal/handler"
	"futures_oms/internal/infra"
	"futures_oms/internal/infra/storage"
	"futures_oms/internal/stack"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage

	Instruments *stack.InstrumentStack
	Contracts   *stack.ContractStack
	Brokers     *stack.BrokerStack

	Ticks   *broker.TickCache
	Broker  broker.Broker
	Handler *handler.StackHandler
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB,
// stacks, broker, handler).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Futures OMS...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Stack.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Stack.DBPath))

	// 4. Order stacks on top of the shared store
	b.Instruments = stack.NewInstrumentStack(store, logger)
	b.Contracts = stack.NewContractStack(store, logger)
	b.Brokers = stack.NewBrokerStack(store, logger)

	// 5. Tick cache and broker. Order routing always goes through the
	// simulated exchange until a live adapter is wired in; non-paper mode
	// only changes where ticks come from.
	b.Ticks = broker.NewTickCache()
	b.Broker = broker.NewSimBroker(cfg.Broker.Name, cfg.Broker.Account, b.Ticks, logger)
	if !cfg.Broker.Paper {
		slog.Warn("⚠️ No live order adapter configured, executions are simulated against the live feed")
	}

	// 6. Stack handler
	b.Handler = handler.New(handler.Deps{
		Instruments: b.Instruments,
		Contracts:   b.Contracts,
		Brokers:     b.Brokers,
		Positions:   store,
		Rolls:       store,
		Archive:     store,
		Broker:      b.Broker,
		Ticks:       b.Ticks,
		Cfg:         cfg,
		Log:         logger,
	})
	slog.Info("✅ Stack handler ready")

	return nil
}
