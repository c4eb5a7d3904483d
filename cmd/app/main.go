package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures_oms/internal/app"
	"futures_oms/internal/broker"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Market data feed (live mode only; paper mode ticks come from the
	// simulated exchange's cache, fed by whatever populates it)
	if !cfg.Broker.Paper && cfg.Broker.WSURL != "" {
		feed := broker.NewFeed(cfg.Broker.WSURL, cfg.Broker.Symbols, bootstrap.Ticks, slog.Default())
		if err := feed.Connect(ctx); err != nil {
			slog.Error("Failed to connect market data feed", slog.Any("error", err))
		}
		defer feed.Disconnect()
		slog.InfoContext(ctx, "✅ Market data feed started",
			slog.Int("symbols", len(cfg.Broker.Symbols)))
	}

	// 4. Stack handler pass loop
	interval := time.Duration(cfg.Stack.PassIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.InfoContext(ctx, "✨ Futures OMS fully operational. Press Ctrl+C to exit.",
		slog.String("pass_interval", interval.String()))

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "👋 Shutting down gracefully...")

			// Best-effort cancel of anything still working at the broker.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CancelWait())
			if err := bootstrap.Handler.CancelAllLiveOrders(shutdownCtx); err != nil {
				slog.Warn("Cancel-all on shutdown incomplete", slog.Any("error", err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := bootstrap.Handler.RunPass(ctx); err != nil {
				slog.Error("Handler pass aborted", slog.Any("error", err))
			}
		}
	}
}
