package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

func newTestSim(t *testing.T) (*SimBroker, *TickCache) {
	t.Helper()
	cache := NewTickCache()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSimBroker("sim", "PAPER1", cache, log), cache
}

func TestSimSubmitMarketOrderFills(t *testing.T) {
	sim, cache := newTestSim(t)
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))

	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeMarket)
	ctrl, err := sim.Submit(context.Background(), o)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.BrokerTempID == "" || !o.Submitted() {
		t.Errorf("order missing submission metadata: %+v", o)
	}
	if o.SidePrice == nil || !o.SidePrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("side price = %v, want ask", o.SidePrice)
	}

	live, ok, err := sim.MatchLocalToLive(context.Background(), ctrl.Order)
	if err != nil || !ok {
		t.Fatalf("MatchLocalToLive: ok=%v err=%v", ok, err)
	}
	if !live.FillEqualsTrade() {
		t.Errorf("market order not filled: %v", live.Fill)
	}
	if !live.FilledPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %v", live.FilledPrice)
	}
}

func TestSimSubmitFailsWithoutTick(t *testing.T) {
	sim, _ := newTestSim(t)
	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeMarket)
	ctrl, err := sim.Submit(context.Background(), o)
	if err == nil {
		t.Fatal("Submit succeeded without market data")
	}
	if ctrl != nil {
		t.Error("failed submit returned a handle")
	}
	if !domain.IsRetriable(err) {
		t.Errorf("submit failure not retriable: %v", err)
	}
}

func TestSimLimitOrderRestsThenFillsOnRepeg(t *testing.T) {
	sim, cache := newTestSim(t)
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))

	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeLimit)
	o.LimitPrice = domain.DecimalPtr(decimal.NewFromInt(99)) // passive at bid
	ctrl, err := sim.Submit(context.Background(), o)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	live, _, err := sim.MatchLocalToLive(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if !live.FillIsZero() {
		t.Fatalf("passive limit filled immediately: %v", live.Fill)
	}

	// Repeg to the ask: now marketable.
	if err := sim.ModifyLimitPrice(context.Background(), ctrl, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("ModifyLimitPrice: %v", err)
	}
	live, _, err = sim.MatchLocalToLive(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if !live.FillEqualsTrade() {
		t.Errorf("repegged limit not filled: %v", live.Fill)
	}
}

func TestSimCancelProtocol(t *testing.T) {
	sim, cache := newTestSim(t)
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))
	sim.CancelDelay = 20 * time.Millisecond

	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeLimit)
	o.LimitPrice = domain.DecimalPtr(decimal.NewFromInt(98))
	ctrl, err := sim.Submit(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := sim.IsCancelled(context.Background(), ctrl); ok {
		t.Error("cancelled before any cancel request")
	}
	if err := sim.Cancel(context.Background(), ctrl); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok, _ := sim.IsCancelled(context.Background(), ctrl); ok {
		t.Error("cancel confirmed before delay elapsed")
	}
	time.Sleep(30 * time.Millisecond)
	ok, err := sim.IsCancelled(context.Background(), ctrl)
	if err != nil || !ok {
		t.Fatalf("cancel not confirmed after delay: ok=%v err=%v", ok, err)
	}
	if !ctrl.Cancelled() {
		t.Error("control handle not marked cancelled")
	}
}

func TestSimScriptedPartialFills(t *testing.T) {
	sim, cache := newTestSim(t)
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))

	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{10}, domain.OrderTypeLimit)
	o.LimitPrice = domain.DecimalPtr(decimal.NewFromInt(98))
	if _, err := sim.Submit(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	if err := sim.RecordFill(o.BrokerTempID, domain.TradeQuantity{4}, decimal.NewFromInt(98), time.Now()); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	live, _, err := sim.MatchLocalToLive(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if !live.Fill.Equal(domain.TradeQuantity{4}) {
		t.Errorf("live fill = %v", live.Fill)
	}

	// Over-fill is rejected at the broker boundary too.
	if err := sim.RecordFill(o.BrokerTempID, domain.TradeQuantity{11}, decimal.NewFromInt(98), time.Now()); err == nil {
		t.Error("over-fill accepted")
	}
}

func TestOrderControlHeartbeat(t *testing.T) {
	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeMarket)
	ctrl := NewOrderControl(o, nil)

	if ctrl.MessageRequired(time.Hour) {
		t.Error("heartbeat due immediately after creation")
	}
	time.Sleep(15 * time.Millisecond)
	if !ctrl.MessageRequired(10 * time.Millisecond) {
		t.Error("heartbeat not due after interval")
	}
	// Timer resets after firing.
	if ctrl.MessageRequired(10 * time.Millisecond) {
		t.Error("heartbeat fired twice without interval passing")
	}
}

func TestFeedHandleMessage(t *testing.T) {
	cache := NewTickCache()
	f := NewFeed("ws://unused", nil, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.handleMessage([]byte(`{"type":"tick","instrument":"CRUDE","contract_dates":["20260900"],"bid":99.0,"ask":100.0,"bid_size":10,"ask_size":5}`))

	got, ok := cache.CurrentTick("CRUDE", []string{"20260900"})
	if !ok {
		t.Fatal("tick not cached")
	}
	if !got.Ask.Equal(decimal.NewFromInt(100)) || got.AskSize != 5 {
		t.Errorf("cached tick = %+v", got)
	}

	// Non-tick and malformed messages are ignored.
	f.handleMessage([]byte(`{"type":"heartbeat"}`))
	f.handleMessage([]byte(`not json`))
}
