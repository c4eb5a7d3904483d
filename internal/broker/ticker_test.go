package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

func tick(bid, ask float64, bidSize, askSize int) Tick {
	return Tick{
		Bid:     decimal.NewFromFloat(bid),
		Ask:     decimal.NewFromFloat(ask),
		BidSize: bidSize,
		AskSize: askSize,
		Time:    time.Now(),
	}
}

func TestAnalyseTickBuySide(t *testing.T) {
	a := AnalyseTick(tick(99.0, 100.0, 20, 5), 1)

	if !a.SidePrice.Equal(decimal.NewFromFloat(100.0)) {
		t.Errorf("buy side price = %v, want ask", a.SidePrice)
	}
	if !a.OffsidePrice.Equal(decimal.NewFromFloat(99.0)) {
		t.Errorf("buy offside price = %v, want bid", a.OffsidePrice)
	}
	if !a.MidPrice.Equal(decimal.NewFromFloat(99.5)) {
		t.Errorf("mid = %v", a.MidPrice)
	}
	if a.SideQty != 5 || a.OffsideQty != 20 {
		t.Errorf("qty = %d/%d", a.SideQty, a.OffsideQty)
	}
	if a.ImbalanceRatio != 4.0 {
		t.Errorf("imbalance = %v, want 4", a.ImbalanceRatio)
	}
}

func TestAnalyseTickSellSide(t *testing.T) {
	a := AnalyseTick(tick(99.0, 100.0, 20, 5), -1)

	if !a.SidePrice.Equal(decimal.NewFromFloat(99.0)) {
		t.Errorf("sell side price = %v, want bid", a.SidePrice)
	}
	if a.SideQty != 20 || a.OffsideQty != 5 {
		t.Errorf("qty = %d/%d", a.SideQty, a.OffsideQty)
	}
	if a.ImbalanceRatio != 0.25 {
		t.Errorf("imbalance = %v, want 0.25", a.ImbalanceRatio)
	}
}

func TestAnalyseTickZeroSideQty(t *testing.T) {
	a := AnalyseTick(tick(99.0, 100.0, 20, 0), 1)
	if a.ImbalanceRatio != VeryLargeImbalance {
		t.Errorf("imbalance = %v, want sentinel", a.ImbalanceRatio)
	}
}

func TestTickCache(t *testing.T) {
	c := NewTickCache()

	if _, ok := c.CurrentTick("CRUDE", []string{"20260900"}); ok {
		t.Error("empty cache returned a tick")
	}

	c.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))
	got, ok := c.CurrentTick("CRUDE", []string{"20260900"})
	if !ok || !got.Bid.Equal(decimal.NewFromInt(99)) {
		t.Errorf("cached tick = %+v ok=%v", got, ok)
	}

	// Different contract date is a different entry.
	if _, ok := c.CurrentTick("CRUDE", []string{"20261200"}); ok {
		t.Error("tick leaked across contract dates")
	}
}

func TestSecondsOfTradingLeft(t *testing.T) {
	c := NewTickCache()

	// No close time recorded: treated as open.
	if _, err := c.SecondsOfTradingLeft("CRUDE"); err != nil {
		t.Fatalf("open market err = %v", err)
	}

	c.SetMarketClose("CRUDE", time.Now().Add(10*time.Minute))
	left, err := c.SecondsOfTradingLeft("CRUDE")
	if err != nil {
		t.Fatal(err)
	}
	if left <= 0 || left > 10*time.Minute {
		t.Errorf("trading left = %v", left)
	}

	c.SetMarketClose("CRUDE", time.Now().Add(-time.Minute))
	if _, err := c.SecondsOfTradingLeft("CRUDE"); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("closed market err = %v", err)
	}
}

func TestTickerAdverseMovement(t *testing.T) {
	cache := NewTickCache()
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 10, 10))

	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeBest)
	tk := NewTicker(cache, o)
	if !tk.SetReference() {
		t.Fatal("SetReference failed with a usable tick")
	}

	// Unchanged market: no adverse move.
	if tk.AdversePriceMovement() {
		t.Error("adverse movement on unchanged market")
	}

	// Bid rises: adverse for a passive buyer.
	cache.SetTick("CRUDE", []string{"20260900"}, tick(99.5, 100.5, 10, 10))
	if !tk.AdversePriceMovement() {
		t.Error("no adverse movement after bid rose")
	}

	// Bid falls back: favourable.
	cache.SetTick("CRUDE", []string{"20260900"}, tick(98.5, 99.5, 10, 10))
	if tk.AdversePriceMovement() {
		t.Error("adverse movement after bid fell")
	}
}

func TestTickerImbalance(t *testing.T) {
	cache := NewTickCache()
	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeBest)
	tk := NewTicker(cache, o)

	if r := tk.LatestImbalanceRatio(); r != 0 {
		t.Errorf("imbalance with no tick = %v", r)
	}

	cache.SetTick("CRUDE", []string{"20260900"}, tick(99, 100, 30, 5))
	if r := tk.LatestImbalanceRatio(); r != 6.0 {
		t.Errorf("imbalance = %v, want 6", r)
	}
}
