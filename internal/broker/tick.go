package broker

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// VeryLargeImbalance is the sentinel imbalance ratio reported when the side
// quantity is zero and the true ratio is undefined.
const VeryLargeImbalance = 9999.0

// Tick is the current top of book for one tradeable contract.
type Tick struct {
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	BidSize int             `json:"bid_size"`
	AskSize int             `json:"ask_size"`
	Time    time.Time       `json:"time"`
}

// IsUsable checks that both sides of the book are present.
func (t Tick) IsUsable() bool {
	return !t.Bid.IsZero() && !t.Ask.IsZero()
}

// Mid returns the midpoint price.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// TickAnalysis is a tick viewed from the perspective of one trade
// direction. The side price is the touch we cross to trade immediately, the
// offside price is the far touch where a passive order would rest.
type TickAnalysis struct {
	SidePrice    decimal.Decimal
	MidPrice     decimal.Decimal
	OffsidePrice decimal.Decimal
	Spread       decimal.Decimal
	SideQty      int
	OffsideQty   int
	// ImbalanceRatio is offside quantity over side quantity. A large value
	// means the book is stacked behind the passive side and the price is
	// likely to move through it.
	ImbalanceRatio float64
}

// AnalyseTick views a tick from the given trade direction (+1 buy, -1
// sell).
func AnalyseTick(t Tick, direction int) TickAnalysis {
	a := TickAnalysis{
		MidPrice: t.Mid(),
		Spread:   t.Ask.Sub(t.Bid),
	}
	if direction >= 0 {
		a.SidePrice = t.Ask
		a.OffsidePrice = t.Bid
		a.SideQty = t.AskSize
		a.OffsideQty = t.BidSize
	} else {
		a.SidePrice = t.Bid
		a.OffsidePrice = t.Ask
		a.SideQty = t.BidSize
		a.OffsideQty = t.AskSize
	}
	if a.SideQty == 0 {
		a.ImbalanceRatio = VeryLargeImbalance
	} else {
		a.ImbalanceRatio = float64(a.OffsideQty) / float64(a.SideQty)
	}
	return a
}

// tickKey identifies a contract in the tick cache.
func tickKey(instrument string, contractDates []string) string {
	parts := append([]string{instrument}, contractDates...)
	return strings.Join(parts, "/")
}

// TickCache holds the latest tick per contract plus market close times.
// Written by the feed worker, read by algos and the sim broker.
type TickCache struct {
	mu         sync.RWMutex
	ticks      map[string]Tick
	closeTimes map[string]time.Time
}

func NewTickCache() *TickCache {
	return &TickCache{
		ticks:      make(map[string]Tick),
		closeTimes: make(map[string]time.Time),
	}
}

// SetTick stores the latest tick for a contract.
func (c *TickCache) SetTick(instrument string, contractDates []string, t Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[tickKey(instrument, contractDates)] = t
}

// CurrentTick returns the latest tick, if any has been seen.
func (c *TickCache) CurrentTick(instrument string, contractDates []string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[tickKey(instrument, contractDates)]
	return t, ok
}

// SetMarketClose records when the instrument's market closes next.
func (c *TickCache) SetMarketClose(instrument string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeTimes[instrument] = at
}

// SecondsOfTradingLeft returns time until market close. ErrMarketClosed
// when the market is already closed; instruments with no recorded close
// time are treated as always open.
func (c *TickCache) SecondsOfTradingLeft(instrument string) (time.Duration, error) {
	c.mu.RLock()
	closeAt, ok := c.closeTimes[instrument]
	c.mu.RUnlock()
	if !ok {
		return 24 * time.Hour, nil
	}
	left := time.Until(closeAt)
	if left <= 0 {
		return 0, domainMarketClosed(instrument)
	}
	return left, nil
}
