package broker

import (
	"sync"
	"time"

	"futures_oms/internal/domain"
)

// OrderControl is the handle to one live broker order. The embedded order
// is the broker's evolving view; algos read it during Manage and write the
// final state back to the stack when the session ends.
type OrderControl struct {
	mu sync.Mutex

	Order       *domain.BrokerOrder
	Ticker      *Ticker
	SubmittedAt time.Time

	lastMessage time.Time
	cancelled   bool
}

func NewOrderControl(order *domain.BrokerOrder, ticker *Ticker) *OrderControl {
	now := time.Now()
	return &OrderControl{
		Order:       order,
		Ticker:      ticker,
		SubmittedAt: now,
		lastMessage: now,
	}
}

// MessageRequired checks whether the heartbeat interval has elapsed since
// the last logged message, and if so resets the timer. Used by algo manage
// loops to emit periodic status lines without flooding.
func (c *OrderControl) MessageRequired(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastMessage) < interval {
		return false
	}
	c.lastMessage = time.Now()
	return true
}

// Age returns time since submission.
func (c *OrderControl) Age() time.Duration {
	return time.Since(c.SubmittedAt)
}

// MarkCancelled records a confirmed broker-side cancellation.
func (c *OrderControl) MarkCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Cancelled checks whether the broker confirmed cancellation.
func (c *OrderControl) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
