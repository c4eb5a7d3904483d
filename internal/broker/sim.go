package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
	"futures_oms/internal/infra"
)

// SimBroker is an in-process broker: fills are simulated from the tick
// cache and nothing leaves the process. It backs paper trading and the
// execution tests. Submission runs behind a circuit breaker like a real
// gateway would.
type SimBroker struct {
	name    string
	account string
	ticks   *TickCache
	breaker *infra.CircuitBreaker
	log     *slog.Logger

	mu         sync.Mutex
	nextTempID int
	live       map[string]*simOrder

	// CancelDelay postpones cancel confirmation, so tests can exercise the
	// cancel polling protocol. Zero confirms on the first poll.
	CancelDelay time.Duration
	// SubmitErr forces submission failures.
	SubmitErr error
}

type simOrder struct {
	order           *domain.BrokerOrder
	cancelRequested time.Time
	cancelled       bool
}

func NewSimBroker(name, account string, ticks *TickCache, log *slog.Logger) *SimBroker {
	return &SimBroker{
		name:    name,
		account: account,
		ticks:   ticks,
		breaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("sim_broker")),
		log:     log.With("broker", name),
		live:    make(map[string]*simOrder),
	}
}

func (s *SimBroker) Name() string    { return s.name }
func (s *SimBroker) Account() string { return s.account }

// Submit places the order with the simulated exchange. Market orders fill
// immediately at the side price; limit orders fill only when the limit
// crosses the current side price, and rest otherwise.
func (s *SimBroker) Submit(ctx context.Context, order *domain.BrokerOrder) (*OrderControl, error) {
	if !s.breaker.Allow() {
		infra.GlobalMetrics.SetCircuitState(true)
		return nil, domain.NewBrokerError("submit", fmt.Errorf("circuit breaker open"))
	}
	infra.GlobalMetrics.SetCircuitState(false)

	if s.SubmitErr != nil {
		s.breaker.RecordFailure()
		infra.GlobalMetrics.RecordError()
		return nil, domain.NewBrokerError("submit", s.SubmitErr)
	}

	tick, ok := s.ticks.CurrentTick(order.Instrument, order.ContractDates)
	if !ok || !tick.IsUsable() {
		s.breaker.RecordFailure()
		return nil, domain.NewBrokerError("submit",
			fmt.Errorf("no usable tick for %s", order.Key))
	}

	s.mu.Lock()
	s.nextTempID++
	tempID := fmt.Sprintf("sim-%d", s.nextTempID)
	s.mu.Unlock()

	analysis := AnalyseTick(tick, order.Trade.Sign())

	order.Broker = s.name
	order.BrokerAccount = s.account
	order.BrokerTempID = tempID
	order.SubmitTime = time.Now()
	order.SidePrice = domain.DecimalPtr(analysis.SidePrice)
	order.MidPrice = domain.DecimalPtr(analysis.MidPrice)
	order.OffsidePrice = domain.DecimalPtr(analysis.OffsidePrice)

	liveCopy := order.Clone().(*domain.BrokerOrder)
	s.mu.Lock()
	s.live[tempID] = &simOrder{order: liveCopy}
	s.mu.Unlock()

	s.fillIfMarketable(liveCopy, analysis)

	s.breaker.RecordSuccess()
	infra.GlobalMetrics.RecordOrderPlaced()
	s.log.Info("submitted order", "temp_id", tempID, "key", order.Key,
		"trade", fmt.Sprint(order.Trade), "order_type", string(order.Type))

	ticker := NewTicker(s.ticks, order)
	ticker.SetReference()
	return NewOrderControl(order, ticker), nil
}

func (s *SimBroker) fillIfMarketable(o *domain.BrokerOrder, analysis TickAnalysis) {
	fillPrice := analysis.SidePrice
	switch o.Type {
	case domain.OrderTypeLimit:
		if o.LimitPrice == nil {
			return
		}
		marketable := (o.Trade.Sign() >= 0 && o.LimitPrice.GreaterThanOrEqual(analysis.SidePrice)) ||
			(o.Trade.Sign() < 0 && o.LimitPrice.LessThanOrEqual(analysis.SidePrice))
		if !marketable {
			return
		}
		fillPrice = *o.LimitPrice
	case domain.OrderTypeSnapMid:
		fillPrice = analysis.MidPrice
	case domain.OrderTypeSnapPrime:
		fillPrice = analysis.OffsidePrice
	}
	if err := o.ApplyFill(o.Trade.Copy(), &fillPrice, time.Now()); err != nil {
		s.log.Error("sim fill rejected", "temp_id", o.BrokerTempID, "error", err)
	}
}

// RecordFill applies a broker-side cumulative fill to a live order. Tests
// script partial fills through this.
func (s *SimBroker) RecordFill(tempID string, fill domain.TradeQuantity, price decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.live[tempID]
	if !ok {
		return fmt.Errorf("record fill %s: %w", tempID, domain.ErrMissingOrder)
	}
	return so.order.ApplyFill(fill, &price, at)
}

// Cancel requests cancellation. Confirmation happens asynchronously and is
// observed through IsCancelled.
func (s *SimBroker) Cancel(ctx context.Context, ctrl *OrderControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.live[ctrl.Order.BrokerTempID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", ctrl.Order.BrokerTempID, domain.ErrMissingOrder)
	}
	if so.cancelRequested.IsZero() {
		so.cancelRequested = time.Now()
	}
	return nil
}

// IsCancelled polls for cancel confirmation.
func (s *SimBroker) IsCancelled(ctx context.Context, ctrl *OrderControl) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.live[ctrl.Order.BrokerTempID]
	if !ok {
		return false, fmt.Errorf("is cancelled %s: %w", ctrl.Order.BrokerTempID, domain.ErrMissingOrder)
	}
	if so.cancelled {
		return true, nil
	}
	if so.cancelRequested.IsZero() {
		return false, nil
	}
	if time.Since(so.cancelRequested) >= s.CancelDelay {
		so.cancelled = true
		ctrl.MarkCancelled()
		infra.GlobalMetrics.RecordOrderCancelled()
		return true, nil
	}
	return false, nil
}

// ModifyLimitPrice repegs a resting limit order, filling it when the new
// price is marketable.
func (s *SimBroker) ModifyLimitPrice(ctx context.Context, ctrl *OrderControl, price decimal.Decimal) error {
	s.mu.Lock()
	so, ok := s.live[ctrl.Order.BrokerTempID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("modify %s: %w", ctrl.Order.BrokerTempID, domain.ErrMissingOrder)
	}
	if so.cancelled {
		return fmt.Errorf("modify %s: order cancelled: %w", ctrl.Order.BrokerTempID, domain.ErrCannotModify)
	}
	so.order.LimitPrice = domain.DecimalPtr(price)
	ctrl.Order.LimitPrice = domain.DecimalPtr(price)

	tick, okTick := s.ticks.CurrentTick(so.order.Instrument, so.order.ContractDates)
	if okTick && tick.IsUsable() {
		s.fillIfMarketable(so.order, AnalyseTick(tick, so.order.Trade.Sign()))
	}
	return nil
}

// MatchLocalToLive returns the simulated exchange's view of a stored order.
func (s *SimBroker) MatchLocalToLive(ctx context.Context, order *domain.BrokerOrder) (*domain.BrokerOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.live[order.BrokerTempID]
	if !ok {
		return nil, false, nil
	}
	return so.order.Clone().(*domain.BrokerOrder), true, nil
}

// LiveOrders lists the simulated exchange's current orders.
func (s *SimBroker) LiveOrders(ctx context.Context) ([]*domain.BrokerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.BrokerOrder, 0, len(s.live))
	for _, so := range s.live {
		out = append(out, so.order.Clone().(*domain.BrokerOrder))
	}
	return out, nil
}
