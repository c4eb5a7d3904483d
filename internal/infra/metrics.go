package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersPlaced    atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersCancelled atomic.Uint64
	ticksProcessed  atomic.Uint64
	handlerPasses   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking for algo fills
	fillLatencySumNs atomic.Int64
	fillLatencyCount atomic.Uint64

	// Gauges
	activeAlgoSessions atomic.Int32
	activeConnections  atomic.Int32
	circuitOpen        atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordOrderPlaced records a broker order submission.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderFilled records a completed fill with time from submission.
func (m *Metrics) RecordOrderFilled(latencyNs int64) {
	m.ordersFilled.Add(1)
	m.fillLatencySumNs.Add(latencyNs)
	m.fillLatencyCount.Add(1)
}

// RecordOrderCancelled records a cancelled broker order.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordTick records one processed market data tick.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordHandlerPass records one completed stack-handler pass.
func (m *Metrics) RecordHandlerPass() {
	m.handlerPasses.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementAlgoSessions increments the live algo session gauge.
func (m *Metrics) IncrementAlgoSessions() {
	m.activeAlgoSessions.Add(1)
}

// DecrementAlgoSessions decrements the live algo session gauge.
func (m *Metrics) DecrementAlgoSessions() {
	m.activeAlgoSessions.Add(-1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersPlaced       uint64
	OrdersFilled       uint64
	OrdersCancelled    uint64
	TicksProcessed     uint64
	HandlerPasses      uint64
	ErrorsTotal        uint64
	AvgFillLatencyNs   int64
	ActiveAlgoSessions int32
	ActiveConnections  int32
	CircuitOpen        bool
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.fillLatencyCount.Load()
	if count > 0 {
		avgLatency = m.fillLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersPlaced:       m.ordersPlaced.Load(),
		OrdersFilled:       m.ordersFilled.Load(),
		OrdersCancelled:    m.ordersCancelled.Load(),
		TicksProcessed:     m.ticksProcessed.Load(),
		HandlerPasses:      m.handlerPasses.Load(),
		ErrorsTotal:        m.errorsTotal.Load(),
		AvgFillLatencyNs:   avgLatency,
		ActiveAlgoSessions: m.activeAlgoSessions.Load(),
		ActiveConnections:  m.activeConnections.Load(),
		CircuitOpen:        m.circuitOpen.Load() == 1,
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersPlaced.Store(0)
	m.ordersFilled.Store(0)
	m.ordersCancelled.Store(0)
	m.ticksProcessed.Store(0)
	m.handlerPasses.Store(0)
	m.errorsTotal.Store(0)
	m.fillLatencySumNs.Store(0)
	m.fillLatencyCount.Store(0)
	m.activeAlgoSessions.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
