package infra

import "testing"

func TestMetricsSnapshot(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderPlaced()
	m.RecordOrderFilled(1000)
	m.RecordOrderFilled(3000)
	m.RecordOrderCancelled()
	m.RecordHandlerPass()
	m.RecordError()
	m.IncrementAlgoSessions()
	m.SetCircuitState(true)

	snap := m.Snapshot()
	if snap.OrdersPlaced != 1 || snap.OrdersFilled != 2 || snap.OrdersCancelled != 1 {
		t.Errorf("order counters = %d/%d/%d", snap.OrdersPlaced, snap.OrdersFilled, snap.OrdersCancelled)
	}
	if snap.AvgFillLatencyNs != 2000 {
		t.Errorf("avg fill latency = %d, want 2000", snap.AvgFillLatencyNs)
	}
	if snap.ActiveAlgoSessions != 1 || !snap.CircuitOpen {
		t.Errorf("gauges = %d open=%v", snap.ActiveAlgoSessions, snap.CircuitOpen)
	}

	m.Reset()
	if snap := m.Snapshot(); snap.OrdersPlaced != 0 || snap.CircuitOpen {
		t.Error("Reset did not clear metrics")
	}
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := &Metrics{}
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				m.RecordTick()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if snap := m.Snapshot(); snap.TicksProcessed != 4000 {
		t.Errorf("ticks = %d, want 4000", snap.TicksProcessed)
	}
}
