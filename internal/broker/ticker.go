package broker

import (
	"futures_oms/internal/domain"
)

// Ticker follows the market for one order, keeping a reference tick taken
// at submission so later ticks can be judged for adverse movement.
type Ticker struct {
	source        TickSource
	instrument    string
	contractDates []string
	direction     int

	reference    TickAnalysis
	hasReference bool
}

// NewTicker builds a ticker for the order's contract, viewed from the
// order's trade direction.
func NewTicker(source TickSource, o *domain.BrokerOrder) *Ticker {
	return &Ticker{
		source:        source,
		instrument:    o.Instrument,
		contractDates: o.ContractDates,
		direction:     o.Trade.Sign(),
	}
}

// CurrentTick returns the latest tick for the followed contract.
func (t *Ticker) CurrentTick() (Tick, bool) {
	return t.source.CurrentTick(t.instrument, t.contractDates)
}

// CurrentAnalysis returns the latest tick viewed from the order direction.
func (t *Ticker) CurrentAnalysis() (TickAnalysis, bool) {
	tick, ok := t.CurrentTick()
	if !ok || !tick.IsUsable() {
		return TickAnalysis{}, false
	}
	return AnalyseTick(tick, t.direction), true
}

// SetReference captures the current tick as the benchmark for adverse
// movement checks. Returns false when no usable tick is available.
func (t *Ticker) SetReference() bool {
	a, ok := t.CurrentAnalysis()
	if !ok {
		return false
	}
	t.reference = a
	t.hasReference = true
	return true
}

// Reference returns the benchmark analysis captured at submission.
func (t *Ticker) Reference() (TickAnalysis, bool) {
	return t.reference, t.hasReference
}

// AdversePriceMovement checks whether the passive side has moved against
// the order since the reference was taken: for a buy, the bid rising above
// the reference bid; for a sell, the ask falling below.
func (t *Ticker) AdversePriceMovement() bool {
	if !t.hasReference {
		return false
	}
	a, ok := t.CurrentAnalysis()
	if !ok {
		return false
	}
	if t.direction >= 0 {
		return a.OffsidePrice.GreaterThan(t.reference.OffsidePrice)
	}
	return a.OffsidePrice.LessThan(t.reference.OffsidePrice)
}

// LatestImbalanceRatio returns the imbalance of the latest tick, viewed
// from the order direction. When no tick is available the ratio is zero,
// which never trips an imbalance threshold.
func (t *Ticker) LatestImbalanceRatio() float64 {
	a, ok := t.CurrentAnalysis()
	if !ok {
		return 0
	}
	return a.ImbalanceRatio
}
