package domain

import "math"

// TradeQuantity is a signed per-leg contract quantity vector.
// Single-leg orders have length 1; calendar spread orders one entry per leg,
// insertion order is leg order.
type TradeQuantity []int

// NewTradeQuantity builds a quantity vector, one argument per leg.
func NewTradeQuantity(qty ...int) TradeQuantity {
	return TradeQuantity(qty)
}

// Zero returns a zero vector with the same leg count.
func (tq TradeQuantity) Zero() TradeQuantity {
	return make(TradeQuantity, len(tq))
}

// IsZero checks if every leg is zero.
func (tq TradeQuantity) IsZero() bool {
	for _, q := range tq {
		if q != 0 {
			return false
		}
	}
	return true
}

// Equal checks per-leg equality. Vectors of different length are never equal.
func (tq TradeQuantity) Equal(other TradeQuantity) bool {
	if len(tq) != len(other) {
		return false
	}
	for i, q := range tq {
		if q != other[i] {
			return false
		}
	}
	return true
}

// Add returns the per-leg sum. Leg counts must match.
func (tq TradeQuantity) Add(other TradeQuantity) TradeQuantity {
	result := make(TradeQuantity, len(tq))
	for i, q := range tq {
		result[i] = q + other[i]
	}
	return result
}

// Sub returns the per-leg difference. Leg counts must match.
func (tq TradeQuantity) Sub(other TradeQuantity) TradeQuantity {
	result := make(TradeQuantity, len(tq))
	for i, q := range tq {
		result[i] = q - other[i]
	}
	return result
}

// SignEqual checks that every leg has the same sign as the other vector's leg.
func (tq TradeQuantity) SignEqual(other TradeQuantity) bool {
	if len(tq) != len(other) {
		return false
	}
	for i, q := range tq {
		if sign(q) != sign(other[i]) {
			return false
		}
	}
	return true
}

// FillFits reports whether a proposed cumulative fill is consistent with this
// desired trade: per leg, |fill| <= |trade| and fill*trade >= 0 (no over-fill,
// no sign flip).
func (tq TradeQuantity) FillFits(proposedFill TradeQuantity) bool {
	if len(tq) != len(proposedFill) {
		return false
	}
	for i, q := range tq {
		f := proposedFill[i]
		if abs(f) > abs(q) || f*q < 0 {
			return false
		}
	}
	return true
}

// TotalAbs is the sum of absolute leg quantities.
func (tq TradeQuantity) TotalAbs() int {
	total := 0
	for _, q := range tq {
		total += abs(q)
	}
	return total
}

// Sum is the net signed quantity across legs.
func (tq TradeQuantity) Sum() int {
	total := 0
	for _, q := range tq {
		total += q
	}
	return total
}

// Sign is the direction of the first leg: +1 buy, -1 sell, 0 flat.
func (tq TradeQuantity) Sign() int {
	if len(tq) == 0 {
		return 0
	}
	return sign(tq[0])
}

// SingleLeg returns the quantity of a one-leg vector. Spread vectors return
// false.
func (tq TradeQuantity) SingleLeg() (int, bool) {
	if len(tq) != 1 {
		return 0, false
	}
	return tq[0], true
}

// Copy returns an independent copy of the vector.
func (tq TradeQuantity) Copy() TradeQuantity {
	result := make(TradeQuantity, len(tq))
	copy(result, tq)
	return result
}

// ReduceSmallestLegToMax cuts the vector down proportionally so the smallest
// absolute leg is maxSize, keeping leg ratios exact.
// Eg [-2,4,-2] with maxSize 1 becomes [-1,2,-1]; maxSize 0 zeroes the vector.
// If the vector already satisfies the limit, or scaling would break the
// integer leg ratio, it is returned unchanged.
func (tq TradeQuantity) ReduceSmallestLegToMax(maxSize int) TradeQuantity {
	if maxSize == 0 {
		return tq.Zero()
	}

	smallest := tq.smallestAbsLeg()
	if smallest == 0 || smallest <= maxSize {
		return tq.Copy()
	}

	ratio := float64(maxSize) / float64(smallest)
	return tq.applyExactRatio(ratio)
}

// ReduceToAbsLimitPerLeg constrains the vector so no leg exceeds the matching
// absolute limit, scaling all legs by the binding ratio to keep proportions.
// A zero leg anywhere makes proportional scaling impossible and yields the
// zero vector.
func (tq TradeQuantity) ReduceToAbsLimitPerLeg(absLimits []int) TradeQuantity {
	smallest := tq.smallestAbsLeg()
	if smallest == 0 {
		return tq.Zero()
	}

	minRatio := 1.0
	for i, q := range tq {
		r := float64(min(abs(q), absLimits[i])) / float64(abs(q))
		if r < minRatio {
			minRatio = r
		}
	}

	newSmallest := math.Floor(float64(smallest) * minRatio)
	ratio := newSmallest / float64(smallest)
	reduced := tq.applyExactRatio(ratio)
	if ratio < 1.0 && reduced.Equal(tq) {
		// ratio did not divide the legs exactly
		return tq.Zero()
	}
	return reduced
}

// ScaleToTotalAbsLimit shrinks the vector so its total absolute quantity does
// not exceed maxAbsQty, preserving per-leg proportions.
func (tq TradeQuantity) ScaleToTotalAbsLimit(maxAbsQty int) TradeQuantity {
	currentAbs := tq.TotalAbs()
	if currentAbs == 0 {
		return tq.Copy()
	}
	if maxAbsQty == 0 {
		return tq.Zero()
	}

	ratio := float64(maxAbsQty) / float64(currentAbs)
	if ratio >= 1.0 {
		return tq.Copy()
	}

	limits := make([]int, len(tq))
	for i, q := range tq {
		limits[i] = int(math.Floor(ratio * math.Abs(float64(q))))
	}
	return tq.ReduceToAbsLimitPerLeg(limits)
}

func (tq TradeQuantity) smallestAbsLeg() int {
	if len(tq) == 0 {
		return 0
	}
	smallest := abs(tq[0])
	for _, q := range tq[1:] {
		if abs(q) < smallest {
			smallest = abs(q)
		}
	}
	return smallest
}

// applyExactRatio scales each leg by ratio, returning the original vector
// when the result would not be an exact integer scaling.
func (tq TradeQuantity) applyExactRatio(ratio float64) TradeQuantity {
	result := make(TradeQuantity, len(tq))
	for i, q := range tq {
		scaled := float64(q) * ratio
		truncated := int(scaled)
		if math.Abs(scaled-float64(truncated)) > 0.0001 {
			return tq.Copy()
		}
		result[i] = truncated
	}
	return result
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
