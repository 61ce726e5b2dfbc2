// Package basis computes the spread between a derivative mark price and spot.
package basis

import "basis-tracker/go/pkg/shared"

// ComputeBps returns (mark-spot)/spot in basis points, or 0 when spot is not
// positive.
func ComputeBps(spot, mark float64) float64 {
	if !(spot > 0) {
		return 0
	}
	return (mark - spot) / spot * 10000
}

func NewTick(symbol string, spot, mark float64, tsMs int64) shared.Tick {
	return shared.Tick{
		Symbol:   symbol,
		Spot:     spot,
		Mark:     mark,
		BasisBps: ComputeBps(spot, mark),
		Ts:       tsMs,
	}
}
