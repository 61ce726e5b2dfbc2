// Package indicators computes RSI and MACD over candle closes.
package indicators

import "math"

const (
	DefaultRSILength  = 14
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// Point is one indicator value at a candle time (seconds).
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// EMA returns one value per input. The average is seeded with the mean of the
// first period finite inputs and the seed lands on the index of the last of
// them, so a leading gap shifts the seed rather than polluting it. Everything
// before the seed is NaN, as is any later non-finite input, which leaves the
// running average untouched.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 1 {
		copy(out, values)
		return out
	}
	for i := range out {
		out[i] = math.NaN()
	}

	var sum float64
	count, seedAt := 0, -1
	for i := 0; i < len(values) && count < period; i++ {
		if isFinite(values[i]) {
			sum += values[i]
			count++
			seedAt = i
		}
	}
	if count < period {
		return out
	}

	k := 2 / float64(period+1)
	prev := sum / float64(period)
	out[seedAt] = prev
	for i := seedAt + 1; i < len(values); i++ {
		v := values[i]
		if !isFinite(v) {
			continue
		}
		prev = v*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
