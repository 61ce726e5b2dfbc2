package indicators

import (
	"math"
	"testing"

	"basis-tracker/go/pkg/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closes(vals ...float64) []shared.Candle {
	out := make([]shared.Candle, len(vals))
	for i, v := range vals {
		out[i] = shared.Candle{Time: int64(i), Open: v, High: v, Low: v, Close: v}
	}
	return out
}

func ramp(n int) []shared.Candle {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = 100 + float64(i)
	}
	return closes(vals...)
}

func TestEMASeedsWithSimpleAverage(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 5)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-12)
	assert.InDelta(t, 3.0, got[3], 1e-12)
	assert.InDelta(t, 4.0, got[4], 1e-12)
}

// The seed skips leading gaps and is placed where the first period finite
// values complete, not at index period-1. This differs from textbook EMA on
// purpose.
func TestEMANonStandardSeedSkipsGaps(t *testing.T) {
	got := EMA([]float64{math.NaN(), 2, 4, 6}, 2)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 3.0, got[2], 1e-12)
	assert.InDelta(t, 5.0, got[3], 1e-12)
}

func TestEMAGapAfterSeedKeepsState(t *testing.T) {
	got := EMA([]float64{2, 4, math.Inf(1), 6}, 2)
	assert.InDelta(t, 3.0, got[1], 1e-12)
	assert.True(t, math.IsNaN(got[2]))
	assert.InDelta(t, 5.0, got[3], 1e-12)
}

func TestEMANotEnoughValues(t *testing.T) {
	for _, v := range EMA([]float64{1, math.NaN()}, 2) {
		assert.True(t, math.IsNaN(v))
	}
	assert.Equal(t, []float64{1, 2}, EMA([]float64{1, 2}, 1))
}

func TestRSI(t *testing.T) {
	got := RSI(closes(1, 2, 1, 2), 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Time)
	assert.InDelta(t, 50.0, got[0].Value, 1e-9)
	assert.InDelta(t, 75.0, got[1].Value, 1e-9)
}

func TestRSIShortSeriesIsEmpty(t *testing.T) {
	got := RSI(ramp(14), DefaultRSILength)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Len(t, RSI(ramp(15), DefaultRSILength), 1)
}

func TestRSIFlatAndMonotonic(t *testing.T) {
	for _, p := range RSI(closes(5, 5, 5, 5, 5), 2) {
		assert.Equal(t, 50.0, p.Value)
	}
	rising := RSI(ramp(60), DefaultRSILength)
	require.NotEmpty(t, rising)
	for _, p := range rising {
		assert.LessOrEqual(t, p.Value, 100.0)
		assert.InDelta(t, 100.0, p.Value, 1e-9)
	}
}

func TestMACD(t *testing.T) {
	got := MACD(ramp(40), DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	require.Len(t, got, 7)
	assert.Equal(t, int64(33), got[0].Time)
	for _, p := range got {
		assert.InDelta(t, p.MACD-p.Signal, p.Hist, 1e-12)
		assert.Greater(t, p.MACD, 0.0)
	}
}

func TestMACDConstantSeriesIsZero(t *testing.T) {
	vals := make([]float64, 50)
	for i := range vals {
		vals[i] = 42
	}
	for _, p := range MACD(closes(vals...), 12, 26, 9) {
		assert.InDelta(t, 0, p.MACD, 1e-12)
		assert.InDelta(t, 0, p.Signal, 1e-12)
		assert.InDelta(t, 0, p.Hist, 1e-12)
	}
}

func TestMACDInsufficientSeries(t *testing.T) {
	assert.Empty(t, MACD(ramp(25), 12, 26, 9))
	// slow average exists but the signal never seeds
	assert.Empty(t, MACD(ramp(33), 12, 26, 9))
	assert.Len(t, MACD(ramp(34), 12, 26, 9), 1)
}
