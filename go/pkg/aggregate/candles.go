// Package aggregate turns a stream of basis ticks into per-series line
// points and bucketed OHLC candles for rendering.
package aggregate

import (
	"fmt"
	"math"
	"strings"

	"basis-tracker/go/pkg/shared"
)

type Timeframe string

const (
	TimeframeTick Timeframe = "tick"
	Timeframe1s   Timeframe = "1s"
	Timeframe1m   Timeframe = "1m"
)

// BucketMs is the candle width. Candles cannot be narrower than a second,
// so "tick" shares the 1s bucket.
func (tf Timeframe) BucketMs() int64 {
	if tf == Timeframe1m {
		return 60_000
	}
	return 1_000
}

func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case TimeframeTick, Timeframe1s, Timeframe1m:
		return tf, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Series selects one derived value of a tick.
type Series int

const (
	SeriesBasis Series = iota
	SeriesSpot
	SeriesMark
)

var AllSeries = [3]Series{SeriesBasis, SeriesSpot, SeriesMark}

func (s Series) String() string {
	switch s {
	case SeriesBasis:
		return "basis"
	case SeriesSpot:
		return "spot"
	case SeriesMark:
		return "mark"
	default:
		return "unknown"
	}
}

func (s Series) Value(t shared.Tick) float64 {
	switch s {
	case SeriesSpot:
		return t.Spot
	case SeriesMark:
		return t.Mark
	default:
		return t.BasisBps
	}
}

// BucketTime is the candle time in seconds for a tick at tsMs.
func BucketTime(tsMs, bucketMs int64) int64 {
	k := tsMs / bucketMs
	if tsMs%bucketMs != 0 && tsMs < 0 {
		k--
	}
	return k * bucketMs / 1000
}

// UpdateCandles folds price into the last candle when it shares the bucket,
// otherwise appends a new one. Non-finite prices are ignored.
func UpdateCandles(buf []shared.Candle, tsMs, bucketMs int64, price float64) []shared.Candle {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return buf
	}
	t := BucketTime(tsMs, bucketMs)
	if n := len(buf); n > 0 && buf[n-1].Time == t {
		c := &buf[n-1]
		c.High = math.Max(c.High, price)
		c.Low = math.Min(c.Low, price)
		c.Close = price
		return buf
	}
	return append(buf, shared.Candle{Time: t, Open: price, High: price, Low: price, Close: price})
}

// BuildCandles rebuilds every series from ticks in one pass. ticks must be
// ascending by Ts.
func BuildCandles(ticks []shared.Tick, bucketMs int64) [3][]shared.Candle {
	var out [3][]shared.Candle
	for i := range out {
		out[i] = []shared.Candle{}
	}
	for _, t := range ticks {
		for _, s := range AllSeries {
			out[s] = UpdateCandles(out[s], t.Ts, bucketMs, s.Value(t))
		}
	}
	return out
}
