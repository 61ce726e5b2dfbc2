package indicators

import (
	"math"

	"basis-tracker/go/pkg/shared"
)

// RSI is Wilder's relative strength index over candle closes. The first
// point sits at index length; fewer than length+1 candles yield no points.
func RSI(candles []shared.Candle, length int) []Point {
	if length < 1 {
		length = DefaultRSILength
	}
	if len(candles) < length+1 {
		return []Point{}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= length; i++ {
		d := candles[i].Close - candles[i-1].Close
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(length)
	avgLoss /= float64(length)

	out := make([]Point, 0, len(candles)-length)
	out = appendRSI(out, candles[length].Time, avgGain, avgLoss)
	for i := length + 1; i < len(candles); i++ {
		d := candles[i].Close - candles[i-1].Close
		avgGain = (avgGain*float64(length-1) + math.Max(0, d)) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + math.Max(0, -d)) / float64(length)
		out = appendRSI(out, candles[i].Time, avgGain, avgLoss)
	}
	return out
}

func appendRSI(out []Point, t int64, avgGain, avgLoss float64) []Point {
	var v float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		v = 50
	case avgLoss == 0:
		v = 100
	default:
		v = 100 - 100/(1+avgGain/avgLoss)
	}
	if !isFinite(v) {
		return out
	}
	return append(out, Point{Time: t, Value: v})
}
