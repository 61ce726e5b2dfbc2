package indicators

import "basis-tracker/go/pkg/shared"

type MACDPoint struct {
	Time   int64   `json:"time"`
	MACD   float64 `json:"macd"`
	Signal float64 `json:"signal"`
	Hist   float64 `json:"hist"`
}

// MACD emits a point wherever the fast, slow and signal averages all exist.
func MACD(candles []shared.Candle, fast, slow, signal int) []MACDPoint {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	var line []float64
	var times []int64
	for i := range closes {
		if isFinite(emaFast[i]) && isFinite(emaSlow[i]) {
			line = append(line, emaFast[i]-emaSlow[i])
			times = append(times, candles[i].Time)
		}
	}

	out := []MACDPoint{}
	if len(line) == 0 {
		return out
	}
	sig := EMA(line, signal)
	for j, m := range line {
		if !isFinite(m) || !isFinite(sig[j]) {
			continue
		}
		out = append(out, MACDPoint{Time: times[j], MACD: m, Signal: sig[j], Hist: m - sig[j]})
	}
	return out
}
