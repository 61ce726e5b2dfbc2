package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"basis-tracker/go/pkg/indicators"
	"basis-tracker/go/pkg/persist"
	"basis-tracker/go/pkg/shared"
)

var seriesOrder = []string{persist.SeriesBasis, persist.SeriesSpot, persist.SeriesMark}

func seriesValue(series string, t shared.Tick) float64 {
	switch series {
	case persist.SeriesSpot:
		return t.Spot
	case persist.SeriesMark:
		return t.Mark
	default:
		return t.BasisBps
	}
}

// window folds the ticks of one symbol, series and timeframe bucket.
type window struct {
	Start      int64
	O, H, L, C float64
	NTicks     int64
}

func (w *window) update(v float64) {
	if w.NTicks == 0 {
		w.O, w.H, w.L, w.C = v, v, v, v
		w.NTicks = 1
		return
	}
	if v > w.H {
		w.H = v
	}
	if v < w.L {
		w.L = v
	}
	w.C = v
	w.NTicks++
}

type windowKey struct {
	tf     int
	symbol string
	series string
}

type indicatorParams struct {
	rsiLength                      int
	macdFast, macdSlow, macdSignal int
	depth                          int
}

// windows keeps the open bucket and the recent closed bars for every
// (timeframe, symbol, series).
type windows struct {
	tfs    []int
	params indicatorParams
	open   map[windowKey]*window
	closed map[windowKey][]shared.Candle

	// start of the newest closed bucket; ticks at or before it are late
	lastClosed map[windowKey]int64
	late       int64
}

func newWindows(tfs []int, params indicatorParams) *windows {
	if params.depth <= 0 {
		params.depth = 200
	}
	return &windows{
		tfs:    tfs,
		params: params,
		open:       make(map[windowKey]*window),
		closed:     make(map[windowKey][]shared.Candle),
		lastClosed: make(map[windowKey]int64),
	}
}

// add folds t into every timeframe and returns the bars its arrival closed.
func (ws *windows) add(t shared.Tick) []shared.BarTF {
	if !t.Finite() {
		return nil
	}
	sec := floorDiv(t.Ts, 1000)
	var out []shared.BarTF
	for _, tf := range ws.tfs {
		bucket := bucketStart(sec, tf)
		for _, series := range seriesOrder {
			k := windowKey{tf: tf, symbol: t.Symbol, series: series}
			if last, ok := ws.lastClosed[k]; ok && bucket <= last {
				ws.late++
				continue
			}
			win := ws.open[k]
			if win != nil && bucket < win.Start {
				ws.late++
				continue
			}
			if win != nil && win.Start != bucket {
				out = append(out, ws.close(k, win))
				win = nil
			}
			if win == nil {
				win = &window{Start: bucket}
				ws.open[k] = win
			}
			win.update(seriesValue(series, t))
		}
	}
	return out
}

// expire closes every window whose end plus grace has passed nowSec.
func (ws *windows) expire(nowSec, graceSec int64) []shared.BarTF {
	keys := make([]windowKey, 0, len(ws.open))
	for k, win := range ws.open {
		if nowSec >= win.Start+int64(k.tf*60)+graceSec {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.tf != b.tf {
			return a.tf < b.tf
		}
		if a.symbol != b.symbol {
			return a.symbol < b.symbol
		}
		return a.series < b.series
	})
	out := make([]shared.BarTF, 0, len(keys))
	for _, k := range keys {
		out = append(out, ws.close(k, ws.open[k]))
	}
	return out
}

// dropLate returns the late ticks counted since the previous call.
func (ws *windows) dropLate() int64 {
	n := ws.late
	ws.late = 0
	return n
}

func (ws *windows) active(tf int) int {
	n := 0
	for k := range ws.open {
		if k.tf == tf {
			n++
		}
	}
	return n
}

func (ws *windows) close(k windowKey, win *window) shared.BarTF {
	delete(ws.open, k)
	ws.lastClosed[k] = win.Start

	hist := append(ws.closed[k], shared.Candle{Time: win.Start, Open: win.O, High: win.H, Low: win.L, Close: win.C})
	if len(hist) > ws.params.depth {
		hist = hist[len(hist)-ws.params.depth:]
	}
	ws.closed[k] = hist

	bar := shared.BarTF{
		Symbol: k.symbol,
		Series: k.series,
		TF:     fmt.Sprintf("%dm", k.tf),
		TS:     win.Start,
		O:      win.O,
		H:      win.H,
		L:      win.L,
		C:      win.C,
		NTicks: win.NTicks,
	}
	if rsi := indicators.RSI(hist, ws.params.rsiLength); len(rsi) > 0 {
		if last := rsi[len(rsi)-1]; last.Time == win.Start {
			v := last.Value
			bar.RSI = &v
		}
	}
	if macd := indicators.MACD(hist, ws.params.macdFast, ws.params.macdSlow, ws.params.macdSignal); len(macd) > 0 {
		if last := macd[len(macd)-1]; last.Time == win.Start {
			m, s, h := last.MACD, last.Signal, last.Hist
			bar.MACD, bar.Signal, bar.MACDHst = &m, &s, &h
		}
	}
	return bar
}

func bucketStart(sec int64, tf int) int64 {
	width := int64(tf * 60)
	return floorDiv(sec, width) * width
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func parseTFs(raw string) []int {
	seen := map[int]bool{}
	out := []int{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "m"))
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err == nil && v > 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []int{1, 5, 15}
	}
	sort.Ints(out)
	return out
}
