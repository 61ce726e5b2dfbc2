package aggregate

import (
	"sort"
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"
)

const DefaultFlushWindow = 80 * time.Millisecond

// LinePoint is a per-tick line value indexed by admission order.
type LinePoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// Sink receives render updates. Calls are serialized and never made while
// the aggregator holds its state lock, so a sink may read the aggregator but
// must not push into it.
type Sink interface {
	SetLine(s Series, points []LinePoint)
	AppendLine(s Series, p LinePoint)
	SetCandles(s Series, candles []shared.Candle)
}

// Scheduler runs fn once after d, never synchronously, and returns a cancel
// function.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type Option func(*Aggregator)

func WithScheduler(s Scheduler) Option {
	return func(a *Aggregator) { a.schedule = s }
}

func WithFlushWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// Aggregator owns the retained ticks, their line series and the working
// candle buffers for the current timeframe.
type Aggregator struct {
	sink     Sink
	schedule Scheduler
	window   time.Duration

	// publish orders snapshot+sink delivery; always taken before mu
	publish sync.Mutex

	mu      sync.Mutex
	tf      Timeframe
	ticks   []shared.Tick
	lines   [3][]LinePoint
	candles [3][]shared.Candle
	pending bool
	cancel  func()
	closed  bool
}

func New(tf Timeframe, sink Sink, opts ...Option) *Aggregator {
	a := &Aggregator{
		sink:     sink,
		schedule: AfterFunc,
		window:   DefaultFlushWindow,
		tf:       tf,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.candles = BuildCandles(nil, tf.BucketMs())
	return a
}

// Backfill replaces all state with ticks and publishes it at once.
func (a *Aggregator) Backfill(ticks []shared.Tick) {
	sorted := make([]shared.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts < sorted[j].Ts })

	a.publish.Lock()
	defer a.publish.Unlock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cancelPendingLocked()
	a.ticks = a.ticks[:0]
	for i := range a.lines {
		a.lines[i] = nil
	}
	for _, t := range sorted {
		if !t.Finite() {
			continue
		}
		if n := len(a.ticks); n > 0 && t.Ts <= a.ticks[n-1].Ts {
			continue
		}
		a.ticks = append(a.ticks, t)
		idx := len(a.ticks) - 1
		for _, s := range AllSeries {
			a.lines[s] = append(a.lines[s], LinePoint{Index: idx, Value: s.Value(t)})
		}
	}
	a.candles = BuildCandles(a.ticks, a.tf.BucketMs())
	lines, candles := a.snapshotLocked()
	a.mu.Unlock()

	for _, s := range AllSeries {
		a.sink.SetLine(s, lines[s])
		a.sink.SetCandles(s, candles[s])
	}
}

// Push admits one tick. It reports false for ticks that are not wholly
// finite or do not advance the timestamp.
func (a *Aggregator) Push(t shared.Tick) bool {
	a.publish.Lock()
	defer a.publish.Unlock()
	a.mu.Lock()
	if a.closed || !t.Finite() {
		a.mu.Unlock()
		return false
	}
	if n := len(a.ticks); n > 0 && t.Ts <= a.ticks[n-1].Ts {
		a.mu.Unlock()
		return false
	}
	a.ticks = append(a.ticks, t)
	idx := len(a.ticks) - 1

	var appended [3]bool
	var points [3]LinePoint
	for _, s := range AllSeries {
		// a gap means an earlier append was lost; never splice
		if idx != len(a.lines[s]) {
			continue
		}
		points[s] = LinePoint{Index: idx, Value: s.Value(t)}
		a.lines[s] = append(a.lines[s], points[s])
		appended[s] = true
	}

	bucket := a.tf.BucketMs()
	for _, s := range AllSeries {
		a.candles[s] = UpdateCandles(a.candles[s], t.Ts, bucket, s.Value(t))
	}
	if !a.pending {
		a.pending = true
		a.cancel = a.schedule(a.window, a.flush)
	}
	a.mu.Unlock()

	for _, s := range AllSeries {
		if appended[s] {
			a.sink.AppendLine(s, points[s])
		}
	}
	return true
}

// SetTimeframe rebuilds the candles for tf from the retained ticks and
// publishes them immediately.
func (a *Aggregator) SetTimeframe(tf Timeframe) {
	a.publish.Lock()
	defer a.publish.Unlock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cancelPendingLocked()
	a.tf = tf
	a.candles = BuildCandles(a.ticks, tf.BucketMs())
	_, candles := a.snapshotLocked()
	a.mu.Unlock()

	for _, s := range AllSeries {
		a.sink.SetCandles(s, candles[s])
	}
}

func (a *Aggregator) Timeframe() Timeframe {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tf
}

func (a *Aggregator) Candles(s Series) []shared.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.Candle(nil), a.candles[s]...)
}

func (a *Aggregator) Lines(s Series) []LinePoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]LinePoint(nil), a.lines[s]...)
}

func (a *Aggregator) Ticks() []shared.Tick {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.Tick(nil), a.ticks...)
}

// Close cancels a pending flush. Later calls are no-ops.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.cancelPendingLocked()
}

// flush publishes whatever the candle buffers hold when it fires. A rebuild
// that overtakes it cancels it, and a rebuild that comes after it publishes
// after it.
func (a *Aggregator) flush() {
	a.publish.Lock()
	defer a.publish.Unlock()
	a.mu.Lock()
	if !a.pending || a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = false
	a.cancel = nil
	_, candles := a.snapshotLocked()
	a.mu.Unlock()

	for _, s := range AllSeries {
		a.sink.SetCandles(s, candles[s])
	}
}

func (a *Aggregator) cancelPendingLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.pending = false
}

func (a *Aggregator) snapshotLocked() ([3][]LinePoint, [3][]shared.Candle) {
	var lines [3][]LinePoint
	var candles [3][]shared.Candle
	for _, s := range AllSeries {
		lines[s] = append([]LinePoint{}, a.lines[s]...)
		candles[s] = append([]shared.Candle{}, a.candles[s]...)
	}
	return lines, candles
}
