package aggregate

import (
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"
)

const (
	DefaultTapeDepth  = 200
	DefaultTapeWindow = 100 * time.Millisecond
)

// TapeSink receives both sides of the tape, oldest first.
type TapeSink func(spot, futures []shared.Trade)

// TradeTape keeps the most recent trades per market and publishes them on a
// coalescing window.
type TradeTape struct {
	sink     TapeSink
	depth    int
	window   time.Duration
	schedule Scheduler

	mu      sync.Mutex
	spot    []shared.Trade
	futures []shared.Trade
	pending bool
	cancel  func()
	closed  bool
}

func NewTradeTape(sink TapeSink, depth int, schedule Scheduler) *TradeTape {
	if depth <= 0 {
		depth = DefaultTapeDepth
	}
	if schedule == nil {
		schedule = AfterFunc
	}
	return &TradeTape{sink: sink, depth: depth, window: DefaultTapeWindow, schedule: schedule}
}

// Add records a trade. Trades with unknown type or non-positive price or
// quantity are ignored.
func (tt *TradeTape) Add(t shared.Trade) bool {
	if !(t.Price > 0) || !(t.Qty > 0) {
		return false
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.closed {
		return false
	}
	switch t.Type {
	case shared.SpotTrade:
		tt.spot = trim(append(tt.spot, t), tt.depth)
	case shared.FuturesTrade:
		tt.futures = trim(append(tt.futures, t), tt.depth)
	default:
		return false
	}
	if !tt.pending {
		tt.pending = true
		tt.cancel = tt.schedule(tt.window, tt.flush)
	}
	return true
}

func (tt *TradeTape) Snapshot() (spot, futures []shared.Trade) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]shared.Trade{}, tt.spot...), append([]shared.Trade{}, tt.futures...)
}

func (tt *TradeTape) Close() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.closed = true
	tt.pending = false
	if tt.cancel != nil {
		tt.cancel()
		tt.cancel = nil
	}
}

func (tt *TradeTape) flush() {
	tt.mu.Lock()
	if !tt.pending || tt.closed {
		tt.mu.Unlock()
		return
	}
	tt.pending = false
	tt.cancel = nil
	spot := append([]shared.Trade{}, tt.spot...)
	futures := append([]shared.Trade{}, tt.futures...)
	tt.mu.Unlock()

	if tt.sink != nil {
		tt.sink(spot, futures)
	}
}

func trim(buf []shared.Trade, depth int) []shared.Trade {
	if len(buf) <= depth {
		return buf
	}
	return append(buf[:0], buf[len(buf)-depth:]...)
}
