package syncbus

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	Epsilon = 0.01

	LineEmitInterval   = 16 * time.Millisecond
	CandleEmitInterval = 80 * time.Millisecond
)

// Chart is the view being kept in step. SetVisibleRange may report the
// resulting change back through OnRangeChange synchronously.
type Chart interface {
	VisibleRange() (Range, bool)
	SetVisibleRange(Range)
	SetCrosshair(time int64)
	ClearCrosshair()
}

// Scheduler runs fn once after d, never synchronously, and returns a cancel
// function.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type Options struct {
	MinEmitInterval time.Duration
	Schedule        Scheduler
	Now             func() time.Time
}

// Binding connects one Chart to a bus key in both directions.
type Binding struct {
	bus      *Bus
	key      string
	chart    Chart
	schedule Scheduler
	now      func() time.Time
	limiter  *rate.Limiter

	mu            sync.Mutex
	applying      bool
	lastEmitted   *Range
	lastCrosshair *Crosshair
	trailing      *Range
	trailingStop  func()
	guardStop     func()
	guardSeq      uint64
	closed        bool
	unsubs        []func()
}

// Bind attaches chart to key and adopts any range and crosshair already
// published under it.
func Bind(bus *Bus, key string, chart Chart, opts Options) *Binding {
	if opts.MinEmitInterval <= 0 {
		opts.MinEmitInterval = CandleEmitInterval
	}
	if opts.Schedule == nil {
		opts.Schedule = AfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Binding{
		bus:      bus,
		key:      key,
		chart:    chart,
		schedule: opts.Schedule,
		now:      opts.Now,
		limiter:  rate.NewLimiter(rate.Every(opts.MinEmitInterval), 1),
	}
	if r, ok := bus.Range(key); ok {
		b.applyRange(r)
	}
	if c, ok := bus.Crosshair(key); ok {
		b.applyCrosshair(c)
	}
	b.unsubs = append(b.unsubs,
		bus.SubscribeRange(key, b.applyRange),
		bus.SubscribeCrosshair(key, b.applyCrosshair),
	)
	return b
}

// OnRangeChange is called when the chart's own view moves.
func (b *Binding) OnRangeChange(r Range) {
	b.mu.Lock()
	if b.closed || b.applying || near(b.lastEmitted, r) {
		b.mu.Unlock()
		return
	}
	now := b.now()
	if b.trailing == nil && b.limiter.AllowN(now, 1) {
		b.lastEmitted = &r
		b.mu.Unlock()
		b.bus.PublishRange(b.key, r)
		return
	}
	b.trailing = &r
	if b.trailingStop == nil {
		res := b.limiter.ReserveN(now, 1)
		cancel := b.schedule(res.DelayFrom(now), b.emitTrailing)
		b.trailingStop = func() {
			cancel()
			res.CancelAt(b.now())
		}
	}
	b.mu.Unlock()
}

// OnCrosshairMove is called when the pointer moves over the chart.
func (b *Binding) OnCrosshairMove(c Crosshair) {
	if !c.Valid {
		c = Crosshair{}
	}
	b.mu.Lock()
	if b.closed || b.applying || (b.lastCrosshair != nil && *b.lastCrosshair == c) {
		b.mu.Unlock()
		return
	}
	b.lastCrosshair = &c
	b.mu.Unlock()
	b.bus.PublishCrosshair(b.key, c)
}

// Close unsubscribes and cancels any throttled range or pending guard reset.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.trailingStop != nil {
		b.trailingStop()
		b.trailingStop = nil
	}
	b.trailing = nil
	if b.guardStop != nil {
		b.guardStop()
		b.guardStop = nil
	}
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

func (b *Binding) emitTrailing() {
	b.mu.Lock()
	r := b.trailing
	b.trailing = nil
	b.trailingStop = nil
	if b.closed || r == nil || near(b.lastEmitted, *r) {
		b.mu.Unlock()
		return
	}
	b.lastEmitted = r
	b.mu.Unlock()
	b.bus.PublishRange(b.key, *r)
}

// applyRange moves the chart to a range published elsewhere. The applied
// range counts as emitted, so the chart reporting it back is a no-op.
func (b *Binding) applyRange(r Range) {
	b.mu.Lock()
	if b.closed || near(b.lastEmitted, r) {
		b.mu.Unlock()
		return
	}
	b.lastEmitted = &r
	if b.trailingStop != nil {
		b.trailingStop()
		b.trailingStop = nil
	}
	b.trailing = nil
	b.beginApplyLocked()
	b.mu.Unlock()

	b.chart.SetVisibleRange(r)
}

func (b *Binding) applyCrosshair(c Crosshair) {
	b.mu.Lock()
	if b.closed || (b.lastCrosshair != nil && *b.lastCrosshair == c) {
		b.mu.Unlock()
		return
	}
	b.lastCrosshair = &c
	b.beginApplyLocked()
	b.mu.Unlock()

	if c.Valid {
		b.chart.SetCrosshair(c.Time)
	} else {
		b.chart.ClearCrosshair()
	}
}

// beginApplyLocked raises the guard until the next scheduler tick so the
// chart's own change notification is not published back.
func (b *Binding) beginApplyLocked() {
	b.applying = true
	if b.guardStop != nil {
		b.guardStop()
	}
	b.guardSeq++
	seq := b.guardSeq
	b.guardStop = b.schedule(0, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.guardSeq != seq {
			return
		}
		b.applying = false
		b.guardStop = nil
	})
}

func near(prev *Range, r Range) bool {
	return prev != nil && math.Abs(prev.From-r.From) < Epsilon && math.Abs(prev.To-r.To) < Epsilon
}
