package persist

import (
	"context"
	"math"
	"sync"
	"time"

	"basis-tracker/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize  = 200
	DefaultFlushEvery = 250 * time.Millisecond

	writeTimeout = 2 * time.Second
)

// Derived candle series written per second.
const (
	SeriesBasis = "basis"
	SeriesSpot  = "spot"
	SeriesMark  = "mark"
)

type candleKey struct {
	symbol string
	series string
	sec    int64
}

// pending is owned by the Batcher between flushes and handed off whole.
type pending struct {
	ticks   []shared.Tick
	candles map[candleKey]*shared.Bar1s
	order   []candleKey
}

func newPending(size int) pending {
	return pending{
		ticks:   make([]shared.Tick, 0, size),
		candles: make(map[candleKey]*shared.Bar1s),
	}
}

func (p *pending) add(t shared.Tick) {
	p.ticks = append(p.ticks, t)
	sec := floorDiv(t.Ts, 1000)
	p.fold(t.Symbol, SeriesBasis, sec, t.BasisBps)
	p.fold(t.Symbol, SeriesSpot, sec, t.Spot)
	p.fold(t.Symbol, SeriesMark, sec, t.Mark)
}

func (p *pending) fold(symbol, series string, sec int64, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	k := candleKey{symbol: symbol, series: series, sec: sec}
	b, ok := p.candles[k]
	if !ok {
		p.candles[k] = &shared.Bar1s{Symbol: symbol, Series: series, TS: sec, O: v, H: v, L: v, C: v}
		p.order = append(p.order, k)
		return
	}
	if v > b.H {
		b.H = v
	}
	if v < b.L {
		b.L = v
	}
	b.C = v
}

func (p *pending) bars() []shared.Bar1s {
	out := make([]shared.Bar1s, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, *p.candles[k])
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

type batcherMetrics struct {
	batchSize prometheus.Histogram
	flushDur  prometheus.Histogram
	errors    *prometheus.CounterVec
	dropped   prometheus.Counter
}

func newBatcherMetrics() batcherMetrics {
	return batcherMetrics{
		batchSize: shared.NewHist(prometheus.HistogramOpts{Name: "persist_batch_size", Help: "Ticks per flush", Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500}}),
		flushDur:  shared.NewHist(prometheus.HistogramOpts{Name: "persist_flush_seconds", Help: "Flush duration", Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0}}),
		errors:    shared.NewCounterVec(prometheus.CounterOpts{Name: "persist_statement_errors_total", Help: "Failed storage statements"}, []string{"statement"}),
		dropped:   shared.NewCounter(prometheus.CounterOpts{Name: "persist_batches_dropped_total", Help: "Batches dropped on a full writer queue"}),
	}
}

type BatcherOption func(*Batcher)

func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBatch = n
		}
	}
}

func WithFlushEvery(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.flushEvery = d
		}
	}
}

func WithClock(now func() time.Time) BatcherOption {
	return func(b *Batcher) { b.now = now }
}

func WithQueueDepth(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

// Batcher accumulates ticks and flushes them when the batch is full or the
// flush interval has passed, checked on each Add. A single writer goroutine
// runs the statements so flushes reach storage in order.
type Batcher struct {
	store      Store
	log        *zap.Logger
	metrics    batcherMetrics
	maxBatch   int
	flushEvery time.Duration
	queueDepth int
	now        func() time.Time

	mu        sync.Mutex
	cur       pending
	lastFlush time.Time
	closed    bool

	queue chan pending
	done  chan struct{}
}

func NewBatcher(store Store, log *zap.Logger, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		store:      store,
		log:        shared.Component(log, "batcher"),
		metrics:    newBatcherMetrics(),
		maxBatch:   DefaultBatchSize,
		flushEvery: DefaultFlushEvery,
		queueDepth: 64,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cur = newPending(b.maxBatch)
	b.lastFlush = b.now()
	b.queue = make(chan pending, b.queueDepth)
	b.done = make(chan struct{})
	go b.writer()
	return b
}

func (b *Batcher) Add(t shared.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.cur.add(t)
	now := b.now()
	if len(b.cur.ticks) >= b.maxBatch || now.Sub(b.lastFlush) >= b.flushEvery {
		b.flushLocked(now, false)
	}
}

// Flush hands the current batch to the writer regardless of thresholds.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.flushLocked(b.now(), false)
}

// Close flushes what is buffered and waits for the writer to finish.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.flushLocked(b.now(), true)
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

func (b *Batcher) flushLocked(now time.Time, wait bool) {
	b.lastFlush = now
	if len(b.cur.ticks) == 0 {
		return
	}
	batch := b.cur
	b.cur = newPending(b.maxBatch)
	if wait {
		b.queue <- batch
		return
	}
	select {
	case b.queue <- batch:
	default:
		b.metrics.dropped.Inc()
		b.log.Warn("writer queue full, dropping batch", zap.Int("ticks", len(batch.ticks)))
	}
}

func (b *Batcher) writer() {
	defer close(b.done)
	for p := range b.queue {
		b.write(p)
	}
}

func (b *Batcher) write(p pending) {
	start := time.Now()
	b.metrics.batchSize.Observe(float64(len(p.ticks)))

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	if err := b.store.InsertTicks(ctx, p.ticks); err != nil {
		b.metrics.errors.WithLabelValues("insert_ticks").Inc()
		b.log.Warn("tick insert failed", zap.Int("ticks", len(p.ticks)), zap.Error(err))
	}
	cancel()

	bars := p.bars()
	ctx, cancel = context.WithTimeout(context.Background(), writeTimeout)
	if err := b.store.UpsertCandles(ctx, bars); err != nil {
		b.metrics.errors.WithLabelValues("upsert_candles").Inc()
		b.log.Warn("candle upsert failed", zap.Int("candles", len(bars)), zap.Error(err))
	}
	cancel()

	b.metrics.flushDur.Observe(time.Since(start).Seconds())
}
