// Package ingest merges spot and futures prices into basis ticks and fans
// them out to the ring buffer, subscribers and persistence sinks.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"basis-tracker/go/pkg/feed"
	"basis-tracker/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	MinPollInterval         = 100 * time.Millisecond
	DefaultRingCap          = 20000
	DefaultSubscriberBuffer = 256
)

type Mode int

const (
	ModePolling Mode = iota
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "polling"
}

// Quoter fetches the latest price of each leg.
type Quoter interface {
	SpotPrice(ctx context.Context, symbol string) (float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// TickSink receives every accepted tick in emission order. Add must not block
// for long; it runs on the ingestion goroutine.
type TickSink interface {
	Add(t shared.Tick)
}

type Options struct {
	Symbol           string
	Mode             Mode
	PollInterval     time.Duration
	RingCap          int
	SpotStreamURL    string
	FuturesStreamURL string
	FeedOptions      []feed.Option
	Now              func() time.Time
	OnError          func(error)
}

type metrics struct {
	ticks    *prometheus.CounterVec
	rejected prometheus.Counter
	dropped  *prometheus.CounterVec
	errors   prometheus.Counter
	feed     *prometheus.CounterVec
	ring     prometheus.Gauge
}

func newMetrics() metrics {
	return metrics{
		ticks:    shared.NewCounterVec(prometheus.CounterOpts{Name: "ingest_ticks_total", Help: "Basis ticks emitted"}, []string{"symbol"}),
		rejected: shared.NewCounter(prometheus.CounterOpts{Name: "ingest_ticks_rejected_total", Help: "Ticks dropped for a non-increasing ts"}),
		dropped:  shared.NewCounterVec(prometheus.CounterOpts{Name: "ingest_subscriber_dropped_total", Help: "Events dropped on full subscriber queues"}, []string{"kind"}),
		errors:   shared.NewCounter(prometheus.CounterOpts{Name: "ingest_errors_total", Help: "Fetch and feed errors"}),
		feed:     shared.NewCounterVec(prometheus.CounterOpts{Name: "ingest_feed_status_total", Help: "Feed status events per leg"}, []string{"leg", "status"}),
		ring:     shared.NewGauge(prometheus.GaugeOpts{Name: "ingest_ring_size", Help: "Ticks held in the recent buffer"}),
	}
}

// Service owns the ingestion loop for one symbol. It is constructed once at
// start-up and shared by reference with the history and push layers.
type Service struct {
	opts    Options
	quoter  Quoter
	sinks   []TickSink
	log     *zap.Logger
	metrics metrics
	ring    *Ring

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan shared.Event
	nextID int
}

func New(opts Options, quoter Quoter, log *zap.Logger, sinks ...TickSink) *Service {
	opts.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if opts.PollInterval < MinPollInterval {
		opts.PollInterval = MinPollInterval
	}
	if opts.RingCap < 1 {
		opts.RingCap = DefaultRingCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		opts:    opts,
		quoter:  quoter,
		sinks:   sinks,
		log:     shared.Component(log, "ingest").With(zap.String("symbol", opts.Symbol)),
		metrics: newMetrics(),
		ring:    NewRing(opts.RingCap),
		subs:    make(map[int]chan shared.Event),
	}
}

func (s *Service) Symbol() string { return s.opts.Symbol }

// Start launches the configured mode. It is a no-op while running.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	s.log.Info("ingestion starting", zap.Stringer("mode", s.opts.Mode), zap.Duration("interval", s.opts.PollInterval))
	if s.opts.Mode == ModeStreaming {
		go s.runStreaming(ctx, done)
	} else {
		go s.runPolling(ctx, done)
	}
}

// Stop tears down timers and transports and waits for the loop to exit. It
// is a no-op when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("ingestion stopped")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Subscribe registers a receiver for ticks and trades. A subscriber that
// falls behind loses events rather than stalling ingestion.
func (s *Service) Subscribe(buffer int) (int, <-chan shared.Event) {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan shared.Event, buffer)
	s.subs[id] = ch
	return id, ch
}

func (s *Service) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Service) Last() (shared.Tick, bool) { return s.ring.Last() }

// Recent returns the buffered ticks with ts >= now-window.
func (s *Service) Recent(window time.Duration) []shared.Tick {
	return s.ring.Since(s.opts.Now().Add(-window).UnixMilli())
}

// Range returns buffered ticks for symbol within [fromMs, toMs].
func (s *Service) Range(symbol string, fromMs, toMs int64, limit int) []shared.Tick {
	return s.ring.Between(symbol, fromMs, toMs, limit)
}

// accept runs on the ingestion goroutine only, which keeps the ring, the
// subscribers and the sinks in computation order.
func (s *Service) accept(t shared.Tick) bool {
	if !s.ring.Push(t) {
		s.metrics.rejected.Inc()
		return false
	}
	s.metrics.ring.Set(float64(s.ring.Len()))
	s.metrics.ticks.WithLabelValues(t.Symbol).Inc()
	s.publish(shared.TickEvent(t))
	for _, sink := range s.sinks {
		sink.Add(t)
	}
	return true
}

func (s *Service) publish(ev shared.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.metrics.dropped.WithLabelValues(ev.Kind.String()).Inc()
		}
	}
}

func (s *Service) fail(err error) {
	s.metrics.errors.Inc()
	s.log.Warn("ingestion error", zap.Error(err))
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
