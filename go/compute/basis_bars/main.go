package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basis-tracker/go/pkg/indicators"
	"basis-tracker/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Config struct {
	Kafka      shared.KafkaConfig
	PG         shared.PostgresConfig
	Metrics    shared.MetricsConfig
	Log        shared.LogConfig
	TicksTopic string        `envconfig:"TICKS_TOPIC" default:"basis.ticks"`
	OutTFs     string        `envconfig:"OUT_TFS" default:"1,5,15"`
	FlushGrace time.Duration `envconfig:"FLUSH_GRACE" default:"2s"`
	Depth      int           `envconfig:"INDICATOR_DEPTH" default:"200"`
	RSILength  int           `envconfig:"RSI_LENGTH" default:"14"`
	MACDFast   int           `envconfig:"MACD_FAST" default:"12"`
	MACDSlow   int           `envconfig:"MACD_SLOW" default:"26"`
	MACDSignal int           `envconfig:"MACD_SIGNAL" default:"9"`
}

type metrics struct {
	ticksIn  prometheus.Counter
	late     prometheus.Counter
	barsOut  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	active   *prometheus.GaugeVec
	flushDur prometheus.Histogram
	latency  prometheus.Histogram
}

func newMetrics() metrics {
	return metrics{
		ticksIn:  shared.NewCounter(prometheus.CounterOpts{Name: "basisbars_ticks_in_total", Help: "Ticks consumed"}),
		late:     shared.NewCounter(prometheus.CounterOpts{Name: "basisbars_late_ticks_total", Help: "Series updates dropped for already closed buckets"}),
		barsOut:  shared.NewCounterVec(prometheus.CounterOpts{Name: "basisbars_bars_out_total", Help: "Bars emitted"}, []string{"tf"}),
		errors:   shared.NewCounterVec(prometheus.CounterOpts{Name: "basisbars_errors_total", Help: "Emit failures"}, []string{"stage"}),
		active:   shared.NewGaugeVec(prometheus.GaugeOpts{Name: "basisbars_active_windows", Help: "Open windows"}, []string{"tf"}),
		flushDur: shared.NewHist(prometheus.HistogramOpts{Name: "basisbars_flush_seconds", Help: "Expiry sweep duration", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}}),
		latency:  shared.NewHist(prometheus.HistogramOpts{Name: "basisbars_bar_latency_seconds", Help: "Window end to emit latency", Buckets: []float64{0.5, 1, 2, 5, 10, 20}}),
	}
}

const barsTableTmpl = `
CREATE TABLE IF NOT EXISTS basis_bars_%dm (
  symbol    text NOT NULL,
  series    text NOT NULL,
  ts        timestamptz NOT NULL,
  o         double precision NOT NULL,
  h         double precision NOT NULL,
  l         double precision NOT NULL,
  c         double precision NOT NULL,
  n_ticks   bigint NOT NULL,
  rsi       double precision,
  macd      double precision,
  signal    double precision,
  macd_hist double precision,
  PRIMARY KEY (symbol, series, ts)
)`

const upsertTmpl = `
INSERT INTO basis_bars_%dm (symbol, series, ts, o, h, l, c, n_ticks, rsi, macd, signal, macd_hist)
VALUES ($1, $2, to_timestamp($3), $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (symbol, series, ts) DO UPDATE
SET h = GREATEST(excluded.h, basis_bars_%dm.h),
    l = LEAST(excluded.l, basis_bars_%dm.l),
    c = excluded.c,
    n_ticks = basis_bars_%dm.n_ticks + excluded.n_ticks,
    rsi = excluded.rsi,
    macd = excluded.macd,
    signal = excluded.signal,
    macd_hist = excluded.macd_hist`

// emitter writes closed bars to storage and the broker. db may be nil.
type emitter struct {
	db   shared.DB
	prod shared.Producer
	log  *zap.Logger
	m    metrics
}

func (e *emitter) emit(ctx context.Context, bar shared.BarTF, tfMinutes int) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if e.db != nil {
		sql := fmt.Sprintf(upsertTmpl, tfMinutes, tfMinutes, tfMinutes, tfMinutes)
		if err := e.db.Exec(ctx, sql, bar.Symbol, bar.Series, bar.TS, bar.O, bar.H, bar.L, bar.C, bar.NTicks,
			bar.RSI, bar.MACD, bar.Signal, bar.MACDHst); err != nil {
			e.m.errors.WithLabelValues("upsert").Inc()
			e.log.Warn("bar upsert failed", zap.String("tf", bar.TF), zap.String("symbol", bar.Symbol), zap.Error(err))
		}
	}
	if e.prod != nil {
		key := []byte(fmt.Sprintf("%s:%s:%d", bar.Symbol, bar.Series, bar.TS))
		if err := e.prod.ProduceJSON(ctx, "basis.bars."+bar.TF, key, bar); err != nil {
			e.m.errors.WithLabelValues("produce").Inc()
			e.log.Warn("bar publish failed", zap.String("tf", bar.TF), zap.Error(err))
		}
	}
	e.m.latency.Observe(time.Since(time.Unix(bar.WindowEnd(int64(tfMinutes*60)), 0)).Seconds())
	e.m.barsOut.WithLabelValues(bar.TF).Inc()
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := shared.NewLogger("basis-bars", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tfs := parseTFs(cfg.OutTFs)
	m := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port)
	ms.Start()
	defer func() { _ = ms.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := shared.NewConsumer(cfg.Kafka, cfg.TicksTopic)
	if err != nil {
		logger.Fatal("consumer init", zap.Error(err))
	}
	defer consumer.Close()

	producer := shared.NewProducer(cfg.Kafka)
	defer producer.Close()

	em := &emitter{prod: producer, log: logger, m: m}
	if cfg.PG.Enabled {
		db, err := shared.NewPgxPool(ctx, cfg.PG)
		if err != nil {
			logger.Fatal("db init", zap.Error(err))
		}
		defer db.Close()
		for _, tf := range tfs {
			if err := db.Exec(ctx, fmt.Sprintf(barsTableTmpl, tf)); err != nil {
				logger.Fatal("ensure bars table", zap.Int("tf", tf), zap.Error(err))
			}
		}
		em.db = db
	}

	ws := newWindows(tfs, indicatorParams{
		rsiLength:  orDefault(cfg.RSILength, indicators.DefaultRSILength),
		macdFast:   orDefault(cfg.MACDFast, indicators.DefaultMACDFast),
		macdSlow:   orDefault(cfg.MACDSlow, indicators.DefaultMACDSlow),
		macdSignal: orDefault(cfg.MACDSignal, indicators.DefaultMACDSignal),
		depth:      cfg.Depth,
	})

	msgs := make(chan *shared.Message, 1024)
	go func() {
		defer close(msgs)
		for {
			msg, err := consumer.Poll(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				logger.Warn("poll failed", zap.Error(err))
				continue
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("basis bars started", zap.Ints("tfs", tfs), zap.String("topic", cfg.TicksTopic))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			start := time.Now()
			for _, bar := range ws.expire(start.Unix(), int64(cfg.FlushGrace.Seconds())) {
				em.emit(ctx, bar, tfMinutes(bar.TF))
			}
			for _, tf := range tfs {
				m.active.WithLabelValues(fmt.Sprintf("%dm", tf)).Set(float64(ws.active(tf)))
			}
			m.flushDur.Observe(time.Since(start).Seconds())
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var t shared.Tick
			if err := json.Unmarshal(msg.Value, &t); err != nil {
				_ = consumer.Commit(msg)
				continue
			}
			m.ticksIn.Inc()
			for _, bar := range ws.add(t) {
				em.emit(ctx, bar, tfMinutes(bar.TF))
			}
			if n := ws.dropLate(); n > 0 {
				m.late.Add(float64(n))
			}
			if err := consumer.Commit(msg); err != nil {
				logger.Warn("commit failed", zap.Error(err))
			}
		}
	}
}

func tfMinutes(tf string) int {
	var n int
	_, _ = fmt.Sscanf(tf, "%dm", &n)
	return n
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
