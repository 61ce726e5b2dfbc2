package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basis-tracker/go/pkg/binance"
	"basis-tracker/go/pkg/history"
	"basis-tracker/go/pkg/ingest"
	"basis-tracker/go/pkg/persist"
	"basis-tracker/go/pkg/push"
	"basis-tracker/go/pkg/server"
	"basis-tracker/go/pkg/shared"

	"go.uber.org/zap"
)

// Config for the basis server.
type Config struct {
	Kafka        shared.KafkaConfig
	PG           shared.PostgresConfig
	Metrics      shared.MetricsConfig
	Log          shared.LogConfig
	Binance      shared.BinanceConfig
	Batch        shared.BatchConfig
	Symbol       string `envconfig:"SYMBOL" default:"BTCUSDT"`
	IntervalMS   int    `envconfig:"INTERVAL_MS" default:"1000"`
	UseWS        bool   `envconfig:"USE_WS" default:"false"`
	RingCap      int    `envconfig:"RING_CAP" default:"20000"`
	Port         int    `envconfig:"PORT" default:"4000"`
	PublishKafka bool   `envconfig:"PUBLISH_KAFKA" default:"false"`
	TickTopic    string `envconfig:"TICKS_TOPIC" default:"basis.ticks"`
	MaxBatch     int    `envconfig:"MAX_BATCH" default:"256"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := shared.NewLogger("basis-server", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ms := shared.NewMetricsServer(cfg.Metrics.Port)
	ms.Start()
	defer func() { _ = ms.Close() }()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	var (
		store   persist.Store
		sinks   []ingest.TickSink
		batcher *persist.Batcher
		kafka   *persist.KafkaSink
	)
	if cfg.PG.Enabled {
		db, err := shared.NewPgxPool(ctx, cfg.PG)
		if err != nil {
			logger.Fatal("db init", zap.Error(err))
		}
		defer db.Close()
		pg := persist.NewPgStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			// reads fall back to memory; a batch whose write fails is dropped
			logger.Warn("ensure schema failed", zap.Error(err))
		}
		store = pg
		batcher = persist.NewBatcher(pg, logger,
			persist.WithBatchSize(cfg.Batch.Size),
			persist.WithFlushEvery(cfg.Batch.FlushEvery),
		)
		sinks = append(sinks, batcher)
	}
	if cfg.PublishKafka {
		kafka = persist.NewKafkaSink(shared.NewProducer(cfg.Kafka), cfg.TickTopic, cfg.MaxBatch, cfg.Batch.FlushEvery, logger)
		sinks = append(sinks, kafka)
	}

	endpoints := binance.ResolveEndpoints(cfg.Binance)
	quoter := binance.NewRESTQuoter(endpoints, &http.Client{Timeout: 10 * time.Second})

	mode := ingest.ModePolling
	if cfg.UseWS {
		mode = ingest.ModeStreaming
	}
	svc := ingest.New(ingest.Options{
		Symbol:           cfg.Symbol,
		Mode:             mode,
		PollInterval:     time.Duration(cfg.IntervalMS) * time.Millisecond,
		RingCap:          cfg.RingCap,
		SpotStreamURL:    binance.SpotStreamURL(endpoints.SpotStream, cfg.Symbol),
		FuturesStreamURL: binance.FuturesStreamURL(endpoints.FuturesStream, cfg.Symbol),
	}, quoter, logger, sinks...)

	broadcaster := push.NewBroadcaster(logger, push.WithLatest(svc.Last))
	subID, events := svc.Subscribe(ingest.DefaultSubscriberBuffer)
	go broadcaster.Run(ctx, events)

	hist := history.New(store, svc, logger)
	srv := server.New(fmt.Sprintf(":%d", cfg.Port), broadcaster, history.NewHandler(hist, cfg.Symbol), svc.Last, logger)

	svc.Start()
	srv.Start()
	logger.Info("basis server running",
		zap.String("symbol", svc.Symbol()),
		zap.Stringer("mode", mode),
		zap.Int("port", cfg.Port),
		zap.Bool("storage", cfg.PG.Enabled),
		zap.Bool("kafka", cfg.PublishKafka),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	broadcaster.Close()
	svc.Stop()
	svc.Unsubscribe(subID)
	if batcher != nil {
		batcher.Close()
	}
	if kafka != nil {
		kafka.Close()
	}
}
