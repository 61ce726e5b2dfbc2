package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"basis-tracker/go/pkg/aggregate"
	"basis-tracker/go/pkg/feed"
	"basis-tracker/go/pkg/shared"
	"basis-tracker/go/pkg/syncbus"

	"go.uber.org/zap"
)

type Config struct {
	Log         shared.LogConfig
	ServerURL   string        `envconfig:"SERVER_URL" default:"http://localhost:4000"`
	Symbol      string        `envconfig:"SYMBOL" default:"BTCUSDT"`
	Timeframe   string        `envconfig:"TIMEFRAME" default:"1s"`
	Backfill    time.Duration `envconfig:"BACKFILL_WINDOW" default:"10m"`
	VisibleBars int           `envconfig:"VISIBLE_BARS" default:"60"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := shared.NewLogger("basis-tail", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tf, err := aggregate.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		logger.Fatal("timeframe", zap.Error(err))
	}
	wsURL, err := pushURL(cfg.ServerURL)
	if err != nil {
		logger.Fatal("server url", zap.Error(err))
	}
	symbol := strings.ToUpper(cfg.Symbol)

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	view := newTail(symbol, tf, cfg.VisibleBars, os.Stdout)
	bus := syncbus.NewBus(logger)
	syncKey := "candles:" + symbol
	var bindings []*syncbus.Binding
	for _, p := range view.panels {
		b := syncbus.Bind(bus, syncKey, p, syncbus.Options{MinEmitInterval: syncbus.CandleEmitInterval})
		p.mu.Lock()
		p.binding = b
		p.mu.Unlock()
		bindings = append(bindings, b)
	}

	agg := aggregate.New(tf, view)
	tape := aggregate.NewTradeTape(view.SetTrades, aggregate.DefaultTapeDepth, nil)

	now := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ticks, err := fetchHistory(fetchCtx, &http.Client{}, cfg.ServerURL, symbol, now.Add(-cfg.Backfill), now)
	cancel()
	if err != nil {
		logger.Warn("backfill failed, continuing with live data", zap.Error(err))
	} else {
		logger.Info("backfilled", zap.Int("ticks", len(ticks)))
		agg.Backfill(ticks)
	}

	stop := feed.Connect(wsURL,
		func(raw json.RawMessage) {
			ev := shared.DecodeEvent(raw)
			switch ev.Kind {
			case shared.EventTick:
				if ev.Tick.Symbol == "" || strings.EqualFold(ev.Tick.Symbol, symbol) {
					agg.Push(ev.Tick)
				}
			case shared.EventTrade:
				tape.Add(ev.Trade)
			case shared.EventIgnored:
			}
		},
		func(s feed.Status) { logger.Info("push feed", zap.Stringer("status", s)) },
		feed.WithLogger(logger),
	)

	<-ctx.Done()
	stop()
	agg.Close()
	tape.Close()
	for _, b := range bindings {
		b.Close()
	}
}
