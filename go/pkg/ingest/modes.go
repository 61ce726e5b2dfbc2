package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"basis-tracker/go/pkg/basis"
	"basis-tracker/go/pkg/binance"
	"basis-tracker/go/pkg/feed"
	"basis-tracker/go/pkg/shared"

	"golang.org/x/sync/errgroup"
)

const streamQueue = 1024

func (s *Service) runPolling(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.pollOnce(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	var spot, mark float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.quoter.SpotPrice(gctx, s.opts.Symbol)
		spot = v
		return err
	})
	g.Go(func() error {
		v, err := s.quoter.MarkPrice(gctx, s.opts.Symbol)
		mark = v
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			s.fail(fmt.Errorf("poll %s: %w", s.opts.Symbol, err))
		}
		return
	}
	if !(spot > 0) || !(mark > 0) {
		s.fail(fmt.Errorf("poll %s: invalid quote spot=%v mark=%v", s.opts.Symbol, spot, mark))
		return
	}
	s.accept(basis.NewTick(s.opts.Symbol, spot, mark, s.opts.Now().UnixMilli()))
}

// runStreaming merges both legs on one goroutine. Transport callbacks only
// decode and hand events over.
func (s *Service) runStreaming(ctx context.Context, done chan struct{}) {
	defer close(done)

	updates := make(chan binance.StreamEvent, streamQueue)
	forward := func(raw json.RawMessage) {
		ev, ok := binance.ParseStreamEvent(raw)
		if !ok {
			return
		}
		select {
		case updates <- ev:
		case <-ctx.Done():
		}
	}
	status := func(leg string) func(feed.Status) {
		return func(st feed.Status) {
			s.metrics.feed.WithLabelValues(leg, st.String()).Inc()
			if st == feed.StatusError {
				s.fail(fmt.Errorf("%s feed: connection error", leg))
			}
		}
	}

	opts := append([]feed.Option{feed.WithLogger(s.log)}, s.opts.FeedOptions...)
	stopSpot := feed.Connect(s.opts.SpotStreamURL, forward, status("spot"), opts...)
	defer stopSpot()
	stopFutures := feed.Connect(s.opts.FuturesStreamURL, forward, status("futures"), opts...)
	defer stopFutures()

	var spot, mark float64
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-updates:
			if ev.Trade != nil {
				tr := *ev.Trade
				if tr.Symbol == "" {
					tr.Symbol = s.opts.Symbol
				}
				s.publish(shared.TradeEvent(tr))
			}
			if !ev.PriceUpdate {
				continue
			}
			switch ev.Leg {
			case binance.LegSpot:
				spot = ev.Price
			case binance.LegFutures:
				mark = ev.Price
			}
			if spot > 0 && mark > 0 {
				s.accept(basis.NewTick(s.opts.Symbol, spot, mark, s.opts.Now().UnixMilli()))
			}
		}
	}
}
