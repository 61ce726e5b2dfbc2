package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"basis-tracker/go/pkg/aggregate"
	"basis-tracker/go/pkg/indicators"
	"basis-tracker/go/pkg/shared"
	"basis-tracker/go/pkg/syncbus"

	"github.com/pkg/errors"
)

// panel is one terminal chart. Its visible range is kept in step with the
// other panels through a syncbus binding.
type panel struct {
	series aggregate.Series

	mu        sync.Mutex
	candles   []shared.Candle
	rng       syncbus.Range
	hasRange  bool
	crosshair int64
	hasCross  bool
	binding   *syncbus.Binding
}

func (p *panel) VisibleRange() (syncbus.Range, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng, p.hasRange
}

func (p *panel) SetVisibleRange(r syncbus.Range) {
	p.mu.Lock()
	p.rng, p.hasRange = r, true
	b := p.binding
	p.mu.Unlock()
	if b != nil {
		b.OnRangeChange(r)
	}
}

func (p *panel) SetCrosshair(t int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crosshair, p.hasCross = t, true
}

func (p *panel) ClearCrosshair() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasCross = false
}

// follow scrolls to the newest width bars and tells the other panels.
func (p *panel) follow(width int) {
	p.mu.Lock()
	n := len(p.candles)
	r := syncbus.Range{From: float64(n - width), To: float64(n - 1)}
	p.rng, p.hasRange = r, true
	b := p.binding
	p.mu.Unlock()
	if b != nil {
		b.OnRangeChange(r)
	}
}

func (p *panel) visible() []shared.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasRange {
		return append([]shared.Candle(nil), p.candles...)
	}
	from := int(p.rng.From)
	to := int(p.rng.To) + 1
	if from < 0 {
		from = 0
	}
	if to > len(p.candles) {
		to = len(p.candles)
	}
	if from >= to {
		return nil
	}
	return append([]shared.Candle(nil), p.candles[from:to]...)
}

// tail renders aggregator output as text. It implements aggregate.Sink.
type tail struct {
	symbol string
	width  int
	out    io.Writer
	now    func() time.Time
	panels [3]*panel

	mu      sync.Mutex
	ticks   int
	tf      aggregate.Timeframe
	spot    []shared.Trade
	futures []shared.Trade
}

func newTail(symbol string, tf aggregate.Timeframe, width int, out io.Writer) *tail {
	t := &tail{symbol: symbol, width: width, out: out, now: time.Now, tf: tf}
	for _, s := range aggregate.AllSeries {
		t.panels[s] = &panel{series: s}
	}
	return t
}

func (t *tail) SetLine(_ aggregate.Series, points []aggregate.LinePoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks = len(points)
}

func (t *tail) AppendLine(_ aggregate.Series, p aggregate.LinePoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks = p.Index + 1
}

// SetCandles arrives once per series in basis, spot, mark order; the last
// one triggers a render.
func (t *tail) SetCandles(s aggregate.Series, candles []shared.Candle) {
	p := t.panels[s]
	p.mu.Lock()
	p.candles = candles
	p.mu.Unlock()

	if s == aggregate.SeriesBasis {
		p.follow(t.width)
	}
	if s == aggregate.SeriesMark {
		t.render()
	}
}

func (t *tail) SetTrades(spot, futures []shared.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spot, t.futures = spot, futures
}

func (t *tail) render() {
	t.mu.Lock()
	ticks, tf := t.ticks, t.tf
	spot, futures := t.spot, t.futures
	t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s tf=%s ticks=%d\n", t.now().Format("15:04:05"), t.symbol, tf, ticks)
	for _, s := range aggregate.AllSeries {
		vis := t.panels[s].visible()
		if len(vis) == 0 {
			fmt.Fprintf(&b, "  %-5s -\n", s)
			continue
		}
		c := vis[len(vis)-1]
		fmt.Fprintf(&b, "  %-5s o=%.4f h=%.4f l=%.4f c=%.4f bars=%d\n", s, c.Open, c.High, c.Low, c.Close, len(vis))
	}

	basis := t.panels[aggregate.SeriesBasis].visible()
	if rsi := indicators.RSI(basis, indicators.DefaultRSILength); len(rsi) > 0 {
		fmt.Fprintf(&b, "  rsi(14)=%.2f", rsi[len(rsi)-1].Value)
	} else {
		b.WriteString("  rsi(14)=-")
	}
	if macd := indicators.MACD(basis, indicators.DefaultMACDFast, indicators.DefaultMACDSlow, indicators.DefaultMACDSignal); len(macd) > 0 {
		m := macd[len(macd)-1]
		fmt.Fprintf(&b, " macd=%.4f signal=%.4f hist=%.4f\n", m.MACD, m.Signal, m.Hist)
	} else {
		b.WriteString(" macd=-\n")
	}
	if len(spot)+len(futures) > 0 {
		fmt.Fprintf(&b, "  trades spot=%d%s futures=%d%s\n", len(spot), lastPrice(spot), len(futures), lastPrice(futures))
	}
	_, _ = io.WriteString(t.out, b.String())
}

func lastPrice(trades []shared.Trade) string {
	if len(trades) == 0 {
		return ""
	}
	return fmt.Sprintf(" @%g", trades[len(trades)-1].Price)
}

// fetchHistory loads [from, to] from the history endpoint.
func fetchHistory(ctx context.Context, client *http.Client, base, symbol string, from, to time.Time) ([]shared.Tick, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/api/history/ticks")
	if err != nil {
		return nil, errors.Wrap(err, "history url")
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "history request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "history fetch")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("history status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var ticks []shared.Tick
	if err := json.NewDecoder(resp.Body).Decode(&ticks); err != nil {
		return nil, errors.Wrap(err, "history decode")
	}
	return ticks, nil
}

// pushURL maps the server base URL to its websocket endpoint.
func pushURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "server url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
