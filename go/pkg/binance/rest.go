// Package binance adapts Binance spot and USD-M futures market data to the
// basis pipeline.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"basis-tracker/go/pkg/shared"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	spotRESTMain      = "https://api.binance.com"
	spotRESTTestnet   = "https://testnet.binance.vision"
	futuresRESTMain   = "https://fapi.binance.com"
	futuresRESTTest   = "https://testnet.binancefuture.com"
	spotStreamMain    = "wss://stream.binance.com:9443"
	spotStreamTest    = "wss://testnet.binance.vision"
	futuresStreamMain = "wss://fstream.binance.com"
	futuresStreamTest = "wss://stream.binancefuture.com"

	requestTimeout = 8 * time.Second
)

// Endpoints are the resolved base URLs for both legs.
type Endpoints struct {
	SpotREST      string
	FuturesREST   string
	SpotStream    string
	FuturesStream string
}

func ResolveEndpoints(cfg shared.BinanceConfig) Endpoints {
	e := Endpoints{
		SpotREST:      spotRESTMain,
		FuturesREST:   futuresRESTMain,
		SpotStream:    spotStreamMain,
		FuturesStream: futuresStreamMain,
	}
	if cfg.Testnet {
		e = Endpoints{
			SpotREST:      spotRESTTestnet,
			FuturesREST:   futuresRESTTest,
			SpotStream:    spotStreamTest,
			FuturesStream: futuresStreamTest,
		}
	}
	if cfg.SpotREST != "" {
		e.SpotREST = cfg.SpotREST
	}
	if cfg.FuturesREST != "" {
		e.FuturesREST = cfg.FuturesREST
	}
	if cfg.SpotStream != "" {
		e.SpotStream = cfg.SpotStream
	}
	if cfg.FuturesStream != "" {
		e.FuturesStream = cfg.FuturesStream
	}
	return e
}

// RESTQuoter fetches the latest spot price and futures mark price.
type RESTQuoter struct {
	spot    *gobinance.Client
	futures *futures.Client
	timeout time.Duration
}

func NewRESTQuoter(e Endpoints, httpClient *http.Client) *RESTQuoter {
	spot := gobinance.NewClient("", "")
	spot.BaseURL = e.SpotREST
	fut := futures.NewClient("", "")
	fut.BaseURL = e.FuturesREST
	if httpClient != nil {
		spot.HTTPClient = httpClient
		fut.HTTPClient = httpClient
	}
	return &RESTQuoter{spot: spot, futures: fut, timeout: requestTimeout}
}

func (q *RESTQuoter) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	prices, err := q.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("spot price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parsePrice(p.Price)
		}
	}
	return 0, fmt.Errorf("spot price %s: symbol missing from response", symbol)
}

func (q *RESTQuoter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	idx, err := q.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark price %s: %w", symbol, err)
	}
	for _, p := range idx {
		if p.Symbol == symbol {
			return parsePrice(p.MarkPrice)
		}
	}
	return 0, fmt.Errorf("mark price %s: symbol missing from response", symbol)
}

func parsePrice(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return v, nil
}
