package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"basis-tracker/go/pkg/shared"
)

// Leg identifies which side of the basis an update belongs to.
type Leg int

const (
	LegSpot Leg = iota + 1
	LegFutures
)

// StreamEvent is one decoded market data update. PriceUpdate marks events
// that move the leg's last-known price; Trade is set for trade prints.
type StreamEvent struct {
	Leg         Leg
	PriceUpdate bool
	Price       float64
	Ts          int64
	Trade       *shared.Trade
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Keys differing only by case ("t"/"T", "p"/"P") each need a field, or
// encoding/json folds them onto the wrong one.
type marketEvent struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Price       string `json:"p"`
	SettlePrice string `json:"P"`
	Qty         string `json:"q"`
	TradeID     int64  `json:"t"`
	TradeTime   int64  `json:"T"`
}

// SpotStreamURL subscribes to spot trades, which also carry the last price.
func SpotStreamURL(base, symbol string) string {
	return fmt.Sprintf("%s/ws/%s@trade", strings.TrimRight(base, "/"), strings.ToLower(symbol))
}

// FuturesStreamURL subscribes to the 1s mark price and aggregated trades.
func FuturesStreamURL(base, symbol string) string {
	s := strings.ToLower(symbol)
	return fmt.Sprintf("%s/stream?streams=%s@markPrice@1s/%s@aggTrade", strings.TrimRight(base, "/"), s, s)
}

// ParseStreamEvent decodes raw or combined-stream payloads. Unknown event
// types and unparseable prices report false.
func ParseStreamEvent(raw []byte) (StreamEvent, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}
	var ev marketEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, false
	}
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil || !(price > 0) {
		return StreamEvent{}, false
	}

	switch ev.Event {
	case "trade":
		tr, ok := trade(shared.SpotTrade, ev, price)
		if !ok {
			return StreamEvent{}, false
		}
		return StreamEvent{Leg: LegSpot, PriceUpdate: true, Price: price, Ts: ev.TradeTime, Trade: tr}, true
	case "aggTrade":
		tr, ok := trade(shared.FuturesTrade, ev, price)
		if !ok {
			return StreamEvent{}, false
		}
		return StreamEvent{Leg: LegFutures, Ts: ev.TradeTime, Trade: tr}, true
	case "markPriceUpdate":
		return StreamEvent{Leg: LegFutures, PriceUpdate: true, Price: price, Ts: ev.EventTime}, true
	default:
		return StreamEvent{}, false
	}
}

func trade(kind shared.TradeType, ev marketEvent, price float64) (*shared.Trade, bool) {
	qty, err := strconv.ParseFloat(ev.Qty, 64)
	if err != nil || !(qty > 0) {
		return nil, false
	}
	return &shared.Trade{
		Type:   kind,
		Symbol: strings.ToUpper(ev.Symbol),
		Price:  price,
		Qty:    qty,
		Ts:     ev.TradeTime,
	}, true
}
