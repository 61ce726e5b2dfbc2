package shared

import (
	"encoding/json"
	"math"
	"time"
)

// Tick is one basis observation. Ts is milliseconds since epoch.
type Tick struct {
	Symbol   string  `json:"symbol"`
	Spot     float64 `json:"spot"`
	Mark     float64 `json:"mark"`
	BasisBps float64 `json:"basisBps"`
	Ts       int64   `json:"ts"`
}

func (t Tick) EventTime() time.Time {
	return time.UnixMilli(t.Ts)
}

// Finite reports whether every numeric field can be aggregated.
func (t Tick) Finite() bool {
	return finite(t.Spot) && finite(t.Mark) && finite(t.BasisBps)
}

type TradeType string

const (
	SpotTrade    TradeType = "spot_trade"
	FuturesTrade TradeType = "futures_trade"
)

// Trade is a UI-facing trade print. No ordering is implied.
type Trade struct {
	Type   TradeType `json:"type"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Ts     int64     `json:"ts"`
}

// Candle is an OHLC bar; Time is the bucket start in seconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Bar1s is a per-second candle row for one derived series.
type Bar1s struct {
	Symbol string  `json:"symbol"`
	Series string  `json:"series"`
	TS     int64   `json:"ts"` // seconds epoch
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
}

// BarTF represents aggregated timeframes (1m/5m/etc.) for one series.
type BarTF struct {
	Symbol  string   `json:"symbol"`
	Series  string   `json:"series"`
	TF      string   `json:"tf"`
	TS      int64    `json:"ts"` // bucket start seconds
	O       float64  `json:"o"`
	H       float64  `json:"h"`
	L       float64  `json:"l"`
	C       float64  `json:"c"`
	NTicks  int64    `json:"n_ticks"`
	RSI     *float64 `json:"rsi,omitempty"`
	MACD    *float64 `json:"macd,omitempty"`
	Signal  *float64 `json:"signal,omitempty"`
	MACDHst *float64 `json:"macd_hist,omitempty"`
}

func (b BarTF) WindowEnd(tfSeconds int64) int64 {
	return b.TS + tfSeconds
}

// EventKind discriminates push channel payloads.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventTick
	EventTrade
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventTrade:
		return "trade"
	default:
		return "ignored"
	}
}

// Event is the push channel message: exactly one of Tick or Trade is
// meaningful, selected by Kind.
type Event struct {
	Kind  EventKind
	Tick  Tick
	Trade Trade
}

func TickEvent(t Tick) Event   { return Event{Kind: EventTick, Tick: t} }
func TradeEvent(t Trade) Event { return Event{Kind: EventTrade, Trade: t} }

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventTick:
		return json.Marshal(e.Tick)
	case EventTrade:
		return json.Marshal(e.Trade)
	default:
		return []byte("null"), nil
	}
}

type wireEvent struct {
	Type     string   `json:"type"`
	Symbol   string   `json:"symbol"`
	Spot     *float64 `json:"spot"`
	Mark     *float64 `json:"mark"`
	BasisBps *float64 `json:"basisBps"`
	Price    *float64 `json:"price"`
	Qty      *float64 `json:"qty"`
	Ts       *float64 `json:"ts"`
}

// DecodeEvent classifies a raw push message. Unknown tags, missing fields and
// malformed JSON all yield EventIgnored.
func DecodeEvent(raw []byte) Event {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}
	}
	switch TradeType(w.Type) {
	case SpotTrade, FuturesTrade:
		if w.Price == nil || w.Qty == nil || w.Ts == nil {
			return Event{}
		}
		if !(*w.Price > 0) || !(*w.Qty > 0) || !finite(*w.Price) || !finite(*w.Qty) {
			return Event{}
		}
		return TradeEvent(Trade{
			Type:   TradeType(w.Type),
			Symbol: w.Symbol,
			Price:  *w.Price,
			Qty:    *w.Qty,
			Ts:     int64(*w.Ts),
		})
	case "":
		if w.Spot == nil || w.Mark == nil || w.BasisBps == nil || w.Ts == nil {
			return Event{}
		}
		t := Tick{Symbol: w.Symbol, Spot: *w.Spot, Mark: *w.Mark, BasisBps: *w.BasisBps, Ts: int64(*w.Ts)}
		if !t.Finite() || !finite(*w.Ts) {
			return Event{}
		}
		return TickEvent(t)
	default:
		return Event{}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
