package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"basis-tracker/go/pkg/feed"
	"basis-tracker/go/pkg/shared"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQuoter struct {
	calls    atomic.Int32
	failOnce atomic.Bool
	spot     float64
	mark     float64
}

func (q *fakeQuoter) SpotPrice(context.Context, string) (float64, error) {
	q.calls.Add(1)
	if q.failOnce.CompareAndSwap(true, false) {
		return 0, errors.New("timeout")
	}
	return q.spot, nil
}

func (q *fakeQuoter) MarkPrice(context.Context, string) (float64, error) {
	return q.mark, nil
}

type sinkRecorder struct {
	mu    sync.Mutex
	ticks []shared.Tick
}

func (s *sinkRecorder) Add(t shared.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

// steppingClock advances one second per reading so consecutive ticks never
// share a timestamp.
func steppingClock() func() time.Time {
	var n atomic.Int64
	base := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * time.Second) }
}

func TestPollingEmitsTicksAndSurvivesErrors(t *testing.T) {
	q := &fakeQuoter{spot: 100, mark: 101}
	q.failOnce.Store(true)
	var errCount atomic.Int32
	sink := &sinkRecorder{}

	svc := New(Options{
		Symbol:       "btcusdt",
		PollInterval: time.Millisecond,
		Now:          steppingClock(),
		OnError:      func(error) { errCount.Add(1) },
	}, q, zap.NewNop(), sink)
	_, events := svc.Subscribe(16)

	svc.Start()
	svc.Start()
	defer svc.Stop()

	select {
	case ev := <-events:
		require.Equal(t, shared.EventTick, ev.Kind)
		assert.Equal(t, "BTCUSDT", ev.Tick.Symbol)
		assert.InDelta(t, 100.0, ev.Tick.BasisBps, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick emitted")
	}

	assert.Equal(t, int32(1), errCount.Load())
	require.Eventually(t, func() bool { return sink.len() >= 2 }, 2*time.Second, 10*time.Millisecond)

	last, ok := svc.Last()
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", last.Symbol)
}

func TestPollingIntervalHasFloor(t *testing.T) {
	svc := New(Options{Symbol: "BTCUSDT", PollInterval: time.Millisecond}, &fakeQuoter{spot: 1, mark: 1}, nil)
	assert.Equal(t, MinPollInterval, svc.opts.PollInterval)
	assert.Equal(t, DefaultRingCap, svc.ring.Cap())
}

func TestStopIsIdempotentAndRestartable(t *testing.T) {
	q := &fakeQuoter{spot: 100, mark: 100}
	svc := New(Options{Symbol: "BTCUSDT", Now: steppingClock()}, q, zap.NewNop())

	svc.Stop()
	svc.Start()
	require.True(t, svc.Running())
	svc.Stop()
	svc.Stop()
	assert.False(t, svc.Running())

	calls := q.calls.Load()
	svc.Start()
	defer svc.Stop()
	require.Eventually(t, func() bool { return q.calls.Load() > calls }, time.Second, 5*time.Millisecond)
}

func TestAcceptKeepsRingSubscribersAndSinksInStep(t *testing.T) {
	sink := &sinkRecorder{}
	svc := New(Options{Symbol: "BTCUSDT"}, nil, zap.NewNop(), sink)
	id, events := svc.Subscribe(8)

	for _, ts := range []int64{100, 100, 90, 150} {
		svc.accept(shared.Tick{Symbol: "BTCUSDT", Spot: 1, Mark: 1, Ts: ts})
	}

	assert.Equal(t, []int64{100, 150}, tsOf(svc.Range("BTCUSDT", 0, 1000, 0)))
	assert.Equal(t, []int64{100, 150}, tsOf(sink.ticks))
	assert.Equal(t, int64(100), (<-events).Tick.Ts)
	assert.Equal(t, int64(150), (<-events).Tick.Ts)

	svc.Unsubscribe(id)
	_, open := <-events
	assert.False(t, open)
}

func TestRecentWindow(t *testing.T) {
	now := time.UnixMilli(10_000)
	svc := New(Options{Symbol: "BTCUSDT", Now: func() time.Time { return now }}, nil, zap.NewNop())
	for _, ts := range []int64{1_000, 7_000, 8_000, 9_500} {
		svc.accept(shared.Tick{Symbol: "BTCUSDT", Ts: ts})
	}
	assert.Equal(t, []int64{8_000, 9_500}, tsOf(svc.Recent(2*time.Second)))
}

func streamServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range payloads {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(p))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamingMergesLegs(t *testing.T) {
	spotSrv := streamServer(t, `{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"100","q":"0.5","T":1}`)
	defer spotSrv.Close()
	futSrv := streamServer(t, `{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":2,"s":"BTCUSDT","p":"101","P":"0","T":0}}`)
	defer futSrv.Close()

	svc := New(Options{
		Symbol:           "BTCUSDT",
		Mode:             ModeStreaming,
		SpotStreamURL:    "ws" + strings.TrimPrefix(spotSrv.URL, "http"),
		FuturesStreamURL: "ws" + strings.TrimPrefix(futSrv.URL, "http"),
		FeedOptions:      []feed.Option{feed.WithBackoff(10*time.Millisecond, 50*time.Millisecond)},
		Now:              steppingClock(),
	}, nil, zap.NewNop())
	_, events := svc.Subscribe(16)
	svc.Start()
	defer svc.Stop()

	var sawTrade, sawTick bool
	deadline := time.After(3 * time.Second)
	for !(sawTrade && sawTick) {
		select {
		case ev := <-events:
			switch ev.Kind {
			case shared.EventTrade:
				sawTrade = true
				assert.Equal(t, shared.SpotTrade, ev.Trade.Type)
			case shared.EventTick:
				sawTick = true
				assert.Equal(t, 100.0, ev.Tick.Spot)
				assert.Equal(t, 101.0, ev.Tick.Mark)
				assert.InDelta(t, 100.0, ev.Tick.BasisBps, 1e-9)
			}
		case <-deadline:
			t.Fatalf("trade=%v tick=%v", sawTrade, sawTick)
		}
	}
}
