package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"basis-tracker/go/pkg/persist/mock"
	"basis-tracker/go/pkg/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func tick(ts int64, spot float64) shared.Tick {
	mark := spot * 1.001
	return shared.Tick{Symbol: "BTCUSDT", Spot: spot, Mark: mark, BasisBps: (mark - spot) / spot * 10000, Ts: ts}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	clock := newFakeClock()

	var batches [][]shared.Tick
	store.EXPECT().InsertTicks(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ticks []shared.Tick) error {
		batches = append(batches, ticks)
		return nil
	}).Times(3)
	store.EXPECT().UpsertCandles(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	b := NewBatcher(store, zap.NewNop(), WithClock(clock.Now))
	for i := 0; i < 450; i++ {
		b.Add(tick(int64(i), 100))
	}
	b.Close()

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 200)
	assert.Len(t, batches[1], 200)
	assert.Len(t, batches[2], 50)

	var seen []int64
	for _, batch := range batches {
		for _, tk := range batch {
			seen = append(seen, tk.Ts)
		}
	}
	require.Len(t, seen, 450)
	for i, ts := range seen {
		assert.Equal(t, int64(i), ts)
	}
}

func TestBatcherFlushesOnElapsedTime(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)
	clock := newFakeClock()

	store.EXPECT().InsertTicks(gomock.Any(), gomock.Len(12)).Return(nil).Times(1)
	store.EXPECT().UpsertCandles(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	b := NewBatcher(store, zap.NewNop(), WithClock(clock.Now))
	for i := 0; i < 10; i++ {
		b.Add(tick(int64(i), 100))
	}
	clock.Advance(249 * time.Millisecond)
	b.Add(tick(10, 100))
	clock.Advance(time.Millisecond)
	b.Add(tick(11, 100))
	b.Close()
	b.Close()
}

func TestBatcherFoldsSecondCandles(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)

	var bars []shared.Bar1s
	store.EXPECT().InsertTicks(gomock.Any(), gomock.Len(4)).Return(nil)
	store.EXPECT().UpsertCandles(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, in []shared.Bar1s) error {
		bars = in
		return nil
	})

	b := NewBatcher(store, zap.NewNop(), WithClock(newFakeClock().Now))
	b.Add(tick(1000, 10))
	b.Add(tick(1500, 12))
	b.Add(tick(1700, 9))
	b.Add(tick(2100, 11))
	b.Close()

	require.Len(t, bars, 6)
	var spot []shared.Bar1s
	for _, bar := range bars {
		if bar.Series == SeriesSpot {
			spot = append(spot, bar)
		}
		assert.LessOrEqual(t, bar.L, bar.O)
		assert.LessOrEqual(t, bar.L, bar.C)
		assert.GreaterOrEqual(t, bar.H, bar.O)
		assert.GreaterOrEqual(t, bar.H, bar.C)
	}
	assert.Equal(t, []shared.Bar1s{
		{Symbol: "BTCUSDT", Series: SeriesSpot, TS: 1, O: 10, H: 12, L: 9, C: 9},
		{Symbol: "BTCUSDT", Series: SeriesSpot, TS: 2, O: 11, H: 11, L: 11, C: 11},
	}, spot)
}

func TestBatcherSwallowsStatementErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)

	gomock.InOrder(
		store.EXPECT().InsertTicks(gomock.Any(), gomock.Len(2)).Return(errors.New("connection refused")),
		store.EXPECT().UpsertCandles(gomock.Any(), gomock.Any()).Return(errors.New("connection refused")),
		store.EXPECT().InsertTicks(gomock.Any(), gomock.Len(1)).Return(nil),
		store.EXPECT().UpsertCandles(gomock.Any(), gomock.Any()).Return(nil),
	)

	b := NewBatcher(store, zap.NewNop(), WithClock(newFakeClock().Now), WithBatchSize(2))
	b.Add(tick(1, 100))
	b.Add(tick(2, 100))
	b.Add(tick(3, 100))
	b.Close()
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(1), floorDiv(1999, 1000))
	assert.Equal(t, int64(-1), floorDiv(-1, 1000))
	assert.Equal(t, int64(-1), floorDiv(-1000, 1000))
}
