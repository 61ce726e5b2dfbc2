package ingest

import (
	"testing"

	"basis-tracker/go/pkg/shared"

	"github.com/stretchr/testify/assert"
)

func tsOf(ticks []shared.Tick) []int64 {
	out := make([]int64, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, t.Ts)
	}
	return out
}

func TestRingRejectsNonIncreasingTs(t *testing.T) {
	r := NewRing(10)
	var accepted []int64
	for _, ts := range []int64{100, 100, 90, 150} {
		if r.Push(shared.Tick{Symbol: "BTCUSDT", Ts: ts}) {
			accepted = append(accepted, ts)
		}
	}
	assert.Equal(t, []int64{100, 150}, accepted)
	assert.Equal(t, []int64{100, 150}, tsOf(r.Since(0)))
}

func TestRingEvictsOldestAtCap(t *testing.T) {
	r := NewRing(3)
	for ts := int64(1); ts <= 7; ts++ {
		r.Push(shared.Tick{Symbol: "BTCUSDT", Ts: ts})
		assert.LessOrEqual(t, r.Len(), 3)
	}
	assert.Equal(t, []int64{5, 6, 7}, tsOf(r.Since(0)))
	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, int64(7), last.Ts)
}

func TestRingSinceIsExactSuffix(t *testing.T) {
	r := NewRing(100)
	for ts := int64(0); ts < 50; ts += 5 {
		r.Push(shared.Tick{Symbol: "BTCUSDT", Ts: ts})
	}
	assert.Equal(t, []int64{30, 35, 40, 45}, tsOf(r.Since(30)))
	assert.Equal(t, []int64{35, 40, 45}, tsOf(r.Since(31)))
	assert.Empty(t, r.Since(46))
}

func TestRingBetween(t *testing.T) {
	r := NewRing(100)
	for ts := int64(10); ts <= 100; ts += 10 {
		r.Push(shared.Tick{Symbol: "BTCUSDT", Ts: ts})
	}
	assert.Equal(t, []int64{30, 40, 50}, tsOf(r.Between("BTCUSDT", 25, 50, 0)))
	assert.Equal(t, []int64{30, 40}, tsOf(r.Between("BTCUSDT", 25, 50, 2)))
	assert.Empty(t, r.Between("ETHUSDT", 0, 1000, 0))
	assert.NotNil(t, r.Between("ETHUSDT", 0, 1000, 0))
}
