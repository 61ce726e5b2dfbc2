package basis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBps(t *testing.T) {
	cases := []struct {
		name       string
		spot, mark float64
		want       float64
	}{
		{"premium", 100, 101, 100},
		{"discount", 200, 199, -50},
		{"flat", 50000, 50000, 0},
		{"zero spot", 0, 101, 0},
		{"negative spot", -1, 101, 0},
		{"nan spot", math.NaN(), 101, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ComputeBps(tc.spot, tc.mark), 1e-9)
		})
	}
}

func TestNewTick(t *testing.T) {
	tk := NewTick("BTCUSDT", 40000, 40040, 1700000000123)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.InDelta(t, 10.0, tk.BasisBps, 1e-9)
	assert.Equal(t, int64(1700000000123), tk.Ts)
}
