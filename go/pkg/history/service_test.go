package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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

type fakeLive struct {
	mu      sync.Mutex
	started int
	ticks   []shared.Tick
	limit   int
	panics  bool
}

func (f *fakeLive) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeLive) Range(symbol string, fromMs, toMs int64, limit int) []shared.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("ring corrupted")
	}
	f.limit = limit
	var out []shared.Tick
	for _, t := range f.ticks {
		if t.Symbol == symbol && t.Ts >= fromMs && t.Ts <= toMs && len(out) < limit {
			out = append(out, t)
		}
	}
	return out
}

func liveTicks() []shared.Tick {
	return []shared.Tick{
		{Symbol: "BTCUSDT", Spot: 100, Mark: 101, BasisBps: 100, Ts: 1000},
		{Symbol: "BTCUSDT", Spot: 100, Mark: 102, BasisBps: 200, Ts: 2000},
		{Symbol: "BTCUSDT", Spot: 100, Mark: 103, BasisBps: 300, Ts: 3000},
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-5))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}

func TestGetTicks(t *testing.T) {
	stored := []shared.Tick{{Symbol: "BTCUSDT", Spot: 1, Mark: 2, BasisBps: 10000, Ts: 1500}}

	testCases := []struct {
		name       string
		withStore  bool
		mockFn     func(store *mock.MockStore)
		want       []shared.Tick
		wantStarts int
	}{
		{
			name:      "storage answers",
			withStore: true,
			mockFn: func(store *mock.MockStore) {
				store.EXPECT().QueryTicks(gomock.Any(), "BTCUSDT", int64(0), int64(5000), DefaultLimit).Return(stored, nil)
			},
			want: stored,
		},
		{
			name:      "storage empty falls back to memory",
			withStore: true,
			mockFn: func(store *mock.MockStore) {
				store.EXPECT().QueryTicks(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]shared.Tick{}, nil)
			},
			want:       liveTicks(),
			wantStarts: 1,
		},
		{
			name:      "storage error falls back to memory",
			withStore: true,
			mockFn: func(store *mock.MockStore) {
				store.EXPECT().QueryTicks(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
			},
			want:       liveTicks(),
			wantStarts: 1,
		},
		{
			name:       "storage disabled",
			mockFn:     func(*mock.MockStore) {},
			want:       liveTicks(),
			wantStarts: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mock.NewMockStore(ctrl)
			tc.mockFn(store)

			live := &fakeLive{ticks: liveTicks()}
			var svc *Service
			if tc.withStore {
				svc = New(store, live, zap.NewNop())
			} else {
				svc = New(nil, live, zap.NewNop())
			}

			got, err := svc.GetTicks(context.Background(), "BTCUSDT", 0, 5000, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantStarts, live.started)
		})
	}
}

func TestGetTicksEmptyRangeIsNotNil(t *testing.T) {
	svc := New(nil, &fakeLive{ticks: liveTicks()}, zap.NewNop())
	got, err := svc.GetTicks(context.Background(), "BTCUSDT", 9000, 10000, 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetTicksClampsLimitForMemory(t *testing.T) {
	live := &fakeLive{ticks: liveTicks()}
	svc := New(nil, live, zap.NewNop())
	got, err := svc.GetTicks(context.Background(), "BTCUSDT", 0, 5000, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Ts)

	_, err = svc.GetTicks(context.Background(), "BTCUSDT", 0, 5000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, live.limit)
}

func newTestHandler(live *fakeLive) *Handler {
	h := NewHandler(New(nil, live, zap.NewNop()), "btcusdt")
	h.now = func() time.Time { return time.UnixMilli(601_000) }
	return h
}

func TestHandler(t *testing.T) {
	testCases := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "default window",
			query:      "",
			wantStatus: http.StatusOK,
			wantBody:   `[{"symbol":"BTCUSDT","spot":100,"mark":101,"basisBps":100,"ts":1000},{"symbol":"BTCUSDT","spot":100,"mark":102,"basisBps":200,"ts":2000},{"symbol":"BTCUSDT","spot":100,"mark":103,"basisBps":300,"ts":3000}]`,
		},
		{
			name:       "explicit range and lowercase symbol",
			query:      "?symbol=btcusdt&from=1500&to=2500",
			wantStatus: http.StatusOK,
			wantBody:   `[{"symbol":"BTCUSDT","spot":100,"mark":102,"basisBps":200,"ts":2000}]`,
		},
		{
			name:       "empty range",
			query:      "?from=5000&to=6000",
			wantStatus: http.StatusOK,
			wantBody:   `[]`,
		},
		{
			name:       "bad from",
			query:      "?from=yesterday",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad limit",
			query:      "?limit=lots",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "fractional millis are truncated",
			query:      "?from=1500.7&to=2500.2",
			wantStatus: http.StatusOK,
			wantBody:   `[{"symbol":"BTCUSDT","spot":100,"mark":102,"basisBps":200,"ts":2000}]`,
		},
		{
			name:       "non-finite from",
			query:      "?from=NaN",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "infinite to",
			query:      "?to=-Inf",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "limit beyond int64",
			query:      "?limit=1e300",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestHandler(&fakeLive{ticks: liveTicks()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/ticks"+tc.query, nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, rec.Body.String())
				return
			}
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandlerRecoversPanics(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&fakeLive{panics: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/ticks", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"ring corrupted"}`, rec.Body.String())
}
