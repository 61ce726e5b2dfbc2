package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"basis-tracker/go/pkg/push"
	"basis-tracker/go/pkg/shared"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := New(":0", nil, nil, nil, zap.NewNop()).Handler()
	for _, path := range []string{"/health", "/healthz"} {
		rec := get(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCurrent(t *testing.T) {
	var latest *shared.Tick
	h := New(":0", nil, nil, func() (shared.Tick, bool) {
		if latest == nil {
			return shared.Tick{}, false
		}
		return *latest, true
	}, zap.NewNop()).Handler()

	rec := get(t, h, http.MethodGet, "/api/current")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	latest = &shared.Tick{Symbol: "BTCUSDT", Spot: 100, Mark: 101, BasisBps: 100, Ts: 5}
	rec = get(t, h, http.MethodGet, "/api/current")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","spot":100,"mark":101,"basisBps":100,"ts":5}`, rec.Body.String())
}

func TestPreflight(t *testing.T) {
	h := New(":0", nil, nil, nil, zap.NewNop()).Handler()
	rec := get(t, h, http.MethodOptions, "/api/history/ticks")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestHistoryRouteIsMounted(t *testing.T) {
	history := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "[]")
	})
	h := New(":0", nil, history, nil, zap.NewNop()).Handler()
	rec := get(t, h, http.MethodGet, "/api/history/ticks?symbol=BTCUSDT")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	b := push.NewBroadcaster(zap.NewNop())
	defer b.Close()
	srv := httptest.NewServer(New(":0", b, nil, nil, zap.NewNop()).Handler())
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Broadcast(shared.TickEvent(shared.Tick{Symbol: "BTCUSDT", Spot: 1, Mark: 1, Ts: 1}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","spot":1,"mark":1,"basisBps":0,"ts":1}`, string(data))
}
