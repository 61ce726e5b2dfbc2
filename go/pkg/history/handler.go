package history

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultWindow = 10 * time.Minute

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves GET /api/history/ticks?symbol&from&to&limit.
type Handler struct {
	svc           *Service
	defaultSymbol string
	now           func() time.Time
}

func NewHandler(svc *Service, defaultSymbol string) *Handler {
	return &Handler{svc: svc, defaultSymbol: strings.ToUpper(defaultSymbol), now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.svc.log.Error("history handler panic", zap.Any("panic", rec))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: fmt.Sprint(rec)})
		}
	}()

	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}

	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		symbol = h.defaultSymbol
	}
	now := h.now().UnixMilli()
	to, err := intParam(q.Get("to"), now)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid to: " + err.Error()})
		return
	}
	from, err := intParam(q.Get("from"), now-defaultWindow.Milliseconds())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid from: " + err.Error()})
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit: " + err.Error()})
		return
	}

	ticks, err := h.svc.GetTicks(r.Context(), symbol, from, to, int(limit))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

func intParam(raw string, def int64) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0, err
		}
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%q is out of range", raw)
		}
		v = int64(f)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
