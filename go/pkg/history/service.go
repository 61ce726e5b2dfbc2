// Package history serves bounded tick ranges from storage, falling back to
// the live ring buffer.
package history

import (
	"context"

	"basis-tracker/go/pkg/persist"
	"basis-tracker/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultLimit = 10000
	MaxLimit     = 200000
)

// Live is the in-memory fallback, implemented by *ingest.Service.
type Live interface {
	Start()
	Range(symbol string, fromMs, toMs int64, limit int) []shared.Tick
}

type Service struct {
	store    persist.Store
	live     Live
	log      *zap.Logger
	requests *prometheus.CounterVec
}

// New builds the query service. store may be nil when storage is disabled.
func New(store persist.Store, live Live, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		live:     live,
		log:      shared.Component(log, "history"),
		requests: shared.NewCounterVec(prometheus.CounterOpts{Name: "history_requests_total", Help: "History queries by answering source"}, []string{"source"}),
	}
}

// ClampLimit applies the default and the [1, MaxLimit] bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// GetTicks returns ticks of symbol with fromMs <= ts <= toMs, ascending. It
// never returns nil on success.
func (s *Service) GetTicks(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]shared.Tick, error) {
	limit = ClampLimit(limit)

	if s.store != nil {
		ticks, err := s.store.QueryTicks(ctx, symbol, fromMs, toMs, limit)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.log.Warn("storage query failed, using memory", zap.String("symbol", symbol), zap.Error(err))
		case len(ticks) > 0:
			s.requests.WithLabelValues("storage").Inc()
			return ticks, nil
		}
	}

	s.requests.WithLabelValues("memory").Inc()
	if s.live == nil {
		return []shared.Tick{}, nil
	}
	s.live.Start()
	out := s.live.Range(symbol, fromMs, toMs, limit)
	if out == nil {
		out = []shared.Tick{}
	}
	return out, nil
}
