package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes Prometheus metrics.
type MetricsServer struct {
	srv *http.Server
}

func NewMetricsServer(port int) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (m *MetricsServer) Start() {
	go func() { _ = m.srv.ListenAndServe() }()
}

func (m *MetricsServer) Close() error { return m.srv.Close() }

// register returns the already registered collector when one with the same
// descriptor exists, so components can be constructed more than once.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Convenience helpers to avoid repeating namespace.
func NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return register(prometheus.NewCounter(opts))
}

func NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(prometheus.NewCounterVec(opts, labels))
}

func NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(prometheus.NewGauge(opts))
}

func NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	return register(prometheus.NewGaugeVec(opts, labels))
}

func NewHist(opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(prometheus.NewHistogram(opts))
}

func NewHistVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(prometheus.NewHistogramVec(opts, labels))
}
