// Package server exposes the push channel, the history API and health
// checks over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"basis-tracker/go/pkg/shared"

	"go.uber.org/zap"
)

type Server struct {
	srv    *http.Server
	mux    *http.ServeMux
	latest func() (shared.Tick, bool)
	log    *zap.Logger
}

// New wires the routes. ws and history may be nil, in which case the route
// is not mounted.
func New(addr string, ws, history http.Handler, latest func() (shared.Tick, bool), log *zap.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		latest: latest,
		log:    shared.Component(log, "http"),
	}
	if ws != nil {
		s.mux.Handle("/ws", ws)
	}
	if history != nil {
		s.mux.Handle("/api/history/ticks", history)
	}
	s.mux.HandleFunc("/api/current", s.current)
	s.mux.HandleFunc("/health", s.health)
	s.mux.HandleFunc("/healthz", s.health)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler is the mux wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.log, cors(s.mux))
}

// Start serves in the background. Errors other than a clean shutdown are
// logged.
func (s *Server) Start() {
	go func() {
		s.log.Info("http listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) current(w http.ResponseWriter, _ *http.Request) {
	if s.latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	t, ok := s.latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
