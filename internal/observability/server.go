package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server exposes /metrics and /healthz for the worker process.
type Server struct {
	addr  string
	mux   *chi.Mux
	log   zerolog.Logger
	ready atomic.Bool
}

func NewServer(addr string, reg *prometheus.Registry, log zerolog.Logger) *Server {
	s := &Server{addr: addr, mux: chi.NewRouter(), log: log}
	s.mux.Use(chimw.RequestID)
	s.mux.Use(chimw.Recoverer)
	s.mux.Handle("/metrics", MetricsHandler(reg))
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Serve blocks until ctx is cancelled. An empty address disables the server.
func (s *Server) Serve(ctx context.Context) error {
	if s.addr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
