// Package debugattach serves profiling and metrics endpoints for a worker
// that was started with debugging enabled, and can hold the worker until
// someone attached.
package debugattach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	log     *slog.Logger
	router  *mux.Router
	srv     *http.Server
	ln      net.Listener
	started time.Time

	cont     chan struct{}
	contOnce sync.Once
}

// New builds the router without listening
func New(gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	s := &Server{
		log:     log.With("component", "debugattach"),
		router:  mux.NewRouter(),
		started: time.Now(),
		cont:    make(chan struct{}),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/continue", s.handleContinue).Methods(http.MethodGet, http.MethodPost)

	s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen starts serving on 127.0.0.1:port
func (s *Server) Listen(port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug server failed", "error", err)
		}
	}()
	s.log.Info("debug server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// WaitForContinue blocks until /debug/continue is requested or ctx ends
func (s *Server) WaitForContinue(ctx context.Context) error {
	s.log.Info("waiting for debugger", "continue", "http://"+s.Addr()+"/debug/continue")
	select {
	case <-s.cont:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"uptime_ms":  time.Since(s.started).Milliseconds(),
		"continued":  s.continued(),
		"started_at": s.started.Format(time.RFC3339),
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.contOnce.Do(func() { close(s.cont) })
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) continued() bool {
	select {
	case <-s.cont:
		return true
	default:
		return false
	}
}
