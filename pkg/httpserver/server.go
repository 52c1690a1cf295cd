// pkg/httpserver/server.go

// Package httpserver serves the tracker's operational endpoints:
// Prometheus metrics, liveness and readiness. Readiness covers the
// websocket feed and every enabled sink.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// checkTimeout bounds one readiness request; a stuck sink ping fails it.
const checkTimeout = 2 * time.Second

// ReadyChecker returns nil when its dependency is usable.
type ReadyChecker func(ctx context.Context) error

// Config defines the listen address, timeouts and endpoint paths.
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path" yaml:"metrics_path" json:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path" yaml:"healthz_path" json:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path" yaml:"readyz_path" json:"readyz_path"`
}

func orDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func orString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func (c *Config) applyDefaults() {
	orDuration(&c.ReadTimeout, 10*time.Second)
	orDuration(&c.WriteTimeout, 15*time.Second)
	orDuration(&c.IdleTimeout, 60*time.Second)
	orDuration(&c.ShutdownTimeout, 5*time.Second)
	orString(&c.MetricsPath, "/metrics")
	orString(&c.HealthzPath, "/healthz")
	orString(&c.ReadyzPath, "/readyz")
}

// Server exposes metrics, liveness and readiness over HTTP.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger

	mu sync.Mutex
	ln net.Listener
}

// New builds the server. A nil gatherer serves the default registry.
func New(cfg Config, gatherer prometheus.Gatherer, log *logger.Logger, checks ...ReadyChecker) (*Server, error) {
	cfg.applyDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("httpserver: addr is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle(cfg.ReadyzPath, readyHandler(checks))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log.Named("http-server"),
	}, nil
}

// readyHandler answers 200 only when every check passes; otherwise 503
// listing each failure.
func readyHandler(checks []ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		var failures []string
		for _, check := range checks {
			if err := check(ctx); err != nil {
				failures = append(failures, err.Error())
			}
		}
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "NOT READY: %s", strings.Join(failures, "; "))
			return
		}
		_, _ = w.Write([]byte("READY"))
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the bound address once Start is listening, else the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.httpServer.Addr
}

// Start binds the listener, serves until ctx is done and then shuts down
// gracefully. Bind errors are returned immediately; a ctx-triggered
// shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("serving health endpoints", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	s.log.Info("health endpoints stopped")
	return nil
}
