package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/services"
)

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	logger *logging.Logger

	mu      sync.Mutex
	listen  string
	srv     *http.Server
	addr    net.Addr
	lastErr error
}

// NewServer creates a metrics endpoint bound to listen once started.
func NewServer(listen string, logger *logging.Logger) *Server {
	return &Server{
		listen: listen,
		logger: logging.OrDefault(logger).WithComponent("metrics"),
	}
}

func (s *Server) Name() string { return "metrics" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.addr = ln.Addr()
	s.lastErr = nil

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
	}()

	s.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.addr = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) Health() services.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := services.Health{Name: s.Name(), Running: s.srv != nil, Addr: s.listen}
	if s.addr != nil {
		h.Addr = s.addr.String()
	}
	if s.lastErr != nil {
		h.Error = s.lastErr.Error()
	}
	return h
}

// Reload rebinds when the listen address changed.
func (s *Server) Reload(cfg *config.Config) (bool, error) {
	if cfg.Metrics == nil {
		return false, nil
	}
	s.mu.Lock()
	changed := cfg.Metrics.Listen != s.listen
	running := s.srv != nil
	s.listen = cfg.Metrics.Listen
	s.mu.Unlock()

	if !changed || !running {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		return false, err
	}
	return true, s.Start(context.Background())
}
