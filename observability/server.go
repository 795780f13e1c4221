package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookline/hookline/logging"
)

// shutdownTimeout bounds graceful shutdown of the metrics and pprof servers.
const shutdownTimeout = 5 * time.Second

// ServerConfig contains configuration for the observability server.
type ServerConfig struct {
	// MetricsEnabled enables the metrics server.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddr is the address for the metrics server (e.g., ":9090").
	MetricsAddr string `yaml:"metrics_addr"`

	// PprofEnabled enables the pprof server.
	PprofEnabled bool `yaml:"pprof_enabled"`

	// PprofAddr is the address for the pprof server (e.g., ":6060").
	PprofAddr string `yaml:"pprof_addr"`

	// Gatherer is the registry to serve metrics from. If nil, the package
	// Registry is used. Tests pass an isolated registry here.
	Gatherer prometheus.Gatherer `yaml:"-"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    ":9090",
		PprofEnabled:   false,
		PprofAddr:      ":6060",
	}
}

// Server provides observability endpoints (metrics and pprof).
type Server struct {
	logger        logging.Logger
	config        ServerConfig
	metricsServer *http.Server
	pprofServer   *http.Server
	mu            sync.Mutex
	running       bool
}

// NewServer creates a new observability server.
func NewServer(logger logging.Logger, config ServerConfig) *Server {
	if config.PprofAddr == "" {
		config.PprofAddr = ":6060"
	}
	if config.Gatherer == nil {
		config.Gatherer = Registry
	}

	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		config: config,
	}
}

// Start begins serving metrics and pprof endpoints. Both servers stop when
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.config.MetricsEnabled {
		if err := s.startMetricsServer(ctx); err != nil {
			return err
		}
	}

	if s.config.PprofEnabled {
		if err := s.startPprofServer(ctx); err != nil {
			return err
		}
	}

	s.running = true
	return nil
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.FieldAddr, s.config.MetricsAddr).Msg("failed to listen for metrics server")
		return fmt.Errorf("failed to listen on %s: %w", s.config.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info().Str(logging.FieldAddr, s.config.MetricsAddr).Msg("serving metrics")
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}()

	return nil
}

func (s *Server) startPprofServer(ctx context.Context) error {
	pprofMux := http.NewServeMux()
	pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
	pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", s.config.PprofAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.PprofAddr, err)
	}

	s.pprofServer = &http.Server{
		Handler:           pprofMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info().Str(logging.FieldAddr, s.config.PprofAddr).Msg("serving pprof")
		if err := s.pprofServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("pprof server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.pprofServer.Shutdown(shutdownCtx)
	}()

	return nil
}

// Stop shuts down the servers. Safe to call when never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	if s.pprofServer != nil {
		_ = s.pprofServer.Shutdown(shutdownCtx)
	}
	return nil
}
