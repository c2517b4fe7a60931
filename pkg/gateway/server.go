package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hollis/chassis/pkg/agent"
)

// AgentRunner is the run surface the server needs. *agent.Runner
// satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, params agent.RunParams) (agent.Result, error)
	RunStream(ctx context.Context, params agent.RunParams) <-chan agent.Event
}

// Server exposes runs and the aggregated tool catalog over HTTP.
type Server struct {
	host           string
	port           int
	runner         AgentRunner
	tools          agent.ToolSource
	metricsHandler http.Handler
	authHandler    *AuthHandler
	upgrader       websocket.Upgrader
	logger         zerolog.Logger

	server         *http.Server
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Host   string
	Port   int
	APIKey string

	Runner AgentRunner
	Tools  agent.ToolSource

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	Logger zerolog.Logger
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool source is required")
	}

	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		runner:         cfg.Runner,
		tools:          cfg.Tools,
		metricsHandler: cfg.MetricsHandler,
		authHandler:    NewAuthHandler(cfg.APIKey),
		logger:         cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if !s.authHandler.Enabled() {
		s.logger.Warn().Msg("No API key configured, gateway is unauthenticated")
	}

	return s, nil
}

// Handler returns the full route table. Split out so tests can drive the
// server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", s.authHandler.Middleware(s.handleCompletions))
	mux.HandleFunc("/v1/tools", s.authHandler.Middleware(s.handleTools))
	mux.HandleFunc("/v1/ws", s.authHandler.Middleware(s.handleWebSocket))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	return mux
}

// Start starts the gateway server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}
