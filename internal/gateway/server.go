// Package gateway provides the HTTP surface of the skipper agent backend:
// the streaming chat endpoint, browser-session control plane, agent catalog,
// and operational endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/config"
	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/debounce"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/steel"
	"github.com/skipperhq/skipper/pkg/models"
)

// resumeCooldown absorbs duplicate resume clicks from the frontend. A second
// resume inside the window reports success without re-sending the command.
const resumeCooldown = time.Second

// ClientFactory builds a model client for one chat request.
type ClientFactory func(ctx context.Context, cfg models.ModelConfig) (agent.ModelClient, error)

// RunnerFactory builds a tool runner bound to one browser session. The
// returned closer releases the browser connection when the stream ends.
type RunnerFactory func(ctx context.Context, sessionID string, agentType agent.Type) (agent.ToolRunner, func() error, error)

// SessionProvider is the remote browser-session API the control plane
// drives. *steel.Client satisfies it; tests substitute fakes.
type SessionProvider interface {
	CreateSession(ctx context.Context, opts steel.CreateOptions) (*steel.Session, error)
	ReleaseSession(ctx context.Context, sessionID string) error
	ConnectURL(sessionID string) string
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Config   *config.Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Registry *control.Registry
	Sessions SessionProvider

	// MetricsHandler serves GET /metrics. Nil disables the endpoint.
	MetricsHandler http.Handler

	// NewModelClient and NewRunner are swappable for tests.
	NewModelClient ClientFactory
	NewRunner      RunnerFactory
}

// Server is the HTTP gateway.
type Server struct {
	config   *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	registry *control.Registry
	sessions SessionProvider

	newModelClient ClientFactory
	newRunner      RunnerFactory
	metricsHandler http.Handler

	resumeDebounce *debounce.Cooldown
	activity       *activityLog
	sweeper        *sweeper

	httpServer *http.Server
}

// NewServer wires a gateway from its dependencies.
func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("gateway: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("gateway: control registry is required")
	}
	if deps.NewModelClient == nil {
		return nil, errors.New("gateway: model client factory is required")
	}
	if deps.NewRunner == nil {
		return nil, errors.New("gateway: runner factory is required")
	}

	s := &Server{
		config:         deps.Config,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		tracer:         deps.Tracer,
		registry:       deps.Registry,
		sessions:       deps.Sessions,
		newModelClient: deps.NewModelClient,
		newRunner:      deps.NewRunner,
		metricsHandler: deps.MetricsHandler,
		resumeDebounce: debounce.NewCooldown(resumeCooldown),
		activity:       newActivityLog(),
	}

	if deps.Config.Steel.SessionTTL > 0 && deps.Sessions != nil {
		sw, err := newSweeper(sweeperConfig{
			schedule: deps.Config.Steel.SweepSchedule,
			ttl:      deps.Config.Steel.SessionTTL,
			activity: s.activity,
			registry: deps.Registry,
			sessions: deps.Sessions,
			logger:   deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		s.sweeper = sw
	}
	return s, nil
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/release", s.handleReleaseSession)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	return handler
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.sweeper != nil {
		s.sweeper.start()
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests and stops the sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweeper != nil {
		s.sweeper.stop()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}
