package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/state"
	"mercator-hq/lethe/pkg/telemetry/health"
)

// Gate is the gate view the server needs.
type Gate interface {
	State(ctx context.Context, itemID string) (gate.ItemState, error)
	Rollback(ctx context.Context, itemID string, target forgetting.Stage, reason string) (gate.TransitionResult, error)
}

// Approver issues key destruction approvals.
type Approver interface {
	Grant(ctx context.Context, itemID, approver, reason string) (gate.Approval, error)
}

// History reads and verifies item ledger chains.
type History interface {
	History(ctx context.Context, itemID string) ([]*ledger.Entry, error)
	Verify(ctx context.Context, itemID string) error
}

// Budgets lists budget scopes.
type Budgets interface {
	States() []budget.State
}

// Feedback accepts outcome observations.
type Feedback interface {
	Feedback(ctx context.Context, ev forgetting.FeedbackEvent) (forgetting.Tunables, error)
}

// Catalog accepts ingested items and access notifications.
type Catalog interface {
	Put(ctx context.Context, item forgetting.Item, sig scoring.Signals) error
	Touch(ctx context.Context, itemID string) error
}

// Decider runs one item through scoring and selection.
type Decider interface {
	Process(ctx context.Context, item forgetting.Item, sig scoring.Signals) (policy.Decision, error)
}

// Learner exposes learned parameter snapshots.
type Learner interface {
	Snapshots(ctx context.Context) ([]state.Snapshot, error)
	Rollback(ctx context.Context, id string) (forgetting.Tunables, error)
}

// Deps are the collaborators behind the routes. Every field is optional.
type Deps struct {
	Health    *health.Checker
	Metrics   http.Handler
	Gate      Gate
	Approvals Approver
	Ledger    History
	Budgets   Budgets
	Catalog   Catalog
	Decider   Decider
	Feedback  Feedback
	Learner   Learner

	Version   string
	Commit    string
	BuildTime string
}

// Server is the admin HTTP server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router chi.Router
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l.With("component", "server") }
}

// New creates a server. Routes are built immediately so the server can be
// used as an http.Handler without being started.
func New(cfg config.ServerConfig, deps Deps, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.LivenessHandler())
		r.Get("/readyz", s.deps.Health.ReadinessHandler())
	}
	r.Get("/version", health.VersionHandler(s.deps.Version, s.deps.Commit, s.deps.BuildTime))
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Catalog != nil {
			r.Post("/items", s.handleIngest)
		}
		if s.deps.Decider != nil {
			r.Post("/decisions", s.handleDecide)
		}
		if s.deps.Gate != nil || s.deps.Ledger != nil || s.deps.Approvals != nil || s.deps.Catalog != nil {
			r.Route("/items/{itemID}", s.itemRoutes)
		}
		if s.deps.Budgets != nil {
			r.Get("/budgets", s.handleBudgets)
		}
		if s.deps.Feedback != nil {
			r.Post("/feedback", s.handleFeedback)
		}
		if s.deps.Learner != nil {
			r.Get("/learning/snapshots", s.handleSnapshots)
			r.Post("/learning/rollback", s.handleLearningRollback)
		}
	})

	s.router = r
}

func (s *Server) itemRoutes(r chi.Router) {
	if s.deps.Gate != nil {
		r.Get("/", s.handleItemState)
		r.Post("/rollback", s.handleRollback)
	}
	if s.deps.Ledger != nil {
		r.Get("/history", s.handleHistory)
		r.Get("/verify", s.handleVerify)
	}
	if s.deps.Approvals != nil {
		r.Post("/approvals", s.handleGrant)
	}
	if s.deps.Catalog != nil {
		r.Post("/access", s.handleTouch)
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown stops the server, waiting up to the configured shutdown timeout
// for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running || srv == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
