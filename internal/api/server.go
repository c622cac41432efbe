package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/followup"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/orchestrator"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/storage"
)

// Prospects is the part of the store the API reads and edits
type Prospects interface {
	EnrollProspect(ctx context.Context, p *models.Prospect, initial *models.Message) error
	GetProspect(ctx context.Context, id string) (*models.Prospect, error)
	UpdateProspect(ctx context.Context, id string, fn func(p *models.Prospect) error) (*models.Prospect, error)
	ListProspects(ctx context.Context, filter storage.ProspectFilter) ([]*models.Prospect, error)
	GetThreadByProspect(ctx context.Context, prospectID string) (*models.Thread, error)
}

// Reviews lists review items
type Reviews interface {
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	List(ctx context.Context, status models.ReviewStatus, limit int) ([]*models.ReviewItem, error)
}

// Resolver applies reviewer decisions
type Resolver interface {
	ApproveReview(ctx context.Context, id string) (*models.ReviewItem, error)
	DiscardReview(ctx context.Context, id string) (*models.ReviewItem, error)
}

// Quotas reports rate limit counters
type Quotas interface {
	Stats(ctx context.Context, providers []string) []*ratelimit.Stats
}

// InboundRunner is the inbound polling loop
type InboundRunner interface {
	RunOnce(ctx context.Context) (*orchestrator.InboundReport, error)
	Status() orchestrator.LoopStatus
}

// FollowUpRunner is the follow-up scan loop
type FollowUpRunner interface {
	RunOnce(ctx context.Context) (*followup.ScanReport, error)
	Status() orchestrator.LoopStatus
}

// Deps are the collaborators behind the API. Nil loops and classifiers
// disable their endpoints.
type Deps struct {
	Prospects Prospects
	Reviews   Reviews
	Resolver  Resolver
	Quotas    Quotas
	Providers []string
	Inbound   InboundRunner
	FollowUps FollowUpRunner
	Replies   orchestrator.ReplyClassifier
	Intents   orchestrator.IntentClassifier
	Catalog   orchestrator.Catalog
	Version   string
}

// Server is the HTTP management API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/status", s.handleStatus)

		r.Get("/reviews", s.handleListReviews)
		r.Get("/reviews/{id}", s.handleGetReview)
		r.Post("/reviews/{id}/resolve", s.handleResolveReview)

		r.Get("/prospects", s.handleListProspects)
		r.Post("/prospects", s.handleCreateProspect)
		r.Get("/prospects/{id}", s.handleGetProspect)
		r.Post("/prospects/{id}/stop", s.handleStopProspect)

		r.Get("/ratelimits", s.handleRateLimits)

		r.Post("/loops/inbound/run", s.handleRunInbound)
		r.Post("/loops/followup/run", s.handleRunFollowUps)

		r.Post("/classify", s.handleClassify)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
