package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/api"
	"github.com/foxzi/outreach/internal/catalog"
	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/followup"
	"github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/orchestrator"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/reply"
	"github.com/foxzi/outreach/internal/response"
	"github.com/foxzi/outreach/internal/review"
	"github.com/foxzi/outreach/internal/storage"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *storage.BoltStore
	catalog       *catalog.Catalog
	limiter       *ratelimit.Limiter
	router        *mail.Router
	reviews       *review.Queue
	publisher     *review.Publisher
	replies       *reply.Classifier
	engine        *orchestrator.Engine
	runner        *followup.Runner
	inbound       *orchestrator.InboundLoop
	followUps     *orchestrator.FollowUpLoop
	apiServer     *api.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New wires all components. Nothing is started until Run.
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
	}

	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(store.DB(), &cfg.RateLimit)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	router, err := buildRouter(cfg, logger)
	if err != nil {
		limiter.Stop()
		store.Close()
		return nil, err
	}

	a := &App{
		config:  cfg,
		store:   store,
		catalog: cat,
		limiter: limiter,
		router:  router,
		metrics: m,
		logger:  logger,
	}

	var notifier review.Notifier
	if cfg.Review.AMQPURL != "" {
		a.publisher, err = review.DialPublisher(cfg.Review.AMQPURL, cfg.Review.Queue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect review publisher: %w", err)
		}
		notifier = a.publisher
		logger.Info("review notifications enabled", "queue", cfg.Review.Queue)
	}
	a.reviews = review.NewQueue(store, notifier, logger)

	a.wireEngine()

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(api.Deps{
			Prospects: store,
			Reviews:   a.reviews,
			Resolver:  a.engine,
			Quotas:    limiter,
			Providers: router.Providers(),
			Inbound:   a.inbound,
			FollowUps: a.followUps,
			Replies:   a.engine.Replies,
			Intents:   a.engine.Intents,
			Catalog:   cat,
			Version:   version,
		}, &cfg.API, logger)
	}

	if m != nil {
		a.metricsServer = metrics.NewServer(m, metrics.ServerConfig{
			Addr:       cfg.Metrics.ListenAddr,
			Path:       cfg.Metrics.Path,
			AllowedIPs: cfg.Metrics.AllowedIPs,
		}, a.ready, logger.With("component", "metrics"))
		a.collector = metrics.NewCollector(m, a, cfg.Storage.Path, cfg.Metrics.CollectInterval)
	}

	return a, nil
}

// wireEngine builds classifiers, generator, verifier, the engine and both loops
func (a *App) wireEngine() {
	cfg := a.config
	logger := a.logger
	client, timeout := buildLLM(cfg.LLM, logger)

	genOpts := []response.GeneratorOption{
		response.WithGeneratorLogger(logger),
		response.WithHistorySize(cfg.Orchestrator.HistorySize),
		response.WithGeneratorFallbackHook(func(reason string) { metrics.IncLLMFallback("generator") }),
	}
	verOpts := []response.VerifierOption{
		response.WithVerifierLogger(logger),
		response.WithVerifierFallbackHook(func(axis string) { metrics.IncLLMFallback("verifier") }),
	}
	if client != nil {
		genOpts = append(genOpts, response.WithEnhancement(client, response.NewKnowledgeBase(a.catalog.Knowledge()), timeout))
		verOpts = append(verOpts, response.WithVerifierLLM(client, timeout))
	}

	replies, intents := buildClassifiers(client, timeout, logger)
	a.replies = replies
	cache := orchestrator.NewConversationCache(cfg.Orchestrator.CacheSize, cfg.Orchestrator.CacheTTL)

	a.engine = orchestrator.NewEngine(orchestrator.Deps{
		Store:     a.store,
		Catalog:   a.catalog,
		Transport: a.router,
		Replies:   a.replies,
		Intents:   intents,
		Generator: response.NewGenerator(a.catalog.Templates(), genOpts...),
		Verifier:  response.NewVerifier(verOpts...),
		Limiter:   a.limiter,
		Reviews:   a.reviews,
		Cache:     cache,
		Logger:    logger,
	}, orchestrator.Options{
		SendTimeout:    cfg.Orchestrator.SendTimeout,
		HistorySize:    cfg.Orchestrator.HistorySize,
		MaxAutoReplies: cfg.Orchestrator.MaxAutoReplies,
	})

	a.runner = followup.NewRunner(a.store, a.catalog, a.limiter, a.router, followup.Options{
		Lease:       cfg.Orchestrator.TouchLease,
		SendTimeout: cfg.Orchestrator.SendTimeout,
		Logger:      logger,
		// Follow-ups append to the thread behind the engine's back
		OnSent: cache.Invalidate,
	})

	a.inbound = orchestrator.NewInboundLoop(a.engine, orchestrator.InboundConfig{
		Interval:  cfg.Orchestrator.InboundInterval,
		Folder:    cfg.Orchestrator.InboundFolder,
		Providers: a.router.InboundProviders(),
	}, logger)
	a.followUps = orchestrator.NewFollowUpLoop(a.runner, cfg.Orchestrator.FollowUpInterval, logger)
}

// Store returns the conversation store
func (a *App) Store() *storage.BoltStore { return a.store }

// Catalog returns the configured content catalog
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Limiter returns the provider rate limiter
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Reviews returns the review queue
func (a *App) Reviews() *review.Queue { return a.reviews }

// Engine returns the inbound engine
func (a *App) Engine() *orchestrator.Engine { return a.engine }

// Inbound returns the inbound loop
func (a *App) Inbound() *orchestrator.InboundLoop { return a.inbound }

// FollowUps returns the follow-up loop
func (a *App) FollowUps() *orchestrator.FollowUpLoop { return a.followUps }

// Providers returns the registered provider ids
func (a *App) Providers() []string { return a.router.Providers() }

// EngineStats implements metrics.StatsProvider
func (a *App) EngineStats(ctx context.Context) (*metrics.EngineStats, error) {
	pending, err := a.reviews.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	active, err := a.store.ListProspects(ctx, storage.ProspectFilter{Status: models.FollowUpActive})
	if err != nil {
		return nil, fmt.Errorf("failed to count active prospects: %w", err)
	}
	return &metrics.EngineStats{ReviewsPending: pending, ProspectsActive: len(active)}, nil
}

// ready reports whether the database is usable
func (a *App) ready(ctx context.Context) error {
	return a.store.DB().View(func(tx *bolt.Tx) error { return nil })
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting outreach",
		"providers", a.router.Providers(),
		"inbound_providers", a.router.InboundProviders(),
		"campaigns", len(a.catalog.Campaigns()),
		"api_enabled", a.apiServer != nil,
		"metrics_enabled", a.metricsServer != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	a.inbound.Start(ctx)
	a.followUps.Start(ctx)

	errCh := make(chan error, 2)

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop loops first; in-flight sends finish before Stop returns
	a.inbound.Stop()
	a.followUps.Stop()

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.collector != nil {
		a.collector.Stop()
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the limiter, publisher and storage without touching loops.
// CLI commands that never call Run use it directly.
func (a *App) Close() {
	// Stop rate limiter (persists counters)
	if err := a.limiter.Stop(); err != nil {
		a.logger.Error("rate limiter stop error", "error", err)
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("review publisher close error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
