// Package server builds the application's dependencies and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsynapse-crawler/internal/api"
	"github.com/JakeFAU/docsynapse-crawler/internal/config"
	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
	"github.com/JakeFAU/docsynapse-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/docsynapse-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/docsynapse-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/docsynapse-crawler/internal/headless/detector"
	"github.com/JakeFAU/docsynapse-crawler/internal/id/uuid"
	"github.com/JakeFAU/docsynapse-crawler/internal/logging"
	"github.com/JakeFAU/docsynapse-crawler/internal/metrics"
	"github.com/JakeFAU/docsynapse-crawler/internal/notify"
	"github.com/JakeFAU/docsynapse-crawler/internal/orchestrator"
	"github.com/JakeFAU/docsynapse-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/docsynapse-crawler/internal/processor"
	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/docsynapse-crawler/internal/progress/sinks"
	gcsstorage "github.com/JakeFAU/docsynapse-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docsynapse-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/docsynapse-crawler/internal/storage/memory"
	"github.com/JakeFAU/docsynapse-crawler/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	browser      crawler.Browser
	processor    *processor.Processor
	orchestrator *orchestrator.Orchestrator
	notifyHub    *notify.Hub
	progressHub  *progress.Hub
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	redisClient  *redis.Client
	storage      *storage.Client

	registerer     prometheus.Registerer
	tracerShutdown func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger skips building a logger from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithBrowser supplies the shared browser instead of launching one.
func WithBrowser(b crawler.Browser) Option {
	return func(a *App) { a.browser = b }
}

// WithRegisterer registers the lifecycle collectors against reg instead of
// the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("engine", cfg.Browser.Engine),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	metrics.Init()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	if app.browser == nil {
		app.browser = app.setupBrowser()
	}

	artifacts, err := app.setupStorage(ctx)
	if err != nil {
		app.closePartial(ctx)
		return nil, err
	}
	app.processor = app.setupProcessor(artifacts)

	app.progressHub, err = app.setupProgress(ctx)
	if err != nil {
		app.closePartial(ctx)
		return nil, err
	}

	app.notifyHub = notify.NewHub(notify.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		SendTimeout:       cfg.SendTimeout(),
	}, app.logger.Named("notify"))

	app.orchestrator, err = app.setupOrchestrator()
	if err != nil {
		app.closePartial(ctx)
		return nil, err
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		app.orchestrator,
		app.processor,
		app.notifyHub,
		crawler.SystemClock{},
		api.Config{
			APIKey:         apiKey,
			RequestTimeout: cfg.RequestTimeout(),
			Defaults:       cfg.Crawler.Defaults,
			Ready:          app.ready,
		},
		app.logger.Named("api"),
	)
	return app, nil
}

func (a *App) setupBrowser() crawler.Browser {
	switch a.cfg.Browser.Engine {
	case config.EngineStatic:
		a.logger.Info("using static colly engine", zap.String("user_agent", a.cfg.Crawler.UserAgent))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Crawler.UserAgent,
			Timeout:   a.cfg.Crawler.Defaults.RequestTimeout(),
			Detector:  detector.NewHeuristic(0),
			Logger:    a.logger.Named("colly"),
		})
	default:
		b, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			Headless:    a.cfg.Browser.Headless,
			ExecPath:    a.cfg.Browser.ExecPath,
			SettleDelay: a.cfg.SettleDelay(),
		}, a.logger.Named("chromedp"))
		if err != nil {
			a.logger.Warn("headless browser init failed; jobs will fail until restart", zap.Error(err))
			return headlessfetcher.Unavailable{Cause: err}
		}
		a.logger.Info("using headless chromedp engine", zap.Bool("headless", a.cfg.Browser.Headless))
		return b
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.ArtifactStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Processor.OutputDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Processor.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("local artifact store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupProcessor(artifacts crawler.ArtifactStore) *processor.Processor {
	var opts []processor.Option
	if a.cfg.Processor.DetectLanguage {
		opts = append(opts, processor.WithLanguageDetector(processor.NewLanguageDetector()))
		a.logger.Info("language detection enabled")
	}
	return processor.New(processor.Config{
		FilePrefix:          a.cfg.Processor.FilePrefix,
		SimilarityThreshold: a.cfg.Processor.SimilarityThreshold,
	}, artifacts, a.logger.Named("processor"), opts...)
}

func (a *App) setupProgress(ctx context.Context) (*progress.Hub, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.Topic != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPubSubSink(a.pubsubClient.Topic(a.cfg.PubSub.Topic)))
		a.logger.Info("Pub/Sub event sink initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}

	if a.cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(a.cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		sinkList = append(sinkList, progresssinks.NewRedisSink(a.redisClient, a.cfg.Redis.Channel))
		a.logger.Info("redis event sink initialized", zap.String("channel", a.cfg.Redis.Channel))
	}

	hubCfg := progress.Config{Logger: a.logger.Named("progress_hub")}
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return progress.NewHub(hubCfg, sinkList...), nil
}

func (a *App) setupOrchestrator() (*orchestrator.Orchestrator, error) {
	var fetchOpts []fetcher.Option
	if a.cfg.Crawler.HostRPS > 0 {
		fetchOpts = append(fetchOpts, fetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Crawler.HostRPS,
			DefaultBurst: a.cfg.Crawler.HostBurst,
		})))
		a.logger.Info("rate limiter enabled",
			zap.Float64("host_rps", a.cfg.Crawler.HostRPS),
			zap.Int("host_burst", a.cfg.Crawler.HostBurst),
		)
	}
	pages := fetcher.New(a.logger.Named("fetcher"), fetchOpts...)

	discoverer := crawler.NewDiscoverer(pages, a.logger.Named("discoverer"),
		crawler.WithLanguageFilter(crawler.NewLanguageFilter(a.cfg.Language.ExcludeSegments, a.cfg.Language.Overrides())),
		crawler.WithRobotsPolicy(crawler.NewRobotsEnforcer(nil, a.cfg.Crawler.UserAgent, a.logger.Named("robots"))),
	)

	orch, err := orchestrator.New(orchestrator.Config{
		MaxConcurrentJobs: a.cfg.Crawler.MaxConcurrentJobs,
		ShutdownGrace:     a.cfg.ShutdownGrace(),
		UserAgent:         a.cfg.Crawler.UserAgent,
		Viewport:          a.cfg.Viewport(),
		Engine:            a.cfg.Browser.Engine,
	}, orchestrator.Deps{
		Browser:    a.browser,
		Discoverer: discoverer,
		Fetcher:    pages,
		Processor:  a.processor,
		Store:      memorystorage.NewJobStore(),
		Notifier:   a.notifyHub,
		Events:     a.progressHub,
		IDs:        uuid.NewGenerator(),
		Logger:     a.logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	return orch, nil
}

func (a *App) ready() bool {
	_, unavailable := a.browser.(headlessfetcher.Unavailable)
	return !unavailable
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Orchestrator exposes the job orchestrator for in-process callers.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Notifications exposes the observer hub for in-process callers.
func (a *App) Notifications() *notify.Hub {
	return a.notifyHub
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and blocks until ctx is canceled or a termination signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.notifyHub.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace()+10*time.Second)
	defer cancel()

	// Observers are closed first so hijacked websocket connections do not
	// hold srv.Shutdown open.
	a.notifyHub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs error
	if a.orchestrator != nil {
		if err := a.orchestrator.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
	}
	if a.notifyHub != nil {
		a.notifyHub.Close()
	}
	a.closePartial(ctx)
	a.logger.Info("shutdown complete")
	return errs
}

// closePartial releases infrastructure; it also cleans up after a failed Build.
func (a *App) closePartial(ctx context.Context) {
	if a.orchestrator == nil && a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
