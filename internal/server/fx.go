// Package server builds the console's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/api"
	memorybackend "github.com/JakeFAU/crawl-console/internal/backend/memory"
	"github.com/JakeFAU/crawl-console/internal/clock/system"
	"github.com/JakeFAU/crawl-console/internal/config"
	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/events/sinks"
	"github.com/JakeFAU/crawl-console/internal/gateway/rest"
	"github.com/JakeFAU/crawl-console/internal/id/uuid"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/logging"
	"github.com/JakeFAU/crawl-console/internal/metrics"
	"github.com/JakeFAU/crawl-console/internal/monitor"
	memorypublisher "github.com/JakeFAU/crawl-console/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-console/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/crawl-console/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-console/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-console/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-console/internal/storage/postgres"
	"github.com/JakeFAU/crawl-console/internal/store"
)

// DemoConfigCode is the configuration seeded into the memory backend.
const DemoConfigCode = "demo"

// LocalEventsTopic names the in-process topic lifecycle events go to in memory
// mode when no Pub/Sub topic is configured.
const LocalEventsTopic = "monitor-events"

// Backend is the job and configuration API the console drives.
type Backend interface {
	jobs.Gateway
	jobs.ConfigStore
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	backend  Backend
	notifier *monitor.Notifier
	gate     *monitor.Gate
	registry *monitor.Registry
	hub      *events.Hub

	runStore        store.RunRepository
	pgRuns          *pgstore.RunStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	localPublisher  *memorypublisher.Publisher
	eventsTopic     string
	storage         *storage.Client

	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("backend_mode", cfg.Backend.Mode),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if app.backend, err = setupBackend(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = app.setupRunStore(ctx); err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err = app.setupEvents(ctx, blobStore, publisher); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	clock := system.New()
	app.notifier = monitor.NewNotifier(logger.Named("notifier"))
	app.gate = monitor.NewGate(app.backend, app.notifier, clock, logger.Named("gate"))
	app.registry = monitor.NewRegistry(app.backend, app.gate, monitor.Options{
		PollInterval:       cfg.PollInterval(),
		Events:             app.hub,
		Clock:              clock,
		IDs:                uuid.New(),
		Logger:             logger.Named("monitor"),
		BaseContext:        context.WithoutCancel(ctx),
		KeepOpenOnActivate: cfg.Monitor.KeepOpenOnActivate,
	})

	opts := []api.Option{}
	if app.runStore != nil {
		opts = append(opts, api.WithRunRepository(app.runStore))
	}
	if app.pgRuns != nil {
		opts = append(opts, api.WithReadinessCheck("postgres", app.pgRuns.Ping))
	}
	app.apiServer = api.NewServer(app.registry, app.backend, app.notifier, *cfg, logger.Named("api"), opts...)
	return app, nil
}

func setupBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	if cfg.Backend.Mode == config.BackendMemory {
		backend := memorybackend.New(memorybackend.WithAutoAdvance(cfg.Backend.AutoAdvance))
		backend.PutConfig(jobs.Configuration{
			Code:            DemoConfigCode,
			Website:         "example",
			ProductCategory: "demo",
			StartURL:        "https://example.com/products",
			MaxPages:        1,
		})
		logger.Info("using in-memory backend", zap.String("seeded_config", DemoConfigCode))
		return backend, nil
	}
	client, err := rest.New(rest.Config{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.BackendTimeout(),
	}, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}
	if cfg.Backend.Username != "" {
		if err := client.Login(ctx, cfg.Backend.Username, cfg.Backend.Password); err != nil {
			return nil, fmt.Errorf("backend login failed: %w", err)
		}
	}
	logger.Info("using REST backend", zap.String("base_url", cfg.Backend.BaseURL))
	return client, nil
}

func (a *App) setupRunStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping run history in memory")
		a.runStore = memorystorage.NewRunStore()
		return nil
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.RunsTable,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.pgRuns = runs
	a.runStore = runs
	a.logger.Info("run store initialized", zap.String("table", a.cfg.DB.RunsTable))
	return nil
}

func (a *App) setupStorage(ctx context.Context) (jobs.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blob, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:   a.cfg.Storage.Bucket,
			Metadata: map[string]string{"producer": "crawl-console"},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blob, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blob, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blob, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("run report archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (jobs.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		// The memory publisher retains every message; offline mode only.
		if a.cfg.Backend.Mode != config.BackendMemory {
			a.logger.Info("no Pub/Sub topic configured, event publishing disabled")
			return nil, nil
		}
		a.localPublisher = memorypublisher.New()
		a.eventsTopic = LocalEventsTopic
		a.logger.Info("no Pub/Sub topic configured, publishing events in memory", zap.String("topic", a.eventsTopic))
		return a.localPublisher, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.eventsTopic = a.cfg.PubSub.TopicName
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName), true)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupEvents(ctx context.Context, blob jobs.BlobStore, publisher jobs.Publisher) error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("event metrics init failed: %w", err)
	}
	sinkList := []events.Sink{
		promSink,
		sinks.NewStoreSink(a.runStore, a.logger.Named("run_store")),
	}
	if a.cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
	}
	if publisher != nil {
		sinkList = append(sinkList, sinks.NewPublishSink(publisher, a.eventsTopic, a.logger.Named("publish")))
	}
	if blob != nil {
		sinkList = append(sinkList, sinks.NewArchiveSink(blob, a.cfg.Storage.Prefix, a.logger.Named("archive")))
	}

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Events.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Events.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("event_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry returns the monitor registry.
func (a *App) Registry() *monitor.Registry {
	return a.registry
}

// Backend returns the job and configuration API.
func (a *App) Backend() Backend {
	return a.backend
}

// Notifier returns the activation notifier.
func (a *App) Notifier() *monitor.Notifier {
	return a.notifier
}

// Config returns the validated configuration the app was built from.
func (a *App) Config() config.Config {
	return *a.cfg
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops every monitor, flushes events, and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.registry != nil {
		closeCtx, cancel := context.WithTimeout(ctx, a.cfg.CloseTimeout())
		if err := a.registry.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown monitors: %w", err))
		}
		cancel()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
}
