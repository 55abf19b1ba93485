// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/alerting"
	"github.com/JakeFAU/regalert/internal/api"
	"github.com/JakeFAU/regalert/internal/archive"
	"github.com/JakeFAU/regalert/internal/classify"
	"github.com/JakeFAU/regalert/internal/clock/system"
	"github.com/JakeFAU/regalert/internal/config"
	"github.com/JakeFAU/regalert/internal/connector"
	"github.com/JakeFAU/regalert/internal/dedup"
	"github.com/JakeFAU/regalert/internal/fetch"
	collyfetcher "github.com/JakeFAU/regalert/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/regalert/internal/fetcher/headless"
	"github.com/JakeFAU/regalert/internal/hash/sha256"
	"github.com/JakeFAU/regalert/internal/headless/detector"
	"github.com/JakeFAU/regalert/internal/health"
	"github.com/JakeFAU/regalert/internal/id/uuid"
	"github.com/JakeFAU/regalert/internal/metrics"
	"github.com/JakeFAU/regalert/internal/normalize"
	"github.com/JakeFAU/regalert/internal/pipeline"
	"github.com/JakeFAU/regalert/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/regalert/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/regalert/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/regalert/internal/publisher/pubsub"
	"github.com/JakeFAU/regalert/internal/registry"
	"github.com/JakeFAU/regalert/internal/regulatory"
	gcsstorage "github.com/JakeFAU/regalert/internal/storage/gcs"
	localstorage "github.com/JakeFAU/regalert/internal/storage/local"
	memorystorage "github.com/JakeFAU/regalert/internal/storage/memory"
	pgstore "github.com/JakeFAU/regalert/internal/storage/postgres"
	redisstore "github.com/JakeFAU/regalert/internal/storage/redis"
	"github.com/JakeFAU/regalert/internal/telemetry"
)

// App holds the shared, long-lived services for one process. It is built
// once at startup and handed to the command that needs it.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  regulatory.Clock

	catalog   []regulatory.Source
	sources   regulatory.SourceStore
	cooldowns regulatory.CooldownStore
	health    regulatory.HealthStore
	live      regulatory.AlertStore
	scratch   regulatory.AlertStore
	pinger    pipeline.Pinger
	publisher regulatory.Publisher

	orchestrator *pipeline.Orchestrator
	apiServer    *api.Server

	pool         *pgxpool.Pool
	pgStore      *pgstore.Store
	redis        *redisstore.CooldownStore
	gcs          *storage.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	nats         *natspublisher.Publisher
	renderer     *headlessfetcher.Renderer
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Orchestrator returns the pipeline entry point.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Handler returns the HTTP handler for the invocation contract.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Catalog returns the sources loaded from the YAML catalog, if any.
func (a *App) Catalog() []regulatory.Source { return a.catalog }

// Sources returns the store the scheduler reads from.
func (a *App) Sources() regulatory.SourceStore { return a.sources }

// Cooldowns returns the last-run store.
func (a *App) Cooldowns() regulatory.CooldownStore { return a.cooldowns }

// Health returns the freshness store.
func (a *App) Health() regulatory.HealthStore { return a.health }

// Clock returns the clock shared by every component.
func (a *App) Clock() regulatory.Clock { return a.clock }

// SyncCatalog upserts the YAML catalog into regulatory_data_sources.
func (a *App) SyncCatalog(ctx context.Context) (int, error) {
	if a.pgStore == nil {
		return 0, errors.New("sources sync requires db.provider=postgres")
	}
	if len(a.catalog) == 0 {
		catalog, err := registry.LoadFile(a.cfg.Registry.Path)
		if err != nil {
			return 0, err
		}
		a.catalog = catalog
	}
	n, err := registry.Sync(ctx, a.pgStore, a.catalog)
	if err != nil {
		return n, fmt.Errorf("sync sources: %w", err)
	}
	return n, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	telemetry.InitPropagation()
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("registry_provider", cfg.Registry.Provider),
		zap.String("cooldown_provider", cfg.Cooldown.Provider),
		zap.String("archive_provider", cfg.Archive.Provider),
		zap.String("publisher_provider", cfg.Publisher.Provider))

	steps := []func(context.Context) error{
		a.setupDatabase,
		a.setupRegistry,
		a.setupCooldowns,
		a.setupPublisher,
		a.setupPipeline,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	a.apiServer = api.NewServer(api.Options{
		Runner:         a.orchestrator,
		Health:         a.health,
		Ready:          a.pinger,
		Clock:          a.clock,
		Logger:         logger.Named("api"),
		APIKey:         apiKey(cfg.Auth),
		RequestTimeout: cfg.InvocationBudget() + time.Minute,
	})
	return a, nil
}

func apiKey(auth config.AuthConfig) string {
	if !auth.Enabled {
		return ""
	}
	return auth.APIKey
}

func (a *App) setupDatabase(ctx context.Context) error {
	switch a.cfg.DB.Provider {
	case "postgres":
		if a.cfg.DB.MigrateOnStart {
			a.logger.Info("applying migrations")
			if err := pgstore.Migrate(a.cfg.DB.DSN); err != nil {
				return err
			}
		}
		pool, err := pgstore.Connect(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.ConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		if a.pgStore, err = pgstore.NewStore(pool); err != nil {
			return err
		}
		live, err := pgstore.NewAlertStore(pool, a.cfg.Pipeline.AlertsTable)
		if err != nil {
			return err
		}
		scratch, err := pgstore.NewAlertStore(pool, a.cfg.Pipeline.ScratchTable)
		if err != nil {
			return err
		}
		a.live, a.scratch = live, scratch
		a.health = a.pgStore
		a.pinger = a.pgStore
		a.logger.Info("postgres stores initialized",
			zap.String("alerts_table", live.Table()),
			zap.String("scratch_table", scratch.Table()))
	case "memory", "":
		a.logger.Warn("using in-memory stores; alerts are lost on exit")
		a.live = memorystorage.NewAlertStore()
		a.scratch = memorystorage.NewAlertStore()
		a.health = memorystorage.NewHealthStore()
	default:
		return fmt.Errorf("unknown db provider: %s", a.cfg.DB.Provider)
	}
	return nil
}

func (a *App) setupRegistry(context.Context) error {
	switch a.cfg.Registry.Provider {
	case "postgres":
		if a.pgStore == nil {
			return errors.New("registry.provider=postgres requires db.provider=postgres")
		}
		a.sources = a.pgStore
	case "file", "":
		catalog, err := registry.LoadFile(a.cfg.Registry.Path)
		if err != nil {
			return err
		}
		a.catalog = catalog
		a.sources = memorystorage.NewSourceStore(catalog)
		a.logger.Info("source catalog loaded", zap.String("path", a.cfg.Registry.Path), zap.Int("sources", len(catalog)))
	default:
		return fmt.Errorf("unknown registry provider: %s", a.cfg.Registry.Provider)
	}
	return nil
}

func (a *App) setupCooldowns(ctx context.Context) error {
	switch a.cfg.Cooldown.Provider {
	case "postgres":
		if a.pgStore == nil {
			return errors.New("cooldown.provider=postgres requires db.provider=postgres")
		}
		a.cooldowns = a.pgStore
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("redis cooldown store init failed: %w", err)
		}
		a.redis = store
		a.cooldowns = store
		a.logger.Info("using redis cooldowns", zap.String("addr", a.cfg.Redis.Addr))
	case "memory", "":
		a.cooldowns = memorystorage.NewCooldownStore()
	default:
		return fmt.Errorf("unknown cooldown provider: %s", a.cfg.Cooldown.Provider)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		if a.cfg.Publisher.ProjectID == "" || a.cfg.Publisher.TopicName == "" {
			return errors.New("publisher.project_id and publisher.topic_name are required for pubsub")
		}
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubTopic = client.Topic(a.cfg.Publisher.TopicName)
		a.publisher = gcppublisher.New(a.pubsubTopic)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.TopicName))
	case "nats":
		pub, err := natspublisher.Connect(natspublisher.Config{
			URL:     a.cfg.Publisher.NATSURL,
			Subject: a.cfg.Publisher.TopicName,
		}, a.logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.nats = pub
		a.publisher = pub
	case "memory":
		a.publisher = memorypublisher.New()
	case "none", "":
		a.logger.Info("alert fan-out disabled")
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (connector.Archiver, error) {
	var blobs regulatory.BlobStore
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		if blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket}); err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
	case "memory":
		blobs = memorystorage.NewBlobStore()
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
	a.logger.Info("raw payload archive enabled", zap.String("provider", a.cfg.Archive.Provider))
	return archive.New(blobs, sha256.New(), a.clock, a.cfg.Archive.Prefix), nil
}

func (a *App) setupFetcher() (*fetch.Client, error) {
	cfg := a.cfg
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Pipeline.UserAgent,
		MaxBodySize: cfg.Pipeline.MaxPageBytes,
		Timeout:     cfg.FetchTimeout(),
	})
	opts := fetch.Options{
		Transport: transport,
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Pipeline.RateLimitRPS,
			DefaultBurst: cfg.Pipeline.RateLimitBurst,
		}),
		Policy: fetch.NewRetryPolicy(cfg.HTTP.MaxRetries,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond),
		FallbackStatusCodes: cfg.HTTP.FallbackStatusCodes,
		DefaultTimeout:      cfg.FetchTimeout(),
		UserAgent:           cfg.Pipeline.UserAgent,
		Logger:              a.logger.Named("fetch"),
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Pipeline.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		opts.Headless = renderer
		a.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}
	client, err := fetch.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("fetch client init failed: %w", err)
	}
	return client, nil
}

func (a *App) setupNotifier() *alerting.Notifier {
	cfg := a.cfg.Alerting
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var channels []alerting.Channel
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alerting.NewSlack(cfg.SlackWebhookURL, timeout))
	}
	if cfg.PagerDutyRoutingKey != "" {
		channels = append(channels, alerting.NewPagerDuty(cfg.PagerDutyRoutingKey, cfg.PagerDutyURL, timeout))
	}
	notifier := alerting.NewNotifier(cfg.Enabled, a.logger.Named("notifier"), alerting.RetryConfig{}, channels...)
	if !notifier.Enabled() {
		a.logger.Info("alerting master switch off; health notices go to the log only",
			zap.Int("configured_channels", len(channels)))
	}
	return notifier
}

func (a *App) setupPipeline(ctx context.Context) error {
	cfg := a.cfg
	archiver, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	client, err := a.setupFetcher()
	if err != nil {
		return err
	}

	deps := connector.Deps{
		Fetcher:  client,
		Promoter: detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Headless: a.renderer != nil,
		Logger:   a.logger.Named("connector"),
		Secret:   os.Getenv,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	connectors := make(map[regulatory.SourceType]connector.Connector, 3)
	for _, t := range []regulatory.SourceType{regulatory.SourceTypeAPI, regulatory.SourceTypeRSS, regulatory.SourceTypeScraper} {
		c, err := connector.New(t, deps)
		if err != nil {
			return err
		}
		connectors[t] = c
	}

	classifierOpts := []classify.Option{classify.WithClock(a.clock), classify.WithLogger(a.logger.Named("classify"))}
	if cfg.Summarizer.Endpoint != "" {
		classifierOpts = append(classifierOpts, classify.WithSummarizer(classify.NewHTTPSummarizer(
			cfg.Summarizer.Endpoint,
			cfg.Summarizer.APIKey,
			time.Duration(cfg.Summarizer.TimeoutSeconds)*time.Second,
			cfg.Summarizer.MaxChars,
		)))
	}

	processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Normalizer: normalize.New(a.clock),
		Classifier: classify.New(cfg.Classifier, classifierOpts...),
		Live:       pipeline.Sink{Store: a.live, Dedup: dedup.New(a.live, cfg.DedupWindow(), cfg.URLDedupWindow())},
		Scratch:    pipeline.Sink{Store: a.scratch, Dedup: dedup.New(a.scratch, cfg.DedupWindow(), cfg.URLDedupWindow())},
		Publisher:  a.publisher,
		Topic:      cfg.Pipeline.PublishTopic,
		IDs:        uuid.New(),
		Clock:      a.clock,
		Logger:     a.logger.Named("processor"),
	})
	if err != nil {
		return fmt.Errorf("processor init failed: %w", err)
	}

	tracker := health.NewTracker(a.health, a.setupNotifier(), health.Thresholds{
		DegradedAfter:  cfg.Alerting.DegradedAfter,
		UnhealthyAfter: cfg.Alerting.UnhealthyAfter,
	}, a.clock, a.logger.Named("health"))

	a.orchestrator, err = pipeline.New(pipeline.Config{
		Sources:     a.sources,
		Cooldowns:   a.cooldowns,
		Connectors:  connectors,
		Processor:   processor,
		Health:      tracker,
		Pinger:      a.pinger,
		Clock:       a.clock,
		Logger:      a.logger.Named("pipeline"),
		Concurrency: cfg.Pipeline.Concurrency,
		Budget:      cfg.InvocationBudget(),

		StaleAfterPolls: cfg.Alerting.StaleAfterPolls,
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	return nil
}

// Serve runs the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases every client the App opened. It is safe to call on a
// partially built App.
func (a *App) Close(_ context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn("nats close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// Run executes one pipeline invocation.
func (a *App) Run(ctx context.Context, req pipeline.Request) (pipeline.Summary, error) {
	return a.orchestrator.Run(ctx, req)
}
