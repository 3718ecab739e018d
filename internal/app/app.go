// Package app builds and owns the long-lived services of one archiver
// process: logger, record store, catalog client, progress hub, optional
// notification publisher and metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-archiver/internal/api"
	"github.com/JakeFAU/catalog-archiver/internal/archive"
	"github.com/JakeFAU/catalog-archiver/internal/assets"
	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/clock/system"
	"github.com/JakeFAU/catalog-archiver/internal/config"
	collyfetcher "github.com/JakeFAU/catalog-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-archiver/internal/id/uuid"
	"github.com/JakeFAU/catalog-archiver/internal/logging"
	"github.com/JakeFAU/catalog-archiver/internal/metrics"
	"github.com/JakeFAU/catalog-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-archiver/internal/progress"
	"github.com/JakeFAU/catalog-archiver/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/catalog-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-archiver/internal/storage"
	"github.com/JakeFAU/catalog-archiver/internal/storage/gcs"
	"github.com/JakeFAU/catalog-archiver/internal/storage/local"
	"github.com/JakeFAU/catalog-archiver/internal/storage/postgres"
	"github.com/JakeFAU/catalog-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-archiver/internal/store"
	"github.com/JakeFAU/catalog-archiver/internal/telemetry"
)

const (
	closeTimeout = 10 * time.Second
	serviceName  = "catalog-archiver"
)

// App holds the shared services for one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Repository
	catalog  *catalog.Client
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	hub      *progress.Hub
	reporter progress.Reporter
	clock    *system.Clock
	out      io.Writer

	tracer *sdktrace.TracerProvider

	pubsubClient *pubsub.Client
	publisher    *pubsubpublisher.Publisher

	storageOpts []option.ClientOption
	pubsubOpts  []option.ClientOption

	metricsAddr   net.Addr
	stopServer    context.CancelFunc
	serverStopped chan error
}

// Option customizes New.
type Option func(*App)

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithOutput redirects new-record announcements (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithStore injects an already opened repository.
func WithStore(repo store.Repository) Option {
	return func(a *App) { a.store = repo }
}

// WithStorageClientOptions passes options to the Cloud Storage client.
func WithStorageClientOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.storageOpts = append(a.storageOpts, opts...) }
}

// WithPubSubClientOptions passes options to the Pub/Sub client.
func WithPubSubClientOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.pubsubOpts = append(a.pubsubOpts, opts...) }
}

// New initializes every service named by cfg. It fails fast; services
// opened before the failure are closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (a *App, err error) {
	a = &App{
		cfg:      cfg,
		out:      os.Stdout,
		registry: prometheus.NewRegistry(),
		clock:    system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.logger == nil {
		a.logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Verbose)
		if err != nil {
			return a, err
		}
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return a, err
	}

	if a.store == nil {
		if a.store, err = openStore(ctx, cfg.Store); err != nil {
			return a, err
		}
	}
	if err = a.store.EnsureSchema(ctx); err != nil {
		return a, fmt.Errorf("ensure schema: %w", err)
	}

	if cfg.Tracing.Enabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.Config{
			ServiceName: serviceName,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return a, err
		}
	}

	pacer := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		Burst:             cfg.Catalog.Burst,
		OnDelay:           a.metrics.ObserveRateLimitDelay,
	})
	catalogCfg := catalog.Config{
		BaseURL:   cfg.Catalog.BaseURL,
		Token:     cfg.Catalog.Token,
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.CatalogTimeout(),
	}
	if a.tracer != nil {
		catalogCfg.TracerProvider = a.tracer
	}
	a.catalog, err = catalog.NewClient(catalogCfg, nil, pacer, a.logger.Named("catalog"))
	if err != nil {
		return a, fmt.Errorf("init catalog client: %w", err)
	}

	if err = a.startProgress(); err != nil {
		return a, err
	}
	if cfg.NotifyEnabled() {
		if err = a.openPublisher(ctx); err != nil {
			return a, err
		}
	}
	if cfg.Metrics.Addr != "" {
		if err = a.startMetricsServer(cfg.Metrics.Addr); err != nil {
			return a, err
		}
	}

	a.logger.Debug("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("run_id", progress.Event{RunID: a.reporter.RunID}.RunUUID().String()),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return repo, nil
	case "sqlite", "":
		repo, err := sqlite.New(ctx, sqlite.Config{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func (a *App) startProgress() error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	runID, err := uuid.New().NewRunID()
	if err != nil {
		return err
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	)
	a.reporter = progress.Reporter{
		Emitter: a.hub,
		RunID:   progress.UUIDToBytes(runID),
		Now:     a.clock.Now,
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID, a.pubsubOpts...)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	a.publisher = pubsubpublisher.New(client.Topic(a.cfg.Notify.Topic))
	return nil
}

func (a *App) startMetricsServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	a.metricsAddr = ln.Addr()
	srv := api.NewServer(a.store, a.registry, a.metrics, a.logger.Named("api"))
	ctx, cancel := context.WithCancel(context.Background())
	a.stopServer = cancel
	a.serverStopped = make(chan error, 1)
	go func() {
		a.serverStopped <- srv.Serve(ctx, ln)
	}()
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the record store.
func (a *App) Store() store.Repository { return a.store }

// Registry returns the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (a *App) MetricsAddr() net.Addr { return a.metricsAddr }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Runner builds a crawl runner over the app's services.
func (a *App) Runner() (*archive.Runner, error) {
	details := archive.DetailOptions{
		Out:     a.out,
		Verbose: a.cfg.Logging.Verbose,
	}
	if a.publisher != nil {
		details.Publisher = a.publisher
	}
	return archive.NewRunner(archive.RunnerConfig{
		Catalog:   a.catalog,
		Store:     a.store,
		ChunkSize: a.cfg.Crawl.ChunkSize,
		Logger:    a.logger.Named("archive"),
		Reporter:  a.reporter,
		Clock:     a.clock,
		Details:   details,
	})
}

// CrawlOptions maps the crawl configuration onto runner options.
func (a *App) CrawlOptions() archive.Options {
	c := a.cfg.Crawl
	return archive.Options{
		PageSize:     c.PageSize,
		Reset:        c.Reset,
		NewOnly:      c.New,
		KnownOnly:    c.Known,
		SkipSearch:   c.SkipSearch,
		SkipBackfill: c.SkipBackfill,
	}
}

// Crawl runs search and backfill with the configured options.
func (a *App) Crawl(ctx context.Context) (archive.Summary, error) {
	runner, err := a.Runner()
	if err != nil {
		return archive.Summary{}, err
	}
	return runner.Run(ctx, a.CrawlOptions())
}

// DownloadAssets fetches the thumbnail of every stored record into the
// configured asset target. Individual download failures only show up in the
// returned stats.
func (a *App) DownloadAssets(ctx context.Context) (assets.Stats, error) {
	if a.cfg.Assets.Dir == "" {
		return assets.Stats{}, errors.New("assets.dir is not set")
	}
	blobs, closeBlobs, err := a.openBlobStore(ctx, a.cfg.Assets.Dir)
	if err != nil {
		return assets.Stats{}, err
	}
	defer closeBlobs()

	pacer := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: a.cfg.Assets.RequestsPerSecond,
		Burst:             1,
		OnDelay:           a.metrics.ObserveRateLimitDelay,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Catalog.UserAgent,
		Timeout:   a.cfg.AssetTimeout(),
	}, pacer)

	d, err := assets.New(ctx, fetcher, blobs, assets.Config{
		Workers:  a.cfg.Assets.Workers,
		Timeout:  a.cfg.AssetTimeout(),
		Force:    a.cfg.Assets.Force,
		Logger:   a.logger.Named("assets"),
		Reporter: a.reporter,
	})
	if err != nil {
		return assets.Stats{}, err
	}
	if _, err := d.SubmitAll(ctx, a.store); err != nil {
		d.Finalize()
		return d.Stats(), err
	}
	return d.Finalize(), nil
}

func (a *App) openBlobStore(ctx context.Context, raw string) (storage.BlobStore, func(), error) {
	target, err := storage.ParseTarget(raw)
	if err != nil {
		return nil, nil, err
	}
	if !target.IsGCS() {
		blobs, err := local.New(local.Config{BaseDir: target.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open asset directory: %w", err)
		}
		return blobs, func() {}, nil
	}
	client, err := gcstorage.NewClient(ctx, a.storageOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage client: %w", err)
	}
	blobs, err := gcs.New(client, gcs.Config{Bucket: target.Bucket, Prefix: target.Prefix})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return blobs, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("error closing storage client", zap.Error(err))
		}
	}, nil
}

// Close shuts services down in reverse order of creation. It is safe to call
// on a partially built App.
func (a *App) Close() {
	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if a.stopServer != nil {
		a.stopServer()
		if err := <-a.serverStopped; err != nil {
			logger.Warn("error stopping metrics server", zap.Error(err))
		}
		a.stopServer = nil
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
		a.publisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			logger.Warn("error closing pubsub client", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			logger.Warn("error closing progress hub", zap.Error(err))
		}
		totals := a.hub.Totals()
		logger.Debug("progress summary",
			zap.Int64("pages", totals[progress.StagePageDone]),
			zap.Int64("details", totals[progress.StageDetailDone]),
			zap.Int64("assets", totals[progress.StageAssetDone]),
			zap.Int64("dropped", a.hub.Dropped()))
		a.hub = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Warn("error flushing traces", zap.Error(err))
		}
		a.tracer = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("error closing store", zap.Error(err))
		}
		a.store = nil
	}
	_ = logger.Sync()
}
