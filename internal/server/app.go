// Package server initializes and runs the feedgate server: the HTTP API and
// proxy, the gRPC health service and the sync scheduler. It owns startup
// wiring and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/archive"
	"github.com/dmitrijs2005/feedgate/internal/server/auth"
	"github.com/dmitrijs2005/feedgate/internal/server/config"
	"github.com/dmitrijs2005/feedgate/internal/server/httpapi"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/metrics"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedgate/internal/server/scheduler"
	"github.com/dmitrijs2005/feedgate/internal/server/services"

	gs "github.com/dmitrijs2005/feedgate/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	metrics   metrics.Reporter
	http      *httpapi.Server
	health    *gs.HealthServer
	scheduler *scheduler.Scheduler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	if err := app.wire(ctx, rm); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context, rm repomanager.RepositoryManager) error {
	c := app.config

	app.metrics = metrics.Nop()
	if c.StatsdAddr != "" {
		r, err := metrics.NewStatsdReporter(c.StatsdAddr, app.logger)
		if err != nil {
			return fmt.Errorf("metrics init error: %w", err)
		}
		app.metrics = r
	}

	arch := archive.Nop()
	if c.ArchiveBucket != "" {
		s3a, err := archive.NewS3Archiver(ctx, archive.Options{
			Bucket:       c.ArchiveBucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("archive init error: %w", err)
		}
		arch = s3a
	}

	ing := ingestion.NewClient(c.IngestionBaseURL, c.IngestionTimeout, app.logger)

	sched, err := scheduler.New(app.db, rm, ing, arch, app.metrics, app.logger, scheduler.Options{
		TriggerInterval:   c.TriggerInterval,
		ReconcileInterval: c.ReconcileInterval,
		Workers:           c.Workers,
		ClaimLease:        c.ClaimLease(),
	})
	if err != nil {
		return fmt.Errorf("scheduler init error: %w", err)
	}
	app.scheduler = sched

	resolver := auth.NewResolver(app.db, rm, c.APIKeyHeader, []byte(c.SessionSecret), app.logger, app.metrics)
	policies := httpapi.PoliciesFor(resolver)

	fw, err := httpapi.NewForwarder(c.IngestionBaseURL, httpapi.ProxyRoutes(policies), c.IngestionTimeout, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("proxy init error: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Feeds:          services.NewFeedService(app.db, rm, ing, app.logger),
		Subscriptions:  services.NewSubscriptionService(app.db, rm, app.logger),
		Posts:          services.NewPostService(app.db, rm, ing, app.logger),
		Policies:       policies,
		Forwarder:      fw,
		CORSOrigins:    c.CORSOrigins,
		APIKeyHeader:   c.APIKeyHeader,
		HandlerTimeout: c.IngestionTimeout * 2,
	}, app.logger)

	app.http = httpapi.NewServer(c.EndpointAddrHTTP, router, app.logger)
	app.health = gs.NewHealthServer(c.EndpointAddrGRPC, app.logger)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startScheduler(ctx context.Context, cancelFunc context.CancelFunc) {
	app.health.SetServing(true)
	err := app.scheduler.Run(ctx)
	app.health.SetServing(false)
	if err != nil {
		app.logger.Error(ctx, "scheduler failed", "error", err)
		cancelFunc()
	}
}

// Run starts every component and blocks until a termination signal arrives
// or one of them fails, then waits for all of them to stop.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startScheduler(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(ctx)
	app.logger.Info(ctx, "App stopped")
}

func (app *App) close(ctx context.Context) {
	if app.metrics != nil {
		if err := app.metrics.Close(); err != nil {
			app.logger.Warn(ctx, "metrics close failed", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close failed", "error", err)
	}
}
