package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

type App struct {
	logger  *zap.Logger
	config  *Config
	server  *http.Server
	closers []func() error
	// workers run alongside the server until the group context is done.
	workers  []func(context.Context) error
	cleanups []func()
}

// NewApp provides an instance of App.
func NewApp() (AppProvider, error) {
	config, err := LoadAndInitConfigs(GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	// ensure the logs folder exists and setup the logging module.
	if err = os.MkdirAll(config.LogFolder, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create logging folder: %s", err)
	}
	clock := NewClock(config.IsProduction)
	logWriter := NewRSyncWriter(config, clock)
	logger, flusher := SetupLogging(config, logWriter, NewTickClock(clock))
	closer := func() {
		if cerr := logWriter.Close(); cerr != nil {
			fmt.Println("error during closing of log file: ", cerr)
		}
	}

	app := &App{
		logger: logger,
		config: config,
		cleanups: []func(){
			func() { _ = flusher() },
			closer,
		},
	}

	storage, err := app.setupStorage()
	if err != nil {
		app.Clean()
		return nil, err
	}

	var queue Queuer
	if config.Storage.MirrorEnabled {
		queue, err = app.setupMirror()
		if err != nil {
			app.Clean()
			return nil, err
		}
	}

	catalogService := NewCatalogService(logger, config, clock, storage, queue)
	if config.Library.SeedDefaults {
		seeded, serr := catalogService.Seed(context.Background(), DefaultInventory())
		if serr != nil {
			app.Clean()
			return nil, fmt.Errorf("failed to seed the catalog: %s", serr)
		}
		logger.Info("catalog seeding checked", zap.Bool("catalog.seeded", seeded))
	}

	if config.Library.OverdueScanEnable {
		reporter := NewOverdueReporter(logger, catalogService, config.Library.OverdueScanSchedule, clock)
		app.workers = append(app.workers, reporter.Run)
	}

	stats := &Statistics{
		version:   config.GitTag,
		container: IsAppRunningInDocker(),
		started:   clock.Now(),
		runtime:   runtime.Version(),
		platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		stats.version = config.GitCommit
	}

	apiHandler := NewAPIHandler(
		logger,
		config,
		stats,
		clock,
		NewIDsHandler(),
		catalogService,
		NewAllowListVerifier(config.Auth.Users),
		NewTokenService(&config.Auth, clock),
	)

	// Build the map of middlewares stacks.
	public, secured, ops := apiHandler.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiHandler.SetupRoutes(httprouter.New(), &MiddlewareMap{
		public:  public.Chain,
		secured: secured.Chain,
		ops:     ops.Chain,
	})

	// Wrap the router with the default http timeout handler. Profiling
	// endpoints stream for longer so they bypass it.
	routerWithTimeout := http.TimeoutHandler(
		router,
		config.Server.RequestTimeout,
		"Timeout. Processing taking too long. Please reach out to support.")

	app.server = &http.Server{
		Addr:           fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler:        TimeoutExempt(router, routerWithTimeout, "/ops/debug/pprof/"),
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
		ConnContext:    SaveConnInContext,
	}

	return app, nil
}

// setupStorage opens the primary catalog storage selected by the configuration.
func (app *App) setupStorage() (CatalogStorage, error) {
	var storage CatalogStorage
	switch app.config.Storage.Driver {
	case StorageSQLite:
		db, err := GetSQLiteClient(app.config)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %s", err)
		}
		storage = NewSQLiteCatalogStorage(app.logger, db)

	case StorageRedis:
		client, err := GetRedisClient(app.config)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis server: %s", err)
		}
		storage = NewRedisCatalogStorage(app.logger, client, app.config.Redis.CatalogKey)

	default:
		db, err := GetBoltDBClient(app.config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to boltDB server: %s", err)
		}
		storage = NewBoltCatalogStorage(app.logger, &app.config.BoltDB, db)
	}
	app.closers = append(app.closers, storage.Close)
	app.logger.Info("catalog storage ready", zap.String("storage.driver", app.config.Storage.Driver))
	return storage, nil
}

// setupMirror connects the snapshots queue and registers the consumer
// replaying them into the bolt mirror.
func (app *App) setupMirror() (Queuer, error) {
	client, err := GetRedisClient(app.config)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis server: %s", err)
	}
	app.closers = append(app.closers, client.Close)

	db, err := GetBoltDBClient(app.config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to boltDB mirror: %s", err)
	}
	mirror := NewBoltCatalogStorage(app.logger, &app.config.BoltDB, db)
	app.closers = append(app.closers, mirror.Close)

	queue := NewRedisQueue(client)
	consumer := NewMirrorConsumer(app.logger, queue, mirror)
	app.workers = append(app.workers, func(ctx context.Context) error {
		return consumer.Consume(ctx, SnapshotQueue)
	})
	return queue, nil
}

// Run starts the api web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.RunWorkers(gCtx, g))
	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info("api server stopped",
		zap.String("app.host", app.config.Server.Host),
		zap.String("app.port", app.config.Server.Port),
		zap.Error(err),
	)
	return err
}

// Clean closes the storages then calls all registered cleanups functions.
// Closers run in reverse order of registration.
func (app *App) Clean() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("failed to close resource", zap.Error(err))
		}
	}
	for _, f := range app.cleanups {
		f()
	}
}

// Serve starts the api web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("api server starting",
			zap.String("app.host", app.config.Server.Host),
			zap.String("app.port", app.config.Server.Port),
		)
		err := app.server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// It states the reason of its call. We proceed with a brutal shutdown if the
// the graceful did not complete successfully. We explicitly return `nil` to
// allow the errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("api server stopping. reason: requested to stop")
		} else {
			app.logger.Info("api server stopping. reason: errored at running")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch err {
		case nil, http.ErrServerClosed:
			app.logger.Info("api server graceful shutdown succeeded")
		case context.DeadlineExceeded:
			app.logger.Info("api server graceful shutdown timed out")
		default:
			app.logger.Info("api server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Info("api server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}

// RunWorkers runs all background workers into separate controlled goroutines.
func (app *App) RunWorkers(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, work := range app.workers {
			work := work
			g.Go(func() error {
				return work(gCtx)
			})
		}
		return nil
	}
}
