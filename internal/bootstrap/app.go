package bootstrap

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/config"
	"github.com/crashstats/antenna/internal/crash_ingestion/service"
	"github.com/crashstats/antenna/internal/crash_ingestion/throttle"
	"github.com/crashstats/antenna/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "antenna"

// App is a fully wired collector.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	router    *gin.Engine
	pipeline  *service.Pipeline
	heartbeat *service.Heartbeat

	closers []func(context.Context) error
}

func SetGinMode(env string) {
	switch env {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
}

// openPublisher is replaced in tests.
var openPublisher = OpenPublisher

// NewApp builds storage, publishing, throttling and the HTTP router from
// cfg. Whatever was opened is closed again when a later step fails.
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	SetGinMode(cfg.App.Environment)

	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			closeAll(context.Background(), closers, log)
		}
	}()

	provider, shutdownMetrics, err := metrics.NewProvider(cfg.Metrics.Exporter)
	if err != nil {
		return nil, err
	}
	closers = append(closers, shutdownMetrics)
	m := metrics.New(provider, "breakpad_resource")

	storage, err := OpenCrashStorage(ctx, cfg.CrashStorage, cfg.Breakpad.DumpField, log)
	if err != nil {
		return nil, errors.Wrap(err, "open crash storage")
	}

	publisher, err := openPublisher(ctx, cfg.CrashPublish, log)
	if err != nil {
		return nil, errors.Wrap(err, "open crash publisher")
	}
	if c, ok := publisher.(io.Closer); ok {
		closers = append(closers, func(context.Context) error { return c.Close() })
	}

	thr, err := throttle.New(cfg.Throttle.Rules, cfg.Throttle.Products)
	if err != nil {
		return nil, err
	}

	pipeline := service.NewPipeline(storage, publisher, m, log, service.PipelineOptions{
		ConcurrentSaves: cfg.Breakpad.ConcurrentSaves,
		RetryRate:       cfg.Breakpad.SaveRetryRate,
	})
	submitter := service.NewSubmitter(thr, pipeline, m, log, cfg.Breakpad.DumpIDPrefix)

	heartbeat, err := service.NewHeartbeat(cfg.Breakpad.HeartbeatSchedule, submitter, log)
	if err != nil {
		_ = pipeline.Shutdown(context.Background())
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		log:       log,
		pipeline:  pipeline,
		heartbeat: heartbeat,
		closers:   closers,
		router: BuildRouter(RouterDeps{
			ServiceName: serviceName,
			Version:     cfg.App.Version,
			BaseDir:     cfg.App.BaseDir,
			DumpField:   cfg.Breakpad.DumpField,
			Submitter:   submitter,
			Metrics:     m,
			Log:         log,
		}),
	}

	log.Info("collector configured",
		zap.String("crashstorage", cfg.CrashStorage.Class),
		zap.String("crashpublish", cfg.CrashPublish.Class),
		zap.String("throttle_rules", cfg.Throttle.Rules),
		zap.Int("concurrent_saves", cfg.Breakpad.ConcurrentSaves),
	)
	return app, nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves on ln until ctx is cancelled, then stops accepting requests and
// drains the save pipeline within the shutdown timeout.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.heartbeat.Start()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = errors.Wrap(err, "http server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.heartbeat.Stop()

	if err := a.pipeline.Shutdown(shutdownCtx); err != nil {
		a.log.Error("save pipeline did not drain", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	closeAll(shutdownCtx, a.closers, a.log)

	a.log.Info("collector stopped")
	return runErr
}

func closeAll(ctx context.Context, closers []func(context.Context) error, log *zap.Logger) {
	for _, c := range closers {
		if err := c(ctx); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}
}
