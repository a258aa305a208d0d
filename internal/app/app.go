package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/auth"
	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/export"
	"github.com/verax-io/verax/internal/handlers"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/metrics"
	"github.com/verax-io/verax/internal/middleware"
	"github.com/verax-io/verax/internal/persistence"
	"github.com/verax-io/verax/internal/ratelimit"
	"github.com/verax-io/verax/internal/scheduler"
	"github.com/verax-io/verax/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Builder wires Verax application dependencies.
type Builder struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	store          audit.Store
	exporter       audit.Exporter
	service        *audit.Service
	rateLimitSvc   *ratelimit.Service
	tracerProvider *telemetry.TracerProvider
	sched          *scheduler.Scheduler
	closers        []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the Verax application components.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.recordStartupMetrics()
	b.initFiber()
	b.initTracing(ctx)
	b.initMiddleware()

	if err := b.initStore(ctx); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	if err := b.initExporter(ctx); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initService()
	b.initScheduler()
	b.initHandlers()

	return &App{
		cfg:      b.cfg,
		version:  b.version,
		logger:   b.logger,
		fiberApp: b.fiberApp,
		sched:    b.sched,
		closers:  b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartupMetrics() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("Starting Verax",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("log_level", b.cfg.Log.Level),
		logger.String("log_format", b.cfg.Log.Format),
		logger.String("store_type", b.cfg.Store.Type),
		logger.String("chain_partition", b.cfg.Chain.Partition),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New()
}

func (b *Builder) initTracing(ctx context.Context) {
	tracingCfg := telemetry.TracingConfig{
		Enabled:        b.cfg.Tracing.Enabled,
		Endpoint:       b.cfg.Tracing.Endpoint,
		ServiceName:    b.cfg.Tracing.ServiceName,
		ServiceVersion: b.cfg.Tracing.ServiceVersion,
		Environment:    b.cfg.Tracing.Environment,
		SamplingRatio:  b.cfg.Tracing.SamplingRatio,
		InsecureConn:   b.cfg.Tracing.InsecureConn,
	}

	provider, err := telemetry.InitTracing(ctx, tracingCfg)
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return
	}

	if b.cfg.Tracing.Enabled {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint),
			logger.String("service_name", b.cfg.Tracing.ServiceName),
		)

		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}

	b.tracerProvider = provider
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	b.fiberApp.Use(middleware.MetricsMiddleware())

	if b.cfg.Tracing.Enabled {
		b.fiberApp.Use(middleware.TracingMiddleware(b.cfg.Tracing.ServiceName))
	}

	if b.cfg.RateLimit.Enabled {
		b.rateLimitSvc = ratelimit.NewService(ratelimit.Config{
			Enabled:         b.cfg.RateLimit.Enabled,
			RequestsPerSec:  b.cfg.RateLimit.RequestsPerSec,
			Burst:           b.cfg.RateLimit.Burst,
			ByIP:            b.cfg.RateLimit.ByIP,
			ByOrg:           b.cfg.RateLimit.ByOrg,
			CleanupInterval: b.cfg.RateLimit.CleanupInterval,
		})

		b.fiberApp.Use(middleware.RateLimitMiddleware(b.rateLimitSvc))

		b.addCloser(func() {
			b.rateLimitSvc.Close()
		})

		b.logger.Info("Rate limiting enabled",
			logger.String("requests_per_sec", fmt.Sprintf("%.1f", b.cfg.RateLimit.RequestsPerSec)),
			logger.Int("burst", b.cfg.RateLimit.Burst),
			logger.String("by_ip", fmt.Sprintf("%t", b.cfg.RateLimit.ByIP)),
			logger.String("by_org", fmt.Sprintf("%t", b.cfg.RateLimit.ByOrg)),
		)
	}
}

func (b *Builder) initStore(ctx context.Context) error {
	store, err := persistence.NewStore(ctx, b.cfg.Store, b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit store: %w", err)
	}

	b.store = store

	b.addCloser(func() {
		if err := store.Close(); err != nil {
			b.logger.Error("Failed to close audit store", logger.Error(err))
		}
	})

	return nil
}

func (b *Builder) initExporter(ctx context.Context) error {
	sink, err := export.NewSink(ctx, b.cfg.Export, b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize export sink: %w", err)
	}

	b.exporter = sink
	return nil
}

func (b *Builder) initService() {
	b.service = audit.NewService(b.store, b.exporter, audit.Options{
		Partition:          b.cfg.Chain.Partition,
		MaxAppendRetries:   b.cfg.Chain.MaxAppendRetries,
		SearchDefaultLimit: b.cfg.Search.DefaultLimit,
		SearchMaxLimit:     b.cfg.Search.MaxLimit,
		RetentionFloorDays: b.cfg.Retention.FloorDays,
		ReportQueueSize:    b.cfg.Report.QueueSize,
		ReportMaxRecords:   b.cfg.Report.MaxRecords,
	}, b.logger)

	// Closers run in reverse order, so the service drains its report
	// worker before the store underneath it closes.
	b.addCloser(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.service.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("Failed to shut down audit service", logger.Error(err))
		}
	})
}

func (b *Builder) initScheduler() {
	if !b.cfg.Retention.ArchiveEnabled && !b.cfg.Verify.Enabled {
		return
	}

	b.sched = scheduler.New(b.service, scheduler.Config{
		ArchiveEnabled:   b.cfg.Retention.ArchiveEnabled,
		ArchiveSchedule:  b.cfg.Retention.ArchiveSchedule,
		ArchiveAfterDays: b.cfg.Retention.ArchiveAfterDays,
		VerifyEnabled:    b.cfg.Verify.Enabled,
		VerifySchedule:   b.cfg.Verify.Schedule,
	}, b.logger)
}

func (b *Builder) initHandlers() {
	eventsHandler := handlers.NewEventsHandler(b.service)
	searchHandler := handlers.NewSearchHandler(b.service)
	chainsHandler := handlers.NewChainsHandler(b.service)
	archiveHandler := handlers.NewArchiveHandler(b.service, b.cfg.Retention.ArchiveAfterDays)
	reportsHandler := handlers.NewReportsHandler(b.service)
	healthHandler := handlers.NewHealthHandler(b.service, b.cfg.Store.Type, b.version)

	if b.cfg.Auth.RequireAuth && b.cfg.Auth.Enabled {
		jwtService := auth.NewJWTService(b.cfg.Auth.JWTSecret, b.cfg.Auth.JWTExpiry, b.cfg.Auth.Issuer)
		b.fiberApp.Use(middleware.JWTAuth(jwtService, b.cfg.Auth.PublicPaths))
	}

	// With auth enabled the actor comes from verified claims only;
	// headers identify the caller in trusted-gateway deployments.
	b.fiberApp.Use(middleware.ActorInjection(!b.cfg.Auth.Enabled))

	if b.rateLimitSvc != nil {
		b.fiberApp.Use(middleware.OrgRateLimitMiddleware(b.rateLimitSvc))
	}

	v1 := b.fiberApp.Group("/v1/audit")
	v1.Post("/events", eventsHandler.Log)
	v1.Get("/records/:id", eventsHandler.Get)
	v1.Post("/search", searchHandler.Search)
	v1.Get("/chains", chainsHandler.List)
	v1.Post("/verify", chainsHandler.Verify)
	v1.Post("/reports", reportsHandler.Create)
	v1.Get("/reports", reportsHandler.List)
	v1.Get("/reports/:id", reportsHandler.Get)

	if b.cfg.Auth.Enabled {
		v1.Post("/archive", middleware.RequireRole(auth.RoleAuditAdmin), archiveHandler.Run)
	} else {
		v1.Post("/archive", archiveHandler.Run)
	}

	if b.rateLimitSvc != nil {
		rateLimitHandler := handlers.NewRateLimitHandler(b.rateLimitSvc, b.logger)

		admin := b.fiberApp.Group("/v1/admin/ratelimit")
		if b.cfg.Auth.Enabled {
			admin.Use(middleware.RequireRole(auth.RoleAuditAdmin))
		}
		admin.Get("/stats", rateLimitHandler.GetStats)
		admin.Get("/config", rateLimitHandler.GetConfig)
		admin.Post("/reset/ip/:ip", rateLimitHandler.ResetIP)
		admin.Post("/reset/org/:org_id", rateLimitHandler.ResetOrg)
	}

	b.fiberApp.Get("/health", healthHandler.Check)
	b.fiberApp.Get("/health/live", healthHandler.Liveness)
	b.fiberApp.Get("/health/ready", healthHandler.Readiness)

	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App represents a configured Verax application ready to run.
type App struct {
	cfg      *config.Config
	version  string
	logger   logger.Logger
	fiberApp *fiber.App
	sched    *scheduler.Scheduler
	closers  []func()
}

// Run starts the Verax application and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.startScheduler(); err != nil {
		a.runClosers()
		return err
	}

	a.logStartup()

	serverErr := make(chan error, 1)

	go func() {
		if a.cfg.Server.TLS.Enabled {
			serverErr <- a.fiberApp.ListenTLS(a.cfg.Address(), a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
		} else {
			serverErr <- a.fiberApp.Listen(a.cfg.Address())
		}
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Failed to start server", logger.Error(err))
			a.stopScheduler()
			a.runClosers()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	a.stopScheduler()

	if err := a.fiberApp.Shutdown(); err != nil {
		a.logger.Error("Server forced to shutdown", logger.Error(err))
	}

	a.runClosers()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("Server exited gracefully")
	return nil
}

func (a *App) startScheduler() error {
	if a.sched == nil {
		return nil
	}

	if err := a.sched.Start(); err != nil {
		a.logger.Error("Failed to start scheduler", logger.Error(err))
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

func (a *App) stopScheduler() {
	if a.sched == nil {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.sched.Stop(stopCtx); err != nil {
		a.logger.Error("Failed to stop scheduler", logger.Error(err))
	}
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *App) logStartup() {
	if !a.cfg.Server.TLS.Enabled {
		a.logger.Info("Server starting", logger.String("address", a.cfg.Address()))
		return
	}

	a.logger.Info("Server starting with TLS",
		logger.String("address", a.cfg.Address()),
		logger.String("cert", a.cfg.Server.TLS.CertFile),
		logger.String("key", a.cfg.Server.TLS.KeyFile),
	)
}
