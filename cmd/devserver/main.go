// Command devserver is an in-memory stand-in for the model analysis backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifc-inspector/inspector/internal/api"
	"github.com/ifc-inspector/inspector/internal/config"
	"github.com/ifc-inspector/inspector/internal/jobs"
	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		fixture    string
	)

	cmd := &cobra.Command{
		Use:          "devserver",
		Short:        "Serve the model analysis endpoints from memory",
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if fixture != "" {
				cfg.Server.FixtureReport = fixture
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "inspector.yaml", "configuration file (created with defaults when missing)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides server.port")
	cmd.Flags().StringVar(&fixture, "fixture", "", "serve this JSON or msgpack report for every job")

	return cmd
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := storage.NewLocalStore(cfg.Server.UploadsDirectory)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	var fixtureReport *models.Report
	if cfg.Server.FixtureReport != "" {
		fixtureReport, err = jobs.LoadFixture(cfg.Server.FixtureReport)
		if err != nil {
			return err
		}
		logger.Info("serving fixture report",
			zap.String("path", cfg.Server.FixtureReport),
			zap.Int("instruments", len(fixtureReport.Instruments)))
	}

	collector := metrics.NewCollector(metrics.DefaultNamespace)
	jobMgr := jobs.NewManager(store, jobs.NewSceneAnalyzer(fixtureReport, logger), jobs.Options{
		Logger:  logger,
		Metrics: collector,
	})
	defer jobMgr.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		BodyLimit:       cfg.Server.BodyLimit,
		RequestTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		EnableCORS:      cfg.Server.EnableCORS,
		AllowOrigins:    api.SplitOrigins(cfg.Server.AllowOrigins),
		RequestLogging:  cfg.Server.EnableRequestLogging,
		ExposeDetails:   true,
		UploadRateLimit: cfg.Server.UploadRateLimit,
	}, logger, collector)

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:   store,
		Jobs:    jobMgr,
		Metrics: collector,
		Logger:  logger,
		Version: Version,
	}))

	s := &http.Server{
		Addr:        cfg.GetServerAddr(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		// Uploads and event streams outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	logger.Info("dev backend starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("listen", "http://"+cfg.GetServerAddr()),
		zap.String("uploads", cfg.Server.UploadsDirectory))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		jobMgr.RunJanitor(gctx,
			time.Duration(cfg.Server.CleanupIntervalMinutes)*time.Minute,
			time.Duration(cfg.Server.JobRetentionMinutes)*time.Minute)
		return nil
	})

	return g.Wait()
}
