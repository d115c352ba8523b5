package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/api/handlers"
	"github.com/cloo-solutions/carecontext/internal/config"
	"github.com/cloo-solutions/carecontext/internal/jobs"
	"github.com/cloo-solutions/carecontext/internal/logging"
	"github.com/cloo-solutions/carecontext/internal/server"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	port         string
	skipMigrate  bool
	maxBodyBytes int64
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.port, "port", "", "listen port (overrides CARECONTEXT_PORT)")
	fs.BoolVar(&f.skipMigrate, "skip-migrate", false, "do not apply migrations on startup")
	fs.Int64Var(&f.maxBodyBytes, "max-body-bytes", 0, "request body limit in bytes (0 uses the default)")
}

func ServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func runServe(parent context.Context, flags *serveFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flags.port != "" {
		cfg.Port = flags.port
	}

	ctx, err := setupLogger(parent, cfg.Debug)
	if err != nil {
		return err
	}
	logger := logging.GetLogger(ctx)
	defer func() { _ = logger.Sync() }()

	app, err := NewApp(ctx, cfg, appOptions{migrate: !flags.skipMigrate})
	if err != nil {
		return err
	}
	defer app.Close()

	router := server.NewRouter(server.RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(app.Ingestion),
		PatientHandler:   handlers.NewPatientHandler(app.Ingestion, app.Summaries),
		ContextHandler:   handlers.NewContextHandler(app.Retrieval),
		MaxBodyBytes:     flags.maxBodyBytes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	var scheduler *jobs.Scheduler
	if cfg.SummarySchedule != "" {
		scheduler = jobs.NewScheduler()
		if err := scheduler.AddJob(jobs.NewSummaryRefreshJob(app.Summaries), cfg.SummarySchedule); err != nil {
			return fmt.Errorf("invalid CARECONTEXT_SUMMARY_SCHEDULE: %w", err)
		}
		scheduler.Start(ctx)
		logger.Info("summary refresh scheduled", zap.String("schedule", cfg.SummarySchedule))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func setupLogger(ctx context.Context, debug bool) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.New(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetDefault(logger)
	return logging.WithLogger(ctx, logger), nil
}
