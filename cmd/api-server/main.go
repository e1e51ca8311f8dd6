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

	"github.com/spf13/cobra"

	"github.com/hackgods/dental-unit-scheduling/internal/api"
	"github.com/hackgods/dental-unit-scheduling/internal/config"
	"github.com/hackgods/dental-unit-scheduling/internal/logging"
	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Dental unit scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(cmd.Context(), migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.IsDev())
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			count, err := st.migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Str("store", cfg.StoreDriver).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(ctx context.Context, migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", "api-server").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("lock", cfg.LockBackend).
		Str("sink", cfg.EventsSink).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := openStore(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if migrate || cfg.StoreDriver == config.StoreSQLite {
		count, err := st.migrate(rootCtx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", count).Msg("schema up to date")
	}

	// Slot locks
	locker, lockDeps, closeLocker, err := openLocker(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Event sink
	publisher, err := openPublisher(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing event sink")
		}
	}()

	grid, err := clinicGrid(cfg)
	if err != nil {
		return err
	}

	sched := scheduling.NewScheduler(st.repo, locker, publisher, logger, scheduling.Options{
		Grid:            grid,
		RequireDeclared: cfg.RequireDeclared,
		Location:        cfg.Location(),
	})

	router := api.NewRouter(api.RouterConfig{
		Scheduler:    sched,
		Logger:       logger,
		Dependencies: append(st.health, lockDeps...),
		JWTSecret:    cfg.JWTSecret,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
