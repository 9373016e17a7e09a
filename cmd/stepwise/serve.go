package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stepwise-hub/stepwise/config"
	"github.com/stepwise-hub/stepwise/internal/application/checkpoint"
	"github.com/stepwise-hub/stepwise/internal/application/command"
	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/application/query"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/persistence/postgres"
	httpserver "github.com/stepwise-hub/stepwise/internal/interface/http"
	"github.com/stepwise-hub/stepwise/internal/interface/http/handlers"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

var (
	serveReaderCmd = &cobra.Command{
		Use:   "serve-reader",
		Short: "Serve the reader API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listenAddr != "" {
				cfg.HTTP.ReaderAddr = listenAddr
			}
			return runReader(cmd.Context(), cfg, log)
		},
	}

	serveStoreCmd = &cobra.Command{
		Use:   "serve-store",
		Short: "Serve the remote progress store API backed by PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listenAddr != "" {
				cfg.HTTP.StoreAddr = listenAddr
			}
			return runStore(cmd.Context(), cfg, log, autoMigrate)
		},
	}

	autoMigrate bool
	listenAddr  string
)

func init() {
	serveReaderCmd.Flags().StringVar(&listenAddr, "addr", "", "override HTTP_READER_ADDR")
	serveStoreCmd.Flags().StringVar(&listenAddr, "addr", "", "override HTTP_STORE_ADDR")
	serveStoreCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply pending migrations before serving")
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

func runReader(ctx context.Context, c *config.Config, log *logger.Logger) error {
	log.Info("starting Stepwise reader", logger.String("version", c.App.Version))

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ТРАССИРОВКА
	// ─────────────────────────────────────────────────────────────────────────
	shutdownTracing, err := initTelemetry(ctx, c, log)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. КАТАЛОГ
	// ─────────────────────────────────────────────────────────────────────────
	items, _, err := loadCatalog(ctx, c, log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ ПРОГРЕССА
	// ─────────────────────────────────────────────────────────────────────────
	local, closeLocal, err := openLocalCache(c, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLocal(); err != nil {
			log.Warn("failed to close local cache", logger.Err(err))
		}
	}()

	client, err := newRemote(c, log)
	if err != nil {
		return err
	}
	var remote progress.RemoteStore
	if client != nil {
		remote = client
	}

	namespaces := []shared.Namespace{shared.NamespaceLessons}
	if c.Features.IsEnabled(config.FeatureReaderLibrary) {
		namespaces = append(namespaces, shared.NamespaceLibrary)
	}
	stores := progressstore.NewRegistry(local, remote, log, progressstore.Options{
		LoadWait:      c.RemoteStore.LoadWait,
		RemoteTimeout: c.RemoteStore.RequestTimeout,
	}, namespaces...)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	personalize := c.Features.IsEnabled(config.FeatureReaderPersonalization)
	reader := &httpserver.ReaderHandlers{
		Items:           items,
		Stores:          stores,
		GetReaderView:   query.NewGetReaderViewHandler(items, stores, personalize, log),
		AdvanceStep:     command.NewAdvanceStepHandler(items, stores, log),
		JumpToStep:      command.NewJumpToStepHandler(items, stores, log),
		CompleteSection: command.NewCompleteSectionHandler(items, stores, log),
		SubmitCheckpt: command.NewSubmitCheckpointHandler(
			items, stores, checkpoint.NewEvaluator(items, log), c.Reader.CheckpointAdvanceDelay, log,
		),
	}

	health := handlers.NewReaderHealth(c.App.Version, local, items.Len)
	if client != nil {
		health.WatchRemoteStore(client)
	}

	server := httpserver.NewServer(serverConfig(c, c.HTTP.ReaderAddr), httpserver.Dependencies{
		Reader:        reader,
		Logger:        log,
		HealthChecker: health,
	})

	return serve(ctx, c, log, server, func(ctx context.Context) error {
		// Дожидаемся отправки прогресса в удалённое хранилище
		return stores.Flush(ctx)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE STORE
// ══════════════════════════════════════════════════════════════════════════════

func runStore(ctx context.Context, c *config.Config, log *logger.Logger, migrate bool) error {
	log.Info("starting Stepwise progress store", logger.String("version", c.App.Version))

	shutdownTracing, err := initTelemetry(ctx, c, log)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	conn, err := openDatabase(ctx, c, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection...")
		conn.Close()
	}()

	if migrate {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	repo := postgres.NewProgressRepository(conn, circuitbreaker.DatabaseBreaker(breakerLogger(log)), c.Database.QueryTimeout)

	health := handlers.NewStoreHealth(c.App.Version, conn)

	scfg := serverConfig(c, c.HTTP.StoreAddr)
	// A reader process pushes all of its progress records from one address.
	scfg.RateLimitPerSecond = 0
	if c.RemoteStore.APIKey != "" {
		scfg.APIKeys = []string{c.RemoteStore.APIKey}
	}

	server := httpserver.NewServer(scfg, httpserver.Dependencies{
		Progress:      repo,
		Logger:        log,
		HealthChecker: health,
	})

	return serve(ctx, c, log, server, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func serverConfig(c *config.Config, addr string) httpserver.Config {
	scfg := httpserver.DefaultConfig()
	scfg.Addr = addr
	scfg.ReadTimeout = c.HTTP.ReadTimeout
	scfg.WriteTimeout = c.HTTP.WriteTimeout
	scfg.IdleTimeout = c.HTTP.IdleTimeout
	scfg.AllowedOrigins = c.HTTP.AllowedOrigins
	scfg.EnableMetrics = c.Observability.MetricsEnabled
	scfg.RateLimitPerSecond = c.HTTP.RateLimitPerSecond
	scfg.RateLimitBurst = c.HTTP.RateLimitBurst
	scfg.Version = c.App.Version
	return scfg
}

// serve runs server until ctx is cancelled or it fails, then shuts it down
// and runs drain within the shutdown budget.
func serve(ctx context.Context, c *config.Config, log *logger.Logger, server *httpserver.Server, drain func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", logger.Duration("timeout", c.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.App.ShutdownTimeout)
		defer cancel()

		var shutdownErr error
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop HTTP server gracefully", logger.Err(err))
			shutdownErr = err
		}
		if drain != nil {
			if err := drain(shutdownCtx); err != nil {
				log.Warn("pending remote writes abandoned", logger.Err(err))
			}
		}

		if shutdownErr != nil {
			log.Warn("shutdown completed with errors")
		} else {
			log.Info("shutdown completed successfully")
		}
		return shutdownErr
	})

	log.Info("Stepwise is running", logger.String("address", server.Address()))

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
