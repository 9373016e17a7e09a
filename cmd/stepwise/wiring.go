package main

import (
	"context"
	"fmt"
	"time"

	"github.com/stepwise-hub/stepwise/config"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/catalog"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/external/progressapi"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/persistence/badger"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/persistence/postgres"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/persistence/redis"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
	"github.com/stepwise-hub/stepwise/pkg/logger"
	"github.com/stepwise-hub/stepwise/pkg/retry"
	"github.com/stepwise-hub/stepwise/pkg/telemetry"
)

// localCache is a progress.LocalCache that can be health-checked and closed.
type localCache interface {
	progress.LocalCache
	Ping(ctx context.Context) error
}

// openLocalCache opens the configured local cache backend. The returned
// closer must be called on exit.
func openLocalCache(c *config.Config, log *logger.Logger) (localCache, func() error, error) {
	switch c.LocalCache.Backend {
	case config.LocalCacheRedis:
		rc := redis.DefaultConfig()
		rc.URL = c.Redis.URL
		rc.Host = c.Redis.Host
		rc.Port = c.Redis.Port
		rc.Password = c.Redis.Password
		rc.DB = c.Redis.DB
		rc.PoolSize = c.Redis.PoolSize
		rc.MinIdleConns = c.Redis.MinIdleConns
		rc.DialTimeout = c.Redis.DialTimeout
		rc.ReadTimeout = c.Redis.ReadTimeout
		rc.WriteTimeout = c.Redis.WriteTimeout
		rc.KeyPrefix = c.Redis.KeyPrefix

		cache, err := retry.DoWithData(context.Background(), func(context.Context) (*redis.Cache, error) {
			return redis.NewCache(rc)
		}, startupRetry(log, "redis"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("local cache ready", logger.String("backend", "redis"), logger.String("addr", rc.Addr()))
		return redis.NewProgressCache(cache, rc.ReadTimeout), cache.Close, nil

	default:
		bc := badger.DefaultConfig(c.LocalCache.BadgerPath)
		if c.LocalCache.BadgerInMemory {
			bc = badger.InMemoryConfig()
		}
		bc.Logger = log

		store, err := badger.Open(bc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		log.Info("local cache ready",
			logger.String("backend", "badger"),
			logger.String("path", bc.Path),
			logger.Bool("in_memory", bc.InMemory),
		)
		return store, store.Close, nil
	}
}

// newRemote builds the remote progress client, or returns nil when sync is
// disabled or no URL is configured.
func newRemote(c *config.Config, log *logger.Logger) (*progressapi.Client, error) {
	if !c.Features.IsEnabled(config.FeatureSyncRemote) || c.RemoteStore.BaseURL == "" {
		log.Info("remote progress sync disabled")
		return nil, nil
	}

	breaker := circuitbreaker.RemoteStoreBreaker(
		c.RemoteStore.CircuitBreakerThreshold,
		c.RemoteStore.CircuitBreakerTimeout,
		c.RemoteStore.CircuitBreakerHalfOpenMax,
		breakerLogger(log),
	)

	client, err := progressapi.NewClient(progressapi.ClientConfig{
		BaseURL: c.RemoteStore.BaseURL,
		APIKey:  c.RemoteStore.APIKey,
		Timeout: c.RemoteStore.RequestTimeout,
		Breaker: breaker,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	log.Info("remote progress sync enabled",
		logger.String("base_url", c.RemoteStore.BaseURL),
		logger.Duration("request_timeout", c.RemoteStore.RequestTimeout),
		logger.Duration("load_wait", c.RemoteStore.LoadWait),
	)
	return client, nil
}

// openDatabase connects to PostgreSQL with the configured pool settings.
func openDatabase(ctx context.Context, c *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	if err := c.ValidateStore(); err != nil {
		return nil, err
	}

	log.Info("connecting to database...")
	opts := postgres.PoolOptions{
		MaxConns:        int32(c.Database.MaxOpenConns),
		MinConns:        int32(c.Database.MaxIdleConns),
		MaxConnLifetime: c.Database.ConnMaxLifetime,
		MaxConnIdleTime: c.Database.ConnMaxIdleTime,
	}
	conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.NewConnection(ctx, c.Database.URL, opts)
	}, startupRetry(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

// loadCatalog loads the content catalog and logs every issue.
func loadCatalog(ctx context.Context, c *config.Config, log *logger.Logger) (*content.Catalog, catalog.Report, error) {
	items, report, err := catalog.NewLoader(c.Catalog.Dir, log).Load(ctx)
	if err != nil {
		return nil, report, fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Info("catalog loaded",
		logger.CatalogVersion(report.Version),
		logger.Int("items", report.Items),
		logger.Int("sections", report.Sections),
		logger.Int("dropped", report.Dropped()),
	)
	return items, report, nil
}

// initTelemetry installs the tracer provider.
func initTelemetry(ctx context.Context, c *config.Config, log *logger.Logger) (telemetry.ShutdownFunc, error) {
	return telemetry.Init(ctx, telemetry.Config{
		ServiceName:    c.App.Name,
		ServiceVersion: c.App.Version,
		Environment:    string(c.App.Environment),
		Enabled:        c.Observability.TracingEnabled,
		Exporter:       c.Observability.TracingExporter,
		SampleRatio:    c.Observability.TracingSample,
	}, log)
}

// startupRetry retries connecting to a backing service that may still be booting.
func startupRetry(log *logger.Logger, service string) retry.Option {
	return retry.Startup(func(attempt int, err error, delay time.Duration) {
		log.Warn("backing service not ready, retrying",
			logger.String("service", service),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
}

func breakerLogger(log *logger.Logger) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
}
