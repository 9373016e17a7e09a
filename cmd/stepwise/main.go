// Package main - точка входа Stepwise.
//
// Один бинарник, несколько команд:
//   - serve-reader: API пошагового чтения уроков и глав
//   - serve-store:  удалённое хранилище прогресса поверх PostgreSQL
//   - migrate:      миграции схемы хранилища
//   - catalog:      проверка каталога контента
//   - progress:     просмотр и сброс локального прогресса
//   - features:     состояние флагов функциональности
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stepwise-hub/stepwise/config"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

var (
	cfg *config.Config
	log *logger.Logger

	logLevel   string
	catalogDir string
	features   []string

	rootCmd = &cobra.Command{
		Use:           "stepwise",
		Short:         "Step-gated reader for lessons and chapters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				c.Observability.LogLevel = logLevel
			}
			if catalogDir != "" {
				c.Catalog.Dir = catalogDir
			}
			for _, spec := range features {
				if err := c.Features.Override(spec); err != nil {
					return err
				}
			}
			cfg = c
			log = setupLogger(c)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if log != nil {
				log.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&catalogDir, "catalog-dir", "", "override CATALOG_DIR")
	rootCmd.PersistentFlags().StringArrayVar(&features, "feature", nil, "override a feature flag, e.g. sync.remote=false (repeatable)")

	rootCmd.AddCommand(serveReaderCmd, serveStoreCmd, migrateCmd, catalogCmd, progressCmd, featuresCmd)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setupLogger настраивает структурированное логирование.
func setupLogger(c *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(c.Observability.LogLevel)
	opts.Format = c.Observability.LogFormat
	if c.App.Debug && logLevel == "" {
		opts.Level = logger.LevelDebug
	}

	return logger.New(opts).With(
		logger.String("app", c.App.Name),
		logger.String("env", string(c.App.Environment)),
	)
}
