package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepwise-hub/stepwise/internal/infrastructure/persistence/postgres"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the progress store schema",
	}

	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := m.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("database schema is up to date")
			return nil
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer done()
			return m.Rollback(cmd.Context())
		},
	}

	migrateStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer done()

			status, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, mig := range status {
				applied := "pending"
				if mig.IsApplied {
					applied = mig.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%3d  %-28s %s\n", mig.Version, mig.Name, applied)
			}
			return nil
		},
	}
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func migrator(cmd *cobra.Command) (*postgres.Migrator, func(), error) {
	conn, err := openDatabase(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewMigrator(conn), conn.Close, nil
}
