package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stepwise-hub/stepwise/config"
	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
)

var (
	progressCmd = &cobra.Command{
		Use:   "progress",
		Short: "Inspect or reset progress kept in the local cache",
	}

	progressReader string

	progressListCmd = &cobra.Command{
		Use:   "list",
		Short: "List content items with a local progress record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLocalStore(func(s *progressstore.Store) error {
				return listProgress(cmd.OutOrStdout(), s)
			})
		},
	}

	progressResetCmd = &cobra.Command{
		Use:   "reset <content-id>...",
		Short: "Drop local progress records; the remote store is not touched",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalStore(func(s *progressstore.Store) error {
				return resetProgress(cmd.OutOrStdout(), s, args)
			})
		},
	}

	featuresCmd = &cobra.Command{
		Use:   "features",
		Short: "Show feature flags after environment and --feature overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printFeatures(cmd.OutOrStdout(), cfg.Features)
			return nil
		},
	}
)

func init() {
	progressCmd.PersistentFlags().StringVar(&progressReader, "reader", shared.NamespaceLessons.String(), "reader namespace (lessons, library)")
	progressCmd.AddCommand(progressListCmd, progressResetCmd)
}

// withLocalStore opens the local cache alone and runs fn on the store of
// --reader. A running reader holds the Badger directory lock.
func withLocalStore(fn func(*progressstore.Store) error) error {
	ns, err := shared.ParseNamespace(progressReader)
	if err != nil {
		return fmt.Errorf("--reader %q: %w", progressReader, err)
	}

	local, closeLocal, err := openLocalCache(cfg, log)
	if err != nil {
		return err
	}
	defer closeLocal()

	return fn(progressstore.New(local, nil, log, progressstore.Options{Namespace: ns}))
}

func listProgress(w io.Writer, s *progressstore.Store) error {
	ids, err := s.LocalContentIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec := s.Local(id)
		fmt.Fprintf(w, "%-24s step %-3d completed %d\n", id, rec.CurrentStep, len(rec.CompletedSections))
	}
	fmt.Fprintf(w, "%d record(s) in %s\n", len(ids), s.Namespace())
	return nil
}

func resetProgress(w io.Writer, s *progressstore.Store, ids []string) error {
	for _, id := range ids {
		existed, err := s.ResetLocal(id)
		if err != nil {
			return fmt.Errorf("reset %s: %w", id, err)
		}
		if existed {
			fmt.Fprintf(w, "reset %s\n", id)
		} else {
			fmt.Fprintf(w, "no local record for %s\n", id)
		}
	}
	return nil
}

func printFeatures(w io.Writer, ff *config.FeatureFlags) {
	for _, f := range ff.All() {
		state := "off"
		if f.Enabled {
			state = "on"
		}
		fmt.Fprintf(w, "%-24s %-3s %s\n", f.Name, state, f.Description)
	}
}
