package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/catalog"
)

var (
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the content catalog",
	}

	strictCatalog bool

	catalogValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog, print its step outline and every issue found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, report, err := loadCatalog(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			if err := printOutline(cmd.Context(), cmd.OutOrStdout(), items, report); err != nil {
				return err
			}
			if strictCatalog && len(report.Issues) > 0 {
				return fmt.Errorf("catalog has %d issue(s)", len(report.Issues))
			}
			return nil
		},
	}
)

func init() {
	catalogValidateCmd.Flags().BoolVar(&strictCatalog, "strict", false, "fail when any section was dropped or has a missing field")
	catalogCmd.AddCommand(catalogValidateCmd)
}

// printOutline writes every item with its steps, then the load issues.
func printOutline(ctx context.Context, w io.Writer, src content.Source, report catalog.Report) error {
	store := content.NewStore(src)

	fmt.Fprintf(w, "catalog %s: %d items, %d sections\n", src.Version(), report.Items, report.Sections)

	for _, kind := range []content.ItemKind{content.ItemKindLesson, content.ItemKindChapter} {
		items, err := src.List(ctx, kind)
		if err != nil {
			return err
		}
		for _, it := range items {
			id := it.ID.String()
			sections, err := store.Sections(ctx, id)
			if err != nil {
				return err
			}
			steps, err := store.Steps(ctx, id)
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "\n%s %s %q (%d sections)\n", kind, id, it.Title, len(sections))
			for _, st := range steps {
				title := st.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(w, "  step %d  %-24s", st.Index, title)
				for _, idx := range st.SectionIndices {
					fmt.Fprintf(w, " %d:%s", idx, sections[idx].Kind())
				}
				fmt.Fprintln(w)
			}
		}
	}

	if len(report.Issues) == 0 {
		fmt.Fprintln(w, "\nno issues")
		return nil
	}
	fmt.Fprintf(w, "\n%d issue(s), %d section(s) dropped\n", len(report.Issues), report.Dropped())
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
	return nil
}
