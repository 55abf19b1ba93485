package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/regalert/internal/registry"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and sync the source registry",
	}
	cmd.AddCommand(newSourcesListCmd(), newSourcesSyncCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	var filter registry.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active sources and whether each is due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			all, err := appInstance.Sources().ListSources(ctx)
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}
			now := appInstance.Clock().Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAGENCY\tREGION\tTYPE\tPRIORITY\tDUE\tLAST RUN")
			for _, src := range registry.Active(all, filter) {
				last, seen, err := appInstance.Cooldowns().LastRun(ctx, src.ID)
				if err != nil {
					return fmt.Errorf("read cooldown for %s: %w", src.ID, err)
				}
				lastRun := "never"
				if seen {
					lastRun = last.UTC().Format("2006-01-02T15:04:05Z")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
					src.ID, src.Name, src.Agency, src.Region, src.Type, src.Priority,
					registry.Due(src, last, seen, now), lastRun)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Agency, "agency", "", "filter by agency")
	cmd.Flags().StringVar(&filter.Region, "region", "", "filter by region")
	return cmd
}

func newSourcesSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upsert the YAML catalog into regulatory_data_sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.SyncCatalog(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d sources\n", n)
			return nil
		},
	}
}
