package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var req pipeline.Request
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline invocation and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Run(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}
			appInstance.Logger().Info("run command finished", zap.Int("inserted", summary.TotalAlertsProcessed))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Agency, "agency", "", "only run sources of this agency")
	cmd.Flags().StringVar(&req.Region, "region", "", "only run sources of this region")
	cmd.Flags().BoolVar(&req.ForceRefresh, "force-refresh", false, "ignore and reset cooldowns")
	cmd.Flags().BoolVar(&req.TestMode, "test-mode", false, "write to the scratch table only")
	return cmd
}
