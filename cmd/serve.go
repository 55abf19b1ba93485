package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP invocation endpoint",
		Long: `Starts the HTTP server. POST / (or /v1/pipeline/run) triggers one
pipeline invocation; a scheduler such as Cloud Scheduler or cron calls it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
