// Package cmd defines and implements the CLI commands for the regalert executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/app"
	"github.com/JakeFAU/regalert/internal/config"
	"github.com/JakeFAU/regalert/internal/logging"
	"github.com/JakeFAU/regalert/internal/pipeline"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that only need configuration.
const skipApp = "skip-app"

// App is what the subcommands use. Tests inject a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Run(ctx context.Context, req pipeline.Request) (pipeline.Summary, error)
	Serve(ctx context.Context) error
	Sources() regulatory.SourceStore
	Cooldowns() regulatory.CooldownStore
	Clock() regulatory.Clock
	SyncCatalog(ctx context.Context) (int, error)
	Close(ctx context.Context)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type options struct {
	configFile string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "regalert",
		Short: "Regulatory notice ingestion pipeline.",
		Long: `regalert pulls recalls, enforcement actions, warning letters and rule
changes from government APIs, feeds and pages, and stores them as one
normalized, deduplicated and scored alert stream.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (env REGALERT_* overrides)")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newMigrateCmd(opts),
		newSourcesCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
