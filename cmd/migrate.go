package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/regalert/internal/storage/postgres"
)

// migrateFunc is swapped in tests.
var migrateFunc = pgstore.Migrate

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply the embedded database migrations",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to migrate")
			}
			if err := migrateFunc(opts.cfg.DB.DSN); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
