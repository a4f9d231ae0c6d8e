package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the database schema",
	Long:      "Apply (up) or roll back (down) the embedded schema migrations for the configured database.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(store.MigrateUp), string(store.MigrateDown)},
	RunE: func(cmd *cobra.Command, args []string) error {
		var schemaVersion uint
		err := logger.TimedOperation("migrate "+args[0], nil, func() error {
			var err error
			schemaVersion, err = store.Migrate(&cfg.Database, store.MigrateDirection(args[0]))
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", schemaVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
