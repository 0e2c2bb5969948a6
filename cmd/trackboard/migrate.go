package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackboard/trackboard/internal/migrate"
)

var flagMigrateFrom string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import legacy per-collection JSON files into the configured backend",
	Long: `Walks every collection file in the legacy directory and inserts its
records through the live store interface. Records whose ids already exist are
skipped, so the command is safe to rerun after a partial import.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Store.Close()

		from := flagMigrateFrom
		if from == "" {
			from = cfg.GetString(cfgKeyContentDir)
		}
		reconciler := migrate.NewReconciler(backend.Store)
		report, err := reconciler.Run(cmd.Context(), from)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"migrated %d collections: %d imported, %d already present, %d failed\n",
			report.Collections, report.Imported, report.Skipped, report.Failed)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&flagMigrateFrom, "from", "", "legacy content directory (default: content_dir)")
}
