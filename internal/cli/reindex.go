package cli

import (
	"fmt"

	"detectserver/internal/logger"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/service"
	"detectserver/internal/service/record"

	"github.com/spf13/cobra"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Add records from the output directory to the upload catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.DatabasePath == "" {
				return fmt.Errorf("no catalog configured (DB_PATH is empty)")
			}

			log := logger.New(cmd.ErrOrStderr())
			db, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			reindexer := service.NewReindexer(cfg.UploadDirectory, record.NewWriter(cfg, log),
				sqlite.NewUploadRepository(db), sqlite.NewDetectionRepository(db), log)

			fmt.Fprintf(cmd.OutOrStdout(), "Reindexing %s into %s\n", cfg.OutputDirectory, cfg.DatabasePath)
			result, err := reindexer.Run()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Inserted %d upload(s)\n", result.Inserted)
			if result.Existing > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "   %d already catalogued\n", result.Existing)
			}
			if result.Skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Skipped %d record(s) (no upload or unreadable)\n", result.Skipped)
			}
			return nil
		},
	}
}
