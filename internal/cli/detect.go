package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"detectserver/internal/app"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service"

	"github.com/spf13/cobra"
)

type detectResult struct {
	File    string            `json:"file"`
	Stored  string            `json:"stored,omitempty"`
	Outcome string            `json:"outcome"`
	Result  []model.Detection `json:"result"`
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var failOnError bool

	cmd := &cobra.Command{
		Use:   "detect IMAGE...",
		Short: "Run local images through the upload pipeline and print the results as JSON",
		Long: `detect stores each image in the upload directory, runs detection on it and
writes its CSV record exactly as POST /upload does. One JSON object per image is
printed to stdout; logs go to stderr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			log := logger.New(cmd.ErrOrStderr())
			application, err := app.NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer application.Close()

			results, failed := detectFiles(application.Manager(), args)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, res := range results {
				if err := enc.Encode(res); err != nil {
					return err
				}
			}

			if failOnError && failed > 0 {
				return fmt.Errorf("%d of %d image(s) failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any image fails")
	return cmd
}

func detectFiles(manager *service.Manager, paths []string) ([]detectResult, int) {
	results := make([]detectResult, 0, len(paths))
	failed := 0

	for _, path := range paths {
		outcome := detectFile(manager, path)
		if outcome.Status == service.StatusFailed {
			failed++
		}
		results = append(results, detectResult{
			File:    path,
			Stored:  outcome.StoredName,
			Outcome: outcome.Label(),
			Result:  outcome.Result(),
		})
	}
	return results, failed
}

func detectFile(manager *service.Manager, path string) service.Outcome {
	f, err := os.Open(path)
	if err != nil {
		return manager.Reject(err)
	}
	defer f.Close()

	return manager.ProcessUpload(filepath.Base(path), f)
}
