package cli

import (
	"detectserver/internal/config"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

type rootOptions struct {
	ConfigPath string
}

// Execute builds the root command tree and runs the CLI. Without a subcommand the
// HTTP server is started.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	serve := newServeCmd(opts)
	rootCmd := &cobra.Command{
		Use:           "detectserver",
		Short:         "Upload images over HTTP and record YOLO object detections",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	rootCmd.SetVersionTemplate("detectserver version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultConfigPath, "Path to an optional YAML config file")

	rootCmd.AddCommand(
		serve,
		newDetectCmd(opts),
		newReindexCmd(opts),
	)
	return rootCmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	return config.Load(opts.ConfigPath)
}
