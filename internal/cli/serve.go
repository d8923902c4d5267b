package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"detectserver/internal/app"
	"detectserver/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if host != "" {
				cfg.Host = host
			}
			if port > 0 {
				cfg.Port = port
			}

			log, err := logger.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			application, err := app.NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT)")
	return cmd
}
