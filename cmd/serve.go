package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitor HTTP API",
		Long: `Serves run monitors over HTTP, streams activation notifications over a
websocket, and exposes run history, health and Prometheus metrics. Stops on
SIGINT or SIGTERM after closing every open monitor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
