package commands

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskcue/cuebridge/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer newline-delimited requests on stdin",
		Long: `Read one JSON request per line from stdin and write one bridge/1 envelope
per line to stdout, in order, until stdin is closed.

Malformed lines are answered with an INVALID_INPUT envelope and serving
continues. Logs go to stderr.`,
		Example: `  # Evaluate a module through the line protocol
  echo '{"moduleRoot": "./infra", "options": {"recursive": true}}' | cuebridge serve

  # Expose Prometheus metrics while serving
  cuebridge serve --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tel := telemetry.FromTelemetryContext(ctx)
			logger := telemetry.FromContext(ctx).NewComponentLogger("serve")

			if cmd.Flags().Changed("metrics-addr") && tel != nil {
				cfg := tel.Config.Metrics
				cfg.Enabled = true
				cfg.ListenAddress = metricsAddr
				metrics, err := telemetry.NewMetrics(cfg)
				if err != nil {
					return err
				}
				tel.Metrics = metrics
			}

			// The metrics server lives as long as the request stream.
			streamCtx, stop := context.WithCancel(ctx)
			g, gctx := errgroup.WithContext(streamCtx)
			if tel != nil && tel.Metrics != nil {
				g.Go(func() error {
					return tel.Metrics.StartMetricsServer(gctx, logger)
				})
			}

			g.Go(func() error {
				defer stop()
				logger.Info("Serving requests on stdin")
				err := newBridge().Serve(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
				if ctx.Err() != nil {
					// Interrupted by the caller.
					return nil
				}
				return err
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
