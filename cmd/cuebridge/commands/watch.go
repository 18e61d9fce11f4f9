package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/taskcue/cuebridge/pkg/loader"
	"github.com/taskcue/cuebridge/pkg/telemetry"
	"github.com/taskcue/cuebridge/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-evaluate a CUE module whenever its sources change",
		Long: `Evaluate the CUE module containing dir, then watch every directory of the
module and print a fresh envelope after each burst of .cue changes.

Error envelopes are printed like any other and do not stop the watch.
The debounce interval comes from watch.debounce in the settings.`,
		Example: `  # Watch a module with metadata
  cuebridge watch -r --meta ./infra`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if err := validFormat(flags.format); err != nil {
				return err
			}

			ctx := cmd.Context()
			settings, err := settingsFrom(ctx)
			if err != nil {
				return err
			}
			req, err := flags.request(cmd, dir)
			if err != nil {
				return err
			}
			root, err := loader.ResolveModuleRoot(req.ModuleRoot)
			if err != nil {
				return err
			}

			logger := telemetry.FromContext(ctx)
			w, err := watch.New(root, settings.Watch.Debounce, logger)
			if err != nil {
				return err
			}

			b := newBridge()
			out := cmd.OutOrStdout()
			evaluate := func(ctx context.Context) {
				if err := runEval(ctx, b, req, flags.format, out); err != nil && !IsReported(err) {
					logger.WithError(err).Error("Evaluation failed")
				}
			}

			evaluate(ctx)
			return w.Run(ctx, evaluate)
		},
	}

	flags.register(cmd)
	return cmd
}
