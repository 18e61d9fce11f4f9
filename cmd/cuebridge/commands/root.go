package commands

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/taskcue/cuebridge/pkg/config"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// errReported marks failures already written to stdout as an envelope.
var errReported = errors.New("call failed")

// IsReported reports whether err was already rendered as an error envelope.
func IsReported(err error) bool {
	return errors.Is(err, errReported)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var tel *telemetry.Telemetry

	rootCmd := &cobra.Command{
		Use:   "cuebridge",
		Short: "cuebridge - evaluate CUE modules into JSON projections",
		Long: `cuebridge loads a CUE module, evaluates every package instance in it and
returns one versioned JSON envelope per call.

The envelope carries, per instance:
  - the concrete projection, with task source positions under _source
  - which instances are projects
  - optional source metadata and reference targets per field`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if verbose {
				settings.Log.Level = "debug"
			}

			tel, err = telemetry.NewTelemetry(settings.Telemetry(version))
			if err != nil {
				return errors.Wrap(err, "failed to initialize telemetry")
			}

			ctx := withSettings(tel.WithContext(cmd.Context()), settings)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if tel == nil {
				return nil
			}
			return tel.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ./cuebridge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

type settingsKey struct{}

func withSettings(ctx context.Context, s *config.Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

// settingsFrom returns the settings loaded by the root command, or the
// defaults when none were loaded.
func settingsFrom(ctx context.Context) (*config.Settings, error) {
	if s, ok := ctx.Value(settingsKey{}).(*config.Settings); ok {
		return s, nil
	}
	return config.LoadWithViper(config.NewViper())
}
