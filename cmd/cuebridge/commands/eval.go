package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskcue/cuebridge/pkg/bridge"
	"github.com/taskcue/cuebridge/pkg/engine"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// Output formats of eval and watch.
const (
	formatJSON   = "json"
	formatPretty = "pretty"
	formatYAML   = "yaml"
)

// evalFlags are the request options shared by eval and watch.
type evalFlags struct {
	packageName    string
	recursive      bool
	withMeta       bool
	withReferences bool
	targetDir      string
	projectField   string
	workers        int
	format         string
}

func (f *evalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.packageName, "package", "p", "", "only evaluate instances of this package")
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "evaluate every package below the target directory")
	cmd.Flags().BoolVar(&f.withMeta, "meta", false, "include source positions per field")
	cmd.Flags().BoolVar(&f.withReferences, "references", false, "include reference targets per field")
	cmd.Flags().StringVar(&f.targetDir, "target-dir", "", "directory to evaluate, relative to the module root")
	cmd.Flags().StringVar(&f.projectField, "project-field", "", "field marking an instance as a project")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "extraction workers (0 = one per CPU)")
	cmd.Flags().StringVarP(&f.format, "output", "o", formatJSON, "output format: json, pretty or yaml")
}

// request builds the bridge request for dir. Unset flags fall back to
// the loaded settings.
func (f *evalFlags) request(cmd *cobra.Command, dir string) (bridge.Request, error) {
	settings, err := settingsFrom(cmd.Context())
	if err != nil {
		return bridge.Request{}, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return bridge.Request{}, errors.Wrapf(err, "failed to resolve %s", dir)
	}

	opts := settings.EngineOptions()
	opts.PackageName = f.packageName
	opts.Recursive = f.recursive
	opts.WithMeta = f.withMeta
	opts.WithReferences = f.withReferences
	opts.TargetDir = f.targetDir
	if cmd.Flags().Changed("project-field") {
		opts.ProjectField = f.projectField
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers = f.workers
	}

	return bridge.Request{ModuleRoot: abs, Options: opts}, nil
}

func newEvalCommand() *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "eval [dir]",
		Short: "Evaluate a CUE module and print the envelope",
		Long: `Evaluate the CUE module containing dir and print one bridge/1 envelope.

The module root is found by walking up from dir to the nearest cue.mod
directory, unless CUEBRIDGE_MODULE_ROOT is set. The command exits non-zero
when the envelope carries an error.`,
		Example: `  # Evaluate the package in the current directory
  cuebridge eval

  # Evaluate every package of a module with source metadata
  cuebridge eval --recursive --meta --references ./infra

  # Only the services package, as YAML
  cuebridge eval -r -p services -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if err := validFormat(flags.format); err != nil {
				return err
			}

			req, err := flags.request(cmd, dir)
			if err != nil {
				return err
			}

			logger := telemetry.FromContext(cmd.Context())
			logger.WithFields(map[string]interface{}{
				"module_root": req.ModuleRoot,
				"recursive":   req.Options.Recursive,
				"package":     req.Options.PackageName,
			}).Debug("Evaluating module")

			return runEval(cmd.Context(), newBridge(), req, flags.format, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}

func newBridge() *bridge.Bridge {
	return bridge.NewWithEngine(engine.New(nil))
}

// runEval evaluates req and writes the envelope to w. It returns
// errReported when the envelope is an error envelope.
func runEval(ctx context.Context, b *bridge.Bridge, req bridge.Request, format string, w io.Writer) error {
	raw := bridge.Encode(b.Evaluate(ctx, req))

	out, err := render(raw, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return errors.Wrap(err, "failed to write envelope")
	}

	var probe struct {
		Error *bridge.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return errors.Wrap(err, "failed to read envelope")
	}
	if probe.Error != nil {
		return errors.Mark(errors.Newf("%s: %s", probe.Error.Code, probe.Error.Message), errReported)
	}
	return nil
}

func validFormat(format string) error {
	switch format {
	case formatJSON, formatPretty, formatYAML:
		return nil
	}
	return errors.WithHint(errors.Newf("unknown output format %q", format),
		"use json, pretty or yaml")
}

// render converts an encoded envelope to format, keeping field order.
func render(raw []byte, format string) ([]byte, error) {
	switch format {
	case formatPretty:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, errors.Wrap(err, "failed to indent envelope")
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil

	case formatYAML:
		// JSON is YAML; decoding into a node keeps key order.
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, errors.Wrap(err, "failed to convert envelope")
		}
		clearStyle(&node)
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return nil, errors.Wrap(err, "failed to encode envelope")
		}
		if err := enc.Close(); err != nil {
			return nil, errors.Wrap(err, "failed to encode envelope")
		}
		return buf.Bytes(), nil

	default:
		return []byte(fmt.Sprintf("%s\n", raw)), nil
	}
}

// clearStyle drops the flow and quoting styles inherited from JSON so the
// output reads as block YAML.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
