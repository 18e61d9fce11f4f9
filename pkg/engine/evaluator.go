package engine

import (
	"context"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/taskcue/cuebridge/pkg/loader"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// Evaluator materializes loaded instances. A cue.Context is not safe for
// concurrent use, so an Evaluator builds on the calling goroutine only and
// every value it returns is fully evaluated before it is handed out.
type Evaluator struct {
	cuectx       *cue.Context
	moduleRoot   string
	projectField cue.Path
}

// NewEvaluator returns an evaluator with a fresh cue.Context. Contexts are
// never reused across calls.
func NewEvaluator(moduleRoot, projectField string) *Evaluator {
	if projectField == "" {
		projectField = DefaultProjectField
	}
	return &Evaluator{
		cuectx:       cuecontext.New(),
		moduleRoot:   moduleRoot,
		projectField: cue.MakePath(cue.Str(projectField)),
	}
}

// Build builds instances in order. An instance that fails to load, build or
// validate is excluded and reported as a diagnostic; the others are kept.
func (e *Evaluator) Build(ctx context.Context, instances []*loader.Instance) ([]*built, []Diagnostic) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("evaluator")
	metrics := telemetry.MetricsFromContext(ctx)

	var (
		out   []*built
		diags []Diagnostic
	)
	for _, inst := range instances {
		ilog := logger.WithInstance(inst.Path)

		if inst.Err != nil {
			ilog.WithError(inst.Err).Warn("Instance failed to load")
			metrics.RecordInstance("load_failure")
			diags = append(diags, newDiagnostic(inst.Path, CodeLoadFailure, e.moduleRoot, inst.Err))
			continue
		}

		value := e.cuectx.BuildInstance(inst.Build())
		if err := value.Err(); err != nil {
			ilog.WithError(err).Warn("Instance failed to build")
			metrics.RecordInstance("build_failure")
			diags = append(diags, newDiagnostic(inst.Path, CodeBuildFailure, e.moduleRoot, err))
			continue
		}

		// Validate walks the whole value. Nothing is evaluated lazily after
		// this point, which keeps the parallel phase read-only.
		if err := value.Validate(); err != nil {
			ilog.WithError(err).Warn("Instance failed validation")
			metrics.RecordInstance("build_failure")
			diags = append(diags, newDiagnostic(inst.Path, CodeBuildFailure, e.moduleRoot, err))
			continue
		}

		b := &built{
			path:    inst.Path,
			value:   value,
			files:   inst.Files,
			project: e.isProject(value),
		}
		ilog.WithField("project", b.project).Debug("Built instance")
		out = append(out, b)
	}
	return out, diags
}

// isProject reports whether v carries the identifying field without error.
func (e *Evaluator) isProject(v cue.Value) bool {
	f := v.LookupPath(e.projectField)
	return f.Exists() && f.Err() == nil
}
