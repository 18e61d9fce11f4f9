package engine

import (
	"context"

	"github.com/taskcue/cuebridge/pkg/extract"
	"github.com/taskcue/cuebridge/pkg/loader"
	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// Engine evaluates CUE modules in two phases: a sequential build on one
// cue.Context followed by parallel, read-only extraction. The phases never
// interleave. Nothing is cached between calls.
type Engine struct {
	extractor Extractor
}

// New returns an engine using x for the parallel phase. A nil x selects
// DefaultExtractor.
func New(x Extractor) *Engine {
	if x == nil {
		x = DefaultExtractor
	}
	return &Engine{extractor: x}
}

// Run evaluates the instances selected by req. Instances that fail are
// reported in ModuleResult.Diagnostics; Run fails only when discovery fails,
// a worker panics, or no instance survives both phases.
//
// Cancellation of ctx is not observed. A call always runs to completion so
// the caller receives a typed result; ctx only carries telemetry.
func (e *Engine) Run(ctx context.Context, req Request) (*ModuleResult, error) {
	ctx = context.WithoutCancel(ctx)
	metrics := telemetry.MetricsFromContext(ctx)

	loadOp := telemetry.StartOperation(ctx, telemetry.SpanLoad,
		telemetry.AttrModuleRoot.String(req.ModuleRoot),
		telemetry.AttrPackage.String(req.Options.PackageName))
	loaded, err := loader.Load(loadOp.Ctx, req.loaderRequest())
	metrics.RecordPhase("load", loadOp.Timer.Duration())
	if err != nil {
		ee := Classify(err)
		loadOp.End(ee)
		return nil, ee
	}
	loadOp.End(nil)

	buildOp := telemetry.StartOperation(ctx, telemetry.SpanBuild,
		telemetry.AttrInstances.Int(len(loaded.Instances)))
	builds, diags := NewEvaluator(loaded.ModuleRoot, req.projectField()).Build(buildOp.Ctx, loaded.Instances)
	metrics.RecordPhase("build", buildOp.Timer.Duration())
	buildOp.End(nil)

	extractOp := telemetry.StartOperation(ctx, telemetry.SpanExtract,
		telemetry.AttrInstances.Int(len(builds)))
	res, err := e.extractAll(extractOp.Ctx, loaded.ModuleRoot, req.Options, builds, diags)
	metrics.RecordPhase("extract", extractOp.Timer.Duration())
	extractOp.End(err)
	if err != nil {
		return nil, err
	}

	extractOp.Logger.Debugf("Evaluated %d instances (%d projects, %d diagnostics)",
		len(res.Instances), len(res.Projects), len(res.Diagnostics))
	return res, nil
}

// extractAll fans builds out over a bounded pool. A submitter goroutine
// admits work and closes the results channel once every worker is done;
// the calling goroutine is the single consumer.
func (e *Engine) extractAll(ctx context.Context, moduleRoot string, opts Options, builds []*built, diags []Diagnostic) (*ModuleResult, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("extractor")
	metrics := telemetry.MetricsFromContext(ctx)
	pool := NewPool(opts.Workers, metrics)

	xopts := extract.Options{
		WithMeta:       opts.WithMeta,
		WithReferences: opts.WithReferences,
	}

	results := make(chan outcome)
	go func() {
		defer close(results)
		for _, b := range builds {
			err := pool.Go(ctx, "extract",
				func() { results <- e.extractOne(moduleRoot, b, xopts) },
				func(perr *EngineError) {
					logger.WithInstance(b.path).WithError(perr).Error("Recovered panic in extraction worker")
					results <- outcome{path: b.path, err: perr.WithInstance(b.path)}
				})
			if err != nil {
				results <- outcome{path: b.path, err: err}
			}
		}
		pool.Wait()
	}()

	agg := newAggregator(len(builds), diags, opts.WithMeta || opts.WithReferences)
	for o := range results {
		switch {
		case o.err != nil:
			metrics.RecordInstance("projection_failure")
		case o.project:
			metrics.RecordInstance("project")
		default:
			metrics.RecordInstance("instance")
		}
		agg.add(o, moduleRoot)
	}
	return agg.finish()
}

func (e *Engine) extractOne(moduleRoot string, b *built, opts extract.Options) outcome {
	res, err := e.extractor.Extract(extract.Unit{
		Path:       b.path,
		Value:      b.value,
		Files:      b.files,
		ModuleRoot: moduleRoot,
	}, opts)
	if err != nil {
		return outcome{path: b.path, err: NewError(CodeProjectionFailure, "projection failed", err)}
	}
	return outcome{
		path:    b.path,
		project: b.project,
		json:    res.JSON,
		meta:    metaEntries(b.path, res),
	}
}
