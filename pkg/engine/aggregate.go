package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/taskcue/cuebridge/pkg/extract"
)

// aggregator is the single consumer of worker outcomes. Merging is
// commutative: the result does not depend on the order outcomes arrive in.
type aggregator struct {
	built    int
	result   *ModuleResult
	diags    []Diagnostic
	panicked *EngineError
}

func newAggregator(built int, diags []Diagnostic, withMeta bool) *aggregator {
	a := &aggregator{
		built: built,
		result: &ModuleResult{
			Instances: make(map[string]json.RawMessage),
			Projects:  []string{},
		},
		diags: append([]Diagnostic(nil), diags...),
	}
	if withMeta {
		a.result.Meta = make(map[string]MetaEntry)
	}
	return a
}

func (a *aggregator) add(o outcome, moduleRoot string) {
	if o.err != nil {
		ee := Classify(o.err).WithInstance(o.path)
		if ee.Code == CodePanicRecovered && a.panicked == nil {
			a.panicked = ee
		}
		a.diags = append(a.diags, newDiagnostic(o.path, ee.Code, moduleRoot, o.err))
		return
	}

	a.result.Instances[o.path] = o.json
	if o.project {
		a.result.Projects = append(a.result.Projects, o.path)
	}
	for k, v := range o.meta {
		a.result.Meta[k] = v
	}
}

// finish returns the merged result. It fails when a worker panicked or when
// no instance made it through both phases.
func (a *aggregator) finish() (*ModuleResult, error) {
	sort.Strings(a.result.Projects)
	sort.SliceStable(a.diags, func(i, j int) bool {
		return a.diags[i].Instance < a.diags[j].Instance
	})

	if a.panicked != nil {
		return nil, a.panicked.WithDetail("diagnostics", a.diags)
	}

	if len(a.result.Instances) == 0 {
		return nil, NewError(a.failureCode(), failureSummary(a.diags), nil).
			WithDetail("diagnostics", a.diags)
	}

	if len(a.diags) > 0 {
		a.result.Diagnostics = a.diags
	}
	return a.result, nil
}

// failureCode picks the code of a call in which every instance failed:
// LOAD_FAILURE when none loaded, BUILD_FAILURE when none built, and
// PROJECTION_FAILURE otherwise.
func (a *aggregator) failureCode() ErrorCode {
	if a.built > 0 {
		return CodeProjectionFailure
	}
	if len(a.diags) == 0 {
		return CodeBuildFailure
	}
	for _, d := range a.diags {
		if d.Code != CodeLoadFailure {
			return CodeBuildFailure
		}
	}
	return CodeLoadFailure
}

// failureSummary lists every per-instance failure in one message.
func failureSummary(diags []Diagnostic) string {
	if len(diags) == 0 {
		return "no instances evaluated"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "all %d instances failed", len(diags))
	for _, d := range diags {
		fmt.Fprintf(&b, "; %s: %s", d.Instance, d.Message)
	}
	return b.String()
}

// metaEntries converts the metadata of one instance to entries keyed by
// "<instance>/<field-path>". References land on the same entries as
// positions.
func metaEntries(instance string, res *extract.Result) map[string]MetaEntry {
	if len(res.Positions) == 0 && len(res.References) == 0 {
		return nil
	}
	out := make(map[string]MetaEntry, len(res.Positions))
	key := func(p extract.FieldPath) string {
		return instance + "/" + p.String()
	}
	for p, pos := range res.Positions {
		out[key(p)] = MetaEntry{
			Directory: pos.Directory,
			Filename:  pos.Filename,
			Line:      pos.Line,
		}
	}
	for p, ref := range res.References {
		k := key(p)
		e := out[k]
		e.Reference = ref
		out[k] = e
	}
	return out
}
