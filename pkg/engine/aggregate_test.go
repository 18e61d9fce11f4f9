package engine

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/taskcue/cuebridge/pkg/extract"
)

func sampleOutcomes() []outcome {
	return []outcome{
		{
			path:    "services/api",
			project: true,
			json:    json.RawMessage(`{"name":"api"}`),
			meta:    map[string]MetaEntry{"services/api/name": {Directory: "services/api", Filename: "api.cue", Line: 3}},
		},
		{
			path: ".",
			json: json.RawMessage(`{}`),
		},
		{
			path:    "services/web",
			project: true,
			json:    json.RawMessage(`{"name":"web"}`),
			meta:    map[string]MetaEntry{"services/web/name": {Directory: "services/web", Filename: "web.cue", Line: 3}},
		},
		{
			path: "services/broken",
			err:  NewError(CodeProjectionFailure, "projection failed", nil),
		},
	}
}

func TestAggregatorOrderIndependent(t *testing.T) {
	forward := sampleOutcomes()
	reverse := sampleOutcomes()
	for i, j := 0, len(reverse)-1; i < j; i, j = i+1, j-1 {
		reverse[i], reverse[j] = reverse[j], reverse[i]
	}

	run := func(outcomes []outcome) *ModuleResult {
		a := newAggregator(len(outcomes), nil, true)
		for _, o := range outcomes {
			a.add(o, "/mod")
		}
		res, err := a.finish()
		if err != nil {
			t.Fatalf("finish() error = %v", err)
		}
		return res
	}

	a, b := run(forward), run(reverse)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("aggregation depends on arrival order (-forward +reverse):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"services/api", "services/web"}, a.Projects); diff != "" {
		t.Errorf("projects mismatch (-want +got):\n%s", diff)
	}
	if len(a.Diagnostics) != 1 || a.Diagnostics[0].Instance != "services/broken" {
		t.Errorf("diagnostics = %+v", a.Diagnostics)
	}
}

func TestAggregatorEmptyProjectsIsArray(t *testing.T) {
	a := newAggregator(1, nil, false)
	a.add(outcome{path: ".", json: json.RawMessage(`{}`)}, "/mod")
	res, err := a.finish()
	if err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"projects":[]`) {
		t.Errorf("projects must encode as an empty array: %s", raw)
	}
	if strings.Contains(string(raw), `"meta"`) {
		t.Errorf("meta must be omitted when not requested: %s", raw)
	}
}

func TestAggregatorFailureCodes(t *testing.T) {
	buildDiag := Diagnostic{Instance: "a", Code: CodeBuildFailure, Message: "conflicting values"}
	loadDiag := Diagnostic{Instance: "b", Code: CodeLoadFailure, Message: "expected '}', found 'EOF'"}

	tests := []struct {
		name     string
		built    int
		diags    []Diagnostic
		outcomes []outcome
		want     ErrorCode
	}{
		{
			name:  "nothing built",
			built: 0,
			diags: []Diagnostic{buildDiag},
			want:  CodeBuildFailure,
		},
		{
			name:  "nothing loaded",
			built: 0,
			diags: []Diagnostic{loadDiag, {Instance: "c", Code: CodeLoadFailure, Message: "syntax"}},
			want:  CodeLoadFailure,
		},
		{
			name:  "load and build failures",
			built: 0,
			diags: []Diagnostic{buildDiag, loadDiag},
			want:  CodeBuildFailure,
		},
		{
			name:     "nothing projected",
			built:    1,
			outcomes: []outcome{{path: "b", err: NewError(CodeProjectionFailure, "projection failed", nil)}},
			want:     CodeProjectionFailure,
		},
		{
			name:  "panic wins over partial success",
			built: 2,
			outcomes: []outcome{
				{path: "a", json: json.RawMessage(`{}`)},
				{path: "b", err: PanicError("extract", "boom")},
			},
			want: CodePanicRecovered,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAggregator(tt.built, tt.diags, false)
			for _, o := range tt.outcomes {
				a.add(o, "/mod")
			}
			_, err := a.finish()
			if err == nil {
				t.Fatal("finish() should fail")
			}
			if got := CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestFailureSummaryListsEveryInstance(t *testing.T) {
	msg := failureSummary([]Diagnostic{
		{Instance: "a", Message: "first"},
		{Instance: "b", Message: "second"},
	})
	for _, want := range []string{"all 2 instances failed", "a: first", "b: second"} {
		if !strings.Contains(msg, want) {
			t.Errorf("summary %q missing %q", msg, want)
		}
	}
}

func TestMetaEntriesMergesReferences(t *testing.T) {
	res := &extract.Result{
		Positions: map[extract.FieldPath]extract.Position{
			"tasks.test.dependsOn": {Directory: "app", Filename: "env.cue", Line: 7, Column: 3},
		},
		References: map[extract.FieldPath]string{
			"tasks.test.dependsOn":    "tasks.build",
			"tasks.test.dependsOn[0]": "tasks.build",
		},
	}

	got := metaEntries(".", res)
	want := map[string]MetaEntry{
		"./tasks.test.dependsOn":    {Directory: "app", Filename: "env.cue", Line: 7, Reference: "tasks.build"},
		"./tasks.test.dependsOn[0]": {Reference: "tasks.build"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metaEntries mismatch (-want +got):\n%s", diff)
	}

	if metaEntries(".", &extract.Result{}) != nil {
		t.Errorf("no metadata should yield a nil map")
	}
}
