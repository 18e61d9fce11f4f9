package extract

import (
	"testing"

	"cuelang.org/go/cue/ast"
)

const refSrc = `package p

tasks: {
	build: {command: "go build"}
	test: {
		command: "go test"
		dependsOn: [build]
	}
}

alias: tasks.build.command
`

func TestReferences_EvaluatedWins(t *testing.T) {
	v := compile(t, refSrc)
	files := []*ast.File{parse(t, "/mod/p.cue", refSrc)}

	p, err := Project(v)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	fallback := syntaxReferences(files)
	if fallback["tasks.test.dependsOn[0]"] != "build" {
		t.Fatalf("fallback should see the bare identifier, got %q", fallback["tasks.test.dependsOn[0]"])
	}

	refs := References(p, files)
	if got := refs["tasks.test.dependsOn[0]"]; got != "tasks.build" {
		t.Errorf("dependsOn[0] = %q, want evaluated answer %q", got, "tasks.build")
	}
	if got := refs["alias"]; got != "tasks.build.command" {
		t.Errorf("alias = %q", got)
	}
	if _, ok := refs["tasks.build.command"]; ok {
		t.Error("literal values must not carry a reference")
	}
}

func TestReferences_FallbackFillsSilence(t *testing.T) {
	src := "src: \"v\"\nc: src\nc: string\n"
	v := compile(t, src)
	files := []*ast.File{parse(t, "/mod/p.cue", src)}

	p, err := Project(v)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	refs := References(p, files)
	if got := refs["c"]; got != "src" {
		t.Errorf("c = %q, want %q", got, "src")
	}
}

func TestSyntaxReferences_Shapes(t *testing.T) {
	src := `a: string
b: foo.bar.baz
c: [x, y.z, "lit", int]
d: {e: other}
f: "x" + y
`
	got := syntaxReferences([]*ast.File{parse(t, "s.cue", src)})

	want := map[FieldPath]string{
		"b":    "foo.bar.baz",
		"c[0]": "x",
		"c[1]": "y.z",
		"d.e":  "other",
	}
	if len(got) != len(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for path, target := range want {
		if got[path] != target {
			t.Errorf("%s = %q, want %q", path, got[path], target)
		}
	}
}

const letSrc = `package p

let L = tasks.build

tasks: build: command: "go build"

viaLet: L.command
deps: [L, tasks.build]
`

func TestReferences_LetBindings(t *testing.T) {
	v := compile(t, letSrc)
	files := []*ast.File{parse(t, "/mod/p.cue", letSrc)}

	p, err := Project(v)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	refs := References(p, files)

	want := map[FieldPath]string{
		"viaLet":  "tasks.build.command",
		"deps[0]": "tasks.build",
		"deps[1]": "tasks.build",
	}
	for path, target := range want {
		if got := refs[path]; got != target {
			t.Errorf("%s = %q, want %q", path, got, target)
		}
	}
}

func TestSyntaxReferences_SelfReferentialLet(t *testing.T) {
	src := "let A = B\nlet B = A.x\nc: A\n"
	got := syntaxReferences([]*ast.File{parse(t, "s.cue", src)})
	if got["c"] == "" {
		t.Error("c should still resolve to a name")
	}
}
