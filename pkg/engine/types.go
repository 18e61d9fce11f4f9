package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/taskcue/cuebridge/pkg/loader"
)

// DefaultProjectField is the field whose presence marks an instance as a
// Project.
const DefaultProjectField = "name"

// Options control one evaluation call.
type Options struct {
	// Recursive loads every instance below the load directory.
	Recursive bool `json:"recursive"`

	// WithMeta requests field provenance.
	WithMeta bool `json:"withMeta"`

	// WithReferences requests reference targets.
	WithReferences bool `json:"withReferences"`

	// PackageName keeps only instances of this package.
	PackageName string `json:"packageName,omitempty"`

	// TargetDir overrides the load directory.
	TargetDir string `json:"targetDir,omitempty"`

	// ProjectField overrides DefaultProjectField.
	ProjectField string `json:"projectField,omitempty"`

	// Workers bounds the extraction pool. Zero means one per CPU.
	Workers int `json:"workers,omitempty" validate:"gte=0"`
}

// Request is one evaluation call.
type Request struct {
	ModuleRoot string
	Options    Options
}

func (r Request) loaderRequest() loader.Request {
	return loader.Request{
		ModuleRoot:  r.ModuleRoot,
		PackageName: r.Options.PackageName,
		Recursive:   r.Options.Recursive,
		TargetDir:   r.Options.TargetDir,
	}
}

func (r Request) projectField() string {
	if r.Options.ProjectField != "" {
		return r.Options.ProjectField
	}
	return DefaultProjectField
}

// MetaEntry is the out-of-band metadata of one emitted field. It carries a
// declaration site, a reference target, or both.
type MetaEntry struct {
	Directory string `json:"directory,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Line      int    `json:"line,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// ModuleResult is the aggregate of one call.
type ModuleResult struct {
	// Instances maps instance path to its JSON projection.
	Instances map[string]json.RawMessage `json:"instances"`

	// Projects lists the instance paths classified as Project, sorted.
	// Never nil.
	Projects []string `json:"projects"`

	// Meta is keyed by "<instance-path>/<field-path>".
	Meta map[string]MetaEntry `json:"meta,omitempty"`

	// Diagnostics describe the instances missing from Instances.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Diagnostic explains why one instance was excluded.
type Diagnostic struct {
	Instance string            `json:"instance"`
	Code     ErrorCode         `json:"code"`
	Message  string            `json:"message"`
	Errors   []DiagnosticError `json:"errors,omitempty"`
}

// DiagnosticError is one positioned evaluator error.
type DiagnosticError struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// newDiagnostic flattens err into a diagnostic, keeping the evaluator's
// positions relative to moduleRoot.
func newDiagnostic(instance string, code ErrorCode, moduleRoot string, err error) Diagnostic {
	d := Diagnostic{
		Instance: instance,
		Code:     code,
		Message:  err.Error(),
	}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		de := DiagnosticError{Message: fmt.Sprintf(format, args...)}
		if pos := e.Position(); pos.IsValid() {
			de.File = relativeFile(moduleRoot, pos.Filename())
			de.Line = pos.Line()
			de.Column = pos.Column()
		}
		d.Errors = append(d.Errors, de)
	}
	return d
}

func relativeFile(moduleRoot, filename string) string {
	if moduleRoot == "" || !filepath.IsAbs(filename) {
		return filepath.ToSlash(filename)
	}
	if rel, err := filepath.Rel(moduleRoot, filename); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(filename)
}

// built is an instance that survived the sequential phase.
type built struct {
	path    string
	value   cue.Value
	files   []*ast.File
	project bool
}

// outcome is what an extraction worker reports for one instance.
type outcome struct {
	path    string
	project bool
	json    json.RawMessage
	meta    map[string]MetaEntry
	err     error
}
