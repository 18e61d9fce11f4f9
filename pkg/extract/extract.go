package extract

import (
	"encoding/json"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"github.com/cockroachdb/errors"
)

// Unit is one materialized instance handed to an extraction worker. The
// worker owns it exclusively.
type Unit struct {
	// Path is the instance path relative to the module root.
	Path string
	// Value is the materialized instance value.
	Value cue.Value
	// Files are the instance's parsed files, own directory first.
	Files []*ast.File
	// ModuleRoot is the absolute module root used to relativize positions.
	ModuleRoot string
}

// Options selects the optional metadata passes.
type Options struct {
	WithMeta       bool
	WithReferences bool
}

// Result is everything extracted from one unit.
type Result struct {
	JSON       json.RawMessage
	Positions  map[FieldPath]Position
	References map[FieldPath]string
	Tasks      []TaskPosition
}

// Extract projects u to JSON, injects task sources, and runs the requested
// metadata passes.
func Extract(u Unit, opts Options) (*Result, error) {
	proj, err := Project(u.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "project instance %s", u.Path)
	}

	res := &Result{
		Tasks: TaskPositions(u.Files, u.ModuleRoot),
	}
	InjectTaskSources(proj, res.Tasks)

	if opts.WithMeta {
		res.Positions = Provenance(proj, u.Files, u.ModuleRoot)
	}
	if opts.WithReferences {
		res.References = References(proj, u.Files)
	}

	raw, err := json.Marshal(proj)
	if err != nil {
		return nil, errors.Wrapf(err, "encode instance %s", u.Path)
	}
	res.JSON = raw
	return res, nil
}
