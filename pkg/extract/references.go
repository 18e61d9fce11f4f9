package extract

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
)

// builtinTypes are identifiers that name CUE's predeclared types. A field
// whose value is one of these is a type constraint, not a reference.
var builtinTypes = map[string]bool{
	"_": true, "top": true, "null": true, "bool": true, "string": true,
	"bytes": true, "number": true, "int": true, "float": true, "rune": true,
	"uint": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"int128": true, "uint8": true, "uint16": true, "uint32": true,
	"uint64": true, "uint128": true, "float32": true, "float64": true,
}

// References resolves the reference target of every emitted path. The
// evaluated value is asked first because it resolves through intermediate
// bindings; a syntax scan of files fills in only the paths the evaluator
// could not classify. A fallback answer never replaces an evaluated one.
func References(p *Projection, files []*ast.File) map[FieldPath]string {
	out := make(map[FieldPath]string)
	for _, path := range p.Paths() {
		v, _ := p.ValueAt(path)
		if target := valueReference(v); target != "" {
			out[path] = target
		}
	}

	for path, target := range syntaxReferences(files) {
		if !p.Emitted(path) {
			continue
		}
		if _, ok := out[path]; ok {
			continue
		}
		out[path] = target
	}
	return out
}

func valueReference(v cue.Value) string {
	_, ref := v.ReferencePath()
	if len(ref.Selectors()) == 0 {
		return ""
	}
	return ref.String()
}

// syntaxReferences scans files for fields and list elements whose value is
// a bare identifier or selector chain. Identifiers bound by a let clause are
// replaced by the let expression. The recognised shapes follow how
// dependencies are written in practice and are not exhaustive.
func syntaxReferences(files []*ast.File) map[FieldPath]string {
	out := make(map[FieldPath]string)
	for _, f := range files {
		if f == nil {
			continue
		}
		r := refResolver{lets: letBindings(f)}
		walkDecls(Root, f.Decls, func(path FieldPath, _ ast.Label, value ast.Expr) {
			if _, seen := out[path]; seen {
				return
			}
			if target := r.expr(value); target != "" {
				out[path] = target
			}
		})
	}
	return out
}

// letBindings collects the let clauses of f by name. When a name is bound
// more than once in a file the first binding is used.
func letBindings(f *ast.File) map[string]ast.Expr {
	lets := make(map[string]ast.Expr)
	ast.Walk(f, func(n ast.Node) bool {
		if l, ok := n.(*ast.LetClause); ok && l.Ident != nil {
			if _, dup := lets[l.Ident.Name]; !dup {
				lets[l.Ident.Name] = l.Expr
			}
		}
		return true
	}, nil)
	return lets
}

type refResolver struct {
	lets   map[string]ast.Expr
	// active guards against let clauses that refer to themselves.
	active map[string]bool
}

func (r *refResolver) expr(x ast.Expr) string {
	switch e := x.(type) {
	case *ast.Ident:
		if builtinTypes[e.Name] {
			return ""
		}
		if bound, ok := r.lets[e.Name]; ok && !r.active[e.Name] {
			if r.active == nil {
				r.active = make(map[string]bool)
			}
			r.active[e.Name] = true
			defer delete(r.active, e.Name)
			return r.expr(bound)
		}
		return e.Name
	case *ast.SelectorExpr:
		base := r.expr(e.X)
		if base == "" {
			return ""
		}
		name, _, err := ast.LabelName(e.Sel)
		if err != nil || name == "" {
			return ""
		}
		return base + "." + name
	case *ast.ParenExpr:
		return r.expr(e.X)
	}
	return ""
}
