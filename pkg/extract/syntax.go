package extract

import (
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/token"
)

// Syntax walkers work on the parsed files of an instance rather than on the
// materialized value: after unification a value reports the position of
// whichever conjunct the evaluator picked, which is often the schema's
// declaration and not the instance's own.

// Position is a declaration site relative to the module root.
type Position struct {
	Directory string `json:"directory"`
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

// File returns the slash-separated path of the declaring file relative to
// the module root.
func (p Position) File() string {
	if p.Directory == "" || p.Directory == "." {
		return p.Filename
	}
	return p.Directory + "/" + p.Filename
}

// newPosition converts a token position in filename to a Position relative
// to moduleRoot. Files outside the module keep their absolute directory.
func newPosition(moduleRoot, filename string, pos token.Pos) Position {
	dir, base := filepath.Split(filename)
	dir = filepath.Clean(dir)
	if moduleRoot != "" {
		if rel, err := filepath.Rel(moduleRoot, dir); err == nil && !strings.HasPrefix(rel, "..") {
			dir = rel
		}
	}
	return Position{
		Directory: filepath.ToSlash(dir),
		Filename:  base,
		Line:      pos.Line(),
		Column:    pos.Column(),
	}
}

// visitFunc receives every syntactic value reachable at a field path.
// label is nil for list elements.
type visitFunc func(path FieldPath, label ast.Label, value ast.Expr)

// walkDecls visits the regular fields in decls. Fields coming from
// embeddings, conjunctions and comprehension bodies are attributed to the
// enclosing path.
func walkDecls(path FieldPath, decls []ast.Decl, visit visitFunc) {
	for _, decl := range decls {
		switch d := decl.(type) {
		case *ast.Field:
			name, ok := regularLabel(d)
			if !ok {
				continue
			}
			child := path.Field(name)
			visit(child, d.Label, d.Value)
			walkExpr(child, d.Value, visit)
		case *ast.EmbedDecl:
			walkExpr(path, d.Expr, visit)
		case *ast.Comprehension:
			walkExpr(path, d.Value, visit)
		}
	}
}

func walkExpr(path FieldPath, x ast.Expr, visit visitFunc) {
	switch e := x.(type) {
	case *ast.StructLit:
		walkDecls(path, e.Elts, visit)
	case *ast.ListLit:
		i := 0
		for _, elem := range e.Elts {
			if _, ok := elem.(*ast.Ellipsis); ok {
				break
			}
			child := path.Index(i)
			visit(child, nil, elem)
			walkExpr(child, elem, visit)
			i++
		}
	case *ast.BinaryExpr:
		if e.Op == token.AND || e.Op == token.OR {
			walkExpr(path, e.X, visit)
			walkExpr(path, e.Y, visit)
		}
	case *ast.UnaryExpr:
		if e.Op == token.MUL {
			walkExpr(path, e.X, visit)
		}
	case *ast.ParenExpr:
		walkExpr(path, e.X, visit)
	}
}

// regularLabel returns the name of a field that can appear in the JSON
// projection: no definitions, hidden fields, optional fields or dynamic
// labels.
func regularLabel(f *ast.Field) (string, bool) {
	if f.Constraint == token.OPTION {
		return "", false
	}
	name, isIdent, err := ast.LabelName(f.Label)
	if err != nil || name == "" {
		return "", false
	}
	if isIdent && (strings.HasPrefix(name, "#") || strings.HasPrefix(name, "_")) {
		return "", false
	}
	return name, true
}

// structsOf returns the struct literals that make up x, looking through
// conjunctions, parentheses and default markers.
func structsOf(x ast.Expr) []*ast.StructLit {
	switch e := x.(type) {
	case *ast.StructLit:
		return []*ast.StructLit{e}
	case *ast.BinaryExpr:
		if e.Op == token.AND {
			return append(structsOf(e.X), structsOf(e.Y)...)
		}
	case *ast.ParenExpr:
		return structsOf(e.X)
	case *ast.UnaryExpr:
		if e.Op == token.MUL {
			return structsOf(e.X)
		}
	}
	return nil
}

// hasOpaqueConjunct reports whether x unifies in something other than a
// struct literal, such as a reference to a schema definition.
func hasOpaqueConjunct(x ast.Expr) bool {
	switch e := x.(type) {
	case *ast.StructLit:
		return false
	case *ast.BinaryExpr:
		if e.Op == token.AND {
			return hasOpaqueConjunct(e.X) || hasOpaqueConjunct(e.Y)
		}
		return true
	case *ast.ParenExpr:
		return hasOpaqueConjunct(e.X)
	case *ast.Ident, *ast.SelectorExpr, *ast.CallExpr, *ast.IndexExpr:
		return true
	}
	return false
}

// fieldsNamed returns the values of every regular field called name
// declared directly in structs.
func fieldsNamed(structs []*ast.StructLit, name string) []*ast.Field {
	var out []*ast.Field
	for _, s := range structs {
		for _, decl := range s.Elts {
			switch d := decl.(type) {
			case *ast.Field:
				if n, ok := regularLabel(d); ok && n == name {
					out = append(out, d)
				}
			case *ast.EmbedDecl:
				out = append(out, fieldsNamed(structsOf(d.Expr), name)...)
			}
		}
	}
	return out
}
