package extract

import (
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/token"
)

// Provenance maps every emitted field path of p to a declaration site.
// The syntax of files answers first: files are walked in order and the
// first declaration of a path wins, so callers list the instance's own
// files before ancestor files. Paths no file declares, such as fields
// filled in by a schema default, fall back to the materialized value's
// position.
func Provenance(p *Projection, files []*ast.File, moduleRoot string) map[FieldPath]Position {
	out := syntaxProvenance(files, moduleRoot, p.Emitted)
	for _, path := range p.Paths() {
		if _, ok := out[path]; ok {
			continue
		}
		v, _ := p.ValueAt(path)
		if pos := v.Pos(); validPos(pos) {
			out[path] = newPosition(moduleRoot, pos.Filename(), pos)
		}
	}
	return out
}

// syntaxProvenance records the label position of each emitted field and the
// value position of each emitted list element.
func syntaxProvenance(files []*ast.File, moduleRoot string, emitted func(FieldPath) bool) map[FieldPath]Position {
	out := make(map[FieldPath]Position)
	for _, f := range files {
		if f == nil {
			continue
		}
		filename := f.Filename
		walkDecls(Root, f.Decls, func(path FieldPath, label ast.Label, value ast.Expr) {
			if !emitted(path) {
				return
			}
			if _, seen := out[path]; seen {
				return
			}
			pos := value.Pos()
			if label != nil {
				pos = label.Pos()
			}
			if validPos(pos) {
				out[path] = newPosition(moduleRoot, filename, pos)
			}
		})
	}
	return out
}

func validPos(pos token.Pos) bool {
	return pos.IsValid() && pos.Filename() != ""
}
