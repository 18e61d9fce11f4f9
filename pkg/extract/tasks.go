package extract

import (
	"strconv"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/token"
)

const (
	tasksField = "tasks"
	groupType  = "group"
	// SourceField is the key under which a leaf task's declaration site is
	// injected into the projection.
	SourceField = "_source"
)

// execFields mark a task as a leaf: something that runs.
var execFields = []string{"command", "script", "task"}

// TaskPosition is the local declaration site of one leaf task.
type TaskPosition struct {
	// Name is the dotted task name, e.g. "ci.lint" or "deploy[1]".
	Name string
	// Path is the task's location in the instance projection.
	Path FieldPath
	Position
}

// Source is the value injected under SourceField.
type Source struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// TaskPositions finds every leaf task declared under the top-level "tasks"
// field of files. Groups, detected by a nested "tasks" field or by
// `type: "group"`, are descended into but not recorded. The first
// declaration of a task name wins.
func TaskPositions(files []*ast.File, moduleRoot string) []TaskPosition {
	c := &taskCollector{moduleRoot: moduleRoot, seen: make(map[string]bool)}
	for _, f := range files {
		if f == nil {
			continue
		}
		c.filename = f.Filename
		for _, field := range fieldsNamed([]*ast.StructLit{{Elts: f.Decls}}, tasksField) {
			for _, s := range structsOf(field.Value) {
				c.group(s, "", FieldPath(tasksField))
			}
		}
	}
	return c.out
}

type taskCollector struct {
	moduleRoot string
	filename   string
	seen       map[string]bool
	out        []TaskPosition
}

func (c *taskCollector) group(s *ast.StructLit, prefix string, base FieldPath) {
	for _, decl := range s.Elts {
		switch d := decl.(type) {
		case *ast.Field:
			name, ok := regularLabel(d)
			if !ok {
				continue
			}
			full := name
			if prefix != "" {
				full = prefix + "." + name
			}
			c.task(d.Value, full, base.Field(name), d.Label.Pos())
		case *ast.EmbedDecl:
			for _, inner := range structsOf(d.Expr) {
				c.group(inner, prefix, base)
			}
		}
	}
}

func (c *taskCollector) task(value ast.Expr, name string, path FieldPath, pos token.Pos) {
	if list, ok := value.(*ast.ListLit); ok {
		for i, elem := range list.Elts {
			if len(structsOf(elem)) == 0 && !hasOpaqueConjunct(elem) {
				continue
			}
			idx := "[" + strconv.Itoa(i) + "]"
			c.task(elem, name+idx, path.Index(i), elem.Pos())
		}
		return
	}

	structs := structsOf(value)
	for _, field := range execFields {
		if len(fieldsNamed(structs, field)) > 0 {
			c.record(name, path, pos)
			return
		}
	}

	if nested := fieldsNamed(structs, tasksField); len(nested) > 0 {
		for _, f := range nested {
			for _, s := range structsOf(f.Value) {
				c.group(s, name, path.Field(tasksField))
			}
		}
		return
	}

	if isGroupType(structs) {
		for _, s := range structs {
			c.group(s, name, path)
		}
		return
	}

	// A task built from a schema reference carries its command in the
	// referenced definition.
	if hasOpaqueConjunct(value) {
		c.record(name, path, pos)
	}
}

func (c *taskCollector) record(name string, path FieldPath, pos token.Pos) {
	if c.seen[name] {
		return
	}
	c.seen[name] = true
	c.out = append(c.out, TaskPosition{
		Name:     name,
		Path:     path,
		Position: newPosition(c.moduleRoot, c.filename, pos),
	})
}

func isGroupType(structs []*ast.StructLit) bool {
	for _, f := range fieldsNamed(structs, "type") {
		lit, ok := f.Value.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			continue
		}
		if s, err := strconv.Unquote(lit.Value); err == nil && s == groupType {
			return true
		}
	}
	return false
}

// InjectTaskSources sets SourceField on the projected object of every task
// in positions. Tasks that were not emitted are skipped.
func InjectTaskSources(p *Projection, positions []TaskPosition) int {
	n := 0
	for _, tp := range positions {
		obj, ok := p.ObjectAt(tp.Path)
		if !ok {
			continue
		}
		obj.Set(SourceField, Source{File: tp.File(), Line: tp.Line, Column: tp.Column})
		n++
	}
	return n
}
