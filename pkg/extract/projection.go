package extract

import (
	"encoding/json"

	"cuelang.org/go/cue"
	"github.com/cockroachdb/errors"
)

// Projection is the clean JSON tree of one materialized instance together
// with the values behind every emitted field.
type Projection struct {
	// Value is the projected tree: *Object, []any, or a scalar.
	Value any

	paths   []FieldPath
	values  map[FieldPath]cue.Value
	objects map[FieldPath]*Object
}

// Project walks v and builds its clean JSON projection. Hidden fields,
// definitions and optional fields are left out, defaults are applied, and
// struct fields keep CUE's iteration order. Leaves that are not concrete
// are omitted from structs and rendered as null inside lists so that list
// indexes stay aligned with the source.
func Project(v cue.Value) (*Projection, error) {
	p := &Projection{
		values:  make(map[FieldPath]cue.Value),
		objects: make(map[FieldPath]*Object),
	}

	out, ok, err := p.walk(Root, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("instance value is not concrete")
	}
	p.Value = out
	return p, nil
}

// Paths returns every emitted field path in emission order.
func (p *Projection) Paths() []FieldPath {
	return p.paths
}

// Emitted reports whether path was emitted by the projection.
func (p *Projection) Emitted(path FieldPath) bool {
	_, ok := p.values[path]
	return ok
}

// ValueAt returns the materialized value emitted at path.
func (p *Projection) ValueAt(path FieldPath) (cue.Value, bool) {
	v, ok := p.values[path]
	return v, ok
}

// ObjectAt returns the projected object at path, if path emitted a struct.
func (p *Projection) ObjectAt(path FieldPath) (*Object, bool) {
	o, ok := p.objects[path]
	return o, ok
}

// MarshalJSON renders the projected tree.
func (p *Projection) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value)
}

func (p *Projection) walk(path FieldPath, v cue.Value) (any, bool, error) {
	// Real conflicts are rejected while building the instance; an error that
	// survives to this point marks an incomplete value.
	if v.Err() != nil {
		return nil, false, nil
	}

	d, _ := v.Default()
	switch d.Kind() {
	case cue.StructKind:
		iter, err := d.Fields(cue.Hidden(false), cue.Definitions(false), cue.Optional(false))
		if err != nil {
			return nil, false, errors.Wrapf(err, "iterate fields of %q", path)
		}
		obj := NewObject()
		p.record(path, v)
		p.objects[path] = obj
		for iter.Next() {
			name := selectorName(iter.Selector())
			child, ok, err := p.walk(path.Field(name), iter.Value())
			if err != nil {
				return nil, false, err
			}
			if ok {
				obj.Set(name, child)
			}
		}
		return obj, true, nil

	case cue.ListKind:
		iter, err := d.List()
		if err != nil {
			return nil, false, errors.Wrapf(err, "iterate list %q", path)
		}
		items := make([]any, 0)
		p.record(path, v)
		for i := 0; iter.Next(); i++ {
			child, ok, err := p.walk(path.Index(i), iter.Value())
			if err != nil {
				return nil, false, err
			}
			if !ok {
				child = nil
			}
			items = append(items, child)
		}
		return items, true, nil

	case cue.NullKind:
		p.record(path, v)
		return nil, true, nil

	case cue.BoolKind:
		b, err := d.Bool()
		if err != nil {
			return nil, false, errors.Wrapf(err, "decode bool %q", path)
		}
		p.record(path, v)
		return b, true, nil

	case cue.IntKind, cue.FloatKind:
		// Keep CUE's own number rendering so large integers and decimals
		// survive without a float64 round trip.
		raw, err := d.MarshalJSON()
		if err != nil {
			return nil, false, errors.Wrapf(err, "encode number %q", path)
		}
		p.record(path, v)
		return json.RawMessage(raw), true, nil

	case cue.StringKind:
		s, err := d.String()
		if err != nil {
			return nil, false, errors.Wrapf(err, "decode string %q", path)
		}
		p.record(path, v)
		return s, true, nil

	case cue.BytesKind:
		b, err := d.Bytes()
		if err != nil {
			return nil, false, errors.Wrapf(err, "decode bytes %q", path)
		}
		p.record(path, v)
		return b, true, nil

	default:
		return nil, false, nil
	}
}

func (p *Projection) record(path FieldPath, v cue.Value) {
	if path == Root {
		return
	}
	p.paths = append(p.paths, path)
	p.values[path] = v
}

// selectorName returns the JSON key for a struct selector.
func selectorName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}
