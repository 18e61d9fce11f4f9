package extract

import (
	"strconv"
)

// FieldPath addresses one emitted JSON location within an instance, using
// dotted struct segments and indexed list segments (e.g. "tasks.ci[0].command").
type FieldPath string

// Root is the path of the instance value itself.
const Root FieldPath = ""

// Field returns the path of the struct field name below p.
func (p FieldPath) Field(name string) FieldPath {
	if p == Root {
		return FieldPath(name)
	}
	return p + "." + FieldPath(name)
}

// Index returns the path of list element i below p.
func (p FieldPath) Index(i int) FieldPath {
	return p + "[" + FieldPath(strconv.Itoa(i)) + "]"
}

func (p FieldPath) String() string {
	return string(p)
}
