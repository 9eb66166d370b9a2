package schema

import (
	"sort"
	"strings"
)

const (
	// UIDAttribute addresses the UID field of any object class.
	UIDAttribute = "__UID__"
	// NameAttribute addresses the NAME field of any object class.
	NameAttribute = "__NAME__"
)

// Attribute is a named list of values in the generic object model.
// Incomplete marks an attribute whose values were not fetched.
type Attribute struct {
	Name       string `json:"name"`
	Values     []any  `json:"values,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

// NewAttribute builds an attribute from its values.
func NewAttribute(name string, values ...any) Attribute {
	return Attribute{Name: name, Values: values}
}

// AttributeDelta is a change to one attribute: either a full replacement or a
// set of values to add and remove.
type AttributeDelta struct {
	Name    string
	Replace []any
	Add     []any
	Remove  []any

	replace bool
}

// ReplaceDelta replaces the attribute's values. No values clears it.
func ReplaceDelta(name string, values ...any) AttributeDelta {
	if values == nil {
		values = []any{}
	}
	return AttributeDelta{Name: name, Replace: values, replace: true}
}

// AddRemoveDelta adds and removes values of a multi-valued attribute.
func AddRemoveDelta(name string, add, remove []any) AttributeDelta {
	return AttributeDelta{Name: name, Add: add, Remove: remove}
}

// IsReplace reports whether the delta replaces the attribute's values.
func (d AttributeDelta) IsReplace() bool { return d.replace }

// Object is a directory object in the generic model.
type Object struct {
	ObjectClass string      `json:"objectClass"`
	UID         string      `json:"uid"`
	Name        string      `json:"name"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the named attribute, if present.
func (o Object) Attribute(name string) (Attribute, bool) {
	for _, a := range o.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Set is a set of attribute or field names.
type Set map[string]struct{}

// NewSet returns a set holding names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name.
func (s Set) Add(name string) { s[name] = struct{}{} }

// String returns the sorted members joined by commas.
func (s Set) String() string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
