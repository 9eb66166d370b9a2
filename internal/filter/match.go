package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dhawalhost/scimbridge/internal/schema"
)

// TypeOf reports the semantic type of an attribute, including the UID and
// NAME pseudo attributes.
type TypeOf func(attr string) schema.Type

// TypesOf builds a TypeOf from a field table. Attributes the table does not
// list are plain strings.
func TypesOf(fields []schema.FieldInfo) TypeOf {
	types := make(map[string]schema.Type, len(fields)+2)
	for _, f := range fields {
		types[f.Name] = f.Type
		if f.UID {
			types[schema.UIDAttribute] = f.Type
		}
		if f.NameAttribute {
			types[schema.NameAttribute] = f.Type
		}
	}
	return func(attr string) schema.Type {
		return types[attr]
	}
}

// Match evaluates expr against obj. It is used to re-apply an expression on
// the host side after the backend was asked for more than expr selects.
// Values of StringCaseIgnore attributes compare without case; everything
// else compares exactly. A nil typeOf treats every attribute as a plain
// string. A nil expr matches everything.
func Match(expr Expr, obj schema.Object, typeOf TypeOf) bool {
	m := matcher{obj: obj, typeOf: typeOf}
	return m.match(expr)
}

type matcher struct {
	obj    schema.Object
	typeOf TypeOf
}

func (m matcher) match(expr Expr) bool {
	switch e := expr.(type) {
	case nil:
		return true
	case Equals:
		return m.equals(e)
	case *Equals:
		return e == nil || m.equals(*e)
	case ContainsAllValues:
		return m.containsAll(e)
	case *ContainsAllValues:
		return e == nil || m.containsAll(*e)
	case Not:
		return !m.match(e.Expr)
	case *Not:
		return e == nil || !m.match(e.Expr)
	case And:
		return m.match(e.Left) && m.match(e.Right)
	case *And:
		return e == nil || (m.match(e.Left) && m.match(e.Right))
	case Or:
		return m.match(e.Left) || m.match(e.Right)
	case *Or:
		return e == nil || m.match(e.Left) || m.match(e.Right)
	}
	return false
}

// key is the comparable form of v as a value of attr.
func (m matcher) key(attr string, v any) string {
	k := canonical(v)
	if m.typeOf != nil && m.typeOf(attr) == schema.StringCaseIgnore {
		return strings.ToLower(k)
	}
	return k
}

func (m matcher) equals(e Equals) bool {
	want := m.key(e.Attribute, e.Value)
	for _, have := range values(m.obj, e.Attribute) {
		if m.key(e.Attribute, have) == want {
			return true
		}
	}
	return false
}

func (m matcher) containsAll(e ContainsAllValues) bool {
	have := make(map[string]struct{})
	for _, v := range values(m.obj, e.Attribute) {
		have[m.key(e.Attribute, v)] = struct{}{}
	}
	for _, v := range e.Values {
		if _, ok := have[m.key(e.Attribute, v)]; !ok {
			return false
		}
	}
	return true
}

func values(obj schema.Object, attr string) []any {
	switch attr {
	case schema.UIDAttribute:
		return []any{obj.UID}
	case schema.NameAttribute:
		return []any{obj.Name}
	}
	a, ok := obj.Attribute(attr)
	if !ok {
		return nil
	}
	return a.Values
}

func canonical(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// Attributes returns the attributes expr reads, other than UID and NAME, in
// first-seen order.
func Attributes(expr Expr) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	var walk func(Expr)
	add := func(name string) {
		if name == schema.UIDAttribute || name == schema.NameAttribute || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	walk = func(expr Expr) {
		switch e := expr.(type) {
		case Equals:
			add(e.Attribute)
		case *Equals:
			if e != nil {
				add(e.Attribute)
			}
		case ContainsAllValues:
			add(e.Attribute)
		case *ContainsAllValues:
			if e != nil {
				add(e.Attribute)
			}
		case Not:
			walk(e.Expr)
		case *Not:
			if e != nil {
				walk(e.Expr)
			}
		case And:
			walk(e.Left)
			walk(e.Right)
		case *And:
			if e != nil {
				walk(e.Left)
				walk(e.Right)
			}
		case Or:
			walk(e.Left)
			walk(e.Right)
		case *Or:
			if e != nil {
				walk(e.Left)
				walk(e.Right)
			}
		}
	}
	walk(expr)
	return out
}
