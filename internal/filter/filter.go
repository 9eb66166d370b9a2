// Package filter translates generic search expressions into the few backend
// filter shapes the connector can serve.
package filter

import (
	"fmt"
	"strings"
)

// Expr is a generic search expression.
type Expr interface {
	expr()
}

// Equals matches objects whose attribute holds exactly Value.
type Equals struct {
	Attribute string
	Value     any
}

// ContainsAllValues matches objects whose multi-valued attribute holds every value.
type ContainsAllValues struct {
	Attribute string
	Values    []any
}

// Not negates an expression.
type Not struct{ Expr Expr }

// And is a conjunction.
type And struct{ Left, Right Expr }

// Or is a disjunction.
type Or struct{ Left, Right Expr }

func (Equals) expr()            {}
func (ContainsAllValues) expr() {}
func (Not) expr()               {}
func (And) expr()               {}
func (Or) expr()                {}

// Kind is the backend filter shape.
type Kind int

const (
	ExactMatchByUID Kind = iota + 1
	ExactMatchByName
	ContainsAll
)

func (k Kind) String() string {
	switch k {
	case ExactMatchByUID:
		return "uid"
	case ExactMatchByName:
		return "name"
	case ContainsAll:
		return "contains_all"
	}
	return "unknown"
}

// Filter is the translated form of an expression. A nil *Filter means the
// caller must enumerate every object.
type Filter struct {
	AttributeName string
	Kind          Kind
	Values        []string
}

// Value returns the single value of an exact-match filter.
func (f *Filter) Value() string {
	if f == nil || len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// MatchesAll reports whether have contains every value of the filter.
func (f *Filter) MatchesAll(have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, v := range f.Values {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func (f *Filter) String() string {
	if f == nil {
		return "<all>"
	}
	return fmt.Sprintf("%s %s %s", f.AttributeName, f.Kind, strings.Join(f.Values, ","))
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(x), true
	}
}
