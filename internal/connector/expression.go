package connector

import (
	"fmt"

	"github.com/dhawalhost/scimbridge/internal/filter"
)

// Expression is the JSON form of a search expression:
//
//	{"op": "eq", "attribute": "__NAME__", "value": "admins"}
//	{"op": "containsAll", "attribute": "members.User.value", "values": ["u1"]}
//	{"op": "not", "filters": [...]}
//	{"op": "and", "filters": [...]}
//	{"op": "or", "filters": [...]}
type Expression struct {
	Op        string       `json:"op"`
	Attribute string       `json:"attribute,omitempty"`
	Value     any          `json:"value,omitempty"`
	Values    []any        `json:"values,omitempty"`
	Filters   []Expression `json:"filters,omitempty"`
}

// Expr converts e to a filter expression. A nil e yields a nil expression.
func (e *Expression) Expr() (filter.Expr, error) {
	if e == nil {
		return nil, nil
	}
	switch e.Op {
	case "eq":
		if e.Attribute == "" {
			return nil, fmt.Errorf("eq needs an attribute")
		}
		return filter.Equals{Attribute: e.Attribute, Value: e.Value}, nil
	case "containsAll":
		if e.Attribute == "" || len(e.Values) == 0 {
			return nil, fmt.Errorf("containsAll needs an attribute and values")
		}
		return filter.ContainsAllValues{Attribute: e.Attribute, Values: e.Values}, nil
	case "not":
		if len(e.Filters) != 1 {
			return nil, fmt.Errorf("not takes exactly one filter, got %d", len(e.Filters))
		}
		inner, err := e.Filters[0].Expr()
		if err != nil {
			return nil, err
		}
		return filter.Not{Expr: inner}, nil
	case "and", "or":
		if len(e.Filters) < 2 {
			return nil, fmt.Errorf("%s takes at least two filters, got %d", e.Op, len(e.Filters))
		}
		out, err := e.Filters[0].Expr()
		if err != nil {
			return nil, err
		}
		for i := range e.Filters[1:] {
			next, err := e.Filters[i+1].Expr()
			if err != nil {
				return nil, err
			}
			if e.Op == "and" {
				out = filter.And{Left: out, Right: next}
			} else {
				out = filter.Or{Left: out, Right: next}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown filter op %q", e.Op)
}
