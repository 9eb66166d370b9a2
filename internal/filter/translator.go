package filter

import "github.com/dhawalhost/scimbridge/internal/schema"

// Translator converts expressions for one object class.
type Translator struct {
	ObjectClass string
	// MembershipAttributes lists the attributes that support ContainsAllValues.
	MembershipAttributes []string
}

// Translate returns the backend filter for expr, or nil when expr has a shape
// that cannot be pushed down. Unsupported shapes fail open: the caller
// enumerates everything and the host applies the full expression itself.
func (t Translator) Translate(expr Expr) *Filter {
	switch e := expr.(type) {
	case Equals:
		return t.equals(e)
	case *Equals:
		if e == nil {
			return nil
		}
		return t.equals(*e)
	case ContainsAllValues:
		return t.containsAll(e)
	case *ContainsAllValues:
		if e == nil {
			return nil
		}
		return t.containsAll(*e)
	}
	return nil
}

func (t Translator) equals(e Equals) *Filter {
	var kind Kind
	switch e.Attribute {
	case schema.UIDAttribute:
		kind = ExactMatchByUID
	case schema.NameAttribute:
		kind = ExactMatchByName
	default:
		return nil
	}
	v, ok := stringValue(e.Value)
	if !ok {
		return nil
	}
	return &Filter{AttributeName: e.Attribute, Kind: kind, Values: []string{v}}
}

func (t Translator) containsAll(e ContainsAllValues) *Filter {
	if !t.isMembership(e.Attribute) || len(e.Values) == 0 {
		return nil
	}
	values := make([]string, 0, len(e.Values))
	for _, v := range e.Values {
		s, ok := stringValue(v)
		if !ok {
			return nil
		}
		values = append(values, s)
	}
	return &Filter{AttributeName: e.Attribute, Kind: ContainsAll, Values: values}
}

func (t Translator) isMembership(attr string) bool {
	for _, m := range t.MembershipAttributes {
		if m == attr {
			return true
		}
	}
	return false
}
