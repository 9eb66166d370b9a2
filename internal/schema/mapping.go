package schema

import (
	"fmt"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

// Apply writes attrs into dest on the create path.
//
// Every attribute must name a creatable field. Single-valued fields accept at
// most one value and attributes without values are skipped. Values are
// normalized to the field type before the accessor sees them. Every REQUIRED
// field must be supplied with a value.
func (d *Definition[M]) Apply(attrs []Attribute, dest *M) error {
	supplied := make(map[*Field[M]]bool, len(attrs))
	for _, a := range attrs {
		f, ok := d.Field(a.Name)
		if !ok {
			return d.invalid("unknown attribute %q", a.Name)
		}
		if !f.Creatable() {
			return d.invalid("attribute %q cannot be set on create", a.Name)
		}
		if !f.MultiValued() && len(a.Values) > 1 {
			return d.invalid("attribute %q is single-valued but got %d values", a.Name, len(a.Values))
		}
		if len(a.Values) == 0 {
			continue
		}
		values, err := normalizeAll(f, a.Values)
		if err != nil {
			return d.invalid("attribute %q: %v", a.Name, err)
		}
		if err := f.acc.apply(values, dest); err != nil {
			return d.invalid("attribute %q: %v", a.Name, err)
		}
		supplied[f] = true
	}
	for _, f := range d.fields {
		if f.Has(Required) && !supplied[f] {
			return d.invalid("required attribute %q is missing", f.Name)
		}
	}
	return nil
}

// ApplyDelta compiles deltas into patch operations on the update path.
//
// A single-valued field becomes one replace; clearing it follows the empty value
// policy of ops. A multi-valued field becomes at most one add carrying every
// added value followed by at most one remove carrying every removed value.
func (d *Definition[M]) ApplyDelta(deltas []AttributeDelta, ops *PatchOperations) error {
	for _, delta := range deltas {
		f, ok := d.Field(delta.Name)
		if !ok {
			return d.invalid("unknown attribute %q", delta.Name)
		}
		if !f.Updatable() {
			return d.invalid("attribute %q cannot be updated", delta.Name)
		}
		if f.MultiValued() {
			if delta.IsReplace() {
				return d.invalid("attribute %q is multi-valued; use add/remove", delta.Name)
			}
			add, err := normalizeAll(f, delta.Add)
			if err != nil {
				return d.invalid("attribute %q: %v", delta.Name, err)
			}
			remove, err := normalizeAll(f, delta.Remove)
			if err != nil {
				return d.invalid("attribute %q: %v", delta.Name, err)
			}
			if err := f.acc.delta(AttributeDelta{Name: delta.Name, Add: add, Remove: remove}, ops); err != nil {
				return d.invalid("attribute %q: %v", delta.Name, err)
			}
			continue
		}
		if !delta.IsReplace() {
			return d.invalid("attribute %q is single-valued; use replace", delta.Name)
		}
		if len(delta.Replace) > 1 {
			return d.invalid("attribute %q is single-valued but got %d values", delta.Name, len(delta.Replace))
		}
		values, err := normalizeAll(f, delta.Replace)
		if err != nil {
			return d.invalid("attribute %q: %v", delta.Name, err)
		}
		if err := f.acc.delta(ReplaceDelta(delta.Name, values...), ops); err != nil {
			return d.invalid("attribute %q: %v", delta.Name, err)
		}
	}
	return nil
}

// ReadOptions selects what ToObject reports.
type ReadOptions struct {
	// Requested lists the attribute names to report. nil reports every field
	// returned by default.
	Requested Set
	// AllowPartial reports requested fields whose fetch field is not in Fetched
	// as incomplete instead of reading them.
	AllowPartial bool
	// Fetched lists the backend fields present in src.
	Fetched Set
}

// ToObject reads src into the generic object model on the read path. UID and
// NAME are always reported.
func (d *Definition[M]) ToObject(src *M, opts ReadOptions) Object {
	obj := Object{
		ObjectClass: d.objectClass,
		UID:         d.readString(d.uid, src),
		Name:        d.readString(d.name, src),
	}
	for _, f := range d.fields {
		if f == d.uid || f == d.name || !f.Readable() {
			continue
		}
		if opts.Requested == nil {
			if !f.ReturnedByDefault() {
				continue
			}
		} else if !opts.Requested.Has(f.Name) {
			continue
		}
		if opts.AllowPartial && opts.Fetched != nil && !opts.Fetched.Has(f.FetchField()) {
			obj.Attributes = append(obj.Attributes, Attribute{Name: f.Name, Incomplete: true})
			continue
		}
		values := f.acc.read(src)
		if len(values) == 0 {
			continue
		}
		obj.Attributes = append(obj.Attributes, Attribute{Name: f.Name, Values: values})
	}
	return obj
}

// AttributesToGet expands a caller's attribute list into the set of attribute
// names to report and the set of backend fields that must be fetched. When
// nothing is requested, or returnDefault is set, every field returned by
// default is included. Unknown names are dropped.
func (d *Definition[M]) AttributesToGet(requested []string, returnDefault bool) (Set, Set) {
	attrs := NewSet()
	fetch := NewSet()
	include := func(f *Field[M]) {
		attrs.Add(f.Name)
		fetch.Add(f.FetchField())
	}
	if len(requested) == 0 || returnDefault {
		for _, f := range d.fields {
			if f.ReturnedByDefault() {
				include(f)
			}
		}
	}
	for _, name := range requested {
		if f, ok := d.Field(name); ok {
			include(f)
		}
	}
	include(d.uid)
	include(d.name)
	return attrs, fetch
}

func (d *Definition[M]) readString(f *Field[M], src *M) string {
	if !f.Readable() {
		return ""
	}
	values := f.acc.read(src)
	if len(values) == 0 || values[0] == nil {
		return ""
	}
	if s, ok := values[0].(string); ok {
		return s
	}
	return fmt.Sprint(values[0])
}

func (d *Definition[M]) invalid(format string, args ...any) error {
	err := connerr.New(connerr.InvalidInput, format, args...)
	err.ObjectClass = d.objectClass
	return err
}

func normalizeAll[M any](f *Field[M], values []any) ([]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			return nil, fmt.Errorf("nil value")
		}
		n, err := normalize(f.Type, v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
