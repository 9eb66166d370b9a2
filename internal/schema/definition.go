package schema

import (
	"errors"
	"fmt"
)

// Builder collects the fields of one object class. Registration errors are
// accumulated and reported by Build.
type Builder[M any] struct {
	objectClass string
	fields      []*Field[M]
	byName      map[string]*Field[M]
	uid         *Field[M]
	name        *Field[M]
	errs        []error
}

// NewBuilder starts a definition for objectClass.
func NewBuilder[M any](objectClass string) *Builder[M] {
	return &Builder[M]{
		objectClass: objectClass,
		byName:      make(map[string]*Field[M]),
	}
}

// AddUID registers the field that identifies an object.
func (b *Builder[M]) AddUID(name string, typ Type, backendName string, acc Single[M], flags ...Flag) *Builder[M] {
	f := b.add(name, typ, backendName, singleValued[M]{acc}, flags)
	if f == nil {
		return b
	}
	if b.uid != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: uid already registered as %q", b.objectClass, b.uid.Name))
		return b
	}
	b.uid = f
	return b
}

// AddName registers the field holding the object's human-readable name.
func (b *Builder[M]) AddName(name string, typ Type, backendName string, acc Single[M], flags ...Flag) *Builder[M] {
	f := b.add(name, typ, backendName, singleValued[M]{acc}, flags)
	if f == nil {
		return b
	}
	if b.name != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: name already registered as %q", b.objectClass, b.name.Name))
		return b
	}
	b.name = f
	return b
}

// Add registers a single-valued field.
func (b *Builder[M]) Add(name string, typ Type, backendName string, acc Single[M], flags ...Flag) *Builder[M] {
	b.add(name, typ, backendName, singleValued[M]{acc}, flags)
	return b
}

// AddMultiple registers a multi-valued field.
func (b *Builder[M]) AddMultiple(name string, typ Type, backendName string, acc Multi[M], flags ...Flag) *Builder[M] {
	b.add(name, typ, backendName, multiValued[M]{acc}, append(flags, MultiValued))
	return b
}

func (b *Builder[M]) add(name string, typ Type, backendName string, acc accessor[M], flags []Flag) *Field[M] {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("%s: field name is empty", b.objectClass))
		return nil
	}
	if name == UIDAttribute || name == NameAttribute {
		b.errs = append(b.errs, fmt.Errorf("%s: %q is reserved", b.objectClass, name))
		return nil
	}
	if _, dup := b.byName[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("%s: field %q registered twice", b.objectClass, name))
		return nil
	}
	if !acc.canModel() && !acc.canRead() {
		b.errs = append(b.errs, fmt.Errorf("%s: field %q has neither a model writer nor a reader", b.objectClass, name))
		return nil
	}
	f := &Field[M]{Name: name, Type: typ, BackendName: backendName, acc: acc}
	for _, fl := range flags {
		f.Flags |= fl
	}
	if f.MultiValued() {
		if _, ok := acc.(multiValued[M]); !ok {
			b.errs = append(b.errs, fmt.Errorf("%s: field %q flagged multi-valued without multi-valued accessors", b.objectClass, name))
			return nil
		}
	}
	b.fields = append(b.fields, f)
	b.byName[name] = f
	return f
}

// Build validates the collected fields and returns an immutable definition.
func (b *Builder[M]) Build() (*Definition[M], error) {
	errs := append([]error(nil), b.errs...)
	if b.uid == nil {
		errs = append(errs, fmt.Errorf("%s: no uid field", b.objectClass))
	}
	if b.name == nil {
		errs = append(errs, fmt.Errorf("%s: no name field", b.objectClass))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	fields := make([]*Field[M], len(b.fields))
	copy(fields, b.fields)
	byName := make(map[string]*Field[M], len(b.byName))
	for k, v := range b.byName {
		byName[k] = v
	}
	return &Definition[M]{
		objectClass: b.objectClass,
		fields:      fields,
		byName:      byName,
		uid:         b.uid,
		name:        b.name,
	}, nil
}

// MustBuild is Build for static tables; it panics on error.
func (b *Builder[M]) MustBuild() *Definition[M] {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// Definition is the immutable field table of one object class. It is safe for
// concurrent use.
type Definition[M any] struct {
	objectClass string
	fields      []*Field[M]
	byName      map[string]*Field[M]
	uid         *Field[M]
	name        *Field[M]
}

// ObjectClass returns the object class the definition describes.
func (d *Definition[M]) ObjectClass() string { return d.objectClass }

// UID returns the identifier field.
func (d *Definition[M]) UID() *Field[M] { return d.uid }

// Name returns the name field.
func (d *Definition[M]) Name() *Field[M] { return d.name }

// Field resolves an attribute name, including __UID__ and __NAME__.
func (d *Definition[M]) Field(name string) (*Field[M], bool) {
	switch name {
	case UIDAttribute:
		return d.uid, true
	case NameAttribute:
		return d.name, true
	}
	f, ok := d.byName[name]
	return f, ok
}

// Fields describes every field in registration order.
func (d *Definition[M]) Fields() []FieldInfo {
	out := make([]FieldInfo, 0, len(d.fields))
	for _, f := range d.fields {
		out = append(out, FieldInfo{
			Name:              f.Name,
			Type:              f.Type,
			BackendName:       f.BackendName,
			UID:               f == d.uid,
			NameAttribute:     f == d.name,
			Required:          f.Has(Required),
			MultiValued:       f.MultiValued(),
			Creatable:         f.Creatable(),
			Updatable:         f.Updatable(),
			Readable:          f.Readable(),
			ReturnedByDefault: f.ReturnedByDefault(),
		})
	}
	return out
}
