package schema

import "errors"

// ToModelFunc writes a single normalized value into the model. The value is
// never nil.
type ToModelFunc[M any] func(value any, dest *M) error

// ToModelMultiFunc writes all values of a multi-valued attribute into the model.
type ToModelMultiFunc[M any] func(values []any, dest *M) error

// ToDeltaFunc records a replace of a single-valued field. value is nil when the
// attribute is being cleared.
type ToDeltaFunc func(value any, ops *PatchOperations) error

// ToDeltaMultiFunc records an add or a remove of values on a multi-valued field.
type ToDeltaMultiFunc func(values []any, ops *PatchOperations) error

// FromModelFunc reads a single value from the model. nil means absent.
type FromModelFunc[M any] func(src *M) any

// FromModelMultiFunc reads all values from the model. An empty result means absent.
type FromModelMultiFunc[M any] func(src *M) []any

// Single holds the accessors of a single-valued field. Any of them may be nil.
type Single[M any] struct {
	ToModel   ToModelFunc[M]
	ToDelta   ToDeltaFunc
	FromModel FromModelFunc[M]
}

// Multi holds the accessors of a multi-valued field. Any of them may be nil.
type Multi[M any] struct {
	ToModel   ToModelMultiFunc[M]
	Add       ToDeltaMultiFunc
	Remove    ToDeltaMultiFunc
	FromModel FromModelMultiFunc[M]
}

// accessor is the per-field strategy the engine dispatches to.
type accessor[M any] interface {
	canModel() bool
	canDelta() bool
	canRead() bool
	apply(values []any, dest *M) error
	delta(d AttributeDelta, ops *PatchOperations) error
	read(src *M) []any
}

type singleValued[M any] struct{ Single[M] }

func (s singleValued[M]) canModel() bool { return s.ToModel != nil }
func (s singleValued[M]) canDelta() bool { return s.ToDelta != nil }
func (s singleValued[M]) canRead() bool  { return s.FromModel != nil }

func (s singleValued[M]) apply(values []any, dest *M) error {
	return s.ToModel(values[0], dest)
}

func (s singleValued[M]) delta(d AttributeDelta, ops *PatchOperations) error {
	var v any
	if len(d.Replace) > 0 {
		v = d.Replace[0]
	}
	return s.ToDelta(v, ops)
}

func (s singleValued[M]) read(src *M) []any {
	v := s.FromModel(src)
	if v == nil {
		return nil
	}
	return []any{v}
}

type multiValued[M any] struct{ Multi[M] }

func (m multiValued[M]) canModel() bool { return m.ToModel != nil }
func (m multiValued[M]) canDelta() bool { return m.Add != nil || m.Remove != nil }
func (m multiValued[M]) canRead() bool  { return m.FromModel != nil }

func (m multiValued[M]) apply(values []any, dest *M) error {
	return m.ToModel(values, dest)
}

func (m multiValued[M]) delta(d AttributeDelta, ops *PatchOperations) error {
	if len(d.Add) > 0 && m.Add == nil {
		return errors.New("values cannot be added")
	}
	if len(d.Remove) > 0 && m.Remove == nil {
		return errors.New("values cannot be removed")
	}
	if len(d.Add) > 0 {
		if err := m.Add(d.Add, ops); err != nil {
			return err
		}
	}
	if len(d.Remove) > 0 {
		if err := m.Remove(d.Remove, ops); err != nil {
			return err
		}
	}
	return nil
}

func (m multiValued[M]) read(src *M) []any {
	return m.FromModel(src)
}

// Field describes one attribute of an object class.
type Field[M any] struct {
	Name        string
	Type        Type
	BackendName string
	Flags       Flag

	acc accessor[M]
}

// Has reports whether flag is set.
func (f *Field[M]) Has(flag Flag) bool { return f.Flags&flag != 0 }

// MultiValued reports whether the field holds a list of values.
func (f *Field[M]) MultiValued() bool { return f.Has(MultiValued) }

// Creatable reports whether the field can be set on create.
func (f *Field[M]) Creatable() bool { return !f.Has(NotCreatable) && f.acc.canModel() }

// Updatable reports whether the field can be changed by a delta.
func (f *Field[M]) Updatable() bool { return !f.Has(NotUpdatable) && f.acc.canDelta() }

// Readable reports whether the field is reported on read.
func (f *Field[M]) Readable() bool { return f.acc.canRead() }

// ReturnedByDefault reports whether the field is read when no attributes are requested.
func (f *Field[M]) ReturnedByDefault() bool { return !f.Has(NotReturnedByDefault) }

// FetchField is the backend field that must be fetched to read this field.
func (f *Field[M]) FetchField() string {
	if f.BackendName != "" {
		return f.BackendName
	}
	return f.Name
}

// FieldInfo is the externally visible description of a field.
type FieldInfo struct {
	Name              string `json:"name"`
	Type              Type   `json:"type"`
	BackendName       string `json:"backendName,omitempty"`
	UID               bool   `json:"uid,omitempty"`
	NameAttribute     bool   `json:"nameAttribute,omitempty"`
	Required          bool   `json:"required"`
	MultiValued       bool   `json:"multiValued"`
	Creatable         bool   `json:"creatable"`
	Updatable         bool   `json:"updatable"`
	Readable          bool   `json:"readable"`
	ReturnedByDefault bool   `json:"returnedByDefault"`
}
