// Package model describes Go struct types as ordered sets of properties.
//
// A property is an exported field. Embedded structs promote their exported
// fields; the `kiss` struct tag lists the annotation classes of a property
// or excludes it with "-".
package model

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// TagName is the struct tag holding property annotations.
const TagName = "kiss"

var ErrNotAddressable = errors.New("model: value is not an addressable struct")

var cache sync.Map // reflect.Type -> *Model

// Model is the property view of a type.
type Model struct {
	Type       reflect.Type
	Name       string
	properties []*Property
	index      map[string]*Property
}

// Property is one settable or readable member of a Model.
type Property struct {
	Name        string
	Type        reflect.Type
	Index       []int
	Annotations []string
	owner       reflect.Type
	setter      *reflect.Method
}

// Of returns the model of t. Pointer types describe their element.
func Of(t reflect.Type) *Model {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if m, ok := cache.Load(t); ok {
		return m.(*Model)
	}
	m, _ := cache.LoadOrStore(t, build(t))
	return m.(*Model)
}

// For returns the model of T.
func For[T any]() *Model {
	return Of(reflect.TypeFor[T]())
}

func build(t reflect.Type) *Model {
	m := &Model{Type: t, Name: t.String(), index: make(map[string]*Property)}
	if t.Kind() != reflect.Struct {
		return m
	}
	ptr := reflect.PointerTo(t)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() || !reachable(t, f.Index) {
			continue
		}
		tag := f.Tag.Get(TagName)
		if tag == "-" {
			continue
		}
		p := &Property{Name: f.Name, Type: f.Type, Index: f.Index, owner: t}
		for _, a := range strings.Split(tag, ",") {
			if a = strings.TrimSpace(a); a != "" {
				p.Annotations = append(p.Annotations, a)
			}
		}
		if s, ok := ptr.MethodByName("Set" + f.Name); ok && isSetter(s.Type, f.Type) {
			p.setter = &s
		}
		m.properties = append(m.properties, p)
		m.index[p.Name] = p
	}
	return m
}

// reachable rejects promoted fields that sit behind an embedded pointer or an
// unexported embedded struct.
func reachable(t reflect.Type, index []int) bool {
	for i := 1; i < len(index); i++ {
		f := t.FieldByIndex(index[:i])
		if f.Type.Kind() == reflect.Pointer || !f.IsExported() {
			return false
		}
	}
	return true
}

var errorType = reflect.TypeFor[error]()

func isSetter(mt, value reflect.Type) bool {
	if mt.NumIn() != 2 || mt.In(1) != value {
		return false
	}
	switch mt.NumOut() {
	case 0:
		return true
	case 1:
		return mt.Out(0) == errorType
	}
	return false
}

// Properties lists the properties in declaration order.
func (m *Model) Properties() []*Property {
	return m.properties
}

// Property returns the named property, or nil.
func (m *Model) Property(name string) *Property {
	return m.index[name]
}

// IsAttribute reports whether values of the model have a string form.
func (m *Model) IsAttribute() bool {
	return IsAttribute(m.Type)
}

// IsCollection reports whether the model is a slice, array or map.
func (m *Model) IsCollection() bool {
	switch m.Type.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// Model returns the model of the property's type.
func (p *Property) Model() *Model {
	return Of(p.Type)
}

// HasSetter reports whether the owning type declares a SetX method.
func (p *Property) HasSetter() bool {
	return p.setter != nil
}

// Get reads the property from a pointer to the owning struct.
func (p *Property) Get(obj reflect.Value) (reflect.Value, error) {
	s, err := p.target(obj)
	if err != nil {
		return reflect.Value{}, err
	}
	return s.FieldByIndex(p.Index), nil
}

// Set writes the property through its setter method, or assigns the field
// when there is none. The value must be assignable to the property type.
func (p *Property) Set(obj, value reflect.Value) error {
	s, err := p.target(obj)
	if err != nil {
		return err
	}
	if !value.IsValid() {
		value = reflect.Zero(p.Type)
	}
	if !value.Type().AssignableTo(p.Type) {
		return fmt.Errorf("model: property %s.%s wants %s, got %s", p.owner, p.Name, p.Type, value.Type())
	}
	if value.Type() != p.Type {
		v := reflect.New(p.Type).Elem()
		v.Set(value)
		value = v
	}
	if p.setter != nil {
		out := p.setter.Func.Call([]reflect.Value{s.Addr(), value})
		if len(out) == 1 && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
	s.FieldByIndex(p.Index).Set(value)
	return nil
}

func (p *Property) target(obj reflect.Value) (reflect.Value, error) {
	if obj.Kind() == reflect.Pointer && !obj.IsNil() {
		obj = obj.Elem()
	}
	if obj.Kind() != reflect.Struct || !obj.CanAddr() || obj.Type() != p.owner {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrNotAddressable, obj.Type())
	}
	return obj, nil
}

var (
	timeType          = reflect.TypeFor[time.Time]()
	durationType      = reflect.TypeFor[time.Duration]()
	textMarshaler     = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerPt = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// IsAttribute reports whether t has a string codec.
func IsAttribute(t reflect.Type) bool {
	if t == timeType || t == durationType {
		return true
	}
	if t.Implements(textMarshaler) && reflect.PointerTo(t).Implements(textUnmarshalerPt) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
