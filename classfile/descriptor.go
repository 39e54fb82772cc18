package classfile

import (
	"fmt"
	"reflect"
	"strings"
)

// Void is the return descriptor of methods without a result.
const Void = "V"

var basicDescriptors = map[reflect.Kind]string{
	reflect.Bool:    "Z",
	reflect.Int8:    "B",
	reflect.Int16:   "S",
	reflect.Int32:   "I",
	reflect.Int64:   "J",
	reflect.Int:     "N",
	reflect.Uint8:   "C",
	reflect.Uint16:  "H",
	reflect.Uint32:  "U",
	reflect.Uint64:  "K",
	reflect.Uint:    "W",
	reflect.Float32: "F",
	reflect.Float64: "D",
	reflect.String:  "T",
}

// Descriptor returns the type descriptor of a Go type. Predeclared basic types
// get a one letter code, slices are prefixed with '[' and everything else is
// spelled as L<type name>;.
func Descriptor(t reflect.Type) string {
	if t == nil {
		return ObjectDescriptor("any")
	}
	if t.PkgPath() == "" && t.Name() != "" {
		if d, ok := basicDescriptors[t.Kind()]; ok {
			return d
		}
	}
	if t.Kind() == reflect.Slice && t.Name() == "" {
		return "[" + Descriptor(t.Elem())
	}
	name := t.String()
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 && t.Name() == "" {
		name = "any"
	}
	return ObjectDescriptor(name)
}

// BasicType returns the predeclared Go type of a one letter descriptor.
func BasicType(desc string) (reflect.Type, bool) {
	for k, d := range basicDescriptors {
		if d == desc {
			return basicTypes[k], true
		}
	}
	return nil, false
}

var basicTypes = map[reflect.Kind]reflect.Type{
	reflect.Bool:    reflect.TypeFor[bool](),
	reflect.Int8:    reflect.TypeFor[int8](),
	reflect.Int16:   reflect.TypeFor[int16](),
	reflect.Int32:   reflect.TypeFor[int32](),
	reflect.Int64:   reflect.TypeFor[int64](),
	reflect.Int:     reflect.TypeFor[int](),
	reflect.Uint8:   reflect.TypeFor[uint8](),
	reflect.Uint16:  reflect.TypeFor[uint16](),
	reflect.Uint32:  reflect.TypeFor[uint32](),
	reflect.Uint64:  reflect.TypeFor[uint64](),
	reflect.Uint:    reflect.TypeFor[uint](),
	reflect.Float32: reflect.TypeFor[float32](),
	reflect.Float64: reflect.TypeFor[float64](),
	reflect.String:  reflect.TypeFor[string](),
}

// ObjectDescriptor returns L<name>;.
func ObjectDescriptor(name string) string {
	return "L" + strings.ReplaceAll(name, ";", ",") + ";"
}

// MethodDescriptor builds (params)ret from parameter descriptors.
func MethodDescriptor(ret string, params ...string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

// ParseMethodDescriptor splits a method descriptor into parameter
// descriptors and the return descriptor.
func ParseMethodDescriptor(desc string) ([]string, string, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var params []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := descriptorLength(desc[i:])
		if err != nil {
			return nil, "", fmt.Errorf("%w: %q", err, desc)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != Void {
		n, err := descriptorLength(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
	}
	return params, ret, nil
}

func descriptorLength(s string) (int, error) {
	if s == "" {
		return 0, ErrBadDescriptor
	}
	switch s[0] {
	case 'Z', 'B', 'S', 'I', 'J', 'N', 'C', 'H', 'U', 'K', 'W', 'F', 'D', 'T':
		return 1, nil
	case '[':
		n, err := descriptorLength(s[1:])
		return n + 1, err
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return 0, ErrBadDescriptor
		}
		return end + 1, nil
	}
	return 0, ErrBadDescriptor
}

// ClassName extracts the name from an L<name>; descriptor.
func ClassName(desc string) (string, bool) {
	if len(desc) > 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1], true
	}
	return "", false
}

// FileName maps a dotted class name to its path inside a module.
func FileName(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}

// NameOf maps a module path of a class file back to its dotted class name.
func NameOf(path string) string {
	return strings.ReplaceAll(strings.TrimSuffix(path, ".class"), "/", ".")
}
