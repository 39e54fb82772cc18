package classfile

import "strconv"

// Header is the leading part of a class file.
type Header struct {
	Minor      uint16
	Major      uint16
	Access     uint32
	Name       string
	Super      string
	Interfaces []string
}

// Element is one name/value pair of an annotation.
type Element struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Annotation marks a class or method with an annotation class name and its
// values. Invisible annotations are kept in the file but ignored when scanning
// for providers.
type Annotation struct {
	Type      string    `yaml:"type"`
	Values    []Element `yaml:"values,omitempty"`
	Invisible bool      `yaml:"invisible,omitempty"`
}

// Value returns the value of the named element.
func (a Annotation) Value(name string) (string, bool) {
	for _, e := range a.Values {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// TypeArgument binds the type parameter of a generic supertype, such as the
// key class of an extension point.
type TypeArgument struct {
	Owner string `yaml:"owner"`
	Arg   string `yaml:"arg"`
}

// Attribute is an opaque named blob.
type Attribute struct {
	Name string
	Data []byte
}

// Field declares a field.
type Field struct {
	Access uint32 `yaml:"-"`
	Name   string `yaml:"name"`
	Desc   string `yaml:"desc"`
}

// Instruction is a decoded instruction. Operands are resolved against the
// constant pool.
type Instruction struct {
	Op    Opcode
	Var   int
	Const string
	Owner string
	Name  string
	Desc  string
}

func (i Instruction) String() string {
	switch kind, _ := i.Op.operand(); kind {
	case operandVar:
		return i.Op.String() + " " + strconv.Itoa(i.Var)
	case operandConst:
		return i.Op.String() + " " + strconv.Quote(i.Const)
	case operandType:
		return i.Op.String() + " " + i.Desc
	case operandMember:
		return i.Op.String() + " " + i.Owner + "." + i.Name + " " + i.Desc
	}
	return i.Op.String()
}

// Method declares a method and carries its body.
type Method struct {
	Access       uint32
	Name         string
	Desc         string
	Annotations  []Annotation
	MaxStack     int
	MaxLocals    int
	Code         []byte
	Instructions []Instruction
	Attributes   []Attribute
}

// ClassFile is a fully decoded class file.
type ClassFile struct {
	Header
	Annotations   []Annotation
	TypeArguments []TypeArgument
	Attributes    []Attribute
	Fields        []Field
	Methods       []*Method
}

// Method returns the named method, or nil.
func (c *ClassFile) Method(name string) *Method {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Is reports whether all the given access flags are set.
func (h Header) Is(flags uint32) bool {
	return h.Access&flags == flags
}
