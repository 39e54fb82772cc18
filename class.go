package kiss

import (
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/GoCodeAlone/kiss/classfile"
)

// Class is a runtime type descriptor decoded from a class file and owned by
// exactly one Loader. Two classes with the same name from different loaders
// are different classes.
type Class struct {
	name        string
	access      uint32
	super       *Class
	interfaces  []*Class
	annotations []classfile.Annotation
	typeArgs    []classfile.TypeArgument
	fields      []classfile.Field
	methods     []*classfile.Method
	loader      *Loader
	binding     *Binding
	mode        Mode

	typesOnce sync.Once
	types     []*Class

	ctorOnce sync.Once
	ctor     *constructor
	ctorErr  error
}

// Name returns the dotted class name.
func (c *Class) Name() string { return c.name }

func (c *Class) String() string { return c.name }

// Loader returns the loader that defined the class.
func (c *Class) Loader() *Loader { return c.loader }

// Super returns the superclass, or nil.
func (c *Class) Super() *Class { return c.super }

// Interfaces returns the directly implemented interfaces.
func (c *Class) Interfaces() []*Class { return c.interfaces }

// Annotations returns the class annotations in declaration order.
func (c *Class) Annotations() []classfile.Annotation { return c.annotations }

// Access returns the access flags.
func (c *Class) Access() uint32 { return c.access }

func (c *Class) is(flag uint32) bool { return c.access&flag != 0 }

func (c *Class) IsPublic() bool     { return c.is(classfile.AccPublic) }
func (c *Class) IsFinal() bool      { return c.is(classfile.AccFinal) }
func (c *Class) IsAbstract() bool   { return c.is(classfile.AccAbstract) }
func (c *Class) IsInterface() bool  { return c.is(classfile.AccInterface) }
func (c *Class) IsAnnotation() bool { return c.is(classfile.AccAnnotation) }
func (c *Class) IsEnum() bool       { return c.is(classfile.AccEnum) }
func (c *Class) IsDeprecated() bool { return c.is(classfile.AccDeprecated) }
func (c *Class) IsSynthetic() bool  { return c.is(classfile.AccSynthetic) }

// IsLocal reports local or anonymous classes, which the container refuses to
// manage.
func (c *Class) IsLocal() bool {
	if c.is(classfile.AccLocal) {
		return true
	}
	t := c.Type()
	return t != nil && t.Name() == ""
}

// Generated reports whether the class was produced by the enhancer.
func (c *Class) Generated() bool { return c.mode != modeNone }

// Model returns the class a generated class was derived from, or c itself.
func (c *Class) Model() *Class {
	if c.Generated() && c.super != nil {
		return c.super
	}
	return c
}

// Type returns the Go type bound to the class, or nil when the class has no
// Go implementation. Generated classes report their model's type.
func (c *Class) Type() reflect.Type {
	if c.Generated() {
		return c.Model().Type()
	}
	if c.binding == nil {
		return nil
	}
	return c.binding.Type
}

// Annotation returns the named annotation.
func (c *Class) Annotation(name string) (classfile.Annotation, bool) {
	for _, a := range c.annotations {
		if a.Type == name {
			return a, true
		}
	}
	return classfile.Annotation{}, false
}

// InheritedAnnotation looks for the annotation along the superclass chain.
func (c *Class) InheritedAnnotation(name string) (classfile.Annotation, bool) {
	for k := c; k != nil; k = k.super {
		if a, ok := k.Annotation(name); ok {
			return a, true
		}
	}
	return classfile.Annotation{}, false
}

// Method returns the named method declared in the class file, or nil.
func (c *Class) Method(name string) *classfile.Method {
	if c == nil {
		return nil
	}
	for _, m := range c.methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Methods returns the declared methods.
func (c *Class) Methods() []*classfile.Method { return c.methods }

// Fields returns the declared fields.
func (c *Class) Fields() []classfile.Field { return c.fields }

// Types returns the class and all of its supertypes, nearest first: the
// class, its superclass chain, then interfaces breadth first.
func (c *Class) Types() []*Class {
	c.typesOnce.Do(func() {
		var out []*Class
		for k := c; k != nil; k = k.super {
			out = append(out, k)
		}
		queue := slices.Clone(out)
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			for _, i := range k.interfaces {
				if !slices.Contains(out, i) {
					out = append(out, i)
					queue = append(queue, i)
				}
			}
		}
		c.types = out
	})
	return c.types
}

// Is reports whether the class or one of its supertypes has the given name.
func (c *Class) Is(name string) bool {
	for _, t := range c.Types() {
		if t.name == name {
			return true
		}
	}
	return false
}

// IsAssignableTo reports whether instances of c are instances of other.
func (c *Class) IsAssignableTo(other *Class) bool {
	return other != nil && slices.Contains(c.Types(), other)
}

// TypeArgument returns the class name bound to the type parameter of the
// named generic supertype, searching the class and its supertypes nearest
// first. It returns "" when unbound.
func (c *Class) TypeArgument(owner string) string {
	for _, t := range c.Types() {
		for _, a := range t.typeArgs {
			if a.Owner == owner {
				return a.Arg
			}
		}
	}
	return ""
}

// implementsDirectly reports whether name is among the class's own
// interfaces.
func (c *Class) implementsDirectly(name string) bool {
	for _, i := range c.interfaces {
		if i.name == name {
			return true
		}
	}
	return false
}

// signature hashes every supertype and visible annotation name, sorted for
// binary search.
func (c *Class) signature() []uint64 {
	var hashes []uint64
	for _, t := range c.Types() {
		hashes = append(hashes, hashName(t.name))
	}
	for _, a := range c.annotations {
		if !a.Invisible {
			hashes = append(hashes, hashName(a.Type))
		}
	}
	slices.Sort(hashes)
	return slices.Compact(hashes)
}

func hashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// isSystem reports names of the Go standard library namespace, which never
// make a class a provider candidate. GoName spells predeclared and standard
// library types under "go.". An empty name means no supertype.
func isSystem(name string) bool {
	return len(name) < 3 || (name[0] == 'g' && name[1] == 'o' && name[2] == '.')
}

// constructor returns the minimal constructor of the class.
func (c *Class) constructor() (*constructor, error) {
	c.ctorOnce.Do(func() {
		target := c.Model()
		if target.binding == nil || target.IsAbstract() {
			c.ctorErr = ErrNoConstructor
			return
		}
		c.ctor, c.ctorErr = target.binding.minimal()
	})
	return c.ctor, c.ctorErr
}

func (c *Class) hasConstructor() bool {
	_, err := c.constructor()
	return err == nil
}

// GoName is the default class name of a Go type: its import path with dots
// instead of slashes, followed by the type name. Predeclared and standard
// library types are prefixed with "go.".
func GoName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return "go." + t.String()
	}
	name := strings.ReplaceAll(t.PkgPath(), "/", ".") + "." + t.Name()
	if isStdlib(t.PkgPath()) {
		return "go." + name
	}
	return name
}

// isStdlib applies the go command's rule: standard library import paths have
// no dot in their first element.
func isStdlib(pkgPath string) bool {
	first, _, _ := strings.Cut(pkgPath, "/")
	return first != "main" && !strings.Contains(first, ".")
}
