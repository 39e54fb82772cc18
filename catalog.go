package kiss

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/GoCodeAlone/kiss/classfile"
)

// Built-in class names.
const (
	ExtensibleName    = "kiss.Extensible"
	SerializableName  = "kiss.Serializable"
	LifestyleName     = "kiss.Lifestyle"
	ClassListenerName = "kiss.ClassListener"
	InterceptorName   = "kiss.Interceptor"
	EnhancerName      = "kiss.Enhancer"
	ManageableName    = "kiss.Manageable"
	ContextName       = "kiss.Context"
	PrototypeName     = "kiss.Prototype"
	SingletonName     = "kiss.Singleton"
	ScopedName        = "kiss.Scoped"
	PreferenceName    = "kiss.Preference"
)

// Binding ties a class name to its Go implementation.
type Binding struct {
	Name  string
	Type  reflect.Type
	ctors []*constructor
}

type constructor struct {
	fn     reflect.Value
	typ    reflect.Type
	params []reflect.Type
}

func (k *constructor) call(args []reflect.Value) (reflect.Value, error) {
	if !k.fn.IsValid() {
		return reflect.New(k.typ), nil
	}
	out := k.fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

// minimal picks the constructor with the fewest parameters, earliest
// declared first. A struct without constructors is allocated zeroed.
func (b *Binding) minimal() (*constructor, error) {
	var best *constructor
	for _, k := range b.ctors {
		if best == nil || len(k.params) < len(best.params) {
			best = k
		}
	}
	if best != nil {
		return best, nil
	}
	if b.Type.Kind() == reflect.Struct {
		return &constructor{typ: b.Type}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoConstructor, b.Name)
}

// instanceType is the type of values produced for t: pointers for structs.
func instanceType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Struct {
		return reflect.PointerTo(t)
	}
	return t
}

var errorType = reflect.TypeFor[error]()

func newConstructor(t reflect.Type, fn any) (*constructor, error) {
	v := reflect.ValueOf(fn)
	ft := v.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() {
		return nil, fmt.Errorf("%w: constructor of %s must be a non-variadic func", ErrInvalidDeclaration, t)
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("%w: constructor of %s must return a value and optionally an error", ErrInvalidDeclaration, t)
	}
	if ft.Out(0) != instanceType(t) {
		return nil, fmt.Errorf("%w: constructor returns %s, want %s", ErrInvalidDeclaration, ft.Out(0), instanceType(t))
	}
	k := &constructor{fn: v, typ: t}
	for i := range ft.NumIn() {
		k.params = append(k.params, ft.In(i))
	}
	return k, nil
}

// Catalog holds Go bindings and the declarations of root classes.
type Catalog struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	byType   map[reflect.Type]string
	roots    []classfile.Decl
}

// DefaultCatalog backs containers created without WithCatalog.
var DefaultCatalog = NewCatalog()

// NewCatalog creates a catalog holding the built-in classes.
func NewCatalog() *Catalog {
	c := &Catalog{bindings: make(map[string]*Binding), byType: make(map[reflect.Type]string)}
	builtins := []error{
		DefineIn[Extensible](c, Named(ExtensibleName)),
		DefineIn[Serializable](c, Named(SerializableName)),
		DefineIn[Lifestyle](c, Named(LifestyleName), Implements(ExtensibleName)),
		DefineIn[ClassListener](c, Named(ClassListenerName), Implements(ExtensibleName)),
		DefineIn[Interceptor](c, Named(InterceptorName), Implements(ExtensibleName)),
		DefineIn[Enhancer](c, Named(EnhancerName), Implements(ExtensibleName)),
		c.Declare(classfile.Decl{Name: ManageableName, Flags: []string{"annotation"}}),
		DefineIn[Context](c, Named(ContextName), Final()),
		DefineIn[Prototype](c, Named(PrototypeName), Implements(LifestyleName), Constructor(NewPrototype)),
		DefineIn[Singleton](c, Named(SingletonName), Extends(PrototypeName), Constructor(newSingleton)),
		DefineIn[Scoped](c, Named(ScopedName), Extends(PrototypeName), Constructor(newScoped)),
		DefineIn[Preference](c, Named(PreferenceName), Extends(SingletonName), Constructor(newPreference)),
	}
	for _, err := range builtins {
		if err != nil {
			panic(err)
		}
	}
	return c
}

// Binding returns the binding registered for a class name, or nil.
func (c *Catalog) Binding(name string) *Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bindings[name]
}

// NameOf returns the class name bound to a Go type. Pointers to structs map
// to the struct's class.
func (c *Catalog) NameOf(t reflect.Type) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.byType[t]; ok {
		return name, true
	}
	if t.Kind() == reflect.Pointer {
		name, ok := c.byType[t.Elem()]
		return name, ok
	}
	return "", false
}

// Roots returns the root class declarations in declaration order.
func (c *Catalog) Roots() []classfile.Decl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]classfile.Decl, len(c.roots))
	copy(out, c.roots)
	return out
}

func (c *Catalog) root(name string) (classfile.Decl, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.roots {
		if d.Name == name {
			return d, true
		}
	}
	return classfile.Decl{}, false
}

// Declare adds a root class that has no Go implementation, such as an
// annotation.
func (c *Catalog) Declare(d classfile.Decl) error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDeclaration)
	}
	if _, err := d.Access(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeclaration, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.roots {
		if r.Name == d.Name {
			c.roots[i] = d
			return nil
		}
	}
	c.roots = append(c.roots, d)
	return nil
}

func (c *Catalog) bind(name string, t reflect.Type, ctors []any) error {
	b := &Binding{Name: name, Type: t}
	for _, fn := range ctors {
		k, err := newConstructor(t, fn)
		if err != nil {
			return err
		}
		b.ctors = append(b.ctors, k)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.bindings[name]; ok && prev.Type != t {
		return fmt.Errorf("%w: %s is bound to %s", ErrDuplicateBinding, name, prev.Type)
	}
	c.bindings[name] = b
	if _, ok := c.byType[t]; !ok {
		c.byType[t] = name
	}
	return nil
}

type declaration struct {
	decl  classfile.Decl
	ctors []any
}

// ClassOption customizes a class declaration.
type ClassOption func(*declaration) error

// Named sets the class name. The default is GoName of the type.
func Named(name string) ClassOption {
	return func(d *declaration) error {
		d.decl.Name = name
		return nil
	}
}

// Extends sets the superclass.
func Extends(name string) ClassOption {
	return func(d *declaration) error {
		d.decl.Super = name
		return nil
	}
}

// Implements adds interfaces.
func Implements(names ...string) ClassOption {
	return func(d *declaration) error {
		d.decl.Interfaces = append(d.decl.Interfaces, names...)
		return nil
	}
}

// Keyed binds the type parameter of the generic supertype owner to arg, as
// in Lifestyle<Person>.
func Keyed(owner, arg string) ClassOption {
	return func(d *declaration) error {
		d.decl.TypeArguments = append(d.decl.TypeArguments, classfile.TypeArgument{Owner: owner, Arg: arg})
		return nil
	}
}

// Annotated adds a visible annotation with name/value pairs.
func Annotated(annotation string, pairs ...string) ClassOption {
	return func(d *declaration) error {
		if len(pairs)%2 != 0 {
			return fmt.Errorf("%w: annotation %s has an odd number of values", ErrInvalidDeclaration, annotation)
		}
		a := classfile.Annotation{Type: annotation}
		for i := 0; i < len(pairs); i += 2 {
			a.Values = append(a.Values, classfile.Element{Name: pairs[i], Value: pairs[i+1]})
		}
		d.decl.Annotations = append(d.decl.Annotations, a)
		return nil
	}
}

// Managed selects the lifestyle class used for the declared class.
func Managed(lifestyle string) ClassOption {
	return Annotated(ManageableName, "lifestyle", lifestyle)
}

// WithFlags adds access flags by keyword ("abstract", "deprecated", ...).
func WithFlags(flags ...string) ClassOption {
	return func(d *declaration) error {
		d.decl.Flags = append(d.decl.Flags, flags...)
		return nil
	}
}

// Final forbids subclassing, and therefore enhancement.
func Final() ClassOption { return WithFlags("final") }

// Abstract marks a class that is never instantiated directly.
func Abstract() ClassOption { return WithFlags("abstract") }

// Constructor adds a constructor function. Its parameters are resolved by
// the container; it returns *T for struct types, optionally with an error.
func Constructor(fn any) ClassOption {
	return func(d *declaration) error {
		d.ctors = append(d.ctors, fn)
		return nil
	}
}

func declare(t reflect.Type, opts []ClassOption) (*declaration, error) {
	for t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		t = t.Elem()
	}
	d := &declaration{decl: classfile.Decl{Name: GoName(t)}}
	if t.Kind() == reflect.Interface {
		d.decl.Flags = append(d.decl.Flags, "interface")
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func normalize(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		return t.Elem()
	}
	return t
}

// DefineIn declares T as a root class of cat and binds it to T.
func DefineIn[T any](cat *Catalog, opts ...ClassOption) error {
	_, err := defineIn[T](cat, opts)
	return err
}

func defineIn[T any](cat *Catalog, opts []ClassOption) (classfile.Decl, error) {
	t := normalize(reflect.TypeFor[T]())
	d, err := declare(t, opts)
	if err != nil {
		return classfile.Decl{}, err
	}
	if err := cat.Declare(d.decl); err != nil {
		return classfile.Decl{}, err
	}
	return d.decl, cat.bind(d.decl.Name, t, d.ctors)
}

// Define declares T as a root class of DefaultCatalog.
func Define[T any](opts ...ClassOption) error {
	return DefineIn[T](DefaultCatalog, opts...)
}

// ProvideIn binds T as the implementation of a class that a module ships.
// Only Constructor options apply.
func ProvideIn[T any](cat *Catalog, name string, opts ...ClassOption) error {
	t := normalize(reflect.TypeFor[T]())
	d, err := declare(t, opts)
	if err != nil {
		return err
	}
	return cat.bind(name, t, d.ctors)
}

// Provide binds T in DefaultCatalog.
func Provide[T any](name string, opts ...ClassOption) error {
	return ProvideIn[T](DefaultCatalog, name, opts...)
}
