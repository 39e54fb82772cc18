package kiss

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/GoCodeAlone/kiss/model"
)

type resolutionKey struct{}

// resolution is the stack of classes under construction in one call chain.
// It travels in the context and is never shared between unrelated calls.
type resolution struct {
	stack []*Class
}

func withResolution(ctx context.Context) (context.Context, *resolution) {
	if r, ok := ctx.Value(resolutionKey{}).(*resolution); ok {
		return ctx, r
	}
	r := &resolution{}
	return context.WithValue(ctx, resolutionKey{}, r), r
}

func (r *resolution) push(c *Class) { r.stack = append(r.stack, c) }

func (r *resolution) pop() { r.stack = r.stack[:len(r.stack)-1] }

// dependent returns the innermost class under construction, or nil.
func dependent(ctx context.Context) *Class {
	r, ok := ctx.Value(resolutionKey{}).(*resolution)
	if !ok || len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

// lifestyle finds or creates the lifestyle of class.
func (c *Container) lifestyle(ctx context.Context, class *Class) (Lifestyle, error) {
	if class.Generated() {
		class = class.Model()
	}
	if ls, ok := c.lifestyles.Load(class); ok {
		return ls, nil
	}
	if class.IsLocal() {
		return nil, fmt.Errorf("%w: %s is a local or anonymous type", ErrUnsupportedOperation, class)
	}

	actual := class
	if actual.IsAbstract() || actual.IsInterface() {
		p, err := c.modules.findProvider(actual)
		if err != nil {
			return nil, err
		}
		actual = p
	}
	if t := actual.Type(); t != nil && len(model.Of(t).Properties()) > 0 {
		if !actual.IsPublic() || actual.IsFinal() {
			return nil, fmt.Errorf("%w: %s has properties but is not public or is final", ErrIllegalArgument, actual)
		}
		generated, err := c.modules.define(actual, ModeBean)
		if err != nil {
			return nil, err
		}
		actual = generated
	}

	ctx, r := withResolution(ctx)
	r.push(actual)
	defer r.pop()
	if len(r.stack) > c.config.MaxDepth {
		return nil, newClassCircularityError(r.stack)
	}

	ls, source, err := c.lifestyleExtension(ctx, class)
	if err != nil {
		return nil, err
	}
	if ls == nil {
		name := PrototypeName
		if a, ok := actual.InheritedAnnotation(ManageableName); ok {
			if v, ok := a.Value("lifestyle"); ok && v != "" {
				name = v
			}
		}
		ls, source, err = c.makeLifestyle(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("lifestyle of %s: %w", actual, err)
		}
	}

	if p, ok := ls.(prototyped); ok {
		for _, t := range p.prototype().ctor.params {
			if isMeta(t) {
				continue
			}
			dep, err := c.ClassOf(t)
			if err != nil {
				return nil, fmt.Errorf("dependency %s of %s: %w", t, actual, err)
			}
			if _, err := c.lifestyle(ctx, dep); err != nil {
				return nil, err
			}
		}
	}

	actualLS, loaded := c.lifestyles.loadOrStoreFrom(class, ls, actual.Loader(), source)
	if !loaded {
		if p, ok := ls.(interface{ preference() *Preference }); ok {
			c.adoptPreference(p.preference())
		}
		c.logger.Debug("lifestyle created", "class", class.Name(), "lifestyle", fmt.Sprintf("%T", ls))
	}
	return actualLS, nil
}

// lifestyleExtension returns the Lifestyle extension keyed by class or its
// nearest keyed ancestor, with the loader that defined it.
func (c *Container) lifestyleExtension(ctx context.Context, class *Class) (Lifestyle, *Loader, error) {
	ext := c.extensions.keyed(LifestyleName, class)
	if ext == nil {
		return nil, nil, nil
	}
	v, err := c.make(ctx, ext)
	if err != nil {
		return nil, nil, err
	}
	ls, ok := v.(Lifestyle)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrNotLifestyle, v)
	}
	return ls, ext.Loader(), nil
}

// makeLifestyle instantiates the named lifestyle class through its own
// lifestyle.
func (c *Container) makeLifestyle(ctx context.Context, name string) (Lifestyle, *Loader, error) {
	class, err := c.ForName(name)
	if err != nil {
		return nil, nil, err
	}
	if !class.Is(LifestyleName) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotLifestyle, name)
	}
	v, err := c.make(ctx, class)
	if err != nil {
		return nil, nil, err
	}
	ls, ok := v.(Lifestyle)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrNotLifestyle, v)
	}
	return ls, class.Loader(), nil
}

// make resolves the lifestyle of class and returns one of its instances.
func (c *Container) make(ctx context.Context, class *Class) (any, error) {
	ls, err := c.lifestyle(ctx, class)
	if err != nil {
		return nil, err
	}
	return ls.Get(ctx)
}

var (
	stdContextType   = reflect.TypeFor[context.Context]()
	containerPtrType = reflect.TypeFor[*Container]()
	classPtrType     = reflect.TypeFor[*Class]()
)

// isMeta reports constructor parameters filled by the container itself
// rather than by resolving a class.
func isMeta(t reflect.Type) bool {
	return t == stdContextType || t == containerPtrType || t == classPtrType || t.Implements(supplierType)
}

// inject produces the value of one constructor parameter of owner.
func (c *Container) inject(ctx context.Context, owner *Class, t reflect.Type) (reflect.Value, error) {
	switch {
	case t == stdContextType:
		return reflect.ValueOf(&ctx).Elem(), nil
	case t == containerPtrType:
		return reflect.ValueOf(c), nil
	case t == classPtrType:
		class := dependent(ctx)
		if class == nil {
			class = owner
		}
		return reflect.ValueOf(class), nil
	case t.Implements(supplierType):
		s := reflect.Zero(t).Interface().(supplier)
		class, err := c.ClassOf(s.target())
		if err != nil {
			return reflect.Value{}, err
		}
		ls, err := c.lifestyle(ctx, class)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s.with(ls)), nil
	}
	class, err := c.ClassOf(t)
	if err != nil {
		return reflect.Value{}, err
	}
	v, err := c.make(ctx, class)
	if err != nil {
		return reflect.Value{}, err
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return reflect.Zero(t), nil
	}
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: %s produced %s, want %s", ErrIllegalArgument, class, rv.Type(), t)
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	return out, nil
}

// instantiate builds an instance of a generated class by running its
// constructor. A non-nil trace makes the object record property reads.
func (c *Container) instantiate(ctx context.Context, class *Class, args []reflect.Value, trace *tracer) (*Object, error) {
	init := class.Method(initName)
	if init == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConstructor, class)
	}
	o := &Object{class: class, container: c, trace: trace}
	locals := append([]reflect.Value{reflect.ValueOf(o)}, args...)
	if _, err := o.exec(ctx, init, locals...); err != nil {
		return nil, fmt.Errorf("constructing %s: %w", class, err)
	}
	return o, nil
}

// mock builds a trace object of class sharing trace.
func (c *Container) mock(ctx context.Context, class *Class, trace *tracer) (*Object, error) {
	generated, err := c.modules.define(class.Model(), ModeTrace)
	if err != nil {
		return nil, err
	}
	return c.instantiate(ctx, generated, nil, trace)
}

func (c *Container) preferencePath(class *Class) string {
	return filepath.Join(c.config.WorkingDir, "preferences", class.Name()+".yaml")
}

// ClassOf returns the class bound to a Go type. Pointers to structs map to
// the struct's class.
func (c *Container) ClassOf(t reflect.Type) (*Class, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrIllegalArgument)
	}
	name, ok := c.catalog.NameOf(t)
	if !ok {
		return nil, fmt.Errorf("%w: no class is bound to %s", ErrClassNotFound, t)
	}
	return c.ForName(name)
}

// ForName finds a class by name: the root classes first, then the module
// that owns the name, newest modules first for names no module owns yet.
func (c *Container) ForName(name string) (*Class, error) {
	class, err := c.root.LoadClass(name)
	if err == nil {
		return class, nil
	}
	if !errors.Is(err, ErrClassNotFound) {
		return nil, err
	}
	return c.modules.forName(name)
}
