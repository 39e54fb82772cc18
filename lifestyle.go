package kiss

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"
)

// Lifestyle produces the instances of one class. It is an extension point:
// a Lifestyle class keyed by a class K manages every resolution of K and of
// K's subtypes that have no nearer key.
type Lifestyle interface {
	Get(ctx context.Context) (any, error)
}

// Prototype builds a new instance on every Get, injecting constructor
// parameters.
type Prototype struct {
	container *Container
	class     *Class
	ctor      *constructor
}

// NewPrototype creates the Prototype lifestyle of class, usually the class
// being resolved.
func NewPrototype(c *Container, class *Class) (*Prototype, error) {
	if class == nil {
		return nil, fmt.Errorf("%w: no class to manage", ErrIllegalArgument)
	}
	ctor, err := class.constructor()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, class)
	}
	return &Prototype{container: c, class: class, ctor: ctor}, nil
}

func (p *Prototype) prototype() *Prototype { return p }

// Class returns the instantiated class.
func (p *Prototype) Class() *Class { return p.class }

// Get builds a new instance.
func (p *Prototype) Get(ctx context.Context) (any, error) {
	args, err := p.args(ctx)
	if err != nil {
		return nil, err
	}
	if p.class.Generated() {
		o, err := p.container.instantiate(ctx, p.class, args, nil)
		if err != nil {
			return nil, err
		}
		return o.Value(), nil
	}
	v, err := p.ctor.call(args)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (p *Prototype) args(ctx context.Context) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(p.ctor.params))
	for i, t := range p.ctor.params {
		v, err := p.container.inject(ctx, p.class, t)
		if err != nil {
			return nil, fmt.Errorf("injecting parameter %d of %s: %w", i, p.class, err)
		}
		args[i] = v
	}
	return args, nil
}

// prototyped is implemented by lifestyles built on a Prototype.
type prototyped interface {
	prototype() *Prototype
}

// Singleton builds its instance once, when the lifestyle is created.
type Singleton struct {
	*Prototype
	instance any
}

func newSingleton(ctx context.Context, c *Container, class *Class) (*Singleton, error) {
	p, err := NewPrototype(c, class)
	if err != nil {
		return nil, err
	}
	v, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &Singleton{Prototype: p, instance: v}, nil
}

// Get returns the single instance.
func (s *Singleton) Get(context.Context) (any, error) { return s.instance, nil }

type scopeKey struct{}

// scope holds the instances of Scoped lifestyles.
type scope struct {
	values sync.Map // *Scoped -> instance
}

// WithScope starts a scope. Scoped lifestyles resolved with the returned
// context share one instance per class.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{})
}

// Scoped keeps one instance per scope, created lazily. A context without
// WithScope resolves against the container's root scope, which lives as long
// as the container: there Scoped behaves like a lazily created Singleton.
// Callers that want request-bound instances must start a scope first.
type Scoped struct {
	*Prototype
}

func newScoped(c *Container, class *Class) (*Scoped, error) {
	p, err := NewPrototype(c, class)
	if err != nil {
		return nil, err
	}
	return &Scoped{Prototype: p}, nil
}

// Get returns the instance of the scope in ctx, or of the container's root
// scope when ctx carries none.
func (s *Scoped) Get(ctx context.Context) (any, error) {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		sc = s.container.scope
	}
	if v, ok := sc.values.Load(s); ok {
		return v, nil
	}
	v, err := s.Prototype.Get(ctx)
	if err != nil {
		return nil, err
	}
	actual, _ := sc.values.LoadOrStore(s, v)
	return actual, nil
}

// Preference is a Singleton persisted as YAML under the working directory.
// The stored state is read when the lifestyle is created. On close the
// container writes back the one Preference currently cached for each path.
type Preference struct {
	*Singleton
	path string
}

func newPreference(ctx context.Context, c *Container, class *Class) (*Preference, error) {
	s, err := newSingleton(ctx, c, class)
	if err != nil {
		return nil, err
	}
	p := &Preference{Singleton: s, path: c.preferencePath(class.Model())}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Preference) preference() *Preference { return p }

// Path returns the preference file.
func (p *Preference) Path() string { return p.path }

func (p *Preference) load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreferenceIO, err)
	}
	if err := yaml.Unmarshal(data, p.instance); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPreferenceIO, p.path, err)
	}
	return nil
}

// Save writes the current state of the instance.
func (p *Preference) Save() error {
	data, err := yaml.Marshal(p.instance)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPreferenceIO, p.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrPreferenceIO, err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPreferenceIO, err)
	}
	return nil
}

// supplier is implemented by every Supplier instantiation.
type supplier interface {
	target() reflect.Type
	with(ls Lifestyle) any
}

var supplierType = reflect.TypeFor[supplier]()

// Supplier is injected in place of a constructor parameter that wants the
// lifestyle of M rather than an instance of it.
type Supplier[M any] struct {
	lifestyle Lifestyle
}

func (Supplier[M]) target() reflect.Type { return reflect.TypeFor[M]() }

func (Supplier[M]) with(ls Lifestyle) any { return Supplier[M]{lifestyle: ls} }

// Lifestyle returns the underlying lifestyle.
func (s Supplier[M]) Lifestyle() Lifestyle { return s.lifestyle }

// Get returns an instance of M from its lifestyle.
func (s Supplier[M]) Get(ctx context.Context) (M, error) {
	var zero M
	if s.lifestyle == nil {
		return zero, fmt.Errorf("%w: supplier is not bound", ErrIllegalArgument)
	}
	v, err := s.lifestyle.Get(ctx)
	if err != nil {
		return zero, err
	}
	m, ok := v.(M)
	if !ok {
		return zero, fmt.Errorf("%w: lifestyle produced %T, want %s", ErrIllegalArgument, v, reflect.TypeFor[M]())
	}
	return m, nil
}
