// Package kiss is a small dependency-injection container with hot-swappable
// modules.
//
// Classes are runtime type descriptors decoded from class files. Root classes
// come from a Catalog of Go bindings; module classes come from directories
// and archives loaded at run time. The container resolves a class to a
// Lifestyle that produces its instances, injecting constructor parameters,
// and tracks the extensions of every extension point as modules come and go.
//
//	c, err := kiss.New(kiss.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if _, err := c.LoadModule(ctx, "plugins/audit.jar"); err != nil {
//		return err
//	}
//	svc, err := kiss.Make[*Service](ctx, c)
package kiss

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Container resolves classes to lifestyles and instances and owns the module
// registry.
type Container struct {
	config  *Config
	logger  Logger
	catalog *Catalog
	root    *Loader

	modules    *Modules
	extensions *extensions
	lifestyles *AwareMap[Lifestyle]
	scope      *scope
	subject    subject

	observers []Observer

	prefMu      sync.Mutex
	preferences map[string]*Preference

	closed atomic.Bool
}

// Option configures a Container.
type Option func(*Container) error

// WithLogger sets the logger. The default discards everything unless
// Config.LogLevel is set.
func WithLogger(logger Logger) Option {
	return func(c *Container) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrIllegalArgument)
		}
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(c *Container) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrIllegalArgument)
		}
		copied := *cfg
		if err := copied.Validate(); err != nil {
			return err
		}
		c.config = &copied
		return nil
	}
}

// WithCatalog uses cat instead of DefaultCatalog for root classes.
func WithCatalog(cat *Catalog) Option {
	return func(c *Container) error {
		if cat == nil {
			return fmt.Errorf("%w: nil catalog", ErrIllegalArgument)
		}
		c.catalog = cat
		return nil
	}
}

// WithObserver registers observers before any module is loaded.
func WithObserver(observers ...Observer) Option {
	return func(c *Container) error {
		c.observers = append(c.observers, observers...)
		return nil
	}
}

// New creates a container, registers its built-in listeners and loads the
// modules named by the configuration.
func New(opts ...Option) (*Container, error) {
	c := &Container{config: DefaultConfig(), catalog: DefaultCatalog, scope: &scope{}}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = NewZapLogger(nil)
		if c.config.LogLevel != "" {
			l, err := NewDefaultLogger(c.config.LogLevel)
			if err != nil {
				return nil, err
			}
			c.logger = l
		}
	}
	c.subject.logger = c.logger
	for _, o := range c.observers {
		if err := c.RegisterObserver(o); err != nil {
			return nil, err
		}
	}

	root, err := newRootLoader(c.catalog)
	if err != nil {
		return nil, err
	}
	c.root = root
	c.extensions = newExtensions(c)
	c.modules = newModules(c)
	c.lifestyles = NewAwareMap[Lifestyle](c)

	prototype, err := root.LoadClass(PrototypeName)
	if err != nil {
		return nil, err
	}
	bootstrap, err := NewPrototype(c, prototype)
	if err != nil {
		return nil, err
	}
	c.lifestyles.Store(prototype, bootstrap)

	ctx := context.Background()
	if err := c.modules.start(ctx); err != nil {
		return nil, err
	}
	for _, path := range c.config.Modules {
		if _, err := c.LoadModule(ctx, path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Config returns the container configuration.
func (c *Container) Config() *Config { return c.config }

// Logger returns the container logger.
func (c *Container) Logger() Logger { return c.logger }

// Catalog returns the catalog of root classes.
func (c *Container) Catalog() *Catalog { return c.catalog }

// Modules returns the active modules, newest first, root module last.
func (c *Container) Modules() []*Module { return c.modules.List() }

func (c *Container) checkOpen() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	return nil
}

// Resolve returns an instance of class from its lifestyle.
func (c *Container) Resolve(ctx context.Context, class *Class) (any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.make(ctx, class)
}

// ResolveLifestyle returns the lifestyle managing class.
func (c *Container) ResolveLifestyle(ctx context.Context, class *Class) (Lifestyle, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.lifestyle(ctx, class)
}

// Make resolves the class bound to T and returns an instance of it. For a
// struct type S, use Make[*S].
func Make[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	class, err := c.ClassOf(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	v, err := c.Resolve(ctx, class)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s produced %T, want %s", ErrIllegalArgument, class, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// Enhance builds an instance of the generated class of class, whose
// annotated setters run interceptors.
func (c *Container) Enhance(ctx context.Context, class *Class) (*Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	generated, err := c.modules.define(class.Model(), ModeBean)
	if err != nil {
		return nil, err
	}
	p, err := NewPrototype(c, generated)
	if err != nil {
		return nil, err
	}
	ctx, r := withResolution(ctx)
	r.push(generated)
	defer r.pop()
	args, err := p.args(ctx)
	if err != nil {
		return nil, err
	}
	return c.instantiate(ctx, generated, args, nil)
}

// Mock builds a trace object of class. Reading its properties records their
// names; nested properties return nested trace objects sharing the trace.
func (c *Container) Mock(ctx context.Context, class *Class) (*Object, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.mock(ctx, class, &tracer{})
}

// LoadModule loads the module at path and returns its loader, or nil when
// the path does not exist. Loading a loaded path reloads it.
func (c *Container) LoadModule(ctx context.Context, path string) (*Loader, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	m, err := c.modules.Load(ctx, path)
	if err != nil || m == nil {
		return nil, err
	}
	return m.loader, nil
}

// UnloadModule unloads the module at path. Unknown paths are ignored.
func (c *Container) UnloadModule(ctx context.Context, path string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.modules.Unload(ctx, path)
	return err
}

// Register declares T as a root class of the container's catalog and
// announces it to listeners as if it came from a module. It must not be
// called from a ClassListener callback.
func Register[T any](c *Container, opts ...ClassOption) (*Class, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	decl, err := defineIn[T](c.catalog, opts)
	if err != nil {
		return nil, err
	}
	if err := c.root.addSource(decl); err != nil {
		return nil, err
	}
	class, err := c.root.LoadClass(decl.Name)
	if err != nil {
		return nil, err
	}
	data, err := decl.Bytes()
	if err != nil {
		return nil, err
	}
	c.modules.addRoot(class, data)
	return class, nil
}

// adoptPreference makes p the preference saved for its path on Close,
// replacing any instance it superseded.
func (c *Container) adoptPreference(p *Preference) {
	c.prefMu.Lock()
	defer c.prefMu.Unlock()
	if c.preferences == nil {
		c.preferences = make(map[string]*Preference)
	}
	c.preferences[p.path] = p
}

func (c *Container) savePreferences() error {
	c.prefMu.Lock()
	prefs := c.preferences
	c.preferences = nil
	c.prefMu.Unlock()

	var errs []error
	for _, path := range slices.Sorted(maps.Keys(prefs)) {
		errs = append(errs, prefs[path].Save())
	}
	return errors.Join(errs...)
}

// Close saves preferences, unloads every module and rejects further use.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	errs := []error{c.savePreferences()}
	ctx := context.Background()
	for _, m := range c.modules.List() {
		if m.path == "" {
			continue
		}
		if _, err := c.modules.Unload(ctx, m.path); err != nil {
			errs = append(errs, err)
		}
	}
	c.emit(ctx, EventTypeContainerClosed, nil)
	return errors.Join(errs...)
}
