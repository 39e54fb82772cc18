package kiss

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Extensible marks extension points. An interface that lists kiss.Extensible
// among its own interfaces is an extension point, and every provider class
// implementing it is one of its extensions.
type Extensible interface{}

// Serializable is implemented by every generated class.
type Serializable interface{}

// extensions tracks extension classes per point and per (point, key).
type extensions struct {
	container *Container

	mu     sync.RWMutex
	points map[string][]*Class
	keys   map[string][]*Class
}

func newExtensions(c *Container) *extensions {
	return &extensions{container: c, points: make(map[string][]*Class), keys: make(map[string][]*Class)}
}

func extensionKey(point, key string) string { return point + "\x00" + key }

// keyOf returns the key class name bound for point, or "" when unbound.
func keyOf(class *Class, point string) string {
	key := class.TypeArgument(point)
	if key == "any" {
		return ""
	}
	return key
}

// Load registers class under every extension point among its supertypes.
func (e *extensions) Load(class *Class) {
	var invalidated []string
	e.mu.Lock()
	for _, t := range class.Types() {
		if !t.implementsDirectly(ExtensibleName) {
			continue
		}
		if !slices.Contains(e.points[t.name], class) {
			e.points[t.name] = append(slices.Clone(e.points[t.name]), class)
		}
		if key := keyOf(class, t.name); key != "" {
			k := extensionKey(t.name, key)
			e.keys[k] = append(slices.DeleteFunc(slices.Clone(e.keys[k]), func(c *Class) bool { return c == class }), class)
			if t.name == LifestyleName {
				invalidated = append(invalidated, key)
			}
		}
	}
	e.mu.Unlock()
	for _, key := range invalidated {
		e.container.invalidate(key)
	}
}

// Unload removes class from every point and key it was registered under.
func (e *extensions) Unload(class *Class) {
	var invalidated []string
	e.mu.Lock()
	for _, t := range class.Types() {
		if !t.implementsDirectly(ExtensibleName) {
			continue
		}
		e.points[t.name] = slices.DeleteFunc(slices.Clone(e.points[t.name]), func(c *Class) bool { return c == class })
		if len(e.points[t.name]) == 0 {
			delete(e.points, t.name)
		}
		if key := keyOf(class, t.name); key != "" {
			k := extensionKey(t.name, key)
			e.keys[k] = slices.DeleteFunc(slices.Clone(e.keys[k]), func(c *Class) bool { return c == class })
			if len(e.keys[k]) == 0 {
				delete(e.keys, k)
			}
			if t.name == LifestyleName {
				invalidated = append(invalidated, key)
			}
		}
	}
	e.mu.Unlock()
	for _, key := range invalidated {
		e.container.invalidate(key)
	}
}

// classes returns the extension classes of point in registration order.
func (e *extensions) classes(point string) []*Class {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.points[point]
}

// keyed returns the extension class registered most recently for point and
// the nearest type of key that has one.
func (e *extensions) keyed(point string, key *Class) *Class {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range key.Types() {
		if cs := e.keys[extensionKey(point, t.name)]; len(cs) > 0 {
			return cs[len(cs)-1]
		}
	}
	return nil
}

// FindExtensions returns an instance of every extension of point.
func (c *Container) FindExtensions(ctx context.Context, point *Class) ([]any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var out []any
	for _, class := range c.extensions.classes(point.Name()) {
		v, err := c.make(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("extension %s of %s: %w", class, point, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FindExtension returns an instance of the extension of point keyed by key
// or by its nearest keyed supertype. It returns nil when there is none.
func (c *Container) FindExtension(ctx context.Context, point, key *Class) (any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.findExtension(ctx, point, key)
}

func (c *Container) findExtension(ctx context.Context, point, key *Class) (any, error) {
	class := c.extensions.keyed(point.Name(), key)
	if class == nil {
		return nil, nil
	}
	return c.make(ctx, class)
}

// invalidate drops cached lifestyles of key and its subtypes.
func (c *Container) invalidate(key string) {
	c.lifestyles.Range(func(class *Class, _ Lifestyle) bool {
		if class.Is(key) {
			c.lifestyles.Delete(class)
		}
		return true
	})
}

// enhancers instantiates the Enhancer extensions in registration order.
func (c *Container) enhancers() []Enhancer {
	ctx := context.Background()
	var out []Enhancer
	for _, class := range c.extensions.classes(EnhancerName) {
		v, err := c.make(ctx, class)
		if err != nil {
			c.logger.Error("cannot create enhancer", "class", class.Name(), "error", err)
			continue
		}
		if e, ok := v.(Enhancer); ok {
			out = append(out, e)
		}
	}
	return out
}

// pointOf returns the class of the Go interface type T.
func pointOf[T any](c *Container) (*Class, error) {
	return c.ClassOf(reflect.TypeFor[T]())
}

// Extensions returns every extension of the extension point T.
func Extensions[T any](ctx context.Context, c *Container) ([]T, error) {
	point, err := pointOf[T](c)
	if err != nil {
		return nil, err
	}
	vs, err := c.FindExtensions(ctx, point)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %T does not implement %s", ErrIllegalArgument, v, point)
		}
		out = append(out, t)
	}
	return out, nil
}

// Extension returns the extension of point T keyed by key. The boolean is
// false when no extension applies.
func Extension[T any](ctx context.Context, c *Container, key *Class) (T, bool, error) {
	var zero T
	point, err := pointOf[T](c)
	if err != nil {
		return zero, false, err
	}
	v, err := c.FindExtension(ctx, point, key)
	if err != nil || v == nil {
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %T does not implement %s", ErrIllegalArgument, v, point)
	}
	return t, true, nil
}
