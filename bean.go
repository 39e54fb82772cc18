package kiss

import "fmt"

// Bean gives a model access to the generated class behind an instance.
// Embed it in a model struct; instances created by the container through a
// generated class have it wired, others do not.
//
//	type Person struct {
//		kiss.Bean `yaml:"-"`
//		Name string `kiss:"app.CheckNull"`
//	}
//
//	p, _ := kiss.Make[*Person](ctx, c)
//	err := p.Set("Name", "") // runs the app.CheckNull interceptor
type Bean struct {
	context *Context
}

// Enhanced reports whether the instance was built through a generated class.
func (b *Bean) Enhanced() bool { return b.context != nil }

// Object returns the generated-class instance, or nil.
func (b *Bean) Object() *Object {
	if b.context == nil {
		return nil
	}
	return b.context.object
}

// Set writes a property through the generated setter.
func (b *Bean) Set(name string, value any) error {
	o := b.Object()
	if o == nil {
		return fmt.Errorf("%w: instance is not enhanced", ErrUnsupportedOperation)
	}
	return o.Set(name, value)
}

// Get reads a property of the instance.
func (b *Bean) Get(name string) (any, error) {
	o := b.Object()
	if o == nil {
		return nil, fmt.Errorf("%w: instance is not enhanced", ErrUnsupportedOperation)
	}
	return o.Get(name)
}
