package kiss

import (
	"context"
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/kiss/classfile"
)

// Interceptor is the extension point for property interception. An
// implementation is keyed by the annotation class it handles:
//
//	kiss.DefineIn[checkNull](cat,
//		kiss.Implements(kiss.InterceptorName),
//		kiss.Keyed(kiss.InterceptorName, "app.CheckNull"))
//
// Every setter of a property tagged `kiss:"app.CheckNull"` then runs
// Intercept before the value is stored.
type Interceptor interface {
	Intercept(inv *Invocation) error
}

// Invocation is one intercepted property write.
type Invocation struct {
	Object     *Object
	Property   string
	Annotation classfile.Annotation
	Value      any
	next       func(any) error
}

// Proceed passes value to the next interceptor, or stores it when this is
// the innermost one. Not calling Proceed drops the write.
func (inv *Invocation) Proceed(value any) error {
	return inv.next(value)
}

// intercept runs the interceptors of the annotations in declaration order,
// the first declared outermost, and finally stores the value.
func (o *Object) intercept(ctx context.Context, annotations []classfile.Annotation, name string, value reflect.Value) error {
	p, err := o.property(name)
	if err != nil {
		return err
	}
	next := func(v any) error {
		return setProperty(p, o.value, reflect.ValueOf(v))
	}
	for i := len(annotations) - 1; i >= 0; i-- {
		a := annotations[i]
		ic, err := o.container.interceptor(ctx, a.Type)
		if err != nil {
			return err
		}
		if ic == nil {
			continue
		}
		inner := next
		next = func(v any) error {
			return ic.Intercept(&Invocation{Object: o, Property: name, Annotation: a, Value: v, next: inner})
		}
	}
	var v any
	if value.IsValid() {
		v = value.Interface()
	}
	return next(v)
}

// interceptor returns the Interceptor extension keyed by the annotation
// class, or nil when the annotation is unknown or nothing handles it.
func (c *Container) interceptor(ctx context.Context, annotation string) (Interceptor, error) {
	key, err := c.ForName(annotation)
	if err != nil {
		return nil, nil
	}
	point, err := c.root.LoadClass(InterceptorName)
	if err != nil {
		return nil, err
	}
	v, err := c.findExtension(ctx, point, key)
	if err != nil || v == nil {
		return nil, err
	}
	ic, ok := v.(Interceptor)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not implement Interceptor", ErrIllegalArgument, v)
	}
	return ic, nil
}
