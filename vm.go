package kiss

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/GoCodeAlone/kiss/classfile"
	"github.com/GoCodeAlone/kiss/model"
)

// Context is stored in the context field of every generated instance. It
// links the Go value back to its Object.
type Context struct {
	object *Object
}

// Object returns the instance the context was stored in.
func (c *Context) Object() *Object { return c.object }

// tracer records the property path read through a trace object and its
// nested mocks.
type tracer struct {
	mu   sync.Mutex
	path []string
}

func (t *tracer) add(name string) {
	t.mu.Lock()
	t.path = append(t.path, name)
	t.mu.Unlock()
}

func (t *tracer) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.path...)
}

// Object is an instance of a generated class. Its Go value is a pointer to
// the model struct; property access runs the generated methods.
type Object struct {
	class     *Class
	value     reflect.Value
	context   *Context
	container *Container
	trace     *tracer
}

// Class returns the generated class of the object.
func (o *Object) Class() *Class { return o.class }

// Value returns the pointer to the model value.
func (o *Object) Value() any {
	if !o.value.IsValid() {
		return nil
	}
	return o.value.Interface()
}

// Trace returns the property names read so far through a trace object.
func (o *Object) Trace() []string {
	if o.trace == nil {
		return nil
	}
	return o.trace.snapshot()
}

func (o *Object) property(name string) (*model.Property, error) {
	if !o.value.IsValid() {
		return nil, fmt.Errorf("%w: object has no value", ErrIllegalArgument)
	}
	p := model.Of(o.value.Type()).Property(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s has no property %s", ErrIllegalArgument, o.value.Type(), name)
	}
	return p, nil
}

// Set writes a property through the generated setter, so annotated
// properties pass through their interceptors. A nil value means the zero
// value of the property type.
func (o *Object) Set(name string, value any) error {
	p, err := o.property(name)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		v = reflect.Zero(p.Type)
	}
	if m := o.class.Method("Set" + name); m != nil {
		_, err := o.exec(context.Background(), m, reflect.ValueOf(o), v)
		return err
	}
	return setProperty(p, o.value, v)
}

// Get reads a property. Trace objects run their generated getter, which
// records the name and returns a zero value or a nested trace object.
func (o *Object) Get(name string) (any, error) {
	if m := o.class.Method("Get" + name); m != nil {
		v, err := o.exec(context.Background(), m, reflect.ValueOf(o))
		if err != nil || !v.IsValid() {
			return nil, err
		}
		return unbox(v).Interface(), nil
	}
	p, err := o.property(name)
	if err != nil {
		return nil, err
	}
	v, err := p.Get(o.value)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func setProperty(p *model.Property, obj, v reflect.Value) error {
	v = unbox(v)
	if !v.IsValid() {
		v = reflect.Zero(p.Type)
	}
	if !v.Type().AssignableTo(p.Type) {
		return fmt.Errorf("%w: property %s wants %s, got %s", ErrIllegalArgument, p.Name, p.Type, v.Type())
	}
	return p.Set(obj, v)
}

var (
	anyType     = reflect.TypeFor[any]()
	objectType  = reflect.TypeFor[*Object]()
	contextType = reflect.TypeFor[*Context]()
	beanType    = reflect.TypeFor[Bean]()
)

func box(v reflect.Value) reflect.Value {
	b := reflect.New(anyType).Elem()
	if v.IsValid() {
		b.Set(v)
	}
	return b
}

func unbox(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// frame is the operand stack and locals of one generated method call.
type frame struct {
	method *classfile.Method
	locals []reflect.Value
	stack  []reflect.Value
}

func (f *frame) push(v reflect.Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (reflect.Value, error) {
	if len(f.stack) == 0 {
		return reflect.Value{}, fmt.Errorf("%w: %s", classfile.ErrStackUnderflow, f.method.Name)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]reflect.Value, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("%w: %s", classfile.ErrStackUnderflow, f.method.Name)
	}
	out := append([]reflect.Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func (f *frame) receiver() (*Object, error) {
	v, err := f.pop()
	if err != nil {
		return nil, err
	}
	if v = unbox(v); !v.IsValid() || v.Type() != objectType {
		return nil, fmt.Errorf("%w: receiver of %s is not an object", ErrIllegalArgument, f.method.Name)
	}
	return v.Interface().(*Object), nil
}

// exec runs a generated method with the given locals. Local 0 is the
// receiver.
func (o *Object) exec(ctx context.Context, m *classfile.Method, locals ...reflect.Value) (reflect.Value, error) {
	f := &frame{method: m, locals: locals}
	for _, ins := range m.Instructions {
		switch ins.Op {
		case classfile.NOP:
		case classfile.ACONST_NULL:
			f.push(box(reflect.Value{}))
		case classfile.LDC:
			f.push(reflect.ValueOf(ins.Const))
		case classfile.LOAD:
			if ins.Var >= len(f.locals) {
				return reflect.Value{}, fmt.Errorf("%w: %s reads local %d of %d", ErrIllegalArgument, m.Name, ins.Var, len(f.locals))
			}
			f.push(f.locals[ins.Var])
		case classfile.STORE:
			v, err := f.pop()
			if err != nil {
				return reflect.Value{}, err
			}
			for len(f.locals) <= ins.Var {
				f.locals = append(f.locals, reflect.Value{})
			}
			f.locals[ins.Var] = v
		case classfile.POP:
			if _, err := f.pop(); err != nil {
				return reflect.Value{}, err
			}
		case classfile.DUP:
			v, err := f.pop()
			if err != nil {
				return reflect.Value{}, err
			}
			f.push(v)
			f.push(v)
		case classfile.RETURN:
			return reflect.Value{}, nil
		case classfile.ARETURN:
			return f.pop()
		case classfile.NEW:
			if ins.Desc != ContextName {
				return reflect.Value{}, fmt.Errorf("%w: cannot allocate %s", ErrUnsupportedOperation, ins.Desc)
			}
			f.push(reflect.ValueOf(&Context{}))
		case classfile.GETFIELD:
			r, err := f.receiver()
			if err != nil {
				return reflect.Value{}, err
			}
			if ins.Name != contextField {
				return reflect.Value{}, fmt.Errorf("%w: field %s", ErrUnsupportedOperation, ins.Name)
			}
			f.push(reflect.ValueOf(r.context))
		case classfile.PUTFIELD:
			v, err := f.pop()
			if err != nil {
				return reflect.Value{}, err
			}
			r, err := f.receiver()
			if err != nil {
				return reflect.Value{}, err
			}
			if v = unbox(v); ins.Name != contextField || !v.IsValid() || v.Type() != contextType {
				return reflect.Value{}, fmt.Errorf("%w: field %s", ErrUnsupportedOperation, ins.Name)
			}
			r.attach(v.Interface().(*Context))
		case classfile.INVOKESPECIAL:
			if err := o.invokeSpecial(ctx, f, ins); err != nil {
				return reflect.Value{}, err
			}
		case classfile.INVOKESTATIC:
			if err := o.invokeStatic(ctx, f, ins); err != nil {
				return reflect.Value{}, err
			}
		case classfile.BOX:
			v, err := f.pop()
			if err != nil {
				return reflect.Value{}, err
			}
			if err := checkDescriptor(v, ins.Desc); err != nil {
				return reflect.Value{}, err
			}
			f.push(box(v))
		case classfile.UNBOX:
			v, err := f.pop()
			if err != nil {
				return reflect.Value{}, err
			}
			if v = unbox(v); !v.IsValid() {
				return reflect.Value{}, fmt.Errorf("%w: unboxing nil as %s", ErrIllegalArgument, ins.Desc)
			}
			if err := checkDescriptor(v, ins.Desc); err != nil {
				return reflect.Value{}, err
			}
			f.push(v)
		case classfile.ZERO:
			f.push(o.zero(ins.Desc))
		default:
			return reflect.Value{}, fmt.Errorf("%w: %s", classfile.ErrUnknownOpcode, ins.Op)
		}
	}
	return reflect.Value{}, nil
}

// checkDescriptor rejects values whose type differs from a basic descriptor.
// Object descriptors may name interfaces, so their values are checked for
// assignability when they reach a property.
func checkDescriptor(v reflect.Value, desc string) error {
	v = unbox(v)
	want, basic := classfile.BasicType(desc)
	if !v.IsValid() || !basic {
		return nil
	}
	if v.Type() != want {
		return fmt.Errorf("%w: value of type %s does not match %s", ErrIllegalArgument, classfile.Descriptor(v.Type()), desc)
	}
	return nil
}

// zero returns the zero value of the type spelled by desc. Object
// descriptors are resolved against the property types of the model.
func (o *Object) zero(desc string) reflect.Value {
	if t, ok := classfile.BasicType(desc); ok {
		return reflect.Zero(t)
	}
	if o.value.IsValid() {
		for _, p := range model.Of(o.value.Type()).Properties() {
			if classfile.Descriptor(p.Type) == desc {
				return reflect.Zero(p.Type)
			}
		}
	}
	return box(reflect.Value{})
}

// attach stores ctx in the object and in the model's embedded Bean.
func (o *Object) attach(ctx *Context) {
	ctx.object = o
	o.context = ctx
	if !o.value.IsValid() || o.value.Kind() != reflect.Pointer || o.value.Elem().Kind() != reflect.Struct {
		return
	}
	if f, ok := o.value.Elem().Type().FieldByName(beanType.Name()); ok && f.Anonymous && f.Type == beanType && len(f.Index) == 1 {
		bean := o.value.Elem().Field(f.Index[0]).Addr().Interface().(*Bean)
		bean.context = ctx
	}
}

func (o *Object) invokeSpecial(ctx context.Context, f *frame, ins classfile.Instruction) error {
	params, _, err := classfile.ParseMethodDescriptor(ins.Desc)
	if err != nil {
		return err
	}
	args, err := f.popN(len(params))
	if err != nil {
		return err
	}
	r, err := f.receiver()
	if err != nil {
		return err
	}
	switch {
	case ins.Name == initName:
		return r.construct(args)
	case strings.HasPrefix(ins.Name, "Set") && len(args) == 1:
		p, err := r.property(strings.TrimPrefix(ins.Name, "Set"))
		if err != nil {
			return err
		}
		return setProperty(p, r.value, args[0])
	}
	return fmt.Errorf("%w: %s.%s", ErrUnsupportedOperation, ins.Owner, ins.Name)
}

// construct runs the model's minimal constructor. A trace object passes no
// arguments and gets a zeroed value instead.
func (o *Object) construct(args []reflect.Value) error {
	k, err := o.class.constructor()
	if err != nil {
		return err
	}
	if len(args) == 0 && len(k.params) > 0 {
		o.value = reflect.New(k.typ)
		return nil
	}
	if len(args) != len(k.params) {
		return fmt.Errorf("%w: %s wants %d arguments, got %d", ErrIllegalArgument, o.class, len(k.params), len(args))
	}
	for i, a := range args {
		if a = unbox(a); !a.IsValid() {
			args[i] = reflect.Zero(k.params[i])
		} else {
			args[i] = a
		}
	}
	v, err := k.call(args)
	if err != nil {
		return err
	}
	o.value = v
	return nil
}

func (o *Object) invokeStatic(ctx context.Context, f *frame, ins classfile.Instruction) error {
	switch {
	case ins.Owner == InterceptorName && ins.Name == invokeName:
		vals, err := f.popN(2)
		if err != nil {
			return err
		}
		r, err := f.receiver()
		if err != nil {
			return err
		}
		name, _ := unbox(vals[0]).Interface().(string)
		if err := r.intercept(ctx, f.method.Annotations, name, unbox(vals[1])); err != nil {
			return err
		}
		f.push(box(reflect.Value{}))
		return nil
	case ins.Owner == tracerName && (ins.Name == traceName || ins.Name == mockName):
		v, err := f.pop()
		if err != nil {
			return err
		}
		r, err := f.receiver()
		if err != nil {
			return err
		}
		name, _ := unbox(v).Interface().(string)
		if r.trace != nil {
			r.trace.add(name)
		}
		if ins.Name == traceName {
			return nil
		}
		nested, err := r.mock(ctx, name)
		if err != nil {
			return err
		}
		f.push(box(reflect.ValueOf(nested)))
		return nil
	}
	return fmt.Errorf("%w: %s.%s", ErrUnsupportedOperation, ins.Owner, ins.Name)
}

// mock returns a trace object for the named property, sharing the receiver's
// trace. Types without a class get a bare trace object.
func (o *Object) mock(ctx context.Context, name string) (*Object, error) {
	p, err := o.property(name)
	if err != nil {
		return nil, err
	}
	if o.container != nil {
		if class, err := o.container.ClassOf(p.Type); err == nil && !class.IsAbstract() {
			if nested, err := o.container.mock(ctx, class, o.trace); err == nil {
				return nested, nil
			}
		}
	}
	t := p.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return &Object{value: reflect.New(t), container: o.container, trace: o.trace}, nil
}
