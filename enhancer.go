package kiss

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/kiss/classfile"
	"github.com/GoCodeAlone/kiss/model"
)

// Mode selects the shape of a generated class.
type Mode int

const (
	modeNone Mode = iota
	// ModeBean routes property setters through the interceptor chain.
	ModeBean
	// ModeTrace records the property path read through getters.
	ModeTrace
)

func (m Mode) suffix() string {
	switch m {
	case ModeBean:
		return "+"
	case ModeTrace:
		return "-"
	}
	return ""
}

func (m Mode) String() string {
	switch m {
	case ModeBean:
		return "bean"
	case ModeTrace:
		return "trace"
	}
	return "none"
}

func modeOf(name string) Mode {
	switch {
	case strings.HasSuffix(name, ModeBean.suffix()):
		return ModeBean
	case strings.HasSuffix(name, ModeTrace.suffix()):
		return ModeTrace
	}
	return modeNone
}

// Members referenced by generated code.
const (
	initName     = "<init>"
	contextField = "context"
	invokeName   = "invoke"
	tracerName   = "kiss.Tracer"
	traceName    = "trace"
	mockName     = "mock"
	anyDesc      = "Lany;"
	stringDesc   = "T"
)

// Enhancer is an extension point for stages of the generated-class pipeline.
// Enhance wraps next; the returned visitor sees every event first.
type Enhancer interface {
	Enhance(next classfile.ClassVisitor, model *Class) classfile.ClassVisitor
}

// enhance emits the generated class for model into cv.
func enhance(cv classfile.ClassVisitor, target *Class, name string, mode Mode) error {
	if !target.IsPublic() || target.IsFinal() {
		return fmt.Errorf("%w: %s must be public and not final to be enhanced", ErrIllegalArgument, target.Name())
	}
	t := target.Type()
	if t == nil {
		return fmt.Errorf("%w: %s has no Go implementation", ErrIllegalArgument, target.Name())
	}
	ctor, err := target.constructor()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIllegalArgument, target.Name(), err)
	}
	m := model.Of(t)
	owner := target.Name()

	cv.Visit(classfile.Header{
		Access:     classfile.AccPublic | classfile.AccSuper | classfile.AccSynthetic,
		Name:       name,
		Super:      owner,
		Interfaces: []string{SerializableName},
	})
	cv.VisitField(classfile.Field{
		Access: classfile.AccPrivate | classfile.AccTransient,
		Name:   contextField,
		Desc:   classfile.ObjectDescriptor(ContextName),
	})

	var params []string
	if mode == ModeBean {
		for _, p := range ctor.params {
			params = append(params, classfile.Descriptor(p))
		}
	}
	desc := classfile.MethodDescriptor(classfile.Void, params...)
	mv := cv.VisitMethod(classfile.AccPublic, initName, desc)
	for i := range len(params) + 1 {
		mv.VarInsn(classfile.LOAD, i)
	}
	mv.MethodInsn(classfile.INVOKESPECIAL, owner, initName, desc)
	mv.VarInsn(classfile.LOAD, 0)
	mv.TypeInsn(classfile.NEW, ContextName)
	mv.FieldInsn(classfile.PUTFIELD, name, contextField, classfile.ObjectDescriptor(ContextName))
	mv.Insn(classfile.RETURN)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()

	for _, p := range m.Properties() {
		switch mode {
		case ModeBean:
			setter(cv, owner, p)
		case ModeTrace:
			getter(cv, p)
		}
	}
	cv.VisitEnd()
	return nil
}

// setter overrides SetX. Without annotations it calls the model's setter
// directly; otherwise it hands the boxed value to the interceptor chain.
func setter(cv classfile.ClassVisitor, owner string, p *model.Property) {
	desc := classfile.Descriptor(p.Type)
	mdesc := classfile.MethodDescriptor(classfile.Void, desc)
	mv := cv.VisitMethod(classfile.AccPublic, "Set"+p.Name, mdesc)
	if len(p.Annotations) == 0 {
		mv.VarInsn(classfile.LOAD, 0)
		mv.VarInsn(classfile.LOAD, 1)
		mv.MethodInsn(classfile.INVOKESPECIAL, owner, "Set"+p.Name, mdesc)
	} else {
		for _, a := range p.Annotations {
			mv.VisitAnnotation(classfile.Annotation{Type: a})
		}
		mv.VarInsn(classfile.LOAD, 0)
		mv.LdcInsn(p.Name)
		mv.VarInsn(classfile.LOAD, 1)
		mv.TypeInsn(classfile.BOX, desc)
		mv.MethodInsn(classfile.INVOKESTATIC, InterceptorName, invokeName,
			classfile.MethodDescriptor(anyDesc, anyDesc, stringDesc, anyDesc))
		mv.Insn(classfile.POP)
	}
	mv.Insn(classfile.RETURN)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
}

// getter overrides GetX to record the property name. Attributes return
// their zero value; everything else returns a nested trace object.
func getter(cv classfile.ClassVisitor, p *model.Property) {
	desc := classfile.Descriptor(p.Type)
	mv := cv.VisitMethod(classfile.AccPublic, "Get"+p.Name, classfile.MethodDescriptor(desc))
	mv.VarInsn(classfile.LOAD, 0)
	mv.LdcInsn(p.Name)
	if model.IsAttribute(p.Type) {
		mv.MethodInsn(classfile.INVOKESTATIC, tracerName, traceName, classfile.MethodDescriptor(classfile.Void, anyDesc, stringDesc))
		mv.TypeInsn(classfile.ZERO, desc)
	} else {
		mv.MethodInsn(classfile.INVOKESTATIC, tracerName, mockName, classfile.MethodDescriptor(anyDesc, anyDesc, stringDesc))
	}
	mv.Insn(classfile.ARETURN)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
}
