package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ClassVisitor receives the parts of a class in file order. Writer is the
// terminal visitor; ClassAdapter lets a stage observe or rewrite the stream
// before passing it on.
type ClassVisitor interface {
	Visit(h Header)
	VisitAnnotation(a Annotation)
	VisitTypeArgument(t TypeArgument)
	VisitAttribute(a Attribute)
	VisitField(f Field)
	VisitMethod(access uint32, name, desc string) MethodVisitor
	VisitEnd()
}

// MethodVisitor receives a method's annotations and code.
type MethodVisitor interface {
	VisitAnnotation(a Annotation)
	Insn(op Opcode)
	VarInsn(op Opcode, index int)
	LdcInsn(value string)
	TypeInsn(op Opcode, desc string)
	FieldInsn(op Opcode, owner, name, desc string)
	MethodInsn(op Opcode, owner, name, desc string)
	VisitMaxs(maxStack, maxLocals int)
	VisitEnd()
}

// ClassAdapter forwards every call to Next. Embed it and override the calls
// of interest.
type ClassAdapter struct {
	Next ClassVisitor
}

func (a *ClassAdapter) Visit(h Header)                   { a.Next.Visit(h) }
func (a *ClassAdapter) VisitAnnotation(an Annotation)    { a.Next.VisitAnnotation(an) }
func (a *ClassAdapter) VisitTypeArgument(t TypeArgument) { a.Next.VisitTypeArgument(t) }
func (a *ClassAdapter) VisitAttribute(at Attribute)      { a.Next.VisitAttribute(at) }
func (a *ClassAdapter) VisitField(f Field)               { a.Next.VisitField(f) }
func (a *ClassAdapter) VisitEnd()                        { a.Next.VisitEnd() }

func (a *ClassAdapter) VisitMethod(access uint32, name, desc string) MethodVisitor {
	return a.Next.VisitMethod(access, name, desc)
}

// Writer encodes a class file.
type Writer struct {
	flags       int
	pool        []string
	index       map[string]uint16
	header      Header
	annotations []Annotation
	typeArgs    []TypeArgument
	attributes  []Attribute
	fields      []Field
	methods     []*methodWriter
	ended       bool
	err         error
}

// NewWriter creates a Writer.
func NewWriter(flags int) *Writer {
	return &Writer{flags: flags, index: make(map[string]uint16)}
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) intern(s string) uint16 {
	if i, ok := w.index[s]; ok {
		return i
	}
	if len(w.pool) >= math.MaxUint16-1 {
		w.fail(ErrPoolOverflow)
		return 0
	}
	w.pool = append(w.pool, s)
	i := uint16(len(w.pool))
	w.index[s] = i
	return i
}

func (w *Writer) Visit(h Header) {
	if h.Major == 0 {
		h.Major, h.Minor = MajorVersion, MinorVersion
	}
	w.header = h
}

func (w *Writer) VisitAnnotation(a Annotation)     { w.annotations = append(w.annotations, a) }
func (w *Writer) VisitTypeArgument(t TypeArgument) { w.typeArgs = append(w.typeArgs, t) }
func (w *Writer) VisitAttribute(a Attribute)       { w.attributes = append(w.attributes, a) }
func (w *Writer) VisitField(f Field)               { w.fields = append(w.fields, f) }
func (w *Writer) VisitEnd()                        { w.ended = true }

func (w *Writer) VisitMethod(access uint32, name, desc string) MethodVisitor {
	m := &methodWriter{w: w, access: access, name: name, desc: desc}
	if _, _, err := ParseMethodDescriptor(desc); err != nil {
		w.fail(err)
	}
	w.methods = append(w.methods, m)
	return m
}

// Bytes encodes everything visited so far.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.header.Name == "" {
		return nil, fmt.Errorf("%w: class has no name", ErrMalformedClass)
	}

	var body bytes.Buffer
	put32(&body, w.header.Access)
	put16(&body, w.intern(w.header.Name))
	if w.header.Super == "" {
		put16(&body, 0)
	} else {
		put16(&body, w.intern(w.header.Super))
	}
	put16(&body, uint16(len(w.header.Interfaces)))
	for _, i := range w.header.Interfaces {
		put16(&body, w.intern(i))
	}
	w.writeAnnotations(&body, w.annotations)

	attrs := w.attributes
	if len(w.typeArgs) > 0 {
		var data bytes.Buffer
		put16(&data, uint16(len(w.typeArgs)))
		for _, t := range w.typeArgs {
			put16(&data, w.intern(t.Owner))
			put16(&data, w.intern(t.Arg))
		}
		attrs = append([]Attribute{{Name: AttrTypeArguments, Data: data.Bytes()}}, attrs...)
	}
	w.writeAttributes(&body, attrs)

	put16(&body, uint16(len(w.fields)))
	for _, f := range w.fields {
		put32(&body, f.Access)
		put16(&body, w.intern(f.Name))
		put16(&body, w.intern(f.Desc))
	}

	put16(&body, uint16(len(w.methods)))
	for _, m := range w.methods {
		if err := m.finish(); err != nil {
			return nil, err
		}
		put32(&body, m.access)
		put16(&body, w.intern(m.name))
		put16(&body, w.intern(m.desc))
		w.writeAnnotations(&body, m.annotations)
		put16(&body, uint16(m.maxStack))
		put16(&body, uint16(m.maxLocals))
		put32(&body, uint32(m.code.Len()))
		body.Write(m.code.Bytes())
		put16(&body, 0)
	}
	if w.err != nil {
		return nil, w.err
	}

	var out bytes.Buffer
	put32(&out, Magic)
	put16(&out, w.header.Minor)
	put16(&out, w.header.Major)
	put16(&out, uint16(len(w.pool)))
	for _, s := range w.pool {
		put16(&out, uint16(len(s)))
		out.WriteString(s)
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (w *Writer) writeAnnotations(buf *bytes.Buffer, as []Annotation) {
	put16(buf, uint16(len(as)))
	for _, a := range as {
		put16(buf, w.intern(a.Type))
		if a.Invisible {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
		}
		put16(buf, uint16(len(a.Values)))
		for _, e := range a.Values {
			put16(buf, w.intern(e.Name))
			put16(buf, w.intern(e.Value))
		}
	}
}

func (w *Writer) writeAttributes(buf *bytes.Buffer, as []Attribute) {
	put16(buf, uint16(len(as)))
	for _, a := range as {
		put16(buf, w.intern(a.Name))
		put32(buf, uint32(len(a.Data)))
		buf.Write(a.Data)
	}
}

type methodWriter struct {
	w           *Writer
	access      uint32
	name        string
	desc        string
	annotations []Annotation
	code        bytes.Buffer
	depth       int
	maxStack    int
	maxLocals   int
}

func (m *methodWriter) VisitAnnotation(a Annotation) { m.annotations = append(m.annotations, a) }

func (m *methodWriter) effect(pop, push int) {
	if m.depth < pop {
		m.w.fail(fmt.Errorf("%w: %s.%s", ErrStackUnderflow, m.w.header.Name, m.name))
		m.depth = 0
		return
	}
	m.depth += push - pop
	if m.depth > m.maxStack {
		m.maxStack = m.depth
	}
}

func (m *methodWriter) Insn(op Opcode) {
	m.code.WriteByte(byte(op))
	switch op {
	case ACONST_NULL:
		m.effect(0, 1)
	case POP, ARETURN:
		m.effect(1, 0)
	case DUP:
		m.effect(1, 2)
	case NOP, RETURN:
	default:
		m.w.fail(fmt.Errorf("%w: %s takes an operand", ErrUnknownOpcode, op))
	}
}

func (m *methodWriter) VarInsn(op Opcode, index int) {
	if index < 0 || index > math.MaxUint8 {
		m.w.fail(fmt.Errorf("%w: local %d out of range", ErrMalformedClass, index))
		return
	}
	m.code.WriteByte(byte(op))
	m.code.WriteByte(byte(index))
	switch op {
	case LOAD:
		m.effect(0, 1)
	case STORE:
		m.effect(1, 0)
	default:
		m.w.fail(fmt.Errorf("%w: %s is not a variable instruction", ErrUnknownOpcode, op))
	}
	if index+1 > m.maxLocals {
		m.maxLocals = index + 1
	}
}

func (m *methodWriter) LdcInsn(value string) {
	m.code.WriteByte(byte(LDC))
	put16(&m.code, m.w.intern(value))
	m.effect(0, 1)
}

func (m *methodWriter) TypeInsn(op Opcode, desc string) {
	m.code.WriteByte(byte(op))
	put16(&m.code, m.w.intern(desc))
	switch op {
	case NEW, ZERO:
		m.effect(0, 1)
	case BOX, UNBOX:
		m.effect(1, 1)
	default:
		m.w.fail(fmt.Errorf("%w: %s is not a type instruction", ErrUnknownOpcode, op))
	}
}

func (m *methodWriter) FieldInsn(op Opcode, owner, name, desc string) {
	m.member(op, owner, name, desc)
	switch op {
	case GETFIELD:
		m.effect(1, 1)
	case PUTFIELD:
		m.effect(2, 0)
	default:
		m.w.fail(fmt.Errorf("%w: %s is not a field instruction", ErrUnknownOpcode, op))
	}
}

func (m *methodWriter) MethodInsn(op Opcode, owner, name, desc string) {
	m.member(op, owner, name, desc)
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		m.w.fail(err)
		return
	}
	push := 1
	if ret == Void {
		push = 0
	}
	switch op {
	case INVOKESPECIAL:
		m.effect(len(params)+1, push)
	case INVOKESTATIC:
		m.effect(len(params), push)
	default:
		m.w.fail(fmt.Errorf("%w: %s is not an invoke instruction", ErrUnknownOpcode, op))
	}
}

func (m *methodWriter) member(op Opcode, owner, name, desc string) {
	m.code.WriteByte(byte(op))
	put16(&m.code, m.w.intern(owner))
	put16(&m.code, m.w.intern(name))
	put16(&m.code, m.w.intern(desc))
}

func (m *methodWriter) VisitMaxs(maxStack, maxLocals int) {
	if m.w.flags&ComputeMaxs != 0 {
		return
	}
	m.maxStack, m.maxLocals = maxStack, maxLocals
}

func (m *methodWriter) VisitEnd() {}

func (m *methodWriter) finish() error {
	if m.w.flags&ComputeMaxs == 0 {
		return nil
	}
	params, _, err := ParseMethodDescriptor(m.desc)
	if err != nil {
		return err
	}
	if n := len(params) + 1; m.access&AccStatic == 0 && n > m.maxLocals {
		m.maxLocals = n
	}
	return nil
}

func put16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func put32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
