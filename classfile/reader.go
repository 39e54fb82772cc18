package classfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxBlob bounds attribute and code lengths so a corrupt length cannot force
// a huge allocation.
const maxBlob = 16 << 20

// Visitor receives a class file as it is read. Returning ErrStop from any
// call ends reading without error; any other error aborts Accept.
type Visitor interface {
	Visit(h Header) error
	VisitAnnotation(a Annotation) error
	VisitTypeArgument(t TypeArgument) error
	VisitAttribute(a Attribute) error
	VisitField(f Field) error
	VisitMethod(m *Method) error
	VisitEnd() error
}

// BaseVisitor accepts everything. Embed it to implement only some calls.
type BaseVisitor struct{}

func (BaseVisitor) Visit(Header) error                   { return nil }
func (BaseVisitor) VisitAnnotation(Annotation) error     { return nil }
func (BaseVisitor) VisitTypeArgument(TypeArgument) error { return nil }
func (BaseVisitor) VisitAttribute(Attribute) error       { return nil }
func (BaseVisitor) VisitField(Field) error               { return nil }
func (BaseVisitor) VisitMethod(*Method) error            { return nil }
func (BaseVisitor) VisitEnd() error                      { return nil }

// Accept streams the class file from r into v.
func Accept(r io.Reader, v Visitor, flags int) error {
	cr := &reader{r: bufio.NewReader(r), flags: flags}
	err := cr.accept(v)
	if errors.Is(err, ErrStop) {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrMalformedClass)
	}
	return err
}

// Parse decodes a whole class file.
func Parse(data []byte) (*ClassFile, error) {
	c := &collector{cf: &ClassFile{}}
	if err := Accept(bytes.NewReader(data), c, 0); err != nil {
		return nil, err
	}
	return c.cf, nil
}

// ReadHeader reads only the header of a class file.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	err := Accept(r, &headerOnly{h: &h}, SkipCode|SkipDebug|SkipFrames)
	return h, err
}

type headerOnly struct {
	BaseVisitor
	h *Header
}

func (v *headerOnly) Visit(h Header) error {
	*v.h = h
	return ErrStop
}

type collector struct {
	cf *ClassFile
}

func (c *collector) Visit(h Header) error { c.cf.Header = h; return nil }

func (c *collector) VisitAnnotation(a Annotation) error {
	c.cf.Annotations = append(c.cf.Annotations, a)
	return nil
}

func (c *collector) VisitTypeArgument(t TypeArgument) error {
	c.cf.TypeArguments = append(c.cf.TypeArguments, t)
	return nil
}

func (c *collector) VisitAttribute(a Attribute) error {
	c.cf.Attributes = append(c.cf.Attributes, a)
	return nil
}

func (c *collector) VisitField(f Field) error {
	c.cf.Fields = append(c.cf.Fields, f)
	return nil
}

func (c *collector) VisitMethod(m *Method) error {
	c.cf.Methods = append(c.cf.Methods, m)
	return nil
}

func (c *collector) VisitEnd() error { return nil }

type reader struct {
	r     *bufio.Reader
	flags int
	pool  []string
}

func (r *reader) u1() (uint8, error) {
	return r.r.ReadByte()
}

func (r *reader) u2() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r *reader) u4() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *reader) blob(n uint32) ([]byte, error) {
	if n > maxBlob {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedClass, n)
	}
	b := make([]byte, n)
	_, err := io.ReadFull(r.r, b)
	return b, err
}

func (r *reader) skip(n uint32) error {
	if n > maxBlob {
		return fmt.Errorf("%w: length %d", ErrMalformedClass, n)
	}
	_, err := r.r.Discard(int(n))
	return err
}

func (r *reader) constant(i uint16) (string, error) {
	if i == 0 || int(i) > len(r.pool) {
		return "", fmt.Errorf("%w: constant %d out of range", ErrMalformedClass, i)
	}
	return r.pool[i-1], nil
}

func (r *reader) name() (string, error) {
	i, err := r.u2()
	if err != nil {
		return "", err
	}
	return r.constant(i)
}

func (r *reader) accept(v Visitor) error {
	magic, err := r.u4()
	if err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("%w: magic %#x", ErrBadMagic, magic)
	}
	var h Header
	if h.Minor, err = r.u2(); err != nil {
		return err
	}
	if h.Major, err = r.u2(); err != nil {
		return err
	}
	if h.Major != MajorVersion {
		return fmt.Errorf("%w: %d.%d", ErrUnsupported, h.Major, h.Minor)
	}
	if err := r.readPool(); err != nil {
		return err
	}

	if h.Access, err = r.u4(); err != nil {
		return err
	}
	if h.Name, err = r.name(); err != nil {
		return err
	}
	super, err := r.u2()
	if err != nil {
		return err
	}
	if super != 0 {
		if h.Super, err = r.constant(super); err != nil {
			return err
		}
	}
	n, err := r.u2()
	if err != nil {
		return err
	}
	for range n {
		name, err := r.name()
		if err != nil {
			return err
		}
		h.Interfaces = append(h.Interfaces, name)
	}
	if err := v.Visit(h); err != nil {
		return err
	}

	annotations, err := r.annotations()
	if err != nil {
		return err
	}
	for _, a := range annotations {
		if err := v.VisitAnnotation(a); err != nil {
			return err
		}
	}

	if err := r.classAttributes(v); err != nil {
		return err
	}

	if n, err = r.u2(); err != nil {
		return err
	}
	for range n {
		var f Field
		if f.Access, err = r.u4(); err != nil {
			return err
		}
		if f.Name, err = r.name(); err != nil {
			return err
		}
		if f.Desc, err = r.name(); err != nil {
			return err
		}
		if err := v.VisitField(f); err != nil {
			return err
		}
	}

	if n, err = r.u2(); err != nil {
		return err
	}
	for range n {
		m, err := r.method()
		if err != nil {
			return err
		}
		if err := v.VisitMethod(m); err != nil {
			return err
		}
	}
	return v.VisitEnd()
}

func (r *reader) readPool() error {
	n, err := r.u2()
	if err != nil {
		return err
	}
	r.pool = make([]string, 0, n)
	for range n {
		size, err := r.u2()
		if err != nil {
			return err
		}
		b, err := r.blob(uint32(size))
		if err != nil {
			return err
		}
		r.pool = append(r.pool, string(b))
	}
	return nil
}

func (r *reader) annotations() ([]Annotation, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	var as []Annotation
	for range n {
		var a Annotation
		if a.Type, err = r.name(); err != nil {
			return nil, err
		}
		visible, err := r.u1()
		if err != nil {
			return nil, err
		}
		a.Invisible = visible == 0
		m, err := r.u2()
		if err != nil {
			return nil, err
		}
		for range m {
			var e Element
			if e.Name, err = r.name(); err != nil {
				return nil, err
			}
			if e.Value, err = r.name(); err != nil {
				return nil, err
			}
			a.Values = append(a.Values, e)
		}
		as = append(as, a)
	}
	return as, nil
}

func (r *reader) dropped(name string) bool {
	switch name {
	case AttrSource, AttrLineNumbers:
		return r.flags&SkipDebug != 0
	case AttrStackMap:
		return r.flags&SkipFrames != 0
	}
	return false
}

func (r *reader) classAttributes(v Visitor) error {
	n, err := r.u2()
	if err != nil {
		return err
	}
	for range n {
		name, err := r.name()
		if err != nil {
			return err
		}
		size, err := r.u4()
		if err != nil {
			return err
		}
		if r.dropped(name) {
			if err := r.skip(size); err != nil {
				return err
			}
			continue
		}
		data, err := r.blob(size)
		if err != nil {
			return err
		}
		if name == AttrTypeArguments {
			args, err := r.typeArguments(data)
			if err != nil {
				return err
			}
			for _, t := range args {
				if err := v.VisitTypeArgument(t); err != nil {
					return err
				}
			}
			continue
		}
		if err := v.VisitAttribute(Attribute{Name: name, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) typeArguments(data []byte) ([]TypeArgument, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short %s attribute", ErrMalformedClass, AttrTypeArguments)
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) != 2+4*n {
		return nil, fmt.Errorf("%w: bad %s attribute", ErrMalformedClass, AttrTypeArguments)
	}
	args := make([]TypeArgument, 0, n)
	for i := range n {
		off := 2 + 4*i
		owner, err := r.constant(binary.BigEndian.Uint16(data[off:]))
		if err != nil {
			return nil, err
		}
		arg, err := r.constant(binary.BigEndian.Uint16(data[off+2:]))
		if err != nil {
			return nil, err
		}
		args = append(args, TypeArgument{Owner: owner, Arg: arg})
	}
	return args, nil
}

func (r *reader) method() (*Method, error) {
	m := &Method{}
	var err error
	if m.Access, err = r.u4(); err != nil {
		return nil, err
	}
	if m.Name, err = r.name(); err != nil {
		return nil, err
	}
	if m.Desc, err = r.name(); err != nil {
		return nil, err
	}
	if m.Annotations, err = r.annotations(); err != nil {
		return nil, err
	}
	stack, err := r.u2()
	if err != nil {
		return nil, err
	}
	locals, err := r.u2()
	if err != nil {
		return nil, err
	}
	m.MaxStack, m.MaxLocals = int(stack), int(locals)
	size, err := r.u4()
	if err != nil {
		return nil, err
	}
	if r.flags&SkipCode != 0 {
		if err := r.skip(size); err != nil {
			return nil, err
		}
	} else {
		if m.Code, err = r.blob(size); err != nil {
			return nil, err
		}
		if m.Instructions, err = r.decode(m.Code); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
	}
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	for range n {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		size, err := r.u4()
		if err != nil {
			return nil, err
		}
		if r.dropped(name) {
			if err := r.skip(size); err != nil {
				return nil, err
			}
			continue
		}
		data, err := r.blob(size)
		if err != nil {
			return nil, err
		}
		m.Attributes = append(m.Attributes, Attribute{Name: name, Data: data})
	}
	return m, nil
}

// decode resolves a method body into instructions.
func (r *reader) decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	at := func(i int) (string, error) {
		if i+2 > len(code) {
			return "", fmt.Errorf("%w: truncated operand", ErrMalformedClass)
		}
		return r.constant(binary.BigEndian.Uint16(code[i:]))
	}
	for pc := 0; pc < len(code); {
		op := Opcode(code[pc])
		kind, ok := op.operand()
		if !ok {
			return nil, fmt.Errorf("%w: %#x at %d", ErrUnknownOpcode, byte(op), pc)
		}
		in := Instruction{Op: op}
		pc++
		var err error
		switch kind {
		case operandVar:
			if pc >= len(code) {
				return nil, fmt.Errorf("%w: truncated operand", ErrMalformedClass)
			}
			in.Var = int(code[pc])
			pc++
		case operandConst:
			in.Const, err = at(pc)
			pc += 2
		case operandType:
			in.Desc, err = at(pc)
			pc += 2
		case operandMember:
			if in.Owner, err = at(pc); err == nil {
				if in.Name, err = at(pc + 2); err == nil {
					in.Desc, err = at(pc + 4)
				}
			}
			pc += 6
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}
