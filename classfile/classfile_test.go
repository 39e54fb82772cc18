package classfile

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personClass(t *testing.T) []byte {
	t.Helper()
	w := NewWriter(ComputeMaxs)
	w.Visit(Header{Access: AccPublic | AccSuper | AccSynthetic, Name: "app.Person+", Super: "app.Person", Interfaces: []string{"kiss.Serializable"}})
	w.VisitAnnotation(Annotation{Type: "kiss.Manageable", Values: []Element{{Name: "lifestyle", Value: "kiss.Singleton"}}})
	w.VisitTypeArgument(TypeArgument{Owner: "kiss.Lifestyle", Arg: "app.Person"})
	w.VisitAttribute(Attribute{Name: AttrSource, Data: []byte("person.go")})
	w.VisitField(Field{Access: AccPrivate | AccTransient, Name: "context", Desc: "Lkiss.Context;"})

	m := w.VisitMethod(AccPublic, "SetName", MethodDescriptor(Void, "T"))
	m.VisitAnnotation(Annotation{Type: "app.CheckNull"})
	m.VarInsn(LOAD, 0)
	m.LdcInsn("Name")
	m.VarInsn(LOAD, 1)
	m.TypeInsn(BOX, "T")
	m.MethodInsn(INVOKESTATIC, "kiss.Interceptor", "invoke", "(Lany;TLany;)Lany;")
	m.Insn(POP)
	m.Insn(RETURN)
	m.VisitMaxs(0, 0)
	m.VisitEnd()
	w.VisitEnd()

	data, err := w.Bytes()
	require.NoError(t, err)
	return data
}

func TestWriterReaderRoundTrip(t *testing.T) {
	cf, err := Parse(personClass(t))
	require.NoError(t, err)

	assert.Equal(t, "app.Person+", cf.Name)
	assert.Equal(t, "app.Person", cf.Super)
	assert.Equal(t, []string{"kiss.Serializable"}, cf.Interfaces)
	assert.True(t, cf.Is(AccPublic|AccSynthetic))
	assert.Equal(t, MajorVersion, cf.Major)

	require.Len(t, cf.Annotations, 1)
	v, ok := cf.Annotations[0].Value("lifestyle")
	assert.True(t, ok)
	assert.Equal(t, "kiss.Singleton", v)
	assert.False(t, cf.Annotations[0].Invisible)

	assert.Equal(t, []TypeArgument{{Owner: "kiss.Lifestyle", Arg: "app.Person"}}, cf.TypeArguments)
	require.Len(t, cf.Attributes, 1)
	assert.Equal(t, AttrSource, cf.Attributes[0].Name)
	require.Len(t, cf.Fields, 1)
	assert.Equal(t, "context", cf.Fields[0].Name)

	m := cf.Method("SetName")
	require.NotNil(t, m)
	assert.Equal(t, 3, m.MaxStack)
	assert.Equal(t, 2, m.MaxLocals)
	require.Len(t, m.Annotations, 1)
	assert.Equal(t, "app.CheckNull", m.Annotations[0].Type)

	var ops []Opcode
	for _, in := range m.Instructions {
		ops = append(ops, in.Op)
	}
	assert.Equal(t, []Opcode{LOAD, LDC, LOAD, BOX, INVOKESTATIC, POP, RETURN}, ops)
	assert.Equal(t, "Name", m.Instructions[1].Const)
	assert.Equal(t, "kiss.Interceptor", m.Instructions[4].Owner)
	assert.Equal(t, "invoke", m.Instructions[4].Name)
}

type recorder struct {
	BaseVisitor
	calls []string
	stop  string
}

func (r *recorder) step(name string) error {
	r.calls = append(r.calls, name)
	if name == r.stop {
		return ErrStop
	}
	return nil
}

func (r *recorder) Visit(Header) error                   { return r.step("visit") }
func (r *recorder) VisitAnnotation(Annotation) error     { return r.step("annotation") }
func (r *recorder) VisitTypeArgument(TypeArgument) error { return r.step("typeArgument") }
func (r *recorder) VisitAttribute(Attribute) error       { return r.step("attribute") }
func (r *recorder) VisitField(Field) error               { return r.step("field") }
func (r *recorder) VisitEnd() error                      { return r.step("end") }

func (r *recorder) VisitMethod(m *Method) error {
	if m.Code != nil {
		return r.step("method+code")
	}
	return r.step("method")
}

func TestAcceptStopsEarly(t *testing.T) {
	rec := &recorder{stop: "annotation"}
	require.NoError(t, Accept(bytes.NewReader(personClass(t)), rec, 0))
	assert.Equal(t, []string{"visit", "annotation"}, rec.calls)
}

func TestAcceptSkipFlags(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, Accept(bytes.NewReader(personClass(t)), rec, SkipCode|SkipDebug|SkipFrames))
	assert.Equal(t, []string{"visit", "annotation", "typeArgument", "field", "method", "end"}, rec.calls)

	rec = &recorder{}
	require.NoError(t, Accept(bytes.NewReader(personClass(t)), rec, 0))
	assert.Equal(t, []string{"visit", "annotation", "typeArgument", "attribute", "field", "method+code", "end"}, rec.calls)
}

func TestReadHeader(t *testing.T) {
	h, err := ReadHeader(bytes.NewReader(personClass(t)))
	require.NoError(t, err)
	assert.Equal(t, "app.Person+", h.Name)
}

func TestAcceptRejectsMalformedInput(t *testing.T) {
	data := personClass(t)

	_, err := Parse([]byte("not a class"))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Parse(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrMalformedClass)

	bumped := bytes.Clone(data)
	bumped[7] = 9
	_, err = Parse(bumped)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestWriterReportsStackUnderflow(t *testing.T) {
	w := NewWriter(ComputeMaxs)
	w.Visit(Header{Access: AccPublic | AccSuper, Name: "app.Broken"})
	m := w.VisitMethod(AccPublic, "Run", MethodDescriptor(Void))
	m.Insn(POP)
	m.VisitEnd()
	_, err := w.Bytes()
	assert.ErrorIs(t, err, ErrStackUnderflow)
}

func TestWriterRequiresName(t *testing.T) {
	_, err := NewWriter(0).Bytes()
	assert.ErrorIs(t, err, ErrMalformedClass)
}

func TestDescriptor(t *testing.T) {
	type celsius float64
	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeFor[string](), "T"},
		{reflect.TypeFor[int](), "N"},
		{reflect.TypeFor[int64](), "J"},
		{reflect.TypeFor[bool](), "Z"},
		{reflect.TypeFor[[]string](), "[T"},
		{reflect.TypeFor[celsius](), "Lclassfile.celsius;"},
		{reflect.TypeFor[time.Duration](), "Ltime.Duration;"},
		{reflect.TypeFor[any](), "Lany;"},
		{reflect.TypeFor[map[string]int](), "Lmap[string]int;"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Descriptor(tt.typ), tt.typ.String())
	}

	typ, ok := BasicType("J")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[int64](), typ)
	_, ok = BasicType("Lany;")
	assert.False(t, ok)
}

func TestParseMethodDescriptor(t *testing.T) {
	params, ret, err := ParseMethodDescriptor("(Lany;T[JLkiss.Class;)V")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lany;", "T", "[J", "Lkiss.Class;"}, params)
	assert.Equal(t, Void, ret)

	_, _, err = ParseMethodDescriptor("(Q)V")
	assert.ErrorIs(t, err, ErrBadDescriptor)
	_, _, err = ParseMethodDescriptor("T")
	assert.ErrorIs(t, err, ErrBadDescriptor)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "app/model/Person.class", FileName("app.model.Person"))
	assert.Equal(t, "app.model.Person", NameOf("app/model/Person.class"))
}

func TestDeclAccess(t *testing.T) {
	access, err := Decl{Name: "a.B"}.Access()
	require.NoError(t, err)
	assert.Equal(t, AccPublic|AccSuper, access)

	access, err = Decl{Name: "a.I", Flags: []string{"interface"}}.Access()
	require.NoError(t, err)
	assert.Equal(t, AccPublic|AccInterface|AccAbstract, access)

	access, err = Decl{Name: "a.P", Flags: []string{"private"}}.Access()
	require.NoError(t, err)
	assert.Equal(t, AccPrivate|AccSuper, access)

	_, err = Decl{Name: "a.X", Flags: []string{"sealed"}}.Access()
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestManifest(t *testing.T) {
	src := `
classes:
  - name: app.Greeter
    flags: [interface]
    interfaces: [kiss.Extensible]
  - name: app.English
    interfaces: [app.Greeter]
    annotations:
      - type: kiss.Manageable
        values:
          - {name: lifestyle, value: kiss.Singleton}
    typeArguments:
      - {owner: app.Greeter, arg: app.Locale}
`
	m, err := ReadManifest(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, m.Classes, 2)

	dir := t.TempDir()
	require.NoError(t, m.WriteDir(dir))

	data, err := os.ReadFile(filepath.Join(dir, "app", "English.class"))
	require.NoError(t, err)
	cf, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "app.English", cf.Name)
	assert.Equal(t, []string{"app.Greeter"}, cf.Interfaces)
	assert.Equal(t, []TypeArgument{{Owner: "app.Greeter", Arg: "app.Locale"}}, cf.TypeArguments)

	_, err = ReadManifest(strings.NewReader("classes:\n  - super: x\n"))
	assert.ErrorIs(t, err, ErrMalformedClass)
}

func TestDump(t *testing.T) {
	cf, err := Parse(personClass(t))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, cf))
	out := buf.String()
	assert.Contains(t, out, "class app.Person+")
	assert.Contains(t, out, "@kiss.Manageable(lifestyle=kiss.Singleton)")
	assert.Contains(t, out, `LDC "Name"`)
	assert.Contains(t, out, "INVOKESTATIC kiss.Interceptor.invoke")
}
