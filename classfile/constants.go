// Package classfile reads and writes the binary class descriptors that kiss
// modules ship and that the enhancer generates.
//
// A class file is a big-endian stream: magic, version, a constant pool of
// UTF-8 strings, the class header, annotations, attributes, fields and
// methods. Method bodies use a small stack-machine instruction set that the
// kiss interpreter executes.
package classfile

import "fmt"

// Magic is the first word of every class file ("KISS").
const Magic uint32 = 0x4B495353

// Version of the format written by Writer.
const (
	MajorVersion uint16 = 1
	MinorVersion uint16 = 0
)

// Access flags.
const (
	AccPublic     uint32 = 0x0001
	AccPrivate    uint32 = 0x0002
	AccProtected  uint32 = 0x0004
	AccStatic     uint32 = 0x0008
	AccFinal      uint32 = 0x0010
	AccSuper      uint32 = 0x0020
	AccTransient  uint32 = 0x0080
	AccInterface  uint32 = 0x0200
	AccAbstract   uint32 = 0x0400
	AccSynthetic  uint32 = 0x1000
	AccAnnotation uint32 = 0x2000
	AccEnum       uint32 = 0x4000
	AccLocal      uint32 = 0x8000
	AccDeprecated uint32 = 0x20000
)

var flagNames = []struct {
	flag uint32
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSuper, "super"},
	{AccTransient, "transient"},
	{AccInterface, "interface"},
	{AccAbstract, "abstract"},
	{AccSynthetic, "synthetic"},
	{AccAnnotation, "annotation"},
	{AccEnum, "enum"},
	{AccLocal, "local"},
	{AccDeprecated, "deprecated"},
}

// FlagNames renders access flags as their keyword names.
func FlagNames(access uint32) []string {
	var names []string
	for _, f := range flagNames {
		if access&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// ParseFlag returns the access flag for a keyword name.
func ParseFlag(name string) (uint32, error) {
	for _, f := range flagNames {
		if f.name == name {
			return f.flag, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
}

// Attribute names understood by the reader.
const (
	AttrTypeArguments = "TypeArguments"
	AttrSource        = "Source"
	AttrLineNumbers   = "LineNumbers"
	AttrStackMap      = "StackMap"
)

// Reader flags.
const (
	// SkipCode leaves method bodies unread.
	SkipCode = 1 << iota
	// SkipDebug drops Source and LineNumbers attributes.
	SkipDebug
	// SkipFrames drops StackMap attributes.
	SkipFrames
)

// Writer flags.
const (
	// ComputeMaxs derives max stack and max locals from the emitted code,
	// ignoring the values passed to MethodVisitor.VisitMaxs.
	ComputeMaxs = 1 << iota
)

// Opcode is a single instruction of a method body.
type Opcode byte

// Instruction set.
const (
	NOP           Opcode = 0x00
	ACONST_NULL   Opcode = 0x01
	LDC           Opcode = 0x12
	LOAD          Opcode = 0x19
	STORE         Opcode = 0x3a
	POP           Opcode = 0x57
	DUP           Opcode = 0x59
	ARETURN       Opcode = 0xb0
	RETURN        Opcode = 0xb1
	GETFIELD      Opcode = 0xb4
	PUTFIELD      Opcode = 0xb5
	INVOKESPECIAL Opcode = 0xb7
	INVOKESTATIC  Opcode = 0xb8
	NEW           Opcode = 0xbb
	BOX           Opcode = 0xc0
	UNBOX         Opcode = 0xc1
	ZERO          Opcode = 0xc2
)

var opcodeNames = map[Opcode]string{
	NOP:           "NOP",
	ACONST_NULL:   "ACONST_NULL",
	LDC:           "LDC",
	LOAD:          "LOAD",
	STORE:         "STORE",
	POP:           "POP",
	DUP:           "DUP",
	ARETURN:       "ARETURN",
	RETURN:        "RETURN",
	GETFIELD:      "GETFIELD",
	PUTFIELD:      "PUTFIELD",
	INVOKESPECIAL: "INVOKESPECIAL",
	INVOKESTATIC:  "INVOKESTATIC",
	NEW:           "NEW",
	BOX:           "BOX",
	UNBOX:         "UNBOX",
	ZERO:          "ZERO",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OP_%02x", byte(o))
}

type operandKind int

const (
	operandNone operandKind = iota
	operandVar
	operandConst
	operandType
	operandMember
)

func (o Opcode) operand() (operandKind, bool) {
	switch o {
	case NOP, ACONST_NULL, POP, DUP, ARETURN, RETURN:
		return operandNone, true
	case LOAD, STORE:
		return operandVar, true
	case LDC:
		return operandConst, true
	case NEW, BOX, UNBOX, ZERO:
		return operandType, true
	case GETFIELD, PUTFIELD, INVOKESPECIAL, INVOKESTATIC:
		return operandMember, true
	}
	return operandNone, false
}
