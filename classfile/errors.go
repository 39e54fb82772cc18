package classfile

import "errors"

var (
	// ErrStop is returned by a Visitor to end reading early. Accept treats it
	// as a clean finish.
	ErrStop = errors.New("classfile: stop")

	ErrMalformedClass  = errors.New("malformed class file")
	ErrBadMagic        = errors.New("not a class file")
	ErrUnsupported     = errors.New("unsupported class file version")
	ErrBadDescriptor   = errors.New("malformed descriptor")
	ErrUnknownFlag     = errors.New("unknown access flag")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrStackUnderflow  = errors.New("operand stack underflow")
	ErrPoolOverflow    = errors.New("constant pool overflow")
	ErrVisitorFinished = errors.New("visitor already finished")
)
