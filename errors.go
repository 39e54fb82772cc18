package kiss

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Container errors
var (
	// Resolution errors
	ErrIllegalArgument      = errors.New("illegal argument")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrTypeNotPresent       = errors.New("type not present")
	ErrClassCircularity     = errors.New("class circularity")
	ErrNoConstructor        = errors.New("no accessible constructor")
	ErrNotLifestyle         = errors.New("class does not implement kiss.Lifestyle")

	// Class loading errors
	ErrClassNotFound      = errors.New("class not found")
	ErrClassMismatch      = errors.New("class file does not match its binding")
	ErrDuplicateBinding   = errors.New("class name already bound to another type")
	ErrInvalidDeclaration = errors.New("invalid class declaration")
	ErrLoaderClosed       = errors.New("loader is closed")

	// Module errors
	ErrModuleMount = errors.New("cannot mount module")
	ErrModuleScan  = errors.New("cannot scan module")

	// Container errors
	ErrContainerClosed = errors.New("container is closed")
	ErrPreferenceIO    = errors.New("preference persistence failed")
)

// TypeNotPresentError reports an abstract type without any provider.
type TypeNotPresentError struct {
	Name string
}

func (e *TypeNotPresentError) Error() string {
	return fmt.Sprintf("%s: no implementation of %s is loaded", ErrTypeNotPresent, e.Name)
}

func (e *TypeNotPresentError) Unwrap() error { return ErrTypeNotPresent }

// ClassCircularityError reports a dependency chain deeper than the container
// allows. Trace lists each class of the chain once, outermost first.
type ClassCircularityError struct {
	Trace []string
}

func newClassCircularityError(stack []*Class) *ClassCircularityError {
	var trace []string
	for _, c := range stack {
		if !slices.Contains(trace, c.Name()) {
			trace = append(trace, c.Name())
		}
	}
	return &ClassCircularityError{Trace: trace}
}

func (e *ClassCircularityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrClassCircularity, strings.Join(e.Trace, " -> "))
}

func (e *ClassCircularityError) Unwrap() error { return ErrClassCircularity }
