package leaf

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128

	// PointerWidth is the width of addresses, lengths & indices.
	PointerWidth = Width64

	// CharWidth is the width of a unicode scalar value.
	CharWidth = Width32
)

// Engine errors. Fatal conditions are raised as panics that wrap one of
// these so that callers recovering from them can match with errors.Is().
var (
	ErrMissingArgMetadata = errors.New("argument metadata missing")
	ErrCallStack          = errors.New("inconsistent call stack")
	ErrMergeWrite         = errors.New("merge-write into non-deterministic region")
	ErrExternalCall       = errors.New("call into external function")
	ErrUnsupported        = errors.New("unsupported")
	ErrMalformedExpr      = errors.New("malformed expression")
	ErrTypeNotFound       = errors.New("type not found")
	ErrInvalidPlace       = errors.New("invalid place")
	ErrInvalidOperand     = errors.New("invalid operand")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

// fatalf panics with err annotated by the formatted message.
func fatalf(err error, format string, args ...interface{}) {
	panic(errors.Wrapf(err, format, args...))
}
