package leaf

import (
	"fmt"
)

// BinaryOp represents a binary operation applied by the program.
type BinaryOp int

// Binary operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	OpAdd
	OpAddUnchecked
	OpAddWithOverflow
	OpAddSaturating
	OpSub
	OpSubUnchecked
	OpSubWithOverflow
	OpSubSaturating
	OpMul
	OpMulUnchecked
	OpMulWithOverflow
	OpDiv
	OpDivExact
	OpRem
	OpBitXor
	OpBitAnd
	OpBitOr
	OpShl
	OpShlUnchecked
	OpShr
	OpShrUnchecked
	OpRotateL
	OpRotateR
	OpOffset // pointer plus a byte count
	arithmetic_op_end

	compare_op_begin
	OpEq
	OpLt
	OpLe
	OpNe
	OpGe
	OpGt
	compare_op_end

	// OpCmp returns -1, 0 or 1 as an i8.
	OpCmp
)

var binaryOps = [...]string{
	OpAdd:             "add",
	OpAddUnchecked:    "add_unchecked",
	OpAddWithOverflow: "add_with_overflow",
	OpAddSaturating:   "add_saturating",
	OpSub:             "sub",
	OpSubUnchecked:    "sub_unchecked",
	OpSubWithOverflow: "sub_with_overflow",
	OpSubSaturating:   "sub_saturating",
	OpMul:             "mul",
	OpMulUnchecked:    "mul_unchecked",
	OpMulWithOverflow: "mul_with_overflow",
	OpDiv:             "div",
	OpDivExact:        "div_exact",
	OpRem:             "rem",
	OpBitXor:          "xor",
	OpBitAnd:          "and",
	OpBitOr:           "or",
	OpShl:             "shl",
	OpShlUnchecked:    "shl_unchecked",
	OpShr:             "shr",
	OpShrUnchecked:    "shr_unchecked",
	OpRotateL:         "rotate_left",
	OpRotateR:         "rotate_right",
	OpOffset:          "offset",
	OpEq:              "eq",
	OpLt:              "lt",
	OpLe:              "le",
	OpNe:              "ne",
	OpGe:              "ge",
	OpGt:              "gt",
	OpCmp:             "cmp",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// ParseBinaryOp returns the operation with the given name.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	for i, name := range binaryOps {
		if name != "" && name == s {
			return BinaryOp(i), true
		}
	}
	return 0, false
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// IsShift returns true if op shifts or rotates its left operand.
func (op BinaryOp) IsShift() bool {
	switch op {
	case OpShl, OpShlUnchecked, OpShr, OpShrUnchecked, OpRotateL, OpRotateR:
		return true
	default:
		return false
	}
}

// Base returns the operation without its overflow handling variant.
func (op BinaryOp) Base() BinaryOp {
	switch op {
	case OpAddUnchecked, OpAddWithOverflow, OpAddSaturating:
		return OpAdd
	case OpSubUnchecked, OpSubWithOverflow, OpSubSaturating:
		return OpSub
	case OpMulUnchecked, OpMulWithOverflow:
		return OpMul
	case OpDivExact:
		return OpDiv
	case OpShlUnchecked:
		return OpShl
	case OpShrUnchecked:
		return OpShr
	default:
		return op
	}
}

// Swapped returns the comparison obtained by swapping operands.
func (op BinaryOp) Swapped() BinaryOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

// UnaryOp represents an operation on a single operand.
type UnaryOp int

// Unary operations.
const (
	OpNoOp = UnaryOp(iota)
	OpNot
	OpNeg
	OpPtrMetadata
	OpBitReverse
	OpNonZeroTrailingZeros
	OpTrailingZeros
	OpCountOnes
	OpNonZeroLeadingZeros
	OpLeadingZeros
	OpByteSwap
)

var unaryOps = [...]string{
	OpNoOp:                 "no_op",
	OpNot:                  "not",
	OpNeg:                  "neg",
	OpPtrMetadata:          "ptr_metadata",
	OpBitReverse:           "bit_reverse",
	OpNonZeroTrailingZeros: "trailing_zeros_nonzero",
	OpTrailingZeros:        "trailing_zeros",
	OpCountOnes:            "count_ones",
	OpNonZeroLeadingZeros:  "leading_zeros_nonzero",
	OpLeadingZeros:         "leading_zeros",
	OpByteSwap:             "byte_swap",
}

// String returns the string representation of the operation.
func (op UnaryOp) String() string {
	if op >= 0 && op < UnaryOp(len(unaryOps)) && unaryOps[op] != "" {
		return unaryOps[op]
	}
	return fmt.Sprintf("UnaryOp<%d>", op)
}

// IsCount returns true if the operation counts bits and yields a u32.
func (op UnaryOp) IsCount() bool {
	switch op {
	case OpNonZeroTrailingZeros, OpTrailingZeros, OpCountOnes, OpNonZeroLeadingZeros, OpLeadingZeros:
		return true
	default:
		return false
	}
}

// CastKind represents the kind of a cast.
type CastKind int

// Cast kinds.
const (
	CastToChar = CastKind(iota)
	CastToInt
	CastToFloat
	CastToPtr
	CastPtrUnsize
	CastExposeProvenance
	CastWithExposedProvenance
	CastSizedDyn
	CastTransmute
)

var castKinds = [...]string{
	CastToChar:                "to_char",
	CastToInt:                 "to_int",
	CastToFloat:               "to_float",
	CastToPtr:                 "to_ptr",
	CastPtrUnsize:             "ptr_unsize",
	CastExposeProvenance:      "expose_prov",
	CastWithExposedProvenance: "with_exposed_prov",
	CastSizedDyn:              "sized_dyn",
	CastTransmute:             "transmute",
}

// String returns the string representation of the cast kind.
func (k CastKind) String() string {
	if k >= 0 && k < CastKind(len(castKinds)) && castKinds[k] != "" {
		return castKinds[k]
	}
	return fmt.Sprintf("CastKind<%d>", k)
}

// AssertKind represents the runtime check guarded by an assertion.
type AssertKind int

// Assertion kinds.
const (
	AssertBoundsCheck = AssertKind(iota)
	AssertOverflow
	AssertOverflowNeg
	AssertDivisionByZero
	AssertRemainderByZero
	AssertMisalignedPointerDereference
)

var assertKinds = [...]string{
	AssertBoundsCheck:                  "bounds_check",
	AssertOverflow:                     "overflow",
	AssertOverflowNeg:                  "overflow_neg",
	AssertDivisionByZero:               "division_by_zero",
	AssertRemainderByZero:              "remainder_by_zero",
	AssertMisalignedPointerDereference: "misaligned_pointer_dereference",
}

// String returns the string representation of the assertion kind.
func (k AssertKind) String() string {
	if k >= 0 && k < AssertKind(len(assertKinds)) && assertKinds[k] != "" {
		return assertKinds[k]
	}
	return fmt.Sprintf("AssertKind<%d>", k)
}
