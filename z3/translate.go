package z3

import (
	"fmt"
	"unsafe"

	"github.com/benbjohnson/leaf"
	"github.com/pkg/errors"
)

/*
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// translator converts leaf values into Z3 terms. Booleans use the bool
// sort; chars & integers use bit-vectors of their width.
type translator struct {
	ctx     *Context
	selects int // sequence for fresh select arrays
}

func newTranslator(ctx *Context) *translator {
	return &translator{ctx: ctx}
}

// malformed panics for values that cannot appear in a constraint.
func malformed(format string, args ...interface{}) {
	panic(errors.Wrapf(leaf.ErrMalformedExpr, format, args...))
}

// toBool returns v as a term of the boolean sort.
func (tr *translator) toBool(v leaf.Value) (C.Z3_ast, error) {
	ast, err := tr.toAST(v)
	if err != nil {
		return nil, err
	} else if !tr.ctx.isBool(ast) {
		malformed("constraint is not boolean: %s", v)
	}
	return ast, nil
}

// toAST returns a new instance of Z3_ast from a leaf value.
func (tr *translator) toAST(v leaf.Value) (C.Z3_ast, error) {
	switch v := v.(type) {
	case *leaf.ConstValue:
		return tr.toConstAST(v)
	case *leaf.SymVar:
		return tr.ctx.makeVar(v)
	case *leaf.UnaryExpr:
		return tr.toUnaryAST(v)
	case *leaf.BinaryExpr:
		return tr.toBinaryAST(v)
	case *leaf.BoundCheckExpr:
		return tr.toBoundCheckAST(v)
	case *leaf.ExtensionExpr:
		return tr.toExtensionAST(v)
	case *leaf.TruncationExpr:
		return tr.toTruncationAST(v)
	case *leaf.IteExpr:
		return tr.toIteAST(v)
	case *leaf.TransmuteExpr:
		return tr.toTransmuteAST(v)
	case *leaf.SelectExpr:
		return tr.toSelectAST(v)
	default:
		malformed("cannot translate %T: %s", v, v)
		return nil, nil
	}
}

func (tr *translator) toConstAST(c *leaf.ConstValue) (C.Z3_ast, error) {
	switch c.Kind {
	case leaf.ConstBool:
		if c.IsTrue() {
			return tr.ctx.makeTrue()
		}
		return tr.ctx.makeFalse()
	case leaf.ConstChar, leaf.ConstInt, leaf.ConstAddr:
		return tr.ctx.makeNumeral(c.Type.Width, &c.Bits)
	case leaf.ConstFloat:
		panic(errors.Wrapf(leaf.ErrUnsupported, "float constant %s", c))
	default:
		malformed("non-scalar constant: %s", c)
		return nil, nil
	}
}

// typeOf returns the type of v. Panic if it cannot be determined.
func typeOf(v leaf.Value) leaf.ValueType {
	t, ok := leaf.TypeOf(v)
	if !ok {
		malformed("untyped operand: %s", v)
	} else if t.Kind == leaf.TypeFloat {
		panic(errors.Wrapf(leaf.ErrUnsupported, "float operand %s", v))
	}
	return t
}

func (tr *translator) toUnaryAST(e *leaf.UnaryExpr) (C.Z3_ast, error) {
	src, err := tr.toAST(e.Operand)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case leaf.OpNoOp:
		return src, nil
	case leaf.OpNot:
		if tr.ctx.isBool(src) {
			return C.Z3_mk_not(tr.ctx.raw, src), tr.ctx.err("Z3_mk_not")
		}
		return C.Z3_mk_bvnot(tr.ctx.raw, src), tr.ctx.err("Z3_mk_bvnot")
	case leaf.OpNeg:
		return C.Z3_mk_bvneg(tr.ctx.raw, src), tr.ctx.err("Z3_mk_bvneg")
	case leaf.OpBitReverse:
		return tr.reverse(src, 1)
	case leaf.OpByteSwap:
		return tr.reverse(src, 8)
	case leaf.OpCountOnes:
		return tr.countOnes(src)
	case leaf.OpTrailingZeros, leaf.OpNonZeroTrailingZeros:
		return tr.countZeros(src, false)
	case leaf.OpLeadingZeros, leaf.OpNonZeroLeadingZeros:
		return tr.countZeros(src, true)
	default:
		malformed("unary operation %s: %s", e.Op, e)
		return nil, nil
	}
}

// extract returns bits [lo, lo+n) of src.
func (tr *translator) extract(src C.Z3_ast, lo, n uint) (C.Z3_ast, error) {
	return C.Z3_mk_extract(tr.ctx.raw, C.uint(lo+n-1), C.uint(lo), src), tr.ctx.err("Z3_mk_extract")
}

// reverse returns src with its chunks of the given bit size in reverse order.
func (tr *translator) reverse(src C.Z3_ast, chunk uint) (C.Z3_ast, error) {
	width := tr.ctx.bvSize(src)
	if width%chunk != 0 {
		malformed("cannot reverse %d-bit chunks of a %d-bit value", chunk, width)
	}

	// The lowest chunk becomes the most significant.
	ret, err := tr.extract(src, 0, chunk)
	if err != nil {
		return nil, err
	}
	for lo := chunk; lo < width; lo += chunk {
		part, err := tr.extract(src, lo, chunk)
		if err != nil {
			return nil, err
		}
		ret = C.Z3_mk_concat(tr.ctx.raw, ret, part)
		if err := tr.ctx.err("Z3_mk_concat"); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// bitSet returns a boolean term that is true if bit i of src is set.
func (tr *translator) bitSet(src C.Z3_ast, i uint) (C.Z3_ast, error) {
	bit, err := tr.extract(src, i, 1)
	if err != nil {
		return nil, err
	}
	one, err := tr.ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(tr.ctx.raw, bit, one), tr.ctx.err("Z3_mk_eq")
}

// countOnes returns the number of set bits of src as a u32 sum.
func (tr *translator) countOnes(src C.Z3_ast) (C.Z3_ast, error) {
	ret, err := tr.ctx.makeUint64(leaf.Width32, 0)
	if err != nil {
		return nil, err
	}
	for i, width := uint(0), tr.ctx.bvSize(src); i < width; i++ {
		bit, err := tr.extract(src, i, 1)
		if err != nil {
			return nil, err
		}
		ext := C.Z3_mk_zero_ext(tr.ctx.raw, leaf.Width32-1, bit)
		if err := tr.ctx.err("Z3_mk_zero_ext"); err != nil {
			return nil, err
		}
		ret = C.Z3_mk_bvadd(tr.ctx.raw, ret, ext)
		if err := tr.ctx.err("Z3_mk_bvadd"); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// countZeros returns the number of trailing, or leading, zero bits of src
// as a u32 built from an ite chain.
func (tr *translator) countZeros(src C.Z3_ast, leading bool) (C.Z3_ast, error) {
	width := tr.ctx.bvSize(src)
	ret, err := tr.ctx.makeUint64(leaf.Width32, uint64(width))
	if err != nil {
		return nil, err
	}

	// The bit closest to the counted end is tested last so it wins.
	for j := uint(0); j < width; j++ {
		i, count := width-1-j, width-1-j // trailing: bit i has i zeros below it
		if leading {
			i = j
		}
		cond, err := tr.bitSet(src, i)
		if err != nil {
			return nil, err
		}
		n, err := tr.ctx.makeUint64(leaf.Width32, uint64(count))
		if err != nil {
			return nil, err
		}
		ret = C.Z3_mk_ite(tr.ctx.raw, cond, n, ret)
		if err := tr.ctx.err("Z3_mk_ite"); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// resize zero-extends or truncates src to width bits.
func (tr *translator) resize(src C.Z3_ast, width uint) (C.Z3_ast, error) {
	switch n := tr.ctx.bvSize(src); {
	case n < width:
		return C.Z3_mk_zero_ext(tr.ctx.raw, C.uint(width-n), src), tr.ctx.err("Z3_mk_zero_ext")
	case n > width:
		return tr.extract(src, 0, width)
	default:
		return src, nil
	}
}

func (tr *translator) toBinaryAST(e *leaf.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := tr.toAST(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := tr.toAST(e.RHS)
	if err != nil {
		return nil, err
	}

	op := e.Op.Base()
	if op.IsShift() || op == leaf.OpOffset {
		if rhs, err = tr.resize(rhs, tr.ctx.bvSize(lhs)); err != nil {
			return nil, err
		}
	}

	raw := tr.ctx.raw
	isBool := tr.ctx.isBool(lhs)
	var signed bool
	if !isBool {
		signed = typeOf(e.LHS).Signed
	}

	switch op {
	case leaf.OpAdd, leaf.OpOffset:
		return C.Z3_mk_bvadd(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvadd")
	case leaf.OpSub:
		return C.Z3_mk_bvsub(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsub")
	case leaf.OpMul:
		return C.Z3_mk_bvmul(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvmul")
	case leaf.OpDiv:
		if signed {
			return C.Z3_mk_bvsdiv(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsdiv")
		}
		return C.Z3_mk_bvudiv(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvudiv")
	case leaf.OpRem:
		if signed {
			return C.Z3_mk_bvsrem(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsrem")
		}
		return C.Z3_mk_bvurem(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvurem")

	case leaf.OpBitAnd:
		if isBool {
			args := [2]C.Z3_ast{lhs, rhs}
			return C.Z3_mk_and(raw, 2, &args[0]), tr.ctx.err("Z3_mk_and")
		}
		return C.Z3_mk_bvand(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvand")
	case leaf.OpBitOr:
		if isBool {
			args := [2]C.Z3_ast{lhs, rhs}
			return C.Z3_mk_or(raw, 2, &args[0]), tr.ctx.err("Z3_mk_or")
		}
		return C.Z3_mk_bvor(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvor")
	case leaf.OpBitXor:
		if isBool {
			return C.Z3_mk_xor(raw, lhs, rhs), tr.ctx.err("Z3_mk_xor")
		}
		return C.Z3_mk_bvxor(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvxor")

	case leaf.OpShl:
		return C.Z3_mk_bvshl(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvshl")
	case leaf.OpShr:
		if signed {
			return C.Z3_mk_bvashr(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvashr")
		}
		return C.Z3_mk_bvlshr(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvlshr")
	case leaf.OpRotateL:
		return C.Z3_mk_ext_rotate_left(raw, lhs, rhs), tr.ctx.err("Z3_mk_ext_rotate_left")
	case leaf.OpRotateR:
		return C.Z3_mk_ext_rotate_right(raw, lhs, rhs), tr.ctx.err("Z3_mk_ext_rotate_right")

	case leaf.OpEq:
		return C.Z3_mk_eq(raw, lhs, rhs), tr.ctx.err("Z3_mk_eq")
	case leaf.OpNe:
		eq := C.Z3_mk_eq(raw, lhs, rhs)
		if err := tr.ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return tr.ctx.makeNot(eq)
	case leaf.OpLt, leaf.OpLe, leaf.OpGt, leaf.OpGe, leaf.OpCmp:
		if isBool {
			// Booleans order false before true.
			if lhs, err = tr.boolToBV(lhs); err != nil {
				return nil, err
			} else if rhs, err = tr.boolToBV(rhs); err != nil {
				return nil, err
			}
		}
		if op == leaf.OpCmp {
			return tr.toCmpAST(lhs, rhs, signed)
		}
		return tr.compare(op, lhs, rhs, signed)

	default:
		malformed("binary operation %s: %s", e.Op, e)
		return nil, nil
	}
}

func (tr *translator) compare(op leaf.BinaryOp, lhs, rhs C.Z3_ast, signed bool) (C.Z3_ast, error) {
	raw := tr.ctx.raw
	switch {
	case op == leaf.OpLt && signed:
		return C.Z3_mk_bvslt(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvslt")
	case op == leaf.OpLt:
		return C.Z3_mk_bvult(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvult")
	case op == leaf.OpLe && signed:
		return C.Z3_mk_bvsle(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsle")
	case op == leaf.OpLe:
		return C.Z3_mk_bvule(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvule")
	case op == leaf.OpGt && signed:
		return C.Z3_mk_bvsgt(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsgt")
	case op == leaf.OpGt:
		return C.Z3_mk_bvugt(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvugt")
	case op == leaf.OpGe && signed:
		return C.Z3_mk_bvsge(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvsge")
	default:
		return C.Z3_mk_bvuge(raw, lhs, rhs), tr.ctx.err("Z3_mk_bvuge")
	}
}

// toCmpAST returns -1, 0 or 1 as an i8.
func (tr *translator) toCmpAST(lhs, rhs C.Z3_ast, signed bool) (C.Z3_ast, error) {
	lt, err := tr.compare(leaf.OpLt, lhs, rhs, signed)
	if err != nil {
		return nil, err
	}
	eq := C.Z3_mk_eq(tr.ctx.raw, lhs, rhs)
	if err := tr.ctx.err("Z3_mk_eq"); err != nil {
		return nil, err
	}

	less, err := tr.ctx.makeUint64(leaf.Width8, 0xff)
	if err != nil {
		return nil, err
	}
	equal, err := tr.ctx.makeUint64(leaf.Width8, 0)
	if err != nil {
		return nil, err
	}
	greater, err := tr.ctx.makeUint64(leaf.Width8, 1)
	if err != nil {
		return nil, err
	}

	inner := C.Z3_mk_ite(tr.ctx.raw, eq, equal, greater)
	if err := tr.ctx.err("Z3_mk_ite"); err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(tr.ctx.raw, lt, less, inner), tr.ctx.err("Z3_mk_ite")
}

// boolToBV converts a boolean term to a 1-bit vector.
func (tr *translator) boolToBV(src C.Z3_ast) (C.Z3_ast, error) {
	return tr.ite(src, 1, 0, 1)
}

// ite returns a bit-vector of width set to then when cond holds and to els otherwise.
func (tr *translator) ite(cond C.Z3_ast, then, els uint64, width uint) (C.Z3_ast, error) {
	t, err := tr.ctx.makeUint64(width, then)
	if err != nil {
		return nil, err
	}
	e, err := tr.ctx.makeUint64(width, els)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(tr.ctx.raw, cond, t, e), tr.ctx.err("Z3_mk_ite")
}

// toBoundCheckAST returns a term that is true when the operation leaves the
// range of the operand type.
func (tr *translator) toBoundCheckAST(e *leaf.BoundCheckExpr) (C.Z3_ast, error) {
	lhs, err := tr.toAST(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := tr.toAST(e.RHS)
	if err != nil {
		return nil, err
	}
	signed := typeOf(e.LHS).Signed
	raw := tr.ctx.raw

	// Checks that cannot fail for unsigned operands.
	if !signed && (e.Op == leaf.OpSub) == e.Overflow {
		return tr.ctx.makeFalse()
	}

	var ok C.Z3_ast
	switch {
	case e.Op == leaf.OpAdd && e.Overflow:
		ok = C.Z3_mk_bvadd_no_overflow(raw, lhs, rhs, C.bool(signed))
	case e.Op == leaf.OpAdd:
		ok = C.Z3_mk_bvadd_no_underflow(raw, lhs, rhs)
	case e.Op == leaf.OpSub && e.Overflow:
		ok = C.Z3_mk_bvsub_no_overflow(raw, lhs, rhs)
	case e.Op == leaf.OpSub:
		ok = C.Z3_mk_bvsub_no_underflow(raw, lhs, rhs, C.bool(signed))
	case e.Op == leaf.OpMul && e.Overflow:
		ok = C.Z3_mk_bvmul_no_overflow(raw, lhs, rhs, C.bool(signed))
	case e.Op == leaf.OpMul:
		ok = C.Z3_mk_bvmul_no_underflow(raw, lhs, rhs)
	default:
		malformed("bound check of %s", e.Op)
	}
	if err := tr.ctx.err("Z3_mk_bv_no_overflow"); err != nil {
		return nil, err
	}
	return tr.ctx.makeNot(ok)
}

func (tr *translator) toExtensionAST(e *leaf.ExtensionExpr) (C.Z3_ast, error) {
	src, err := tr.toAST(e.Source)
	if err != nil {
		return nil, err
	}

	// Convert boolean extension to if-then-else expression.
	if tr.ctx.isBool(src) {
		return tr.ite(src, 1, 0, e.Type.Width)
	}

	n := tr.ctx.bvSize(src)
	if n > e.Type.Width {
		malformed("extension to a narrower type: %s", e)
	}
	if e.Signed {
		return C.Z3_mk_sign_ext(tr.ctx.raw, C.uint(e.Type.Width-n), src), tr.ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(tr.ctx.raw, C.uint(e.Type.Width-n), src), tr.ctx.err("Z3_mk_zero_ext")
}

func (tr *translator) toTruncationAST(e *leaf.TruncationExpr) (C.Z3_ast, error) {
	src, err := tr.toAST(e.Source)
	if err != nil {
		return nil, err
	}
	if e.Type.Kind == leaf.TypeBool {
		return tr.bitSet(src, 0)
	}
	return tr.extract(src, 0, e.Type.Width)
}

func (tr *translator) toIteAST(e *leaf.IteExpr) (C.Z3_ast, error) {
	cond, err := tr.toBool(e.Cond)
	if err != nil {
		return nil, err
	}
	then, err := tr.toAST(e.Then)
	if err != nil {
		return nil, err
	}
	els, err := tr.toAST(e.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(tr.ctx.raw, cond, then, els), tr.ctx.err("Z3_mk_ite")
}

// toTransmuteAST reinterprets the bits of the source. Only same-width
// scalar reinterpretations are expressible.
func (tr *translator) toTransmuteAST(e *leaf.TransmuteExpr) (C.Z3_ast, error) {
	src, err := tr.toAST(e.Source)
	if err != nil {
		return nil, err
	}

	switch srcBool := tr.ctx.isBool(src); {
	case srcBool && e.Type.Kind == leaf.TypeBool:
		return src, nil
	case srcBool:
		return tr.ite(src, 1, 0, e.Type.Width)
	case e.Type.Kind == leaf.TypeBool:
		return tr.bitSet(src, 0)
	case e.Type.Kind == leaf.TypeFloat:
		panic(errors.Wrapf(leaf.ErrUnsupported, "transmute to float: %s", e))
	}

	if n := tr.ctx.bvSize(src); n != e.Type.Width {
		malformed("transmute between widths %d and %d: %s", n, e.Type.Width, e)
	}
	return src, nil
}

// toSelectAST stores each candidate in a fresh array at its position and
// reads the array at the index.
func (tr *translator) toSelectAST(e *leaf.SelectExpr) (C.Z3_ast, error) {
	index, err := tr.toAST(e.Index)
	if err != nil {
		return nil, err
	}
	if index, err = tr.resize(index, leaf.Width64); err != nil {
		return nil, err
	}

	candidates := make([]C.Z3_ast, len(e.Candidates))
	for i, c := range e.Candidates {
		if candidates[i], err = tr.toAST(c); err != nil {
			return nil, err
		}
	}

	domain, err := tr.ctx.makeBVSort(leaf.Width64)
	if err != nil {
		return nil, err
	}
	rng := C.Z3_get_sort(tr.ctx.raw, candidates[0])
	if err := tr.ctx.err("Z3_get_sort"); err != nil {
		return nil, err
	}
	sort := C.Z3_mk_array_sort(tr.ctx.raw, domain, rng)
	if err := tr.ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	tr.selects++
	cname := C.CString(fmt.Sprintf("pvs%d", tr.selects))
	defer C.free(unsafe.Pointer(cname))
	array := C.Z3_mk_const(tr.ctx.raw, C.Z3_mk_string_symbol(tr.ctx.raw, cname), sort)
	if err := tr.ctx.err("Z3_mk_const"); err != nil {
		return nil, err
	}

	for i, c := range candidates {
		pos, err := tr.ctx.makeUint64(leaf.Width64, uint64(i))
		if err != nil {
			return nil, err
		}
		array = C.Z3_mk_store(tr.ctx.raw, array, pos, c)
		if err := tr.ctx.err("Z3_mk_store"); err != nil {
			return nil, err
		}
	}
	return C.Z3_mk_select(tr.ctx.raw, array, index), tr.ctx.err("Z3_mk_select")
}
