package leaf

import (
	"github.com/holiman/uint256"
)

// Folder evaluates operations on constants and simplifies algebraic
// identities. It returns nil for anything it cannot decide.
type Folder struct{}

// BinaryOp implements BinaryOps.
func (f *Folder) BinaryOp(op BinaryOp, lhs, rhs Value) Value {
	l, lok := lhs.(*ConstValue)
	r, rok := rhs.(*ConstValue)
	if lok && rok {
		if v, ok := foldBinary(op, l, r); ok {
			return v
		}
		return nil
	}

	if lok && l.Type.IsBitVector() {
		switch {
		case l.IsZero() && (op == OpAdd || op == OpAddUnchecked || op == OpBitOr || op == OpBitXor):
			return rhs
		case l.IsZero() && (op == OpMul || op == OpMulUnchecked || op == OpBitAnd):
			return l
		case l.IsOne() && (op == OpMul || op == OpMulUnchecked):
			return rhs
		case l.IsAllOnes() && op == OpBitAnd:
			return rhs
		}
	} else if rok && r.Type.IsBitVector() {
		switch {
		case r.IsZero() && (op == OpAdd || op == OpAddUnchecked || op == OpSub || op == OpSubUnchecked ||
			op == OpBitOr || op == OpBitXor || op == OpOffset || op.Base() == OpShl || op.Base() == OpShr ||
			op == OpRotateL || op == OpRotateR):
			return lhs
		case r.IsZero() && (op == OpMul || op == OpMulUnchecked || op == OpBitAnd):
			return r
		case r.IsOne() && (op == OpMul || op == OpMulUnchecked || op == OpDiv || op == OpDivExact):
			return lhs
		case r.IsAllOnes() && op == OpBitAnd:
			return lhs
		}
	}

	if !lok && !rok && CompareValue(lhs, rhs) == 0 {
		switch op {
		case OpEq, OpLe, OpGe:
			return NewBoolConst(true)
		case OpNe, OpLt, OpGt:
			return NewBoolConst(false)
		}
	}
	return nil
}

// UnaryOp implements UnaryOps.
func (f *Folder) UnaryOp(op UnaryOp, v Value) Value {
	if op == OpNoOp {
		return v
	}
	if c, ok := v.(*ConstValue); ok {
		if other, ok := foldUnary(op, c); ok {
			return other
		}
		return nil
	}

	// Double negation & complement cancel out.
	if e, ok := v.(*UnaryExpr); ok && e.Op == op && (op == OpNot || op == OpNeg || op == OpBitReverse || op == OpByteSwap) {
		return e.Operand
	}
	return nil
}

// IfThenElse implements TernaryOps.
func (f *Folder) IfThenElse(cond, then, els Value) Value {
	if c, ok := cond.(*ConstValue); ok {
		if c.IsTrue() {
			return then
		}
		return els
	} else if CompareValue(then, els) == 0 {
		return then
	}
	return nil
}

// Cast implements CastOps.
func (f *Folder) Cast(kind CastKind, v Value, target CastTarget) Value {
	c, ok := v.(*ConstValue)
	if !ok {
		return nil
	}

	switch kind {
	case CastToChar, CastToInt:
		if target.Type == nil || c.Type.Kind == TypeFloat {
			return nil
		}
		return c.Convert(*target.Type)
	case CastToPtr, CastExposeProvenance, CastWithExposedProvenance:
		if c.Type.Kind == TypeFloat {
			return nil
		}
		if kind == CastExposeProvenance {
			return c.Convert(UsizeType())
		}
		return NewAddrConst(c.Convert(UsizeType()).Uint64())
	case CastPtrUnsize, CastSizedDyn:
		if target.Metadata == nil {
			return nil
		}
		return &FatPtrValue{Addr: c, Metadata: target.Metadata, TypeID: target.TypeID}
	case CastTransmute:
		if target.Type == nil || target.Type.Width != c.Type.Width {
			return nil
		}
		return NewIntConstFromBits(&c.Bits, *target.Type)
	default:
		return nil
	}
}

// foldBinary computes op on two constants.
func foldBinary(op BinaryOp, l, r *ConstValue) (Value, bool) {
	if l.Type.Kind == TypeFloat {
		return l.FloatBinary(op.Base(), r)
	}

	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return NewBoolConst(l.Compare(op, r)), true
	case OpCmp:
		return l.Cmp(r), true

	case OpAdd, OpAddUnchecked:
		return l.Add(r), true
	case OpSub, OpSubUnchecked:
		return l.Sub(r), true
	case OpMul, OpMulUnchecked:
		return l.Mul(r), true
	case OpAddWithOverflow, OpSubWithOverflow, OpMulWithOverflow:
		v, _ := foldBinary(op.Base(), l, r)
		over, under := l.Overflows(op, r)
		return NewTupleValue(v, NewBoolConst(over || under)), true
	case OpAddSaturating, OpSubSaturating:
		if over, under := l.Overflows(op, r); over || under {
			return l.Saturate(over), true
		}
		return foldBinary(op.Base(), l, r)

	case OpDiv, OpDivExact:
		if r.IsZero() {
			return nil, false
		}
		return l.Div(r), true
	case OpRem:
		if r.IsZero() {
			return nil, false
		}
		return l.Rem(r), true

	case OpBitAnd:
		return l.And(r), true
	case OpBitOr:
		return l.Or(r), true
	case OpBitXor:
		return l.Xor(r), true

	case OpShl, OpShlUnchecked:
		return l.Shl(r), true
	case OpShr, OpShrUnchecked:
		return l.Shr(r), true
	case OpRotateL:
		return l.RotateL(r), true
	case OpRotateR:
		return l.RotateR(r), true

	case OpOffset:
		sum := new(uint256.Int).Add(&l.Bits, r.Convert(UsizeType()).extended())
		return NewAddrConst(NewIntConstFromBits(sum, UsizeType()).Uint64()), true
	default:
		return nil, false
	}
}

// foldUnary computes op on a constant.
func foldUnary(op UnaryOp, c *ConstValue) (Value, bool) {
	if c.Type.Kind == TypeFloat {
		if op == OpNeg {
			if f, ok := c.float64(); ok {
				return c.withFloat(-f), true
			}
		}
		return nil, false
	}

	switch op {
	case OpNoOp:
		return c, true
	case OpNot:
		if c.Kind == ConstBool {
			return NewBoolConst(!c.IsTrue()), true
		}
		return c.Not(), true
	case OpNeg:
		return c.Neg(), true
	case OpBitReverse:
		return c.BitReverse(), true
	case OpTrailingZeros, OpNonZeroTrailingZeros:
		return c.TrailingZeros(), true
	case OpLeadingZeros, OpNonZeroLeadingZeros:
		return c.LeadingZeros(), true
	case OpCountOnes:
		return c.CountOnes(), true
	case OpByteSwap:
		return c.ByteSwap(), true
	default:
		return nil, false
	}
}
