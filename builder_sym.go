package leaf

import (
	"github.com/holiman/uint256"
)

// SymBuilder builds expression nodes. It is the last builder of a chain and
// expects at least one symbolic operand.
type SymBuilder struct{}

// BinaryOp implements BinaryOps.
func (b *SymBuilder) BinaryOp(op BinaryOp, lhs, rhs Value) Value {
	if !IsSymbolic(lhs) && !IsSymbolic(rhs) {
		fatalf(ErrUnsupported, "symbolic %s on concrete operands: %s, %s", op, lhs, rhs)
	}
	t, _ := TypeOf(lhs)
	if rt, ok := TypeOf(rhs); ok && (t.Kind == TypeFloat || rt.Kind == TypeFloat) {
		fatalf(ErrUnsupported, "symbolic float operation: %s", op)
	}

	switch op {
	case OpAddWithOverflow, OpSubWithOverflow, OpMulWithOverflow:
		result := NewBinaryExpr(op.Base(), lhs, rhs)
		overflow := NewBinaryExpr(OpBitOr,
			NewBoundCheckExpr(op, lhs, rhs, true),
			NewBoundCheckExpr(op, lhs, rhs, false),
		)
		return NewTupleValue(result, overflow)

	case OpAddSaturating, OpSubSaturating:
		t, ok := TypeOf(lhs)
		if !ok {
			t, ok = TypeOf(rhs)
		}
		assert(ok, "saturating %s: untyped operands", op)
		zero := NewIntConstFromBits(new(uint256.Int), t)
		return &IteExpr{
			Cond: NewBoundCheckExpr(op, lhs, rhs, true),
			Then: zero.Saturate(true),
			Else: &IteExpr{
				Cond: NewBoundCheckExpr(op, lhs, rhs, false),
				Then: zero.Saturate(false),
				Else: NewBinaryExpr(op.Base(), lhs, rhs),
			},
		}

	case OpAddUnchecked, OpSubUnchecked, OpMulUnchecked, OpDivExact, OpShlUnchecked, OpShrUnchecked:
		return NewBinaryExpr(op.Base(), lhs, rhs)

	default:
		return NewBinaryExpr(op, lhs, rhs)
	}
}

// UnaryOp implements UnaryOps.
func (b *SymBuilder) UnaryOp(op UnaryOp, v Value) Value {
	switch op {
	case OpNoOp:
		return v
	case OpPtrMetadata:
		if p, ok := v.(*FatPtrValue); ok {
			return p.Metadata
		}
		return &PtrMetadataExpr{Source: v}
	}

	if !IsSymbolic(v) {
		fatalf(ErrUnsupported, "symbolic %s on concrete operand: %s", op, v)
	} else if t, ok := TypeOf(v); ok && t.Kind == TypeFloat {
		fatalf(ErrUnsupported, "symbolic float operation: %s", op)
	}
	return NewUnaryExpr(op, v)
}

// IfThenElse implements TernaryOps.
func (b *SymBuilder) IfThenElse(cond, then, els Value) Value {
	return &IteExpr{Cond: cond, Then: then, Else: els}
}

// Cast implements CastOps.
func (b *SymBuilder) Cast(kind CastKind, v Value, target CastTarget) Value {
	switch kind {
	case CastToChar, CastToInt:
		assert(target.Type != nil, "%s: missing target type", kind)
		return b.convert(v, *target.Type)

	case CastToFloat:
		fatalf(ErrUnsupported, "symbolic float cast: %s", v)

	case CastToPtr, CastExposeProvenance, CastWithExposedProvenance:
		if _, ok := v.(*FatPtrValue); ok {
			fatalf(ErrUnsupported, "%s of fat pointer: %s", kind, v)
		}
		return b.convert(v, UsizeType())

	case CastPtrUnsize, CastSizedDyn:
		return &FatPtrValue{Addr: v, Metadata: target.Metadata, TypeID: target.TypeID}

	case CastTransmute:
		return b.transmute(v, target)
	}

	fatalf(ErrUnsupported, "cast %s", kind)
	return nil
}

// convert extends, truncates or reinterprets a primitive value to type t.
func (b *SymBuilder) convert(v Value, t ValueType) Value {
	st, ok := TypeOf(v)
	if !ok {
		fatalf(ErrUnsupported, "conversion of untyped value: %s", v)
	} else if st.Kind == TypeFloat || t.Kind == TypeFloat {
		fatalf(ErrUnsupported, "symbolic float conversion: %s -> %s", st, t)
	}

	switch {
	case st.Kind == TypeBool:
		return &IteExpr{
			Cond: v,
			Then: NewIntConstFromBits(uint256.NewInt(1), t),
			Else: NewIntConstFromBits(new(uint256.Int), t),
		}
	case st.Width < t.Width:
		return &ExtensionExpr{Source: v, Signed: st.Signed, Type: t}
	case st.Width > t.Width:
		return &TruncationExpr{Source: v, Type: t}
	case st == t:
		return v
	default:
		return &TransmuteExpr{Source: v, Type: t}
	}
}

// transmute reinterprets the bits of v.
func (b *SymBuilder) transmute(v Value, target CastTarget) Value {
	if target.Type == nil {
		// Transmutes between non-primitive types keep the value.
		return v
	}

	var src SymValue
	switch v := v.(type) {
	case *PorterValue:
		src = &PartialExpr{Porter: v}
	case SymValue:
		src = v
	default:
		fatalf(ErrUnsupported, "transmute of %s to %s", v, target.Type)
	}

	if st, ok := TypeOf(src); ok {
		if st.Kind == TypeFloat || target.Type.Kind == TypeFloat {
			fatalf(ErrUnsupported, "symbolic float transmute: %s -> %s", st, target.Type)
		} else if st == *target.Type {
			return src
		}
	}
	return &TransmuteExpr{Source: src, TypeID: target.TypeID, Type: *target.Type}
}
