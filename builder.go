package leaf

import (
	"context"
	"log/slog"
)

// BinaryOps builds the result of binary operations.
//
// A builder returns nil when it cannot build the result so that another
// builder can be tried instead.
type BinaryOps interface {
	BinaryOp(op BinaryOp, lhs, rhs Value) Value
}

// UnaryOps builds the result of unary operations.
type UnaryOps interface {
	UnaryOp(op UnaryOp, v Value) Value
}

// TernaryOps builds conditional selections.
type TernaryOps interface {
	IfThenElse(cond, then, els Value) Value
}

// CastOps builds the result of casts.
type CastOps interface {
	Cast(kind CastKind, v Value, target CastTarget) Value
}

// Ops is the full set of builder operations.
type Ops interface {
	BinaryOps
	UnaryOps
	TernaryOps
	CastOps
}

// CastTarget describes the destination of a cast.
type CastTarget struct {
	Type     *ValueType // primitive destination type, if any
	TypeID   TypeID
	Metadata Value // pointer metadata for unsizing casts
}

// Builder composes one implementation per operation family and exposes a
// method per operator.
type Builder struct {
	Binaries  BinaryOps
	Unaries   UnaryOps
	Ternaries TernaryOps
	Casts     CastOps
}

// NewBuilder returns a builder that uses ops for every operation family.
func NewBuilder(ops Ops) *Builder {
	return &Builder{Binaries: ops, Unaries: ops, Ternaries: ops, Casts: ops}
}

// NewDefaultBuilder returns the builder used by the engine: constant folding
// with a fallback to building expressions, logged to logger.
func NewDefaultBuilder(logger *slog.Logger) *Builder {
	return NewBuilder(&Logger{
		Ops:    &Chained{Primary: &Folder{}, Fallback: &SymBuilder{}},
		Logger: logger,
	})
}

// BinaryOp implements BinaryOps.
func (b *Builder) BinaryOp(op BinaryOp, lhs, rhs Value) Value {
	return b.Binaries.BinaryOp(op, lhs, rhs)
}

// UnaryOp implements UnaryOps.
func (b *Builder) UnaryOp(op UnaryOp, v Value) Value {
	return b.Unaries.UnaryOp(op, v)
}

// IfThenElse implements TernaryOps.
func (b *Builder) IfThenElse(cond, then, els Value) Value {
	return b.Ternaries.IfThenElse(cond, then, els)
}

// Cast implements CastOps.
func (b *Builder) Cast(kind CastKind, v Value, target CastTarget) Value {
	return b.Casts.Cast(kind, v, target)
}

func (b *Builder) Add(lhs, rhs Value) Value             { return b.BinaryOp(OpAdd, lhs, rhs) }
func (b *Builder) AddUnchecked(lhs, rhs Value) Value    { return b.BinaryOp(OpAddUnchecked, lhs, rhs) }
func (b *Builder) AddWithOverflow(lhs, rhs Value) Value { return b.BinaryOp(OpAddWithOverflow, lhs, rhs) }
func (b *Builder) AddSaturating(lhs, rhs Value) Value   { return b.BinaryOp(OpAddSaturating, lhs, rhs) }
func (b *Builder) Sub(lhs, rhs Value) Value             { return b.BinaryOp(OpSub, lhs, rhs) }
func (b *Builder) SubUnchecked(lhs, rhs Value) Value    { return b.BinaryOp(OpSubUnchecked, lhs, rhs) }
func (b *Builder) SubWithOverflow(lhs, rhs Value) Value { return b.BinaryOp(OpSubWithOverflow, lhs, rhs) }
func (b *Builder) SubSaturating(lhs, rhs Value) Value   { return b.BinaryOp(OpSubSaturating, lhs, rhs) }
func (b *Builder) Mul(lhs, rhs Value) Value             { return b.BinaryOp(OpMul, lhs, rhs) }
func (b *Builder) MulUnchecked(lhs, rhs Value) Value    { return b.BinaryOp(OpMulUnchecked, lhs, rhs) }
func (b *Builder) MulWithOverflow(lhs, rhs Value) Value { return b.BinaryOp(OpMulWithOverflow, lhs, rhs) }
func (b *Builder) Div(lhs, rhs Value) Value             { return b.BinaryOp(OpDiv, lhs, rhs) }
func (b *Builder) DivExact(lhs, rhs Value) Value        { return b.BinaryOp(OpDivExact, lhs, rhs) }
func (b *Builder) Rem(lhs, rhs Value) Value             { return b.BinaryOp(OpRem, lhs, rhs) }
func (b *Builder) And(lhs, rhs Value) Value             { return b.BinaryOp(OpBitAnd, lhs, rhs) }
func (b *Builder) Or(lhs, rhs Value) Value              { return b.BinaryOp(OpBitOr, lhs, rhs) }
func (b *Builder) Xor(lhs, rhs Value) Value             { return b.BinaryOp(OpBitXor, lhs, rhs) }
func (b *Builder) Shl(lhs, rhs Value) Value             { return b.BinaryOp(OpShl, lhs, rhs) }
func (b *Builder) ShlUnchecked(lhs, rhs Value) Value    { return b.BinaryOp(OpShlUnchecked, lhs, rhs) }
func (b *Builder) Shr(lhs, rhs Value) Value             { return b.BinaryOp(OpShr, lhs, rhs) }
func (b *Builder) ShrUnchecked(lhs, rhs Value) Value    { return b.BinaryOp(OpShrUnchecked, lhs, rhs) }
func (b *Builder) RotateLeft(lhs, rhs Value) Value      { return b.BinaryOp(OpRotateL, lhs, rhs) }
func (b *Builder) RotateRight(lhs, rhs Value) Value     { return b.BinaryOp(OpRotateR, lhs, rhs) }
func (b *Builder) Eq(lhs, rhs Value) Value              { return b.BinaryOp(OpEq, lhs, rhs) }
func (b *Builder) Ne(lhs, rhs Value) Value              { return b.BinaryOp(OpNe, lhs, rhs) }
func (b *Builder) Lt(lhs, rhs Value) Value              { return b.BinaryOp(OpLt, lhs, rhs) }
func (b *Builder) Le(lhs, rhs Value) Value              { return b.BinaryOp(OpLe, lhs, rhs) }
func (b *Builder) Gt(lhs, rhs Value) Value              { return b.BinaryOp(OpGt, lhs, rhs) }
func (b *Builder) Ge(lhs, rhs Value) Value              { return b.BinaryOp(OpGe, lhs, rhs) }
func (b *Builder) Cmp(lhs, rhs Value) Value             { return b.BinaryOp(OpCmp, lhs, rhs) }

// Offset advances ptr by n elements of size bytes each.
func (b *Builder) Offset(ptr, n Value, size uint64) Value {
	t, ok := TypeOf(n)
	if !ok {
		t = UsizeType()
	}
	return b.BinaryOp(OpOffset, ptr, b.BinaryOp(OpMul, n, NewIntConst(size, t.Width, t.Signed)))
}

func (b *Builder) Not(v Value) Value         { return b.UnaryOp(OpNot, v) }
func (b *Builder) Neg(v Value) Value         { return b.UnaryOp(OpNeg, v) }
func (b *Builder) PtrMetadata(v Value) Value { return b.UnaryOp(OpPtrMetadata, v) }
func (b *Builder) BitReverse(v Value) Value  { return b.UnaryOp(OpBitReverse, v) }
func (b *Builder) CountOnes(v Value) Value   { return b.UnaryOp(OpCountOnes, v) }
func (b *Builder) ByteSwap(v Value) Value    { return b.UnaryOp(OpByteSwap, v) }

// TrailingZeros counts the trailing zero bits of v. When nonZero is set the
// operand is known to be non-zero.
func (b *Builder) TrailingZeros(v Value, nonZero bool) Value {
	if nonZero {
		return b.UnaryOp(OpNonZeroTrailingZeros, v)
	}
	return b.UnaryOp(OpTrailingZeros, v)
}

// LeadingZeros counts the leading zero bits of v. When nonZero is set the
// operand is known to be non-zero.
func (b *Builder) LeadingZeros(v Value, nonZero bool) Value {
	if nonZero {
		return b.UnaryOp(OpNonZeroLeadingZeros, v)
	}
	return b.UnaryOp(OpLeadingZeros, v)
}

func (b *Builder) ToChar(v Value) Value {
	t := CharType()
	return b.Cast(CastToChar, v, CastTarget{Type: &t})
}

func (b *Builder) ToInt(v Value, t ValueType) Value {
	return b.Cast(CastToInt, v, CastTarget{Type: &t})
}

func (b *Builder) ToFloat(v Value, t ValueType) Value {
	return b.Cast(CastToFloat, v, CastTarget{Type: &t})
}

func (b *Builder) ToPtr(v Value, id TypeID) Value {
	t := UsizeType()
	return b.Cast(CastToPtr, v, CastTarget{Type: &t, TypeID: id})
}

func (b *Builder) PtrUnsize(v Value, id TypeID, metadata Value) Value {
	return b.Cast(CastPtrUnsize, v, CastTarget{TypeID: id, Metadata: metadata})
}

func (b *Builder) ExposeProvenance(v Value) Value {
	t := UsizeType()
	return b.Cast(CastExposeProvenance, v, CastTarget{Type: &t})
}

func (b *Builder) WithExposedProvenance(v Value, id TypeID) Value {
	t := UsizeType()
	return b.Cast(CastWithExposedProvenance, v, CastTarget{Type: &t, TypeID: id})
}

func (b *Builder) SizedDyn(v Value, id TypeID, metadata Value) Value {
	return b.Cast(CastSizedDyn, v, CastTarget{TypeID: id, Metadata: metadata})
}

func (b *Builder) Transmute(v Value, id TypeID, t *ValueType) Value {
	return b.Cast(CastTransmute, v, CastTarget{Type: t, TypeID: id})
}

// Chained tries Primary first and falls back to Fallback when the primary
// builder returns nil.
type Chained struct {
	Primary  Ops
	Fallback Ops
}

// BinaryOp implements BinaryOps.
func (c *Chained) BinaryOp(op BinaryOp, lhs, rhs Value) Value {
	if v := c.Primary.BinaryOp(op, lhs, rhs); v != nil {
		return v
	}
	return c.Fallback.BinaryOp(op, lhs, rhs)
}

// UnaryOp implements UnaryOps.
func (c *Chained) UnaryOp(op UnaryOp, v Value) Value {
	if other := c.Primary.UnaryOp(op, v); other != nil {
		return other
	}
	return c.Fallback.UnaryOp(op, v)
}

// IfThenElse implements TernaryOps.
func (c *Chained) IfThenElse(cond, then, els Value) Value {
	if v := c.Primary.IfThenElse(cond, then, els); v != nil {
		return v
	}
	return c.Fallback.IfThenElse(cond, then, els)
}

// Cast implements CastOps.
func (c *Chained) Cast(kind CastKind, v Value, target CastTarget) Value {
	if other := c.Primary.Cast(kind, v, target); other != nil {
		return other
	}
	return c.Fallback.Cast(kind, v, target)
}

// Logger emits a debug record for every operation built by Ops.
type Logger struct {
	Ops    Ops
	Logger *slog.Logger
}

func (l *Logger) log(op string, result Value, attrs ...slog.Attr) {
	if l.Logger == nil || !l.Logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs = append(attrs, slog.String("op", op), slog.String("result", valueString(result)))
	l.Logger.LogAttrs(context.Background(), slog.LevelDebug, "build", attrs...)
}

// BinaryOp implements BinaryOps.
func (l *Logger) BinaryOp(op BinaryOp, lhs, rhs Value) Value {
	v := l.Ops.BinaryOp(op, lhs, rhs)
	l.log(op.String(), v, slog.String("lhs", valueString(lhs)), slog.String("rhs", valueString(rhs)))
	return v
}

// UnaryOp implements UnaryOps.
func (l *Logger) UnaryOp(op UnaryOp, v Value) Value {
	other := l.Ops.UnaryOp(op, v)
	l.log(op.String(), other, slog.String("operand", valueString(v)))
	return other
}

// IfThenElse implements TernaryOps.
func (l *Logger) IfThenElse(cond, then, els Value) Value {
	v := l.Ops.IfThenElse(cond, then, els)
	l.log("ite", v, slog.String("cond", valueString(cond)), slog.String("then", valueString(then)), slog.String("else", valueString(els)))
	return v
}

// Cast implements CastOps.
func (l *Logger) Cast(kind CastKind, v Value, target CastTarget) Value {
	other := l.Ops.Cast(kind, v, target)
	l.log(kind.String(), other, slog.String("operand", valueString(v)), slog.String("ty", target.TypeID.String()))
	return other
}

func valueString(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
