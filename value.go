package leaf

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

// Value represents a concrete or symbolic value tracked by the engine.
type Value interface {
	fmt.Stringer
	value()
}

func (*ConstValue) value()      {}
func (*ArrayValue) value()      {}
func (*AdtValue) value()        {}
func (*FatPtrValue) value()     {}
func (*RawValue) value()        {}
func (*PorterValue) value()     {}
func (*SymVar) value()          {}
func (*UnaryExpr) value()       {}
func (*BinaryExpr) value()      {}
func (*BoundCheckExpr) value()  {}
func (*ExtensionExpr) value()   {}
func (*TruncationExpr) value()  {}
func (*IteExpr) value()         {}
func (*TransmuteExpr) value()   {}
func (*SelectExpr) value()      {}
func (*RefExpr) value()         {}
func (*LenExpr) value()         {}
func (*PtrMetadataExpr) value() {}
func (*PartialExpr) value()     {}

// FuncID identifies a function of the instrumented program.
type FuncID uint64

// TypeKind represents the kind of a primitive value type.
type TypeKind int

// Primitive type kinds.
const (
	TypeBool = TypeKind(iota + 1)
	TypeChar
	TypeInt
	TypeFloat
)

// ValueType represents the type of a primitive value.
type ValueType struct {
	Kind   TypeKind
	Width  uint // total bits
	Signed bool
	EBits  uint // float exponent bits
	SBits  uint // float significand bits
}

// BoolType returns the boolean type.
func BoolType() ValueType { return ValueType{Kind: TypeBool, Width: WidthBool} }

// CharType returns the unicode scalar value type.
func CharType() ValueType { return ValueType{Kind: TypeChar, Width: CharWidth} }

// IntType returns an integer type of the given width & signedness.
func IntType(width uint, signed bool) ValueType {
	assert(width > 0 && width <= Width128, "invalid int width: %d", width)
	return ValueType{Kind: TypeInt, Width: width, Signed: signed}
}

// UsizeType returns the pointer-sized unsigned integer type.
func UsizeType() ValueType { return IntType(PointerWidth, false) }

// FloatType returns a float type with the given exponent & significand widths.
func FloatType(ebits, sbits uint) ValueType {
	return ValueType{Kind: TypeFloat, Width: ebits + sbits, EBits: ebits, SBits: sbits}
}

// IsInt returns true if the type is an integer type.
func (t ValueType) IsInt() bool { return t.Kind == TypeInt }

// IsBitVector returns true if values of t are represented as bit-vectors.
func (t ValueType) IsBitVector() bool { return t.Kind == TypeInt || t.Kind == TypeChar }

// String returns the source-like name of the type.
func (t ValueType) String() string {
	switch t.Kind {
	case TypeBool:
		return "bool"
	case TypeChar:
		return "char"
	case TypeInt:
		if t.Signed {
			return "i" + strconv.Itoa(int(t.Width))
		}
		return "u" + strconv.Itoa(int(t.Width))
	case TypeFloat:
		return "f" + strconv.Itoa(int(t.Width))
	default:
		return "unknown"
	}
}

// ConstKind represents the kind of a scalar constant.
type ConstKind int

// Constant kinds.
const (
	ConstBool = ConstKind(iota + 1)
	ConstChar
	ConstInt
	ConstFloat
	ConstStr
	ConstByteStr
	ConstFunc
	ConstAddr
	ConstZST
)

// ConstValue represents a concrete scalar value.
//
// Bool, char, int, float and address constants keep their bit representation
// in Bits masked to the width of Type. Strings keep their contents in Bytes.
type ConstValue struct {
	Kind  ConstKind
	Type  ValueType
	Bits  uint256.Int
	Bytes []byte
	Func  FuncID
}

// NewBoolConst returns a new boolean constant.
func NewBoolConst(b bool) *ConstValue {
	c := &ConstValue{Kind: ConstBool, Type: BoolType()}
	if b {
		c.Bits.SetOne()
	}
	return c
}

// NewIntConst returns a new integer constant truncated to width.
func NewIntConst(v uint64, width uint, signed bool) *ConstValue {
	var bits uint256.Int
	bits.SetUint64(v)
	return NewIntConstFromBits(&bits, IntType(width, signed))
}

// NewSignedConst returns a new signed integer constant. The value is
// sign-extended before being truncated to width.
func NewSignedConst(v int64, width uint) *ConstValue {
	var bits uint256.Int
	bits.SetUint64(uint64(v))
	if v < 0 {
		bits.Or(&bits, new(uint256.Int).Lsh(maxUint256(), 64))
	}
	return NewIntConstFromBits(&bits, IntType(width, true))
}

// IntBits is the 128-bit two's complement representation of an integer of
// up to 128 bits, split into its high & low words.
type IntBits struct {
	Hi, Lo uint64
}

// Const returns the integer constant of the given width represented by v.
func (v IntBits) Const(width uint, signed bool) *ConstValue {
	var bits uint256.Int
	bits.SetUint64(v.Hi)
	bits.Lsh(&bits, 64)
	bits.Or(&bits, new(uint256.Int).SetUint64(v.Lo))
	return NewIntConstFromBits(&bits, IntType(width, signed))
}

// NewIntConstFromBits returns a new constant of type t from its bits.
func NewIntConstFromBits(bits *uint256.Int, t ValueType) *ConstValue {
	c := &ConstValue{Kind: ConstInt, Type: t}
	switch t.Kind {
	case TypeBool:
		c.Kind = ConstBool
	case TypeChar:
		c.Kind = ConstChar
	case TypeFloat:
		c.Kind = ConstFloat
	}
	c.Bits.And(bits, bitmask(t.Width))
	return c
}

// NewUsizeConst returns a new pointer-sized unsigned constant.
func NewUsizeConst(v uint64) *ConstValue {
	return NewIntConst(v, PointerWidth, false)
}

// NewCharConst returns a new char constant.
func NewCharConst(r rune) *ConstValue {
	c := &ConstValue{Kind: ConstChar, Type: CharType()}
	c.Bits.SetUint64(uint64(uint32(r)))
	return c
}

// NewFloatConst returns a float constant from its IEEE-754 bit pattern.
func NewFloatConst(bits uint64, ebits, sbits uint) *ConstValue {
	c := &ConstValue{Kind: ConstFloat, Type: FloatType(ebits, sbits)}
	c.Bits.SetUint64(bits)
	c.Bits.And(&c.Bits, bitmask(ebits+sbits))
	return c
}

// NewAddrConst returns a raw address constant.
func NewAddrConst(addr uint64) *ConstValue {
	c := &ConstValue{Kind: ConstAddr, Type: UsizeType()}
	c.Bits.SetUint64(addr)
	return c
}

// NewFuncConst returns a constant referring to a function.
func NewFuncConst(id FuncID) *ConstValue {
	return &ConstValue{Kind: ConstFunc, Func: id}
}

// NewStrConst returns a string constant.
func NewStrConst(s string) *ConstValue {
	return &ConstValue{Kind: ConstStr, Bytes: []byte(s)}
}

// NewByteStrConst returns a byte string constant.
func NewByteStrConst(b []byte) *ConstValue {
	return &ConstValue{Kind: ConstByteStr, Bytes: append([]byte(nil), b...)}
}

// NewZSTConst returns the value of a zero-sized type.
func NewZSTConst() *ConstValue {
	return &ConstValue{Kind: ConstZST}
}

// IsTrue returns true if the constant is a true boolean.
func (c *ConstValue) IsTrue() bool {
	return c.Kind == ConstBool && !c.Bits.IsZero()
}

// IsFalse returns true if the constant is a false boolean.
func (c *ConstValue) IsFalse() bool {
	return c.Kind == ConstBool && c.Bits.IsZero()
}

// IsZero returns true if all bits of the constant are zero.
func (c *ConstValue) IsZero() bool { return c.Bits.IsZero() }

// IsOne returns true if the constant is one.
func (c *ConstValue) IsOne() bool { return c.Bits.IsUint64() && c.Bits.Uint64() == 1 }

// IsAllOnes returns true if all bits within the width are set.
func (c *ConstValue) IsAllOnes() bool {
	return c.Bits.Eq(bitmask(c.Type.Width))
}

// Uint64 returns the low 64 bits of the constant.
func (c *ConstValue) Uint64() uint64 { return c.Bits.Uint64() }

// Int64 returns the constant sign-extended from its width, truncated to 64 bits.
func (c *ConstValue) Int64() int64 {
	return int64(c.signExtended().Uint64())
}

// IsNegative returns true if the constant is signed and its sign bit is set.
func (c *ConstValue) IsNegative() bool {
	return c.Type.Signed && c.signBit()
}

// String returns a source-like representation of the constant.
func (c *ConstValue) String() string {
	switch c.Kind {
	case ConstBool:
		return strconv.FormatBool(c.IsTrue())
	case ConstChar:
		return strconv.QuoteRune(rune(c.Bits.Uint64()))
	case ConstInt:
		if c.IsNegative() {
			var abs uint256.Int
			abs.Neg(c.signExtended())
			return "-" + abs.Dec() + c.Type.String()
		}
		return c.Bits.Dec() + c.Type.String()
	case ConstFloat:
		return fmt.Sprintf("%s(%s)", c.Type, c.Bits.Hex())
	case ConstStr:
		return strconv.Quote(string(c.Bytes))
	case ConstByteStr:
		return fmt.Sprintf("b%q", c.Bytes)
	case ConstFunc:
		return fmt.Sprintf("fn#%d", c.Func)
	case ConstAddr:
		return fmt.Sprintf("0x%x", c.Bits.Uint64())
	case ConstZST:
		return "()"
	default:
		return "const?"
	}
}

// AdtKind represents the kind of an algebraic data type value.
type AdtKind int

// Algebraic data type kinds.
const (
	AdtStruct = AdtKind(iota + 1)
	AdtTuple
	AdtEnum
	AdtUnion
	AdtClosure
	AdtCoroutine
)

var adtKinds = [...]string{
	AdtStruct:    "struct",
	AdtTuple:     "tuple",
	AdtEnum:      "enum",
	AdtUnion:     "union",
	AdtClosure:   "closure",
	AdtCoroutine: "coroutine",
}

// String returns the name of the kind.
func (k AdtKind) String() string {
	if k > 0 && int(k) < len(adtKinds) {
		return adtKinds[k]
	}
	return fmt.Sprintf("AdtKind<%d>", k)
}

// AdtValue represents a struct, tuple, enum variant, union or closure.
// A nil field has not been written yet.
type AdtValue struct {
	Kind    AdtKind
	Variant int
	Fields  []Value
}

// NewTupleValue returns a tuple of the given values.
func NewTupleValue(fields ...Value) *AdtValue {
	return &AdtValue{Kind: AdtTuple, Fields: fields}
}

// String returns the string representation of the value.
func (v *AdtValue) String() string {
	if v.Kind == AdtEnum {
		return fmt.Sprintf("%s#%d{%s}", v.Kind, v.Variant, joinValues(v.Fields))
	}
	return fmt.Sprintf("%s{%s}", v.Kind, joinValues(v.Fields))
}

// FatPtrValue represents a pointer carrying metadata such as a slice length.
type FatPtrValue struct {
	Addr     Value
	Metadata Value
	TypeID   TypeID
}

// String returns the string representation of the pointer.
func (v *FatPtrValue) String() string {
	return fmt.Sprintf("(fatptr %s %s)", v.Addr, v.Metadata)
}

// RawValue represents a concrete value in memory that has not been read yet.
type RawValue struct {
	Addr   uint64
	TypeID TypeID
	Type   *ValueType // set when the value is a known primitive
}

// String returns the string representation of the value.
func (v *RawValue) String() string {
	if v.Type != nil {
		return fmt.Sprintf("(raw %s 0x%x)", v.Type, v.Addr)
	}
	return fmt.Sprintf("(raw %s 0x%x)", v.TypeID, v.Addr)
}

// PorterValue represents a concrete memory region partially overlaid by
// symbolic values. Entries are sorted by offset and never overlap.
type PorterValue struct {
	Addr    uint64
	TypeID  TypeID
	Size    uint64
	Entries []PorterEntry
}

// PorterEntry is a symbolic value at an offset within a porter.
type PorterEntry struct {
	Offset uint64
	TypeID TypeID
	Value  SymValue
}

// String returns the string representation of the porter.
func (v *PorterValue) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(porter 0x%x %d", v.Addr, v.Size)
	for _, e := range v.Entries {
		fmt.Fprintf(&buf, " %d:%s", e.Offset, e.Value)
	}
	buf.WriteString(")")
	return buf.String()
}

// IsSymbolic returns true if v is symbolic or contains a symbolic value.
func IsSymbolic(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case SymValue:
		return true
	case *ArrayValue:
		for _, elem := range v.Elems {
			if IsSymbolic(elem) {
				return true
			}
		}
		return false
	case *AdtValue:
		for _, field := range v.Fields {
			if IsSymbolic(field) {
				return true
			}
		}
		return false
	case *FatPtrValue:
		return IsSymbolic(v.Addr) || IsSymbolic(v.Metadata)
	case *PorterValue:
		return len(v.Entries) > 0
	default:
		return false
	}
}

// AsConst returns v as a constant, if it is one.
func AsConst(v Value) (*ConstValue, bool) {
	c, ok := v.(*ConstValue)
	return c, ok
}

// AsSymbolic returns v as a symbolic value, if it is one.
func AsSymbolic(v Value) (SymValue, bool) {
	s, ok := v.(SymValue)
	return s, ok
}

// TypeOf returns the primitive type of v, if it can be determined.
func TypeOf(v Value) (ValueType, bool) {
	switch v := v.(type) {
	case *ConstValue:
		switch v.Kind {
		case ConstBool, ConstChar, ConstInt, ConstFloat, ConstAddr:
			return v.Type, true
		}
	case *RawValue:
		if v.Type != nil {
			return *v.Type, true
		}
	case *SymVar:
		return v.Type, true
	case *UnaryExpr:
		if v.Op.IsCount() {
			return IntType(Width32, false), true
		} else if v.Op == OpPtrMetadata {
			return UsizeType(), true
		}
		return TypeOf(v.Operand)
	case *BinaryExpr:
		if v.Op.IsCompare() {
			return BoolType(), true
		} else if v.Op == OpCmp {
			return IntType(Width8, true), true
		}
		if t, ok := TypeOf(v.LHS); ok {
			return t, true
		}
		return TypeOf(v.RHS)
	case *BoundCheckExpr:
		return BoolType(), true
	case *ExtensionExpr:
		return v.Type, true
	case *TruncationExpr:
		return v.Type, true
	case *TransmuteExpr:
		return v.Type, true
	case *IteExpr:
		if t, ok := TypeOf(v.Then); ok {
			return t, true
		}
		return TypeOf(v.Else)
	case *SelectExpr:
		for _, c := range v.Candidates {
			if t, ok := TypeOf(c); ok {
				return t, true
			}
		}
	case *RefExpr, *LenExpr, *PtrMetadataExpr:
		return UsizeType(), true
	case *PartialExpr:
		if v.Porter.Size > 0 && v.Porter.Size <= Width128/8 {
			return IntType(uint(v.Porter.Size*8), false), true
		}
	}
	return ValueType{}, false
}

func joinValues(a []Value) string {
	var buf bytes.Buffer
	for i, v := range a {
		if i > 0 {
			buf.WriteString(", ")
		}
		if v == nil {
			buf.WriteString("_")
			continue
		}
		buf.WriteString(v.String())
	}
	return buf.String()
}
