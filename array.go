package leaf

import (
	"github.com/holiman/uint256"
)

// ArrayValue represents an ordered sequence of values.
type ArrayValue struct {
	Elems []Value
}

// NewArrayValue returns a new array of the given elements.
func NewArrayValue(elems ...Value) *ArrayValue {
	return &ArrayValue{Elems: elems}
}

// String returns the string representation of the array.
func (a *ArrayValue) String() string {
	return "[" + joinValues(a.Elems) + "]"
}

// Len returns the number of elements.
func (a *ArrayValue) Len() int { return len(a.Elems) }

// Elem returns the element at index. Panic if index is out of range.
func (a *ArrayValue) Elem(index uint64) Value {
	assert(index < uint64(len(a.Elems)), "array index out of range: %d >= %d", index, len(a.Elems))
	return a.Elems[index]
}

// Select reads the element at index. A symbolic index returns a select
// expression over all elements.
func (a *ArrayValue) Select(index Value) Value {
	if c, ok := index.(*ConstValue); ok {
		return a.Elem(c.Uint64())
	}
	return NewSelectExpr(index, a.Elems)
}

// EncodePrimitive returns the little-endian bytes of a primitive constant.
// Booleans occupy a single byte.
func EncodePrimitive(c *ConstValue) []byte {
	size := (c.Type.Width + 7) / 8
	be := c.Bits.Bytes32()
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = be[31-i]
	}
	return buf
}

// DecodePrimitive returns the constant of type t stored little-endian in buf.
func DecodePrimitive(buf []byte, t ValueType) *ConstValue {
	size := int(t.Width+7) / 8
	assert(len(buf) == size, "decode %s: invalid length %d", t, len(buf))

	// uint256 expects big-endian bytes.
	be := make([]byte, size)
	for i := range buf {
		be[size-1-i] = buf[i]
	}
	return NewIntConstFromBits(new(uint256.Int).SetBytes(be), t)
}
