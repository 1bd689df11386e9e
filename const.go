package leaf

import (
	"math"
	"math/bits"

	"github.com/holiman/uint256"
)

// bitmask returns a mask with the low width bits set.
func bitmask(width uint) *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), width)
	return m.SubUint64(m, 1)
}

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// signBit returns true if the most significant bit within the width is set.
func (c *ConstValue) signBit() bool {
	if c.Type.Width == 0 {
		return false
	}
	var b uint256.Int
	b.Rsh(&c.Bits, c.Type.Width-1)
	return b.Uint64()&1 == 1
}

// signExtended returns the bits sign-extended to 256 bits.
func (c *ConstValue) signExtended() *uint256.Int {
	z := new(uint256.Int).Set(&c.Bits)
	if c.signBit() {
		z.Or(z, new(uint256.Int).Not(bitmask(c.Type.Width)))
	}
	return z
}

// extended returns the bits extended to 256 bits according to signedness.
func (c *ConstValue) extended() *uint256.Int {
	if c.Type.Signed {
		return c.signExtended()
	}
	return new(uint256.Int).Set(&c.Bits)
}

func (c *ConstValue) with(bits *uint256.Int) *ConstValue {
	return NewIntConstFromBits(bits, c.Type)
}

// Add returns c+o wrapped to the width of c.
func (c *ConstValue) Add(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Add(&c.Bits, &o.Bits))
}

// Sub returns c-o wrapped to the width of c.
func (c *ConstValue) Sub(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Sub(&c.Bits, &o.Bits))
}

// Mul returns c*o wrapped to the width of c.
func (c *ConstValue) Mul(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Mul(&c.Bits, &o.Bits))
}

// Div returns c/o rounded toward zero. Division by zero returns zero.
func (c *ConstValue) Div(o *ConstValue) *ConstValue {
	if c.Type.Signed {
		return c.with(new(uint256.Int).SDiv(c.signExtended(), o.signExtended()))
	}
	return c.with(new(uint256.Int).Div(&c.Bits, &o.Bits))
}

// Rem returns the remainder of c/o with the sign of c.
func (c *ConstValue) Rem(o *ConstValue) *ConstValue {
	if c.Type.Signed {
		return c.with(new(uint256.Int).SMod(c.signExtended(), o.signExtended()))
	}
	return c.with(new(uint256.Int).Mod(&c.Bits, &o.Bits))
}

// And returns the bitwise AND of c & o.
func (c *ConstValue) And(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).And(&c.Bits, &o.Bits))
}

// Or returns the bitwise OR of c & o.
func (c *ConstValue) Or(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Or(&c.Bits, &o.Bits))
}

// Xor returns the bitwise XOR of c & o.
func (c *ConstValue) Xor(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Xor(&c.Bits, &o.Bits))
}

// shiftAmount returns o modulo the width of c.
func (c *ConstValue) shiftAmount(o *ConstValue) uint {
	if !o.Bits.IsUint64() {
		return uint(new(uint256.Int).Mod(&o.Bits, uint256.NewInt(uint64(c.Type.Width))).Uint64())
	}
	return uint(o.Bits.Uint64() % uint64(c.Type.Width))
}

// Shl returns c shifted left by o modulo the width.
func (c *ConstValue) Shl(o *ConstValue) *ConstValue {
	return c.with(new(uint256.Int).Lsh(&c.Bits, c.shiftAmount(o)))
}

// Shr returns c shifted right by o modulo the width. Signed values are
// shifted arithmetically.
func (c *ConstValue) Shr(o *ConstValue) *ConstValue {
	n := c.shiftAmount(o)
	if c.Type.Signed {
		return c.with(new(uint256.Int).SRsh(c.signExtended(), n))
	}
	return c.with(new(uint256.Int).Rsh(&c.Bits, n))
}

// RotateL returns c rotated left by o.
func (c *ConstValue) RotateL(o *ConstValue) *ConstValue {
	n := c.shiftAmount(o)
	if n == 0 {
		return c
	}
	hi := new(uint256.Int).Lsh(&c.Bits, n)
	lo := new(uint256.Int).Rsh(&c.Bits, c.Type.Width-n)
	return c.with(hi.Or(hi, lo))
}

// RotateR returns c rotated right by o.
func (c *ConstValue) RotateR(o *ConstValue) *ConstValue {
	n := c.shiftAmount(o)
	if n == 0 {
		return c
	}
	lo := new(uint256.Int).Rsh(&c.Bits, n)
	hi := new(uint256.Int).Lsh(&c.Bits, c.Type.Width-n)
	return c.with(hi.Or(hi, lo))
}

// Eq returns true if c and o have the same bits.
func (c *ConstValue) Eq(o *ConstValue) bool {
	return c.Bits.Eq(&o.Bits)
}

// Lt returns true if c < o according to the signedness of c.
func (c *ConstValue) Lt(o *ConstValue) bool {
	if c.Type.Signed {
		return c.signExtended().Slt(o.signExtended())
	}
	return c.Bits.Lt(&o.Bits)
}

// Compare returns the binary comparison of c and o.
func (c *ConstValue) Compare(op BinaryOp, o *ConstValue) bool {
	switch op {
	case OpEq:
		return c.Eq(o)
	case OpNe:
		return !c.Eq(o)
	case OpLt:
		return c.Lt(o)
	case OpLe:
		return !o.Lt(c)
	case OpGt:
		return o.Lt(c)
	case OpGe:
		return !c.Lt(o)
	default:
		panic("unreachable")
	}
}

// Cmp returns -1, 0 or 1 as an i8 ordering.
func (c *ConstValue) Cmp(o *ConstValue) *ConstValue {
	switch {
	case c.Lt(o):
		return NewSignedConst(-1, Width8)
	case c.Eq(o):
		return NewSignedConst(0, Width8)
	default:
		return NewSignedConst(1, Width8)
	}
}

// Overflows reports whether op applied to c and o leaves the range of the
// type of c, either above its maximum or below its minimum.
func (c *ConstValue) Overflows(op BinaryOp, o *ConstValue) (over, under bool) {
	if !c.Type.Signed {
		var exact uint256.Int
		switch op.Base() {
		case OpAdd:
			exact.Add(&c.Bits, &o.Bits)
		case OpSub:
			return false, c.Bits.Lt(&o.Bits)
		case OpMul:
			exact.Mul(&c.Bits, &o.Bits)
		default:
			return false, false
		}
		return exact.Gt(bitmask(c.Type.Width)), false
	}

	a, b := c.signExtended(), o.signExtended()
	var exact uint256.Int
	switch op.Base() {
	case OpAdd:
		exact.Add(a, b)
	case OpSub:
		exact.Sub(a, b)
	case OpMul:
		exact.Mul(a, b)
	case OpDiv, OpRem:
		// MIN / -1 is the only overflowing signed division.
		min := NewIntConstFromBits(new(uint256.Int).Lsh(uint256.NewInt(1), c.Type.Width-1), c.Type)
		return c.Eq(min) && o.IsAllOnes(), false
	default:
		return false, false
	}
	max := bitmask(c.Type.Width - 1)
	min := new(uint256.Int).Not(max)
	return exact.Sgt(max), exact.Slt(min)
}

// Saturate returns the maximum or minimum value of the type of c.
func (c *ConstValue) Saturate(over bool) *ConstValue {
	if c.Type.Signed {
		max := bitmask(c.Type.Width - 1)
		if over {
			return c.with(max)
		}
		return c.with(new(uint256.Int).Not(max))
	}
	if over {
		return c.with(bitmask(c.Type.Width))
	}
	return c.with(new(uint256.Int))
}

// Not returns the bitwise complement of c.
func (c *ConstValue) Not() *ConstValue {
	return c.with(new(uint256.Int).Not(&c.Bits))
}

// Neg returns the two's complement negation of c.
func (c *ConstValue) Neg() *ConstValue {
	return c.with(new(uint256.Int).Neg(&c.Bits))
}

// CountOnes returns the number of set bits as a u32.
func (c *ConstValue) CountOnes() *ConstValue {
	var n int
	for _, w := range c.Bits {
		n += bits.OnesCount64(w)
	}
	return NewIntConst(uint64(n), Width32, false)
}

// TrailingZeros returns the number of trailing zero bits as a u32.
func (c *ConstValue) TrailingZeros() *ConstValue {
	if c.Bits.IsZero() {
		return NewIntConst(uint64(c.Type.Width), Width32, false)
	}
	var n int
	for _, w := range c.Bits {
		if w != 0 {
			n += bits.TrailingZeros64(w)
			break
		}
		n += 64
	}
	return NewIntConst(uint64(n), Width32, false)
}

// LeadingZeros returns the number of leading zero bits within the width as a u32.
func (c *ConstValue) LeadingZeros() *ConstValue {
	return NewIntConst(uint64(int(c.Type.Width)-c.Bits.BitLen()), Width32, false)
}

// ByteSwap returns c with the order of its bytes reversed.
func (c *ConstValue) ByteSwap() *ConstValue {
	n := int(c.Type.Width / 8)
	b := c.Bits.Bytes32()
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = b[31-i]
	}
	return c.with(new(uint256.Int).SetBytes(buf))
}

// BitReverse returns c with the order of its bits reversed.
func (c *ConstValue) BitReverse() *ConstValue {
	var z, bit uint256.Int
	for i := uint(0); i < c.Type.Width; i++ {
		if bit.Rsh(&c.Bits, i); bit.Uint64()&1 == 1 {
			z.Or(&z, new(uint256.Int).Lsh(uint256.NewInt(1), c.Type.Width-1-i))
		}
	}
	return c.with(&z)
}

// Convert returns c converted to type t. Integers are extended according to
// the signedness of c and truncated to the width of t.
func (c *ConstValue) Convert(t ValueType) *ConstValue {
	if c.Kind == ConstBool {
		return NewIntConstFromBits(&c.Bits, t)
	}
	return NewIntConstFromBits(c.extended(), t)
}

// float64 returns the value of a float constant.
func (c *ConstValue) float64() (float64, bool) {
	switch c.Type.Width {
	case Width32:
		return float64(math.Float32frombits(uint32(c.Bits.Uint64()))), true
	case Width64:
		return math.Float64frombits(c.Bits.Uint64()), true
	default:
		return 0, false
	}
}

func (c *ConstValue) withFloat(f float64) *ConstValue {
	if c.Type.Width == Width32 {
		return NewFloatConst(uint64(math.Float32bits(float32(f))), c.Type.EBits, c.Type.SBits)
	}
	return NewFloatConst(math.Float64bits(f), c.Type.EBits, c.Type.SBits)
}

// FloatBinary folds a binary operation on two 32 or 64-bit floats.
func (c *ConstValue) FloatBinary(op BinaryOp, o *ConstValue) (Value, bool) {
	x, ok := c.float64()
	if !ok {
		return nil, false
	}
	y, ok := o.float64()
	if !ok {
		return nil, false
	}

	switch op {
	case OpAdd:
		return c.withFloat(x + y), true
	case OpSub:
		return c.withFloat(x - y), true
	case OpMul:
		return c.withFloat(x * y), true
	case OpDiv:
		return c.withFloat(x / y), true
	case OpRem:
		return c.withFloat(math.Mod(x, y)), true
	case OpEq:
		return NewBoolConst(x == y), true
	case OpNe:
		return NewBoolConst(x != y), true
	case OpLt:
		return NewBoolConst(x < y), true
	case OpLe:
		return NewBoolConst(x <= y), true
	case OpGt:
		return NewBoolConst(x > y), true
	case OpGe:
		return NewBoolConst(x >= y), true
	default:
		return nil, false
	}
}
