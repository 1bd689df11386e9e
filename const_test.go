package leaf_test

import (
	"testing"

	"github.com/benbjohnson/leaf"
)

func TestConstValue_String(t *testing.T) {
	for _, tt := range []struct {
		c    *leaf.ConstValue
		want string
	}{
		{leaf.NewBoolConst(true), "true"},
		{leaf.NewIntConst(255, 8, false), "255u8"},
		{leaf.NewSignedConst(-1, 8), "-1i8"},
		{leaf.NewSignedConst(-128, 8), "-128i8"},
		{leaf.NewIntConst(0x1FF, 8, false), "255u8"},
		{leaf.NewCharConst('x'), "'x'"},
		{leaf.NewAddrConst(0x10), "0x10"},
		{leaf.NewFuncConst(3), "fn#3"},
		{leaf.NewStrConst("hi"), `"hi"`},
		{leaf.NewByteStrConst([]byte("hi")), `b"hi"`},
		{leaf.NewZSTConst(), "()"},
	} {
		if s := tt.c.String(); s != tt.want {
			t.Fatalf("unexpected string: %s, want %s", s, tt.want)
		}
	}
}

func TestConstValue_Arithmetic(t *testing.T) {
	u8 := func(v uint64) *leaf.ConstValue { return leaf.NewIntConst(v, 8, false) }
	i8 := func(v int64) *leaf.ConstValue { return leaf.NewSignedConst(v, 8) }

	for _, tt := range []struct {
		name string
		got  *leaf.ConstValue
		want string
	}{
		{"AddWrap", u8(200).Add(u8(100)), "44u8"},
		{"SubWrap", u8(1).Sub(u8(2)), "255u8"},
		{"MulWrap", u8(16).Mul(u8(17)), "16u8"},
		{"UnsignedDiv", u8(200).Div(u8(3)), "66u8"},
		{"SignedDiv", i8(-7).Div(i8(2)), "-3i8"},
		{"SignedRem", i8(-7).Rem(i8(2)), "-1i8"},
		{"UnsignedRem", u8(7).Rem(u8(4)), "3u8"},
		{"And", u8(0xF0).And(u8(0x3C)), "48u8"},
		{"Or", u8(0xF0).Or(u8(0x0F)), "255u8"},
		{"Xor", u8(0xFF).Xor(u8(0x0F)), "240u8"},
		{"Shl", u8(1).Shl(u8(7)), "128u8"},
		{"ShlModWidth", u8(1).Shl(u8(9)), "2u8"},
		{"ShrLogical", u8(0x80).Shr(u8(7)), "1u8"},
		{"ShrArithmetic", i8(-128).Shr(u8(7)), "-1i8"},
		{"RotateL", u8(0x81).RotateL(u8(1)), "3u8"},
		{"RotateR", u8(0x81).RotateR(u8(1)), "192u8"},
		{"Not", u8(0x0F).Not(), "240u8"},
		{"Neg", i8(5).Neg(), "-5i8"},
		{"CountOnes", u8(0xF1).CountOnes(), "5u32"},
		{"TrailingZeros", u8(0x08).TrailingZeros(), "3u32"},
		{"TrailingZerosZero", u8(0).TrailingZeros(), "8u32"},
		{"LeadingZeros", u8(0x08).LeadingZeros(), "4u32"},
		{"ByteSwap", leaf.NewIntConst(0x1122, 16, false).ByteSwap(), "8721u16"},
		{"BitReverse", u8(0x01).BitReverse(), "128u8"},
		{"Cmp", i8(-1).Cmp(i8(1)), "-1i8"},
		{"SignExtend", i8(-2).Convert(leaf.IntType(32, true)), "-2i32"},
		{"ZeroExtend", u8(254).Convert(leaf.IntType(32, true)), "254i32"},
		{"Truncate", leaf.NewIntConst(0x1234, 16, false).Convert(leaf.IntType(8, false)), "52u8"},
		{"BoolToInt", leaf.NewBoolConst(true).Convert(leaf.IntType(8, false)), "1u8"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if s := tt.got.String(); s != tt.want {
				t.Fatalf("unexpected value: %s, want %s", s, tt.want)
			}
		})
	}
}

func TestConstValue_Compare(t *testing.T) {
	minusOne, one := leaf.NewSignedConst(-1, 32), leaf.NewSignedConst(1, 32)
	if !minusOne.Compare(leaf.OpLt, one) {
		t.Fatal("expected signed -1 < 1")
	}

	max, zero := leaf.NewIntConst(0xFFFFFFFF, 32, false), leaf.NewIntConst(0, 32, false)
	if !max.Compare(leaf.OpGt, zero) || !max.Compare(leaf.OpGe, max) || max.Compare(leaf.OpNe, max) {
		t.Fatal("unexpected unsigned comparison")
	}
}

func TestConstValue_Overflows(t *testing.T) {
	t.Run("Unsigned", func(t *testing.T) {
		a := leaf.NewIntConst(200, 8, false)
		if over, under := a.Overflows(leaf.OpAdd, a); !over || under {
			t.Fatalf("unexpected add: over=%v under=%v", over, under)
		} else if over, under := leaf.NewIntConst(1, 8, false).Overflows(leaf.OpSub, a); over || !under {
			t.Fatalf("unexpected sub: over=%v under=%v", over, under)
		} else if over, under := a.Overflows(leaf.OpMul, leaf.NewIntConst(1, 8, false)); over || under {
			t.Fatalf("unexpected mul: over=%v under=%v", over, under)
		}
	})

	t.Run("Signed", func(t *testing.T) {
		min, minusOne := leaf.NewSignedConst(-128, 8), leaf.NewSignedConst(-1, 8)
		if over, under := min.Overflows(leaf.OpSub, leaf.NewSignedConst(1, 8)); over || !under {
			t.Fatalf("unexpected sub: over=%v under=%v", over, under)
		} else if over, _ := min.Overflows(leaf.OpMul, minusOne); !over {
			t.Fatal("expected mul overflow")
		} else if over, _ := min.Overflows(leaf.OpDiv, minusOne); !over {
			t.Fatal("expected div overflow")
		}
	})

	t.Run("Saturate", func(t *testing.T) {
		if s := leaf.NewSignedConst(0, 8).Saturate(true).String(); s != "127i8" {
			t.Fatalf("unexpected max: %s", s)
		} else if s := leaf.NewSignedConst(0, 8).Saturate(false).String(); s != "-128i8" {
			t.Fatalf("unexpected min: %s", s)
		} else if s := leaf.NewIntConst(0, 16, false).Saturate(true).String(); s != "65535u16" {
			t.Fatalf("unexpected max: %s", s)
		}
	})
}

func TestConstValue_Width128(t *testing.T) {
	max := leaf.NewSignedConst(-1, 128).Convert(leaf.IntType(128, false))
	if s := max.String(); s != "340282366920938463463374607431768211455u128" {
		t.Fatalf("unexpected value: %s", s)
	} else if s := max.Add(leaf.NewIntConst(1, 128, false)).String(); s != "0u128" {
		t.Fatalf("unexpected wrap: %s", s)
	}
}

func TestIntBits_Const(t *testing.T) {
	const ones = ^uint64(0)
	for _, tt := range []struct {
		v      leaf.IntBits
		width  uint
		signed bool
		want   string
	}{
		{leaf.IntBits{Hi: 1, Lo: 5}, 128, false, "18446744073709551621u128"},
		{leaf.IntBits{Hi: ones, Lo: ones - 1}, 128, true, "-2i128"},
		{leaf.IntBits{Hi: ones, Lo: ones}, 8, true, "-1i8"},
		{leaf.IntBits{Lo: 300}, 8, false, "44u8"},
	} {
		if s := tt.v.Const(tt.width, tt.signed).String(); s != tt.want {
			t.Fatalf("%+v: got %s, want %s", tt.v, s, tt.want)
		}
	}
}
