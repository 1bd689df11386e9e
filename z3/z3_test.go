package z3_test

import (
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/benbjohnson/leaf/z3"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestSolver_Check(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if result, _ := MustCheck(t, s, leaf.Constraint{Value: leaf.NewBoolConst(true)}); result != leaf.Sat {
				t.Fatalf("unexpected result: %s", result)
			}
		})
		t.Run("False", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)
			if result, m := MustCheck(t, s, leaf.Constraint{Value: leaf.NewBoolConst(false)}); result != leaf.Unsat {
				t.Fatalf("unexpected result: %s", result)
			} else if m != nil {
				t.Fatalf("unexpected model: %s", m)
			}
		})
	})

	// Branch on x == 5 taken with x shadowing 5; the negation must yield
	// another value.
	t.Run("NegatedBranch", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(32, false), leaf.NewIntConst(5, 32, false))
		result, m := MustCheck(t, s, leaf.Constraint{
			Value:   leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewIntConst(5, 32, false)),
			Negated: true,
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if c := m[1]; c == nil {
			t.Fatal("expected value for v1")
		} else if c.Uint64() == 5 {
			t.Fatal("expected value other than 5")
		} else if diff := cmp.Diff(c.Type, leaf.IntType(32, false)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Signed", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, true), nil)
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpLt, x, leaf.NewSignedConst(-100, 8)),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Int64(); v >= -100 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("Unsigned", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// 0x80 is greater than 100 only when unsigned.
		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		result, m := MustCheck(t, s,
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpGt, x, leaf.NewIntConst(100, 8, false))},
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpLe, x, leaf.NewIntConst(0x80, 8, false))},
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpGe, x, leaf.NewIntConst(0x80, 8, false))},
		)
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 0x80 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		b := leaf.NewSymVar(1, leaf.BoolType(), leaf.NewBoolConst(true))
		result, m := MustCheck(t, s, leaf.Constraint{Value: b, Negated: true})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if !m[1].IsFalse() {
			t.Fatalf("unexpected value: %s", m[1])
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		t.Run("UnsignedAdd", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
			result, m := MustCheck(t, s, leaf.Constraint{
				Value: leaf.NewBoundCheckExpr(leaf.OpAdd, x, leaf.NewIntConst(200, 8, false), true),
			})
			if result != leaf.Sat {
				t.Fatalf("unexpected result: %s", result)
			} else if v := m[1].Uint64(); v <= 55 {
				t.Fatalf("unexpected value: %d", v)
			}
		})

		t.Run("UnsignedSubOverflow", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
			if result, _ := MustCheck(t, s, leaf.Constraint{
				Value: leaf.NewBoundCheckExpr(leaf.OpSub, x, leaf.NewIntConst(1, 8, false), true),
			}); result != leaf.Unsat {
				t.Fatalf("unexpected result: %s", result)
			}
		})

		t.Run("UnsignedSubUnderflow", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
			result, m := MustCheck(t, s, leaf.Constraint{
				Value: leaf.NewBoundCheckExpr(leaf.OpSub, x, leaf.NewIntConst(10, 8, false), false),
			})
			if result != leaf.Sat {
				t.Fatalf("unexpected result: %s", result)
			} else if v := m[1].Uint64(); v >= 10 {
				t.Fatalf("unexpected value: %d", v)
			}
		})

		t.Run("SignedMul", func(t *testing.T) {
			s := z3.NewSolver()
			defer MustCloseSolver(s)

			x := leaf.NewSymVar(1, leaf.IntType(8, true), nil)
			result, m := MustCheck(t, s, leaf.Constraint{
				Value: leaf.NewBoundCheckExpr(leaf.OpMul, x, leaf.NewSignedConst(2, 8), true),
			})
			if result != leaf.Sat {
				t.Fatalf("unexpected result: %s", result)
			} else if v := m[1].Int64(); v < 64 {
				t.Fatalf("unexpected value: %d", v)
			}
		})
	})

	t.Run("Select", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		i := leaf.NewSymVar(1, leaf.UsizeType(), nil)
		sel := leaf.NewSelectExpr(i, []leaf.Value{
			leaf.NewIntConst(10, 32, false),
			leaf.NewIntConst(20, 32, false),
			leaf.NewIntConst(30, 32, false),
		})
		result, m := MustCheck(t, s,
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpLt, i, leaf.NewUsizeConst(3))},
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq, sel, leaf.NewIntConst(20, 32, false))},
		)
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 1 {
			t.Fatalf("unexpected index: %d", v)
		}
	})

	t.Run("Shift", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		// The shift amount is narrower than the shifted value.
		y := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		shl := leaf.NewBinaryExpr(leaf.OpShl, leaf.NewIntConst(1, 32, false), y)
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq, shl, leaf.NewIntConst(1<<20, 32, false)),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 20 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("ByteSwap", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(16, false), nil)
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq,
				leaf.NewUnaryExpr(leaf.OpByteSwap, x),
				leaf.NewIntConst(0xAABB, 16, false),
			),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 0xBBAA {
			t.Fatalf("unexpected value: 0x%x", v)
		}
	})

	t.Run("BitReverse", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq,
				leaf.NewUnaryExpr(leaf.OpBitReverse, x),
				leaf.NewIntConst(0x01, 8, false),
			),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 0x80 {
			t.Fatalf("unexpected value: 0x%x", v)
		}
	})

	t.Run("TrailingZeros", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		result, m := MustCheck(t, s,
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq,
				leaf.NewUnaryExpr(leaf.OpTrailingZeros, x),
				leaf.NewIntConst(3, 32, false),
			)},
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpLt, x, leaf.NewIntConst(16, 8, false))},
		)
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 8 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("TrailingZerosOfOne", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		isOne := leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewIntConst(1, 8, false))}
		tz := func(n uint64) leaf.Constraint {
			return leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq,
				leaf.NewUnaryExpr(leaf.OpTrailingZeros, x),
				leaf.NewIntConst(n, 32, false),
			)}
		}
		if result, _ := MustCheck(t, s, isOne, tz(0)); result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if result, _ := MustCheck(t, s, isOne, tz(7)); result != leaf.Unsat {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("LeadingZeros", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		result, m := MustCheck(t, s,
			leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq,
				leaf.NewUnaryExpr(leaf.OpLeadingZeros, x),
				leaf.NewIntConst(8, 32, false),
			)},
		)
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Uint64(); v != 0 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("CountOnes", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, false), nil)
		if result, _ := MustCheck(t, s, leaf.Constraint{Value: leaf.NewBinaryExpr(leaf.OpEq,
			leaf.NewUnaryExpr(leaf.OpCountOnes, x),
			leaf.NewIntConst(9, 32, false),
		)}); result != leaf.Unsat {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("Cmp", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(16, true), nil)
		cmpExpr := leaf.NewBinaryExpr(leaf.OpCmp, x, leaf.NewSignedConst(0, 16))
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq, cmpExpr, leaf.NewSignedConst(-1, 8)),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Int64(); v >= 0 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("SignExtension", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.IntType(8, true), nil)
		ext := &leaf.ExtensionExpr{Source: x, Signed: true, Type: leaf.IntType(16, true)}
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq, ext, leaf.NewIntConst(0xFFFF, 16, true)),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if v := m[1].Int64(); v != -1 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("Width128", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		want := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
		x := leaf.NewSymVar(1, leaf.IntType(128, false), nil)
		result, m := MustCheck(t, s, leaf.Constraint{
			Value: leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewIntConstFromBits(want, leaf.IntType(128, false))),
		})
		if result != leaf.Sat {
			t.Fatalf("unexpected result: %s", result)
		} else if !m[1].Bits.Eq(want) {
			t.Fatalf("unexpected value: %s", m[1])
		}
	})

	t.Run("ErrUnsupportedFloat", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		x := leaf.NewSymVar(1, leaf.FloatType(11, 53), nil)
		defer func() {
			err, _ := recover().(error)
			assert.ErrorIs(t, err, leaf.ErrUnsupported)
		}()
		s.Check([]leaf.Constraint{{Value: leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewFloatConst(0, 11, 53))}})
	})

	t.Run("ErrMalformed", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)

		defer func() {
			err, _ := recover().(error)
			assert.ErrorIs(t, err, leaf.ErrMalformedExpr)
		}()
		s.Check([]leaf.Constraint{{Value: &leaf.RawValue{Addr: 0x1000}}})
	})

	t.Run("Stats", func(t *testing.T) {
		s := z3.NewSolver()
		defer MustCloseSolver(s)
		MustCheck(t, s, leaf.Constraint{Value: leaf.NewBoolConst(true)})
		MustCheck(t, s, leaf.Constraint{Value: leaf.NewBoolConst(true)})
		if n := s.Stats().SolveN; n != 2 {
			t.Fatalf("unexpected solve count: %d", n)
		}
	})
}

// MustCheck checks the constraints. Fatal on error.
func MustCheck(tb testing.TB, s *z3.Solver, constraints ...leaf.Constraint) (leaf.SolveResult, leaf.Model) {
	tb.Helper()
	result, m, err := s.Check(constraints)
	if err != nil {
		tb.Fatal(err)
	}
	return result, m
}

// MustCloseSolver closes s. Panic on error.
func MustCloseSolver(s *z3.Solver) {
	if err := s.Close(); err != nil {
		panic(err)
	}
}
