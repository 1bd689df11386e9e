package z3

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/benbjohnson/leaf"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ leaf.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Check decides whether the conjunction of constraints is satisfiable. On
// Sat, every variable appearing in the constraints is assigned in the model.
// Unsat & Unknown are results, not errors.
func (s *Solver) Check(constraints []leaf.Constraint) (leaf.SolveResult, leaf.Model, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return leaf.Unknown, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	// Assert constraints.
	tr := newTranslator(s.ctx)
	values := make([]leaf.Value, len(constraints))
	for i, constraint := range constraints {
		values[i] = constraint.Value

		ast, err := tr.toBool(constraint.Value)
		if err != nil {
			return leaf.Unknown, nil, err
		}
		if constraint.Negated {
			if ast, err = s.ctx.makeNot(ast); err != nil {
				return leaf.Unknown, nil, err
			}
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return leaf.Unknown, nil, err
		}
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver gave up.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return leaf.Unknown, nil, err
	} else if ret == C.Z3_L_FALSE {
		return leaf.Unsat, nil, nil
	} else if ret == C.Z3_L_UNDEF {
		return leaf.Unknown, nil, nil
	}

	// Calculate a model for the given formula.
	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return leaf.Sat, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	m := make(leaf.Model)
	for _, v := range leaf.FindSymVars(values...) {
		c, err := s.ctx.evalVar(model, v)
		if err != nil {
			return leaf.Sat, nil, err
		}
		m[v.ID] = c
	}
	return leaf.Sat, m, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// evalVar evaluates a variable against the model with model completion
// and lifts the result to a constant of the variable's type.
func (ctx *Context) evalVar(model C.Z3_model, v *leaf.SymVar) (*leaf.ConstValue, error) {
	ast, err := ctx.makeVar(v)
	if err != nil {
		return nil, err
	}

	var out C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &out)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return nil, err
	}

	if v.Type.Kind == leaf.TypeBool {
		ret := C.Z3_get_bool_value(ctx.raw, out)
		return leaf.NewBoolConst(ret == C.Z3_L_TRUE), ctx.err("Z3_get_bool_value")
	}

	s := C.GoString(C.Z3_get_numeral_string(ctx.raw, out))
	if err := ctx.err("Z3_get_numeral_string"); err != nil {
		return nil, err
	}
	bits, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Errorf("z3: invalid numeral for %s: %q", v, s)
	}
	return leaf.NewIntConstFromBits(bits, v.Type), nil
}

func (ctx *Context) makeVar(v *leaf.SymVar) (C.Z3_ast, error) {
	sort, err := ctx.makeSort(v.Type)
	if err != nil {
		return nil, err
	}
	cname := C.CString(varName(v.ID))
	defer C.free(unsafe.Pointer(cname))
	symbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	return C.Z3_mk_const(ctx.raw, symbol, sort), ctx.err("Z3_mk_const")
}

// makeSort returns the sort used for values of type t.
func (ctx *Context) makeSort(t leaf.ValueType) (C.Z3_sort, error) {
	switch t.Kind {
	case leaf.TypeBool:
		return C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
	case leaf.TypeChar, leaf.TypeInt:
		return ctx.makeBVSort(t.Width)
	default:
		panic(errors.Wrapf(leaf.ErrUnsupported, "no sort for %s", t))
	}
}

func (ctx *Context) makeTrue() (C.Z3_ast, error) {
	return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
}

func (ctx *Context) makeFalse() (C.Z3_ast, error) {
	return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
}

func (ctx *Context) makeNot(ast C.Z3_ast) (C.Z3_ast, error) {
	return C.Z3_mk_not(ctx.raw, ast), ctx.err("Z3_mk_not")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeNumeral returns a bit-vector constant from its decimal representation.
func (ctx *Context) makeNumeral(width uint, bits *uint256.Int) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	cs := C.CString(bits.Dec())
	defer C.free(unsafe.Pointer(cs))
	return C.Z3_mk_numeral(ctx.raw, cs, t), ctx.err("Z3_mk_numeral")
}

func (ctx *Context) bvSize(expr C.Z3_ast) uint {
	t := C.Z3_get_sort(ctx.raw, expr)
	if err := ctx.err("Z3_get_sort"); err != nil {
		panic(err)
	}
	return ctx.bvSortSize(t)
}

// bvSortSize returns the size of t in bits. Panic if t is not a bit-vector sort.
func (ctx *Context) bvSortSize(t C.Z3_sort) uint {
	sz := uint(C.Z3_get_bv_sort_size(ctx.raw, t))
	if err := ctx.err("Z3_get_bv_sort_size"); err != nil {
		panic(err)
	}
	return sz
}

// isBool returns true if expr has the boolean sort.
func (ctx *Context) isBool(expr C.Z3_ast) bool {
	t := C.Z3_get_sort(ctx.raw, expr)
	return C.Z3_get_sort_kind(ctx.raw, t) == C.Z3_BOOL_SORT
}

func varName(id uint32) string {
	return fmt.Sprintf("v%d", id)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Stats holds counters for a solver.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
