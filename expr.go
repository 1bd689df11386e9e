package leaf

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SymValue represents a symbolic value: a variable or an expression over one.
type SymValue interface {
	Value
	symValue()
}

func (*SymVar) symValue()          {}
func (*UnaryExpr) symValue()       {}
func (*BinaryExpr) symValue()      {}
func (*BoundCheckExpr) symValue()  {}
func (*ExtensionExpr) symValue()   {}
func (*TruncationExpr) symValue()  {}
func (*IteExpr) symValue()         {}
func (*TransmuteExpr) symValue()   {}
func (*SelectExpr) symValue()      {}
func (*RefExpr) symValue()         {}
func (*LenExpr) symValue()         {}
func (*PtrMetadataExpr) symValue() {}
func (*PartialExpr) symValue()     {}

// SymVar represents a free symbolic variable.
type SymVar struct {
	ID     uint32
	Type   ValueType
	Shadow *ConstValue // concrete value at creation, if known
}

// NewSymVar returns a new variable. The shadow must match the variable's type.
func NewSymVar(id uint32, t ValueType, shadow *ConstValue) *SymVar {
	if shadow != nil {
		assert(shadow.Type == t, "shadow type mismatch: %s != %s", shadow.Type, t)
	}
	return &SymVar{ID: id, Type: t, Shadow: shadow}
}

// String returns the string representation of the variable.
func (v *SymVar) String() string {
	return fmt.Sprintf("v%d:%s", v.ID, v.Type)
}

// UnaryExpr represents a unary operation on a symbolic operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Value
}

// NewUnaryExpr returns a new unary expression.
func NewUnaryExpr(op UnaryOp, operand Value) *UnaryExpr {
	assert(operand != nil, "unary expr: nil operand")
	return &UnaryExpr{Op: op, Operand: operand}
}

// String returns the string representation of the expression.
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", e.Op, e.Operand)
}

// BinaryExpr represents a binary operation where at least one operand is symbolic.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Value
	RHS Value
}

// NewBinaryExpr returns a new binary expression. Operands of non-shift
// operations must have the same width when both types are known.
func NewBinaryExpr(op BinaryOp, lhs, rhs Value) *BinaryExpr {
	assert(lhs != nil && rhs != nil, "binary expr: nil operand: op=%s", op)
	if !op.IsShift() && op != OpOffset {
		if lt, ok := TypeOf(lhs); ok {
			if rt, ok := TypeOf(rhs); ok && lt.Width != rt.Width {
				fatalf(ErrMalformedExpr, "binary expr width mismatch: op=%s %s != %s", op, lt, rt)
			}
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// BoundCheckExpr is true when Op applied to the operands leaves the range of
// their type: above the maximum when Overflow is set, below the minimum otherwise.
type BoundCheckExpr struct {
	Op       BinaryOp
	LHS      Value
	RHS      Value
	Overflow bool
}

// NewBoundCheckExpr returns a new bound check of an add, sub or mul.
func NewBoundCheckExpr(op BinaryOp, lhs, rhs Value, overflow bool) *BoundCheckExpr {
	switch op.Base() {
	case OpAdd, OpSub, OpMul:
	default:
		fatalf(ErrMalformedExpr, "bound check of %s", op)
	}
	return &BoundCheckExpr{Op: op.Base(), LHS: lhs, RHS: rhs, Overflow: overflow}
}

// String returns the string representation of the expression.
func (e *BoundCheckExpr) String() string {
	if e.Overflow {
		return fmt.Sprintf("(overflows %s %s %s)", e.Op, e.LHS, e.RHS)
	}
	return fmt.Sprintf("(underflows %s %s %s)", e.Op, e.LHS, e.RHS)
}

// ExtensionExpr widens Source to Type, sign-extending when Signed is set.
type ExtensionExpr struct {
	Source Value
	Signed bool
	Type   ValueType
}

// String returns the string representation of the expression.
func (e *ExtensionExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %s)", e.Type, e.Source)
	}
	return fmt.Sprintf("(zext %s %s)", e.Type, e.Source)
}

// TruncationExpr narrows Source to the width of Type.
type TruncationExpr struct {
	Source Value
	Type   ValueType
}

// String returns the string representation of the expression.
func (e *TruncationExpr) String() string {
	return fmt.Sprintf("(trunc %s %s)", e.Type, e.Source)
}

// IteExpr selects Then when Cond holds and Else otherwise.
type IteExpr struct {
	Cond Value
	Then Value
	Else Value
}

// String returns the string representation of the expression.
func (e *IteExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// TransmuteExpr reinterprets the bits of Source as Type.
type TransmuteExpr struct {
	Source Value
	TypeID TypeID
	Type   ValueType
}

// String returns the string representation of the expression.
func (e *TransmuteExpr) String() string {
	return fmt.Sprintf("(transmute %s %s)", e.Type, e.Source)
}

// SelectExpr chooses the candidate at position Index. Candidates may be
// nested selects when more than one symbolic index is involved.
type SelectExpr struct {
	Index      Value
	Candidates []Value
}

// NewSelectExpr returns a new select over a non-empty list of candidates.
func NewSelectExpr(index Value, candidates []Value) *SelectExpr {
	assert(index != nil, "select: nil index")
	assert(len(candidates) > 0, "select: no candidates")
	return &SelectExpr{Index: index, Candidates: candidates}
}

// String returns the string representation of the expression.
func (e *SelectExpr) String() string {
	return fmt.Sprintf("(select %s [%s])", e.Index, joinValues(e.Candidates))
}

// RefExpr is the address of a symbolic place.
type RefExpr struct {
	Place *SymPlace
}

// String returns the string representation of the expression.
func (e *RefExpr) String() string {
	return fmt.Sprintf("(ref %s)", e.Place)
}

// LenExpr is the length of a symbolic place.
type LenExpr struct {
	Place *SymPlace
}

// String returns the string representation of the expression.
func (e *LenExpr) String() string {
	return fmt.Sprintf("(len %s)", e.Place)
}

// PtrMetadataExpr is the metadata of a symbolic pointer.
type PtrMetadataExpr struct {
	Source Value
}

// String returns the string representation of the expression.
func (e *PtrMetadataExpr) String() string {
	return fmt.Sprintf("(ptr_metadata %s)", e.Source)
}

// PartialExpr is a porter used where a single symbolic value is expected.
type PartialExpr struct {
	Porter *PorterValue
}

// String returns the string representation of the expression.
func (e *PartialExpr) String() string {
	return fmt.Sprintf("(partial %s)", e.Porter)
}

// CompareValue returns an integer comparing two values structurally.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareValue(a, b Value) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := valueKind(a), valueKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstValue:
		return compareConstValue(a, b.(*ConstValue))
	case *ArrayValue:
		return compareValues(a.Elems, b.(*ArrayValue).Elems)
	case *AdtValue:
		b := b.(*AdtValue)
		if cmp := compareInt(int(a.Kind), int(b.Kind)); cmp != 0 {
			return cmp
		} else if cmp := compareInt(a.Variant, b.Variant); cmp != 0 {
			return cmp
		}
		return compareValues(a.Fields, b.Fields)
	case *FatPtrValue:
		b := b.(*FatPtrValue)
		if cmp := CompareValue(a.Addr, b.Addr); cmp != 0 {
			return cmp
		}
		return CompareValue(a.Metadata, b.Metadata)
	case *RawValue:
		b := b.(*RawValue)
		if cmp := compareUint64(a.Addr, b.Addr); cmp != 0 {
			return cmp
		}
		return compareUint64(uint64(a.TypeID), uint64(b.TypeID))
	case *PorterValue:
		return comparePorterValue(a, b.(*PorterValue))
	case *SymVar:
		return compareUint64(uint64(a.ID), uint64(b.(*SymVar).ID))
	case *UnaryExpr:
		b := b.(*UnaryExpr)
		if cmp := compareInt(int(a.Op), int(b.Op)); cmp != 0 {
			return cmp
		}
		return CompareValue(a.Operand, b.Operand)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if cmp := compareInt(int(a.Op), int(b.Op)); cmp != 0 {
			return cmp
		} else if cmp := CompareValue(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareValue(a.RHS, b.RHS)
	case *BoundCheckExpr:
		b := b.(*BoundCheckExpr)
		if cmp := compareBool(a.Overflow, b.Overflow); cmp != 0 {
			return cmp
		}
		return CompareValue(NewBinaryExpr(a.Op, a.LHS, a.RHS), NewBinaryExpr(b.Op, b.LHS, b.RHS))
	case *ExtensionExpr:
		b := b.(*ExtensionExpr)
		if cmp := compareBool(a.Signed, b.Signed); cmp != 0 {
			return cmp
		} else if cmp := compareValueType(a.Type, b.Type); cmp != 0 {
			return cmp
		}
		return CompareValue(a.Source, b.Source)
	case *TruncationExpr:
		b := b.(*TruncationExpr)
		if cmp := compareValueType(a.Type, b.Type); cmp != 0 {
			return cmp
		}
		return CompareValue(a.Source, b.Source)
	case *IteExpr:
		return compareValues([]Value{a.Cond, a.Then, a.Else}, []Value{b.(*IteExpr).Cond, b.(*IteExpr).Then, b.(*IteExpr).Else})
	case *TransmuteExpr:
		b := b.(*TransmuteExpr)
		if cmp := compareValueType(a.Type, b.Type); cmp != 0 {
			return cmp
		}
		return CompareValue(a.Source, b.Source)
	case *SelectExpr:
		b := b.(*SelectExpr)
		if cmp := CompareValue(a.Index, b.Index); cmp != 0 {
			return cmp
		}
		return compareValues(a.Candidates, b.Candidates)
	case *RefExpr:
		return strings.Compare(a.Place.String(), b.(*RefExpr).Place.String())
	case *LenExpr:
		return strings.Compare(a.Place.String(), b.(*LenExpr).Place.String())
	case *PtrMetadataExpr:
		return CompareValue(a.Source, b.(*PtrMetadataExpr).Source)
	case *PartialExpr:
		return comparePorterValue(a.Porter, b.(*PartialExpr).Porter)
	default:
		panic("unreachable")
	}
}

func compareConstValue(a, b *ConstValue) int {
	if cmp := compareInt(int(a.Kind), int(b.Kind)); cmp != 0 {
		return cmp
	} else if cmp := compareValueType(a.Type, b.Type); cmp != 0 {
		return cmp
	} else if cmp := a.Bits.Cmp(&b.Bits); cmp != 0 {
		return cmp
	} else if cmp := bytes.Compare(a.Bytes, b.Bytes); cmp != 0 {
		return cmp
	}
	return compareUint64(uint64(a.Func), uint64(b.Func))
}

func comparePorterValue(a, b *PorterValue) int {
	if cmp := compareUint64(a.Addr, b.Addr); cmp != 0 {
		return cmp
	} else if cmp := compareUint64(a.Size, b.Size); cmp != 0 {
		return cmp
	} else if cmp := compareInt(len(a.Entries), len(b.Entries)); cmp != 0 {
		return cmp
	}
	for i := range a.Entries {
		if cmp := compareUint64(a.Entries[i].Offset, b.Entries[i].Offset); cmp != 0 {
			return cmp
		} else if cmp := CompareValue(a.Entries[i].Value, b.Entries[i].Value); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareValues(a, b []Value) int {
	if cmp := compareInt(len(a), len(b)); cmp != 0 {
		return cmp
	}
	for i := range a {
		if cmp := CompareValue(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareValueType(a, b ValueType) int {
	if cmp := compareInt(int(a.Kind), int(b.Kind)); cmp != 0 {
		return cmp
	} else if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	} else if cmp := compareBool(a.Signed, b.Signed); cmp != 0 {
		return cmp
	}
	return compareUint64(uint64(a.EBits), uint64(b.EBits))
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	if !a && b {
		return -1
	} else if a && !b {
		return 1
	}
	return 0
}

// valueKind returns a numeric value for the type of value.
// Only used internally for equality checks and sorting.
func valueKind(v Value) int {
	switch v.(type) {
	case *ConstValue:
		return 1
	case *ArrayValue:
		return 2
	case *AdtValue:
		return 3
	case *FatPtrValue:
		return 4
	case *RawValue:
		return 5
	case *PorterValue:
		return 6
	case *SymVar:
		return 7
	case *UnaryExpr:
		return 8
	case *BinaryExpr:
		return 9
	case *BoundCheckExpr:
		return 10
	case *ExtensionExpr:
		return 11
	case *TruncationExpr:
		return 12
	case *IteExpr:
		return 13
	case *TransmuteExpr:
		return 14
	case *SelectExpr:
		return 15
	case *RefExpr:
		return 16
	case *LenExpr:
		return 17
	case *PtrMetadataExpr:
		return 18
	case *PartialExpr:
		return 19
	default:
		panic("unreachable")
	}
}

// ValueVisitor represents a visitor that can be passed to WalkValue().
type ValueVisitor interface {
	// Executed for every visited node. Return a different value to replace it.
	Visit(v Value) (Value, ValueVisitor)
}

// WalkValue traverses v depth-first. Values are immutable so a node whose
// children are replaced is copied rather than updated in place.
func WalkValue(visitor ValueVisitor, v Value) Value {
	if v == nil {
		return nil
	}
	other, visitor := visitor.Visit(v)
	if visitor == nil || other != v {
		return other
	}

	switch v := v.(type) {
	case *ConstValue, *RawValue, *SymVar, *RefExpr, *LenExpr:
		return v
	case *ArrayValue:
		if elems, ok := walkValues(visitor, v.Elems); ok {
			return &ArrayValue{Elems: elems}
		}
	case *AdtValue:
		if fields, ok := walkValues(visitor, v.Fields); ok {
			return &AdtValue{Kind: v.Kind, Variant: v.Variant, Fields: fields}
		}
	case *FatPtrValue:
		if addr, meta := WalkValue(visitor, v.Addr), WalkValue(visitor, v.Metadata); addr != v.Addr || meta != v.Metadata {
			return &FatPtrValue{Addr: addr, Metadata: meta, TypeID: v.TypeID}
		}
	case *PorterValue:
		if p, ok := walkPorter(visitor, v); ok {
			return p
		}
	case *UnaryExpr:
		if operand := WalkValue(visitor, v.Operand); operand != v.Operand {
			return &UnaryExpr{Op: v.Op, Operand: operand}
		}
	case *BinaryExpr:
		if lhs, rhs := WalkValue(visitor, v.LHS), WalkValue(visitor, v.RHS); lhs != v.LHS || rhs != v.RHS {
			return &BinaryExpr{Op: v.Op, LHS: lhs, RHS: rhs}
		}
	case *BoundCheckExpr:
		if lhs, rhs := WalkValue(visitor, v.LHS), WalkValue(visitor, v.RHS); lhs != v.LHS || rhs != v.RHS {
			return &BoundCheckExpr{Op: v.Op, LHS: lhs, RHS: rhs, Overflow: v.Overflow}
		}
	case *ExtensionExpr:
		if src := WalkValue(visitor, v.Source); src != v.Source {
			return &ExtensionExpr{Source: src, Signed: v.Signed, Type: v.Type}
		}
	case *TruncationExpr:
		if src := WalkValue(visitor, v.Source); src != v.Source {
			return &TruncationExpr{Source: src, Type: v.Type}
		}
	case *IteExpr:
		cond, then, els := WalkValue(visitor, v.Cond), WalkValue(visitor, v.Then), WalkValue(visitor, v.Else)
		if cond != v.Cond || then != v.Then || els != v.Else {
			return &IteExpr{Cond: cond, Then: then, Else: els}
		}
	case *TransmuteExpr:
		if src := WalkValue(visitor, v.Source); src != v.Source {
			return &TransmuteExpr{Source: src, TypeID: v.TypeID, Type: v.Type}
		}
	case *SelectExpr:
		index := WalkValue(visitor, v.Index)
		candidates, ok := walkValues(visitor, v.Candidates)
		if index != v.Index || ok {
			return &SelectExpr{Index: index, Candidates: candidates}
		}
	case *PtrMetadataExpr:
		if src := WalkValue(visitor, v.Source); src != v.Source {
			return &PtrMetadataExpr{Source: src}
		}
	case *PartialExpr:
		if p, ok := walkPorter(visitor, v.Porter); ok {
			return &PartialExpr{Porter: p}
		}
	default:
		panic("unreachable")
	}
	return v
}

// walkValues walks each value. Returns a new slice & true if any changed.
func walkValues(visitor ValueVisitor, a []Value) ([]Value, bool) {
	var other []Value
	for i, v := range a {
		if w := WalkValue(visitor, v); w != v {
			if other == nil {
				other = append([]Value(nil), a...)
			}
			other[i] = w
		}
	}
	if other == nil {
		return a, false
	}
	return other, true
}

func walkPorter(visitor ValueVisitor, p *PorterValue) (*PorterValue, bool) {
	var other *PorterValue
	for i, e := range p.Entries {
		w := WalkValue(visitor, e.Value)
		if w == Value(e.Value) {
			continue
		}
		sym, ok := w.(SymValue)
		assert(ok, "porter entry replaced by non-symbolic value: %s", w)
		if other == nil {
			other = &PorterValue{Addr: p.Addr, TypeID: p.TypeID, Size: p.Size, Entries: append([]PorterEntry(nil), p.Entries...)}
		}
		other.Entries[i].Value = sym
	}
	return other, other != nil
}

// FindSymVars returns all distinct variables within the values, sorted by ID.
func FindSymVars(values ...Value) []*SymVar {
	v := &symVarVisitor{m: make(map[uint32]*SymVar)}
	for _, value := range values {
		WalkValue(v, value)
	}

	a := make([]*SymVar, 0, len(v.m))
	for _, sv := range v.m {
		a = append(a, sv)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID < a[j].ID })
	return a
}

type symVarVisitor struct {
	m map[uint32]*SymVar
}

func (v *symVarVisitor) Visit(value Value) (Value, ValueVisitor) {
	if sv, ok := value.(*SymVar); ok {
		v.m[sv.ID] = sv
	}
	return value, v
}

// Evaluator computes the concrete value of an expression under an
// assignment of its variables.
type Evaluator struct {
	// Returns the value of a variable. Defaults to the variable's shadow.
	Lookup func(v *SymVar) (*ConstValue, bool)
}

// NewShadowEvaluator returns an evaluator that uses the concrete shadow of
// each variable.
func NewShadowEvaluator() *Evaluator {
	return &Evaluator{}
}

// NewModelEvaluator returns an evaluator that uses values from a solver model.
func NewModelEvaluator(m Model) *Evaluator {
	return &Evaluator{Lookup: func(v *SymVar) (*ConstValue, bool) {
		c, ok := m[v.ID]
		return c, ok
	}}
}

// Evaluate returns the constant value of v.
func (e *Evaluator) Evaluate(v Value) (*ConstValue, error) {
	switch v := v.(type) {
	case *ConstValue:
		return v, nil
	case *SymVar:
		return e.evaluateVar(v)
	case *UnaryExpr:
		operand, err := e.Evaluate(v.Operand)
		if err != nil {
			return nil, err
		}
		return asConstResult(foldUnary(v.Op, operand))
	case *BinaryExpr:
		lhs, rhs, err := e.evaluatePair(v.LHS, v.RHS)
		if err != nil {
			return nil, err
		}
		return asConstResult(foldBinary(v.Op, lhs, rhs))
	case *BoundCheckExpr:
		lhs, rhs, err := e.evaluatePair(v.LHS, v.RHS)
		if err != nil {
			return nil, err
		}
		over, under := lhs.Overflows(v.Op, rhs)
		if v.Overflow {
			return NewBoolConst(over), nil
		}
		return NewBoolConst(under), nil
	case *ExtensionExpr:
		src, err := e.Evaluate(v.Source)
		if err != nil {
			return nil, err
		}
		return src.Convert(v.Type), nil
	case *TruncationExpr:
		src, err := e.Evaluate(v.Source)
		if err != nil {
			return nil, err
		}
		return NewIntConstFromBits(&src.Bits, v.Type), nil
	case *TransmuteExpr:
		src, err := e.Evaluate(v.Source)
		if err != nil {
			return nil, err
		}
		return NewIntConstFromBits(&src.Bits, v.Type), nil
	case *IteExpr:
		cond, err := e.Evaluate(v.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return e.Evaluate(v.Then)
		}
		return e.Evaluate(v.Else)
	case *SelectExpr:
		index, err := e.Evaluate(v.Index)
		if err != nil {
			return nil, err
		} else if !index.Bits.IsUint64() || index.Bits.Uint64() >= uint64(len(v.Candidates)) {
			return nil, errors.Errorf("select index out of range: %s", index)
		}
		return e.Evaluate(v.Candidates[index.Bits.Uint64()])
	default:
		return nil, errors.Wrapf(ErrUnsupported, "cannot evaluate %T", v)
	}
}

func (e *Evaluator) evaluateVar(v *SymVar) (*ConstValue, error) {
	if e.Lookup != nil {
		if c, ok := e.Lookup(v); ok {
			return c, nil
		}
	}
	if v.Shadow == nil {
		return nil, errors.Errorf("no value for variable %s", v)
	}
	return v.Shadow, nil
}

func (e *Evaluator) evaluatePair(a, b Value) (*ConstValue, *ConstValue, error) {
	x, err := e.Evaluate(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := e.Evaluate(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func asConstResult(v Value, ok bool) (*ConstValue, error) {
	if !ok {
		return nil, errors.Wrap(ErrUnsupported, "cannot fold operation")
	}
	c, ok := v.(*ConstValue)
	if !ok {
		return nil, errors.Errorf("non-scalar result: %s", v)
	}
	return c, nil
}
