package leaf

import (
	"context"
	"io"
	"log"
	"log/slog"

	"github.com/pkg/errors"
)

// PlaceRef refers to a place under construction by the instrumentation.
type PlaceRef uint64

// OperandRef refers to an operand under construction by the instrumentation.
type OperandRef uint64

// SwitchInfo describes a branch decision.
type SwitchInfo struct {
	Location BlockLocation
	Discr    OperandRef
}

// AssertionInfo describes a runtime check.
type AssertionInfo struct {
	Location BlockLocation
	Cond     OperandRef
	Expected bool
}

// Backend is a single engine instance. It mirrors the operations of one
// program run on the symbolic memory, the call stack and the trace.
//
// A Backend is not safe for concurrent use.
type Backend struct {
	config    Config
	types     *TypeManager
	state     *State
	calls     *CallStackManager
	builder   *Builder
	retriever *Retriever

	trace      TraceManager
	aggregator *AggregatorTraceManager
	solving    *SolvingTraceManager
	coverage   *BranchCoverage
	sanity     *SanityChecker

	places      map[PlaceRef]*Place
	operands    map[OperandRef]Value
	nextPlace   PlaceRef
	nextOperand OperandRef
	nextVarID   uint32

	steps int
	tags  []string
	debug string

	// Used for solving the negation of branch constraints.
	// Must set before execution when solving is enabled.
	Solver Solver

	// Used for reading concrete values. Defaults to the current process.
	Memory MemoryReader

	// Structured logger for built expressions and trace steps.
	Logger *slog.Logger

	// Optional writer for trace steps as they are recorded.
	TraceWriter io.Writer
}

// NewBackend returns a new engine instance. Type layouts are registered in
// types, which may be shared read-only with other instances.
func NewBackend(config Config, types *TypeManager) *Backend {
	b := &Backend{
		config:   config,
		types:    types,
		places:   make(map[PlaceRef]*Place),
		operands: make(map[OperandRef]Value),
		Memory:   ProcessMemory{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	b.state = NewState(types, config.SymPlace, b)
	b.calls = NewCallStackManager(b.state, config.Call, config.SymPlace)
	b.builder = NewDefaultBuilder(slog.New(&backendHandler{b: b}))
	b.retriever = NewRetriever(types, memoryFunc(func(addr, size uint64) []byte {
		return b.Memory.ReadMemory(addr, size)
	}))
	b.trace = b.newTraceManager()
	return b
}

// newTraceManager builds the trace layers selected by the configuration.
func (b *Backend) newTraceManager() TraceManager {
	b.aggregator = &AggregatorTraceManager{}
	var m TraceManager = &LoggingTraceManager{
		Next:   b.aggregator,
		Writer: writerFunc(func(p []byte) (int, error) {
			if b.TraceWriter == nil {
				return len(p), nil
			}
			return b.TraceWriter.Write(p)
		}),
		Logger: slog.New(&backendHandler{b: b}),
	}

	if b.config.Trace.Solve {
		b.solving = &SolvingTraceManager{Next: m, Solver: solverFunc(func(constraints []Constraint) (SolveResult, Model, error) {
			if b.Solver == nil {
				return Unknown, nil, nil
			}
			return b.Solver.Check(constraints)
		})}
		m = b.solving
	}
	if b.config.Trace.Dedup {
		m = &FilteringTraceManager{Next: m, Filter: NewDedupFilter()}
	}

	var inspectors []StepInspector
	if b.config.Trace.Coverage {
		b.coverage = NewBranchCoverage()
		inspectors = append(inspectors, b.coverage)
	}
	if b.config.Trace.SanityCheck {
		b.sanity = NewSanityChecker()
		inspectors = append(inspectors, b.sanity)
	}
	if len(inspectors) > 0 {
		m = &InspectingTraceManager{Next: m, Inspectors: inspectors}
	}
	return m
}

// State returns the symbolic memory of the instance.
func (b *Backend) State() *State { return b.state }

// Types returns the type registry of the instance.
func (b *Backend) Types() *TypeManager { return b.types }

// Trace returns all recorded steps.
func (b *Backend) Trace() []TraceRecord { return b.aggregator.Records() }

// Answers returns the models found for negated branch constraints.
func (b *Backend) Answers() []Answer {
	if b.solving == nil {
		return nil
	}
	return b.solving.Answers()
}

// Coverage returns the branch coverage, if enabled.
func (b *Backend) Coverage() *BranchCoverage { return b.coverage }

// SanityViolations returns constraints that did not hold concretely.
func (b *Backend) SanityViolations() []Constraint {
	if b.sanity == nil {
		return nil
	}
	return b.sanity.Violations()
}

// Shutdown appends the trace, the answers and the type layouts to the
// configured output files.
func (b *Backend) Shutdown() error {
	out := &b.config.Outputs
	if path := out.Path(out.Trace); path != "" {
		if err := WriteTrace(path, b.Trace()); err != nil {
			return errors.Wrap(err, "write trace")
		}
	}
	if path := out.Path(out.Answers); path != "" {
		if err := WriteAnswers(path, b.Answers()); err != nil {
			return errors.Wrap(err, "write answers")
		}
	}
	if path := out.Path(out.Types); path != "" && b.types.Len() > 0 {
		if err := WriteTypes(path, b.types); err != nil {
			return errors.Wrap(err, "write types")
		}
	}
	return nil
}

// Stamp records that sym was concretized to concrete. Implements Stamper.
func (b *Backend) Stamp(sym Value, concrete Value) {
	sym = b.retriever.Retrieve(sym)
	if !IsSymbolic(sym) {
		return
	}
	b.notifyStep(StepStamp, BlockLocation{}, []Constraint{{Value: b.builder.Eq(sym, concrete)}})
}

// Places

func (b *Backend) pushPlace(p *Place) PlaceRef {
	b.nextPlace++
	b.places[b.nextPlace] = p
	return b.nextPlace
}

func (b *Backend) place(ref PlaceRef) *Place {
	p, ok := b.places[ref]
	if !ok {
		fatalf(ErrInvalidPlace, "unknown place reference: %d", ref)
	}
	return p
}

func (b *Backend) takePlace(ref PlaceRef) *Place {
	p := b.place(ref)
	delete(b.places, ref)
	return p
}

// RefPlaceReturnValue starts a place at the return value local.
func (b *Backend) RefPlaceReturnValue() PlaceRef {
	return b.pushPlace(NewPlace(ReturnValueLocal()))
}

// RefPlaceArgument starts a place at the argument with a 1-based index.
func (b *Backend) RefPlaceArgument(index int) PlaceRef {
	return b.pushPlace(NewPlace(ArgumentLocal(index)))
}

// RefPlaceLocal starts a place at a normal local.
func (b *Backend) RefPlaceLocal(index int) PlaceRef {
	return b.pushPlace(NewPlace(NormalLocal(index)))
}

// RefPlaceDeref appends a dereference to the place.
func (b *Backend) RefPlaceDeref(ref PlaceRef) {
	b.place(ref).Project(&Projection{Kind: ProjDeref})
}

// RefPlaceField appends a field projection to the place.
func (b *Backend) RefPlaceField(ref PlaceRef, field int) {
	b.place(ref).Project(&Projection{Kind: ProjField, Field: field})
}

// RefPlaceIndex appends an index projection. The index place is consumed.
func (b *Backend) RefPlaceIndex(ref, index PlaceRef) {
	idx := b.takePlace(index)
	b.place(ref).Project(&Projection{Kind: ProjIndex, Index: idx})
}

// RefPlaceConstantIndex appends a constant index projection.
func (b *Backend) RefPlaceConstantIndex(ref PlaceRef, offset, minLen uint64, fromEnd bool) {
	b.place(ref).Project(&Projection{Kind: ProjConstantIndex, Offset: offset, MinLen: minLen, FromEnd: fromEnd})
}

// RefPlaceSubslice appends a subslice projection.
func (b *Backend) RefPlaceSubslice(ref PlaceRef, from, to uint64, fromEnd bool) {
	b.place(ref).Project(&Projection{Kind: ProjSubslice, From: from, To: to, FromEnd: fromEnd})
}

// RefPlaceDowncast appends a downcast to an enum variant.
func (b *Backend) RefPlaceDowncast(ref PlaceRef, variant int) {
	b.place(ref).Project(&Projection{Kind: ProjDowncast, Variant: variant})
}

// RefPlaceOpaqueCast appends an opaque cast.
func (b *Backend) RefPlaceOpaqueCast(ref PlaceRef) {
	b.place(ref).Project(&Projection{Kind: ProjOpaqueCast})
}

// RefPlaceSubtype appends a subtype cast.
func (b *Backend) RefPlaceSubtype(ref PlaceRef) {
	b.place(ref).Project(&Projection{Kind: ProjSubtype})
}

// SetPlaceAddress sets the address of the place after its last step.
func (b *Backend) SetPlaceAddress(ref PlaceRef, addr uint64) {
	b.place(ref).LastMeta().SetAddr(addr)
}

// SetPlaceTypeID sets the type of the place after its last step.
func (b *Backend) SetPlaceTypeID(ref PlaceRef, id TypeID) {
	m := b.place(ref).LastMeta()
	m.SetTypeID(id)
	if info, ok := b.types.Get(id); ok {
		if !m.HasSize {
			m.SetSize(info.Size)
		}
		if t, ok := info.PrimitiveType(); ok && m.Type == nil {
			m.SetType(t)
		}
	}
}

// SetPlaceTypeBool marks the place as holding a bool.
func (b *Backend) SetPlaceTypeBool(ref PlaceRef) { b.place(ref).LastMeta().SetType(BoolType()) }

// SetPlaceTypeChar marks the place as holding a char.
func (b *Backend) SetPlaceTypeChar(ref PlaceRef) { b.place(ref).LastMeta().SetType(CharType()) }

// SetPlaceTypeInt marks the place as holding an integer.
func (b *Backend) SetPlaceTypeInt(ref PlaceRef, width uint, signed bool) {
	b.place(ref).LastMeta().SetType(IntType(width, signed))
}

// SetPlaceTypeFloat marks the place as holding a float.
func (b *Backend) SetPlaceTypeFloat(ref PlaceRef, ebits, sbits uint) {
	b.place(ref).LastMeta().SetType(FloatType(ebits, sbits))
}

// SetPlaceSize sets the size in bytes of the place.
func (b *Backend) SetPlaceSize(ref PlaceRef, size uint64) {
	b.place(ref).LastMeta().SetSize(size)
}

// Operands

func (b *Backend) pushOperand(v Value) OperandRef {
	b.nextOperand++
	b.operands[b.nextOperand] = v
	return b.nextOperand
}

func (b *Backend) takeOperand(ref OperandRef) Value {
	v, ok := b.operands[ref]
	if !ok {
		fatalf(ErrInvalidOperand, "unknown operand reference: %d", ref)
	}
	delete(b.operands, ref)
	return v
}

func (b *Backend) takeOperands(refs []OperandRef) []Value {
	a := make([]Value, len(refs))
	for i, ref := range refs {
		a[i] = b.takeOperand(ref)
	}
	return a
}

// RefOperandCopy returns an operand copying the value of the place.
func (b *Backend) RefOperandCopy(ref PlaceRef) OperandRef {
	return b.pushOperand(b.state.CopyPlace(b.takePlace(ref)))
}

// RefOperandMove returns an operand moving the value out of the place.
func (b *Backend) RefOperandMove(ref PlaceRef) OperandRef {
	p := b.takePlace(ref)
	if v, ok := b.state.TryTakePlace(p); ok {
		return b.pushOperand(v)
	}
	return b.pushOperand(placeholder(p))
}

// RefOperandConst returns an operand of a constant.
func (b *Backend) RefOperandConst(c *ConstValue) OperandRef {
	return b.pushOperand(c)
}

func (b *Backend) RefOperandConstBool(v bool) OperandRef { return b.RefOperandConst(NewBoolConst(v)) }
func (b *Backend) RefOperandConstChar(r rune) OperandRef { return b.RefOperandConst(NewCharConst(r)) }
func (b *Backend) RefOperandConstStr(s string) OperandRef {
	return b.RefOperandConst(NewStrConst(s))
}
func (b *Backend) RefOperandConstByteStr(p []byte) OperandRef {
	return b.RefOperandConst(NewByteStrConst(p))
}
func (b *Backend) RefOperandConstAddr(addr uint64) OperandRef {
	return b.RefOperandConst(NewAddrConst(addr))
}
func (b *Backend) RefOperandConstFunc(id FuncID) OperandRef { return b.RefOperandConst(NewFuncConst(id)) }
func (b *Backend) RefOperandConstZST() OperandRef           { return b.RefOperandConst(NewZSTConst()) }

// RefOperandConstInt returns an operand of an integer constant. Signed
// values are sign-extended from 64 bits.
func (b *Backend) RefOperandConstInt(v uint64, width uint, signed bool) OperandRef {
	if signed {
		return b.RefOperandConst(NewSignedConst(int64(v), width))
	}
	return b.RefOperandConst(NewIntConst(v, width, false))
}

// RefOperandConstIntBits returns an operand of an integer constant of up
// to 128 bits.
func (b *Backend) RefOperandConstIntBits(v IntBits, width uint, signed bool) OperandRef {
	return b.RefOperandConst(v.Const(width, signed))
}

// RefOperandConstFloat returns an operand of a float constant.
func (b *Backend) RefOperandConstFloat(bits uint64, ebits, sbits uint) OperandRef {
	return b.RefOperandConst(NewFloatConst(bits, ebits, sbits))
}

// NewSymValue returns an operand of a fresh symbolic variable shadowing a
// concrete value.
func (b *Backend) NewSymValue(shadow *ConstValue) OperandRef {
	b.nextVarID++
	return b.pushOperand(NewSymVar(b.nextVarID, shadow.Type, shadow))
}

func (b *Backend) NewSymValueBool(v bool) OperandRef { return b.NewSymValue(NewBoolConst(v)) }
func (b *Backend) NewSymValueChar(r rune) OperandRef { return b.NewSymValue(NewCharConst(r)) }

// NewSymValueInt returns a fresh symbolic integer. Signed values are
// sign-extended from 64 bits.
func (b *Backend) NewSymValueInt(v uint64, width uint, signed bool) OperandRef {
	if signed {
		return b.NewSymValue(NewSignedConst(int64(v), width))
	}
	return b.NewSymValue(NewIntConst(v, width, false))
}

// NewSymValueIntBits returns a fresh symbolic integer of up to 128 bits.
func (b *Backend) NewSymValueIntBits(v IntBits, width uint, signed bool) OperandRef {
	return b.NewSymValue(v.Const(width, signed))
}

// NewSymValueFloat returns a fresh symbolic float.
func (b *Backend) NewSymValueFloat(bits uint64, ebits, sbits uint) OperandRef {
	return b.NewSymValue(NewFloatConst(bits, ebits, sbits))
}

// Assignments

// assign writes v to the destination place. Concrete results are left to
// the program's memory.
func (b *Backend) assign(dest PlaceRef, fn func(p *Place) Value) {
	p := b.takePlace(dest)
	v := fn(p)
	if v == nil {
		v = placeholder(p)
	}
	b.state.SetPlace(p, v)
}

// symbolic returns the operands retrieved for building, or nil when all
// operands are concrete.
func (b *Backend) symbolic(values ...Value) []Value {
	var sym bool
	for _, v := range values {
		sym = sym || IsSymbolic(v)
	}
	if !sym {
		return nil
	}
	for i := range values {
		values[i] = b.retriever.Retrieve(values[i])
	}
	return values
}

// AssignUse assigns an operand.
func (b *Backend) AssignUse(dest PlaceRef, operand OperandRef) {
	v := b.takeOperand(operand)
	b.assign(dest, func(*Place) Value { return v })
}

// AssignRepeat assigns an array of count copies of an operand.
func (b *Backend) AssignRepeat(dest PlaceRef, operand OperandRef, count uint64) {
	v := b.takeOperand(operand)
	b.assign(dest, func(*Place) Value {
		if !IsSymbolic(v) {
			return nil
		}
		elems := make([]Value, count)
		for i := range elems {
			elems[i] = v
		}
		return NewArrayValue(elems...)
	})
}

// AssignRef assigns the address of a place.
func (b *Backend) AssignRef(dest, ref PlaceRef, mutable bool) {
	p := b.takePlace(ref)
	b.assign(dest, func(*Place) Value { return b.state.Ref(p) })
}

// AssignThreadLocalRef assigns the address of a thread local.
func (b *Backend) AssignThreadLocalRef(dest PlaceRef) {
	b.assign(dest, func(*Place) Value { return nil })
}

// AssignRawPtrOf assigns the raw address of a place.
func (b *Backend) AssignRawPtrOf(dest, ref PlaceRef, mutable bool) {
	b.AssignRef(dest, ref, mutable)
}

// AssignLen assigns the length of an array or slice place.
func (b *Backend) AssignLen(dest, ref PlaceRef) {
	p := b.takePlace(ref)
	b.assign(dest, func(*Place) Value { return b.state.Len(p) })
}

// AssignCast assigns the result of a cast.
func (b *Backend) AssignCast(dest PlaceRef, kind CastKind, operand OperandRef, target CastTarget) {
	v := b.takeOperand(operand)
	b.assign(dest, func(p *Place) Value {
		values := b.symbolic(v)
		if values == nil {
			return nil
		}
		if target.Type == nil {
			if info, ok := b.types.Get(target.TypeID); ok {
				if t, ok := info.PrimitiveType(); ok {
					target.Type = &t
				}
			}
		}
		return b.builder.Cast(kind, values[0], target)
	})
}

func (b *Backend) AssignCastChar(dest PlaceRef, operand OperandRef) {
	t := CharType()
	b.AssignCast(dest, CastToChar, operand, CastTarget{Type: &t})
}

func (b *Backend) AssignCastInt(dest PlaceRef, operand OperandRef, width uint, signed bool) {
	t := IntType(width, signed)
	b.AssignCast(dest, CastToInt, operand, CastTarget{Type: &t})
}

func (b *Backend) AssignCastFloat(dest PlaceRef, operand OperandRef, ebits, sbits uint) {
	t := FloatType(ebits, sbits)
	b.AssignCast(dest, CastToFloat, operand, CastTarget{Type: &t})
}

func (b *Backend) AssignCastExposeProvenance(dest PlaceRef, operand OperandRef) {
	t := UsizeType()
	b.AssignCast(dest, CastExposeProvenance, operand, CastTarget{Type: &t})
}

func (b *Backend) AssignCastWithExposedProvenance(dest PlaceRef, operand OperandRef, id TypeID) {
	t := UsizeType()
	b.AssignCast(dest, CastWithExposedProvenance, operand, CastTarget{Type: &t, TypeID: id})
}

func (b *Backend) AssignCastToPtr(dest PlaceRef, operand OperandRef, id TypeID) {
	t := UsizeType()
	b.AssignCast(dest, CastToPtr, operand, CastTarget{Type: &t, TypeID: id})
}

// AssignCastUnsize assigns a fat pointer built from a thin one. The
// metadata is read from the destination once the program has written it.
func (b *Backend) AssignCastUnsize(dest PlaceRef, operand OperandRef) {
	b.assignFatCast(dest, CastPtrUnsize, operand)
}

// AssignCastSizedDyn assigns a trait object pointer built from a thin one.
func (b *Backend) AssignCastSizedDyn(dest PlaceRef, operand OperandRef) {
	b.assignFatCast(dest, CastSizedDyn, operand)
}

func (b *Backend) assignFatCast(dest PlaceRef, kind CastKind, operand OperandRef) {
	v := b.takeOperand(operand)
	b.assign(dest, func(p *Place) Value {
		if !IsSymbolic(v) {
			return nil
		}
		m := p.LastMeta()
		meta := &RawValue{Addr: m.Addr + PointerWidth/8, Type: typePtr(UsizeType())}
		return b.builder.Cast(kind, v, CastTarget{TypeID: m.TypeID, Metadata: meta})
	})
}

func (b *Backend) AssignCastTransmute(dest PlaceRef, operand OperandRef, id TypeID) {
	b.AssignCast(dest, CastTransmute, operand, CastTarget{TypeID: id})
}

// AssignBinaryOp assigns the result of a binary operation.
func (b *Backend) AssignBinaryOp(dest PlaceRef, op BinaryOp, lhs, rhs OperandRef) {
	l, r := b.takeOperand(lhs), b.takeOperand(rhs)
	b.assign(dest, func(*Place) Value {
		values := b.symbolic(l, r)
		if values == nil {
			return nil
		} else if op == OpOffset {
			fatalf(ErrUnsupported, "pointer offset without pointee size: %s, %s", values[0], values[1])
		}
		return b.builder.BinaryOp(op, values[0], values[1])
	})
}

// AssignOffset assigns ptr advanced by n elements of the pointee type.
func (b *Backend) AssignOffset(dest PlaceRef, ptr, n OperandRef, pointee TypeID) {
	p, c := b.takeOperand(ptr), b.takeOperand(n)
	b.assign(dest, func(*Place) Value {
		values := b.symbolic(p, c)
		if values == nil {
			return nil
		}
		size, ok := b.types.SizeOf(pointee)
		if !ok {
			fatalf(ErrTypeNotFound, "pointee of offset: %s", pointee)
		}
		return b.builder.Offset(values[0], values[1], size)
	})
}

// AssignUnaryOp assigns the result of a unary operation.
func (b *Backend) AssignUnaryOp(dest PlaceRef, op UnaryOp, operand OperandRef) {
	v := b.takeOperand(operand)
	b.assign(dest, func(*Place) Value {
		if op == OpPtrMetadata {
			if !IsSymbolic(v) {
				return nil
			}
			return b.builder.UnaryOp(op, v)
		}
		values := b.symbolic(v)
		if values == nil {
			return nil
		}
		return b.builder.UnaryOp(op, values[0])
	})
}

// tagPlace returns a place for the discriminant of the enum at p.
func (b *Backend) tagPlace(p *Place) (*Place, bool) {
	m := p.LastMeta()
	info, ok := b.types.Get(m.TypeID)
	if !ok || info.Tag == nil {
		return nil, false
	}
	t, ok := ParseValueType(info.Tag.Prim)
	assert(ok, "invalid tag type: %q", info.Tag.Prim)

	tag := NewPlace(NormalLocal(0))
	tag.Meta.SetAddr(m.Addr + info.Tag.Offset)
	tag.Meta.SetType(t)
	return tag, true
}

// SetDiscriminant records that the enum at dest was set to a variant. The
// tag becomes concrete.
func (b *Backend) SetDiscriminant(dest PlaceRef, variant int) {
	p := b.takePlace(dest)
	if tag, ok := b.tagPlace(p); ok {
		b.state.Clear(tag.Meta.Addr, tag.Meta.Size)
	}
}

// AssignDiscriminant assigns the discriminant of the enum at ref.
func (b *Backend) AssignDiscriminant(dest, ref PlaceRef) {
	p := b.takePlace(ref)
	b.assign(dest, func(d *Place) Value {
		tag, ok := b.tagPlace(p)
		if !ok {
			return nil
		}
		v := b.state.CopyPlace(tag)
		if !IsSymbolic(v) {
			return nil
		}
		if t := d.LastMeta().Type; t != nil {
			return b.builder.ToInt(b.retriever.Retrieve(v), *t)
		}
		return v
	})
}

func (b *Backend) assignAggregate(dest PlaceRef, fields []OperandRef, fn func(values []Value) Value) {
	values := b.takeOperands(fields)
	b.assign(dest, func(*Place) Value {
		for _, v := range values {
			if IsSymbolic(v) {
				return fn(values)
			}
		}
		return nil
	})
}

// AssignAggregateArray assigns an array.
func (b *Backend) AssignAggregateArray(dest PlaceRef, items []OperandRef) {
	b.assignAggregate(dest, items, func(a []Value) Value { return NewArrayValue(a...) })
}

// AssignAggregateTuple assigns a tuple.
func (b *Backend) AssignAggregateTuple(dest PlaceRef, fields []OperandRef) {
	b.assignAggregate(dest, fields, func(a []Value) Value { return &AdtValue{Kind: AdtTuple, Fields: a} })
}

// AssignAggregateStruct assigns a struct.
func (b *Backend) AssignAggregateStruct(dest PlaceRef, fields []OperandRef) {
	b.assignAggregate(dest, fields, func(a []Value) Value { return &AdtValue{Kind: AdtStruct, Fields: a} })
}

// AssignAggregateEnum assigns an enum variant.
func (b *Backend) AssignAggregateEnum(dest PlaceRef, fields []OperandRef, variant int) {
	b.assignAggregate(dest, fields, func(a []Value) Value {
		return &AdtValue{Kind: AdtEnum, Variant: variant, Fields: a}
	})
}

// AssignAggregateUnion assigns a union with one active field.
func (b *Backend) AssignAggregateUnion(dest PlaceRef, active int, operand OperandRef) {
	v := b.takeOperand(operand)
	b.assign(dest, func(*Place) Value {
		if !IsSymbolic(v) {
			return nil
		}
		fields := make([]Value, active+1)
		fields[active] = v
		return &AdtValue{Kind: AdtUnion, Fields: fields}
	})
}

// AssignAggregateClosure assigns a closure of captured values.
func (b *Backend) AssignAggregateClosure(dest PlaceRef, upvars []OperandRef) {
	b.assignAggregate(dest, upvars, func(a []Value) Value { return &AdtValue{Kind: AdtClosure, Fields: a} })
}

// AssignAggregateCoroutine assigns a coroutine of captured values.
func (b *Backend) AssignAggregateCoroutine(dest PlaceRef, upvars []OperandRef) {
	b.assignAggregate(dest, upvars, func(a []Value) Value { return &AdtValue{Kind: AdtCoroutine, Fields: a} })
}

// AssignAggregateRawPtr assigns a pointer built from its address & metadata.
func (b *Backend) AssignAggregateRawPtr(dest PlaceRef, data, metadata OperandRef, mutable bool) {
	addr, meta := b.takeOperand(data), b.takeOperand(metadata)
	b.assign(dest, func(p *Place) Value {
		if !IsSymbolic(addr) && !IsSymbolic(meta) {
			return nil
		}
		if c, ok := meta.(*ConstValue); ok && c.Kind == ConstZST {
			return addr
		}
		return &FatPtrValue{Addr: addr, Metadata: meta, TypeID: p.LastMeta().TypeID}
	})
}

// AssignShallowInitBox assigns a box around an allocated pointer.
func (b *Backend) AssignShallowInitBox(dest PlaceRef, operand OperandRef, boxed TypeID) {
	v := b.takeOperand(operand)
	b.assign(dest, func(*Place) Value {
		if !IsSymbolic(v) {
			return nil
		}
		return v
	})
}

// Branches & assertions

func (b *Backend) notifyStep(kind StepKind, loc BlockLocation, constraints []Constraint) {
	for i := range constraints {
		constraints[i].Value = b.retriever.Retrieve(constraints[i].Value)
	}

	b.steps++
	step := Step{Index: b.steps, Kind: kind, Location: loc, Debug: b.debug}
	if len(b.tags) > 0 {
		step.Tags = append([]string(nil), b.tags...)
	}
	b.debug = ""
	b.trace.NotifyStep(step, constraints)
}

// takeBranch records the decision on the discriminant of info. Values are
// the compared constants; negated means none of them matched.
func (b *Backend) takeBranch(info SwitchInfo, values []*ConstValue, negated bool) {
	discr := b.takeOperand(info.Discr)
	if !IsSymbolic(discr) {
		b.notifyStep(StepBranch, info.Location, nil)
		return
	}
	discr = b.retriever.Retrieve(discr)

	var constraints []Constraint
	for _, v := range values {
		var cond Value
		if t, ok := TypeOf(discr); ok && t.Kind == TypeBool && v.Kind == ConstBool {
			cond = discr
			if v.IsFalse() {
				cond = b.builder.Not(discr)
			}
		} else {
			cond = b.builder.Eq(discr, v)
		}
		constraints = append(constraints, Constraint{Value: cond, Negated: negated})
	}
	b.notifyStep(StepBranch, info.Location, constraints)
}

// TakeBranchTrue records that a boolean branch was taken.
func (b *Backend) TakeBranchTrue(info SwitchInfo) {
	b.takeBranch(info, []*ConstValue{NewBoolConst(true)}, false)
}

// TakeBranchFalse records that a boolean branch was not taken.
func (b *Backend) TakeBranchFalse(info SwitchInfo) {
	b.takeBranch(info, []*ConstValue{NewBoolConst(false)}, false)
}

// TakeBranchOwBool records the otherwise target of a switch on false.
func (b *Backend) TakeBranchOwBool(info SwitchInfo) {
	b.takeBranch(info, []*ConstValue{NewBoolConst(false)}, true)
}

// TakeBranchInt records that the discriminant was equal to value.
func (b *Backend) TakeBranchInt(info SwitchInfo, value uint64, width uint, signed bool) {
	b.takeBranch(info, []*ConstValue{intConst(value, width, signed)}, false)
}

// TakeBranchOwInt records that the discriminant was none of the values.
func (b *Backend) TakeBranchOwInt(info SwitchInfo, nonValues []uint64, width uint, signed bool) {
	a := make([]*ConstValue, len(nonValues))
	for i, v := range nonValues {
		a[i] = intConst(v, width, signed)
	}
	b.takeBranch(info, a, true)
}

// TakeBranchIntBits records that the discriminant was equal to value, an
// integer of up to 128 bits.
func (b *Backend) TakeBranchIntBits(info SwitchInfo, value IntBits, width uint, signed bool) {
	b.takeBranch(info, []*ConstValue{value.Const(width, signed)}, false)
}

// TakeBranchOwIntBits records that the discriminant was none of the values.
func (b *Backend) TakeBranchOwIntBits(info SwitchInfo, nonValues []IntBits, width uint, signed bool) {
	a := make([]*ConstValue, len(nonValues))
	for i, v := range nonValues {
		a[i] = v.Const(width, signed)
	}
	b.takeBranch(info, a, true)
}

// TakeBranchChar records that the discriminant was equal to value.
func (b *Backend) TakeBranchChar(info SwitchInfo, value rune) {
	b.takeBranch(info, []*ConstValue{NewCharConst(value)}, false)
}

// TakeBranchOwChar records that the discriminant was none of the values.
func (b *Backend) TakeBranchOwChar(info SwitchInfo, nonValues []rune) {
	a := make([]*ConstValue, len(nonValues))
	for i, r := range nonValues {
		a[i] = NewCharConst(r)
	}
	b.takeBranch(info, a, true)
}

func intConst(v uint64, width uint, signed bool) *ConstValue {
	if signed {
		return NewSignedConst(int64(v), width)
	}
	return NewIntConst(v, width, false)
}

// assert records a runtime check. The operands of the check are consumed.
func (b *Backend) assert(info AssertionInfo, kind AssertKind, operands ...OperandRef) {
	b.takeOperands(operands)
	cond := b.takeOperand(info.Cond)

	var constraints []Constraint
	if IsSymbolic(cond) {
		constraints = append(constraints, Constraint{Value: cond, Negated: !info.Expected})
	}
	b.tags = append(b.tags, "assert:"+kind.String())
	b.notifyStep(StepAssert, info.Location, constraints)
	b.tags = b.tags[:len(b.tags)-1]
}

func (b *Backend) AssertBoundsCheck(info AssertionInfo, length, index OperandRef) {
	b.assert(info, AssertBoundsCheck, length, index)
}

func (b *Backend) AssertOverflow(info AssertionInfo, op BinaryOp, lhs, rhs OperandRef) {
	b.assert(info, AssertOverflow, lhs, rhs)
}

func (b *Backend) AssertOverflowNeg(info AssertionInfo, operand OperandRef) {
	b.assert(info, AssertOverflowNeg, operand)
}

func (b *Backend) AssertDivByZero(info AssertionInfo, operand OperandRef) {
	b.assert(info, AssertDivisionByZero, operand)
}

func (b *Backend) AssertRemByZero(info AssertionInfo, operand OperandRef) {
	b.assert(info, AssertRemainderByZero, operand)
}

func (b *Backend) AssertMisalignedPtrDeref(info AssertionInfo, required, found OperandRef) {
	b.assert(info, AssertMisalignedPointerDereference, required, found)
}

// Calls

// BeforeCallFunc is called at a call site before control is transferred.
func (b *Backend) BeforeCallFunc(fn OperandRef, args []OperandRef, tupled bool) {
	var id FuncID
	if c, ok := b.takeOperand(fn).(*ConstValue); ok && c.Kind == ConstFunc {
		id = c.Func
	}
	b.calls.PrepareForCall(id, b.takeOperands(args), tupled)
}

// EnterFunc is called at the entry of an instrumented function.
func (b *Backend) EnterFunc(fn FuncID, args []PlaceRef, ret PlaceRef) {
	b.setFuncMetadata(args, ret)
	b.calls.NotifyEnter(fn)
}

// EnterFuncTupled is called at the entry of a function whose arguments were
// passed as a single tuple at the given 1-based index.
func (b *Backend) EnterFuncTupled(fn FuncID, args []PlaceRef, ret PlaceRef, tupledIndex int, tupleType TypeID) {
	b.setFuncMetadata(args, ret)
	b.calls.TryUntupleArgument(tupledIndex, tupleType)
	b.calls.NotifyEnter(fn)
}

func (b *Backend) setFuncMetadata(args []PlaceRef, ret PlaceRef) {
	for i, ref := range args {
		b.calls.SetLocalMetadata(ArgumentLocal(i+1), *b.takePlace(ref).LastMeta())
	}
	b.calls.SetLocalMetadata(ReturnValueLocal(), *b.takePlace(ret).LastMeta())
}

// ReturnFromFunc is called when an instrumented function returns.
func (b *Backend) ReturnFromFunc() { b.calls.PopStackFrame() }

// OverrideReturnValue forces the return value of the current call.
func (b *Backend) OverrideReturnValue(operand OperandRef) {
	b.calls.OverrideReturnValue(b.takeOperand(operand))
}

// AfterCallFunc is called at the call site after the callee returned.
func (b *Backend) AfterCallFunc(dest PlaceRef) {
	b.calls.FinalizeCall(b.takePlace(dest))
}

// Intrinsics

// pointeePlace returns a place for the value pointed to by ptr. The
// instrumentation supplies the concrete address of the pointee.
func (b *Backend) pointeePlace(ptr Value, addr uint64, pointee TypeID, usage PlaceUsage) *Place {
	if IsSymbolic(ptr) {
		switch b.state.strategy(usage) {
		case StrategyConcretization:
		case StrategyStamping:
			b.Stamp(ptr, NewAddrConst(addr))
		default:
			log.Printf("[backend] symbolic pointer %s of intrinsic access concretized", ptr)
			b.Stamp(ptr, NewAddrConst(addr))
		}
	}

	p := NewPlace(NormalLocal(0))
	p.Meta.SetAddr(addr)
	p.Meta.SetTypeID(pointee)
	if info, ok := b.types.Get(pointee); ok {
		p.Meta.SetSize(info.Size)
		if t, ok := info.PrimitiveType(); ok {
			p.Meta.SetType(t)
		}
	}
	return p
}

// MemoryLoad assigns the value pointed to by ptr to dest.
func (b *Backend) MemoryLoad(ptr OperandRef, addr uint64, pointee TypeID, dest PlaceRef) {
	src := b.pointeePlace(b.takeOperand(ptr), addr, pointee, UsageRead)
	v := b.state.CopyPlace(src)
	b.assign(dest, func(*Place) Value { return v })
}

// MemoryStore writes src to the location pointed to by ptr.
func (b *Backend) MemoryStore(ptr OperandRef, addr uint64, pointee TypeID, src OperandRef) {
	dst := b.pointeePlace(b.takeOperand(ptr), addr, pointee, UsageWrite)
	v := b.takeOperand(src)
	if !IsSymbolic(v) {
		v = placeholder(dst)
	}
	b.state.SetPlace(dst, v)
}

// MemoryCopy copies count values of type elem from src to dst.
func (b *Backend) MemoryCopy(src, dst OperandRef, srcAddr, dstAddr uint64, elem TypeID, count uint64) {
	srcPtr, dstPtr := b.takeOperand(src), b.takeOperand(dst)
	size, ok := b.types.SizeOf(elem)
	if !ok {
		fatalf(ErrTypeNotFound, "memory copy of %s", elem)
	}

	// Read everything first so overlapping ranges copy correctly.
	values := make([]Value, count)
	for i := range values {
		p := b.pointeePlace(srcPtr, srcAddr+uint64(i)*size, elem, UsageRead)
		values[i] = b.state.CopyPlace(p)
	}
	for i, v := range values {
		p := b.pointeePlace(dstPtr, dstAddr+uint64(i)*size, elem, UsageWrite)
		if !IsSymbolic(v) {
			v = placeholder(p)
		}
		b.state.SetPlace(p, v)
	}
}

// AtomicLoad is a sequential MemoryLoad.
func (b *Backend) AtomicLoad(ptr OperandRef, addr uint64, pointee TypeID, dest PlaceRef) {
	b.MemoryLoad(ptr, addr, pointee, dest)
}

// AtomicStore is a sequential MemoryStore.
func (b *Backend) AtomicStore(ptr OperandRef, addr uint64, pointee TypeID, src OperandRef) {
	b.MemoryStore(ptr, addr, pointee, src)
}

// updateByPtr replaces the value pointed to by ptr with the result of
// update and assigns the result of prev to prevDest.
func (b *Backend) updateByPtr(ptr Value, addr uint64, pointee TypeID, prevDest PlaceRef, update func(current Value) Value, prev func(current Value) Value) {
	current := b.state.CopyPlace(b.pointeePlace(ptr, addr, pointee, UsageRead))

	p := b.pointeePlace(ptr, addr, pointee, UsageWrite)
	next := update(current)
	if next == nil {
		next = placeholder(p)
	}
	b.state.SetPlace(p, next)

	b.assign(prevDest, func(*Place) Value { return prev(current) })
}

// AtomicExchange stores val and assigns the previous value to prevDest.
func (b *Backend) AtomicExchange(ptr OperandRef, addr uint64, pointee TypeID, val OperandRef, prevDest PlaceRef) {
	p, v := b.takeOperand(ptr), b.takeOperand(val)
	b.updateByPtr(p, addr, pointee, prevDest,
		func(Value) Value { return symbolicOrNil(v) },
		symbolicOrNil,
	)
}

// AtomicCompareExchange stores src if the current value equals old and
// assigns the previous value with the success flag to prevDest.
func (b *Backend) AtomicCompareExchange(ptr OperandRef, addr uint64, pointee TypeID, old, src OperandRef, prevDest PlaceRef) {
	p, o, s := b.takeOperand(ptr), b.takeOperand(old), b.takeOperand(src)
	var eq Value
	b.updateByPtr(p, addr, pointee, prevDest,
		func(current Value) Value {
			values := b.symbolic(current, o, s)
			if values == nil {
				return nil
			}
			eq = b.builder.Eq(values[0], values[1])
			return b.builder.IfThenElse(eq, values[2], values[0])
		},
		func(current Value) Value {
			if eq == nil {
				return nil
			}
			return NewTupleValue(b.retriever.Retrieve(current), eq)
		},
	)
}

// AtomicBinaryOp applies op to the value pointed to by ptr and src, and
// assigns the previous value to prevDest.
func (b *Backend) AtomicBinaryOp(ptr OperandRef, addr uint64, pointee TypeID, op BinaryOp, src OperandRef, prevDest PlaceRef) {
	p, s := b.takeOperand(ptr), b.takeOperand(src)
	b.updateByPtr(p, addr, pointee, prevDest,
		func(current Value) Value {
			values := b.symbolic(current, s)
			if values == nil {
				return nil
			}
			return b.builder.BinaryOp(op, values[0], values[1])
		},
		symbolicOrNil,
	)
}

// AtomicFence has no effect on a sequential execution.
func (b *Backend) AtomicFence() {}

func symbolicOrNil(v Value) Value {
	if IsSymbolic(v) {
		return v
	}
	return nil
}

// Annotations

// DebugInfo attaches a debug message to the next step.
func (b *Backend) DebugInfo(info string) { b.debug = info }

// PushTag adds a tag attached to every following step.
func (b *Backend) PushTag(tag string) { b.tags = append(b.tags, tag) }

// PopTag removes the most recently pushed tag.
func (b *Backend) PopTag() {
	if len(b.tags) == 0 {
		log.Printf("[backend] pop of empty tag stack")
		return
	}
	b.tags = b.tags[:len(b.tags)-1]
}

// backendHandler forwards records to the handler of the backend's Logger
// at the time of the record.
type backendHandler struct {
	b     *Backend
	attrs []slog.Attr
	group string
}

func (h *backendHandler) handler() slog.Handler {
	var l slog.Handler = h.b.Logger.Handler()
	if h.group != "" {
		l = l.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		l = l.WithAttrs(h.attrs)
	}
	return l
}

func (h *backendHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.b.Logger != nil && h.handler().Enabled(ctx, level)
}

func (h *backendHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler().Handle(ctx, r)
}

func (h *backendHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &backendHandler{b: h.b, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...), group: h.group}
}

func (h *backendHandler) WithGroup(name string) slog.Handler {
	return &backendHandler{b: h.b, attrs: h.attrs, group: name}
}

type memoryFunc func(addr, size uint64) []byte

func (fn memoryFunc) ReadMemory(addr, size uint64) []byte { return fn(addr, size) }

type solverFunc func([]Constraint) (SolveResult, Model, error)

func (fn solverFunc) Check(constraints []Constraint) (SolveResult, Model, error) {
	return fn(constraints)
}

type writerFunc func(p []byte) (int, error)

func (fn writerFunc) Write(p []byte) (int, error) { return fn(p) }
