package leaf

import (
	"log"
)

// calleeKind records what is known about the function called from a frame.
type calleeKind int

const (
	calleeUnknown = calleeKind(iota)
	calleeInternal
	calleeExternal
)

// callFrame holds the data of a single active call.
type callFrame struct {
	// Whether the function called by this frame was the expected one.
	callee calleeKind
	// Whether all arguments of that call were concrete.
	calleeArgsConcrete bool

	// Return value forced by OverrideReturnValue. For an internal call it is
	// consumed when the frame is popped. For an external call it is consumed
	// by the caller when the result is stored.
	override Value

	args                []*Place
	returnValueMetadata *PlaceMetadata

	// Return value address of the caller, restored when the frame is popped.
	callerReturnAddr    uint64
	callerHasReturnAddr bool
}

// callInfo is passed from the call site to the entered function.
type callInfo struct {
	fn     FuncID
	args   []Value
	tupled bool
}

// CallStackManager mirrors the call stack of the program. It moves argument
// values into the callee and return values back to the caller, and detects
// calls into uninstrumented code.
type CallStackManager struct {
	state  *State
	config CallConfig

	// Configuration of scratch states used for untupling.
	symPlace SymPlaceConfig

	stack []*callFrame

	latestCall          *callInfo
	argsMetadata        []*PlaceMetadata
	returnValueMetadata *PlaceMetadata
	latestReturned      Value
}

// NewCallStackManager returns a new instance of CallStackManager.
func NewCallStackManager(state *State, config CallConfig, symPlace SymPlaceConfig) *CallStackManager {
	return &CallStackManager{state: state, config: config, symPlace: symPlace}
}

// Depth returns the number of active frames.
func (m *CallStackManager) Depth() int { return len(m.stack) }

func (m *CallStackManager) top() *callFrame {
	if len(m.stack) == 0 {
		fatalf(ErrCallStack, "call stack is empty")
	}
	return m.stack[len(m.stack)-1]
}

// PrepareForCall records the expected callee & argument values before
// control is transferred to the callee.
func (m *CallStackManager) PrepareForCall(fn FuncID, args []Value, tupled bool) {
	if len(m.argsMetadata) != 0 || m.returnValueMetadata != nil {
		log.Printf("[call] discarding stale local metadata: args=%d", len(m.argsMetadata))
		m.argsMetadata, m.returnValueMetadata = nil, nil
	}
	m.latestCall = &callInfo{fn: fn, args: args, tupled: tupled}
}

// SetLocalMetadata sets the metadata of an argument or the return value of
// the function about to be entered. Other locals are ignored.
func (m *CallStackManager) SetLocalMetadata(local Local, meta PlaceMetadata) {
	switch local.Kind {
	case LocalReturnValue:
		m.returnValueMetadata = &meta
	case LocalArgument:
		assert(local.Index >= 1, "invalid argument index: %d", local.Index)
		i := local.Index - 1
		for len(m.argsMetadata) <= i {
			m.argsMetadata = append(m.argsMetadata, nil)
		}
		m.argsMetadata[i] = &meta
	}
}

// TryUntupleArgument replaces the tupled argument at the 1-based index with
// one argument per field of the tuple type. It is a no-op unless the
// pending call was prepared with tupled arguments.
func (m *CallStackManager) TryUntupleArgument(index int, tupleType TypeID) {
	call := m.latestCall
	if call == nil || !call.tupled {
		return
	}
	i := index - 1
	if i < 0 || i >= len(call.args) {
		fatalf(ErrCallStack, "tupled argument index out of range: %d of %d", index, len(call.args))
	}

	var meta *PlaceMetadata
	if i < len(m.argsMetadata) {
		meta = m.argsMetadata[i]
	}
	fields := m.untuple(call.args[i], tupleType, meta)

	args := make([]Value, 0, len(call.args)-1+len(fields))
	args = append(args, call.args[:i]...)
	args = append(args, fields...)
	args = append(args, call.args[i+1:]...)
	call.args, call.tupled = args, false
}

// untuple splits a tuple value into its fields by writing it to a pseudo
// place of an isolated state and reading each field back.
func (m *CallStackManager) untuple(v Value, tupleType TypeID, meta *PlaceMetadata) []Value {
	types := m.state.Types()
	fields := types.Fields(tupleType, 0)

	if adt, ok := v.(*AdtValue); ok {
		assert(len(adt.Fields) == len(fields), "untuple: field count mismatch: %d != %d", len(adt.Fields), len(fields))
		return append([]Value(nil), adt.Fields...)
	}

	// Keep concrete reads pointing at the memory they came from.
	addr := uint64(1)
	switch v := v.(type) {
	case *RawValue:
		addr = v.Addr
	case *PorterValue:
		addr = v.Addr
	default:
		if meta != nil && meta.HasAddr {
			addr = meta.Addr
		}
	}

	scratch := NewState(types, m.symPlace, nil)
	tupled := NewPlace(ArgumentLocal(1))
	tupled.Meta.SetAddr(addr)
	tupled.Meta.SetTypeID(tupleType)
	scratch.SetPlace(tupled, v)

	values := make([]Value, len(fields))
	for i, f := range fields {
		p := NewPlace(ArgumentLocal(1))
		p.Meta = tupled.Meta
		p.Project(&Projection{Kind: ProjField, Field: i})
		fm := p.LastMeta()
		fm.SetAddr(addr + f.Offset)
		fm.SetTypeID(f.TypeID)
		if info, ok := types.Get(f.TypeID); ok {
			fm.SetSize(info.Size)
			if t, ok := info.PrimitiveType(); ok {
				fm.SetType(t)
			}
		}

		fv, ok := scratch.TryTakePlace(p)
		if !ok {
			fatalf(ErrCallStack, "cannot untuple field %d of %s", i, tupleType)
		}
		values[i] = fv
	}
	return values
}

// NotifyEnter is called at the entry of an instrumented function. A callee
// other than the expected one means the call went through external code.
func (m *CallStackManager) NotifyEnter(fn FuncID) {
	args := make([]*Place, len(m.argsMetadata))
	for i, meta := range m.argsMetadata {
		if meta == nil {
			fatalf(ErrMissingArgMetadata, "argument %d of %d", i+1, fn)
		}
		p := NewPlace(ArgumentLocal(i + 1))
		p.Meta = *meta
		args[i] = p
	}
	frame := &callFrame{args: args, returnValueMetadata: m.returnValueMetadata}
	m.argsMetadata, m.returnValueMetadata = nil, nil

	call := m.latestCall
	m.latestCall = nil
	if call == nil {
		if len(m.stack) != 0 {
			log.Printf("[call] no call info for entrance into %d: external code called back", fn)
		}
		m.push(frame, nil)
		return
	}

	external := call.fn != fn
	if len(m.stack) != 0 {
		parent := m.top()
		if external {
			parent.callee = calleeExternal
			parent.calleeArgsConcrete = allConcrete(call.args)
		} else {
			parent.callee = calleeInternal
		}
	}

	if external {
		log.Printf("[call] unexpected callee: expected=%d actual=%d", call.fn, fn)
		m.push(frame, nil)
		return
	}

	if len(call.args) != len(args) {
		fatalf(ErrCallStack, "inconsistent number of arguments: %d != %d", len(call.args), len(args))
	}
	m.push(frame, call.args)
}

// push adds a frame and writes argument values into its argument places.
func (m *CallStackManager) push(frame *callFrame, values []Value) {
	frame.callerReturnAddr, frame.callerHasReturnAddr = m.state.ReturnValueAddr()
	m.state.SetReturnValueAddr(0, false)

	for i, v := range values {
		m.state.SetPlace(frame.args[i], v)
	}
	m.stack = append(m.stack, frame)
}

// PopStackFrame removes the current frame when its function returns. The
// argument locals are reclaimed and the return value is kept for the caller.
func (m *CallStackManager) PopStackFrame() {
	frame := m.top()
	m.stack = m.stack[:len(m.stack)-1]
	m.latestReturned = nil

	for _, p := range frame.args {
		m.state.TryTakePlace(p)
	}

	ret := NewPlace(ReturnValueLocal())
	if frame.returnValueMetadata != nil {
		ret.Meta = *frame.returnValueMetadata
	}
	if v, ok := m.state.TryTakePlace(ret); ok {
		m.latestReturned = v
	}

	if frame.override != nil {
		if IsSymbolic(m.latestReturned) {
			log.Printf("[call] return value overridden while an actual value was available: %s", m.latestReturned)
		}
		m.latestReturned = frame.override
	}

	m.state.SetReturnValueAddr(frame.callerReturnAddr, frame.callerHasReturnAddr)
}

// FinalizeCall stores the result of the latest call in dest.
func (m *CallStackManager) FinalizeCall(dest *Place) {
	frame := m.top()
	kind, argsConcrete := frame.callee, frame.calleeArgsConcrete
	frame.callee, frame.calleeArgsConcrete = calleeUnknown, false

	// A callee that was never entered is external.
	call := m.latestCall
	m.latestCall = nil
	if kind == calleeUnknown && call != nil {
		argsConcrete = allConcrete(call.args)
	}

	returned := m.latestReturned
	m.latestReturned = nil

	if kind == calleeInternal {
		if returned != nil {
			m.state.SetPlace(dest, returned)
		}
		return
	}
	m.finalizeExternal(frame, dest, argsConcrete)
}

func (m *CallStackManager) finalizeExternal(frame *callFrame, dest *Place, argsConcrete bool) {
	if frame.override != nil {
		log.Printf("[call] using overridden return value of external call: %s", frame.override)
		v := frame.override
		frame.override = nil
		m.state.SetPlace(dest, v)
		return
	}

	switch m.config.ExternalCall {
	case ExternalCallPanic:
		fatalf(ErrExternalCall, "result stored to %s", dest)
	case ExternalCallConcretization:
		m.state.SetPlace(dest, placeholder(dest))
	case ExternalCallOverApproximation:
		fatalf(ErrUnsupported, "over-approximated external call result")
	case ExternalCallOptimisticConcretization:
		if !argsConcrete {
			fatalf(ErrUnsupported, "over-approximated external call result: symbolic arguments")
		}
		m.state.SetPlace(dest, placeholder(dest))
	default:
		fatalf(ErrUnsupported, "external call strategy %s", m.config.ExternalCall)
	}
}

// OverrideReturnValue forces the return value of the current function, or
// of the external function just called from it.
func (m *CallStackManager) OverrideReturnValue(v Value) {
	log.Printf("[call] overriding return value: %s", v)
	m.top().override = v
}

// placeholder returns the concrete value already stored at a place.
func placeholder(p *Place) *RawValue {
	meta := p.LastMeta()
	return &RawValue{Addr: meta.Addr, TypeID: meta.TypeID, Type: meta.Type}
}

func allConcrete(a []Value) bool {
	for _, v := range a {
		if IsSymbolic(v) {
			return false
		}
	}
	return true
}
