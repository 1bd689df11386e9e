// Package pri is the runtime interface called by instrumented programs.
//
// Every function forwards to the current runtime. Calls made while another
// call of the same runtime is in progress, or before Init, have no effect
// and return zero values.
package pri

import (
	"log"
	"sync/atomic"

	"github.com/benbjohnson/leaf"
	"github.com/benbjohnson/leaf/z3"
	"github.com/pkg/errors"
)

// Runtime is an engine instance guarded against re-entrant calls.
type Runtime struct {
	backend *leaf.Backend
	guard   guard
	solver  *z3.Solver
}

// NewRuntime returns a runtime forwarding to b.
func NewRuntime(b *leaf.Backend) *Runtime {
	return &Runtime{backend: b}
}

// Backend returns the underlying engine instance.
func (rt *Runtime) Backend() *leaf.Backend { return rt.backend }

// Close flushes the outputs of the engine and releases the solver.
func (rt *Runtime) Close() error {
	var err error
	rt.do(func(b *leaf.Backend) { err = b.Shutdown() })
	if rt.solver != nil {
		if e := rt.solver.Close(); e != nil && err == nil {
			err = e
		}
		rt.solver = nil
	}
	return err
}

// do runs fn on the backend unless a call is already in progress.
func (rt *Runtime) do(fn func(b *leaf.Backend)) bool {
	if !rt.guard.enter() {
		return false
	}
	defer rt.guard.leave()
	fn(rt.backend)
	return true
}

var current atomic.Pointer[Runtime]

// Current returns the runtime used by the package functions.
func Current() *Runtime { return current.Load() }

// Install replaces the runtime used by the package functions and returns
// the previous one.
func Install(rt *Runtime) *Runtime { return current.Swap(rt) }

// Init creates the default runtime from the configuration file named by
// LEAF_CONFIG and the environment. Type layouts are loaded from the file
// named in the configuration and solving uses Z3.
func Init() error {
	config, err := leaf.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	types := leaf.NewTypeManager()
	if config.Types != "" {
		if err := types.LoadFile(config.Types); err != nil {
			return err
		}
	}

	b := leaf.NewBackend(config, types)
	rt := NewRuntime(b)
	if config.Trace.Solve {
		rt.solver = z3.NewSolver()
		b.Solver = rt.solver
	}

	if prev := Install(rt); prev != nil {
		log.Printf("[pri] runtime replaced by Init")
	}
	return nil
}

// Shutdown writes the outputs of the current runtime and removes it.
func Shutdown() error {
	rt := Install(nil)
	if rt == nil {
		return nil
	}
	return errors.Wrap(rt.Close(), "shutdown")
}

func do(fn func(b *leaf.Backend)) {
	if rt := Current(); rt != nil {
		rt.do(fn)
	}
}

func call[T any](fn func(b *leaf.Backend) T) T {
	var v T
	do(func(b *leaf.Backend) { v = fn(b) })
	return v
}

func RefPlaceReturnValue() leaf.PlaceRef {
	return call(func(b *leaf.Backend) leaf.PlaceRef { return b.RefPlaceReturnValue() })
}

func RefPlaceArgument(index int) leaf.PlaceRef {
	return call(func(b *leaf.Backend) leaf.PlaceRef { return b.RefPlaceArgument(index) })
}

func RefPlaceLocal(index int) leaf.PlaceRef {
	return call(func(b *leaf.Backend) leaf.PlaceRef { return b.RefPlaceLocal(index) })
}

func RefPlaceDeref(ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.RefPlaceDeref(ref) })
}

func RefPlaceField(ref leaf.PlaceRef, field int) {
	do(func(b *leaf.Backend) { b.RefPlaceField(ref, field) })
}

func RefPlaceIndex(ref, index leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.RefPlaceIndex(ref, index) })
}

func RefPlaceConstantIndex(ref leaf.PlaceRef, offset, minLen uint64, fromEnd bool) {
	do(func(b *leaf.Backend) { b.RefPlaceConstantIndex(ref, offset, minLen, fromEnd) })
}

func RefPlaceSubslice(ref leaf.PlaceRef, from, to uint64, fromEnd bool) {
	do(func(b *leaf.Backend) { b.RefPlaceSubslice(ref, from, to, fromEnd) })
}

func RefPlaceDowncast(ref leaf.PlaceRef, variant int) {
	do(func(b *leaf.Backend) { b.RefPlaceDowncast(ref, variant) })
}

func RefPlaceOpaqueCast(ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.RefPlaceOpaqueCast(ref) })
}

func RefPlaceSubtype(ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.RefPlaceSubtype(ref) })
}

func SetPlaceAddress(ref leaf.PlaceRef, addr uint64) {
	do(func(b *leaf.Backend) { b.SetPlaceAddress(ref, addr) })
}

func SetPlaceTypeID(ref leaf.PlaceRef, id leaf.TypeID) {
	do(func(b *leaf.Backend) { b.SetPlaceTypeID(ref, id) })
}

func SetPlaceTypeBool(ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.SetPlaceTypeBool(ref) })
}

func SetPlaceTypeChar(ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.SetPlaceTypeChar(ref) })
}

func SetPlaceTypeInt(ref leaf.PlaceRef, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.SetPlaceTypeInt(ref, width, signed) })
}

func SetPlaceTypeFloat(ref leaf.PlaceRef, ebits, sbits uint) {
	do(func(b *leaf.Backend) { b.SetPlaceTypeFloat(ref, ebits, sbits) })
}

func SetPlaceSize(ref leaf.PlaceRef, size uint64) {
	do(func(b *leaf.Backend) { b.SetPlaceSize(ref, size) })
}

func RefOperandCopy(ref leaf.PlaceRef) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandCopy(ref) })
}

func RefOperandMove(ref leaf.PlaceRef) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandMove(ref) })
}

func RefOperandConst(c *leaf.ConstValue) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConst(c) })
}

func RefOperandConstBool(v bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstBool(v) })
}

func RefOperandConstChar(r rune) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstChar(r) })
}

func RefOperandConstStr(s string) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstStr(s) })
}

func RefOperandConstByteStr(p []byte) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstByteStr(p) })
}

func RefOperandConstAddr(addr uint64) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstAddr(addr) })
}

func RefOperandConstFunc(id leaf.FuncID) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstFunc(id) })
}

func RefOperandConstZST() leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstZST() })
}

func RefOperandConstInt(v uint64, width uint, signed bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstInt(v, width, signed) })
}

func RefOperandConstIntBits(hi, lo uint64, width uint, signed bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef {
		return b.RefOperandConstIntBits(leaf.IntBits{Hi: hi, Lo: lo}, width, signed)
	})
}

func RefOperandConstFloat(bits uint64, ebits, sbits uint) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.RefOperandConstFloat(bits, ebits, sbits) })
}

func NewSymValue(shadow *leaf.ConstValue) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.NewSymValue(shadow) })
}

func NewSymValueBool(v bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.NewSymValueBool(v) })
}

func NewSymValueChar(r rune) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.NewSymValueChar(r) })
}

func NewSymValueInt(v uint64, width uint, signed bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.NewSymValueInt(v, width, signed) })
}

func NewSymValueIntBits(hi, lo uint64, width uint, signed bool) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef {
		return b.NewSymValueIntBits(leaf.IntBits{Hi: hi, Lo: lo}, width, signed)
	})
}

func NewSymValueFloat(bits uint64, ebits, sbits uint) leaf.OperandRef {
	return call(func(b *leaf.Backend) leaf.OperandRef { return b.NewSymValueFloat(bits, ebits, sbits) })
}

func AssignUse(dest leaf.PlaceRef, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignUse(dest, operand) })
}

func AssignRepeat(dest leaf.PlaceRef, operand leaf.OperandRef, count uint64) {
	do(func(b *leaf.Backend) { b.AssignRepeat(dest, operand, count) })
}

func AssignRef(dest, ref leaf.PlaceRef, mutable bool) {
	do(func(b *leaf.Backend) { b.AssignRef(dest, ref, mutable) })
}

func AssignThreadLocalRef(dest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AssignThreadLocalRef(dest) })
}

func AssignRawPtrOf(dest, ref leaf.PlaceRef, mutable bool) {
	do(func(b *leaf.Backend) { b.AssignRawPtrOf(dest, ref, mutable) })
}

func AssignLen(dest, ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AssignLen(dest, ref) })
}

func AssignCast(dest leaf.PlaceRef, kind leaf.CastKind, operand leaf.OperandRef, target leaf.CastTarget) {
	do(func(b *leaf.Backend) { b.AssignCast(dest, kind, operand, target) })
}

func AssignCastChar(dest leaf.PlaceRef, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignCastChar(dest, operand) })
}

func AssignCastInt(dest leaf.PlaceRef, operand leaf.OperandRef, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.AssignCastInt(dest, operand, width, signed) })
}

func AssignCastFloat(dest leaf.PlaceRef, operand leaf.OperandRef, ebits, sbits uint) {
	do(func(b *leaf.Backend) { b.AssignCastFloat(dest, operand, ebits, sbits) })
}

func AssignCastExposeProvenance(dest leaf.PlaceRef, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignCastExposeProvenance(dest, operand) })
}

func AssignCastWithExposedProvenance(dest leaf.PlaceRef, operand leaf.OperandRef, id leaf.TypeID) {
	do(func(b *leaf.Backend) { b.AssignCastWithExposedProvenance(dest, operand, id) })
}

func AssignCastToPtr(dest leaf.PlaceRef, operand leaf.OperandRef, id leaf.TypeID) {
	do(func(b *leaf.Backend) { b.AssignCastToPtr(dest, operand, id) })
}

func AssignCastUnsize(dest leaf.PlaceRef, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignCastUnsize(dest, operand) })
}

func AssignCastSizedDyn(dest leaf.PlaceRef, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignCastSizedDyn(dest, operand) })
}

func AssignCastTransmute(dest leaf.PlaceRef, operand leaf.OperandRef, id leaf.TypeID) {
	do(func(b *leaf.Backend) { b.AssignCastTransmute(dest, operand, id) })
}

func AssignBinaryOp(dest leaf.PlaceRef, op leaf.BinaryOp, lhs, rhs leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignBinaryOp(dest, op, lhs, rhs) })
}

func AssignOffset(dest leaf.PlaceRef, ptr, n leaf.OperandRef, pointee leaf.TypeID) {
	do(func(b *leaf.Backend) { b.AssignOffset(dest, ptr, n, pointee) })
}

func AssignUnaryOp(dest leaf.PlaceRef, op leaf.UnaryOp, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignUnaryOp(dest, op, operand) })
}

func SetDiscriminant(dest leaf.PlaceRef, variant int) {
	do(func(b *leaf.Backend) { b.SetDiscriminant(dest, variant) })
}

func AssignDiscriminant(dest, ref leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AssignDiscriminant(dest, ref) })
}

func AssignAggregateArray(dest leaf.PlaceRef, items []leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateArray(dest, items) })
}

func AssignAggregateTuple(dest leaf.PlaceRef, fields []leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateTuple(dest, fields) })
}

func AssignAggregateStruct(dest leaf.PlaceRef, fields []leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateStruct(dest, fields) })
}

func AssignAggregateEnum(dest leaf.PlaceRef, fields []leaf.OperandRef, variant int) {
	do(func(b *leaf.Backend) { b.AssignAggregateEnum(dest, fields, variant) })
}

func AssignAggregateUnion(dest leaf.PlaceRef, active int, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateUnion(dest, active, operand) })
}

func AssignAggregateClosure(dest leaf.PlaceRef, upvars []leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateClosure(dest, upvars) })
}

func AssignAggregateCoroutine(dest leaf.PlaceRef, upvars []leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssignAggregateCoroutine(dest, upvars) })
}

func AssignAggregateRawPtr(dest leaf.PlaceRef, data, metadata leaf.OperandRef, mutable bool) {
	do(func(b *leaf.Backend) { b.AssignAggregateRawPtr(dest, data, metadata, mutable) })
}

func AssignShallowInitBox(dest leaf.PlaceRef, operand leaf.OperandRef, boxed leaf.TypeID) {
	do(func(b *leaf.Backend) { b.AssignShallowInitBox(dest, operand, boxed) })
}

func TakeBranchTrue(info leaf.SwitchInfo) {
	do(func(b *leaf.Backend) { b.TakeBranchTrue(info) })
}

func TakeBranchFalse(info leaf.SwitchInfo) {
	do(func(b *leaf.Backend) { b.TakeBranchFalse(info) })
}

func TakeBranchOwBool(info leaf.SwitchInfo) {
	do(func(b *leaf.Backend) { b.TakeBranchOwBool(info) })
}

func TakeBranchInt(info leaf.SwitchInfo, value uint64, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.TakeBranchInt(info, value, width, signed) })
}

func TakeBranchOwInt(info leaf.SwitchInfo, nonValues []uint64, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.TakeBranchOwInt(info, nonValues, width, signed) })
}

func TakeBranchIntBits(info leaf.SwitchInfo, hi, lo uint64, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.TakeBranchIntBits(info, leaf.IntBits{Hi: hi, Lo: lo}, width, signed) })
}

func TakeBranchOwIntBits(info leaf.SwitchInfo, nonValues []leaf.IntBits, width uint, signed bool) {
	do(func(b *leaf.Backend) { b.TakeBranchOwIntBits(info, nonValues, width, signed) })
}

func TakeBranchChar(info leaf.SwitchInfo, value rune) {
	do(func(b *leaf.Backend) { b.TakeBranchChar(info, value) })
}

func TakeBranchOwChar(info leaf.SwitchInfo, nonValues []rune) {
	do(func(b *leaf.Backend) { b.TakeBranchOwChar(info, nonValues) })
}

func AssertBoundsCheck(info leaf.AssertionInfo, length, index leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertBoundsCheck(info, length, index) })
}

func AssertOverflow(info leaf.AssertionInfo, op leaf.BinaryOp, lhs, rhs leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertOverflow(info, op, lhs, rhs) })
}

func AssertOverflowNeg(info leaf.AssertionInfo, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertOverflowNeg(info, operand) })
}

func AssertDivByZero(info leaf.AssertionInfo, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertDivByZero(info, operand) })
}

func AssertRemByZero(info leaf.AssertionInfo, operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertRemByZero(info, operand) })
}

func AssertMisalignedPtrDeref(info leaf.AssertionInfo, required, found leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AssertMisalignedPtrDeref(info, required, found) })
}

func BeforeCallFunc(fn leaf.OperandRef, args []leaf.OperandRef, tupled bool) {
	do(func(b *leaf.Backend) { b.BeforeCallFunc(fn, args, tupled) })
}

func EnterFunc(fn leaf.FuncID, args []leaf.PlaceRef, ret leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.EnterFunc(fn, args, ret) })
}

func EnterFuncTupled(fn leaf.FuncID, args []leaf.PlaceRef, ret leaf.PlaceRef, tupledIndex int, tupleType leaf.TypeID) {
	do(func(b *leaf.Backend) { b.EnterFuncTupled(fn, args, ret, tupledIndex, tupleType) })
}

func ReturnFromFunc() {
	do(func(b *leaf.Backend) { b.ReturnFromFunc() })
}

func OverrideReturnValue(operand leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.OverrideReturnValue(operand) })
}

func AfterCallFunc(dest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AfterCallFunc(dest) })
}

func MemoryLoad(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, dest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.MemoryLoad(ptr, addr, pointee, dest) })
}

func MemoryStore(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, src leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.MemoryStore(ptr, addr, pointee, src) })
}

func MemoryCopy(src, dst leaf.OperandRef, srcAddr, dstAddr uint64, elem leaf.TypeID, count uint64) {
	do(func(b *leaf.Backend) { b.MemoryCopy(src, dst, srcAddr, dstAddr, elem, count) })
}

func AtomicLoad(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, dest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AtomicLoad(ptr, addr, pointee, dest) })
}

func AtomicStore(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, src leaf.OperandRef) {
	do(func(b *leaf.Backend) { b.AtomicStore(ptr, addr, pointee, src) })
}

func AtomicExchange(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, val leaf.OperandRef, prevDest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AtomicExchange(ptr, addr, pointee, val, prevDest) })
}

func AtomicCompareExchange(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, old, src leaf.OperandRef, prevDest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AtomicCompareExchange(ptr, addr, pointee, old, src, prevDest) })
}

func AtomicBinaryOp(ptr leaf.OperandRef, addr uint64, pointee leaf.TypeID, op leaf.BinaryOp, src leaf.OperandRef, prevDest leaf.PlaceRef) {
	do(func(b *leaf.Backend) { b.AtomicBinaryOp(ptr, addr, pointee, op, src, prevDest) })
}

func AtomicFence() {
	do(func(b *leaf.Backend) { b.AtomicFence() })
}

func DebugInfo(info string) {
	do(func(b *leaf.Backend) { b.DebugInfo(info) })
}

func PushTag(tag string) {
	do(func(b *leaf.Backend) { b.PushTag(tag) })
}

func PopTag() {
	do(func(b *leaf.Backend) { b.PopTag() })
}
