package pri

import (
	"sort"
)

// Table maps the wire names of runtime calls to their functions. The
// instrumentation resolves calls by name.
type Table struct {
	fns map[string]interface{}
}

// NewTable returns a table with every runtime call registered.
func NewTable() *Table {
	t := &Table{fns: make(map[string]interface{})}

	// Lifecycle.
	t.Register("init", Init)
	t.Register("shutdown", Shutdown)

	t.Register("ref_place_return_value", RefPlaceReturnValue)
	t.Register("ref_place_argument", RefPlaceArgument)
	t.Register("ref_place_local", RefPlaceLocal)
	t.Register("ref_place_deref", RefPlaceDeref)
	t.Register("ref_place_field", RefPlaceField)
	t.Register("ref_place_index", RefPlaceIndex)
	t.Register("ref_place_constant_index", RefPlaceConstantIndex)
	t.Register("ref_place_subslice", RefPlaceSubslice)
	t.Register("ref_place_downcast", RefPlaceDowncast)
	t.Register("ref_place_opaque_cast", RefPlaceOpaqueCast)
	t.Register("ref_place_subtype", RefPlaceSubtype)
	t.Register("set_place_address", SetPlaceAddress)
	t.Register("set_place_type_id", SetPlaceTypeID)
	t.Register("set_place_type_bool", SetPlaceTypeBool)
	t.Register("set_place_type_char", SetPlaceTypeChar)
	t.Register("set_place_type_int", SetPlaceTypeInt)
	t.Register("set_place_type_float", SetPlaceTypeFloat)
	t.Register("set_place_size", SetPlaceSize)
	t.Register("ref_operand_copy", RefOperandCopy)
	t.Register("ref_operand_move", RefOperandMove)
	t.Register("ref_operand_const", RefOperandConst)
	t.Register("ref_operand_const_bool", RefOperandConstBool)
	t.Register("ref_operand_const_char", RefOperandConstChar)
	t.Register("ref_operand_const_str", RefOperandConstStr)
	t.Register("ref_operand_const_byte_str", RefOperandConstByteStr)
	t.Register("ref_operand_const_addr", RefOperandConstAddr)
	t.Register("ref_operand_const_func", RefOperandConstFunc)
	t.Register("ref_operand_const_zst", RefOperandConstZST)
	t.Register("ref_operand_const_int", RefOperandConstInt)
	t.Register("ref_operand_const_int_bits", RefOperandConstIntBits)
	t.Register("ref_operand_const_float", RefOperandConstFloat)
	t.Register("new_sym_value", NewSymValue)
	t.Register("new_sym_value_bool", NewSymValueBool)
	t.Register("new_sym_value_char", NewSymValueChar)
	t.Register("new_sym_value_int", NewSymValueInt)
	t.Register("new_sym_value_int_bits", NewSymValueIntBits)
	t.Register("new_sym_value_float", NewSymValueFloat)
	t.Register("assign_use", AssignUse)
	t.Register("assign_repeat", AssignRepeat)
	t.Register("assign_ref", AssignRef)
	t.Register("assign_thread_local_ref", AssignThreadLocalRef)
	t.Register("assign_raw_ptr_of", AssignRawPtrOf)
	t.Register("assign_len", AssignLen)
	t.Register("assign_cast", AssignCast)
	t.Register("assign_cast_char", AssignCastChar)
	t.Register("assign_cast_int", AssignCastInt)
	t.Register("assign_cast_float", AssignCastFloat)
	t.Register("assign_cast_expose_provenance", AssignCastExposeProvenance)
	t.Register("assign_cast_with_exposed_provenance", AssignCastWithExposedProvenance)
	t.Register("assign_cast_to_ptr", AssignCastToPtr)
	t.Register("assign_cast_unsize", AssignCastUnsize)
	t.Register("assign_cast_sized_dyn", AssignCastSizedDyn)
	t.Register("assign_cast_transmute", AssignCastTransmute)
	t.Register("assign_binary_op", AssignBinaryOp)
	t.Register("assign_offset", AssignOffset)
	t.Register("assign_unary_op", AssignUnaryOp)
	t.Register("set_discriminant", SetDiscriminant)
	t.Register("assign_discriminant", AssignDiscriminant)
	t.Register("assign_aggregate_array", AssignAggregateArray)
	t.Register("assign_aggregate_tuple", AssignAggregateTuple)
	t.Register("assign_aggregate_struct", AssignAggregateStruct)
	t.Register("assign_aggregate_enum", AssignAggregateEnum)
	t.Register("assign_aggregate_union", AssignAggregateUnion)
	t.Register("assign_aggregate_closure", AssignAggregateClosure)
	t.Register("assign_aggregate_coroutine", AssignAggregateCoroutine)
	t.Register("assign_aggregate_raw_ptr", AssignAggregateRawPtr)
	t.Register("assign_shallow_init_box", AssignShallowInitBox)
	t.Register("take_branch_true", TakeBranchTrue)
	t.Register("take_branch_false", TakeBranchFalse)
	t.Register("take_branch_ow_bool", TakeBranchOwBool)
	t.Register("take_branch_int", TakeBranchInt)
	t.Register("take_branch_ow_int", TakeBranchOwInt)
	t.Register("take_branch_int_bits", TakeBranchIntBits)
	t.Register("take_branch_ow_int_bits", TakeBranchOwIntBits)
	t.Register("take_branch_char", TakeBranchChar)
	t.Register("take_branch_ow_char", TakeBranchOwChar)
	t.Register("assert_bounds_check", AssertBoundsCheck)
	t.Register("assert_overflow", AssertOverflow)
	t.Register("assert_overflow_neg", AssertOverflowNeg)
	t.Register("assert_div_by_zero", AssertDivByZero)
	t.Register("assert_rem_by_zero", AssertRemByZero)
	t.Register("assert_misaligned_ptr_deref", AssertMisalignedPtrDeref)
	t.Register("before_call_func", BeforeCallFunc)
	t.Register("enter_func", EnterFunc)
	t.Register("enter_func_tupled", EnterFuncTupled)
	t.Register("return_from_func", ReturnFromFunc)
	t.Register("override_return_value", OverrideReturnValue)
	t.Register("after_call_func", AfterCallFunc)
	t.Register("memory_load", MemoryLoad)
	t.Register("memory_store", MemoryStore)
	t.Register("memory_copy", MemoryCopy)
	t.Register("atomic_load", AtomicLoad)
	t.Register("atomic_store", AtomicStore)
	t.Register("atomic_exchange", AtomicExchange)
	t.Register("atomic_compare_exchange", AtomicCompareExchange)
	t.Register("atomic_binary_op", AtomicBinaryOp)
	t.Register("atomic_fence", AtomicFence)
	t.Register("debug_info", DebugInfo)
	t.Register("push_tag", PushTag)
	t.Register("pop_tag", PopTag)
	return t
}

// Register registers a function for a given wire name.
// Registering an existing name replaces its function.
func (t *Table) Register(name string, fn interface{}) {
	t.fns[name] = fn
}

// Lookup returns the function registered for name.
func (t *Table) Lookup(name string) (interface{}, bool) {
	fn, ok := t.fns[name]
	return fn, ok
}

// Names returns all registered names in sorted order.
func (t *Table) Names() []string {
	a := make([]string, 0, len(t.fns))
	for name := range t.fns {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// DefaultTable holds all runtime calls of the package.
var DefaultTable = NewTable()
