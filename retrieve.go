package leaf

import (
	"unsafe"
)

// MemoryReader reads the concrete memory of the running program.
type MemoryReader interface {
	ReadMemory(addr, size uint64) []byte
}

// ProcessMemory reads memory of the current process. The instrumented
// program runs in the same address space as the engine.
type ProcessMemory struct{}

// ReadMemory returns a copy of size bytes at addr.
func (ProcessMemory) ReadMemory(addr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	return append([]byte(nil), src...)
}

// Retriever replaces the place-derived & lazy parts of a value with their
// contents so that the result can be handed to a solver.
type Retriever struct {
	types  *TypeManager
	memory MemoryReader
}

// NewRetriever returns a new instance of Retriever.
func NewRetriever(types *TypeManager, memory MemoryReader) *Retriever {
	return &Retriever{types: types, memory: memory}
}

// Retrieve returns v without raw, porter, ref, len or pointer metadata nodes.
func (r *Retriever) Retrieve(v Value) Value {
	return WalkValue(r, v)
}

// Visit implements ValueVisitor.
func (r *Retriever) Visit(v Value) (Value, ValueVisitor) {
	switch v := v.(type) {
	case *RawValue:
		return r.readRaw(v.Addr, v.TypeID, v.Type), nil
	case *PorterValue:
		return r.Retrieve(r.compose(v.Addr, v.TypeID, v.Size, v.Entries)), nil
	case *PartialExpr:
		return r.Retrieve(r.compose(v.Porter.Addr, v.Porter.TypeID, v.Porter.Size, v.Porter.Entries)), nil
	case *RefExpr:
		return r.Retrieve(r.addrs(v.Place)), nil
	case *LenExpr:
		return r.Retrieve(r.lens(v.Place)), nil
	case *PtrMetadataExpr:
		return r.Retrieve(r.metadata(r.Retrieve(v.Source))), nil
	case *UnaryExpr:
		if v.Op == OpPtrMetadata {
			return r.Retrieve(r.metadata(r.Retrieve(v.Operand))), nil
		}
	}
	return v, r
}

// readRaw reads a concrete value of the given type from memory.
func (r *Retriever) readRaw(addr uint64, id TypeID, t *ValueType) Value {
	if t != nil {
		return r.readPrimitive(addr, *t)
	}

	info, ok := r.types.Get(id)
	if !ok {
		fatalf(ErrTypeNotFound, "read of %s at 0x%x", id, addr)
	}
	if t, ok := info.PrimitiveType(); ok {
		return r.readPrimitive(addr, t)
	} else if info.PointeeID != 0 {
		ptr := r.readPrimitive(addr, UsizeType())
		if info.Size == 2*PointerWidth/8 {
			meta := r.readPrimitive(addr+PointerWidth/8, UsizeType())
			return &FatPtrValue{Addr: NewAddrConst(ptr.Uint64()), Metadata: meta, TypeID: id}
		}
		return NewAddrConst(ptr.Uint64())
	} else if info.Size == 0 {
		return NewZSTConst()
	}

	variant := 0
	if info.Tag != nil {
		tagType, ok := ParseValueType(info.Tag.Prim)
		assert(ok, "invalid tag type: %q", info.Tag.Prim)
		variant = int(r.readPrimitive(addr+info.Tag.Offset, tagType).Uint64())
	}
	v, ok := info.Variant(variant)
	if !ok {
		fatalf(ErrTypeNotFound, "variant %d of %s", variant, id)
	}

	fields := r.types.Fields(id, variant)
	values := make([]Value, len(fields))
	for i, f := range fields {
		values[i] = r.readRaw(addr+f.Offset, f.TypeID, nil)
	}

	switch {
	case v.Fields.Kind == FieldsArray:
		return NewArrayValue(values...)
	case info.Tag != nil:
		return &AdtValue{Kind: AdtEnum, Variant: variant, Fields: values}
	case v.Fields.Kind == FieldsUnion:
		return &AdtValue{Kind: AdtUnion, Fields: values}
	default:
		return &AdtValue{Kind: AdtStruct, Fields: values}
	}
}

// readPrimitive reads a little-endian primitive from memory.
func (r *Retriever) readPrimitive(addr uint64, t ValueType) *ConstValue {
	size := uint64(t.Width+7) / 8
	buf := r.memory.ReadMemory(addr, size)
	assert(uint64(len(buf)) == size, "short read at 0x%x: %d < %d", addr, len(buf), size)
	return DecodePrimitive(buf, t)
}

// compose builds the value of a porter from memory and its symbolic entries.
func (r *Retriever) compose(addr uint64, id TypeID, size uint64, entries []PorterEntry) Value {
	if len(entries) == 0 {
		return r.readRaw(addr, id, nil)
	}
	if e := entries[0]; len(entries) == 1 && e.Offset == 0 {
		if esize, ok := r.types.SizeOf(e.TypeID); (ok && esize == size) || e.TypeID == id {
			return e.Value
		} else if t, ok := TypeOf(e.Value); ok && e.TypeID == 0 && uint64(t.Width+7)/8 == size {
			return e.Value // untyped primitive region
		}
	}

	info, ok := r.types.Get(id)
	if !ok || len(info.Variants) == 0 {
		fatalf(ErrUnsupported, "partially symbolic value of %s at 0x%x", id, addr)
	}
	assert(info.Tag == nil, "partially symbolic enum: %s", id)

	fields := r.types.Fields(id, info.Variants[0].Index)
	values := make([]Value, len(fields))
	for i, f := range fields {
		fsize, _ := r.types.SizeOf(f.TypeID)
		var sub []PorterEntry
		for _, e := range entries {
			if e.Offset >= f.Offset && e.Offset < f.Offset+fsize {
				sub = append(sub, PorterEntry{Offset: e.Offset - f.Offset, TypeID: e.TypeID, Value: e.Value})
			}
		}
		values[i] = r.compose(addr+f.Offset, f.TypeID, fsize, sub)
	}

	if info.Variants[0].Fields.Kind == FieldsArray {
		return NewArrayValue(values...)
	}
	return &AdtValue{Kind: AdtStruct, Fields: values}
}

// addrs returns a select over the addresses of a symbolic place's candidates.
func (r *Retriever) addrs(sp *SymPlace) Value {
	candidates := make([]Value, len(sp.Candidates))
	for i, c := range sp.Candidates {
		switch c := c.(type) {
		case *Location:
			candidates[i] = NewAddrConst(c.Addr)
		case *SymPlace:
			candidates[i] = r.addrs(c)
		}
	}
	return NewSelectExpr(sp.Index, candidates)
}

// lens returns a select over the lengths of a symbolic place's candidates.
func (r *Retriever) lens(sp *SymPlace) Value {
	candidates := make([]Value, len(sp.Candidates))
	for i, c := range sp.Candidates {
		switch c := c.(type) {
		case *Location:
			candidates[i] = NewUsizeConst(r.arrayLen(c))
		case *SymPlace:
			candidates[i] = r.lens(c)
		}
	}
	return NewSelectExpr(sp.Index, candidates)
}

func (r *Retriever) arrayLen(loc *Location) uint64 {
	info, ok := r.types.Get(loc.TypeID)
	if !ok || len(info.Variants) == 0 || info.Variants[0].Fields.Kind != FieldsArray {
		fatalf(ErrUnsupported, "length of non-array place %s", loc)
	}
	return info.Variants[0].Fields.Len
}

// metadata returns the pointer metadata of a retrieved pointer value.
func (r *Retriever) metadata(v Value) Value {
	switch v := v.(type) {
	case *FatPtrValue:
		return v.Metadata
	case *SelectExpr:
		candidates := make([]Value, len(v.Candidates))
		for i, c := range v.Candidates {
			candidates[i] = r.metadata(c)
		}
		return NewSelectExpr(v.Index, candidates)
	case *ConstValue:
		if v.Kind == ConstAddr {
			return NewZSTConst()
		}
	}
	fatalf(ErrUnsupported, "pointer metadata of %s", v)
	return nil
}
